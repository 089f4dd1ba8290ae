package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/storage"
)

// ConnectionCounter reports live socket sessions.
type ConnectionCounter interface {
	Count() int
	CountByRole() map[models.Role]int
}

type StatsHandler struct {
	store storage.Storage
	conns ConnectionCounter
	log   zerolog.Logger
}

func NewStatsHandler(store storage.Storage, conns ConnectionCounter, log zerolog.Logger) *StatsHandler {
	return &StatsHandler{store: store, conns: conns, log: log}
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"service": "dispatchrelay",
	}
	if h.conns != nil {
		resp["connections"] = map[string]interface{}{
			"total":  h.conns.Count(),
			"byRole": h.conns.CountByRole(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("get stats")
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
