package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/auth"
	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/notify"
)

type NotificationHandler struct {
	notifier *notify.Service
	log      zerolog.Logger
}

func NewNotificationHandler(notifier *notify.Service, log zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{notifier: notifier, log: log}
}

// userID is the authenticated user, or the userId query parameter when the
// API runs without auth.
func userID(r *http.Request, fallback int64) int64 {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p.UserID
	}
	return fallback
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	requested, _ := queryID(r, "userId")
	uid := userID(r, requested)
	if uid <= 0 {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ns, err := h.notifier.List(r.Context(), uid, limit)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("list notifications")
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if ns == nil {
		ns = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	found, err := h.notifier.MarkRead(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("notification_id", id).Msg("mark notification read")
		writeError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type pushTokenRequest struct {
	UserID   int64  `json:"userId"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (h *NotificationHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var req pushTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	uid := userID(r, req.UserID)
	if uid <= 0 {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	tok, err := h.notifier.RegisterToken(r.Context(), uid, req.Token, req.Platform)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Int64("user_id", uid).Msg("register push token")
		writeError(w, http.StatusInternalServerError, "failed to register token")
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}
