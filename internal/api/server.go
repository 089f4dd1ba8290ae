package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/config"
	"github.com/shohag/dispatchrelay/internal/dispatch"
	"github.com/shohag/dispatchrelay/internal/metrics"
	"github.com/shohag/dispatchrelay/internal/notify"
	"github.com/shohag/dispatchrelay/internal/storage"
)

// Deps are the components the HTTP layer serves.
type Deps struct {
	Store    storage.Storage
	Engine   *dispatch.Engine
	Notifier *notify.Service
	Conns    ConnectionCounter
	Socket   http.Handler
	Metrics  *metrics.Metrics
}

type Server struct {
	cfg    *config.Config
	deps   Deps
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log, s.deps.Metrics))

	trackHandler := NewTrackingHandler(s.deps.Engine, s.log)
	dlvHandler := NewDeliveryHandler(s.deps.Engine, s.log)
	notifHandler := NewNotificationHandler(s.deps.Notifier, s.log)
	statsHandler := NewStatsHandler(s.deps.Store, s.deps.Conns, s.log)

	// Health check, no auth
	r.Get("/health", statsHandler.Health)

	if s.cfg.Metrics.Enabled && s.deps.Metrics != nil {
		r.Handle(s.cfg.Metrics.Path, s.deps.Metrics.Handler())
	}
	if s.deps.Socket != nil {
		r.Handle("/ws", s.deps.Socket)
	}

	r.Route("/api", func(r chi.Router) {
		if s.cfg.Auth.JWTSecret != "" {
			r.Use(AuthMiddleware(s.cfg.Auth.JWTSecret))
		}

		// Tracking
		r.Post("/tracking/location", trackHandler.Location)
		r.Patch("/tracking/status/{deliveryId}", trackHandler.Status)
		r.Get("/tracking/{deliveryId}", trackHandler.Get)
		r.Post("/tracking/initialize/{deliveryId}", trackHandler.Initialize)
		r.Post("/tracking/route/{deliveryId}", trackHandler.Route)

		// Dispatch
		r.Post("/orders/{id}/ready", dlvHandler.Ready)
		r.Get("/deliveries/available", dlvHandler.Available)
		r.Post("/deliveries/{id}/accept", dlvHandler.Accept)
		r.Post("/delivery/reject-assignment", dlvHandler.Reject)
		r.Get("/delivery-partners/{id}/deliveries", dlvHandler.PartnerDeliveries)

		// Notifications
		r.Get("/notifications", notifHandler.List)
		r.Patch("/notifications/{id}/read", notifHandler.MarkRead)
		r.Post("/push/tokens", notifHandler.RegisterToken)

		// Stats
		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
