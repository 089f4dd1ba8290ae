package route

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shohag/dispatchrelay/internal/geo"
	"github.com/shohag/dispatchrelay/internal/metrics"
)

// Resolver tries each provider in order and falls back to a straight line.
type Resolver struct {
	providers []Provider
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewResolver(log zerolog.Logger, m *metrics.Metrics, providers ...Provider) *Resolver {
	return &Resolver{
		providers: providers,
		metrics:   m,
		log:       log.With().Str("component", "route").Logger(),
	}
}

// Calculate always returns a route.
func (r *Resolver) Calculate(ctx context.Context, origin, dest geo.Point, mode Mode) *Route {
	if origin.Valid() && dest.Valid() {
		for _, p := range r.providers {
			rt, err := p.Route(ctx, origin, dest, mode)
			if err == nil {
				r.metrics.RouteRequest(p.Name(), "ok")
				return rt
			}
			if errors.Is(err, ErrNotConfigured) {
				r.metrics.RouteRequest(p.Name(), "skipped")
				continue
			}
			r.metrics.RouteRequest(p.Name(), "error")
			r.log.Warn().
				Err(err).
				Str("provider", p.Name()).
				Str("mode", string(mode)).
				Msg("route provider failed, trying next")
		}
	} else {
		r.log.Warn().
			Interface("origin", origin).
			Interface("destination", dest).
			Msg("coordinates out of range, using straight line route")
	}

	r.metrics.RouteRequest(StraightLine{}.Name(), "ok")
	return straightLine(origin, dest, mode)
}
