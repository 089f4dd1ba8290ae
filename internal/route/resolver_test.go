package route

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/dispatchrelay/internal/geo"
	"github.com/shohag/dispatchrelay/internal/metrics"
)

var (
	store    = geo.Point{Lat: 26.66, Lng: 86.21}
	customer = geo.Point{Lat: 26.7012, Lng: 86.2405}
)

type stubProvider struct {
	name  string
	route *Route
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Route(_ context.Context, _, _ geo.Point, _ Mode) (*Route, error) {
	s.calls++
	return s.route, s.err
}

func TestResolver_FirstSuccessfulProviderWins(t *testing.T) {
	first := &stubProvider{name: "a", err: errors.New("boom")}
	second := &stubProvider{name: "b", route: &Route{Provider: "b", DistanceMeters: 1234}}
	third := &stubProvider{name: "c", route: &Route{Provider: "c"}}

	r := NewResolver(zerolog.Nop(), metrics.New(), first, second, third)
	got := r.Calculate(context.Background(), store, customer, ModeDriving)

	assert.Equal(t, "b", got.Provider)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls)
}

func TestResolver_FallsBackToStraightLine(t *testing.T) {
	unconfigured := &stubProvider{name: "a", err: ErrNotConfigured}
	failing := &stubProvider{name: "b", err: errors.New("timeout")}

	r := NewResolver(zerolog.Nop(), nil, unconfigured, failing)
	got := r.Calculate(context.Background(), store, customer, ModeCycling)

	require.NotNil(t, got)
	assert.Equal(t, "straight_line", got.Provider)
	assert.InDelta(t, geo.DistanceKm(store, customer)*1000, got.DistanceMeters, 1e-6)
	assert.InDelta(t, EstimateDuration(got.DistanceMeters, ModeCycling), got.DurationSeconds, 1e-6)
	assert.Len(t, got.Coordinates, 2)
}

func TestResolver_UnreachableDestinationStillRoutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":2010,"message":"Could not find routable point"}}`)
	}))
	defer srv.Close()

	ors := NewOpenRouteService("key", srv.URL, time.Second)
	osrm := NewOSRM("http://127.0.0.1:1", 200*time.Millisecond)
	r := NewResolver(zerolog.Nop(), nil, ors, osrm)

	// Middle of the ocean.
	dest := geo.Point{Lat: -48.8767, Lng: -123.3933}
	got := r.Calculate(context.Background(), store, dest, ModeDriving)

	require.NotNil(t, got)
	assert.Equal(t, "straight_line", got.Provider)
	assert.InDelta(t, geo.DistanceKm(store, dest)*1000, got.DistanceMeters, 1e-6)
}

func TestResolver_InvalidCoordinatesSkipProviders(t *testing.T) {
	p := &stubProvider{name: "a", route: &Route{Provider: "a"}}
	r := NewResolver(zerolog.Nop(), nil, p)

	bad := geo.Point{Lat: 123, Lng: 86}
	got := r.Calculate(context.Background(), store, bad, ModeDriving)

	assert.Equal(t, 0, p.calls)
	assert.Equal(t, "straight_line", got.Provider)
	assert.InDelta(t, geo.DistanceKm(store, bad)*1000, got.DistanceMeters, 1e-6)
}
