package route

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/dispatchrelay/internal/geo"
)

func TestOpenRouteService_ParsesGeoJSON(t *testing.T) {
	var gotPath, gotStart, gotEnd, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotStart = r.URL.Query().Get("start")
		gotEnd = r.URL.Query().Get("end")
		gotKey = r.URL.Query().Get("api_key")
		w.Header().Set("Content-Type", "application/geo+json")
		fmt.Fprint(w, `{"type":"FeatureCollection","features":[{"geometry":{"type":"LineString","coordinates":[[86.21,26.66],[86.22,26.67],[86.2405,26.7012]]},"properties":{"summary":{"distance":5321.4,"duration":812.3}}}]}`)
	}))
	defer srv.Close()

	p := NewOpenRouteService("secret", srv.URL, time.Second)
	r, err := p.Route(context.Background(), store, customer, ModeCycling)
	require.NoError(t, err)

	assert.Equal(t, "/v2/directions/cycling-regular", gotPath)
	assert.Equal(t, "86.210000,26.660000", gotStart)
	assert.Equal(t, "86.240500,26.701200", gotEnd)
	assert.Equal(t, "secret", gotKey)

	assert.Equal(t, "openrouteservice", r.Provider)
	assert.InDelta(t, 5321.4, r.DistanceMeters, 1e-9)
	assert.InDelta(t, 812.3, r.DurationSeconds, 1e-9)
	require.Len(t, r.Coordinates, 3)
	assert.Equal(t, geo.Point{Lat: 26.66, Lng: 86.21}, r.Coordinates[0])

	decoded, err := DecodePolyline(r.Polyline)
	require.NoError(t, err)
	assert.Len(t, decoded, 3)
}

func TestOpenRouteService_NotConfigured(t *testing.T) {
	p := NewOpenRouteService("", "", time.Second)
	_, err := p.Route(context.Background(), store, customer, ModeDriving)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOpenRouteService_EmptyFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"features":[]}`)
	}))
	defer srv.Close()

	_, err := NewOpenRouteService("k", srv.URL, time.Second).Route(context.Background(), store, customer, ModeDriving)
	assert.Error(t, err)
}

func TestOSRM_ParsesPolyline(t *testing.T) {
	geometry := EncodePolyline([]geo.Point{store, {Lat: 26.68, Lng: 86.22}, customer})
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprintf(w, `{"code":"Ok","routes":[{"geometry":%q,"distance":6100.5,"duration":540}]}`, geometry)
	}))
	defer srv.Close()

	r, err := NewOSRM(srv.URL, time.Second).Route(context.Background(), store, customer, ModeDriving)
	require.NoError(t, err)

	assert.Equal(t, "/route/v1/driving/86.210000,26.660000;86.240500,26.701200", gotPath)
	assert.Equal(t, "osrm", r.Provider)
	assert.Equal(t, geometry, r.Polyline)
	assert.InDelta(t, 6100.5, r.DistanceMeters, 1e-9)
	require.Len(t, r.Coordinates, 3)
	assert.InDelta(t, customer.Lat, r.Destination().Lat, 1e-5)
}

func TestOSRM_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"NoRoute","message":"Impossible route between points"}`)
	}))
	defer srv.Close()

	_, err := NewOSRM(srv.URL, time.Second).Route(context.Background(), store, customer, ModeDriving)
	assert.Error(t, err)
}

func TestOSRM_NotConfigured(t *testing.T) {
	_, err := NewOSRM("", time.Second).Route(context.Background(), store, customer, ModeDriving)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
