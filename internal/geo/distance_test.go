package geo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceKm_ZeroForSamePoint(t *testing.T) {
	p := Point{Lat: 26.66, Lng: 86.21}
	assert.Equal(t, 0.0, DistanceKm(p, p))
}

func TestDistanceKm_Symmetric(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		a := Point{Lat: r.Float64()*180 - 90, Lng: r.Float64()*360 - 180}
		b := Point{Lat: r.Float64()*180 - 90, Lng: r.Float64()*360 - 180}
		assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-9, "a=%v b=%v", a, b)
	}
}

func TestDistanceKm_KnownDistance(t *testing.T) {
	// One degree of latitude along a meridian.
	d := DistanceKm(Point{Lat: 0, Lng: 0}, Point{Lat: 1, Lng: 0})
	assert.InDelta(t, 111.19, d, 0.01)

	// Janakpur to Kathmandu, roughly 125 km as the crow flies.
	d = DistanceKm(Point{Lat: 26.7288, Lng: 85.9263}, Point{Lat: 27.7172, Lng: 85.3240})
	require.Greater(t, d, 120.0)
	require.Less(t, d, 130.0)
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: 26.66, Lng: 86.21}.Valid())
	assert.True(t, Point{Lat: -90, Lng: 180}.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: -181}.Valid())
}
