package route

import (
	"context"

	"github.com/shohag/dispatchrelay/internal/geo"
)

// StraightLine approximates a route as the direct segment between the two
// points. It never fails.
type StraightLine struct{}

func (StraightLine) Name() string { return "straight_line" }

func (StraightLine) Route(_ context.Context, origin, dest geo.Point, mode Mode) (*Route, error) {
	return straightLine(origin, dest, mode), nil
}

func straightLine(origin, dest geo.Point, mode Mode) *Route {
	coords := []geo.Point{origin, dest}
	distance := geo.DistanceKm(origin, dest) * 1000
	return &Route{
		Polyline:        EncodePolyline(coords),
		Coordinates:     coords,
		DistanceMeters:  distance,
		DurationSeconds: EstimateDuration(distance, mode),
		Mode:            mode,
		Provider:        StraightLine{}.Name(),
	}
}
