package route

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shohag/dispatchrelay/internal/geo"
)

type Mode string

const (
	ModeDriving    Mode = "driving"
	ModeCycling    Mode = "cycling"
	ModeWalking    Mode = "walking"
	ModeScooter    Mode = "scooter"
	ModeMotorcycle Mode = "motorcycle"
)

// Average speeds in km/h used when no provider answers.
var fallbackSpeeds = map[Mode]float64{
	ModeDriving:    40,
	ModeCycling:    15,
	ModeWalking:    5,
	ModeScooter:    25,
	ModeMotorcycle: 35,
}

// ParseMode returns the mode named s, or ModeDriving when s is unknown.
func ParseMode(s string) Mode {
	m := Mode(s)
	if _, ok := fallbackSpeeds[m]; ok {
		return m
	}
	return ModeDriving
}

// ModeForVehicle maps a delivery partner's vehicle type to a travel mode.
func ModeForVehicle(vehicleType string) Mode {
	switch vehicleType {
	case "bicycle":
		return ModeCycling
	case "scooter":
		return ModeScooter
	case "motorcycle":
		return ModeMotorcycle
	case "walking":
		return ModeWalking
	default:
		return ModeDriving
	}
}

// SpeedKmh is the fallback average speed for m.
func SpeedKmh(m Mode) float64 {
	if s, ok := fallbackSpeeds[m]; ok {
		return s
	}
	return fallbackSpeeds[ModeDriving]
}

// EstimateDuration returns seconds needed to cover meters at the mode's average speed.
func EstimateDuration(meters float64, m Mode) float64 {
	return meters / 1000 / SpeedKmh(m) * 3600
}

var ErrNotConfigured = errors.New("route provider not configured")

// Route is a resolved path between two points.
type Route struct {
	Polyline        string      `json:"polyline"`
	Coordinates     []geo.Point `json:"coordinates"`
	DistanceMeters  float64     `json:"distance"`
	DurationSeconds float64     `json:"duration"`
	Mode            Mode        `json:"mode"`
	Provider        string      `json:"provider"`
	ProviderRouteID string      `json:"providerRouteId,omitempty"`
}

func (r *Route) Origin() geo.Point {
	if len(r.Coordinates) == 0 {
		return geo.Point{}
	}
	return r.Coordinates[0]
}

func (r *Route) Destination() geo.Point {
	if len(r.Coordinates) == 0 {
		return geo.Point{}
	}
	return r.Coordinates[len(r.Coordinates)-1]
}

// Provider computes a route between two points.
type Provider interface {
	Name() string
	Route(ctx context.Context, origin, dest geo.Point, mode Mode) (*Route, error)
}

// ETA is the remaining travel estimate for a route.
type ETA struct {
	Minutes     int       `json:"estimatedMinutes"`
	Arrival     time.Time `json:"estimatedArrival"`
	RemainingKm float64   `json:"remainingDistance"`
}

// CalculateETA estimates arrival for r. When current is given, the remaining
// leg is measured from current to the route's final point at the mode speed.
func CalculateETA(r *Route, current *geo.Point, now time.Time) ETA {
	duration := r.DurationSeconds
	distance := r.DistanceMeters
	if current != nil && len(r.Coordinates) > 0 {
		distance = geo.DistanceKm(*current, r.Destination()) * 1000
		duration = EstimateDuration(distance, r.Mode)
	}
	return ETA{
		Minutes:     int(math.Ceil(duration / 60)),
		Arrival:     now.Add(time.Duration(duration * float64(time.Second))),
		RemainingKm: distance / 1000,
	}
}

// GoogleMapsLink returns a directions link from origin to dest.
func GoogleMapsLink(origin, dest geo.Point) string {
	return fmt.Sprintf("https://www.google.com/maps/dir/%s/%s", latLng(origin), latLng(dest))
}

// PlaceLink returns a search link centred on p.
func PlaceLink(p geo.Point) string {
	return "https://www.google.com/maps/search/?api=1&query=" + latLng(p)
}

func latLng(p geo.Point) string {
	return fmt.Sprintf("%g,%g", p.Lat, p.Lng)
}
