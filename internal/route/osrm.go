package route

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shohag/dispatchrelay/internal/geo"
)

// OSRM queries an OSRM routing server's route service.
type OSRM struct {
	baseURL string
	client  *http.Client
}

func NewOSRM(baseURL string, timeout time.Duration) *OSRM {
	return &OSRM{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OSRM) Name() string { return "osrm" }

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry string  `json:"geometry"`
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

func osrmProfile(m Mode) string {
	switch m {
	case ModeCycling, ModeScooter:
		return "cycling"
	case ModeWalking:
		return "walking"
	default:
		return "driving"
	}
}

func (o *OSRM) Route(ctx context.Context, origin, dest geo.Point, mode Mode) (*Route, error) {
	if o.baseURL == "" {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?overview=full&geometries=polyline",
		o.baseURL, osrmProfile(mode), origin.Lng, origin.Lat, dest.Lng, dest.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build osrm request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()

	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode osrm response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Code != "Ok" {
		return nil, fmt.Errorf("osrm returned %d %s: %s", resp.StatusCode, out.Code, out.Message)
	}
	if len(out.Routes) == 0 {
		return nil, fmt.Errorf("osrm returned no routes")
	}

	r := out.Routes[0]
	coords, err := DecodePolyline(r.Geometry)
	if err != nil {
		return nil, fmt.Errorf("osrm geometry: %w", err)
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("osrm route has no geometry")
	}

	return &Route{
		Polyline:        r.Geometry,
		Coordinates:     coords,
		DistanceMeters:  r.Distance,
		DurationSeconds: r.Duration,
		Mode:            mode,
		Provider:        o.Name(),
	}, nil
}
