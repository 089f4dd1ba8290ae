package route

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shohag/dispatchrelay/internal/geo"
)

const DefaultORSBaseURL = "https://api.openrouteservice.org"

// OpenRouteService queries the ORS v2 directions API (GeoJSON variant).
type OpenRouteService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenRouteService(apiKey, baseURL string, timeout time.Duration) *OpenRouteService {
	if baseURL == "" {
		baseURL = DefaultORSBaseURL
	}
	return &OpenRouteService{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OpenRouteService) Name() string { return "openrouteservice" }

type orsResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Summary struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
			} `json:"summary"`
		} `json:"properties"`
	} `json:"features"`
}

func orsProfile(m Mode) string {
	switch m {
	case ModeCycling:
		return "cycling-regular"
	case ModeScooter:
		return "cycling-electric"
	case ModeWalking:
		return "foot-walking"
	default:
		return "driving-car"
	}
}

func (o *OpenRouteService) Route(ctx context.Context, origin, dest geo.Point, mode Mode) (*Route, error) {
	if o.apiKey == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("api_key", o.apiKey)
	q.Set("start", fmt.Sprintf("%f,%f", origin.Lng, origin.Lat))
	q.Set("end", fmt.Sprintf("%f,%f", dest.Lng, dest.Lat))
	endpoint := fmt.Sprintf("%s/v2/directions/%s?%s", o.baseURL, orsProfile(mode), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build ors request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ors request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ors returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out orsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ors response: %w", err)
	}
	if len(out.Features) == 0 {
		return nil, fmt.Errorf("ors returned no routes")
	}

	f := out.Features[0]
	coords := make([]geo.Point, 0, len(f.Geometry.Coordinates))
	for _, c := range f.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		coords = append(coords, geo.Point{Lat: c[1], Lng: c[0]})
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("ors route has no geometry")
	}

	return &Route{
		Polyline:        EncodePolyline(coords),
		Coordinates:     coords,
		DistanceMeters:  f.Properties.Summary.Distance,
		DurationSeconds: f.Properties.Summary.Duration,
		Mode:            mode,
		Provider:        o.Name(),
	}, nil
}
