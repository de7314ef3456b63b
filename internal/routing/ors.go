package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/tungvs/charity-delivery/internal/apperr"
)

// ORSProvider implements Provider on top of the OpenRouteService HTTP API.
// Calls carry a bounded timeout; no retries happen here, the caller decides
// whether to retry the whole enclosing operation.
type ORSProvider struct {
	session *http.Client
	apiKey  string
	baseURL string
	profile string
}

func NewORSProvider(apiKey string, timeout time.Duration) (*ORSProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ORS api key is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ORSProvider{
		session: &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		baseURL: "https://api.openrouteservice.org",
		profile: "driving-car",
	}, nil
}

// WithBaseURL points the provider at a different endpoint (tests).
func (o *ORSProvider) WithBaseURL(u string) *ORSProvider {
	o.baseURL = u
	return o
}

type matrixRequest struct {
	Locations    [][]float64 `json:"locations"`
	Destinations []int       `json:"destinations"`
	Metrics      []string    `json:"metrics"`
	Sources      []int       `json:"sources"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

func (o *ORSProvider) Matrix(ctx context.Context, origin Point, destinations []Point) ([]Leg, error) {
	if len(destinations) == 0 {
		return nil, nil
	}

	// ORS takes [lon, lat] pairs, destination indices are offsets into the
	// combined locations list.
	locations := make([][]float64, 0, 1+len(destinations))
	locations = append(locations, []float64{origin.Lon, origin.Lat})
	destIdx := make([]int, 0, len(destinations))
	for i, d := range destinations {
		locations = append(locations, []float64{d.Lon, d.Lat})
		destIdx = append(destIdx, i+1)
	}

	body := matrixRequest{
		Locations:    locations,
		Destinations: destIdx,
		Metrics:      []string{"distance", "duration"},
		Sources:      []int{0},
	}

	var mr matrixResponse
	endpoint := fmt.Sprintf("%s/v2/matrix/%s", o.baseURL, o.profile)
	if err := o.post(ctx, endpoint, body, &mr); err != nil {
		return nil, err
	}

	if len(mr.Distances) != 1 || len(mr.Durations) != 1 {
		return nil, fmt.Errorf("%w: expected 1 matrix source row, got distances=%d durations=%d",
			apperr.ErrRoutingUnavailable, len(mr.Distances), len(mr.Durations))
	}
	rowDist, rowDur := mr.Distances[0], mr.Durations[0]
	if len(rowDist) != len(destinations) || len(rowDur) != len(destinations) {
		return nil, fmt.Errorf("%w: matrix row length mismatch", apperr.ErrRoutingUnavailable)
	}

	legs := make([]Leg, len(destinations))
	for i := range destinations {
		if rowDist[i] == nil || rowDur[i] == nil {
			// ORS uses null when no road connects two points.
			return nil, fmt.Errorf("%w: no route to destination %d", apperr.ErrRoutingUnavailable, i)
		}
		legs[i] = Leg{
			DistanceMeters:  int(math.Round(*rowDist[i])),
			DurationSeconds: int(math.Round(*rowDur[i])),
		}
	}
	return legs, nil
}

type directionsRequest struct {
	Coordinates [][]float64 `json:"coordinates"`
}

type directionsResponse struct {
	Routes []struct {
		Segments []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"segments"`
	} `json:"routes"`
}

func (o *ORSProvider) Route(ctx context.Context, origin Point, waypoints []Point) ([]Leg, error) {
	if len(waypoints) == 0 {
		return nil, nil
	}

	coords := make([][]float64, 0, 1+len(waypoints))
	coords = append(coords, []float64{origin.Lon, origin.Lat})
	for _, w := range waypoints {
		coords = append(coords, []float64{w.Lon, w.Lat})
	}

	var dr directionsResponse
	endpoint := fmt.Sprintf("%s/v2/directions/%s", o.baseURL, o.profile)
	if err := o.post(ctx, endpoint, directionsRequest{Coordinates: coords}, &dr); err != nil {
		return nil, err
	}

	if len(dr.Routes) == 0 {
		return nil, fmt.Errorf("%w: no route in directions response", apperr.ErrRoutingUnavailable)
	}
	segments := dr.Routes[0].Segments
	if len(segments) != len(waypoints) {
		return nil, fmt.Errorf("%w: expected %d segments, got %d",
			apperr.ErrRoutingUnavailable, len(waypoints), len(segments))
	}

	legs := make([]Leg, len(segments))
	for i, s := range segments {
		legs[i] = Leg{
			DistanceMeters:  int(math.Round(s.Distance)),
			DurationSeconds: int(math.Round(s.Duration)),
		}
	}
	return legs, nil
}

func (o *ORSProvider) post(ctx context.Context, endpoint string, body, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal routing request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build routing request: %w", err)
	}
	req.Header.Set("Authorization", o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.session.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrRoutingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", apperr.ErrRoutingUnavailable, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: decode response: %v", apperr.ErrRoutingUnavailable, err)
	}
	return nil
}
