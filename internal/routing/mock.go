package routing

import (
	"context"
)

// 30 km/h average urban speed, 1.3 road factor over great-circle distance.
const (
	mockRoadFactor     = 1.3
	mockMetersPerSecond = 30_000.0 / 3600.0
)

// OfflineProvider computes deterministic haversine-based metrics without any
// network dependency. Used in tests and for local runs without an ORS key.
type OfflineProvider struct{}

func NewOfflineProvider() *OfflineProvider { return &OfflineProvider{} }

func (p *OfflineProvider) leg(a, b Point) Leg {
	meters := HaversineMeters(a, b) * mockRoadFactor
	return Leg{
		DistanceMeters:  int(meters),
		DurationSeconds: int(meters / mockMetersPerSecond),
	}
}

func (p *OfflineProvider) Route(_ context.Context, origin Point, waypoints []Point) ([]Leg, error) {
	legs := make([]Leg, 0, len(waypoints))
	current := origin
	for _, w := range waypoints {
		legs = append(legs, p.leg(current, w))
		current = w
	}
	return legs, nil
}

func (p *OfflineProvider) Matrix(_ context.Context, origin Point, destinations []Point) ([]Leg, error) {
	legs := make([]Leg, 0, len(destinations))
	for _, d := range destinations {
		legs = append(legs, p.leg(origin, d))
	}
	return legs, nil
}
