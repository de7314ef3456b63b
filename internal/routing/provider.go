// Package routing wraps the external geo-routing provider. It is treated as
// unreliable I/O: every failure surfaces as apperr.ErrRoutingUnavailable and
// the enclosing operation fails instead of guessing a route.
package routing

import (
	"context"
	"math"
	"sort"
)

// Point is a (latitude, longitude) pair.
type Point struct {
	Lat float64
	Lon float64
}

// Leg is the travel metrics between two consecutive points.
type Leg struct {
	DistanceMeters  int
	DurationSeconds int
}

type Provider interface {
	// Route returns one Leg per waypoint for visiting them in the given
	// order, starting from origin.
	Route(ctx context.Context, origin Point, waypoints []Point) ([]Leg, error)
	// Matrix returns the leg from origin to each destination independently.
	Matrix(ctx context.Context, origin Point, destinations []Point) ([]Leg, error)
}

// Ranked is one destination ordered by travel distance from an origin.
type Ranked struct {
	Index int
	Leg   Leg
}

// Rank orders destinations by ascending travel distance from origin using a
// single matrix call. Ties keep the input order, which lets callers apply
// their own secondary ordering beforehand.
func Rank(ctx context.Context, p Provider, origin Point, destinations []Point) ([]Ranked, error) {
	if len(destinations) == 0 {
		return nil, nil
	}
	legs, err := p.Matrix(ctx, origin, destinations)
	if err != nil {
		return nil, err
	}
	ranked := make([]Ranked, len(legs))
	for i, leg := range legs {
		ranked[i] = Ranked{Index: i, Leg: leg}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Leg.DistanceMeters < ranked[j].Leg.DistanceMeters
	})
	return ranked, nil
}

const earthRadiusMeters = 6371000

// HaversineMeters is the great-circle distance between two points. Used for
// courier range checks and by the deterministic offline provider; never a
// substitute for a real routed distance in persisted routes.
func HaversineMeters(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
