package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedProvider decorates a Provider with a redis cache of matrix legs.
// Route calls pass through untouched: their legs depend on the whole visit
// sequence, so individual pairs are the only safely cacheable unit.
type CachedProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedProvider(inner Provider, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedProvider{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *CachedProvider) Route(ctx context.Context, origin Point, waypoints []Point) ([]Leg, error) {
	return c.inner.Route(ctx, origin, waypoints)
}

func (c *CachedProvider) Matrix(ctx context.Context, origin Point, destinations []Point) ([]Leg, error) {
	legs := make([]Leg, len(destinations))
	missIdx := make([]int, 0, len(destinations))
	misses := make([]Point, 0, len(destinations))

	for i, d := range destinations {
		leg, ok := c.get(ctx, origin, d)
		if ok {
			legs[i] = leg
			continue
		}
		missIdx = append(missIdx, i)
		misses = append(misses, d)
	}

	if len(misses) == 0 {
		return legs, nil
	}

	fresh, err := c.inner.Matrix(ctx, origin, misses)
	if err != nil {
		return nil, err
	}
	for j, leg := range fresh {
		legs[missIdx[j]] = leg
		c.put(ctx, origin, misses[j], leg)
	}
	return legs, nil
}

// Coordinates are rounded to 5 decimals (~1 m) so nearby lookups share keys.
func legKey(a, b Point) string {
	return fmt.Sprintf("routing:leg:%.5f,%.5f|%.5f,%.5f", a.Lat, a.Lon, b.Lat, b.Lon)
}

func (c *CachedProvider) get(ctx context.Context, a, b Point) (Leg, bool) {
	val, err := c.client.Get(ctx, legKey(a, b)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("routing cache read failed", zap.Error(err))
		}
		return Leg{}, false
	}
	var leg Leg
	if _, err := fmt.Sscanf(val, "%d:%d", &leg.DistanceMeters, &leg.DurationSeconds); err != nil {
		return Leg{}, false
	}
	return leg, true
}

func (c *CachedProvider) put(ctx context.Context, a, b Point, leg Leg) {
	val := fmt.Sprintf("%d:%d", leg.DistanceMeters, leg.DurationSeconds)
	if err := c.client.Set(ctx, legKey(a, b), val, c.ttl).Err(); err != nil {
		c.logger.Warn("routing cache write failed", zap.Error(err))
	}
}
