// Package config loads the orchestration tunables from a TOML file.
// Connection-level settings (postgres, kafka, ORS key) stay in the
// environment; this file only carries the knobs operators actually tune.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the orchestration tunables.
type Config struct {
	Routing Routing `toml:"routing"`
	Builder Builder `toml:"builder"`
	Expiry  Expiry  `toml:"expiry"`
}

// Routing controls the geo-routing client and courier range checks.
type Routing struct {
	// ServiceableRangeKm bounds how far a courier may be from the first
	// stop when accepting a route.
	ServiceableRangeKm float64 `toml:"serviceable_range_km"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
}

// Builder controls route grouping. Scores are summed item volume in liters.
type Builder struct {
	MaxRouteScore    float64 `toml:"max_route_score"`
	BulkyThreshold   float64 `toml:"bulky_threshold"`
	NormalThreshold  float64 `toml:"normal_threshold"`
	BuildConcurrency int     `toml:"build_concurrency"`
	// AcceptDeadlineHours cancels PENDING routes nobody accepted in time.
	AcceptDeadlineHours int `toml:"accept_deadline_hours"`
}

// Expiry controls the optional time-based PENDING request sweep. When the
// sweep is disabled, EXPIRED is reachable only through report resolution.
type Expiry struct {
	SweepEnabled bool `toml:"sweep_enabled"`
	MaxAgeDays   int  `toml:"max_age_days"`
}

// Default returns the values used when no config file is present.
func Default() Config {
	return Config{
		Routing: Routing{
			ServiceableRangeKm: 15,
			TimeoutSeconds:     10,
		},
		Builder: Builder{
			MaxRouteScore:       240,
			BulkyThreshold:      120,
			NormalThreshold:     40,
			BuildConcurrency:    4,
			AcceptDeadlineHours: 24,
		},
		Expiry: Expiry{
			SweepEnabled: false,
			MaxAgeDays:   14,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Builder.MaxRouteScore <= 0 {
		return fmt.Errorf("builder.max_route_score must be positive")
	}
	if c.Builder.NormalThreshold > c.Builder.BulkyThreshold ||
		c.Builder.BulkyThreshold > c.Builder.MaxRouteScore {
		return fmt.Errorf("builder thresholds must be ordered: normal <= bulky <= max")
	}
	if c.Routing.ServiceableRangeKm <= 0 {
		return fmt.Errorf("routing.serviceable_range_km must be positive")
	}
	return nil
}
