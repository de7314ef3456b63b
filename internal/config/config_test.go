package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[routing]
serviceable_range_km = 25.5

[builder]
max_route_score = 300
build_concurrency = 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25.5, cfg.Routing.ServiceableRangeKm)
	assert.Equal(t, 300.0, cfg.Builder.MaxRouteScore)
	assert.Equal(t, 8, cfg.Builder.BuildConcurrency)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Builder.BulkyThreshold, cfg.Builder.BulkyThreshold)
	assert.Equal(t, Default().Expiry, cfg.Expiry)
}

func TestLoadRejectsMalformed(t *testing.T) {
	path := writeConfig(t, `[builder`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadValidatesThresholds(t *testing.T) {
	cases := []struct {
		name string
		toml string
	}{
		{"zero score", "[builder]\nmax_route_score = 0\n"},
		{"normal above bulky", "[builder]\nnormal_threshold = 200\nbulky_threshold = 100\n"},
		{"bulky above max", "[builder]\nbulky_threshold = 500\nmax_route_score = 240\n"},
		{"zero range", "[routing]\nserviceable_range_km = 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.toml))
			assert.Error(t, err)
		})
	}
}
