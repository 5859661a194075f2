package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	v := Version()
	assert.True(t, strings.HasPrefix(v, "nebula/"))
	// Stable across calls (resolved once).
	assert.Equal(t, v, Version())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, DefaultThrottle, cfg.Throttle)
	assert.Equal(t, DefaultMaxBudget, cfg.MaxBudget)
	assert.NotEmpty(t, cfg.SwarmModel)
	assert.NotEmpty(t, cfg.ModelRates)
	assert.Positive(t, cfg.ExecuteRPM)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("SWARM_THROTTLE_MS", "250")
	t.Setenv("MAX_BUDGET", "2.5")
	t.Setenv("TRACE_DIR", "/tmp/traces-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, int64(250), cfg.Throttle.Milliseconds())
	assert.Equal(t, 2.5, cfg.MaxBudget)
	assert.Equal(t, "/tmp/traces-test", cfg.TraceDir)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("bad throttle", func(t *testing.T) {
		t.Setenv("SWARM_THROTTLE_MS", "soon")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("budget out of range", func(t *testing.T) {
		t.Setenv("MAX_BUDGET", "99")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoad_ModelRatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"premium-x:\n  input: 0.004\n  output: 0.02\n"), 0o644))
	t.Setenv("MODEL_RATES_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	rate := cfg.Rate("premium-x")
	assert.Equal(t, 0.004, rate.Input)
	assert.Equal(t, 0.02, rate.Output)

	// Absent models are free.
	assert.Zero(t, cfg.Rate("unknown-model").Input)
}

func TestLoad_ModelRatesFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("MODEL_RATES_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("empty table", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
		t.Setenv("MODEL_RATES_FILE", path)
		_, err := Load()
		assert.Error(t, err)
	})
}
