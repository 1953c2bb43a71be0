package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 4, cfg.Pipeline.WorkerPoolSize)
	assert.Equal(t, 1024, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, 3600, cfg.Pipeline.TranscriptTTLSeconds)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.ResultTTL())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
server:
  port: 9191
pipeline:
  worker_pool_size: 8
cache:
  backend: remote
  url: localhost:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Pipeline.WorkerPoolSize)
	assert.Equal(t, "remote", cfg.Cache.Backend)
}

func TestUnknownKeyRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mystery_knob: true\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration key")
}

func TestProductionRequiresSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: production\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestValidate(t *testing.T) {
	t.Run("remote cache needs url", func(t *testing.T) {
		cfg := defaults()
		cfg.Cache.Backend = "remote"
		cfg.Cache.URL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("worker pool size floor", func(t *testing.T) {
		cfg := defaults()
		cfg.Pipeline.WorkerPoolSize = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative ttl rejected", func(t *testing.T) {
		cfg := defaults()
		cfg.Pipeline.OCRTTLSeconds = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown tier rejected", func(t *testing.T) {
		cfg := defaults()
		cfg.TierLimits["platinum"] = TierLimits{}
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad environment rejected", func(t *testing.T) {
		cfg := defaults()
		cfg.Environment = "qa"
		assert.Error(t, cfg.Validate())
	})
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EVX_SERVER_PORT", "7001")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
}

func TestDefaultTierLimits(t *testing.T) {
	limits := DefaultTierLimits()

	require.Contains(t, limits, "starter")
	assert.Equal(t, 5, limits["starter"].RateCapacity)

	assert.Equal(t, Unlimited, limits["enterprise"].UploadsPerMonth)
	assert.GreaterOrEqual(t, limits["enterprise"].RefillPerSecond, 1_000_000.0)
	assert.Equal(t, 1_000_000_000, limits["admin"].RateCapacity)
}
