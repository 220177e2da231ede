// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, float64(70), cfg.Quality.QualityThreshold)
	assert.Equal(t, float64(30), cfg.Quality.CriticalThreshold)
	assert.Equal(t, Duration(time.Hour), cfg.Quality.QuarantineDuration)
	assert.Equal(t, 1000, cfg.Quality.MaxHistory)
	assert.Equal(t, 3, cfg.Warming.MaxConcurrentTasks)
	assert.Equal(t, 1000, cfg.Warming.MaxDailyWarming)
	assert.Equal(t, 100, cfg.Warming.MaxPendingTasks)
	assert.Equal(t, 23, cfg.Warming.QuietHoursStart)
	assert.Equal(t, 6, cfg.Warming.QuietHoursEnd)
	assert.Equal(t, Duration(30*time.Second), cfg.Warming.MinimumIdleTime)
	assert.Equal(t, 3, cfg.Warming.Retry.MaxRetries)
	assert.Equal(t, float64(2), cfg.Warming.Retry.BackoffMultiplier)
	assert.Equal(t, Duration(time.Second), cfg.Warming.Retry.InitialDelay)

	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketcache.yaml")

	yaml := `
server:
  port: 9090
warming:
  max_concurrent_tasks: 5
quality:
  quality_threshold: 80
tiers:
  ttl_by_data_type:
    stock-data: 30m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Warming.MaxConcurrentTasks)
	assert.Equal(t, float64(80), cfg.Quality.QualityThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Tiers.TTLFor("stock-data"))

	// Unset knobs still get defaults
	assert.Equal(t, 1000, cfg.Warming.MaxDailyWarming)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaults_QuietHours(t *testing.T) {
	t.Run("UnsetGetsDefaultWindow", func(t *testing.T) {
		cfg := &Config{}
		cfg.ApplyDefaults()
		assert.Equal(t, 23, cfg.Warming.QuietHoursStart)
		assert.Equal(t, 6, cfg.Warming.QuietHoursEnd)
	})

	t.Run("MidnightStartKept", func(t *testing.T) {
		cfg := &Config{}
		cfg.Warming.QuietHoursEnd = 6
		cfg.ApplyDefaults()
		assert.Equal(t, 0, cfg.Warming.QuietHoursStart)
		assert.Equal(t, 6, cfg.Warming.QuietHoursEnd)
	})

	t.Run("MidnightEndKept", func(t *testing.T) {
		cfg := &Config{}
		cfg.Warming.QuietHoursStart = 22
		cfg.ApplyDefaults()
		assert.Equal(t, 22, cfg.Warming.QuietHoursStart)
		assert.Equal(t, 0, cfg.Warming.QuietHoursEnd)
	})
}

func TestValidate(t *testing.T) {
	t.Run("ThresholdOutOfRange", func(t *testing.T) {
		cfg := Default()
		cfg.Quality.QualityThreshold = 150
		assert.Error(t, cfg.Validate())
	})

	t.Run("CriticalAboveQuality", func(t *testing.T) {
		cfg := Default()
		cfg.Quality.CriticalThreshold = 90
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadQuietHours", func(t *testing.T) {
		cfg := Default()
		cfg.Warming.QuietHoursStart = 25
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadBackoff", func(t *testing.T) {
		cfg := Default()
		cfg.Warming.Retry.BackoffMultiplier = 0.5
		assert.Error(t, cfg.Validate())
	})
}

func TestTierConfig_TTLFor(t *testing.T) {
	cfg := Default()

	assert.Equal(t, time.Hour, cfg.Tiers.TTLFor("stock-data"))
	assert.Equal(t, 24*time.Hour, cfg.Tiers.TTLFor("fundamentals"))
	assert.Equal(t, 15*time.Minute, cfg.Tiers.TTLFor("market-data"))
	assert.Equal(t, 30*time.Minute, cfg.Tiers.TTLFor("analysis"))
	assert.Equal(t, cfg.Tiers.DefaultTTL.Std(), cfg.Tiers.TTLFor("unknown-type"))
}

func TestLoadFromEnv(t *testing.T) {
	cfg := Default()

	t.Setenv("MARKETCACHE_PORT", "7070")
	t.Setenv("MARKETCACHE_MAX_CONCURRENT", "8")
	t.Setenv("MARKETCACHE_QUARANTINE_DURATION", "2h")

	LoadFromEnv(cfg)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Warming.MaxConcurrentTasks)
	assert.Equal(t, Duration(2*time.Hour), cfg.Quality.QuarantineDuration)
}
