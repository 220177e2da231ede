package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration overrides from environment variables
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("MARKETCACHE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("MARKETCACHE_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if snapshot := os.Getenv("MARKETCACHE_SNAPSHOT_PATH"); snapshot != "" {
		cfg.Analytics.SnapshotPath = snapshot
	}

	if concurrent := os.Getenv("MARKETCACHE_MAX_CONCURRENT"); concurrent != "" {
		if n, err := strconv.Atoi(concurrent); err == nil {
			cfg.Warming.MaxConcurrentTasks = n
		}
	}

	if quarantine := os.Getenv("MARKETCACHE_QUARANTINE_DURATION"); quarantine != "" {
		if d, err := time.ParseDuration(quarantine); err == nil {
			cfg.Quality.QuarantineDuration = Duration(d)
		}
	}
}
