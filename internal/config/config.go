// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "30m" style values in YAML, which time.Duration
// alone does not.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("config: invalid duration value")
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Insights  InsightsConfig  `yaml:"insights"`
	Warming   WarmingConfig   `yaml:"warming"`
	Quality   QualityConfig   `yaml:"quality"`
	Tiers     TierConfig      `yaml:"tiers"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type AnalyticsConfig struct {
	MaxPatterns      int      `yaml:"max_patterns"`
	PatternMaxAge    Duration `yaml:"pattern_max_age"`
	BaselineFetch    Duration `yaml:"baseline_fetch"`
	PortfolioFocus   int      `yaml:"portfolio_focus"`
	SnapshotPath     string   `yaml:"snapshot_path"`
	SnapshotInterval Duration `yaml:"snapshot_interval"`
}

type InsightsConfig struct {
	RegenInterval  Duration `yaml:"regen_interval"`
	MaxPredictions int      `yaml:"max_predictions"`
	// MinProbability zero selects the 0.3 default; a negative value keeps
	// every prediction.
	MinProbability  float64  `yaml:"min_probability"`
	MarketOpenHours []int    `yaml:"market_open_hours"`
	BenchmarkSyms   []string `yaml:"benchmark_symbols"`
}

type WarmingConfig struct {
	TickInterval       Duration `yaml:"tick_interval"`
	MaxConcurrentTasks int      `yaml:"max_concurrent_tasks"`
	MaxDailyWarming    int      `yaml:"max_daily_warming"`
	MaxPendingTasks    int      `yaml:"max_pending_tasks"`
	// Quiet hours default to the 23-6 window only when both are zero, so
	// a midnight start or end can be set explicitly. start == end
	// disables the window.
	QuietHoursStart  int         `yaml:"quiet_hours_start"`
	QuietHoursEnd    int         `yaml:"quiet_hours_end"`
	MinimumIdleTime  Duration    `yaml:"minimum_idle_time"`
	RespectActivity  bool        `yaml:"respect_activity"`
	FetchesPerSecond float64     `yaml:"fetches_per_second"`
	Retry            RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries        int      `yaml:"max_retries"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
	InitialDelay      Duration `yaml:"initial_delay"`
}

type QualityConfig struct {
	QualityThreshold   float64  `yaml:"quality_threshold"`
	CriticalThreshold  float64  `yaml:"critical_threshold"`
	MaxHistory         int      `yaml:"max_history"`
	QuarantineDuration Duration `yaml:"quarantine_duration"`
	SampleInterval     Duration `yaml:"sample_interval"`
}

type TierConfig struct {
	MemoryEntries     int                 `yaml:"memory_entries"`
	PersistentEntries int                 `yaml:"persistent_entries"`
	ArchiveEntries    int                 `yaml:"archive_entries"`
	DefaultTTL        Duration            `yaml:"default_ttl"`
	TTLByDataType     map[string]Duration `yaml:"ttl_by_data_type"`
}

// Default returns a config with every knob at its documented default.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a YAML config file and applies defaults for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in default values
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Analytics.MaxPatterns == 0 {
		c.Analytics.MaxPatterns = 1000
	}
	if c.Analytics.PatternMaxAge == 0 {
		c.Analytics.PatternMaxAge = Duration(30 * 24 * time.Hour)
	}
	if c.Analytics.BaselineFetch == 0 {
		c.Analytics.BaselineFetch = Duration(2 * time.Second)
	}
	if c.Analytics.PortfolioFocus == 0 {
		c.Analytics.PortfolioFocus = 50
	}
	if c.Analytics.SnapshotInterval == 0 {
		c.Analytics.SnapshotInterval = Duration(5 * time.Minute)
	}

	if c.Insights.RegenInterval == 0 {
		c.Insights.RegenInterval = Duration(30 * time.Minute)
	}
	if c.Insights.MaxPredictions == 0 {
		c.Insights.MaxPredictions = 20
	}
	if c.Insights.MinProbability == 0 {
		c.Insights.MinProbability = 0.3
	}
	if len(c.Insights.MarketOpenHours) == 0 {
		c.Insights.MarketOpenHours = []int{9, 10}
	}
	if len(c.Insights.BenchmarkSyms) == 0 {
		c.Insights.BenchmarkSyms = []string{"SPY", "QQQ", "DIA"}
	}

	if c.Warming.TickInterval == 0 {
		c.Warming.TickInterval = Duration(5 * time.Second)
	}
	if c.Warming.MaxConcurrentTasks == 0 {
		c.Warming.MaxConcurrentTasks = 3
	}
	if c.Warming.MaxDailyWarming == 0 {
		c.Warming.MaxDailyWarming = 1000
	}
	if c.Warming.MaxPendingTasks == 0 {
		c.Warming.MaxPendingTasks = 100
	}
	// Defaulted as a pair so an explicit midnight boundary survives.
	if c.Warming.QuietHoursStart == 0 && c.Warming.QuietHoursEnd == 0 {
		c.Warming.QuietHoursStart = 23
		c.Warming.QuietHoursEnd = 6
	}
	if c.Warming.MinimumIdleTime == 0 {
		c.Warming.MinimumIdleTime = Duration(30 * time.Second)
	}
	if c.Warming.FetchesPerSecond == 0 {
		c.Warming.FetchesPerSecond = 10
	}
	if c.Warming.Retry.MaxRetries == 0 {
		c.Warming.Retry.MaxRetries = 3
	}
	if c.Warming.Retry.BackoffMultiplier == 0 {
		c.Warming.Retry.BackoffMultiplier = 2
	}
	if c.Warming.Retry.InitialDelay == 0 {
		c.Warming.Retry.InitialDelay = Duration(time.Second)
	}

	if c.Quality.QualityThreshold == 0 {
		c.Quality.QualityThreshold = 70
	}
	if c.Quality.CriticalThreshold == 0 {
		c.Quality.CriticalThreshold = 30
	}
	if c.Quality.MaxHistory == 0 {
		c.Quality.MaxHistory = 1000
	}
	if c.Quality.QuarantineDuration == 0 {
		c.Quality.QuarantineDuration = Duration(time.Hour)
	}
	if c.Quality.SampleInterval == 0 {
		c.Quality.SampleInterval = Duration(5 * time.Minute)
	}

	if c.Tiers.MemoryEntries == 0 {
		c.Tiers.MemoryEntries = 500
	}
	if c.Tiers.PersistentEntries == 0 {
		c.Tiers.PersistentEntries = 5000
	}
	if c.Tiers.ArchiveEntries == 0 {
		c.Tiers.ArchiveEntries = 20000
	}
	if c.Tiers.DefaultTTL == 0 {
		c.Tiers.DefaultTTL = Duration(time.Hour)
	}
	if c.Tiers.TTLByDataType == nil {
		c.Tiers.TTLByDataType = map[string]Duration{
			"stock-data":   Duration(time.Hour),
			"fundamentals": Duration(24 * time.Hour),
			"market-data":  Duration(15 * time.Minute),
			"analysis":     Duration(30 * time.Minute),
		}
	}
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Quality.QualityThreshold < 0 || c.Quality.QualityThreshold > 100 {
		return fmt.Errorf("config: quality_threshold must be in [0,100], got %v", c.Quality.QualityThreshold)
	}
	if c.Quality.CriticalThreshold > c.Quality.QualityThreshold {
		return fmt.Errorf("config: critical_threshold %v above quality_threshold %v",
			c.Quality.CriticalThreshold, c.Quality.QualityThreshold)
	}
	if c.Warming.QuietHoursStart < 0 || c.Warming.QuietHoursStart > 23 {
		return fmt.Errorf("config: quiet_hours_start must be an hour of day, got %d", c.Warming.QuietHoursStart)
	}
	if c.Warming.QuietHoursEnd < 0 || c.Warming.QuietHoursEnd > 23 {
		return fmt.Errorf("config: quiet_hours_end must be an hour of day, got %d", c.Warming.QuietHoursEnd)
	}
	if c.Warming.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("config: backoff_multiplier must be >= 1, got %v", c.Warming.Retry.BackoffMultiplier)
	}
	return nil
}

// TTLFor returns the cache TTL for a data type.
func (c *TierConfig) TTLFor(dataType string) time.Duration {
	if ttl, ok := c.TTLByDataType[dataType]; ok {
		return ttl.Std()
	}
	return c.DefaultTTL.Std()
}
