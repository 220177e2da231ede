// internal/insight/generator.go
package insight

import (
	"sort"
	"time"

	"github.com/FairForge/marketcache/internal/analytics"
)

// Priority buckets for predicted requests and warming tasks.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight converts a priority into its scheduling weight.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityHigh:
		return 1.0
	case PriorityMedium:
		return 0.6
	default:
		return 0.3
	}
}

// LikelyRequest is a key predicted to be requested soon.
type LikelyRequest struct {
	Key              string    `json:"key"`
	Probability      float64   `json:"probability"`
	SuggestedPreload time.Time `json:"suggested_preload"`
	Priority         Priority  `json:"priority"`
}

// WarmingRecommendation suggests warming a data type for a symbol set.
type WarmingRecommendation struct {
	DataType string    `json:"data_type"`
	Symbols  []string  `json:"symbols"`
	Timing   time.Time `json:"timing"`
	Reason   string    `json:"reason"`
}

// QualityFlag marks a pattern whose cache behavior looks unhealthy.
type QualityFlag struct {
	Key      string `json:"key"`
	Issue    string `json:"issue"`
	Severity string `json:"severity"`
}

// Insights is the full prediction set for one generation pass.
type Insights struct {
	GeneratedAt            time.Time               `json:"generated_at"`
	LikelyNextRequests     []LikelyRequest         `json:"likely_next_requests"`
	WarmingRecommendations []WarmingRecommendation `json:"warming_recommendations"`
	QualityFlags           []QualityFlag           `json:"quality_flags"`
}

// GeneratorConfig tunes prediction output.
type GeneratorConfig struct {
	MaxPredictions  int
	MinProbability  float64
	MarketOpenHours []int
	BenchmarkSyms   []string
}

// Generator derives predictive insights from patterns and behavior.
// Generate is pure: identical inputs and now produce identical output.
type Generator struct {
	cfg GeneratorConfig
}

// NewGenerator creates an insight generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.MaxPredictions == 0 {
		cfg.MaxPredictions = 20
	}
	if cfg.MinProbability == 0 {
		cfg.MinProbability = 0.3
	}
	if len(cfg.MarketOpenHours) == 0 {
		cfg.MarketOpenHours = []int{9, 10}
	}
	if len(cfg.BenchmarkSyms) == 0 {
		cfg.BenchmarkSyms = []string{"SPY", "QQQ", "DIA"}
	}
	return &Generator{cfg: cfg}
}

const (
	defaultInterval = time.Hour
	dayMs           = 24 * 60 * 60 * 1000
)

// Generate produces insights for the given instant.
func (g *Generator) Generate(patterns []analytics.AccessPattern, behavior analytics.UserBehaviorPattern, now time.Time) *Insights {
	out := &Insights{GeneratedAt: now}
	out.LikelyNextRequests = g.likelyRequests(patterns, now)
	out.WarmingRecommendations = g.recommendations(behavior, now)
	out.QualityFlags = g.qualityFlags(patterns, now)
	return out
}

func (g *Generator) likelyRequests(patterns []analytics.AccessPattern, now time.Time) []LikelyRequest {
	hour := now.Hour()

	var requests []LikelyRequest
	for _, p := range patterns {
		hourScore := 0.2
		if p.PeakHours[hour] {
			hourScore = 0.8
		}

		freqScore := float64(p.AccessCount) / 100
		if freqScore > 1 {
			freqScore = 1
		}

		sinceMs := float64(now.Sub(p.LastAccessed).Milliseconds())
		recencyScore := 1 - sinceMs/dayMs
		if recencyScore < 0 {
			recencyScore = 0
		}

		probability := (hourScore + freqScore + recencyScore) / 3
		if probability <= g.cfg.MinProbability {
			continue
		}

		interval := p.AverageInterval
		if interval == 0 {
			interval = defaultInterval
		}

		requests = append(requests, LikelyRequest{
			Key:              p.Key,
			Probability:      probability,
			SuggestedPreload: now.Add(time.Duration(float64(interval) * 0.8)),
			Priority:         priorityFor(probability),
		})
	}

	sort.Slice(requests, func(i, j int) bool {
		if requests[i].Probability != requests[j].Probability {
			return requests[i].Probability > requests[j].Probability
		}
		return requests[i].Key < requests[j].Key
	})

	if len(requests) > g.cfg.MaxPredictions {
		requests = requests[:g.cfg.MaxPredictions]
	}
	return requests
}

func (g *Generator) recommendations(behavior analytics.UserBehaviorPattern, now time.Time) []WarmingRecommendation {
	var recs []WarmingRecommendation
	hour := now.Hour()

	if behavior.PeakUsageHours[hour] {
		if dataType := topDataType(behavior.DataTypePrefs); dataType != "" {
			recs = append(recs, WarmingRecommendation{
				DataType: dataType,
				Symbols:  recentSymbols(behavior.PortfolioFocus, 10),
				Timing:   now.Add(5 * time.Minute),
				Reason:   "peak usage detected",
			})
		}
	}

	for _, open := range g.cfg.MarketOpenHours {
		if hour == open {
			recs = append(recs, WarmingRecommendation{
				DataType: "stock-data",
				Symbols:  append([]string(nil), g.cfg.BenchmarkSyms...),
				Timing:   now.Add(2 * time.Minute),
				Reason:   "market opening detected",
			})
			break
		}
	}

	return recs
}

func (g *Generator) qualityFlags(patterns []analytics.AccessPattern, now time.Time) []QualityFlag {
	var flags []QualityFlag
	for _, p := range patterns {
		if now.Sub(p.LastAccessed) > 24*time.Hour {
			flags = append(flags, QualityFlag{
				Key:      p.Key,
				Issue:    "stale: not accessed in over 24h",
				Severity: "medium",
			})
		}
		if p.HitRate < 0.5 && p.AccessCount > 10 {
			flags = append(flags, QualityFlag{
				Key:      p.Key,
				Issue:    "low hit rate",
				Severity: "medium",
			})
		}
		if p.ResponseTimeMs > 1000 {
			flags = append(flags, QualityFlag{
				Key:      p.Key,
				Issue:    "slow response",
				Severity: "high",
			})
		}
	}
	return flags
}

func priorityFor(probability float64) Priority {
	switch {
	case probability > 0.7:
		return PriorityHigh
	case probability > 0.4:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// topDataType picks the most-preferred data type, alphabetical on ties so
// generation stays deterministic.
func topDataType(prefs map[string]int64) string {
	var top string
	var topCount int64 = -1
	names := make([]string, 0, len(prefs))
	for name := range prefs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if prefs[name] > topCount {
			top = name
			topCount = prefs[name]
		}
	}
	return top
}

func recentSymbols(focus []string, n int) []string {
	if len(focus) <= n {
		return append([]string(nil), focus...)
	}
	return append([]string(nil), focus[len(focus)-n:]...)
}
