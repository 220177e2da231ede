// internal/analytics/recorder.go
package analytics

import (
	"sort"
	"sync"
	"time"

	"github.com/FairForge/marketcache/internal/keys"
)

// AccessPattern tracks how a single cache key is used over time.
type AccessPattern struct {
	Key             string        `json:"key"`
	AccessCount     int64         `json:"access_count"`
	FirstAccessed   time.Time     `json:"first_accessed"`
	LastAccessed    time.Time     `json:"last_accessed"`
	AverageInterval time.Duration `json:"average_interval"`
	PeakHours       map[int]bool  `json:"peak_hours"`
	DataType        string        `json:"data_type"`
	Symbol          string        `json:"symbol,omitempty"`
	HitRate         float64       `json:"hit_rate"`
	ResponseTimeMs  float64       `json:"response_time_ms"`
}

// TierPerformance aggregates hit/miss counts and response time per tier.
// The response-time average is a two-point average of the previous value
// and the newest sample, kept for parity with the dashboard's original
// accounting. It drifts from a true mean under sustained load.
type TierPerformance struct {
	Tier              string  `json:"tier"`
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// Savings estimates what serving from cache avoided in remote fetches.
type Savings struct {
	APICallsAvoided int64         `json:"api_calls_avoided"`
	TimeSaved       time.Duration `json:"time_saved"`
	BandwidthSaved  int64         `json:"bandwidth_saved_bytes"`
	CostSaved       float64       `json:"cost_saved_usd"`
}

// Assumed cost of one avoided remote fetch.
const (
	avoidedCallBytes = 8 * 1024
	avoidedCallCost  = 0.002
)

// RecorderConfig bounds the pattern table.
type RecorderConfig struct {
	MaxPatterns   int
	PatternMaxAge time.Duration
	BaselineFetch time.Duration
}

// Recorder maintains per-key access patterns and per-tier aggregates.
type Recorder struct {
	mu       sync.RWMutex
	cfg      RecorderConfig
	patterns map[string]*AccessPattern
	tiers    map[string]*TierPerformance
	savings  Savings
}

// NewRecorder creates an access recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.MaxPatterns == 0 {
		cfg.MaxPatterns = 1000
	}
	if cfg.PatternMaxAge == 0 {
		cfg.PatternMaxAge = 30 * 24 * time.Hour
	}
	if cfg.BaselineFetch == 0 {
		cfg.BaselineFetch = 2 * time.Second
	}
	return &Recorder{
		cfg:      cfg,
		patterns: make(map[string]*AccessPattern),
		tiers:    make(map[string]*TierPerformance),
	}
}

// RecordAccess folds one cache access into the pattern table, the tier
// aggregates, and the savings counters.
func (r *Recorder) RecordAccess(key string, hit bool, tierName string, responseTime time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patterns[key]
	if !ok {
		dataType, symbol := keys.Parse(key)
		p = &AccessPattern{
			Key:           key,
			FirstAccessed: now,
			PeakHours:     make(map[int]bool),
			DataType:      dataType,
			Symbol:        symbol,
		}
		r.patterns[key] = p
	}

	p.AccessCount++
	p.LastAccessed = now
	p.AverageInterval = time.Duration(now.Sub(p.FirstAccessed).Nanoseconds() / p.AccessCount)
	p.PeakHours[now.Hour()] = true

	n := float64(p.AccessCount)
	sample := 0.0
	if hit {
		sample = 1.0
	}
	p.HitRate = (p.HitRate*(n-1) + sample) / n

	rtMs := float64(responseTime.Milliseconds())
	p.ResponseTimeMs = (p.ResponseTimeMs*(n-1) + rtMs) / n

	tp, ok := r.tiers[tierName]
	if !ok {
		tp = &TierPerformance{Tier: tierName}
		r.tiers[tierName] = tp
	}
	if hit {
		tp.Hits++
	} else {
		tp.Misses++
	}
	if tp.Hits+tp.Misses == 1 {
		tp.AvgResponseTimeMs = rtMs
	} else {
		tp.AvgResponseTimeMs = (tp.AvgResponseTimeMs + rtMs) / 2
	}

	if hit {
		r.savings.APICallsAvoided++
		if saved := r.cfg.BaselineFetch - responseTime; saved > 0 {
			r.savings.TimeSaved += saved
		}
		r.savings.BandwidthSaved += avoidedCallBytes
		r.savings.CostSaved += avoidedCallCost
	}
}

// Pattern returns a copy of one key's pattern, or nil if unseen.
func (r *Recorder) Pattern(key string) *AccessPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patterns[key]
	if !ok {
		return nil
	}
	cp := clonePattern(p)
	return &cp
}

// Patterns returns a copy of every tracked pattern, ordered by key.
func (r *Recorder) Patterns() []AccessPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AccessPattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, clonePattern(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// PatternCount returns the number of tracked keys.
func (r *Recorder) PatternCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}

// TierPerformances returns a copy of the per-tier aggregates.
func (r *Recorder) TierPerformances() []TierPerformance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TierPerformance, 0, len(r.tiers))
	for _, tp := range r.tiers {
		out = append(out, *tp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// SavingsReport returns the accumulated savings estimate.
func (r *Recorder) SavingsReport() Savings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.savings
}

// Prune drops patterns unseen past the max age, then enforces the table
// cap by evicting the oldest-accessed keys.
func (r *Recorder) Prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for k, p := range r.patterns {
		if now.Sub(p.LastAccessed) > r.cfg.PatternMaxAge {
			delete(r.patterns, k)
			removed++
		}
	}

	if len(r.patterns) > r.cfg.MaxPatterns {
		type aged struct {
			key  string
			last time.Time
		}
		all := make([]aged, 0, len(r.patterns))
		for k, p := range r.patterns {
			all = append(all, aged{k, p.LastAccessed})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].last.Before(all[j].last) })

		excess := len(r.patterns) - r.cfg.MaxPatterns
		for i := 0; i < excess; i++ {
			delete(r.patterns, all[i].key)
			removed++
		}
	}

	return removed
}

func clonePattern(p *AccessPattern) AccessPattern {
	cp := *p
	cp.PeakHours = make(map[int]bool, len(p.PeakHours))
	for h := range p.PeakHours {
		cp.PeakHours[h] = true
	}
	return cp
}
