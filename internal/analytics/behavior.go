// internal/analytics/behavior.go
package analytics

import (
	"sync"
	"time"

	"github.com/FairForge/marketcache/internal/keys"
)

// UserBehaviorPattern aggregates a session's temporal and symbol-focus
// habits. It lives for the process lifetime.
type UserBehaviorPattern struct {
	SessionID       string           `json:"session_id"`
	DailyPatterns   map[int]int64    `json:"daily_patterns"`
	WeeklyPatterns  map[int]int64    `json:"weekly_patterns"`
	PortfolioFocus  []string         `json:"portfolio_focus"`
	DataTypePrefs   map[string]int64 `json:"data_type_preferences"`
	PeakUsageHours  map[int]bool     `json:"peak_usage_hours"`
	LastInteraction time.Time        `json:"last_interaction"`
}

// BehaviorModel mutates one UserBehaviorPattern on every access.
type BehaviorModel struct {
	mu       sync.RWMutex
	pattern  UserBehaviorPattern
	maxFocus int
}

// NewBehaviorModel creates a behavior model for a session. maxFocus caps
// the portfolio focus list to the most recent distinct symbols.
func NewBehaviorModel(sessionID string, maxFocus int) *BehaviorModel {
	if maxFocus == 0 {
		maxFocus = 50
	}
	return &BehaviorModel{
		pattern: UserBehaviorPattern{
			SessionID:      sessionID,
			DailyPatterns:  make(map[int]int64),
			WeeklyPatterns: make(map[int]int64),
			DataTypePrefs:  make(map[string]int64),
			PeakUsageHours: make(map[int]bool),
		},
		maxFocus: maxFocus,
	}
}

// RecordContext folds one access into the behavior pattern.
func (m *BehaviorModel) RecordContext(hour int, weekday time.Weekday, key string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pattern.DailyPatterns[hour]++
	m.pattern.WeeklyPatterns[int(weekday)]++
	m.pattern.LastInteraction = now

	dataType, symbol := keys.Parse(key)
	m.pattern.DataTypePrefs[dataType]++

	if symbol != "" && !m.tracked(symbol) {
		m.pattern.PortfolioFocus = append(m.pattern.PortfolioFocus, symbol)
		if len(m.pattern.PortfolioFocus) > m.maxFocus {
			m.pattern.PortfolioFocus = m.pattern.PortfolioFocus[len(m.pattern.PortfolioFocus)-m.maxFocus:]
		}
	}

	m.pattern.PeakUsageHours[hour] = true
}

// IsPeakUsageTime reports whether the hour has seen activity.
func (m *BehaviorModel) IsPeakUsageTime(hour int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pattern.PeakUsageHours[hour]
}

// Snapshot returns a deep copy of the behavior pattern.
func (m *BehaviorModel) Snapshot() UserBehaviorPattern {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp := m.pattern
	cp.DailyPatterns = cloneCounts(m.pattern.DailyPatterns)
	cp.WeeklyPatterns = cloneCounts(m.pattern.WeeklyPatterns)
	cp.DataTypePrefs = make(map[string]int64, len(m.pattern.DataTypePrefs))
	for k, v := range m.pattern.DataTypePrefs {
		cp.DataTypePrefs[k] = v
	}
	cp.PeakUsageHours = make(map[int]bool, len(m.pattern.PeakUsageHours))
	for h := range m.pattern.PeakUsageHours {
		cp.PeakUsageHours[h] = true
	}
	cp.PortfolioFocus = append([]string(nil), m.pattern.PortfolioFocus...)
	return cp
}

// Restore replaces the model state, used when loading a snapshot.
func (m *BehaviorModel) Restore(p UserBehaviorPattern) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.DailyPatterns == nil {
		p.DailyPatterns = make(map[int]int64)
	}
	if p.WeeklyPatterns == nil {
		p.WeeklyPatterns = make(map[int]int64)
	}
	if p.DataTypePrefs == nil {
		p.DataTypePrefs = make(map[string]int64)
	}
	if p.PeakUsageHours == nil {
		p.PeakUsageHours = make(map[int]bool)
	}
	m.pattern = p
}

func (m *BehaviorModel) tracked(symbol string) bool {
	for _, s := range m.pattern.PortfolioFocus {
		if s == symbol {
			return true
		}
	}
	return false
}

func cloneCounts(in map[int]int64) map[int]int64 {
	out := make(map[int]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
