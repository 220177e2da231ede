// internal/quality/gate.go
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/marketcache/internal/config"
	"github.com/FairForge/marketcache/internal/events"
	"github.com/FairForge/marketcache/internal/keys"
)

// Remover deletes a cache entry. Satisfied by tier.Layered.
type Remover interface {
	Remove(key string) error
}

// Gate validates payloads against the rule registry, scores them, and
// decides pass / refresh / quarantine / invalidate.
type Gate struct {
	mu sync.Mutex

	cfg     config.QualityConfig
	rules   []*Rule
	history []InvalidationEvent

	// key -> quarantine expiry
	quarantined map[string]time.Time

	remover Remover
	bus     events.Bus
	logger  *zap.Logger

	totalChecks    int64
	passedChecks   int64
	scoreSum       float64
	highIssues     int64
	criticalIssues int64
}

// NewGate creates a quality gate seeded with the default rule set.
func NewGate(cfg config.QualityConfig, remover Remover, bus events.Bus, logger *zap.Logger) *Gate {
	return &Gate{
		cfg:         cfg,
		rules:       DefaultRules(),
		quarantined: make(map[string]time.Time),
		remover:     remover,
		bus:         bus,
		logger:      logger,
	}
}

// AddRule registers a rule, replacing any rule with the same ID.
func (g *Gate) AddRule(rule *Rule) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, r := range g.rules {
		if r.ID == rule.ID {
			g.rules[i] = rule
			return
		}
	}
	g.rules = append(g.rules, rule)
}

// RemoveRule drops a rule by ID.
func (g *Gate) RemoveRule(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, r := range g.rules {
		if r.ID == id {
			g.rules = append(g.rules[:i], g.rules[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateRule applies a mutation to a rule by ID.
func (g *Gate) UpdateRule(id string, mutate func(*Rule)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.rules {
		if r.ID == id {
			mutate(r)
			return true
		}
	}
	return false
}

// Rules returns a snapshot of the registry.
func (g *Gate) Rules() []Rule {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Rule, len(g.rules))
	for i, r := range g.rules {
		out[i] = *r
	}
	return out
}

// CheckQuality validates a payload and, on failure, carries out the
// decided action. Byte payloads are decoded as JSON where possible and
// treated as raw strings otherwise.
func (g *Gate) CheckQuality(ctx context.Context, key string, payload any, meta Metadata) CheckResult {
	dataType, symbol := keys.Parse(key)
	if meta.DataType == "" {
		meta.DataType = dataType
	}
	if meta.Symbol == "" {
		meta.Symbol = symbol
	}
	if meta.Now.IsZero() {
		meta.Now = time.Now()
	}

	normalized := normalizePayload(payload)

	g.mu.Lock()
	applicable := make([]*Rule, 0, len(g.rules))
	for _, r := range g.rules {
		if r.Enabled && r.AppliesTo(meta.DataType) {
			applicable = append(applicable, r)
		}
	}
	g.mu.Unlock()

	result := g.aggregate(key, normalized, meta, applicable)

	g.mu.Lock()
	g.totalChecks++
	g.scoreSum += result.Score
	if result.Passed {
		g.passedChecks++
	}
	for _, issue := range result.Issues {
		switch issue.Severity {
		case SeverityHigh:
			g.highIssues++
		case SeverityCritical:
			g.criticalIssues++
		}
	}
	g.mu.Unlock()

	if !result.Passed {
		g.act(ctx, key, meta, result)
	}

	return result
}

// aggregate runs each applicable rule, isolating validator faults, and
// folds the results into one confidence-weighted score.
func (g *Gate) aggregate(key string, payload any, meta Metadata, rules []*Rule) CheckResult {
	if len(rules) == 0 {
		return CheckResult{Passed: true, Score: 100, Confidence: 1}
	}

	var weightedScore, confidenceSum float64
	var issues []Issue
	forceZero := false

	for _, rule := range rules {
		res := g.runRule(rule, key, payload, meta)
		weightedScore += res.Score * res.Confidence
		confidenceSum += res.Confidence
		issues = append(issues, res.Issues...)

		// An error-pattern hit zeroes the whole check
		if res.Score == 0 && hasCritical(res.Issues) {
			forceZero = true
		}
	}

	score := 0.0
	if confidenceSum > 0 {
		score = weightedScore / confidenceSum
	}
	if forceZero {
		score = 0
	}

	return CheckResult{
		Passed:     score >= g.cfg.QualityThreshold && !hasCritical(issues),
		Score:      score,
		Confidence: confidenceSum / float64(len(rules)),
		Issues:     issues,
	}
}

// runRule executes one validator, converting a panic into a failing
// result instead of aborting the check.
func (g *Gate) runRule(rule *Rule, key string, payload any, meta Metadata) (res RuleResult) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("validator fault",
				zap.String("rule", rule.ID),
				zap.String("key", key),
				zap.Any("panic", r))
			res = RuleResult{
				Passed:     false,
				Score:      0,
				Confidence: 0.5,
				Issues: []Issue{{
					RuleID:      rule.ID,
					Description: "validator-error",
					Severity:    SeverityHigh,
				}},
			}
		}
	}()

	return rule.Validator.Validate(key, payload, meta)
}

// act applies the quarantine / refresh / invalidate decision and records
// the invalidation event.
func (g *Gate) act(ctx context.Context, key string, meta Metadata, result CheckResult) {
	var action Action
	switch {
	case hasCritical(result.Issues) || result.Score < g.cfg.CriticalThreshold:
		action = ActionQuarantine
	case result.Score < g.cfg.QualityThreshold:
		action = ActionRefresh
	default:
		action = ActionInvalidate
	}

	descriptions := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		descriptions = append(descriptions, issue.Description)
	}

	event := InvalidationEvent{
		ID:           uuid.NewString(),
		CacheKey:     key,
		Reason:       fmt.Sprintf("quality check failed with score %.1f", result.Score),
		QualityScore: result.Score,
		Issues:       descriptions,
		Timestamp:    meta.Now,
		DataType:     meta.DataType,
		Symbol:       meta.Symbol,
		Action:       action,
	}

	g.mu.Lock()
	g.history = append(g.history, event)
	if len(g.history) > g.cfg.MaxHistory {
		g.history = g.history[len(g.history)-g.cfg.MaxHistory:]
	}
	if action == ActionQuarantine {
		g.quarantined[key] = meta.Now.Add(g.cfg.QuarantineDuration.Std())
	}
	g.mu.Unlock()

	switch action {
	case ActionQuarantine:
		if g.remover != nil {
			_ = g.remover.Remove(key)
		}
		g.publish(ctx, events.KeyQuarantined, key, meta, result.Score, "critical quality failure")
		g.logger.Warn("cache key quarantined",
			zap.String("key", key),
			zap.Float64("score", result.Score))
	case ActionRefresh:
		g.publish(ctx, events.RefreshRequested, key, meta, result.Score, "quality below threshold")
	case ActionInvalidate:
		if g.remover != nil {
			_ = g.remover.Remove(key)
		}
		g.publish(ctx, events.CacheInvalidated, key, meta, result.Score, "quality check failed")
	}

	g.publish(ctx, events.QualityIssue, key, meta, result.Score, string(action))
}

func (g *Gate) publish(ctx context.Context, eventType events.Type, key string, meta Metadata, score float64, reason string) {
	if g.bus == nil {
		return
	}
	_ = g.bus.Publish(ctx, events.Event{
		Type:      eventType,
		Key:       key,
		DataType:  meta.DataType,
		Symbol:    meta.Symbol,
		Score:     score,
		Reason:    reason,
		Timestamp: meta.Now,
	})
}

// IsQuarantined reports whether a key is currently banned. An expired
// quarantine is released on the way out.
func (g *Gate) IsQuarantined(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.quarantined[key]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(g.quarantined, key)
		return false
	}
	return true
}

// ReleaseQuarantine manually lifts a quarantine.
func (g *Gate) ReleaseQuarantine(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.quarantined[key]; !ok {
		return false
	}
	delete(g.quarantined, key)
	return true
}

// QuarantinedKeys returns the currently banned keys, sorted.
func (g *Gate) QuarantinedKeys(now time.Time) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []string
	for key, expiry := range g.quarantined {
		if now.After(expiry) {
			delete(g.quarantined, key)
			continue
		}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// History returns a copy of the invalidation event log, newest last.
func (g *Gate) History() []InvalidationEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]InvalidationEvent(nil), g.history...)
}

// Health derives a status bucket from rolling score, pass rate, and
// accumulated issue counts.
func (g *Gate) Health() HealthReport {
	g.mu.Lock()
	defer g.mu.Unlock()

	report := HealthReport{
		TotalChecks:    g.totalChecks,
		HighIssues:     g.highIssues,
		CriticalIssues: g.criticalIssues,
	}
	if g.totalChecks == 0 {
		report.Status = HealthExcellent
		report.AverageScore = 100
		report.PassRate = 1
		return report
	}

	report.AverageScore = g.scoreSum / float64(g.totalChecks)
	report.PassRate = float64(g.passedChecks) / float64(g.totalChecks)

	switch {
	case report.AverageScore < 30 || g.criticalIssues > 5:
		report.Status = HealthCritical
	case g.highIssues > 10 || report.AverageScore < 50 || report.PassRate < 0.6:
		report.Status = HealthPoor
	case report.AverageScore < 70 || report.PassRate < 0.8:
		report.Status = HealthFair
	case report.AverageScore < 85:
		report.Status = HealthGood
	default:
		report.Status = HealthExcellent
	}
	return report
}

// normalizePayload decodes byte payloads as JSON when possible so the
// structural validators see maps, falling back to the raw string so the
// network-integrity validator sees error pages.
func normalizePayload(payload any) any {
	b, ok := payload.([]byte)
	if !ok {
		return payload
	}

	var v any
	if err := json.Unmarshal(b, &v); err == nil {
		return v
	}
	return string(b)
}
