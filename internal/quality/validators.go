// internal/quality/validators.go
package quality

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// PriceValidator checks that a quote payload carries a sane price.
type PriceValidator struct{}

func (PriceValidator) Name() string { return "price-validation" }

func (PriceValidator) Validate(key string, payload any, meta Metadata) RuleResult {
	res := RuleResult{Passed: true, Score: 100, Confidence: 0.9}

	m, ok := asMap(payload)
	if !ok {
		res.Passed = false
		res.Score = 0
		res.Issues = append(res.Issues, Issue{
			RuleID:      "price-validation",
			Description: "payload is not a structured quote",
			Severity:    SeverityCritical,
		})
		return res
	}

	for _, field := range []string{"price", "symbol", "timestamp"} {
		if _, present := m[field]; !present {
			res.Score -= 30
			res.Issues = append(res.Issues, Issue{
				RuleID:      "price-validation",
				Description: fmt.Sprintf("required field %q missing", field),
				Severity:    SeverityCritical,
			})
		}
	}

	if price, ok := asFloat(m["price"]); ok {
		if price <= 0 {
			res.Score -= 30
			res.Issues = append(res.Issues, Issue{
				RuleID:      "price-validation",
				Description: fmt.Sprintf("price %v is not positive", price),
				Severity:    SeverityCritical,
			})
		} else if price > 10000 {
			res.Score -= 10
			res.Issues = append(res.Issues, Issue{
				RuleID:      "price-validation",
				Description: fmt.Sprintf("price %v looks suspicious", price),
				Severity:    SeverityMedium,
			})
		}
	}

	if res.Score < 0 {
		res.Score = 0
	}
	res.Passed = res.Score >= 70 && !hasCritical(res.Issues)
	return res
}

// FreshnessValidator penalizes stale payloads: 2 points per hour past
// 24h, capped at 50.
type FreshnessValidator struct{}

func (FreshnessValidator) Name() string { return "freshness" }

func (FreshnessValidator) Validate(key string, payload any, meta Metadata) RuleResult {
	res := RuleResult{Passed: true, Score: 100, Confidence: 0.9}

	ts := meta.Timestamp
	if ts.IsZero() {
		if m, ok := asMap(payload); ok {
			if ms, ok := asFloat(m["timestamp"]); ok {
				ts = time.UnixMilli(int64(ms))
			}
		}
	}
	if ts.IsZero() {
		res.Score = 80
		res.Confidence = 0.5
		res.Issues = append(res.Issues, Issue{
			RuleID:      "freshness",
			Description: "payload has no timestamp",
			Severity:    SeverityMedium,
		})
		return res
	}

	age := meta.Now.Sub(ts)
	if age > 24*time.Hour {
		ageHours := age.Hours()
		penalty := math.Min(50, ageHours*2)
		res.Score = 100 - penalty

		severity := SeverityMedium
		if age > 72*time.Hour {
			severity = SeverityHigh
		}
		res.Issues = append(res.Issues, Issue{
			RuleID:      "freshness",
			Description: fmt.Sprintf("payload is %.0f hours old", ageHours),
			Severity:    severity,
		})
	}

	res.Passed = res.Score >= 70
	return res
}

// CompletenessValidator scores the fraction of non-empty leaf fields.
type CompletenessValidator struct{}

func (CompletenessValidator) Name() string { return "completeness" }

func (CompletenessValidator) Validate(key string, payload any, meta Metadata) RuleResult {
	res := RuleResult{Passed: true, Score: 100, Confidence: 0.8}

	total, empty := countLeaves(payload)
	if total == 0 {
		res.Score = 0
		res.Confidence = 0.5
		res.Passed = false
		res.Issues = append(res.Issues, Issue{
			RuleID:      "completeness",
			Description: "payload has no fields",
			Severity:    SeverityHigh,
		})
		return res
	}

	res.Score = float64(total-empty) / float64(total) * 100
	if res.Score < 80 {
		res.Issues = append(res.Issues, Issue{
			RuleID:      "completeness",
			Description: fmt.Sprintf("%d of %d fields empty", empty, total),
			Severity:    SeverityMedium,
		})
	}
	res.Passed = res.Score >= 70
	return res
}

// ConsistencyValidator cross-checks derived fields against their inputs.
type ConsistencyValidator struct{}

func (ConsistencyValidator) Name() string { return "consistency" }

func (ConsistencyValidator) Validate(key string, payload any, meta Metadata) RuleResult {
	res := RuleResult{Passed: true, Score: 100, Confidence: 0.85}

	m, ok := asMap(payload)
	if !ok {
		res.Confidence = 0.3
		return res
	}

	price, hasPrice := asFloat(m["price"])

	if shares, ok := asFloat(m["sharesOutstanding"]); ok && hasPrice {
		if marketCap, ok := asFloat(m["marketCap"]); ok && price > 0 && shares > 0 {
			expected := price * shares
			if relativeDrift(marketCap, expected) > 0.10 {
				res.Score -= 20
				res.Issues = append(res.Issues, Issue{
					RuleID:      "consistency",
					Description: "marketCap drifts more than 10% from price x sharesOutstanding",
					Severity:    SeverityMedium,
				})
			}
		}
	}

	if eps, ok := asFloat(m["eps"]); ok && hasPrice && eps != 0 {
		if pe, ok := asFloat(m["peRatio"]); ok {
			expected := price / eps
			if relativeDrift(pe, expected) > 0.05 {
				res.Score -= 10
				res.Issues = append(res.Issues, Issue{
					RuleID:      "consistency",
					Description: "P/E drifts more than 5% from price / eps",
					Severity:    SeverityMedium,
				})
			}
		}
	}

	res.Passed = res.Score >= 70
	return res
}

// plausible per-field numeric ranges
var outlierRanges = map[string][2]float64{
	"price":         {0.01, 10000},
	"beta":          {-5, 5},
	"peRatio":       {0, 1000},
	"dividendYield": {0, 0.25},
	"volume":        {0, 1e12},
}

// OutlierValidator flags numeric fields outside plausible ranges.
type OutlierValidator struct{}

func (OutlierValidator) Name() string { return "outlier" }

func (OutlierValidator) Validate(key string, payload any, meta Metadata) RuleResult {
	res := RuleResult{Passed: true, Score: 100, Confidence: 0.7}

	m, ok := asMap(payload)
	if !ok {
		res.Confidence = 0.3
		return res
	}

	for field, bounds := range outlierRanges {
		v, present := asFloat(m[field])
		if !present {
			continue
		}
		if v < bounds[0] || v > bounds[1] {
			res.Score -= 5
			res.Issues = append(res.Issues, Issue{
				RuleID:      "outlier",
				Description: fmt.Sprintf("%s=%v outside plausible range [%v, %v]", field, v, bounds[0], bounds[1]),
				Severity:    SeverityLow,
			})
		}
	}

	res.Passed = res.Score >= 70
	return res
}

var errorPatterns = []string{"error", "timeout", "network", "unavailable"}

// NetworkIntegrityValidator catches error pages and truncated responses
// that slipped into the cache as payloads.
type NetworkIntegrityValidator struct{}

func (NetworkIntegrityValidator) Name() string { return "network-integrity" }

func (NetworkIntegrityValidator) Validate(key string, payload any, meta Metadata) RuleResult {
	res := RuleResult{Passed: true, Score: 100, Confidence: 1.0}

	s, ok := payload.(string)
	if !ok {
		return res
	}

	lower := strings.ToLower(s)
	for _, pattern := range errorPatterns {
		if strings.Contains(lower, pattern) {
			res.Passed = false
			res.Score = 0
			res.Issues = append(res.Issues, Issue{
				RuleID:      "network-integrity",
				Description: fmt.Sprintf("payload contains error pattern %q", pattern),
				Severity:    SeverityCritical,
			})
			return res
		}
	}

	trimmed := strings.TrimSpace(s)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && !json.Valid([]byte(trimmed)) {
		res.Score -= 40
		res.Issues = append(res.Issues, Issue{
			RuleID:      "network-integrity",
			Description: "structured payload appears truncated",
			Severity:    SeverityHigh,
		})
		res.Passed = false
	}

	return res
}

// DefaultRules returns the standard rule set wired to the default
// validator strategies.
func DefaultRules() []*Rule {
	return []*Rule{
		{
			ID: "price-validation", Name: "Price validation", DataType: "stock-data",
			Severity: SeverityCritical, Enabled: true, AutoInvalidate: true,
			AlertThreshold: 70, Validator: PriceValidator{},
		},
		{
			ID: "freshness", Name: "Freshness", DataType: "all",
			Severity: SeverityHigh, Enabled: true, AutoInvalidate: false,
			AlertThreshold: 70, Validator: FreshnessValidator{},
		},
		{
			ID: "completeness", Name: "Completeness", DataType: "all",
			Severity: SeverityMedium, Enabled: true, AutoInvalidate: false,
			AlertThreshold: 70, Validator: CompletenessValidator{},
		},
		{
			ID: "consistency", Name: "Consistency", DataType: "fundamentals",
			Severity: SeverityMedium, Enabled: true, AutoInvalidate: false,
			AlertThreshold: 70, Validator: ConsistencyValidator{},
		},
		{
			ID: "outlier", Name: "Outlier detection", DataType: "all",
			Severity: SeverityLow, Enabled: true, AutoInvalidate: false,
			AlertThreshold: 70, Validator: OutlierValidator{},
		},
		{
			ID: "network-integrity", Name: "Network integrity", DataType: "all",
			Severity: SeverityCritical, Enabled: true, AutoInvalidate: true,
			AlertThreshold: 70, Validator: NetworkIntegrityValidator{},
		},
	}
}

func asMap(payload any) (map[string]any, bool) {
	m, ok := payload.(map[string]any)
	return m, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func relativeDrift(actual, expected float64) float64 {
	if expected == 0 {
		return 0
	}
	return math.Abs(actual-expected) / math.Abs(expected)
}

// countLeaves walks the payload counting leaf fields and how many are
// empty (nil, empty string, empty map or slice).
func countLeaves(v any) (total, empty int) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return 1, 1
		}
		for _, child := range val {
			t, e := countLeaves(child)
			total += t
			empty += e
		}
	case []any:
		if len(val) == 0 {
			return 1, 1
		}
		for _, child := range val {
			t, e := countLeaves(child)
			total += t
			empty += e
		}
	case nil:
		return 1, 1
	case string:
		total = 1
		if val == "" {
			empty = 1
		}
	default:
		total = 1
	}
	return total, empty
}

func hasCritical(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
