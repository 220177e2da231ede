// internal/quality/rule.go
package quality

import (
	"time"
)

// Severity orders quality issues.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue is one problem a validator found with a payload.
type Issue struct {
	RuleID      string   `json:"rule_id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// RuleResult is one validator's verdict.
type RuleResult struct {
	Passed     bool    `json:"passed"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Issues     []Issue `json:"issues,omitempty"`
}

// Metadata accompanies a payload into validation.
type Metadata struct {
	DataType  string
	Symbol    string
	Timestamp time.Time
	Now       time.Time
}

// Validator is a named, independently testable validation strategy.
// Implementations must be pure: no shared mutable state.
type Validator interface {
	Name() string
	Validate(key string, payload any, meta Metadata) RuleResult
}

// Rule binds a validator to the data types it applies to.
type Rule struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DataType       string    `json:"data_type"` // "all" or a specific data type
	Severity       Severity  `json:"severity"`
	Enabled        bool      `json:"enabled"`
	AutoInvalidate bool      `json:"auto_invalidate"`
	AlertThreshold float64   `json:"alert_threshold"`
	Validator      Validator `json:"-"`
}

// AppliesTo reports whether the rule covers the data type.
func (r *Rule) AppliesTo(dataType string) bool {
	return r.DataType == "all" || r.DataType == dataType
}

// CheckResult is the aggregated verdict for one payload.
type CheckResult struct {
	Passed     bool    `json:"passed"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Issues     []Issue `json:"issues,omitempty"`
}

// Action is the decision taken on a failing payload.
type Action string

const (
	ActionInvalidate Action = "invalidate"
	ActionRefresh    Action = "refresh"
	ActionQuarantine Action = "quarantine"
)

// InvalidationEvent records one quality decision.
type InvalidationEvent struct {
	ID           string    `json:"id"`
	CacheKey     string    `json:"cache_key"`
	Reason       string    `json:"reason"`
	QualityScore float64   `json:"quality_score"`
	Issues       []string  `json:"issues"`
	Timestamp    time.Time `json:"timestamp"`
	DataType     string    `json:"data_type"`
	Symbol       string    `json:"symbol,omitempty"`
	Action       Action    `json:"action"`
}

// HealthStatus buckets overall cache data health.
type HealthStatus string

const (
	HealthExcellent HealthStatus = "excellent"
	HealthGood      HealthStatus = "good"
	HealthFair      HealthStatus = "fair"
	HealthPoor      HealthStatus = "poor"
	HealthCritical  HealthStatus = "critical"
)

// HealthReport summarizes rolling quality health.
type HealthReport struct {
	Status         HealthStatus `json:"status"`
	AverageScore   float64      `json:"average_score"`
	PassRate       float64      `json:"pass_rate"`
	TotalChecks    int64        `json:"total_checks"`
	HighIssues     int64        `json:"high_issues"`
	CriticalIssues int64        `json:"critical_issues"`
}
