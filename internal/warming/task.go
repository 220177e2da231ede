// internal/warming/task.go
package warming

import (
	"time"

	"github.com/FairForge/marketcache/internal/insight"
)

// Status is a warming task's lifecycle state.
// pending -> running -> {completed, failed}; a failed task with retries
// left is rescheduled back to pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is one unit of proactive cache population.
type Task struct {
	ID               string           `json:"id"`
	Key              string           `json:"key"`
	Priority         insight.Priority `json:"priority"`
	ScheduledTime    time.Time        `json:"scheduled_time"`
	EstimatedBenefit float64          `json:"estimated_benefit"`
	DataType         string           `json:"data_type"`
	Symbol           string           `json:"symbol,omitempty"`
	Status           Status           `json:"status"`
	RetryCount       int              `json:"retry_count"`
	CreatedAt        time.Time        `json:"created_at"`
	CompletedAt      time.Time        `json:"completed_at,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// Score is the scheduling weight: priority weight times benefit.
func (t *Task) Score() float64 {
	return t.Priority.Weight() * t.EstimatedBenefit
}

// Terminal reports whether the task has finished for good.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
