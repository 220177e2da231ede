// internal/warming/activity.go
package warming

import (
	"sync"
	"time"
)

// ActivityProbe reports host user activity so warming can stay out of the
// way of an interactive session. Interactive hosts wire real input hooks;
// headless hosts use AlwaysIdle.
type ActivityProbe interface {
	IsActive(now time.Time) bool
	LastActivity() time.Time
}

// Tracker is an ActivityProbe fed by explicit interaction signals.
type Tracker struct {
	mu     sync.RWMutex
	last   time.Time
	window time.Duration
}

// NewTracker creates a tracker; the user counts as active for window
// after each interaction.
func NewTracker(window time.Duration) *Tracker {
	if window == 0 {
		window = 30 * time.Second
	}
	return &Tracker{window: window}
}

// Touch records a user interaction.
func (t *Tracker) Touch(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = now
}

func (t *Tracker) IsActive(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.last.IsZero() && now.Sub(t.last) < t.window
}

func (t *Tracker) LastActivity() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// AlwaysIdle is the headless probe: never active, idle forever.
type AlwaysIdle struct{}

func (AlwaysIdle) IsActive(time.Time) bool { return false }
func (AlwaysIdle) LastActivity() time.Time { return time.Time{} }
