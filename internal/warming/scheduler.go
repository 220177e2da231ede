// internal/warming/scheduler.go
package warming

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/FairForge/marketcache/internal/config"
	"github.com/FairForge/marketcache/internal/events"
	"github.com/FairForge/marketcache/internal/insight"
	"github.com/FairForge/marketcache/internal/keys"
)

var errNoSource = errors.New("warming: no data source configured")

// DataSource fetches a payload for a data type and optional symbol.
// Fetch timeouts are the source's responsibility; an error here feeds the
// retry/backoff path.
type DataSource interface {
	Fetch(ctx context.Context, dataType, symbol string) ([]byte, error)
}

// Sink receives warmed payloads. Satisfied by tier.Layered.
type Sink interface {
	Set(key string, value []byte, ttl time.Duration) error
}

// Stats summarizes warming effectiveness.
type Stats struct {
	TasksCompleted int64         `json:"tasks_completed"`
	TasksFailed    int64         `json:"tasks_failed"`
	TimeSaved      time.Duration `json:"time_saved"`
	BytesWarmed    int64         `json:"bytes_warmed"`
	Efficiency     float64       `json:"efficiency"`
}

// Scheduler turns insights into warming tasks and executes them under
// concurrency, quiet-hours, activity, and daily-cap constraints. Ticks
// never block on task execution.
type Scheduler struct {
	mu sync.Mutex

	cfg    config.WarmingConfig
	ttlFor func(dataType string) time.Duration

	tasks          map[string]*Task
	running        int
	completedToday int
	day            string

	source  DataSource
	sink    Sink
	probe   ActivityProbe
	bus     events.Bus
	logger  *zap.Logger
	limiter *rate.Limiter

	completed int64
	failed    int64
	timeSaved time.Duration
	bytes     int64

	// Baseline remote-fetch latency credited per warmed entry.
	baseline time.Duration

	nowFn func() time.Time
}

// NewScheduler creates a warming scheduler.
func NewScheduler(cfg config.WarmingConfig, ttlFor func(string) time.Duration,
	source DataSource, sink Sink, probe ActivityProbe, bus events.Bus, logger *zap.Logger) *Scheduler {

	if probe == nil {
		probe = AlwaysIdle{}
	}
	limit := rate.Limit(cfg.FetchesPerSecond)
	if cfg.FetchesPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.MaxConcurrentTasks
	if burst < 1 {
		burst = 1
	}
	return &Scheduler{
		cfg:      cfg,
		ttlFor:   ttlFor,
		tasks:    make(map[string]*Task),
		source:   source,
		sink:     sink,
		probe:    probe,
		bus:      bus,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, burst),
		baseline: 2 * time.Second,
		nowFn:    time.Now,
	}
}

// WithNow overrides the completion time source, for tests.
func (s *Scheduler) WithNow(now func() time.Time) *Scheduler {
	s.nowFn = now
	return s
}

// ScheduleFromInsights creates pending tasks for each likely next request
// and each recommended (dataType, symbol) pair.
func (s *Scheduler) ScheduleFromInsights(ins *insight.Insights, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, req := range ins.LikelyNextRequests {
		if s.enqueue(req.Key, req.Priority, req.Probability, req.SuggestedPreload, now) {
			added++
		}
	}

	for _, rec := range ins.WarmingRecommendations {
		for _, sym := range rec.Symbols {
			key := keys.Build(rec.DataType, sym)
			if s.enqueue(key, insight.PriorityMedium, 0.6, rec.Timing, now) {
				added++
			}
		}
	}

	s.capPending()
	return added
}

// Warm manually schedules one key for immediate warming. Returns a
// snapshot of the pending task, or nil when the queue was full and the
// task lost the eviction.
func (s *Scheduler) Warm(dataType, symbol string, priority insight.Priority, now time.Time) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keys.Build(dataType, symbol)
	s.enqueue(key, priority, 1.0, now, now)
	s.capPending()

	t := s.findPendingLocked(key)
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// enqueue adds a pending task unless one already exists for the key.
// Caller holds the lock.
func (s *Scheduler) enqueue(key string, priority insight.Priority, benefit float64, scheduled, now time.Time) bool {
	if existing := s.findPendingLocked(key); existing != nil {
		// Keep the stronger claim
		if benefit > existing.EstimatedBenefit {
			existing.EstimatedBenefit = benefit
			existing.Priority = priority
		}
		if scheduled.Before(existing.ScheduledTime) {
			existing.ScheduledTime = scheduled
		}
		return false
	}

	dataType, symbol := keys.Parse(key)
	task := &Task{
		ID:               uuid.NewString(),
		Key:              key,
		Priority:         priority,
		ScheduledTime:    scheduled,
		EstimatedBenefit: benefit,
		DataType:         dataType,
		Symbol:           symbol,
		Status:           StatusPending,
		CreatedAt:        now,
	}
	s.tasks[task.ID] = task
	return true
}

// findPendingLocked returns the pending task for a key, if any. Caller
// holds the lock.
func (s *Scheduler) findPendingLocked(key string) *Task {
	for _, t := range s.tasks {
		if t.Key == key && t.Status == StatusPending {
			return t
		}
	}
	return nil
}

// capPending evicts the lowest-scored pending tasks once the queue
// exceeds its cap. Caller holds the lock.
func (s *Scheduler) capPending() {
	var pending []*Task
	for _, t := range s.tasks {
		if t.Status == StatusPending {
			pending = append(pending, t)
		}
	}
	if len(pending) <= s.cfg.MaxPendingTasks {
		return
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].Score() < pending[j].Score() })
	for _, t := range pending[:len(pending)-s.cfg.MaxPendingTasks] {
		delete(s.tasks, t.ID)
	}
}

// Tick selects due, eligible pending tasks and launches up to the free
// concurrency slots, highest score first. Returns the number launched.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.Lock()

	s.rolloverDay(now)

	if !s.eligibleLocked(now) {
		s.mu.Unlock()
		return 0
	}

	var due []*Task
	for _, t := range s.tasks {
		if t.Status == StatusPending && !t.ScheduledTime.After(now) {
			due = append(due, t)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Score() != due[j].Score() {
			return due[i].Score() > due[j].Score()
		}
		return due[i].Key < due[j].Key
	})

	slots := s.cfg.MaxConcurrentTasks - s.running
	launched := 0
	for _, t := range due {
		if launched >= slots {
			break
		}
		t.Status = StatusRunning
		s.running++
		launched++
		go s.execute(ctx, t.ID)
	}

	s.mu.Unlock()
	return launched
}

// execute runs one task to completion or failure. Runs off the tick.
func (s *Scheduler) execute(ctx context.Context, id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	dataType, symbol, key := t.DataType, t.Symbol, t.Key
	s.mu.Unlock()

	if s.source == nil {
		s.finishFailure(id, s.nowFn(), errNoSource)
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.finishFailure(id, s.nowFn(), err)
		return
	}

	payload, err := s.source.Fetch(ctx, dataType, symbol)
	now := s.nowFn()
	if err != nil {
		s.finishFailure(id, now, err)
		return
	}

	if serr := s.sink.Set(key, payload, s.ttlFor(dataType)); serr != nil {
		s.logger.Warn("storing warmed payload failed",
			zap.String("key", key), zap.Error(serr))
	}

	s.mu.Lock()
	t, ok = s.tasks[id]
	if ok {
		t.Status = StatusCompleted
		t.CompletedAt = now
		s.running--
		s.completedToday++
		s.completed++
		s.timeSaved += s.baseline
		s.bytes += int64(len(payload))
	}
	s.mu.Unlock()

	if s.bus != nil {
		_ = s.bus.Publish(ctx, events.Event{
			Type:      events.WarmingCompleted,
			Key:       key,
			DataType:  dataType,
			Symbol:    symbol,
			Timestamp: now,
		})
	}
}

// finishFailure applies the retry/backoff policy. The retry delay is
// initialDelay * multiplier^retryCount computed before the increment, so
// delays run 1s, 2s, 4s at the defaults.
func (s *Scheduler) finishFailure(id string, now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return
	}

	s.running--
	t.Error = err.Error()

	if t.RetryCount < s.cfg.Retry.MaxRetries {
		delay := time.Duration(float64(s.cfg.Retry.InitialDelay.Std()) *
			math.Pow(s.cfg.Retry.BackoffMultiplier, float64(t.RetryCount)))
		t.RetryCount++
		t.Status = StatusPending
		t.ScheduledTime = now.Add(delay)
		s.logger.Debug("warming task rescheduled",
			zap.String("key", t.Key),
			zap.Int("retry", t.RetryCount),
			zap.Duration("delay", delay))
		return
	}

	t.Status = StatusFailed
	t.CompletedAt = now
	s.failed++
	s.logger.Warn("warming task failed permanently",
		zap.String("key", t.Key),
		zap.Int("retries", t.RetryCount),
		zap.Error(err))
}

// eligibleLocked gates execution on quiet hours, user activity, idle
// time, and the daily cap. Caller holds the lock.
func (s *Scheduler) eligibleLocked(now time.Time) bool {
	if inQuietHours(now.Hour(), s.cfg.QuietHoursStart, s.cfg.QuietHoursEnd) {
		return false
	}
	if s.cfg.RespectActivity && s.probe.IsActive(now) {
		return false
	}
	if last := s.probe.LastActivity(); !last.IsZero() && now.Sub(last) < s.cfg.MinimumIdleTime.Std() {
		return false
	}
	if s.completedToday >= s.cfg.MaxDailyWarming {
		return false
	}
	return true
}

// inQuietHours handles windows that wrap past midnight (23 -> 6).
func inQuietHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (s *Scheduler) rolloverDay(now time.Time) {
	day := now.Format("2006-01-02")
	if s.day != day {
		s.day = day
		s.completedToday = 0
	}
}

// Cleanup garbage-collects terminal tasks older than 24h.
func (s *Scheduler) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tasks {
		if t.Terminal() && now.Sub(t.CompletedAt) > 24*time.Hour {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

// Tasks returns a snapshot of all tasks, ordered by creation time.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Task returns a snapshot of one task by ID.
func (s *Scheduler) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Running returns the number of in-flight tasks.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns warming effectiveness counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	eff := 0.0
	if total := s.completed + s.failed; total > 0 {
		eff = float64(s.completed) / float64(total)
	}
	return Stats{
		TasksCompleted: s.completed,
		TasksFailed:    s.failed,
		TimeSaved:      s.timeSaved,
		BytesWarmed:    s.bytes,
		Efficiency:     eff,
	}
}
