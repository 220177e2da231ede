// internal/warming/scheduler_test.go
package warming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/marketcache/internal/config"
	"github.com/FairForge/marketcache/internal/insight"
)

type stubSource struct {
	mu      sync.Mutex
	err     error
	calls   int
	payload []byte
	block   chan struct{} // when set, Fetch waits on it
}

func (s *stubSource) Fetch(ctx context.Context, dataType, symbol string) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	err, payload, block := s.err, s.payload, s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type collectSink struct {
	mu   sync.Mutex
	sets map[string][]byte
}

func newCollectSink() *collectSink {
	return &collectSink{sets: make(map[string][]byte)}
}

func (s *collectSink) Set(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[key] = value
	return nil
}

func (s *collectSink) got(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[key]
	return ok
}

// stepClock hands the scheduler a controllable completion time.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type activeProbe struct {
	active bool
	last   time.Time
}

func (p activeProbe) IsActive(time.Time) bool { return p.active }
func (p activeProbe) LastActivity() time.Time { return p.last }

func testWarmingConfig() config.WarmingConfig {
	cfg := config.Default()
	cfg.Warming.FetchesPerSecond = 0 // unlimited in tests
	return cfg.Warming
}

func flatTTL(string) time.Duration { return time.Hour }

func TestScheduler_ScheduleFromInsights(t *testing.T) {
	s := NewScheduler(testWarmingConfig(), flatTTL, &stubSource{}, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	ins := &insight.Insights{
		LikelyNextRequests: []insight.LikelyRequest{
			{Key: "stock-data:AAPL", Probability: 0.9, Priority: insight.PriorityHigh, SuggestedPreload: now.Add(time.Minute)},
		},
		WarmingRecommendations: []insight.WarmingRecommendation{
			{DataType: "stock-data", Symbols: []string{"SPY", "QQQ"}, Timing: now.Add(2 * time.Minute)},
		},
	}

	added := s.ScheduleFromInsights(ins, now)
	assert.Equal(t, 3, added)

	tasks := s.Tasks()
	require.Len(t, tasks, 3)

	byKey := map[string]Task{}
	for _, task := range tasks {
		byKey[task.Key] = task
	}

	predicted := byKey["stock-data:AAPL"]
	assert.Equal(t, insight.PriorityHigh, predicted.Priority)
	assert.Equal(t, 0.9, predicted.EstimatedBenefit)
	assert.Equal(t, StatusPending, predicted.Status)
	assert.Equal(t, "stock-data", predicted.DataType)
	assert.Equal(t, "AAPL", predicted.Symbol)

	recommended := byKey["stock-data:SPY"]
	assert.Equal(t, insight.PriorityMedium, recommended.Priority)
	assert.Equal(t, 0.6, recommended.EstimatedBenefit)
}

func TestScheduler_ScheduleDeduplicates(t *testing.T) {
	s := NewScheduler(testWarmingConfig(), flatTTL, &stubSource{}, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	ins := &insight.Insights{
		LikelyNextRequests: []insight.LikelyRequest{
			{Key: "stock-data:AAPL", Probability: 0.5, Priority: insight.PriorityMedium, SuggestedPreload: now.Add(time.Minute)},
		},
	}
	require.Equal(t, 1, s.ScheduleFromInsights(ins, now))

	// A stronger claim for the same key upgrades the existing task
	ins.LikelyNextRequests[0].Probability = 0.9
	ins.LikelyNextRequests[0].Priority = insight.PriorityHigh
	require.Equal(t, 0, s.ScheduleFromInsights(ins, now))

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 0.9, tasks[0].EstimatedBenefit)
	assert.Equal(t, insight.PriorityHigh, tasks[0].Priority)
}

func TestScheduler_PendingQueueCap(t *testing.T) {
	cfg := testWarmingConfig()
	cfg.MaxPendingTasks = 5
	s := NewScheduler(cfg, flatTTL, &stubSource{}, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	ins := &insight.Insights{}
	for i := 0; i < 8; i++ {
		ins.LikelyNextRequests = append(ins.LikelyNextRequests, insight.LikelyRequest{
			Key:              fmt.Sprintf("stock-data:SYM%d", i),
			Probability:      0.1 * float64(i+1),
			Priority:         insight.PriorityHigh,
			SuggestedPreload: now,
		})
	}
	s.ScheduleFromInsights(ins, now)

	tasks := s.Tasks()
	require.Len(t, tasks, 5)

	// The lowest-benefit tasks were evicted
	for _, task := range tasks {
		assert.GreaterOrEqual(t, task.EstimatedBenefit, 0.4)
	}
}

func TestScheduler_TickExecutesTask(t *testing.T) {
	source := &stubSource{payload: []byte(`{"price":190}`)}
	sink := newCollectSink()
	s := NewScheduler(testWarmingConfig(), flatTTL, source, sink, AlwaysIdle{}, nil, zap.NewNop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	task := s.Warm("stock-data", "AAPL", insight.PriorityHigh, now)
	require.NotNil(t, task)

	launched := s.Tick(context.Background(), now)
	assert.Equal(t, 1, launched)

	require.Eventually(t, func() bool {
		got, ok := s.Task(task.ID)
		return ok && got.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	assert.True(t, sink.got("stock-data:AAPL"))

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.TasksCompleted)
	assert.Equal(t, int64(13), stats.BytesWarmed)
	assert.Equal(t, 1.0, stats.Efficiency)
}

func TestScheduler_RetryBackoff(t *testing.T) {
	clk := &stepClock{now: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}
	start := clk.Now()

	source := &stubSource{err: errors.New("upstream down")}
	s := NewScheduler(testWarmingConfig(), flatTTL, source, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop()).
		WithNow(clk.Now)

	task := s.Warm("stock-data", "AAPL", insight.PriorityHigh, start)
	require.NotNil(t, task)

	waitRetry := func(count int) Task {
		var got Task
		require.Eventually(t, func() bool {
			snap, ok := s.Task(task.ID)
			got = snap
			return ok && snap.Status == StatusPending && snap.RetryCount == count
		}, time.Second, 5*time.Millisecond, "retry %d not reached", count)
		return got
	}

	// First failure: rescheduled 1s out
	require.Equal(t, 1, s.Tick(context.Background(), clk.Now()))
	got := waitRetry(1)
	assert.Equal(t, start.Add(time.Second), got.ScheduledTime)

	// Second failure: 2s backoff
	clk.Set(start.Add(time.Second))
	require.Equal(t, 1, s.Tick(context.Background(), clk.Now()))
	got = waitRetry(2)
	assert.Equal(t, start.Add(3*time.Second), got.ScheduledTime)

	// Third failure: 4s backoff
	clk.Set(start.Add(3 * time.Second))
	require.Equal(t, 1, s.Tick(context.Background(), clk.Now()))
	got = waitRetry(3)
	assert.Equal(t, start.Add(7*time.Second), got.ScheduledTime)

	// Retries exhausted: the next failure is terminal
	clk.Set(start.Add(7 * time.Second))
	require.Equal(t, 1, s.Tick(context.Background(), clk.Now()))
	require.Eventually(t, func() bool {
		snap, ok := s.Task(task.ID)
		return ok && snap.Status == StatusFailed
	}, time.Second, 5*time.Millisecond)

	final, _ := s.Task(task.ID)
	assert.Equal(t, 3, final.RetryCount)
	assert.Equal(t, "upstream down", final.Error)
	assert.Equal(t, int64(1), s.Stats().TasksFailed)
	assert.Equal(t, 4, source.callCount())
}

func TestScheduler_WarmReturnsSnapshot(t *testing.T) {
	clk := &stepClock{now: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}
	source := &stubSource{err: errors.New("upstream down")}
	s := NewScheduler(testWarmingConfig(), flatTTL, source, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop()).
		WithNow(clk.Now)

	task := s.Warm("stock-data", "AAPL", insight.PriorityHigh, clk.Now())
	require.NotNil(t, task)

	require.Equal(t, 1, s.Tick(context.Background(), clk.Now()))
	require.Eventually(t, func() bool {
		snap, ok := s.Task(task.ID)
		return ok && snap.RetryCount == 1
	}, time.Second, 5*time.Millisecond)

	// The caller's copy is detached from the live task the executor mutates
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 0, task.RetryCount)
	assert.Empty(t, task.Error)
}

func TestScheduler_WarmNilWhenEvicted(t *testing.T) {
	cfg := testWarmingConfig()
	cfg.MaxPendingTasks = 1
	s := NewScheduler(cfg, flatTTL, &stubSource{}, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	require.NotNil(t, s.Warm("stock-data", "AAPL", insight.PriorityHigh, now))

	// A low-score task arriving on a full queue loses the eviction
	assert.Nil(t, s.Warm("stock-data", "MSFT", insight.PriorityLow, now))

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "stock-data:AAPL", tasks[0].Key)
}

func TestScheduler_NotDueNotLaunched(t *testing.T) {
	s := NewScheduler(testWarmingConfig(), flatTTL, &stubSource{}, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	ins := &insight.Insights{
		LikelyNextRequests: []insight.LikelyRequest{
			{Key: "stock-data:AAPL", Probability: 0.9, Priority: insight.PriorityHigh, SuggestedPreload: now.Add(time.Hour)},
		},
	}
	s.ScheduleFromInsights(ins, now)

	assert.Equal(t, 0, s.Tick(context.Background(), now))
	assert.Equal(t, 1, s.Tick(context.Background(), now.Add(time.Hour)))
}

func TestScheduler_ConcurrencyCap(t *testing.T) {
	cfg := testWarmingConfig()
	cfg.MaxConcurrentTasks = 2

	block := make(chan struct{})
	source := &stubSource{payload: []byte("x"), block: block}
	s := NewScheduler(cfg, flatTTL, source, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.Warm("stock-data", fmt.Sprintf("SYM%d", i), insight.PriorityHigh, now)
	}

	launched := s.Tick(context.Background(), now)
	assert.Equal(t, 2, launched)
	assert.Equal(t, 2, s.Running())

	// No free slots while both are in flight
	assert.Equal(t, 0, s.Tick(context.Background(), now))

	close(block)
	require.Eventually(t, func() bool { return s.Running() == 0 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, s.Tick(context.Background(), now))
}

func TestScheduler_HighestScoreFirst(t *testing.T) {
	cfg := testWarmingConfig()
	cfg.MaxConcurrentTasks = 1

	block := make(chan struct{})
	defer close(block)
	source := &stubSource{payload: []byte("x"), block: block}
	s := NewScheduler(cfg, flatTTL, source, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	ins := &insight.Insights{
		LikelyNextRequests: []insight.LikelyRequest{
			{Key: "stock-data:LOW", Probability: 0.4, Priority: insight.PriorityLow, SuggestedPreload: now},
			{Key: "stock-data:HIGH", Probability: 0.9, Priority: insight.PriorityHigh, SuggestedPreload: now},
		},
	}
	s.ScheduleFromInsights(ins, now)

	require.Equal(t, 1, s.Tick(context.Background(), now))

	var running Task
	for _, task := range s.Tasks() {
		if task.Status == StatusRunning {
			running = task
		}
	}
	assert.Equal(t, "stock-data:HIGH", running.Key)
}

func TestScheduler_QuietHours(t *testing.T) {
	s := NewScheduler(testWarmingConfig(), flatTTL, &stubSource{payload: []byte("x")}, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop())

	// 23:30 falls in the default 23->6 window
	night := time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC)
	s.Warm("stock-data", "AAPL", insight.PriorityHigh, night)
	assert.Equal(t, 0, s.Tick(context.Background(), night))

	// 03:00 still quiet past midnight
	assert.Equal(t, 0, s.Tick(context.Background(), time.Date(2025, 6, 3, 3, 0, 0, 0, time.UTC)))

	// 07:00 is clear
	assert.Equal(t, 1, s.Tick(context.Background(), time.Date(2025, 6, 3, 7, 0, 0, 0, time.UTC)))
}

func TestInQuietHours(t *testing.T) {
	cases := []struct {
		hour, start, end int
		want             bool
	}{
		{23, 23, 6, true},
		{0, 23, 6, true},
		{5, 23, 6, true},
		{6, 23, 6, false},
		{12, 23, 6, false},
		{2, 1, 5, true},
		{5, 1, 5, false},
		{12, 8, 8, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, inQuietHours(tc.hour, tc.start, tc.end),
			"hour=%d window=%d-%d", tc.hour, tc.start, tc.end)
	}
}

func TestScheduler_RespectsUserActivity(t *testing.T) {
	cfg := testWarmingConfig()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	t.Run("ActiveUserBlocks", func(t *testing.T) {
		probe := activeProbe{active: true, last: now}
		s := NewScheduler(cfg, flatTTL, &stubSource{payload: []byte("x")}, newCollectSink(), probe, nil, zap.NewNop())
		s.Warm("stock-data", "AAPL", insight.PriorityHigh, now)
		assert.Equal(t, 0, s.Tick(context.Background(), now))
	})

	t.Run("RecentActivityBlocks", func(t *testing.T) {
		probe := activeProbe{active: false, last: now.Add(-10 * time.Second)}
		s := NewScheduler(cfg, flatTTL, &stubSource{payload: []byte("x")}, newCollectSink(), probe, nil, zap.NewNop())
		s.Warm("stock-data", "AAPL", insight.PriorityHigh, now)
		assert.Equal(t, 0, s.Tick(context.Background(), now))
	})

	t.Run("IdleUserAllows", func(t *testing.T) {
		probe := activeProbe{active: false, last: now.Add(-time.Minute)}
		s := NewScheduler(cfg, flatTTL, &stubSource{payload: []byte("x")}, newCollectSink(), probe, nil, zap.NewNop())
		s.Warm("stock-data", "AAPL", insight.PriorityHigh, now)
		assert.Equal(t, 1, s.Tick(context.Background(), now))
	})
}

func TestScheduler_DailyCap(t *testing.T) {
	cfg := testWarmingConfig()
	cfg.MaxDailyWarming = 1
	s := NewScheduler(cfg, flatTTL, &stubSource{payload: []byte("x")}, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	first := s.Warm("stock-data", "AAPL", insight.PriorityHigh, now)
	require.Equal(t, 1, s.Tick(context.Background(), now))
	require.Eventually(t, func() bool {
		got, ok := s.Task(first.ID)
		return ok && got.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	// Cap reached for today
	s.Warm("stock-data", "MSFT", insight.PriorityHigh, now)
	assert.Equal(t, 0, s.Tick(context.Background(), now.Add(time.Minute)))

	// A new day resets the budget
	assert.Equal(t, 1, s.Tick(context.Background(), now.Add(24*time.Hour)))
}

func TestScheduler_Cleanup(t *testing.T) {
	s := NewScheduler(testWarmingConfig(), flatTTL, &stubSource{payload: []byte("x")}, newCollectSink(), AlwaysIdle{}, nil, zap.NewNop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	task := s.Warm("stock-data", "AAPL", insight.PriorityHigh, now)
	require.Equal(t, 1, s.Tick(context.Background(), now))
	require.Eventually(t, func() bool {
		got, ok := s.Task(task.ID)
		return ok && got.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	// Too fresh to collect
	assert.Equal(t, 0, s.Cleanup(now.Add(time.Hour)))

	completed, _ := s.Task(task.ID)
	assert.Equal(t, 1, s.Cleanup(completed.CompletedAt.Add(25*time.Hour)))
	_, ok := s.Task(task.ID)
	assert.False(t, ok)
}

func TestTask_Score(t *testing.T) {
	task := &Task{Priority: insight.PriorityMedium, EstimatedBenefit: 0.5}
	assert.InDelta(t, 0.3, task.Score(), 1e-9)
}

func TestTask_Terminal(t *testing.T) {
	assert.False(t, (&Task{Status: StatusPending}).Terminal())
	assert.False(t, (&Task{Status: StatusRunning}).Terminal())
	assert.True(t, (&Task{Status: StatusCompleted}).Terminal())
	assert.True(t, (&Task{Status: StatusFailed}).Terminal())
}
