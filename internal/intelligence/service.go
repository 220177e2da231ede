// internal/intelligence/service.go
package intelligence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/marketcache/internal/analytics"
	"github.com/FairForge/marketcache/internal/clock"
	"github.com/FairForge/marketcache/internal/config"
	"github.com/FairForge/marketcache/internal/events"
	"github.com/FairForge/marketcache/internal/insight"
	"github.com/FairForge/marketcache/internal/keys"
	"github.com/FairForge/marketcache/internal/quality"
	"github.com/FairForge/marketcache/internal/tier"
	"github.com/FairForge/marketcache/internal/warming"
)

// ErrQuarantined is returned when a key is under quarantine and the
// caller supplied no loader to fetch around the cache.
var ErrQuarantined = errors.New("intelligence: key is quarantined")

// Service wires the recorder, behavior model, insight generator, warming
// scheduler, and quality gate around the tier stack and owns their
// periodic ticks.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger
	clk    clock.Clock
	bus    events.Bus

	memory    *tier.MemoryStore
	tiers     *tier.Layered
	recorder  *analytics.Recorder
	behavior  *analytics.BehaviorModel
	generator *insight.Generator
	scheduler *warming.Scheduler
	gate      *quality.Gate
	activity  *warming.Tracker
	metrics   *Metrics

	mu     sync.RWMutex
	latest *insight.Insights

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService assembles the subsystem. source may be nil when warming is
// driven purely by Get loaders; probe nil means headless (always idle).
func NewService(cfg *config.Config, logger *zap.Logger, clk clock.Clock,
	source warming.DataSource, probe warming.ActivityProbe) *Service {

	if clk == nil {
		clk = clock.NewReal()
	}
	bus := events.NewSimpleBus()

	memory := tier.NewMemoryStore(tier.LayerMemory, cfg.Tiers.MemoryEntries).WithNow(clk.Now)
	persistent := tier.NewMemoryStore(tier.LayerPersistent, cfg.Tiers.PersistentEntries).WithNow(clk.Now)
	archive := tier.NewMemoryStore(tier.LayerArchive, cfg.Tiers.ArchiveEntries).WithNow(clk.Now)

	tiers := tier.NewLayered(logger,
		tier.Layer{Name: tier.LayerMemory, Store: memory},
		tier.Layer{Name: tier.LayerPersistent, Store: persistent},
		tier.Layer{Name: tier.LayerArchive, Store: archive},
	)

	var tracker *warming.Tracker
	if probe == nil {
		tracker = warming.NewTracker(cfg.Warming.MinimumIdleTime.Std())
		probe = tracker
	}

	svc := &Service{
		cfg:    cfg,
		logger: logger,
		clk:    clk,
		bus:    bus,
		memory: memory,
		tiers:  tiers,
		recorder: analytics.NewRecorder(analytics.RecorderConfig{
			MaxPatterns:   cfg.Analytics.MaxPatterns,
			PatternMaxAge: cfg.Analytics.PatternMaxAge.Std(),
			BaselineFetch: cfg.Analytics.BaselineFetch.Std(),
		}),
		behavior: analytics.NewBehaviorModel(uuid.NewString(), cfg.Analytics.PortfolioFocus),
		generator: insight.NewGenerator(insight.GeneratorConfig{
			MaxPredictions:  cfg.Insights.MaxPredictions,
			MinProbability:  cfg.Insights.MinProbability,
			MarketOpenHours: cfg.Insights.MarketOpenHours,
			BenchmarkSyms:   cfg.Insights.BenchmarkSyms,
		}),
		activity: tracker,
	}

	svc.scheduler = warming.NewScheduler(cfg.Warming, cfg.Tiers.TTLFor,
		source, tiers, probe, bus, logger).WithNow(clk.Now)
	svc.gate = quality.NewGate(cfg.Quality, tiers, bus, logger)
	svc.metrics = NewMetrics(svc)

	svc.loadSnapshot()
	return svc
}

// Get serves a key through the tier stack, falling back to the loader on
// a miss. A quarantined key is never served from cache: the loader runs
// and its result is not cached.
func (s *Service) Get(ctx context.Context, key string, loader tier.Loader) ([]byte, error) {
	now := s.clk.Now()
	start := time.Now()

	if s.gate.IsQuarantined(key, now) {
		if loader == nil {
			return nil, ErrQuarantined
		}
		data, err := loader()
		s.observe(key, false, "remote", time.Since(start), now)
		if err != nil {
			return nil, err
		}
		return data, nil
	}

	dataType, _ := keys.Parse(key)
	ttl := s.cfg.Tiers.TTLFor(dataType)

	if loader == nil {
		data, tierName, err := s.tiers.Get(key, ttl)
		if err != nil {
			s.observe(key, false, "remote", time.Since(start), now)
			return nil, err
		}
		s.observe(key, true, tierName, time.Since(start), now)
		return data, nil
	}

	data, tierName, err := s.tiers.GetOrLoad(key, ttl, loader)
	if err != nil {
		s.observe(key, false, "remote", time.Since(start), now)
		return nil, err
	}

	hit := tierName != ""
	if !hit {
		tierName = "remote"
	}
	s.observe(key, hit, tierName, time.Since(start), now)
	return data, nil
}

func (s *Service) observe(key string, hit bool, tierName string, elapsed time.Duration, now time.Time) {
	s.recorder.RecordAccess(key, hit, tierName, elapsed, now)
	s.behavior.RecordContext(now.Hour(), now.Weekday(), key, now)
	if s.activity != nil {
		s.activity.Touch(now)
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	s.metrics.Accesses.WithLabelValues(result, tierName).Inc()
}

// RecordInteraction feeds a host UI activity signal into the scheduler's
// activity gate.
func (s *Service) RecordInteraction() {
	if s.activity != nil {
		s.activity.Touch(s.clk.Now())
	}
}

// RegenerateInsights recomputes predictions and schedules warming tasks
// from them.
func (s *Service) RegenerateInsights(ctx context.Context) *insight.Insights {
	now := s.clk.Now()
	ins := s.generator.Generate(s.recorder.Patterns(), s.behavior.Snapshot(), now)

	s.mu.Lock()
	s.latest = ins
	s.mu.Unlock()

	added := s.scheduler.ScheduleFromInsights(ins, now)
	_ = s.bus.Publish(ctx, events.Event{
		Type:      events.InsightsUpdated,
		Reason:    "regeneration",
		Timestamp: now,
	})

	s.logger.Debug("insights regenerated",
		zap.Int("predictions", len(ins.LikelyNextRequests)),
		zap.Int("recommendations", len(ins.WarmingRecommendations)),
		zap.Int("tasks_added", added))
	return ins
}

// Insights returns the latest generated insights, or nil before the
// first pass.
func (s *Service) Insights() *insight.Insights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// QualitySweep samples live memory-tier entries through the gate.
func (s *Service) QualitySweep(ctx context.Context, limit int) int {
	now := s.clk.Now()
	checked := 0
	for _, key := range s.memory.Keys() {
		if checked >= limit {
			break
		}
		data, err := s.memory.Get(key)
		if err != nil {
			continue
		}
		s.gate.CheckQuality(ctx, key, data, quality.Metadata{Now: now})
		checked++
	}
	return checked
}

// Warm manually schedules one key for warming.
func (s *Service) Warm(dataType, symbol string, priority insight.Priority) *warming.Task {
	return s.scheduler.Warm(dataType, symbol, priority, s.clk.Now())
}

// Stats aggregates tier, savings, and warming statistics.
type Stats struct {
	Tiers    map[string]tier.Stats       `json:"tiers"`
	TierPerf []analytics.TierPerformance `json:"tier_performance"`
	Savings  analytics.Savings           `json:"savings"`
	Warming  warming.Stats               `json:"warming"`
	Patterns int                         `json:"tracked_patterns"`
}

// Report returns a point-in-time statistics snapshot.
func (s *Service) Report() Stats {
	return Stats{
		Tiers:    s.tiers.Stats(),
		TierPerf: s.recorder.TierPerformances(),
		Savings:  s.recorder.SavingsReport(),
		Warming:  s.scheduler.Stats(),
		Patterns: s.recorder.PatternCount(),
	}
}

// Accessors for the admin API.
func (s *Service) Gate() *quality.Gate           { return s.gate }
func (s *Service) Scheduler() *warming.Scheduler { return s.scheduler }
func (s *Service) Bus() events.Bus               { return s.bus }
func (s *Service) Metrics() *Metrics             { return s.metrics }

// Start launches the periodic ticks. Stop (or ctx cancellation) halts
// them; in-flight warming tasks are abandoned and re-derived from
// insights on the next cycle.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("cache intelligence started",
		zap.Duration("warming_tick", s.cfg.Warming.TickInterval.Std()),
		zap.Duration("quality_sample", s.cfg.Quality.SampleInterval.Std()),
		zap.Duration("insight_regen", s.cfg.Insights.RegenInterval.Std()))
}

// Stop halts the periodic ticks and flushes a final snapshot.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.saveSnapshot()
	s.logger.Info("cache intelligence stopped")
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	warmTick := s.clk.NewTicker(s.cfg.Warming.TickInterval.Std())
	defer warmTick.Stop()
	qualityTick := s.clk.NewTicker(s.cfg.Quality.SampleInterval.Std())
	defer qualityTick.Stop()
	insightTick := s.clk.NewTicker(s.cfg.Insights.RegenInterval.Std())
	defer insightTick.Stop()
	maintenanceTick := s.clk.NewTicker(time.Hour)
	defer maintenanceTick.Stop()
	snapshotTick := s.clk.NewTicker(s.cfg.Analytics.SnapshotInterval.Std())
	defer snapshotTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-warmTick.C():
			s.scheduler.Tick(ctx, s.clk.Now())
		case <-qualityTick.C():
			s.QualitySweep(ctx, 25)
		case <-insightTick.C():
			s.RegenerateInsights(ctx)
		case <-maintenanceTick.C():
			now := s.clk.Now()
			pruned := s.recorder.Prune(now)
			cleaned := s.scheduler.Cleanup(now)
			if pruned > 0 || cleaned > 0 {
				s.logger.Debug("maintenance pass",
					zap.Int("patterns_pruned", pruned),
					zap.Int("tasks_cleaned", cleaned))
			}
		case <-snapshotTick.C():
			s.saveSnapshot()
		}
	}
}

// Snapshot persistence is best-effort: failures are logged and the
// subsystem keeps operating in memory.
func (s *Service) saveSnapshot() {
	if s.cfg.Analytics.SnapshotPath == "" {
		return
	}
	snap := &analytics.Snapshot{
		SavedAt:  s.clk.Now(),
		Patterns: s.recorder.Export(),
		Behavior: s.behavior.Snapshot(),
	}
	if err := analytics.SaveSnapshot(s.cfg.Analytics.SnapshotPath, snap); err != nil {
		s.logger.Warn("snapshot save failed", zap.Error(err))
	}
}

func (s *Service) loadSnapshot() {
	if s.cfg.Analytics.SnapshotPath == "" {
		return
	}
	snap, err := analytics.LoadSnapshot(s.cfg.Analytics.SnapshotPath)
	if err != nil {
		s.logger.Warn("snapshot load failed", zap.Error(err))
		return
	}
	if snap == nil {
		return
	}
	s.recorder.Restore(snap.Patterns)
	s.behavior.Restore(snap.Behavior)
	s.logger.Info("snapshot restored",
		zap.Int("patterns", len(snap.Patterns)),
		zap.Time("saved_at", snap.SavedAt))
}
