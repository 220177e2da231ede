// internal/intelligence/metrics.go
package intelligence

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the subsystem's Prometheus metrics on a private registry
// so tests can construct services without duplicate registration.
type Metrics struct {
	Accesses *prometheus.CounterVec
	registry *prometheus.Registry
}

// NewMetrics creates and registers the metric set.
func NewMetrics(svc *Service) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Accesses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcache_accesses_total",
				Help: "Total cache accesses by result",
			},
			[]string{"result", "tier"},
		),
		registry: registry,
	}
	registry.MustRegister(m.Accesses)

	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "marketcache_tracked_patterns",
			Help: "Number of access patterns currently tracked",
		},
		func() float64 { return float64(svc.recorder.PatternCount()) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "marketcache_quarantined_keys",
			Help: "Number of keys currently quarantined",
		},
		func() float64 { return float64(len(svc.gate.QuarantinedKeys(svc.clk.Now()))) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "marketcache_warming_tasks_completed",
			Help: "Warming tasks completed since start",
		},
		func() float64 { return float64(svc.scheduler.Stats().TasksCompleted) },
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "marketcache_warming_tasks_failed",
			Help: "Warming tasks terminally failed since start",
		},
		func() float64 { return float64(svc.scheduler.Stats().TasksFailed) },
	))

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
