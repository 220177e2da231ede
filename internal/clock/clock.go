// internal/clock/clock.go
package clock

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time so periodic components can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production clock backed by the time package.
type Real struct{}

// NewReal creates a wall-clock Clock.
func NewReal() *Real {
	return &Real{}
}

func (r *Real) Now() time.Time {
	return time.Now()
}

func (r *Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.t.C }
func (rt *realTicker) Stop()               { rt.t.Stop() }

// Manual is a test clock advanced explicitly by the caller.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

// NewManual creates a manual clock starting at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()

	mt := &manualTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     m.now.Add(d),
	}
	m.tickers = append(m.tickers, mt)
	return mt
}

// Advance moves the clock forward, firing any tickers that come due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	tickers := make([]*manualTicker, len(m.tickers))
	copy(tickers, m.tickers)
	m.mu.Unlock()

	for _, mt := range tickers {
		mt.fire(now)
	}
}

// Set jumps the clock to an absolute instant without firing tickers.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

type manualTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (mt *manualTicker) C() <-chan time.Time { return mt.ch }

func (mt *manualTicker) Stop() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.stopped = true
}

func (mt *manualTicker) fire(now time.Time) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.stopped {
		return
	}
	for !mt.next.After(now) {
		select {
		case mt.ch <- mt.next:
		default:
			// Receiver behind, coalesce like time.Ticker does
		}
		mt.next = mt.next.Add(mt.interval)
	}
}
