// internal/events/bus.go
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus distributes cache-intelligence events to subscribers
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType Type, handler Handler) error

	// Replay returns buffered events for diagnostics
	Replay(from, to time.Time) ([]Event, error)
}

// Event represents something that happened in the cache subsystem
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Key       string    `json:"key,omitempty"`
	DataType  string    `json:"data_type,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Type categorizes events
type Type string

const (
	InsightsUpdated  Type = "insights.updated"
	QualityIssue     Type = "quality.issue"
	RefreshRequested Type = "cache.refresh_requested"
	CacheInvalidated Type = "cache.invalidated"
	KeyQuarantined   Type = "cache.quarantined"
	WarmingCompleted Type = "warming.completed"
)

// Handler processes events
type Handler func(ctx context.Context, event Event) error

// SimpleBus is a basic in-memory implementation
type SimpleBus struct {
	mu        sync.RWMutex
	handlers  map[Type][]Handler
	events    []Event
	maxEvents int
}

// NewSimpleBus creates a basic event bus
func NewSimpleBus() *SimpleBus {
	return &SimpleBus{
		handlers:  make(map[Type][]Handler),
		events:    make([]Event, 0, 1000),
		maxEvents: 1000, // Keep last 1k events in memory
	}
}

// Publish sends an event
func (b *SimpleBus) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.mu.Lock()

	// Store for replay
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		b.events = b.events[1:] // Remove oldest
	}

	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.Unlock()

	// Notify handlers without blocking the publisher
	for _, handler := range handlers {
		go func(h Handler) { _ = h(ctx, event) }(handler)
	}

	return nil
}

// Subscribe registers a handler for an event type
func (b *SimpleBus) Subscribe(eventType Type, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Replay returns historical events
func (b *SimpleBus) Replay(from, to time.Time) ([]Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if !event.Timestamp.Before(from) && !event.Timestamp.After(to) {
			result = append(result, event)
		}
	}

	return result, nil
}
