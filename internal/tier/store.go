// internal/tier/store.go
package tier

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned on a cache miss.
var ErrNotFound = errors.New("tier: key not found")

// Stats holds per-tier statistics
type Stats struct {
	HitRate    float64
	Size       int64
	EntryCount int
}

// Store is a single cache tier: a key-value store with TTL semantics.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Remove(key string) error
	Clear() error
	Stats() Stats
}

type entry struct {
	data      []byte
	expiresAt time.Time
	storedAt  time.Time
}

// MemoryStore is an in-process tier with TTL expiry and an entry cap.
// When full, the entry closest to expiry is evicted.
type MemoryStore struct {
	mu         sync.RWMutex
	name       string
	entries    map[string]*entry
	maxEntries int
	hits       int64
	misses     int64

	now func() time.Time
}

// NewMemoryStore creates a memory tier holding at most maxEntries items.
func NewMemoryStore(name string, maxEntries int) *MemoryStore {
	return &MemoryStore{
		name:       name,
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// WithNow overrides the time source, for tests.
func (s *MemoryStore) WithNow(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Name returns the tier name.
func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, ErrNotFound
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		s.misses++
		return nil, ErrNotFound
	}

	s.hits++
	return e.data, nil
}

func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictSoonest(now)
	}

	s.entries[key] = &entry{
		data:      value,
		expiresAt: now.Add(ttl),
		storedAt:  now,
	}
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	return nil
}

func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var size int64
	for _, e := range s.entries {
		size += int64(len(e.data))
	}

	total := s.hits + s.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(s.hits) / float64(total)
	}

	return Stats{
		HitRate:    hitRate,
		Size:       size,
		EntryCount: len(s.entries),
	}
}

// Keys returns a snapshot of live keys, for background quality sampling.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if now.Before(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

// evictSoonest drops the entry closest to expiry. Caller holds the lock.
func (s *MemoryStore) evictSoonest(now time.Time) {
	var victim string
	var soonest time.Time

	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
			return
		}
		if victim == "" || e.expiresAt.Before(soonest) {
			victim = k
			soonest = e.expiresAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}
