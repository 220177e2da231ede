// internal/tier/layered.go
package tier

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Layer names, fastest first.
const (
	LayerMemory     = "memory"
	LayerPersistent = "persistent"
	LayerArchive    = "archive"
)

// Layer pairs a named tier with its store.
type Layer struct {
	Name  string
	Store Store
}

// Layered chains tiers fastest-first. A hit on a lower tier is promoted
// into every tier above it.
type Layered struct {
	layers []Layer
	logger *zap.Logger
}

// NewLayered creates a layered store from tiers ordered fastest-first.
func NewLayered(logger *zap.Logger, layers ...Layer) *Layered {
	return &Layered{layers: layers, logger: logger}
}

// Get returns the value and the name of the tier that served it.
func (l *Layered) Get(key string, ttl time.Duration) ([]byte, string, error) {
	for i, layer := range l.layers {
		data, err := layer.Store.Get(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			l.logger.Warn("tier get failed",
				zap.String("tier", layer.Name),
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		// Promote into faster tiers
		for j := 0; j < i; j++ {
			if perr := l.layers[j].Store.Set(key, data, ttl); perr != nil {
				l.logger.Warn("tier promotion failed",
					zap.String("tier", l.layers[j].Name),
					zap.String("key", key),
					zap.Error(perr))
			}
		}

		return data, layer.Name, nil
	}

	return nil, "", ErrNotFound
}

// Set writes the value into every tier.
func (l *Layered) Set(key string, value []byte, ttl time.Duration) error {
	var firstErr error
	for _, layer := range l.layers {
		if err := layer.Store.Set(key, value, ttl); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tier %s: set %s: %w", layer.Name, key, err)
		}
	}
	return firstErr
}

// Remove deletes the key from every tier.
func (l *Layered) Remove(key string) error {
	var firstErr error
	for _, layer := range l.layers {
		if err := layer.Store.Remove(key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tier %s: remove %s: %w", layer.Name, key, err)
		}
	}
	return firstErr
}

// Clear empties every tier.
func (l *Layered) Clear() error {
	var firstErr error
	for _, layer := range l.layers {
		if err := layer.Store.Clear(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns per-tier statistics keyed by tier name.
func (l *Layered) Stats() map[string]Stats {
	out := make(map[string]Stats, len(l.layers))
	for _, layer := range l.layers {
		out[layer.Name] = layer.Store.Stats()
	}
	return out
}

// Loader computes a value on a cache miss.
type Loader func() ([]byte, error)

// GetOrLoad returns the cached value if present, otherwise invokes the
// loader, stores the result in every tier, and returns it. The returned
// tier name is empty when the loader was used.
func (l *Layered) GetOrLoad(key string, ttl time.Duration, load Loader) ([]byte, string, error) {
	data, tierName, err := l.Get(key, ttl)
	if err == nil {
		return data, tierName, nil
	}

	data, err = load()
	if err != nil {
		return nil, "", fmt.Errorf("tier: loading %s: %w", key, err)
	}

	if serr := l.Set(key, data, ttl); serr != nil {
		l.logger.Warn("caching loaded value failed", zap.String("key", key), zap.Error(serr))
	}

	return data, "", nil
}
