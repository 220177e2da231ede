// internal/analytics/snapshot.go
package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the persisted form of the learned state. Persistence is
// best-effort: a failed save or load is logged by the caller and the
// subsystem keeps operating in memory.
type Snapshot struct {
	SavedAt  time.Time           `json:"saved_at"`
	Patterns []AccessPattern     `json:"patterns"`
	Behavior UserBehaviorPattern `json:"behavior"`
}

// Export captures the recorder's patterns for persistence.
func (r *Recorder) Export() []AccessPattern {
	return r.Patterns()
}

// Restore replaces the pattern table from a snapshot.
func (r *Recorder) Restore(patterns []AccessPattern) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.patterns = make(map[string]*AccessPattern, len(patterns))
	for i := range patterns {
		p := patterns[i]
		if p.PeakHours == nil {
			p.PeakHours = make(map[int]bool)
		}
		r.patterns[p.Key] = &p
	}
}

// SaveSnapshot writes the snapshot atomically via a temp file rename.
func SaveSnapshot(path string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("analytics: encoding snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("analytics: creating snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("analytics: writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("analytics: replacing snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot; a missing file returns (nil, nil).
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("analytics: reading snapshot: %w", err)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("analytics: decoding snapshot: %w", err)
	}
	return snap, nil
}
