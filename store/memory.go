package store

import (
	"context"
	"sync"
	"time"
)

// MemKV is an in-memory KV for tests and single-process deployments.
// Data is lost when the process exits.
type MemKV struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemKV returns an empty in-memory store.
func NewMemKV() *MemKV {
	return &MemKV{entries: make(map[string]Entry)}
}

// Get implements KV.
func (m *MemKV) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry.Value = append([]byte(nil), entry.Value...)
	return entry, nil
}

// CompareAndSet implements KV.
func (m *MemKV) CompareAndSet(_ context.Context, key string, expectVersion int64, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.entries[key]
	if expectVersion == 0 && exists {
		return 0, ErrVersionConflict
	}
	if expectVersion != 0 && (!exists || current.Version != expectVersion) {
		return 0, ErrVersionConflict
	}

	next := expectVersion + 1
	m.entries[key] = Entry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Version:   next,
		UpdatedAt: time.Now().UTC(),
	}
	return next, nil
}

// Prune implements KV.
func (m *MemKV) Prune(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if entry.UpdatedAt.Before(olderThan) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}
