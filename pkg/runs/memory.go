package runs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultMemoryCapacity is the number of runs a MemoryStore keeps.
const DefaultMemoryCapacity = 1000

// MemoryStore keeps the most recent runs in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	runs     []Run
}

// NewMemoryStore creates a store that keeps at most capacity runs. A
// non-positive capacity selects DefaultMemoryCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Record appends run, evicting the oldest when full.
func (m *MemoryStore) Record(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	if len(m.runs) > m.capacity {
		m.runs = m.runs[len(m.runs)-m.capacity:]
	}
	return nil
}

// Get returns a run by ID.
func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.runs {
		if m.runs[i].ID == id {
			run := m.runs[i]
			return &run, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns matching runs, newest first.
func (m *MemoryStore) List(_ context.Context, filter Filter) ([]Run, error) {
	m.mu.RLock()
	matched := make([]Run, 0, len(m.runs))
	for _, run := range m.runs {
		if matches(run, filter) {
			matched = append(matched, run)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []Run{}, nil
		}
		matched = matched[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns the number of matching runs.
func (m *MemoryStore) Count(_ context.Context, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, run := range m.runs {
		if matches(run, filter) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (*MemoryStore) Close() error {
	return nil
}

func matches(run Run, f Filter) bool {
	if f.SinkStore != "" && run.SinkStore != f.SinkStore {
		return false
	}
	if f.SinkTable != "" && run.SinkTable != f.SinkTable {
		return false
	}
	if f.Success != nil && run.Success != *f.Success {
		return false
	}
	if f.StartTime != nil && run.StartedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && run.StartedAt.After(*f.EndTime) {
		return false
	}
	return true
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
