package kvstore

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 5000

// Memory is a single-instance Store. Windows are kept as raw attempt
// timestamps so the sliding behavior is exact; stale keys are pruned
// opportunistically once the map grows past maxKeys.
type Memory struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	blocks  map[string]time.Time
	maxKeys int
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		hits:    make(map[string][]time.Time),
		blocks:  make(map[string]time.Time),
		maxKeys: defaultMaxKeys,
		now:     time.Now,
	}
}

func (m *Memory) Hit(_ context.Context, key string, window time.Duration) (int, error) {
	now := m.now().UTC()
	threshold := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.hits[key]
	kept := make([]time.Time, 0, len(existing)+1)
	for _, hit := range existing {
		if hit.After(threshold) {
			kept = append(kept, hit)
		}
	}
	kept = append(kept, now)
	m.hits[key] = kept

	if len(m.hits) > m.maxKeys {
		m.pruneLocked(threshold)
	}

	return len(kept), nil
}

func (m *Memory) Block(_ context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[key] = until.UTC()
	return nil
}

func (m *Memory) BlockedUntil(_ context.Context, key string) (time.Time, bool, error) {
	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.blocks[key]
	if !ok {
		return time.Time{}, false, nil
	}
	if !now.Before(until) {
		delete(m.blocks, key)
		return time.Time{}, false, nil
	}

	return until, true, nil
}

// Prune drops expired windows and block markers. Expiry is otherwise lazy,
// so this only bounds memory; it is called from the maintenance endpoint.
func (m *Memory) Prune(olderThan time.Duration) {
	threshold := m.now().UTC().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(threshold)
}

func (m *Memory) pruneLocked(threshold time.Time) {
	for key, hits := range m.hits {
		if len(hits) == 0 || hits[len(hits)-1].Before(threshold) {
			delete(m.hits, key)
		}
	}
	for key, until := range m.blocks {
		if until.Before(threshold) {
			delete(m.blocks, key)
		}
	}
}
