package store

import (
	"context"
	"sync"
	"time"
)

type counterEntry struct {
	windowStart time.Time
	count       int64
	lastHit     time.Time
}

type standingEntry struct {
	standing Standing
	expires  time.Time
}

// MemoryStore implements CounterStore and RankStore in process memory.
// It is the reference backend for tests and single-process hosts; entries
// expire lazily on access.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*counterEntry
	standings map[string]*standingEntry
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters:  make(map[string]*counterEntry),
		standings: make(map[string]*standingEntry),
	}
}

// Hit implements CounterStore.
func (m *MemoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.counters[key]
	if entry == nil || now.Sub(entry.windowStart) >= window {
		m.counters[key] = &counterEntry{windowStart: now, count: 1}
		return 1, nil
	}
	entry.count++
	return entry.count, nil
}

// Touch implements CounterStore.
func (m *MemoryStore) Touch(_ context.Context, key string, gap time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.counters[key]
	if entry != nil && !entry.lastHit.IsZero() && now.Sub(entry.lastHit) < gap {
		return false, nil
	}
	m.counters[key] = &counterEntry{lastHit: now}
	return true, nil
}

// Reset implements CounterStore.
func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, key)
	return nil
}

// Standing implements RankStore.
func (m *MemoryStore) Standing(_ context.Context, key Key) (Standing, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.standings[key.String()]
	if entry == nil {
		return Standing{}, false, nil
	}
	if !entry.expires.IsZero() && !time.Now().Before(entry.expires) {
		delete(m.standings, key.String())
		return Standing{}, false, nil
	}
	return entry.standing, true, nil
}

// SaveStanding implements RankStore.
func (m *MemoryStore) SaveStanding(_ context.Context, key Key, standing Standing, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &standingEntry{standing: standing}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	m.standings[key.String()] = entry
	return nil
}

// DeleteStanding implements RankStore.
func (m *MemoryStore) DeleteStanding(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.standings, key.String())
	return nil
}
