package cache

import (
	"context"
	"sync"
	"time"

	"github.com/syssam/loom"
)

// Memory is an in-process loom.QueryResultCache. It is safe for concurrent
// use.
type Memory struct {
	mu         sync.RWMutex
	byID       map[string]*loom.CacheEntry
	byKey      map[string]*loom.CacheEntry
	maxEntries int
	now        func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithMaxEntries bounds the number of stored entries. When full, expired
// entries are evicted first, then the oldest ones. Zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(m *Memory) { m.maxEntries = n }
}

// WithClock sets the clock used for expiry checks.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		byID:  make(map[string]*loom.CacheEntry),
		byKey: make(map[string]*loom.CacheEntry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ loom.QueryResultCache = (*Memory)(nil)

// Get implements loom.QueryResultCache.
func (m *Memory) Get(_ context.Context, q loom.CacheQuery) (*loom.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.byKey[q.Key]
	if q.Identifier != "" {
		e = m.byID[q.Identifier]
	}
	if e == nil {
		return nil, nil
	}
	c := *e
	return &c, nil
}

// Store implements loom.QueryResultCache.
func (m *Memory) Store(_ context.Context, entry, _ *loom.CacheEntry) error {
	c := *entry
	set, k := m.byKey, c.Key
	if c.Identifier != "" {
		set, k = m.byID, c.Identifier
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Replacing an entry does not grow the cache.
	if _, ok := set[k]; !ok && m.maxEntries > 0 && m.len() >= m.maxEntries {
		m.evict()
	}
	set[k] = &c
	return nil
}

// IsExpired implements loom.QueryResultCache.
func (m *Memory) IsExpired(entry *loom.CacheEntry) bool {
	return entry.Expired(m.now())
}

// Remove implements loom.QueryResultCache.
func (m *Memory) Remove(_ context.Context, identifiers ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range identifiers {
		delete(m.byID, id)
	}
	return nil
}

// Clear implements loom.QueryResultCache.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.byID)
	clear(m.byKey)
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.len()
}

func (m *Memory) len() int { return len(m.byID) + len(m.byKey) }

// evict drops expired entries, then the oldest entry when still full.
// The caller holds the write lock.
func (m *Memory) evict() {
	now := m.now()
	var (
		oldest   *loom.CacheEntry
		fromByID bool
	)
	for _, set := range []struct {
		entries map[string]*loom.CacheEntry
		byID    bool
	}{{m.byID, true}, {m.byKey, false}} {
		for k, e := range set.entries {
			if e.Expired(now) {
				delete(set.entries, k)
				continue
			}
			if oldest == nil || e.Time.Before(oldest.Time) {
				oldest, fromByID = e, set.byID
			}
		}
	}
	if m.len() < m.maxEntries || oldest == nil {
		return
	}
	if fromByID {
		delete(m.byID, oldest.Identifier)
	} else {
		delete(m.byKey, oldest.Key)
	}
}
