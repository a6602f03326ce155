package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(func() time.Time { return now }))

	e, err := m.Get(ctx, loom.CacheQuery{Key: "q1"})
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Key: "q1", Time: now, Duration: time.Second, Result: []byte("a")}, nil))
	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Identifier: "posts", Key: "q2", Time: now, Duration: time.Minute, Result: []byte("b")}, nil))
	assert.Equal(t, 2, m.Len())

	e, err = m.Get(ctx, loom.CacheQuery{Key: "q1"})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("a"), e.Result)
	assert.False(t, m.IsExpired(e))

	e, err = m.Get(ctx, loom.CacheQuery{Identifier: "posts", Key: "other"})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("b"), e.Result)

	e, err = m.Get(ctx, loom.CacheQuery{Identifier: "missing", Key: "q1"})
	require.NoError(t, err)
	assert.Nil(t, e, "identifier lookups ignore the key")

	now = now.Add(2 * time.Second)
	e, err = m.Get(ctx, loom.CacheQuery{Key: "q1"})
	require.NoError(t, err)
	assert.True(t, m.IsExpired(e))

	require.NoError(t, m.Remove(ctx, "posts"))
	e, err = m.Get(ctx, loom.CacheQuery{Identifier: "posts"})
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, m.Clear(ctx))
	assert.Zero(t, m.Len())
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	entry := &loom.CacheEntry{Key: "q", Time: time.Now(), Duration: time.Minute}
	require.NoError(t, m.Store(ctx, entry, nil))
	entry.Key = "changed"

	e, err := m.Get(ctx, loom.CacheQuery{Key: "q"})
	require.NoError(t, err)
	require.NotNil(t, e)
	e.Duration = 0
	again, err := m.Get(ctx, loom.CacheQuery{Key: "q"})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, again.Duration)
}

func TestMemoryEviction(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithMaxEntries(2), WithClock(func() time.Time { return now }))

	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Key: "old", Time: now.Add(-time.Minute), Duration: time.Hour}, nil))
	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Key: "new", Time: now, Duration: time.Hour}, nil))
	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Key: "newest", Time: now, Duration: time.Hour}, nil))
	assert.Equal(t, 2, m.Len())
	e, err := m.Get(ctx, loom.CacheQuery{Key: "old"})
	require.NoError(t, err)
	assert.Nil(t, e, "oldest entry is evicted")

	m = NewMemory(WithMaxEntries(2), WithClock(func() time.Time { return now }))
	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Key: "stale", Time: now.Add(-time.Hour), Duration: time.Second}, nil))
	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Key: "older", Time: now.Add(-2 * time.Hour), Duration: 24 * time.Hour}, nil))
	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Key: "fresh", Time: now, Duration: time.Hour}, nil))
	e, err = m.Get(ctx, loom.CacheQuery{Key: "older"})
	require.NoError(t, err)
	assert.NotNil(t, e, "expired entries are evicted before live ones")
	e, err = m.Get(ctx, loom.CacheQuery{Key: "stale"})
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestMemoryReplaceDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithMaxEntries(2), WithClock(func() time.Time { return now }))

	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Identifier: "posts", Time: now.Add(-time.Minute), Duration: time.Hour, Result: []byte("v1")}, nil))
	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Key: "SELECT 1", Time: now.Add(-time.Second), Duration: time.Hour}, nil))
	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Identifier: "posts", Time: now, Duration: time.Hour, Result: []byte("v2")}, nil))
	assert.Equal(t, 2, m.Len())
	e, err := m.Get(ctx, loom.CacheQuery{Key: "SELECT 1"})
	require.NoError(t, err)
	assert.NotNil(t, e, "replacing an entry keeps the others")
	e, err = m.Get(ctx, loom.CacheQuery{Identifier: "posts"})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("v2"), e.Result)

	require.NoError(t, m.Store(ctx, &loom.CacheEntry{Key: "SELECT 1", Time: now, Duration: time.Hour}, nil))
	assert.Equal(t, 2, m.Len())
	e, err = m.Get(ctx, loom.CacheQuery{Identifier: "posts"})
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestMemoryConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithMaxEntries(16))
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				key := string(rune('a'+i)) + string(rune('a'+j%26))
				_ = m.Store(ctx, &loom.CacheEntry{Key: key, Time: time.Now(), Duration: time.Minute}, nil)
				_, _ = m.Get(ctx, loom.CacheQuery{Key: key})
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, m.Len(), 16)
}
