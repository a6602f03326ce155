package loom_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/loom"
)

func TestCacheKey(t *testing.T) {
	assert.Equal(t, `SELECT 1 -- PARAMETERS: []`, loom.CacheKey("SELECT 1", nil))
	assert.Equal(t,
		`SELECT * FROM "post" WHERE "id" = $1 -- PARAMETERS: [1,"a"]`,
		loom.CacheKey(`SELECT * FROM "post" WHERE "id" = $1`, []any{1, "a"}),
	)
	assert.Equal(t, loom.CacheKey("q", []any{1}), loom.CacheKey("q", []any{1}))
	assert.NotEqual(t, loom.CacheKey("q", []any{1}), loom.CacheKey("q", []any{"1"}))
}

func TestCacheEntryExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &loom.CacheEntry{Time: now, Duration: time.Second}
	assert.False(t, e.Expired(now.Add(500*time.Millisecond)))
	assert.True(t, e.Expired(now.Add(2*time.Second)))
}
