package loom

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultCacheDuration is used when neither the query nor the manager
// configures a cache duration.
const DefaultCacheDuration = time.Second

// QueryResultCache is the interface for caching raw query results.
// Users may implement it with their preferred storage (e.g., Redis,
// Memcached); the cache package ships in-memory and table backed versions.
//
// Implementations need no locking around the check-then-store sequence:
// two concurrent misses both execute and the last Store wins.
type QueryResultCache interface {
	// Get returns the stored entry for the query, or nil, nil if there is none.
	// Entries are looked up by identifier when one is set, and by key otherwise.
	Get(ctx context.Context, q CacheQuery) (*CacheEntry, error)

	// Store saves the entry. The previous entry, if any, is the one
	// returned by Get for the same query.
	Store(ctx context.Context, entry *CacheEntry, previous *CacheEntry) error

	// IsExpired reports whether the entry is older than its duration.
	IsExpired(entry *CacheEntry) bool

	// Remove deletes the entries stored under the given identifiers.
	Remove(ctx context.Context, identifiers ...string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error
}

// CacheQuery identifies a cached statement.
type CacheQuery struct {
	Identifier string
	Key        string
	Duration   time.Duration
}

// CacheEntry is a stored query result.
type CacheEntry struct {
	Identifier string
	Key        string
	Time       time.Time
	Duration   time.Duration
	Result     []byte
}

// Expired reports whether the entry is stale at the given instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.Time.Add(e.Duration).Before(now)
}

// CacheKey returns the normalized key of a compiled statement: the SQL text
// followed by a stable serialization of its arguments. Two statements with
// the same text and arguments always produce the same key.
func CacheKey(sql string, args []any) string {
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		b = []byte(fmt.Sprintf("%#v", args))
	}
	return sql + " -- PARAMETERS: " + string(b)
}
