package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/syssam/loom"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql"
)

// DefaultTable is the table DB caches store entries in.
const DefaultTable = "query-result-cache"

// DB is a loom.QueryResultCache storing entries in a database table, shared
// by every process using the same database.
//
// The table has the columns identifier, time and duration (milliseconds),
// query and result. Results are base64 encoded msgpack.
type DB struct {
	drv      dialect.ExecQuerier
	strategy dialect.Strategy
	table    string
	schema   string
	now      func() time.Time
}

// DBOption configures a DB cache.
type DBOption func(*DB)

// WithTable sets the table name.
func WithTable(name string) DBOption {
	return func(c *DB) { c.table = name }
}

// WithSchema sets the schema of the table.
func WithSchema(name string) DBOption {
	return func(c *DB) { c.schema = name }
}

// WithDBClock sets the clock used for expiry checks.
func WithDBClock(now func() time.Time) DBOption {
	return func(c *DB) { c.now = now }
}

// NewDB returns a cache storing entries through drv.
func NewDB(drv dialect.Driver, opts ...DBOption) (*DB, error) {
	if drv == nil {
		return nil, errors.New("cache: nil driver")
	}
	s, err := dialect.For(drv.Dialect())
	if err != nil {
		return nil, err
	}
	c := &DB{drv: drv, strategy: s, table: DefaultTable, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ loom.QueryResultCache = (*DB)(nil)

func (c *DB) tableName() string { return c.strategy.Table(c.table, c.schema) }

func (c *DB) col(name string) string { return c.strategy.Escape(name) }

// Synchronize creates the cache table when it does not exist.
func (c *DB) Synchronize(ctx context.Context) error {
	query := "CREATE TABLE IF NOT EXISTS " + c.tableName() + " (" +
		c.col("identifier") + " varchar(255) NULL, " +
		c.col("time") + " bigint NOT NULL, " +
		c.col("duration") + " integer NOT NULL, " +
		c.col("query") + " text NOT NULL, " +
		c.col("result") + " text NOT NULL)"
	if err := c.drv.Exec(ctx, query, []any{}, nil); err != nil {
		return fmt.Errorf("cache: create table %s: %w", c.table, err)
	}
	return nil
}

// match selects the entry of an identifier, or of a key without one.
func (c *DB) match(identifier, key string) sq.Eq {
	if identifier != "" {
		return sq.Eq{c.col("identifier"): identifier}
	}
	return sq.Eq{c.col("query"): key}
}

// Get implements loom.QueryResultCache.
func (c *DB) Get(ctx context.Context, q loom.CacheQuery) (*loom.CacheEntry, error) {
	query, args, err := sq.Select(c.col("identifier"), c.col("time"), c.col("duration"), c.col("query"), c.col("result")).
		From(c.tableName()).
		Where(c.match(q.Identifier, q.Key)).
		PlaceholderFormat(c.strategy.PlaceholderFormat()).
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows sql.Rows
	if err := c.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	found, err := sql.ScanMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return entryOf(found[0])
}

func entryOf(row map[string]any) (*loom.CacheEntry, error) {
	ms, err := intOf(row["time"])
	if err != nil {
		return nil, fmt.Errorf("cache: entry time: %w", err)
	}
	d, err := intOf(row["duration"])
	if err != nil {
		return nil, fmt.Errorf("cache: entry duration: %w", err)
	}
	result, err := base64.StdEncoding.DecodeString(stringOf(row["result"]))
	if err != nil {
		return nil, fmt.Errorf("cache: entry result: %w", err)
	}
	return &loom.CacheEntry{
		Identifier: stringOf(row["identifier"]),
		Key:        stringOf(row["query"]),
		Time:       time.UnixMilli(ms),
		Duration:   time.Duration(d) * time.Millisecond,
		Result:     result,
	}, nil
}

// Store implements loom.QueryResultCache. Entries replacing a previous one
// are updated in place.
func (c *DB) Store(ctx context.Context, entry, previous *loom.CacheEntry) error {
	values := map[string]any{
		c.col("identifier"): nullable(entry.Identifier),
		c.col("time"):       entry.Time.UnixMilli(),
		c.col("duration"):   entry.Duration.Milliseconds(),
		c.col("query"):      entry.Key,
		c.col("result"):     base64.StdEncoding.EncodeToString(entry.Result),
	}
	var (
		query string
		args  []any
		err   error
	)
	if previous != nil {
		query, args, err = sq.Update(c.tableName()).
			SetMap(values).
			Where(c.match(entry.Identifier, entry.Key)).
			PlaceholderFormat(c.strategy.PlaceholderFormat()).
			ToSql()
	} else {
		query, args, err = sq.Insert(c.tableName()).
			SetMap(values).
			PlaceholderFormat(c.strategy.PlaceholderFormat()).
			ToSql()
	}
	if err != nil {
		return err
	}
	if err := c.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("cache: store: %w", err)
	}
	return nil
}

// IsExpired implements loom.QueryResultCache.
func (c *DB) IsExpired(entry *loom.CacheEntry) bool {
	return entry.Expired(c.now())
}

// Remove implements loom.QueryResultCache.
func (c *DB) Remove(ctx context.Context, identifiers ...string) error {
	if len(identifiers) == 0 {
		return nil
	}
	query, args, err := sq.Delete(c.tableName()).
		Where(sq.Eq{c.col("identifier"): identifiers}).
		PlaceholderFormat(c.strategy.PlaceholderFormat()).
		ToSql()
	if err != nil {
		return err
	}
	if err := c.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("cache: remove: %w", err)
	}
	return nil
}

// Clear implements loom.QueryResultCache.
func (c *DB) Clear(ctx context.Context) error {
	if err := c.drv.Exec(ctx, "DELETE FROM "+c.tableName(), []any{}, nil); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringOf(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func intOf(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("unexpected value %T", v)
}
