package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/loom"
	"github.com/syssam/loom/cache"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql"
)

// Querier runs a compiled statement and returns its rows as maps keyed by
// result column name.
type Querier interface {
	Query(ctx context.Context, c *Compiled) ([]map[string]any, error)
}

// The QuerierFunc type is an adapter to allow the use of ordinary
// functions as Querier.
type QuerierFunc func(context.Context, *Compiled) ([]map[string]any, error)

// Query calls f(ctx, c).
func (f QuerierFunc) Query(ctx context.Context, c *Compiled) ([]map[string]any, error) {
	return f(ctx, c)
}

// Interceptor wraps statement execution, e.g. for tracing or statement
// rewriting. Interceptors see every statement sent, including pagination,
// count and relation statements, but not cache hits.
type Interceptor interface {
	Intercept(Querier) Querier
}

// The InterceptFunc type is an adapter to allow the use of ordinary
// functions as Interceptor.
type InterceptFunc func(Querier) Querier

// Intercept calls f(next).
func (f InterceptFunc) Intercept(next Querier) Querier { return f(next) }

// connection returns what statements of the builder run on: a pinned
// session, the transaction of the manager or its driver.
func (b *SelectQueryBuilder) connection() dialect.ExecQuerier {
	switch {
	case b.conn != nil:
		return b.conn
	case b.m.tx != nil:
		return b.m.tx
	}
	return b.m.driver
}

// querier returns the base querier wrapped by the interceptors of the
// manager, the first interceptor outermost.
func (b *SelectQueryBuilder) querier() Querier {
	var (
		conn   = b.connection()
		logger = b.m.logger
		vars   = b.m.vars
	)
	var q Querier = QuerierFunc(func(ctx context.Context, c *Compiled) ([]map[string]any, error) {
		if len(vars) > 0 {
			ctx = sql.WithVars(ctx, vars)
		}
		start := time.Now()
		var rows sql.Rows
		if err := conn.Query(ctx, c.SQL, c.Args, &rows); err != nil {
			return nil, execError(c, err)
		}
		result, err := sql.ScanMaps(rows)
		if err != nil {
			return nil, execError(c, err)
		}
		logger.DebugContext(ctx, "query executed",
			slog.String("query", c.SQL),
			slog.Any("args", c.Args),
			slog.Int("rows", len(result)),
			slog.Duration("duration", time.Since(start)),
		)
		return result, nil
	})
	for i := len(b.m.interceptors) - 1; i >= 0; i-- {
		q = b.m.interceptors[i].Intercept(q)
	}
	return q
}

// execError wraps a driver error with the statement, joined with the lock
// or concurrency sentinel it classifies as.
func execError(c *Compiled, err error) error {
	if kind := sql.Classify(err); kind != nil {
		err = errors.Join(err, kind)
	}
	return loom.NewQueryExecutionError(c.SQL, c.Args, err)
}

// cacheDuration returns the time to live of cached results of the query.
func (b *SelectQueryBuilder) cacheDuration() time.Duration {
	switch {
	case b.expr.CacheDuration > 0:
		return b.expr.CacheDuration
	case b.m.cacheDuration > 0:
		return b.m.cacheDuration
	}
	return loom.DefaultCacheDuration
}

// run executes a compiled statement through the result cache when enabled.
// Statements of a cache identifier suffix it with suffix, so that the
// pagination and count statements of one query get entries of their own.
func (b *SelectQueryBuilder) run(ctx context.Context, c *Compiled, suffix string) ([]map[string]any, error) {
	rc := b.m.cache
	if rc == nil || !(b.expr.Cache || b.m.cacheAlways) {
		return b.querier().Query(ctx, c)
	}
	q := loom.CacheQuery{Key: loom.CacheKey(c.SQL, c.Args), Duration: b.cacheDuration()}
	if b.expr.CacheID != "" {
		q.Identifier = b.expr.CacheID + suffix
	}
	entry, err := rc.Get(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query: read cache: %w", err)
	}
	if entry != nil && !rc.IsExpired(entry) {
		rows, err := cache.UnmarshalRows(entry.Result)
		if err == nil {
			b.m.logger.DebugContext(ctx, "cache hit", slog.String("key", q.Key), slog.String("identifier", q.Identifier))
			return rows, nil
		}
		b.m.logger.WarnContext(ctx, "discarding unreadable cache entry", slog.String("key", q.Key), slog.Any("error", err))
	}
	b.m.logger.DebugContext(ctx, "cache miss", slog.String("key", q.Key), slog.String("identifier", q.Identifier))
	rows, err := b.querier().Query(ctx, c)
	if err != nil {
		return nil, err
	}
	data, err := cache.MarshalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("query: encode cache entry: %w", err)
	}
	err = rc.Store(ctx, &loom.CacheEntry{
		Identifier: q.Identifier,
		Key:        q.Key,
		Time:       time.Now(),
		Duration:   q.Duration,
		Result:     data,
	}, entry)
	if err != nil {
		return nil, fmt.Errorf("query: store cache entry: %w", err)
	}
	return rows, nil
}

// rawRows compiles and runs the builder for raw rows.
func (b *SelectQueryBuilder) rawRows(ctx context.Context) ([]map[string]any, error) {
	c, err := b.Compile()
	if err != nil {
		return nil, err
	}
	return b.run(ctx, c, "")
}

// group returns an errgroup for side statements of the builder. Statements
// bound to a transaction or a pinned session run one at a time.
func (b *SelectQueryBuilder) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if b.conn != nil || b.m.tx != nil {
		g.SetLimit(1)
	}
	return g, gctx
}

// pinned runs f with a builder bound to a single connection when the driver
// can hand one out and no transaction is active. The release error of the
// session is joined to the result.
func (b *SelectQueryBuilder) pinned(ctx context.Context, f func(*SelectQueryBuilder) error) (rerr error) {
	if b.conn != nil || b.m.tx != nil {
		return f(b)
	}
	s, ok := b.m.driver.(dialect.Sessioner)
	if !ok {
		return f(b)
	}
	session, err := s.Session(ctx)
	if err != nil {
		return fmt.Errorf("query: acquire session: %w", err)
	}
	defer func() { rerr = errors.Join(rerr, session.Close()) }()
	c := *b
	c.conn = session
	return f(&c)
}

// checkLock rejects pessimistic locks outside a transaction, and optimistic
// locks for loads other than single entity loads.
func (b *SelectQueryBuilder) checkLock(op string, single bool) error {
	mode := b.expr.LockMode
	switch {
	case mode.Pessimistic() && b.m.tx == nil:
		return &loom.PessimisticLockWithoutTransactionError{Mode: mode}
	case mode == loom.LockOptimistic && !single:
		return loom.NewUnsupportedOperationError(op, "", loom.ErrOptimisticLockNotAllowed)
	}
	return nil
}
