package config

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/cache"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
)

// Logger returns a logger writing to w in the configured format and level.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Open opens the database, applies the pool settings and checks the
// connection. The returned driver records statement statistics and logs
// slow statements to logger.
func (c *Config) Open(ctx context.Context, logger *slog.Logger) (*sql.StatsDriver, error) {
	name := c.Driver
	if name == "" {
		name = c.Dialect
	}
	db, err := stdsql.Open(name, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", name, err)
	}
	if c.Pool.MaxOpen > 0 {
		db.SetMaxOpenConns(c.Pool.MaxOpen)
	}
	if c.Pool.MaxIdle > 0 {
		db.SetMaxIdleConns(c.Pool.MaxIdle)
	}
	if c.Pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.Pool.ConnMaxLifetime)
	}
	if c.Pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(c.Pool.ConnMaxIdleTime)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("config: connect %s: %w", name, err), db.Close())
	}
	opts := []sql.StatsOption{sql.WithLogger(logger), sql.WithSlowQueryLog()}
	if c.Log.SlowThreshold > 0 {
		opts = append(opts, sql.WithSlowThreshold(c.Log.SlowThreshold))
	}
	if c.Log.Debug {
		opts = append(opts, sql.WithDebug())
	}
	return sql.NewStatsDriver(sql.OpenDB(c.Dialect, db), opts...), nil
}

// Registry loads the entity schema file.
func (c *Config) Registry() (*schema.Registry, error) {
	if c.Schema == "" {
		return nil, errors.New("config: no schema file configured")
	}
	return schema.LoadYAMLFile(c.Schema)
}

// ResultCache builds the configured result cache, or nil when caching is
// disabled. Database caches store entries through drv.
func (c *Config) ResultCache(ctx context.Context, drv dialect.Driver) (loom.QueryResultCache, error) {
	if !c.Cache.Enabled {
		return nil, nil
	}
	if c.Cache.Type != CacheDatabase {
		return cache.NewMemory(cache.WithMaxEntries(c.Cache.MaxEntries)), nil
	}
	rc, err := cache.NewDB(drv, cache.WithTable(c.Cache.Table), cache.WithSchema(c.Cache.TableSchema))
	if err != nil {
		return nil, err
	}
	if c.Cache.Synchronize {
		if err := rc.Synchronize(ctx); err != nil {
			return nil, err
		}
	}
	return rc, nil
}

// Manager opens the database and returns a manager for reg configured
// from c, with the driver it runs on. Options given last override the
// configured ones. The caller closes the driver.
func (c *Config) Manager(ctx context.Context, reg *schema.Registry, logger *slog.Logger, opts ...query.Option) (*query.Manager, *sql.StatsDriver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	drv, err := c.Open(ctx, logger)
	if err != nil {
		return nil, nil, err
	}
	m, err := c.manager(ctx, drv, reg, logger, opts)
	if err != nil {
		return nil, nil, errors.Join(err, drv.Close())
	}
	return m, drv, nil
}

func (c *Config) manager(ctx context.Context, drv dialect.Driver, reg *schema.Registry, logger *slog.Logger, opts []query.Option) (*query.Manager, error) {
	rc, err := c.ResultCache(ctx, drv)
	if err != nil {
		return nil, err
	}
	base := []query.Option{
		query.WithLogger(logger),
		query.WithRelationLoadStrategy(find.RelationLoadStrategy(strings.ToLower(c.RelationLoadStrategy))),
	}
	if len(c.SessionVars) > 0 {
		base = append(base, query.WithSessionVars(c.SessionVars))
	}
	if rc != nil {
		base = append(base, query.WithCache(rc))
		if c.Cache.Duration > 0 {
			base = append(base, query.WithCacheDuration(c.Cache.Duration))
		}
		if c.Cache.AlwaysEnabled {
			base = append(base, query.WithCacheAlwaysEnabled())
		}
	}
	return query.NewManager(drv, reg, append(base, opts...)...)
}
