package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/syssam/loom"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/hydrate"
	"github.com/syssam/loom/schema"
)

// Subscriber reacts to loaded entities. AfterLoad runs once per top-level
// load with every entity of the batch.
type Subscriber interface {
	AfterLoad(ctx context.Context, entity *schema.Entity, entities []*hydrate.Entity) error
}

// The SubscriberFunc type is an adapter to allow the use of ordinary
// functions as Subscriber.
type SubscriberFunc func(context.Context, *schema.Entity, []*hydrate.Entity) error

// AfterLoad calls f(ctx, entity, entities).
func (f SubscriberFunc) AfterLoad(ctx context.Context, entity *schema.Entity, entities []*hydrate.Entity) error {
	return f(ctx, entity, entities)
}

// Manager creates query builders for the entities of a registry and runs
// them on a driver.
type Manager struct {
	driver   dialect.Driver
	tx       dialect.Tx
	registry *schema.Registry
	strategy dialect.Strategy
	dialect  string

	cache         loom.QueryResultCache
	cacheDuration time.Duration
	cacheAlways   bool

	logger       *slog.Logger
	subscribers  []Subscriber
	interceptors []Interceptor
	loadStrategy find.RelationLoadStrategy
	vars         map[string]string
}

// Option configures a Manager.
type Option func(*Manager)

// WithCache sets the result cache. Queries use it when they enable caching,
// or always with WithCacheAlwaysEnabled.
func WithCache(c loom.QueryResultCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithCacheDuration sets the default time to live of cached results.
func WithCacheDuration(d time.Duration) Option {
	return func(m *Manager) { m.cacheDuration = d }
}

// WithCacheAlwaysEnabled caches the results of every query.
func WithCacheAlwaysEnabled() Option {
	return func(m *Manager) { m.cacheAlways = true }
}

// WithLogger sets the logger. Statements and cache hits are logged at
// debug level.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSubscribers adds subscribers called after entity loads.
func WithSubscribers(s ...Subscriber) Option {
	return func(m *Manager) { m.subscribers = append(m.subscribers, s...) }
}

// WithInterceptors adds statement interceptors. The first one is the
// outermost.
func WithInterceptors(i ...Interceptor) Option {
	return func(m *Manager) { m.interceptors = append(m.interceptors, i...) }
}

// WithRelationLoadStrategy sets how find option relations are loaded by
// default.
func WithRelationLoadStrategy(s find.RelationLoadStrategy) Option {
	return func(m *Manager) { m.loadStrategy = s }
}

// WithSessionVars sets session variables on the connection of every
// statement the manager runs, and resets them after it. Later calls add to
// and override earlier ones.
func WithSessionVars(vars map[string]string) Option {
	return func(m *Manager) {
		if m.vars == nil {
			m.vars = make(map[string]string, len(vars))
		}
		maps.Copy(m.vars, vars)
	}
}

// WithDialect sets the dialect of a manager without a driver, used to
// render statements only.
func WithDialect(name string) Option {
	return func(m *Manager) { m.dialect = name }
}

// NewManager returns a manager running queries for the entities of reg on
// drv. A nil driver needs WithDialect; its builders compile statements but
// cannot run them.
func NewManager(drv dialect.Driver, reg *schema.Registry, opts ...Option) (*Manager, error) {
	if reg == nil {
		return nil, errors.New("query: nil registry")
	}
	m := &Manager{
		driver:       drv,
		registry:     reg,
		logger:       slog.New(slog.DiscardHandler),
		loadStrategy: find.LoadByQuery,
	}
	for _, opt := range opts {
		opt(m)
	}
	name := m.dialect
	if name == "" {
		if drv == nil {
			return nil, errors.New("query: nil driver without dialect")
		}
		name = drv.Dialect()
	}
	s, err := dialect.For(name)
	if err != nil {
		return nil, err
	}
	m.strategy, m.dialect = s, s.Name()
	if err := sql.ValidateVars(m.dialect, m.vars); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the entity registry.
func (m *Manager) Registry() *schema.Registry { return m.registry }

// Strategy returns the dialect strategy.
func (m *Manager) Strategy() dialect.Strategy { return m.strategy }

// Cache returns the result cache, if any.
func (m *Manager) Cache() loom.QueryResultCache { return m.cache }

// RemoveCache removes cached results stored under identifiers, including
// the pagination and count entries derived from them.
func (m *Manager) RemoveCache(ctx context.Context, identifiers ...string) error {
	if m.cache == nil || len(identifiers) == 0 {
		return nil
	}
	ids := make([]string, 0, len(identifiers)*3)
	for _, id := range identifiers {
		ids = append(ids, id, id+"-pagination", id+"-count")
	}
	return m.cache.Remove(ctx, ids...)
}

// CreateQueryBuilder returns a builder selecting entity under alias. An
// empty alias defaults to the entity name. Names not in the registry are
// selected as tables.
func (m *Manager) CreateQueryBuilder(entity, alias string) *SelectQueryBuilder {
	b := newBuilder(m)
	if alias == "" {
		alias = entity
	}
	return b.Select(alias).From(entity, alias)
}

// builder returns a builder for a registered entity with find options.
func (m *Manager) builder(entity string, opts find.Options) *SelectQueryBuilder {
	meta, ok := m.registry.Entity(entity)
	if !ok {
		return newBuilder(m).AddError(fmt.Errorf("query: unknown entity %q", entity))
	}
	alias := meta.Name
	if opts.Join != nil && opts.Join.Alias != "" {
		alias = opts.Join.Alias
	}
	return m.CreateQueryBuilder(meta.Name, alias).SetFindOptions(opts)
}

// FindQuery returns the builder of a find with opts, for inspection or
// further refinement.
func (m *Manager) FindQuery(entity string, opts find.Options) *SelectQueryBuilder {
	return m.builder(entity, opts)
}

// Find loads the entities matching opts.
func (m *Manager) Find(ctx context.Context, entity string, opts find.Options) ([]*hydrate.Entity, error) {
	return m.builder(entity, opts).GetMany(ctx)
}

// FindBy loads the entities matching where.
func (m *Manager) FindBy(ctx context.Context, entity string, where find.Condition) ([]*hydrate.Entity, error) {
	return m.Find(ctx, entity, find.Options{Where: where})
}

// FindAndCount loads the entities matching opts and counts all matches,
// ignoring pagination.
func (m *Manager) FindAndCount(ctx context.Context, entity string, opts find.Options) ([]*hydrate.Entity, int64, error) {
	return m.builder(entity, opts).GetManyAndCount(ctx)
}

// FindByIDs loads the entities with the given primary key values. Composite
// keys are given as maps from property to value.
func (m *Manager) FindByIDs(ctx context.Context, entity string, ids ...any) ([]*hydrate.Entity, error) {
	if len(ids) == 0 {
		return []*hydrate.Entity{}, nil
	}
	return m.builder(entity, find.Options{}).AndWhereInIDs(ids...).GetMany(ctx)
}

// FindOne loads the first entity matching opts, or nil.
func (m *Manager) FindOne(ctx context.Context, entity string, opts find.Options) (*hydrate.Entity, error) {
	opts.Take = 1
	return m.builder(entity, opts).GetOne(ctx)
}

// FindOneBy loads the first entity matching where, or nil.
func (m *Manager) FindOneBy(ctx context.Context, entity string, where find.Condition) (*hydrate.Entity, error) {
	return m.FindOne(ctx, entity, find.Options{Where: where})
}

// FindOneByID loads the entity with the given primary key value, or nil.
func (m *Manager) FindOneByID(ctx context.Context, entity string, id any) (*hydrate.Entity, error) {
	return m.builder(entity, find.Options{Take: 1}).AndWhereInIDs(id).GetOne(ctx)
}

// FindOneOrFail is like FindOne but returns a *loom.NotFoundError when
// nothing matches.
func (m *Manager) FindOneOrFail(ctx context.Context, entity string, opts find.Options) (*hydrate.Entity, error) {
	e, err := m.FindOne(ctx, entity, opts)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, loom.NewNotFoundError(entity, opts.Where)
	}
	return e, nil
}

// Count counts the entities matching opts, ignoring pagination.
func (m *Manager) Count(ctx context.Context, entity string, opts find.Options) (int64, error) {
	return m.builder(entity, opts).GetCount(ctx)
}

// CountBy counts the entities matching where.
func (m *Manager) CountBy(ctx context.Context, entity string, where find.Condition) (int64, error) {
	return m.Count(ctx, entity, find.Options{Where: where})
}

// Transaction runs fn with a manager bound to a new transaction. The
// transaction commits when fn returns nil and rolls back otherwise, or when
// fn panics.
func (m *Manager) Transaction(ctx context.Context, fn func(*Manager) error) error {
	if m.tx != nil {
		return loom.ErrTxStarted
	}
	if m.driver == nil {
		return errors.New("query: transaction without driver")
	}
	tx, err := m.driver.Tx(ctx)
	if err != nil {
		return fmt.Errorf("query: starting a transaction: %w", err)
	}
	txm := *m
	txm.tx = tx
	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(&txm); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = errors.Join(err, &loom.RollbackError{Err: rerr})
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("query: committing transaction: %w", err)
	}
	return nil
}

// GetRawMany runs the query and returns its rows.
func (b *SelectQueryBuilder) GetRawMany(ctx context.Context) ([]map[string]any, error) {
	if err := b.prepare(); err != nil {
		return nil, err
	}
	if err := b.checkLock("GetRawMany", false); err != nil {
		return nil, err
	}
	return b.rawRows(ctx)
}

// GetRawOne runs the query and returns its first row, or nil.
func (b *SelectQueryBuilder) GetRawOne(ctx context.Context) (map[string]any, error) {
	if err := b.prepare(); err != nil {
		return nil, err
	}
	if err := b.checkLock("GetRawOne", false); err != nil {
		return nil, err
	}
	rows, err := b.rawRows(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// GetRawAndEntities runs the query and returns both the rows and the
// entities hydrated from them.
func (b *SelectQueryBuilder) GetRawAndEntities(ctx context.Context) ([]map[string]any, []*hydrate.Entity, error) {
	if err := b.prepare(); err != nil {
		return nil, nil, err
	}
	if err := b.checkLock("GetRawAndEntities", false); err != nil {
		return nil, nil, err
	}
	return b.executeEntities(ctx)
}

// GetMany runs the query and returns the hydrated entities of the main
// alias.
func (b *SelectQueryBuilder) GetMany(ctx context.Context) ([]*hydrate.Entity, error) {
	if err := b.prepare(); err != nil {
		return nil, err
	}
	if err := b.checkLock("GetMany", false); err != nil {
		return nil, err
	}
	_, entities, err := b.executeEntities(ctx)
	return entities, err
}

// GetOne runs the query and returns the first entity, or nil. With an
// optimistic lock, the version or update date of the entity must match
// the expected version.
func (b *SelectQueryBuilder) GetOne(ctx context.Context) (*hydrate.Entity, error) {
	if err := b.prepare(); err != nil {
		return nil, err
	}
	if err := b.checkLock("GetOne", true); err != nil {
		return nil, err
	}
	var version *schema.Column
	if b.expr.LockMode == loom.LockOptimistic {
		meta := b.expr.MainAlias.Metadata
		if meta == nil {
			return nil, loom.NewUnsupportedOperationError("optimistic lock on "+b.expr.MainAlias.Name, "", loom.ErrNoVersionColumn)
		}
		if version = meta.VersionColumn(); version == nil {
			version = meta.UpdateDateColumn()
		}
		if version == nil {
			return nil, loom.NewUnsupportedOperationError("optimistic lock on "+meta.Name, "", loom.ErrNoVersionColumn)
		}
		b.expr.Require(b.expr.MainAlias.Name, version)
	}
	_, entities, err := b.executeEntities(ctx)
	if err != nil || len(entities) == 0 {
		return nil, err
	}
	e := entities[0]
	if version != nil {
		actual, _ := e.ColumnValue(version)
		if !sameVersion(b.expr.LockVersion, actual) {
			return nil, loom.NewOptimisticLockMismatchError(e.Metadata().Name, b.expr.LockVersion, actual)
		}
	}
	return e, nil
}

// sameVersion compares an expected version number or update date with the
// loaded one.
func sameVersion(expected, actual any) bool {
	if et, ok := expected.(time.Time); ok {
		at, ok := actual.(time.Time)
		return ok && et.Equal(at)
	}
	return expected != nil && hydrate.KeyOf(expected) == hydrate.KeyOf(actual)
}

// GetOneOrFail is like GetOne but returns a *loom.NotFoundError when
// nothing matches.
func (b *SelectQueryBuilder) GetOneOrFail(ctx context.Context) (*hydrate.Entity, error) {
	e, err := b.GetOne(ctx)
	if err != nil {
		return nil, err
	}
	if e == nil {
		label := b.Alias()
		if m := b.expr.MainAlias; m != nil && m.Metadata != nil {
			label = m.Metadata.Name
		}
		var criteria any
		if b.opts != nil {
			criteria = b.opts.Where
		}
		return nil, loom.NewNotFoundError(label, criteria)
	}
	return e, nil
}

// GetCount counts the distinct main entities matching the query, ignoring
// pagination and ordering.
func (b *SelectQueryBuilder) GetCount(ctx context.Context) (int64, error) {
	if err := b.prepare(); err != nil {
		return 0, err
	}
	if err := b.checkLock("GetCount", false); err != nil {
		return 0, err
	}
	return b.count(ctx)
}

// GetManyAndCount returns the entities of the requested page and the count
// of all matching entities.
func (b *SelectQueryBuilder) GetManyAndCount(ctx context.Context) ([]*hydrate.Entity, int64, error) {
	if err := b.prepare(); err != nil {
		return nil, 0, err
	}
	if err := b.checkLock("GetManyAndCount", false); err != nil {
		return nil, 0, err
	}
	_, entities, err := b.executeEntities(ctx)
	if err != nil {
		return nil, 0, err
	}
	n, err := b.count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return entities, n, nil
}

// executeEntities loads the rows of the entity statement, side-loads
// relation ids and counts, hydrates the main alias, loads find option
// relations and notifies subscribers.
func (b *SelectQueryBuilder) executeEntities(ctx context.Context) (raw []map[string]any, entities []*hydrate.Entity, err error) {
	main := b.expr.MainAlias
	if main.Metadata == nil {
		return nil, nil, loom.NewUnsupportedOperationError("hydrate "+main.Name+" without entity metadata", "", nil)
	}
	load := func(qb *SelectQueryBuilder) error {
		e := qb.Clone()
		e.expr.QueryEntity = true
		if raw, err = e.entityRows(ctx); err != nil {
			return err
		}
		side, err := e.loadSideValues(ctx, raw)
		if err != nil {
			return err
		}
		l := e.layout(side)
		if l == nil {
			entities = []*hydrate.Entity{}
			return nil
		}
		if entities, err = hydrate.Transform(raw, l); err != nil {
			return err
		}
		return e.loadRelations(ctx, entities)
	}
	if b.paginatesAcrossJoins() {
		err = b.pinned(ctx, load)
	} else {
		err = load(b)
	}
	if err != nil {
		return nil, nil, err
	}
	if b.expr.CallListeners && len(entities) > 0 {
		for _, s := range b.m.subscribers {
			if err := s.AfterLoad(ctx, main.Metadata, entities); err != nil {
				return nil, nil, err
			}
		}
	}
	return raw, entities, nil
}
