package query

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/syssam/loom"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/schema"
)

// SelectQueryBuilder builds and runs one select statement. Builder calls
// record errors instead of returning them; the first recorded error is
// returned by Compile and by every terminal call, before any statement is
// sent. A builder is not safe for concurrent use.
type SelectQueryBuilder struct {
	m        *Manager
	strategy dialect.Strategy
	expr     *ExpressionMap
	errs     []error

	opts        *find.Options
	optsApplied bool
	// loadStrategy and relations drive relation loading after the main
	// statement. relSelects and relOrders hold the find options of each
	// loaded relation path.
	loadStrategy find.RelationLoadStrategy
	relations    []string
	relSelects   map[string][]string
	relOrders    map[string]find.Order
	// conn overrides the connection of the manager. It is set on builders
	// running on a pinned session and must not issue concurrent statements.
	conn dialect.ExecQuerier
}

func newBuilder(m *Manager) *SelectQueryBuilder {
	return &SelectQueryBuilder{
		m:            m,
		strategy:     m.strategy,
		expr:         NewExpressionMap(),
		loadStrategy: m.loadStrategy,
		relSelects:   make(map[string][]string),
		relOrders:    make(map[string]find.Order),
	}
}

// AddError records an error returned by the next terminal call.
func (b *SelectQueryBuilder) AddError(err error) *SelectQueryBuilder {
	if err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Err returns the first recorded error.
func (b *SelectQueryBuilder) Err() error {
	if len(b.errs) == 0 {
		return nil
	}
	return b.errs[0]
}

// ExpressionMap returns the state of the builder.
func (b *SelectQueryBuilder) ExpressionMap() *ExpressionMap { return b.expr }

// Alias returns the main alias name.
func (b *SelectQueryBuilder) Alias() string {
	if b.expr.MainAlias == nil {
		return ""
	}
	return b.expr.MainAlias.Name
}

// Clone returns an independent copy of the builder.
func (b *SelectQueryBuilder) Clone() *SelectQueryBuilder {
	c := *b
	c.expr = b.expr.Clone()
	c.errs = slices.Clone(b.errs)
	c.relations = slices.Clone(b.relations)
	c.relSelects = maps.Clone(b.relSelects)
	c.relOrders = maps.Clone(b.relOrders)
	return &c
}

func (b *SelectQueryBuilder) entity(name string) *schema.Entity {
	if b.m.registry == nil {
		return nil
	}
	e, _ := b.m.registry.Entity(name)
	return e
}

// Select replaces the selection. A selection is an alias name, an
// "alias.property" path or a raw expression.
func (b *SelectQueryBuilder) Select(selection ...string) *SelectQueryBuilder {
	b.expr.Selects = b.expr.Selects[:0]
	return b.AddSelect(selection...)
}

// AddSelect adds to the selection.
func (b *SelectQueryBuilder) AddSelect(selection ...string) *SelectQueryBuilder {
	for _, s := range selection {
		b.expr.Selects = append(b.expr.Selects, Selection{Expr: s})
	}
	return b
}

// AddSelectAs adds a raw expression selected under an alias.
func (b *SelectQueryBuilder) AddSelectAs(expr, as string) *SelectQueryBuilder {
	b.expr.Selects = append(b.expr.Selects, Selection{Expr: expr, As: as})
	return b
}

// Distinct selects distinct rows.
func (b *SelectQueryBuilder) Distinct(distinct bool) *SelectQueryBuilder {
	b.expr.Distinct = distinct
	return b
}

// DistinctOn selects the first row of each set of rows equal on exprs.
// Only dialects with DISTINCT ON support it.
func (b *SelectQueryBuilder) DistinctOn(exprs ...string) *SelectQueryBuilder {
	b.expr.DistinctOn = exprs
	return b
}

// From adds a source: an entity name, a table path or a parenthesized
// subquery. The first source is the main alias.
func (b *SelectQueryBuilder) From(target, alias string) *SelectQueryBuilder {
	o := AliasOptions{Name: alias, Kind: AliasFrom}
	switch e := b.entity(target); {
	case e != nil:
		o.Metadata = e
		if o.Name == "" {
			o.Name = e.Name
		}
	case strings.HasPrefix(target, "("):
		o.SubQuery = target
	default:
		o.TablePath = target
	}
	if _, err := b.expr.CreateAlias(o); err != nil {
		b.AddError(err)
	}
	return b
}

// FromSubQuery adds a subquery source built by f. The parameters of the
// subquery are merged into the builder.
func (b *SelectQueryBuilder) FromSubQuery(f func(*SelectQueryBuilder) *SelectQueryBuilder, alias string) *SelectQueryBuilder {
	sub := f(b.SubQuery())
	text, err := sub.GetQuery()
	if err != nil {
		return b.AddError(err)
	}
	maps.Copy(b.expr.Parameters, sub.expr.Parameters)
	return b.From("("+text+")", alias)
}

// SubQuery returns an empty builder sharing the parameter numbering of b,
// for subqueries embedded in conditions or sources.
func (b *SelectQueryBuilder) SubQuery() *SelectQueryBuilder {
	sub := newBuilder(b.m)
	sub.expr.counter = b.expr.counter
	return sub
}

// InnerJoin joins target under alias. The target is "alias.relation", an
// entity name, a table path or a parenthesized subquery. Conditions are
// combined with AND.
func (b *SelectQueryBuilder) InnerJoin(target, alias string, on ...string) *SelectQueryBuilder {
	b.join(joinOptions{direction: find.InnerJoin, target: target, alias: alias, condition: and(on)})
	return b
}

// LeftJoin is like InnerJoin with a left join.
func (b *SelectQueryBuilder) LeftJoin(target, alias string, on ...string) *SelectQueryBuilder {
	b.join(joinOptions{direction: find.LeftJoin, target: target, alias: alias, condition: and(on)})
	return b
}

// InnerJoinAndSelect joins target and selects its columns.
func (b *SelectQueryBuilder) InnerJoinAndSelect(target, alias string, on ...string) *SelectQueryBuilder {
	b.join(joinOptions{direction: find.InnerJoin, target: target, alias: alias, condition: and(on), selection: true})
	return b
}

// LeftJoinAndSelect joins target with a left join and selects its columns.
func (b *SelectQueryBuilder) LeftJoinAndSelect(target, alias string, on ...string) *SelectQueryBuilder {
	b.join(joinOptions{direction: find.LeftJoin, target: target, alias: alias, condition: and(on), selection: true})
	return b
}

// InnerJoinAndMapOne joins and selects target and hydrates the first
// joined entity into mapTo, an "alias.property" path.
func (b *SelectQueryBuilder) InnerJoinAndMapOne(mapTo, target, alias string, on ...string) *SelectQueryBuilder {
	return b.joinAndMap(find.InnerJoin, mapTo, false, target, alias, on)
}

// InnerJoinAndMapMany joins and selects target and hydrates all joined
// entities into mapTo.
func (b *SelectQueryBuilder) InnerJoinAndMapMany(mapTo, target, alias string, on ...string) *SelectQueryBuilder {
	return b.joinAndMap(find.InnerJoin, mapTo, true, target, alias, on)
}

// LeftJoinAndMapOne is like InnerJoinAndMapOne with a left join.
func (b *SelectQueryBuilder) LeftJoinAndMapOne(mapTo, target, alias string, on ...string) *SelectQueryBuilder {
	return b.joinAndMap(find.LeftJoin, mapTo, false, target, alias, on)
}

// LeftJoinAndMapMany is like InnerJoinAndMapMany with a left join.
func (b *SelectQueryBuilder) LeftJoinAndMapMany(mapTo, target, alias string, on ...string) *SelectQueryBuilder {
	return b.joinAndMap(find.LeftJoin, mapTo, true, target, alias, on)
}

func (b *SelectQueryBuilder) joinAndMap(dir find.JoinKind, mapTo string, many bool, target, alias string, on []string) *SelectQueryBuilder {
	parent, _, ok := strings.Cut(mapTo, ".")
	if !ok || b.expr.FindAlias(parent) == nil {
		return b.AddError(loom.NewMissingAliasError(parent))
	}
	b.join(joinOptions{direction: dir, target: target, alias: alias, condition: and(on), selection: true, mapTo: mapTo, mapMany: many})
	return b
}

// Where replaces the conditions. A condition is a string, a find.Condition
// or Brackets.
func (b *SelectQueryBuilder) Where(cond any, params ...Params) *SelectQueryBuilder {
	b.expr.Wheres = b.expr.Wheres[:0]
	return b.addClause(&b.expr.Wheres, ClauseSimple, cond, params)
}

// AndWhere adds a condition combined with AND.
func (b *SelectQueryBuilder) AndWhere(cond any, params ...Params) *SelectQueryBuilder {
	return b.addClause(&b.expr.Wheres, ClauseAnd, cond, params)
}

// OrWhere adds a condition combined with OR.
func (b *SelectQueryBuilder) OrWhere(cond any, params ...Params) *SelectQueryBuilder {
	return b.addClause(&b.expr.Wheres, ClauseOr, cond, params)
}

// Having replaces the having conditions.
func (b *SelectQueryBuilder) Having(cond string, params ...Params) *SelectQueryBuilder {
	b.expr.Havings = b.expr.Havings[:0]
	return b.addClause(&b.expr.Havings, ClauseSimple, cond, params)
}

// AndHaving adds a having condition combined with AND.
func (b *SelectQueryBuilder) AndHaving(cond string, params ...Params) *SelectQueryBuilder {
	return b.addClause(&b.expr.Havings, ClauseAnd, cond, params)
}

// OrHaving adds a having condition combined with OR.
func (b *SelectQueryBuilder) OrHaving(cond string, params ...Params) *SelectQueryBuilder {
	return b.addClause(&b.expr.Havings, ClauseOr, cond, params)
}

func (b *SelectQueryBuilder) addClause(list *[]Clause, kind ClauseKind, cond any, params []Params) *SelectQueryBuilder {
	for _, p := range params {
		b.SetParameters(p)
	}
	s, err := b.condition(cond)
	if err != nil {
		return b.AddError(err)
	}
	if s == "" {
		return b
	}
	if len(*list) == 0 {
		kind = ClauseSimple
	}
	*list = append(*list, Clause{Kind: kind, Condition: s})
	return b
}

// condition renders a condition argument.
func (b *SelectQueryBuilder) condition(cond any) (string, error) {
	switch c := cond.(type) {
	case string:
		return c, nil
	case find.Condition:
		s, err := b.buildCondition(b.expr.MainAlias, c)
		if err != nil || s == "" {
			return s, err
		}
		return "(" + s + ")", nil
	case Brackets:
		return b.brackets(c)
	case func(*SelectQueryBuilder):
		return b.brackets(c)
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("query: unexpected condition %T", cond)
}

func (b *SelectQueryBuilder) brackets(f func(*SelectQueryBuilder)) (string, error) {
	saved := b.expr.Wheres
	b.expr.Wheres = nil
	f(b)
	inner := b.expr.Wheres
	b.expr.Wheres = saved
	if err := b.Err(); err != nil {
		return "", err
	}
	if len(inner) == 0 {
		return "", nil
	}
	return "(" + b.clausesSQL(inner) + ")", nil
}

// WhereInIDs replaces the conditions with a match on primary key values.
// Composite keys are given as maps from property to value.
func (b *SelectQueryBuilder) WhereInIDs(ids ...any) *SelectQueryBuilder {
	b.expr.Wheres = b.expr.Wheres[:0]
	return b.inIDs(ClauseSimple, ids)
}

// AndWhereInIDs adds a match on primary key values combined with AND.
func (b *SelectQueryBuilder) AndWhereInIDs(ids ...any) *SelectQueryBuilder {
	return b.inIDs(ClauseAnd, ids)
}

// OrWhereInIDs adds a match on primary key values combined with OR.
func (b *SelectQueryBuilder) OrWhereInIDs(ids ...any) *SelectQueryBuilder {
	return b.inIDs(ClauseOr, ids)
}

func (b *SelectQueryBuilder) inIDs(kind ClauseKind, ids []any) *SelectQueryBuilder {
	main := b.expr.MainAlias
	if main == nil || main.Metadata == nil {
		return b.AddError(loom.NewMissingAliasError(""))
	}
	cond, err := idCondition(main.Metadata, ids)
	if err != nil {
		return b.AddError(err)
	}
	return b.addClause(&b.expr.Wheres, kind, cond, nil)
}

// idCondition matches the primary key of e against ids.
func idCondition(e *schema.Entity, ids []any) (find.Condition, error) {
	pks := e.PrimaryColumns()
	if len(pks) == 0 {
		return nil, fmt.Errorf("query: entity %s has no primary key", e.Name)
	}
	if len(pks) == 1 {
		vs := make([]any, len(ids))
		for i, id := range ids {
			if m, ok := id.(map[string]any); ok {
				id = m[pks[0].Property]
			}
			vs[i] = id
		}
		return find.Where{pks[0].Property: find.In(vs...)}, nil
	}
	if len(ids) == 0 {
		return find.Where{pks[0].Property: find.In()}, nil
	}
	or := make(find.Or, len(ids))
	for i, id := range ids {
		m, ok := id.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("query: entity %s has a composite primary key, got id %T", e.Name, id)
		}
		w := find.Where{}
		for _, pk := range pks {
			v, ok := m[pk.Property]
			if !ok {
				return nil, fmt.Errorf("query: id of %s misses %q", e.Name, pk.Property)
			}
			w = find.And(w, find.Path(pk.Property, v))
		}
		or[i] = w
	}
	return or, nil
}

// GroupBy replaces the grouping.
func (b *SelectQueryBuilder) GroupBy(exprs ...string) *SelectQueryBuilder {
	b.expr.GroupBys = slices.Clone(exprs)
	return b
}

// AddGroupBy adds to the grouping.
func (b *SelectQueryBuilder) AddGroupBy(exprs ...string) *SelectQueryBuilder {
	b.expr.GroupBys = append(b.expr.GroupBys, exprs...)
	return b
}

// OrderBy replaces the ordering. An empty sort clears it.
func (b *SelectQueryBuilder) OrderBy(sort string, dir find.Direction, nulls ...find.Nulls) *SelectQueryBuilder {
	b.expr.OrderBys = b.expr.OrderBys[:0]
	if sort == "" {
		return b
	}
	return b.AddOrderBy(sort, dir, nulls...)
}

// AddOrderBy adds an ordering term. The direction defaults to ascending.
func (b *SelectQueryBuilder) AddOrderBy(sort string, dir find.Direction, nulls ...find.Nulls) *SelectQueryBuilder {
	if dir == "" {
		dir = find.Asc
	}
	o := OrderBy{Expr: sort, Direction: dir}
	if len(nulls) > 0 {
		o.Nulls = nulls[0]
	}
	for i, ob := range b.expr.OrderBys {
		if ob.Expr == sort {
			b.expr.OrderBys[i] = o
			return b
		}
	}
	b.expr.OrderBys = append(b.expr.OrderBys, o)
	return b
}

// Limit sets a plain LIMIT. Zero removes it.
func (b *SelectQueryBuilder) Limit(n int) *SelectQueryBuilder {
	if n < 0 {
		return b.AddError(fmt.Errorf("query: negative limit %d", n))
	}
	b.expr.Limit = n
	return b
}

// Offset sets a plain OFFSET. Zero removes it.
func (b *SelectQueryBuilder) Offset(n int) *SelectQueryBuilder {
	if n < 0 {
		return b.AddError(fmt.Errorf("query: negative offset %d", n))
	}
	b.expr.Offset = n
	return b
}

// Take limits the number of loaded root entities. Unlike Limit, it counts
// entities rather than rows when to-many relations are joined.
func (b *SelectQueryBuilder) Take(n int) *SelectQueryBuilder {
	if n < 0 {
		return b.AddError(fmt.Errorf("query: negative take %d", n))
	}
	b.expr.Take = n
	return b
}

// Skip skips root entities, counted like Take.
func (b *SelectQueryBuilder) Skip(n int) *SelectQueryBuilder {
	if n < 0 {
		return b.AddError(fmt.Errorf("query: negative skip %d", n))
	}
	b.expr.Skip = n
	return b
}

// SetLock sets the lock mode. For optimistic locks, version is the
// expected version number or update date.
func (b *SelectQueryBuilder) SetLock(mode loom.LockMode, version ...any) *SelectQueryBuilder {
	b.expr.LockMode = mode
	b.expr.LockVersion = nil
	if len(version) > 0 {
		b.expr.LockVersion = version[0]
	}
	return b
}

// WithDeleted includes soft deleted rows.
func (b *SelectQueryBuilder) WithDeleted() *SelectQueryBuilder {
	b.expr.WithDeleted = true
	return b
}

// Cache enables or disables the result cache.
func (b *SelectQueryBuilder) Cache(enabled bool) *SelectQueryBuilder {
	b.expr.Cache = enabled
	return b
}

// CacheFor enables the result cache with a time to live.
func (b *SelectQueryBuilder) CacheFor(d time.Duration) *SelectQueryBuilder {
	b.expr.Cache, b.expr.CacheDuration = true, d
	return b
}

// CacheWithID enables the result cache under an identifier that can be
// removed explicitly. A zero duration keeps the default.
func (b *SelectQueryBuilder) CacheWithID(id string, d time.Duration) *SelectQueryBuilder {
	b.expr.Cache, b.expr.CacheID = true, id
	if d > 0 {
		b.expr.CacheDuration = d
	}
	return b
}

// SetParameter sets a named parameter.
func (b *SelectQueryBuilder) SetParameter(name string, v any) *SelectQueryBuilder {
	if strings.ContainsAny(name, " .:") {
		return b.AddError(fmt.Errorf("query: invalid parameter name %q", name))
	}
	b.expr.Parameters[name] = v
	return b
}

// SetParameters sets several named parameters.
func (b *SelectQueryBuilder) SetParameters(ps Params) *SelectQueryBuilder {
	for k, v := range ps {
		b.SetParameter(k, v)
	}
	return b
}

// SetNativeParameters sets parameters resolved by the caller. Named
// parameters of the same name take precedence.
func (b *SelectQueryBuilder) SetNativeParameters(ps Params) *SelectQueryBuilder {
	maps.Copy(b.expr.NativeParameters, ps)
	return b
}

// Parameters returns the named and native parameters.
func (b *SelectQueryBuilder) Parameters() Params { return b.expr.AllParameters() }

// DisableEagerRelations skips relations marked eager when find options are
// applied.
func (b *SelectQueryBuilder) DisableEagerRelations() *SelectQueryBuilder {
	b.expr.EagerRelations = false
	return b
}

// CallListeners enables or disables subscribers for loaded entities.
func (b *SelectQueryBuilder) CallListeners(enabled bool) *SelectQueryBuilder {
	b.expr.CallListeners = enabled
	return b
}

// SetRelationLoadStrategy sets how find option relations are loaded.
func (b *SelectQueryBuilder) SetRelationLoadStrategy(s find.RelationLoadStrategy) *SelectQueryBuilder {
	b.loadStrategy = s
	return b
}

// SetFindOptions applies find options to the builder. Caching, locking and
// listener options apply immediately; selection, joins and conditions are
// applied once, before the first statement is compiled.
func (b *SelectQueryBuilder) SetFindOptions(opts find.Options) *SelectQueryBuilder {
	if err := opts.Validate(); err != nil {
		return b.AddError(err)
	}
	b.opts, b.optsApplied = &opts, false
	if opts.Cache != nil {
		b.CacheWithID(opts.Cache.ID, opts.Cache.Duration)
	}
	if opts.Lock != nil {
		b.SetLock(opts.Lock.Mode, opts.Lock.Version)
	}
	if opts.WithDeleted {
		b.WithDeleted()
	}
	if opts.DisableEagerRelations {
		b.DisableEagerRelations()
	}
	if opts.SkipListeners {
		b.CallListeners(false)
	}
	if opts.RelationLoadStrategy != "" {
		b.loadStrategy = opts.RelationLoadStrategy
	}
	return b
}

// prepare applies pending find options and returns the first recorded error.
func (b *SelectQueryBuilder) prepare() error {
	b.applyFindOptions()
	return b.Err()
}

func and(conds []string) string {
	var parts []string
	for _, c := range conds {
		if c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) <= 1 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts, " AND ")
}
