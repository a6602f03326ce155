package query

import (
	"context"
	"strconv"
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/schema"
)

const (
	distinctAlias = "distinctAlias"
	distinctIDs   = "orm_distinct_ids"
)

// paginatesAcrossJoins reports whether Skip and Take must count root
// entities over joined rows.
func (b *SelectQueryBuilder) paginatesAcrossJoins() bool {
	return (b.expr.Skip > 0 || b.expr.Take > 0) && len(b.expr.Joins) > 0
}

// entityRows runs the entity statement. Queries paginated across joins
// first select the primary keys of the requested page, then load the
// entities with those keys. b must be an entity query.
func (b *SelectQueryBuilder) entityRows(ctx context.Context) ([]map[string]any, error) {
	if !b.paginatesAcrossJoins() {
		c, err := b.compile()
		if err != nil {
			return nil, err
		}
		return b.run(ctx, c, "")
	}
	ids, err := b.pageIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []map[string]any{}, nil
	}
	final := b.Clone()
	final.expr.extraWhere = final.idFilter(ids)
	c, err := final.compile()
	if err != nil {
		return nil, err
	}
	return final.run(ctx, c, "")
}

// pageIDs selects the primary keys of the requested page.
func (b *SelectQueryBuilder) pageIDs(ctx context.Context) ([]map[string]any, error) {
	outer, err := b.pageQuery()
	if err != nil {
		return nil, err
	}
	c, err := outer.Compile()
	if err != nil {
		return nil, err
	}
	return outer.run(ctx, c, "-pagination")
}

// pageQuery builds the statement selecting the primary keys of the page
// over the entity statement. Ordering by columns of joined aliases groups
// the keys and orders each group by its first value in the requested
// direction.
func (b *SelectQueryBuilder) pageQuery() (*SelectQueryBuilder, error) {
	var (
		s     = b.strategy
		main  = b.expr.MainAlias
		inner = b.Clone()
		outer = newBuilder(b.m)
	)
	if main.Metadata == nil || len(main.Metadata.PrimaryColumns()) == 0 {
		return nil, loom.NewUnsupportedOperationError("paginate "+main.Name+" across joins", "", nil)
	}
	inner.expr.OrderBys = nil
	inner.expr.LockMode, inner.expr.LockVersion = loom.LockNone, nil
	inner.expr.Skip, inner.expr.Take = 0, 0
	inner.expr.Limit, inner.expr.Offset = 0, 0
	inner.expr.QueryEntity = true
	column := func(key string) string { return s.Escape(distinctAlias) + "." + s.Escape(key) }

	var (
		grouped bool
		orders  []OrderBy
	)
	for i, o := range b.expr.OrderBys {
		key := "order_" + strconv.Itoa(i)
		if b.isSelectionAlias(o.Expr) {
			key = o.Expr
		} else {
			inner.AddSelectAs(o.Expr, key)
		}
		if alias, _, ok := strings.Cut(o.Expr, "."); ok && alias != main.Name && b.expr.FindAlias(alias) != nil {
			grouped = true
		}
		orders = append(orders, OrderBy{Expr: key, Direction: o.Direction, Nulls: o.Nulls})
	}

	outer.conn = b.conn
	outer.FromSubQuery(func(*SelectQueryBuilder) *SelectQueryBuilder { return inner }, distinctAlias)
	outer.SetNativeParameters(inner.expr.NativeParameters)
	outer.Distinct(!grouped)
	var pks []string
	for _, pk := range main.Metadata.PrimaryColumns() {
		key := b.columnKey(main.Name, pk)
		pks = append(pks, column(key))
		outer.AddSelectAs(column(key), b.shorten("ids_"+key))
	}
	for _, o := range orders {
		expr := column(o.Expr)
		if grouped {
			expr = "MIN(" + expr + ")"
			if o.Direction == find.Desc {
				expr = "MAX(" + column(o.Expr) + ")"
			}
		}
		alias := b.shorten("o_" + o.Expr)
		outer.AddSelectAs(expr, alias)
		outer.AddOrderBy(alias, o.Direction, o.Nulls)
	}
	for _, pk := range main.Metadata.PrimaryColumns() {
		key := b.shorten("ids_" + b.columnKey(main.Name, pk))
		outer.AddOrderBy(key, find.Asc)
	}
	if grouped {
		outer.GroupBy(pks...)
	}
	outer.Offset(b.expr.Skip).Limit(b.expr.Take)
	outer.expr.Cache, outer.expr.CacheDuration, outer.expr.CacheID = b.expr.Cache, b.expr.CacheDuration, b.expr.CacheID
	return outer, nil
}

// isSelectionAlias reports whether name is the alias of a raw selection.
func (b *SelectQueryBuilder) isSelectionAlias(name string) bool {
	for _, s := range b.expr.Selects {
		if s.As != "" && s.As == name {
			return true
		}
	}
	return false
}

// idFilter renders the condition restricting the main alias to the keys
// selected by pageIDs. Numbers compared with numeric keys are inlined.
// Composite keys bind one parameter per row and key column, named by
// their positions.
func (b *SelectQueryBuilder) idFilter(ids []map[string]any) string {
	var (
		s    = b.strategy
		main = b.expr.MainAlias
		pks  = main.Metadata.PrimaryColumns()
	)
	column := func(c *schema.Column) string { return s.Escape(main.Name) + "." + s.Escape(c.Name) }
	key := func(c *schema.Column) string { return b.shorten("ids_" + b.columnKey(main.Name, c)) }
	if len(pks) == 1 {
		var (
			pk       = pks[0]
			vs       = make([]any, len(ids))
			literals = make([]string, 0, len(ids))
		)
		for i, row := range ids {
			vs[i] = row[key(pk)]
			if lit, ok := inline(pk, vs[i]); ok {
				literals = append(literals, lit)
			}
		}
		if len(literals) == len(vs) {
			return column(pk) + " IN (" + strings.Join(literals, ", ") + ")"
		}
		b.expr.Parameters[distinctIDs] = vs
		return column(pk) + " IN (:..." + distinctIDs + ")"
	}
	ors := make([]string, len(ids))
	for i, row := range ids {
		ands := make([]string, len(pks))
		for j, pk := range pks {
			name := distinctIDs + "_" + strconv.Itoa(i) + "_" + strconv.Itoa(j)
			b.expr.Parameters[name] = row[key(pk)]
			ands[j] = column(pk) + " = :" + name
		}
		ors[i] = "(" + strings.Join(ands, " AND ") + ")"
	}
	return "(" + strings.Join(ors, " OR ") + ")"
}
