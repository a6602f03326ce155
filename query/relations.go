package query

import (
	"context"
	"strconv"
	"strings"

	"github.com/syssam/loom/find"
	"github.com/syssam/loom/hydrate"
	"github.com/syssam/loom/schema"
)

// loadRelations loads the find option relations of entities with one
// statement per relation, then recurses into nested paths. Statements of
// one level run concurrently; related entities are assigned once all of
// them completed.
func (b *SelectQueryBuilder) loadRelations(ctx context.Context, entities []*hydrate.Entity) error {
	if b.loadStrategy == find.LoadByJoin || len(b.relations) == 0 || len(entities) == 0 {
		return nil
	}
	var (
		main    = b.expr.MainAlias
		g, gctx = b.group(ctx)
		assigns []func()
		top     []*schema.Relation
	)
	for _, p := range b.relations {
		if !strings.Contains(p, ".") {
			top = append(top, main.Metadata.Relation(p))
		}
	}
	assigns = make([]func(), len(top))
	for i, rel := range top {
		g.Go(func() (err error) {
			assigns[i], err = b.loadRelation(gctx, main.Name, rel, entities)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, assign := range assigns {
		assign()
	}
	return nil
}

// nested returns the relation paths below path, relative to it.
func nested[V any](m map[string]V, path string) map[string]V {
	out := make(map[string]V)
	for k, v := range m {
		if rest, ok := strings.CutPrefix(k, path+"."); ok {
			out[rest] = v
		}
	}
	return out
}

// loadRelation loads the entities related to parents through rel and
// returns the function assigning them.
func (b *SelectQueryBuilder) loadRelation(ctx context.Context, parentAlias string, rel *schema.Relation, parents []*hydrate.Entity) (func(), error) {
	var (
		link   = rel.Link()
		target = rel.TargetEntity()
		alias  = parentAlias + "__" + rel.Property
		s      = b.strategy
	)
	keys := make([][]any, 0, len(parents))
	seen := make(map[string]bool, len(parents))
	for _, p := range parents {
		vs, ok := parentValues(p, link.ParentColumns)
		if k := hydrate.KeyOf(vs...); ok && !seen[k] {
			seen[k] = true
			keys = append(keys, vs)
		}
	}
	assign := func(related map[string][]*hydrate.Entity) func() {
		return func() {
			for _, p := range parents {
				var list []*hydrate.Entity
				if vs, ok := parentValues(p, link.ParentColumns); ok {
					list = related[hydrate.KeyOf(vs...)]
				}
				switch {
				case rel.IsMany():
					p.SetRelatedMany(rel.Property, list)
				case len(list) > 0:
					p.SetRelated(rel.Property, list[0])
				default:
					p.SetRelated(rel.Property, nil)
				}
			}
		}
	}
	if len(keys) == 0 {
		return assign(nil), nil
	}

	child := newBuilder(b.m)
	child.conn = b.conn
	child.loadStrategy = find.LoadByQuery
	child.expr.WithDeleted = b.expr.WithDeleted
	child.expr.Cache, child.expr.CacheDuration = b.expr.Cache, b.expr.CacheDuration
	child.expr.QueryEntity = true
	ca, err := child.expr.CreateAlias(AliasOptions{Name: alias, Kind: AliasFrom, Metadata: target})
	if err != nil {
		return nil, err
	}
	path := rel.Property
	if cols, ok := b.relSelects[path]; ok {
		for _, c := range cols {
			child.AddSelect(alias + "." + c)
		}
	} else {
		child.AddSelect(alias)
	}

	match := make([]string, len(link.MatchColumns))
	from := alias
	if link.Junction {
		from = alias + "_link"
		conds := make([]string, len(link.TargetColumns))
		for i, c := range link.TargetColumns {
			conds[i] = s.Escape(from) + "." + s.Escape(c.Name) + " = " + s.Escape(alias) + "." + s.Escape(link.TargetReferencedColumns[i].Name)
		}
		child.join(joinOptions{direction: find.InnerJoin, target: link.Table.Name, alias: from, condition: strings.Join(conds, " AND ")})
	}
	for i, c := range link.MatchColumns {
		match[i] = s.Escape(from) + "." + s.Escape(c.Name)
		child.AddSelectAs(match[i], "__link_"+strconv.Itoa(i))
	}
	child.Where(matchCondition(child, from, link.MatchColumns, match, keys))

	for _, t := range b.relOrders[path] {
		child.applyOrder(ca, nil, t)
	}
	child.relations = relativePaths(b.relations, path)
	child.relSelects = nested(b.relSelects, path)
	child.relOrders = nested(b.relOrders, path)
	for _, p := range child.relations {
		if !strings.Contains(p, ".") {
			child.expr.Require(alias, target.Relation(p).Link().ParentColumns...)
		}
	}
	if b.expr.EagerRelations {
		child.joinEager(ca, map[*schema.Entity]bool{target: true})
	}
	if err := child.Err(); err != nil {
		return nil, err
	}

	rows, err := child.entityRows(ctx)
	if err != nil {
		return nil, err
	}
	entities, err := hydrate.Transform(rows, child.layout(nil))
	if err != nil {
		return nil, err
	}
	if err := child.loadRelations(ctx, entities); err != nil {
		return nil, err
	}
	byKey := make(map[string]*hydrate.Entity, len(entities))
	for _, e := range entities {
		if vs, ok := parentValues(e, target.PrimaryColumns()); ok {
			byKey[hydrate.KeyOf(vs...)] = e
		}
	}
	var (
		related = make(map[string][]*hydrate.Entity)
		linked  = make(map[string]bool)
	)
	for _, row := range rows {
		pk := make([]any, len(target.PrimaryColumns()))
		for i, c := range target.PrimaryColumns() {
			if pk[i], err = hydrate.DecodeValue(c, row[child.columnKey(alias, c)]); err != nil {
				return nil, err
			}
		}
		e := byKey[hydrate.KeyOf(pk...)]
		if e == nil {
			continue
		}
		parent := make([]any, len(link.ParentColumns))
		for i, c := range link.ParentColumns {
			if parent[i], err = hydrate.DecodeValue(c, row["__link_"+strconv.Itoa(i)]); err != nil {
				return nil, err
			}
		}
		k := hydrate.KeyOf(parent...)
		if lk := k + "\x00\x00" + hydrate.KeyOf(pk...); !linked[lk] {
			linked[lk] = true
			related[k] = append(related[k], e)
		}
	}
	return assign(related), nil
}

// parentValues returns the decoded values of columns of e. ok is false
// when a value is missing or NULL.
func parentValues(e *hydrate.Entity, cols []*schema.Column) ([]any, bool) {
	vs := make([]any, len(cols))
	for i, c := range cols {
		v, ok := e.ColumnValue(c)
		if !ok || v == nil {
			return nil, false
		}
		vs[i] = v
	}
	return vs, true
}

// relativePaths returns the paths below path, relative to it.
func relativePaths(paths []string, path string) []string {
	var out []string
	for _, p := range paths {
		if rest, ok := strings.CutPrefix(p, path+"."); ok {
			out = append(out, rest)
		}
	}
	return out
}
