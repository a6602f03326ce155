package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/hydrate"
	"github.com/syssam/loom/schema"
)

// RelationIDAttribute loads the ids of the entities related through
// Relation and maps them onto MapToProperty of each parent entity.
type RelationIDAttribute struct {
	ParentAlias string
	Relation    *schema.Relation
	// MapToProperty is the property of the parent alias receiving the ids.
	MapToProperty string
	// Alias names the related entity in the loading statement and in Filter.
	Alias  string
	Filter func(*SelectQueryBuilder)
	// DisableMixedMap maps every id as a map from property to value, even
	// for single column keys.
	DisableMixedMap bool
}

// RelationCountAttribute counts the entities related through a to-many
// Relation and maps the count onto MapToProperty of each parent entity.
type RelationCountAttribute struct {
	ParentAlias   string
	Relation      *schema.Relation
	MapToProperty string
	Alias         string
	Filter        func(*SelectQueryBuilder)
}

type loadOptions struct {
	alias           string
	filter          func(*SelectQueryBuilder)
	disableMixedMap bool
}

// LoadOption configures a relation id or count load.
type LoadOption func(*loadOptions)

// LoadAlias names the related entity in the loading statement.
func LoadAlias(alias string) LoadOption {
	return func(o *loadOptions) { o.alias = alias }
}

// LoadFilter restricts the related entities loaded or counted. Conditions
// refer to the related entity under its load alias.
func LoadFilter(f func(*SelectQueryBuilder)) LoadOption {
	return func(o *loadOptions) { o.filter = f }
}

// DisableMixedMap maps ids as maps from property to value.
func DisableMixedMap() LoadOption {
	return func(o *loadOptions) { o.disableMixedMap = true }
}

// sideLoad resolves "alias.relation" and "alias.property" paths shared by
// relation id and count loads.
func (b *SelectQueryBuilder) sideLoad(mapTo, relationName string, opts []LoadOption) (*Alias, *schema.Relation, string, loadOptions, bool) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	alias, path, ok := strings.Cut(relationName, ".")
	a := b.expr.FindAlias(alias)
	if !ok || a == nil || a.Metadata == nil {
		b.AddError(loom.NewMissingAliasError(alias))
		return nil, nil, "", o, false
	}
	rel := a.Metadata.Relation(path)
	if rel == nil {
		b.AddError(loom.NewCriteriaNotFoundError(path, a.Metadata.Name))
		return nil, nil, "", o, false
	}
	target, property, ok := strings.Cut(mapTo, ".")
	if !ok || target != alias {
		b.AddError(fmt.Errorf("query: %q must map onto alias %q", mapTo, alias))
		return nil, nil, "", o, false
	}
	if o.alias == "" {
		o.alias = alias + "_" + rel.Property + "_rid"
	}
	b.expr.Require(alias, rel.Link().ParentColumns...)
	return a, rel, property, o, true
}

// LoadRelationIDAndMap loads the ids of the entities related through
// relationName ("alias.relation") into mapTo ("alias.property"). To-many
// relations map lists.
func (b *SelectQueryBuilder) LoadRelationIDAndMap(mapTo, relationName string, opts ...LoadOption) *SelectQueryBuilder {
	a, rel, property, o, ok := b.sideLoad(mapTo, relationName, opts)
	if !ok {
		return b
	}
	b.expr.RelationIDs = append(b.expr.RelationIDs, &RelationIDAttribute{
		ParentAlias:     a.Name,
		Relation:        rel,
		MapToProperty:   property,
		Alias:           o.alias,
		Filter:          o.filter,
		DisableMixedMap: o.disableMixedMap,
	})
	return b
}

// LoadRelationCountAndMap counts the entities related through the to-many
// relation relationName into mapTo.
func (b *SelectQueryBuilder) LoadRelationCountAndMap(mapTo, relationName string, opts ...LoadOption) *SelectQueryBuilder {
	a, rel, property, o, ok := b.sideLoad(mapTo, relationName, opts)
	if !ok {
		return b
	}
	if !rel.IsMany() {
		return b.AddError(loom.NewUnsupportedOperationError(fmt.Sprintf("count relation %s", rel), "", nil))
	}
	b.expr.RelationCounts = append(b.expr.RelationCounts, &RelationCountAttribute{
		ParentAlias:   a.Name,
		Relation:      rel,
		MapToProperty: property,
		Alias:         o.alias,
		Filter:        o.filter,
	})
	return b
}

// LoadAllRelationIDs loads the ids of every relation of the main alias
// onto the relation properties.
func (b *SelectQueryBuilder) LoadAllRelationIDs(opts ...LoadOption) *SelectQueryBuilder {
	main := b.expr.MainAlias
	if main == nil || main.Metadata == nil {
		return b.AddError(loom.NewMissingAliasError(""))
	}
	for _, rel := range main.Metadata.AllRelations() {
		path := main.Name + "." + rel.Property
		b.LoadRelationIDAndMap(path, path, opts...)
	}
	return b
}

// sideLoaded holds the values loaded for the side loads of one statement.
type sideLoaded struct {
	ids    map[*RelationIDAttribute]map[string]any
	counts map[*RelationCountAttribute]map[string]any
}

// loadSideValues runs the relation id and count loads for the parents
// found in rows.
func (b *SelectQueryBuilder) loadSideValues(ctx context.Context, rows []map[string]any) (*sideLoaded, error) {
	out := &sideLoaded{
		ids:    make(map[*RelationIDAttribute]map[string]any, len(b.expr.RelationIDs)),
		counts: make(map[*RelationCountAttribute]map[string]any, len(b.expr.RelationCounts)),
	}
	if len(b.expr.RelationIDs) == 0 && len(b.expr.RelationCounts) == 0 {
		return out, nil
	}
	g, gctx := b.group(ctx)
	results := make([]map[string]any, len(b.expr.RelationIDs)+len(b.expr.RelationCounts))
	for i, attr := range b.expr.RelationIDs {
		g.Go(func() (err error) {
			results[i], err = b.loadRelationIDs(gctx, attr, rows)
			return err
		})
	}
	for i, attr := range b.expr.RelationCounts {
		g.Go(func() (err error) {
			results[len(b.expr.RelationIDs)+i], err = b.loadRelationCounts(gctx, attr, rows)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, attr := range b.expr.RelationIDs {
		out.ids[attr] = results[i]
	}
	for i, attr := range b.expr.RelationCounts {
		out.counts[attr] = results[len(b.expr.RelationIDs)+i]
	}
	return out, nil
}

// parentKeys collects the distinct non-null values of the parent columns
// of a relation in rows.
func (b *SelectQueryBuilder) parentKeys(alias string, cols []*schema.Column, rows []map[string]any) [][]any {
	var (
		out  [][]any
		seen = make(map[string]bool)
	)
	for _, row := range rows {
		vs := make([]any, len(cols))
		null := false
		for i, c := range cols {
			vs[i] = row[b.columnKey(alias, c)]
			null = null || vs[i] == nil
		}
		if k := hydrate.KeyOf(vs...); !null && !seen[k] {
			seen[k] = true
			out = append(out, vs)
		}
	}
	return out
}

// idValue decodes an id: a plain value for single column keys, a map from
// property to value otherwise.
func idValue(cols []*schema.Column, raw []any, mixed bool) (any, error) {
	if len(cols) == 1 && mixed {
		return hydrate.DecodeValue(cols[0], raw[0])
	}
	m := make(map[string]any, len(cols))
	for i, c := range cols {
		v, err := hydrate.DecodeValue(c, raw[i])
		if err != nil {
			return nil, err
		}
		m[c.Property] = v
	}
	return m, nil
}

func (b *SelectQueryBuilder) loadRelationIDs(ctx context.Context, attr *RelationIDAttribute, rows []map[string]any) (map[string]any, error) {
	var (
		rel  = attr.Relation
		link = rel.Link()
		ids  = make(map[string]any)
	)
	// Owning to-one relations hold the ids in the foreign key of the parent.
	if !rel.IsMany() && rel.IsOwning() && attr.Filter == nil {
		for _, key := range b.parentKeys(attr.ParentAlias, link.ParentColumns, rows) {
			v, err := idValue(link.MatchColumns, key, !attr.DisableMixedMap)
			if err != nil {
				return nil, err
			}
			ids[hydrate.KeyOf(key...)] = v
		}
		return ids, nil
	}
	keys := b.parentKeys(attr.ParentAlias, link.ParentColumns, rows)
	if len(keys) == 0 {
		return ids, nil
	}
	sub, match, idCols, err := b.sideQuery(attr.Alias, rel, attr.Filter, keys)
	if err != nil {
		return nil, err
	}
	for i, c := range idCols {
		sub.AddSelectAs(c, "id_"+strconv.Itoa(i))
	}
	found, err := sub.rawRows(ctx)
	if err != nil {
		return nil, err
	}
	refs := link.TargetReferencedColumns
	if !link.Junction {
		refs = rel.TargetEntity().PrimaryColumns()
	}
	for _, row := range found {
		parent := make([]any, len(match))
		for i := range match {
			parent[i] = row["parent_"+strconv.Itoa(i)]
		}
		raw := make([]any, len(refs))
		for i := range refs {
			raw[i] = row["id_"+strconv.Itoa(i)]
		}
		v, err := idValue(refs, raw, !attr.DisableMixedMap)
		if err != nil {
			return nil, err
		}
		k := hydrate.KeyOf(parent...)
		if rel.IsMany() {
			list, _ := ids[k].([]any)
			ids[k] = append(list, v)
		} else if _, ok := ids[k]; !ok {
			ids[k] = v
		}
	}
	return ids, nil
}

func (b *SelectQueryBuilder) loadRelationCounts(ctx context.Context, attr *RelationCountAttribute, rows []map[string]any) (map[string]any, error) {
	counts := make(map[string]any)
	keys := b.parentKeys(attr.ParentAlias, attr.Relation.Link().ParentColumns, rows)
	if len(keys) == 0 {
		return counts, nil
	}
	sub, match, _, err := b.sideQuery(attr.Alias, attr.Relation, attr.Filter, keys)
	if err != nil {
		return nil, err
	}
	sub.AddSelectAs("COUNT(*)", "cnt").GroupBy(match...)
	found, err := sub.rawRows(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range found {
		parent := make([]any, len(match))
		for i := range match {
			parent[i] = row["parent_"+strconv.Itoa(i)]
		}
		n, err := countOf(row["cnt"])
		if err != nil {
			return nil, err
		}
		counts[hydrate.KeyOf(parent...)] = n
	}
	return counts, nil
}

// sideQuery builds the statement reading a relation's link table for the
// given parent keys. It returns the builder with the match columns
// selected as "parent_i", the match column expressions and the related id
// column expressions. Filters join the related entity when the link table
// is a junction.
func (b *SelectQueryBuilder) sideQuery(alias string, rel *schema.Relation, filter func(*SelectQueryBuilder), keys [][]any) (*SelectQueryBuilder, []string, []string, error) {
	var (
		link = rel.Link()
		sub  = newBuilder(b.m)
		s    = b.strategy
	)
	sub.conn = b.conn
	sub.expr.WithDeleted = b.expr.WithDeleted
	sub.expr.Cache, sub.expr.CacheDuration = b.expr.Cache, b.expr.CacheDuration
	table := alias
	if link.Junction {
		table = alias + "_junction"
	}
	if _, err := sub.expr.CreateAlias(AliasOptions{Name: table, Kind: AliasFrom, Metadata: link.Table}); err != nil {
		return nil, nil, nil, err
	}
	column := func(c *schema.Column) string { return s.Escape(table) + "." + s.Escape(c.Name) }
	match := make([]string, len(link.MatchColumns))
	for i, c := range link.MatchColumns {
		match[i] = column(c)
		sub.AddSelectAs(match[i], "parent_"+strconv.Itoa(i))
	}
	var ids []string
	if link.Junction {
		for _, c := range link.TargetColumns {
			ids = append(ids, column(c))
		}
	} else {
		for _, c := range rel.TargetEntity().PrimaryColumns() {
			ids = append(ids, column(c))
		}
	}
	if filter != nil && link.Junction {
		target := rel.TargetEntity()
		conds := make([]string, len(link.TargetColumns))
		for i, c := range link.TargetColumns {
			conds[i] = s.Escape(alias) + "." + s.Escape(link.TargetReferencedColumns[i].Name) + " = " + column(c)
		}
		sub.join(joinOptions{direction: find.InnerJoin, target: target.Name, alias: alias, condition: strings.Join(conds, " AND ")})
	}
	sub.Where(matchCondition(sub, table, link.MatchColumns, match, keys))
	if filter != nil {
		saved := sub.expr.Wheres
		sub.expr.Wheres = nil
		filter(sub)
		if cond := sub.clausesSQL(sub.expr.Wheres); cond != "" {
			saved = append(saved, Clause{Kind: ClauseAnd, Condition: "(" + cond + ")"})
		}
		sub.expr.Wheres = saved
	}
	return sub, match, ids, sub.Err()
}

// matchCondition matches columns against key tuples: an IN list for single
// columns, OR-ed tuples otherwise.
func matchCondition(sub *SelectQueryBuilder, alias string, cols []*schema.Column, exprs []string, keys [][]any) string {
	if len(cols) == 1 {
		vs := make([]any, len(keys))
		for i, k := range keys {
			vs[i] = k[0]
		}
		name := sub.expr.NextParameter(alias, cols[0].Property)
		sub.expr.Parameters[name] = vs
		return exprs[0] + " IN (:..." + name + ")"
	}
	ors := make([]string, len(keys))
	for i, k := range keys {
		ands := make([]string, len(cols))
		for j, c := range cols {
			ands[j] = exprs[j] + " = " + sub.bind(alias, c.Property, k[j])
		}
		ors[i] = "(" + strings.Join(ands, " AND ") + ")"
	}
	return "(" + strings.Join(ors, " OR ") + ")"
}
