package query

import (
	"github.com/syssam/loom/hydrate"
	"github.com/syssam/loom/schema"
)

// layout describes how the rows of the entity statement hydrate into
// entities of the main alias. Joined aliases without selected columns are
// left out, and side-loaded values attach to the alias they were loaded for.
func (b *SelectQueryBuilder) layout(side *sideLoaded) *hydrate.Layout {
	layouts := make(map[string]*hydrate.Layout)
	for _, a := range b.selectedAliases() {
		cols := b.columns(a)
		if len(cols) == 0 {
			continue
		}
		l := &hydrate.Layout{Alias: a.Name, Entity: a.Metadata}
		for _, c := range cols {
			l.Columns = append(l.Columns, hydrate.Selection{
				Column:  c.column,
				Key:     b.columnKey(a.Name, c.column),
				Virtual: c.virtual,
			})
		}
		layouts[a.Name] = l
	}
	for _, j := range b.expr.Joins {
		child, ok := layouts[j.Alias.Name]
		if !ok {
			continue
		}
		parent, property, many, ok := j.mapping()
		if !ok || layouts[parent] == nil {
			continue
		}
		layouts[parent].Joins = append(layouts[parent].Joins, &hydrate.JoinLayout{Property: property, Many: many, Layout: child})
	}
	if side != nil {
		for _, attr := range b.expr.RelationIDs {
			l := layouts[attr.ParentAlias]
			if l == nil {
				continue
			}
			l.RelationIDs = append(l.RelationIDs, &hydrate.SideLoad{
				Property: attr.MapToProperty,
				Keys:     b.keys(attr.ParentAlias, attr.Relation.Link().ParentColumns),
				Many:     attr.Relation.IsMany(),
				Values:   side.ids[attr],
			})
		}
		for _, attr := range b.expr.RelationCounts {
			l := layouts[attr.ParentAlias]
			if l == nil {
				continue
			}
			l.RelationCounts = append(l.RelationCounts, &hydrate.SideLoad{
				Property: attr.MapToProperty,
				Keys:     b.keys(attr.ParentAlias, attr.Relation.Link().ParentColumns),
				Values:   side.counts[attr],
				Default:  int64(0),
			})
		}
	}
	if b.expr.MainAlias == nil {
		return nil
	}
	return layouts[b.expr.MainAlias.Name]
}

// keys returns the row keys of columns of an alias.
func (b *SelectQueryBuilder) keys(alias string, cols []*schema.Column) []string {
	ks := make([]string, len(cols))
	for i, c := range cols {
		ks[i] = b.columnKey(alias, c)
	}
	return ks
}
