package query

import (
	"slices"
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/schema"
)

// applyFindOptions translates pending find options into builder state.
// It runs once, before the first statement is compiled.
func (b *SelectQueryBuilder) applyFindOptions() {
	if b.opts == nil || b.optsApplied {
		return
	}
	b.optsApplied = true
	o, main := b.opts, b.expr.MainAlias
	if main == nil || main.Metadata == nil {
		b.AddError(loom.NewMissingAliasError(""))
		return
	}
	meta := main.Metadata
	relations, err := relationPaths(meta, o.Relations)
	if err != nil {
		b.AddError(err)
		return
	}
	b.applySelect(main, relations, o.Select)
	if o.Join != nil {
		for _, js := range o.Join.Joins {
			dir := js.Kind
			if dir == "" {
				dir = find.LeftJoin
			}
			b.join(joinOptions{direction: dir, target: js.Path, alias: js.Alias, selection: js.Select})
		}
	}
	if o.Where != nil {
		b.AndWhere(o.Where)
	}
	for _, t := range o.Order {
		b.applyOrder(main, relations, t)
	}
	b.applyRelations(main, relations)
	if o.DisablePagination {
		b.Offset(o.Skip).Limit(o.Take)
	} else {
		b.Skip(o.Skip).Take(o.Take)
	}
	if b.expr.EagerRelations {
		b.joinEager(main, map[*schema.Entity]bool{meta: true})
	}
	if ids := o.LoadRelationIDs; ids != nil {
		for _, rel := range meta.AllRelations() {
			if len(ids.Relations) > 0 && !slices.Contains(ids.Relations, rel.Property) {
				continue
			}
			path := main.Name + "." + rel.Property
			opts := []LoadOption{}
			if ids.DisableMixedMap {
				opts = append(opts, DisableMixedMap())
			}
			b.LoadRelationIDAndMap(path, path, opts...)
		}
	}
}

// relationPaths validates relation paths and returns them with every
// intermediate path, parents first.
func relationPaths(meta *schema.Entity, paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		var (
			e     = meta
			parts = strings.Split(p, ".")
		)
		for i, name := range parts {
			rel := e.Relation(name)
			if rel == nil {
				return nil, loom.NewCriteriaNotFoundError(strings.Join(parts[:i+1], "."), meta.Name)
			}
			if sub := strings.Join(parts[:i+1], "."); !slices.Contains(out, sub) {
				out = append(out, sub)
			}
			e = rel.TargetEntity()
		}
	}
	slices.SortStableFunc(out, func(a, b string) int {
		return strings.Count(a, ".") - strings.Count(b, ".")
	})
	return out, nil
}

// applySelect selects the listed property paths of the main alias. Paths
// crossing a loaded relation select columns of that relation.
func (b *SelectQueryBuilder) applySelect(main *Alias, relations, paths []string) {
	if len(paths) == 0 {
		if !b.expr.IsSelected(main) {
			b.AddSelect(main.Name)
		}
		return
	}
	meta := main.Metadata
	b.expr.Selects = slices.DeleteFunc(b.expr.Selects, func(s Selection) bool { return s.Expr == main.Name })
	own := false
	for _, p := range paths {
		if meta.Column(p) != nil || meta.HasEmbedded(p) {
			b.AddSelect(main.Name + "." + p)
			own = true
			continue
		}
		rel, col := splitRelationPath(relations, p)
		if rel == "" {
			b.AddError(loom.NewCriteriaNotFoundError(p, meta.Name))
			continue
		}
		b.relSelects[rel] = append(b.relSelects[rel], col)
	}
	if !own {
		for _, pk := range meta.PrimaryColumns() {
			b.AddSelect(main.Name + "." + pk.Property)
		}
	}
}

// splitRelationPath splits "author.profile.bio" into the longest loaded
// relation path and the rest.
func splitRelationPath(relations []string, p string) (string, string) {
	for i := len(p) - 1; i > 0; i-- {
		if p[i] == '.' && slices.Contains(relations, p[:i]) {
			return p[:i], p[i+1:]
		}
	}
	return "", ""
}

// applyOrder orders by a property path. Paths crossing a to-one relation
// join it without selecting; paths into a loaded to-many relation order
// the loaded entities.
func (b *SelectQueryBuilder) applyOrder(main *Alias, relations []string, t find.OrderTerm) {
	meta := main.Metadata
	if c := meta.Column(t.Path); c != nil {
		b.AddOrderBy(main.Name+"."+t.Path, t.Direction, t.Nulls)
		return
	}
	if meta.HasEmbedded(t.Path) {
		for _, c := range meta.AllColumns() {
			if strings.HasPrefix(c.Property, t.Path+".") {
				b.AddOrderBy(main.Name+"."+c.Property, t.Direction, t.Nulls)
			}
		}
		return
	}
	if rel, rest := splitRelationPath(relations, t.Path); rel != "" && isMany(meta, rel) {
		b.relOrders[rel] = append(b.relOrders[rel], find.OrderTerm{Path: rest, Direction: t.Direction, Nulls: t.Nulls})
		return
	}
	var (
		a    = main
		path = t.Path
	)
	for {
		name, rest, ok := strings.Cut(path, ".")
		rel := a.Metadata.Relation(name)
		if !ok || rel == nil {
			b.AddError(loom.NewCriteriaNotFoundError(t.Path, meta.Name))
			return
		}
		j := b.join(joinOptions{direction: find.LeftJoin, target: a.Name + "." + name, alias: a.Name + "_" + name})
		if j == nil {
			return
		}
		a, path = j.Alias, rest
		if a.Metadata.Column(path) != nil {
			b.AddOrderBy(a.Name+"."+path, t.Direction, t.Nulls)
			return
		}
	}
}

// isMany reports whether a relation path crosses a to-many relation.
func isMany(meta *schema.Entity, path string) bool {
	e := meta
	for _, name := range strings.Split(path, ".") {
		rel := e.Relation(name)
		if rel == nil {
			return false
		}
		if rel.IsMany() {
			return true
		}
		e = rel.TargetEntity()
	}
	return false
}

// applyRelations joins relation paths with the join strategy, or records
// them for loading by separate statements.
func (b *SelectQueryBuilder) applyRelations(main *Alias, relations []string) {
	if b.loadStrategy != find.LoadByJoin {
		b.relations = relations
		for _, p := range relations {
			if strings.Contains(p, ".") {
				continue
			}
			b.expr.Require(main.Name, main.Metadata.Relation(p).Link().ParentColumns...)
		}
		return
	}
	for _, p := range relations {
		parent, alias := main.Name, main.Name+"__"+strings.ReplaceAll(p, ".", "__")
		name := p
		if i := strings.LastIndexByte(p, '.'); i > 0 {
			parent, name = main.Name+"__"+strings.ReplaceAll(p[:i], ".", "__"), p[i+1:]
		}
		sel, partial := b.relSelects[p]
		j := b.join(joinOptions{direction: find.LeftJoin, target: parent + "." + name, alias: alias, selection: !partial})
		if j == nil {
			return
		}
		for _, col := range sel {
			b.AddSelect(alias + "." + col)
		}
		for _, t := range b.relOrders[p] {
			b.AddOrderBy(alias+"."+t.Path, t.Direction, t.Nulls)
		}
	}
}

// joinEager left joins and selects the eager relations of a, recursively.
// A relation already joined from a keeps its join and gets selected.
func (b *SelectQueryBuilder) joinEager(a *Alias, seen map[*schema.Entity]bool) {
	for _, rel := range a.Metadata.EagerRelations() {
		target := rel.TargetEntity()
		if seen[target] {
			continue
		}
		var j *JoinAttribute
		for _, ex := range b.expr.Joins {
			if ex.ParentAlias == a.Name && ex.Relation == rel {
				j = ex
				break
			}
		}
		if j == nil {
			j = b.join(joinOptions{direction: find.LeftJoin, target: a.Name + "." + rel.Property, alias: a.Name + "_" + rel.Property, selection: true})
			if j == nil {
				return
			}
		} else if !b.expr.IsSelected(j.Alias) {
			b.AddSelect(j.Alias.Name)
		}
		next := make(map[*schema.Entity]bool, len(seen)+1)
		for e := range seen {
			next[e] = true
		}
		next[target] = true
		b.joinEager(j.Alias, next)
	}
}
