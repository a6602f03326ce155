package query

import (
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/schema"
)

// JoinAttribute is one join of a query: a relation of a registered alias,
// an entity, a table or a subquery, joined under its own alias.
type JoinAttribute struct {
	Direction find.JoinKind
	// Target is the join target as given by the caller, e.g. "post.author",
	// "User", "audit_log" or "(SELECT ...)".
	Target string
	Alias  *Alias
	// Condition is an extra ON condition, combined with AND for relation joins.
	Condition string

	// ParentAlias and Relation are set for relation joins.
	ParentAlias string
	Relation    *schema.Relation

	// MapToProperty is "alias.property" for JoinAndMapOne/Many.
	MapToProperty string
	MapMany       bool
}

// IsRelation reports whether the join follows a relation of another alias.
func (j *JoinAttribute) IsRelation() bool { return j.Relation != nil }

// Metadata returns the entity of the joined alias, if any.
func (j *JoinAttribute) Metadata() *schema.Entity { return j.Alias.Metadata }

// JunctionAlias returns the alias of the junction table of a many-to-many
// join. The owning side comes first.
func (j *JoinAttribute) JunctionAlias() string {
	if j.Relation == nil || j.Relation.Type != schema.ManyToMany {
		return ""
	}
	if j.Relation.IsOwning() {
		return j.ParentAlias + "_" + j.Alias.Name
	}
	return j.Alias.Name + "_" + j.ParentAlias
}

// mapping returns the alias and property the joined entities are hydrated
// into. ok is false for joins that are not mapped.
func (j *JoinAttribute) mapping() (parent, property string, many, ok bool) {
	switch {
	case j.MapToProperty != "":
		parent, property, ok = strings.Cut(j.MapToProperty, ".")
		return parent, property, j.MapMany, ok
	case j.Relation != nil:
		return j.ParentAlias, j.Relation.Property, j.Relation.IsMany(), true
	}
	return "", "", false, false
}

// joinOptions describes a join request.
type joinOptions struct {
	direction find.JoinKind
	target    string
	alias     string
	condition string
	selection bool
	mapTo     string
	mapMany   bool
}

// join registers a join. Joining the same target under the same alias again
// reuses the first join: a later inner join upgrades a left join, and a
// later selecting join selects the alias.
func (b *SelectQueryBuilder) join(o joinOptions) *JoinAttribute {
	if o.alias == "" {
		b.AddError(loom.NewMissingAliasError(o.target))
		return nil
	}
	if j := b.expr.FindJoin(o.alias); j != nil {
		if j.Target != o.target {
			b.AddError(loom.NewAliasConflictError(o.alias))
			return nil
		}
		if o.direction == find.InnerJoin {
			j.Direction = find.InnerJoin
		}
		if o.selection && !b.expr.IsSelected(j.Alias) {
			b.expr.Selects = append(b.expr.Selects, Selection{Expr: o.alias})
		}
		if o.condition != "" && j.Condition == "" {
			j.Condition = o.condition
		}
		return j
	}
	j := &JoinAttribute{
		Direction:     o.direction,
		Target:        o.target,
		Condition:     o.condition,
		MapToProperty: o.mapTo,
		MapMany:       o.mapMany,
	}
	aliasOpts := AliasOptions{Name: o.alias, Kind: AliasJoin}
	if parent, path, ok := strings.Cut(o.target, "."); ok && b.expr.FindAlias(parent) != nil {
		pa := b.expr.FindAlias(parent)
		if !pa.HasMetadata() {
			b.AddError(loom.NewCriteriaNotFoundError(path, pa.Name))
			return nil
		}
		rel := pa.Metadata.Relation(path)
		if rel == nil {
			b.AddError(loom.NewCriteriaNotFoundError(path, pa.Metadata.Name))
			return nil
		}
		j.ParentAlias, j.Relation = parent, rel
		aliasOpts.Metadata = rel.TargetEntity()
	} else if e := b.entity(o.target); e != nil {
		aliasOpts.Metadata = e
	} else if strings.HasPrefix(o.target, "(") {
		aliasOpts.SubQuery = o.target
	} else {
		aliasOpts.TablePath = o.target
	}
	a, err := b.expr.CreateAlias(aliasOpts)
	if err != nil {
		b.AddError(err)
		return nil
	}
	j.Alias = a
	b.expr.Joins = append(b.expr.Joins, j)
	if ja := j.JunctionAlias(); ja != "" && b.expr.FindAlias(ja) == nil {
		// The junction alias is addressable from string conditions.
		if _, err := b.expr.CreateAlias(AliasOptions{Name: ja, Kind: AliasOther, Metadata: j.Relation.Junction()}); err != nil {
			b.AddError(err)
		}
	}
	if o.selection {
		b.expr.Selects = append(b.expr.Selects, Selection{Expr: o.alias})
	}
	return j
}

// joinSQL renders the JOIN clauses of j, with a leading space.
func (b *SelectQueryBuilder) joinSQL(j *JoinAttribute) string {
	var (
		s    = b.strategy
		dest = s.Escape(j.Alias.Name)
		kw   = " " + string(j.Direction) + " JOIN "
	)
	if j.Relation == nil {
		out := kw + b.aliasSource(j.Alias) + " " + dest
		if j.Condition != "" {
			out += " ON " + b.rewriteProperties(j.Condition)
		}
		return out
	}
	var (
		link   = j.Relation.Link()
		parent = s.Escape(j.ParentAlias)
		target = j.Relation.TargetEntity()
		extra  []string
	)
	if j.Condition != "" {
		extra = append(extra, "("+b.rewriteProperties(j.Condition)+")")
	}
	if del := target.DeleteDateColumn(); del != nil && !b.expr.WithDeleted {
		extra = append(extra, dest+"."+s.Escape(del.Name)+" IS NULL")
	}
	if !link.Junction {
		conds := make([]string, 0, len(link.MatchColumns)+len(extra))
		for i, c := range link.MatchColumns {
			conds = append(conds, dest+"."+s.Escape(c.Name)+" = "+parent+"."+s.Escape(link.ParentColumns[i].Name))
		}
		conds = append(conds, extra...)
		return kw + s.Table(target.Table, target.Schema) + " " + dest + " ON " + strings.Join(conds, " AND ")
	}
	junction := s.Escape(j.JunctionAlias())
	conds := make([]string, len(link.MatchColumns))
	for i, c := range link.MatchColumns {
		conds[i] = junction + "." + s.Escape(c.Name) + " = " + parent + "." + s.Escape(link.ParentColumns[i].Name)
	}
	out := kw + s.Table(link.Table.Table, link.Table.Schema) + " " + junction + " ON " + strings.Join(conds, " AND ")
	conds = make([]string, 0, len(link.TargetColumns)+len(extra))
	for i, c := range link.TargetReferencedColumns {
		conds = append(conds, dest+"."+s.Escape(c.Name)+" = "+junction+"."+s.Escape(link.TargetColumns[i].Name))
	}
	conds = append(conds, extra...)
	return out + kw + s.Table(target.Table, target.Schema) + " " + dest + " ON " + strings.Join(conds, " AND ")
}

// aliasSource renders what an alias selects from: an escaped table, a
// table path or a parenthesized subquery.
func (b *SelectQueryBuilder) aliasSource(a *Alias) string {
	switch {
	case a.Metadata != nil:
		return b.strategy.Table(a.Metadata.Table, a.Metadata.Schema)
	case a.SubQuery != "":
		return a.SubQuery
	}
	parts := strings.Split(a.TablePath, ".")
	for i, p := range parts {
		parts[i] = b.strategy.Escape(p)
	}
	return strings.Join(parts, ".")
}
