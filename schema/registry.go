package schema

import (
	"fmt"
	"sort"
)

// Registry holds resolved entity metadata. It is immutable after
// NewRegistry returns and safe for concurrent use.
type Registry struct {
	entities map[string]*Entity
	tables   map[string]*Entity
	names    []string
}

// NewRegistry indexes the given entities and resolves their relation graph:
// targets, inverse sides, default join columns, junction entities and the
// Link of every relation.
func NewRegistry(entities ...*Entity) (*Registry, error) {
	r := &Registry{
		entities: make(map[string]*Entity, len(entities)),
		tables:   make(map[string]*Entity, len(entities)),
	}
	for _, e := range entities {
		if err := r.add(e); err != nil {
			return nil, err
		}
	}
	steps := []func(*Entity) error{
		r.resolveParent,
		r.resolveTargets,
		r.resolveOwners,
	}
	for _, step := range steps {
		for _, name := range r.sortedNames() {
			if err := step(r.entities[name]); err != nil {
				return nil, err
			}
		}
	}
	for _, name := range r.sortedNames() {
		r.entities[name].index()
	}
	for _, name := range r.sortedNames() {
		if err := r.resolveLinks(r.entities[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(entities ...*Entity) *Registry {
	r, err := NewRegistry(entities...)
	if err != nil {
		panic(err)
	}
	return r
}

// Entity returns the entity registered under name. Table names are accepted
// as well.
func (r *Registry) Entity(name string) (*Entity, bool) {
	if e, ok := r.entities[name]; ok {
		return e, true
	}
	e, ok := r.tables[name]
	return e, ok
}

// Entities returns all registered entities, junctions included, sorted by name.
func (r *Registry) Entities() []*Entity {
	es := make([]*Entity, 0, len(r.names))
	for _, n := range r.sortedNames() {
		es = append(es, r.entities[n])
	}
	return es
}

func (r *Registry) add(e *Entity) error {
	if err := e.init(); err != nil {
		return err
	}
	if _, ok := r.entities[e.Name]; ok {
		return fmt.Errorf("schema: duplicate entity %q", e.Name)
	}
	r.entities[e.Name] = e
	r.names = append(r.names, e.Name)
	if e.Table != "" {
		if _, ok := r.tables[e.Table]; !ok {
			r.tables[e.Table] = e
		}
	}
	return nil
}

func (r *Registry) sortedNames() []string {
	names := append([]string(nil), r.names...)
	sort.Strings(names)
	return names
}

func (r *Registry) resolveParent(e *Entity) error {
	if e.Parent == "" {
		if e.Table == "" {
			return fmt.Errorf("schema: entity %q has no table", e.Name)
		}
		return nil
	}
	p, ok := r.entities[e.Parent]
	if !ok {
		return fmt.Errorf("schema: entity %q: unknown parent %q", e.Name, e.Parent)
	}
	for a := p; a != nil; a = a.parent {
		if a == e {
			return fmt.Errorf("schema: entity %q: inheritance cycle", e.Name)
		}
	}
	e.parent = p
	if e.Table == "" {
		for a := p; a != nil && e.Table == ""; a = a.parent {
			e.Table, e.Schema = a.Table, a.Schema
		}
	}
	return nil
}

func (r *Registry) resolveTargets(e *Entity) error {
	for _, rel := range e.Relations {
		if rel.Type < OneToOne || rel.Type > ManyToMany {
			return fmt.Errorf("schema: relation %s: invalid type", rel)
		}
		t, ok := r.entities[rel.Target]
		if !ok {
			return fmt.Errorf("schema: relation %s: unknown target %q", rel, rel.Target)
		}
		rel.target = t
	}
	// Inverse sides are looked up after all targets are set, in both
	// directions, so declaring one of them is enough.
	for _, rel := range e.Relations {
		if rel.InverseSide != "" {
			inv := rel.target.Relation(rel.InverseSide)
			if inv == nil {
				return fmt.Errorf("schema: relation %s: unknown inverse side %q on %s", rel, rel.InverseSide, rel.target.Name)
			}
			rel.inverse = inv
			if inv.inverse == nil {
				inv.inverse = rel
			}
			continue
		}
		for _, cand := range rel.target.Relations {
			if cand.InverseSide == rel.Property && cand.Target == e.Name {
				rel.inverse = cand
				break
			}
		}
	}
	return nil
}

func (r *Registry) resolveOwners(e *Entity) error {
	for _, rel := range e.Relations {
		switch {
		case rel.Type == OneToMany:
			if rel.inverse == nil || rel.inverse.Type != ManyToOne {
				return fmt.Errorf("schema: relation %s: one-to-many requires a many-to-one inverse side", rel)
			}
		case rel.Type == ManyToMany && !rel.IsOwning():
			if rel.inverse == nil {
				// A many-to-many relation without inverse owns its junction.
				rel.Owner = true
			} else if !rel.inverse.IsOwning() {
				return fmt.Errorf("schema: relation %s: no owning side", rel)
			}
		case rel.Type == OneToOne && !rel.IsOwning():
			if rel.inverse == nil {
				rel.Owner = true
			} else if !rel.inverse.IsOwning() {
				return fmt.Errorf("schema: relation %s: no owning side", rel)
			}
		}
		if !rel.IsOwning() {
			continue
		}
		if rel.Type == ManyToMany {
			if err := r.junction(e, rel); err != nil {
				return err
			}
			continue
		}
		if err := r.foreignKeys(e, rel); err != nil {
			return err
		}
	}
	return nil
}

// foreignKeys fills the default join columns of an owning to-one relation
// and synthesizes virtual columns for undeclared foreign keys.
func (r *Registry) foreignKeys(e *Entity, rel *Relation) error {
	refs, err := referenced(rel.target, rel.JoinColumns)
	if err != nil {
		return fmt.Errorf("schema: relation %s: %w", rel, err)
	}
	if len(rel.JoinColumns) == 0 {
		for _, c := range refs {
			rel.JoinColumns = append(rel.JoinColumns, JoinColumn{Name: rel.Property + "_" + c.Name, Referenced: c.Property})
		}
	}
	for i := range rel.JoinColumns {
		jc := &rel.JoinColumns[i]
		if jc.Referenced == "" {
			jc.Referenced = refs[i].Property
		}
		if e.ColumnByName(jc.Name) != nil {
			continue
		}
		c := &Column{Property: jc.Name, Name: jc.Name, Type: refs[i].Type, Nullable: true, Virtual: true}
		if err := e.addColumn(c); err != nil {
			return err
		}
		e.Columns = append(e.Columns, c)
	}
	return nil
}

// junction builds and registers the junction entity of an owning
// many-to-many relation.
func (r *Registry) junction(e *Entity, rel *Relation) error {
	if rel.JoinTable == "" {
		rel.JoinTable = e.Table + "_" + rel.Property + "_" + rel.target.Table
	}
	own, err := referenced(e, rel.JoinColumns)
	if err != nil {
		return fmt.Errorf("schema: relation %s: %w", rel, err)
	}
	inv, err := referenced(rel.target, rel.InverseJoinColumns)
	if err != nil {
		return fmt.Errorf("schema: relation %s: %w", rel, err)
	}
	if len(rel.JoinColumns) == 0 {
		for _, c := range own {
			rel.JoinColumns = append(rel.JoinColumns, JoinColumn{Name: e.Table + "_" + c.Name, Referenced: c.Property})
		}
	}
	if len(rel.InverseJoinColumns) == 0 {
		for _, c := range inv {
			rel.InverseJoinColumns = append(rel.InverseJoinColumns, JoinColumn{Name: rel.target.Table + "_" + c.Name, Referenced: c.Property})
		}
	}
	j := &Entity{Name: rel.JoinTable, Table: rel.JoinTable, Schema: e.Schema, junction: true}
	for i, jc := range rel.JoinColumns {
		if jc.Referenced == "" {
			rel.JoinColumns[i].Referenced = own[i].Property
		}
		j.Columns = append(j.Columns, &Column{Property: jc.Name, Name: jc.Name, Type: own[i].Type, Primary: true})
	}
	for i, jc := range rel.InverseJoinColumns {
		if jc.Referenced == "" {
			rel.InverseJoinColumns[i].Referenced = inv[i].Property
		}
		j.Columns = append(j.Columns, &Column{Property: jc.Name, Name: jc.Name, Type: inv[i].Type, Primary: true})
	}
	if existing, ok := r.entities[j.Name]; ok {
		if !existing.junction {
			return fmt.Errorf("schema: relation %s: junction %q collides with entity", rel, j.Name)
		}
		rel.junction = existing
		return nil
	}
	if err := r.add(j); err != nil {
		return err
	}
	rel.junction = j
	return nil
}

func (r *Registry) resolveLinks(e *Entity) error {
	for _, rel := range e.Relations {
		l, err := link(e, rel)
		if err != nil {
			return fmt.Errorf("schema: relation %s: %w", rel, err)
		}
		rel.link = l
		if rel.junction == nil && rel.Type == ManyToMany {
			rel.junction = l.Table
		}
	}
	return nil
}

func link(e *Entity, rel *Relation) (*Link, error) {
	var (
		l   = &Link{}
		err error
	)
	switch {
	case rel.Type == ManyToMany && rel.IsOwning():
		j := rel.junction
		l.Table, l.Junction = j, true
		if l.ParentColumns, err = columnsOf(e, rel.JoinColumns, true); err != nil {
			return nil, err
		}
		if l.MatchColumns, err = columnsOf(j, rel.JoinColumns, false); err != nil {
			return nil, err
		}
		if l.TargetColumns, err = columnsOf(j, rel.InverseJoinColumns, false); err != nil {
			return nil, err
		}
		if l.TargetReferencedColumns, err = columnsOf(rel.target, rel.InverseJoinColumns, true); err != nil {
			return nil, err
		}
	case rel.Type == ManyToMany:
		inv := rel.inverse
		j := inv.junction
		l.Table, l.Junction = j, true
		if l.ParentColumns, err = columnsOf(e, inv.InverseJoinColumns, true); err != nil {
			return nil, err
		}
		if l.MatchColumns, err = columnsOf(j, inv.InverseJoinColumns, false); err != nil {
			return nil, err
		}
		if l.TargetColumns, err = columnsOf(j, inv.JoinColumns, false); err != nil {
			return nil, err
		}
		if l.TargetReferencedColumns, err = columnsOf(rel.target, inv.JoinColumns, true); err != nil {
			return nil, err
		}
	case rel.IsOwning():
		l.Table = rel.target
		if l.ParentColumns, err = columnsOf(e, rel.JoinColumns, false); err != nil {
			return nil, err
		}
		if l.MatchColumns, err = columnsOf(rel.target, rel.JoinColumns, true); err != nil {
			return nil, err
		}
		l.TargetReferencedColumns = l.MatchColumns
	default:
		inv := rel.inverse
		l.Table = rel.target
		if l.ParentColumns, err = columnsOf(e, inv.JoinColumns, true); err != nil {
			return nil, err
		}
		if l.MatchColumns, err = columnsOf(rel.target, inv.JoinColumns, false); err != nil {
			return nil, err
		}
		l.TargetReferencedColumns = rel.target.PrimaryColumns()
	}
	return l, nil
}

// columnsOf resolves join columns on e, either by the referenced property
// or by the foreign key name.
func columnsOf(e *Entity, jcs []JoinColumn, byReferenced bool) ([]*Column, error) {
	cs := make([]*Column, 0, len(jcs))
	for _, jc := range jcs {
		var c *Column
		if byReferenced {
			c = e.Column(jc.Referenced)
		} else {
			c = e.ColumnByName(jc.Name)
		}
		if c == nil {
			n := jc.Name
			if byReferenced {
				n = jc.Referenced
			}
			return nil, fmt.Errorf("unknown column %q on %s", n, e.Name)
		}
		cs = append(cs, c)
	}
	return cs, nil
}

// referenced returns the columns of e referenced by jcs. Without join
// columns, or for join columns without a referenced property, the primary
// key is used.
func referenced(e *Entity, jcs []JoinColumn) ([]*Column, error) {
	var primary []*Column
	for m := e; m != nil; m = m.parent {
		for _, c := range m.Columns {
			if c.Primary {
				primary = append(primary, c)
			}
		}
	}
	if len(jcs) == 0 {
		if len(primary) == 0 {
			return nil, fmt.Errorf("entity %s has no primary key", e.Name)
		}
		return primary, nil
	}
	cs := make([]*Column, len(jcs))
	for i, jc := range jcs {
		if jc.Referenced == "" {
			if i >= len(primary) {
				return nil, fmt.Errorf("join column %q: entity %s has no primary key at position %d", jc.Name, e.Name, i)
			}
			cs[i] = primary[i]
			continue
		}
		if cs[i] = e.Column(jc.Referenced); cs[i] == nil {
			return nil, fmt.Errorf("join column %q: unknown referenced property %q on %s", jc.Name, jc.Referenced, e.Name)
		}
	}
	return cs, nil
}
