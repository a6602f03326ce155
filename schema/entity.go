package schema

import (
	"fmt"
	"strings"
)

// Type is the declared type of a column. It drives value decoding in the
// hydrator and parameter inlining in the condition builder.
type Type string

// Column types.
const (
	TypeString      Type = "string"
	TypeText        Type = "text"
	TypeInt         Type = "int"
	TypeBigInt      Type = "bigint"
	TypeFloat       Type = "float"
	TypeDecimal     Type = "decimal"
	TypeBool        Type = "bool"
	TypeDateTime    Type = "datetime"
	TypeDate        Type = "date"
	TypeTime        Type = "time"
	TypeJSON        Type = "json"
	TypeSimpleArray Type = "simple-array"
	TypeSimpleJSON  Type = "simple-json"
	TypeEnum        Type = "enum"
	TypeUUID        Type = "uuid"
	TypeBytes       Type = "bytes"
)

// Numeric reports whether values of the type are plain numbers in SQL.
func (t Type) Numeric() bool {
	switch t {
	case TypeInt, TypeBigInt, TypeFloat:
		return true
	}
	return false
}

// Transformer converts values between their entity and database forms.
type Transformer interface {
	// To converts an entity value into its database form.
	To(v any) (any, error)
	// From converts a database value into its entity form.
	From(v any) (any, error)
}

// TransformerFuncs adapts a pair of functions to a Transformer.
// A nil function is the identity.
type TransformerFuncs struct {
	ToFunc   func(any) (any, error)
	FromFunc func(any) (any, error)
}

// To implements Transformer.
func (t TransformerFuncs) To(v any) (any, error) {
	if t.ToFunc == nil {
		return v, nil
	}
	return t.ToFunc(v)
}

// From implements Transformer.
func (t TransformerFuncs) From(v any) (any, error) {
	if t.FromFunc == nil {
		return v, nil
	}
	return t.FromFunc(v)
}

// Column describes one column of an entity.
type Column struct {
	// Property is the property path of the column. Columns of embedded
	// groups use dotted paths, e.g. "address.city".
	Property string `yaml:"property"`
	// Name is the database column name. Defaults to Property with dots
	// replaced by underscores.
	Name        string      `yaml:"name"`
	Type        Type        `yaml:"type"`
	Primary     bool        `yaml:"primary"`
	Nullable    bool        `yaml:"nullable"`
	Hidden      bool        `yaml:"hidden"`
	Version     bool        `yaml:"version"`
	CreateDate  bool        `yaml:"create_date"`
	UpdateDate  bool        `yaml:"update_date"`
	DeleteDate  bool        `yaml:"delete_date"`
	Enum        []any       `yaml:"enum"`
	Transformer Transformer `yaml:"-"`

	// Virtual columns are selected and used for relation assembly but never
	// set on hydrated entities. The registry creates them for foreign keys
	// that are not declared as columns.
	Virtual bool `yaml:"-"`

	entity *Entity
}

// Entity returns the entity owning the column.
func (c *Column) Entity() *Entity { return c.entity }

// String implements fmt.Stringer.
func (c *Column) String() string {
	if c.entity == nil {
		return c.Property
	}
	return c.entity.Name + "." + c.Property
}

// Entity describes a mapped table.
type Entity struct {
	Name   string `yaml:"name"`
	Table  string `yaml:"table"`
	Schema string `yaml:"schema"`
	// Parent names the base entity in single-table inheritance. Columns and
	// relations of the parent are visible from the child.
	Parent    string      `yaml:"parent"`
	Columns   []*Column   `yaml:"columns"`
	Relations []*Relation `yaml:"relations"`
	// Embeddeds lists the property prefixes of embedded groups.
	Embeddeds []string `yaml:"embeddeds"`

	parent    *Entity
	junction  bool
	columns   map[string]*Column
	byName    map[string]*Column
	relations map[string]*Relation
	all       []*Column
	primary   []*Column
}

// ParentEntity returns the base entity, if any.
func (e *Entity) ParentEntity() *Entity { return e.parent }

// IsJunction reports whether the entity was synthesized for a many-to-many relation.
func (e *Entity) IsJunction() bool { return e.junction }

// Column returns the column with the given property path. Columns of
// ancestors are found as well.
func (e *Entity) Column(path string) *Column {
	for m := e; m != nil; m = m.parent {
		if c, ok := m.columns[path]; ok {
			return c
		}
	}
	return nil
}

// ColumnByName returns the column with the given database name.
func (e *Entity) ColumnByName(name string) *Column {
	for m := e; m != nil; m = m.parent {
		if c, ok := m.byName[name]; ok {
			return c
		}
	}
	return nil
}

// Relation returns the relation with the given property path, looking into
// ancestors when the entity itself does not declare it.
func (e *Entity) Relation(path string) *Relation {
	for m := e; m != nil; m = m.parent {
		if r, ok := m.relations[path]; ok {
			return r
		}
	}
	return nil
}

// HasEmbedded reports whether path is the prefix of an embedded group.
func (e *Entity) HasEmbedded(path string) bool {
	for m := e; m != nil; m = m.parent {
		for _, p := range m.Embeddeds {
			if p == path {
				return true
			}
		}
	}
	return false
}

// AllColumns returns the columns of the entity and its ancestors,
// ancestors first.
func (e *Entity) AllColumns() []*Column { return e.all }

// AllRelations returns the relations of the entity and its ancestors.
func (e *Entity) AllRelations() []*Relation {
	var rs []*Relation
	if e.parent != nil {
		rs = append(rs, e.parent.AllRelations()...)
	}
	return append(rs, e.Relations...)
}

// PrimaryColumns returns the primary key columns.
func (e *Entity) PrimaryColumns() []*Column { return e.primary }

// HasMultiplePrimaryKeys reports whether the primary key is composite.
func (e *Entity) HasMultiplePrimaryKeys() bool { return len(e.primary) > 1 }

// VersionColumn returns the version column, if any.
func (e *Entity) VersionColumn() *Column {
	return e.find(func(c *Column) bool { return c.Version })
}

// UpdateDateColumn returns the update date column, if any.
func (e *Entity) UpdateDateColumn() *Column {
	return e.find(func(c *Column) bool { return c.UpdateDate })
}

// DeleteDateColumn returns the soft delete column, if any.
func (e *Entity) DeleteDateColumn() *Column {
	return e.find(func(c *Column) bool { return c.DeleteDate })
}

// EagerRelations returns the relations loaded with every find.
func (e *Entity) EagerRelations() []*Relation {
	var rs []*Relation
	for _, r := range e.AllRelations() {
		if r.Eager {
			rs = append(rs, r)
		}
	}
	return rs
}

func (e *Entity) find(f func(*Column) bool) *Column {
	for _, c := range e.all {
		if f(c) {
			return c
		}
	}
	return nil
}

// init indexes the entity's own columns and relations.
func (e *Entity) init() error {
	if e.Name == "" {
		return fmt.Errorf("schema: entity without name")
	}
	e.columns = make(map[string]*Column, len(e.Columns))
	e.byName = make(map[string]*Column, len(e.Columns))
	e.relations = make(map[string]*Relation, len(e.Relations))
	for _, c := range e.Columns {
		if err := e.addColumn(c); err != nil {
			return err
		}
	}
	for _, r := range e.Relations {
		if r.Property == "" {
			return fmt.Errorf("schema: relation without property in %s", e.Name)
		}
		if _, ok := e.relations[r.Property]; ok {
			return fmt.Errorf("schema: duplicate relation %s.%s", e.Name, r.Property)
		}
		r.entity = e
		e.relations[r.Property] = r
	}
	return nil
}

func (e *Entity) addColumn(c *Column) error {
	if c.Property == "" {
		return fmt.Errorf("schema: column without property in %s", e.Name)
	}
	if c.Name == "" {
		c.Name = strings.ReplaceAll(c.Property, ".", "_")
	}
	if c.Type == "" {
		c.Type = TypeString
	}
	if _, ok := e.columns[c.Property]; ok {
		return fmt.Errorf("schema: duplicate column %s.%s", e.Name, c.Property)
	}
	c.entity = e
	e.columns[c.Property] = c
	e.byName[c.Name] = c
	return nil
}

// index computes the inherited column list and primary key once parents
// are linked.
func (e *Entity) index() {
	if e.all != nil {
		return
	}
	if e.parent != nil {
		e.parent.index()
		e.all = append(e.all, e.parent.all...)
	}
	e.all = append(e.all, e.Columns...)
	e.primary = nil
	for _, c := range e.all {
		if c.Primary {
			e.primary = append(e.primary, c)
		}
	}
}
