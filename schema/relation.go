package schema

import (
	"fmt"
	"strings"
)

// RelationType is the cardinality of a relation.
type RelationType uint8

// Relation types.
const (
	OneToOne RelationType = iota + 1
	ManyToOne
	OneToMany
	ManyToMany
)

var relationTypeNames = map[RelationType]string{
	OneToOne:   "one-to-one",
	ManyToOne:  "many-to-one",
	OneToMany:  "one-to-many",
	ManyToMany: "many-to-many",
}

// String implements fmt.Stringer.
func (t RelationType) String() string {
	if s, ok := relationTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RelationType(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t RelationType) MarshalText() ([]byte, error) {
	if _, ok := relationTypeNames[t]; !ok {
		return nil, fmt.Errorf("schema: invalid relation type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Both the dashed
// ("many-to-one") and the short ("m2o") forms are accepted.
func (t *RelationType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "one-to-one", "o2o":
		*t = OneToOne
	case "many-to-one", "m2o":
		*t = ManyToOne
	case "one-to-many", "o2m":
		*t = OneToMany
	case "many-to-many", "m2m":
		*t = ManyToMany
	default:
		return fmt.Errorf("schema: unknown relation type %q", b)
	}
	return nil
}

// JoinColumn maps a foreign key column to the property of the column it
// references.
type JoinColumn struct {
	// Name is the database name of the foreign key column.
	Name string `yaml:"name"`
	// Referenced is the property path of the referenced column. Defaults to
	// the primary key of the referenced entity.
	Referenced string `yaml:"referenced"`
}

// Relation describes a relation property of an entity.
type Relation struct {
	Property string       `yaml:"property"`
	Type     RelationType `yaml:"type"`
	// Target is the name of the related entity.
	Target string `yaml:"target"`
	// InverseSide is the property of the opposite relation on the target.
	InverseSide string `yaml:"inverse_side"`
	// Owner marks the owning side of one-to-one and many-to-many relations.
	// Many-to-one relations always own the foreign key.
	Owner              bool         `yaml:"owner"`
	JoinColumns        []JoinColumn `yaml:"join_columns"`
	InverseJoinColumns []JoinColumn `yaml:"inverse_join_columns"`
	// JoinTable is the junction table of an owning many-to-many relation.
	JoinTable string `yaml:"join_table"`
	Eager     bool   `yaml:"eager"`

	entity   *Entity
	target   *Entity
	inverse  *Relation
	junction *Entity
	link     *Link
}

// Link holds the resolved column pairs used to join a relation and to load
// relation ids. It is computed once by the registry.
//
// For direct relations Table is the target entity and the join condition is
// Table.MatchColumns[i] = entity.ParentColumns[i]. For many-to-many relations
// Table is the junction: the junction is joined on MatchColumns =
// ParentColumns and the target on TargetReferencedColumns = TargetColumns.
type Link struct {
	Table         *Entity
	Junction      bool
	ParentColumns []*Column
	MatchColumns  []*Column
	// TargetColumns are the junction columns referencing the target.
	TargetColumns []*Column
	// TargetReferencedColumns are the target columns referenced by
	// TargetColumns.
	TargetReferencedColumns []*Column
}

// Entity returns the entity declaring the relation.
func (r *Relation) Entity() *Entity { return r.entity }

// TargetEntity returns the related entity.
func (r *Relation) TargetEntity() *Entity { return r.target }

// Inverse returns the opposite relation, if declared.
func (r *Relation) Inverse() *Relation { return r.inverse }

// Junction returns the junction entity of a many-to-many relation.
func (r *Relation) Junction() *Entity { return r.junction }

// Link returns the resolved join columns of the relation.
func (r *Relation) Link() *Link { return r.link }

// IsOwning reports whether the relation's entity holds the join columns or
// the join table definition.
func (r *Relation) IsOwning() bool {
	switch r.Type {
	case ManyToOne:
		return true
	case OneToMany:
		return false
	}
	return r.Owner || len(r.JoinColumns) > 0 || r.JoinTable != ""
}

// IsMany reports whether the relation resolves to a list of entities.
func (r *Relation) IsMany() bool {
	return r.Type == OneToMany || r.Type == ManyToMany
}

// String implements fmt.Stringer.
func (r *Relation) String() string {
	if r.entity == nil {
		return r.Property
	}
	return r.entity.Name + "." + r.Property
}
