package hydrate

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/syssam/loom/schema"
)

// Entity is one hydrated entity: decoded property values, related
// entities, and side-loaded relation ids and counts.
type Entity struct {
	meta      *schema.Entity
	values    map[string]any
	props     []string
	columns   map[*schema.Column]any
	relations map[string]any
	rels      []string
	raw       map[string]any
}

// New returns an empty entity of the given type.
func New(meta *schema.Entity) *Entity {
	return &Entity{
		meta:      meta,
		values:    make(map[string]any),
		columns:   make(map[*schema.Column]any),
		relations: make(map[string]any),
	}
}

// Metadata returns the entity type.
func (e *Entity) Metadata() *schema.Entity { return e.meta }

// Get returns the value of a property path, or nil.
func (e *Entity) Get(path string) any { return e.values[path] }

// Lookup returns the value of a property path and whether it is set.
func (e *Entity) Lookup(path string) (any, bool) {
	v, ok := e.values[path]
	return v, ok
}

// Has reports whether a property or a relation is set.
func (e *Entity) Has(path string) bool {
	if _, ok := e.values[path]; ok {
		return true
	}
	_, ok := e.relations[path]
	return ok
}

// Set sets a property value.
func (e *Entity) Set(path string, v any) {
	if _, ok := e.values[path]; !ok {
		e.props = append(e.props, path)
	}
	e.values[path] = v
}

// Delete removes a property.
func (e *Entity) Delete(path string) {
	if _, ok := e.values[path]; !ok {
		return
	}
	delete(e.values, path)
	for i, p := range e.props {
		if p == path {
			e.props = append(e.props[:i:i], e.props[i+1:]...)
			break
		}
	}
}

// Properties returns the set property paths in assignment order.
func (e *Entity) Properties() []string { return append([]string(nil), e.props...) }

// Relations returns the set relation properties in assignment order.
func (e *Entity) Relations() []string { return append([]string(nil), e.rels...) }

// ColumnValue returns the decoded value of a selected column, virtual
// columns included.
func (e *Entity) ColumnValue(c *schema.Column) (any, bool) {
	v, ok := e.columns[c]
	return v, ok
}

// SetColumnValue records the decoded value of a selected column.
func (e *Entity) SetColumnValue(c *schema.Column, v any) { e.columns[c] = v }

// Related returns a to-one related entity, or nil.
func (e *Entity) Related(prop string) *Entity {
	r, _ := e.relations[prop].(*Entity)
	return r
}

// RelatedMany returns to-many related entities.
func (e *Entity) RelatedMany(prop string) []*Entity {
	rs, _ := e.relations[prop].([]*Entity)
	return rs
}

// SetRelated sets a to-one relation. A nil entity records a missing relation.
func (e *Entity) SetRelated(prop string, r *Entity) { e.setRelation(prop, r) }

// SetRelatedMany sets a to-many relation. A nil slice is stored as empty.
func (e *Entity) SetRelatedMany(prop string, rs []*Entity) {
	if rs == nil {
		rs = []*Entity{}
	}
	e.setRelation(prop, rs)
}

// AddRelated appends entities to a to-many relation.
func (e *Entity) AddRelated(prop string, rs ...*Entity) {
	e.SetRelatedMany(prop, append(e.RelatedMany(prop), rs...))
}

func (e *Entity) setRelation(prop string, v any) {
	if _, ok := e.relations[prop]; !ok {
		e.rels = append(e.rels, prop)
	}
	e.relations[prop] = v
}

// Raw returns the first source row the entity was hydrated from.
func (e *Entity) Raw() map[string]any { return e.raw }

// Map returns the entity as nested maps: embedded paths become nested
// objects and relations become maps or lists of maps.
func (e *Entity) Map() map[string]any {
	m := make(map[string]any, len(e.props)+len(e.rels))
	for _, p := range e.props {
		setPath(m, p, e.values[p])
	}
	for _, r := range e.rels {
		switch v := e.relations[r].(type) {
		case *Entity:
			if v == nil {
				setPath(m, r, nil)
			} else {
				setPath(m, r, v.Map())
			}
		case []*Entity:
			list := make([]map[string]any, len(v))
			for i, re := range v {
				list[i] = re.Map()
			}
			setPath(m, r, list)
		}
	}
	return m
}

func setPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

// Decode decodes the entity into dst, a pointer to a struct or a map.
// Struct fields are matched by their "loom" tag or, without one, by name
// ignoring case.
func (e *Entity) Decode(dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		TagName:          "loom",
		WeaklyTypedInput: true,
		Squash:           true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(e.Map()); err != nil {
		return fmt.Errorf("hydrate: decode %s: %w", e.meta.Name, err)
	}
	return nil
}

// DecodeAll decodes entities into dst, a pointer to a slice.
func DecodeAll(entities []*Entity, dst any) error {
	ms := make([]map[string]any, len(entities))
	for i, e := range entities {
		ms[i] = e.Map()
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		TagName:          "loom",
		WeaklyTypedInput: true,
		Squash:           true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(ms); err != nil {
		return fmt.Errorf("hydrate: decode: %w", err)
	}
	return nil
}

// String implements fmt.Stringer.
func (e *Entity) String() string {
	return fmt.Sprintf("%s%v", e.meta.Name, e.Map())
}
