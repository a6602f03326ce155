package hydrate

import (
	"strconv"

	"github.com/syssam/loom/schema"
)

// Layout describes where the values of one alias live in result rows and
// how its joined aliases nest into it.
type Layout struct {
	Alias  string
	Entity *schema.Entity
	// Columns lists the selected columns of the alias.
	Columns []Selection
	// Joins lists the aliases mapped onto properties of this one.
	Joins []*JoinLayout
	// RelationIDs and RelationCounts hold side-loaded values to merge.
	RelationIDs    []*SideLoad
	RelationCounts []*SideLoad
}

// Selection is one selected column.
type Selection struct {
	Column *schema.Column
	// Key is the name of the column in result rows.
	Key string
	// Virtual selections are used for identity and relation assembly but
	// are not set on hydrated entities.
	Virtual bool
}

// JoinLayout maps a joined alias onto a property.
type JoinLayout struct {
	Property string
	Many     bool
	Layout   *Layout
}

// SideLoad holds values loaded by a separate query, keyed by the KeyOf of
// the parent columns found under Keys in result rows.
type SideLoad struct {
	Property string
	// Keys are the row keys of the parent columns.
	Keys []string
	// Many maps lists; a missing key yields an empty list.
	Many   bool
	Values map[string]any
	// Default is set when no value was loaded for an entity.
	Default any
}

// Transform hydrates rows into entities of the root layout. Rows sharing
// primary key values are merged into one entity, joined to-many relations
// accumulate distinct related entities, virtual selections are stripped
// and side-loaded values are merged by parent key.
func Transform(rows []map[string]any, l *Layout) ([]*Entity, error) {
	keys, groups := group(rows, l)
	entities := make([]*Entity, 0, len(keys))
	for _, k := range keys {
		e, err := transform(groups[k], l)
		if err != nil {
			return nil, err
		}
		if e != nil {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

// group groups rows by the primary key values of the alias. Rows where all
// key values are NULL (unmatched left joins) are dropped. Without selected
// primary columns, every row is its own group.
func group(rows []map[string]any, l *Layout) ([]string, map[string][]map[string]any) {
	var pks []string
	for _, s := range l.Columns {
		if s.Column.Primary {
			pks = append(pks, s.Key)
		}
	}
	if len(pks) == 0 {
		keys := make([]string, len(rows))
		groups := make(map[string][]map[string]any, len(rows))
		for i, row := range rows {
			keys[i] = strconv.Itoa(i)
			groups[keys[i]] = []map[string]any{row}
		}
		return keys, groups
	}
	return GroupByKey(nonNull(rows, pks), func(row map[string]any) string {
		vs := make([]any, len(pks))
		for i, k := range pks {
			vs[i] = row[k]
		}
		return KeyOf(vs...)
	})
}

func nonNull(rows []map[string]any, keys []string) []map[string]any {
	out := rows[:0:0]
	for _, row := range rows {
		for _, k := range keys {
			if row[k] != nil {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func transform(rows []map[string]any, l *Layout) (*Entity, error) {
	var (
		first   = rows[0]
		e       = New(l.Entity)
		hasData bool
	)
	for _, s := range l.Columns {
		raw, ok := first[s.Key]
		if !ok {
			continue
		}
		v, err := DecodeValue(s.Column, raw)
		if err != nil {
			return nil, err
		}
		e.SetColumnValue(s.Column, v)
		if v != nil {
			hasData = true
		}
		if s.Virtual || s.Column.Virtual {
			continue
		}
		e.Set(s.Column.Property, v)
	}
	for _, j := range l.Joins {
		related, err := Transform(rows, j.Layout)
		if err != nil {
			return nil, err
		}
		if j.Many {
			e.SetRelatedMany(j.Property, related)
		} else if len(related) > 0 {
			e.SetRelated(j.Property, related[0])
		} else {
			e.SetRelated(j.Property, nil)
		}
		hasData = hasData || len(related) > 0
	}
	for _, side := range l.RelationIDs {
		if mergeSideLoad(e, first, side) {
			hasData = true
		}
	}
	for _, side := range l.RelationCounts {
		mergeSideLoad(e, first, side)
	}
	if !hasData {
		return nil, nil
	}
	e.raw = first
	return e, nil
}

func mergeSideLoad(e *Entity, row map[string]any, side *SideLoad) bool {
	vs := make([]any, len(side.Keys))
	for i, k := range side.Keys {
		vs[i] = row[k]
	}
	v, ok := side.Values[KeyOf(vs...)]
	switch {
	case ok:
	case side.Many:
		v = []any{}
	default:
		v = side.Default
	}
	e.Set(side.Property, v)
	if list, isList := v.([]any); isList {
		return len(list) > 0
	}
	return v != nil
}
