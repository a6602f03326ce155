package find

import (
	"strings"
	"time"

	"github.com/syssam/loom"
)

// Options declares a find: selection, filter, relations, ordering,
// pagination, locking and caching.
type Options struct {
	// Select lists the property paths to select from the main entity.
	// Embedded prefixes select the whole group. Empty selects all columns.
	Select []string
	Where  Condition
	// Relations lists the relation paths to load, e.g. "author.profile".
	Relations []string
	Join      *JoinOptions
	Order     Order
	// Skip and Take paginate by root entity. Zero means unset.
	Skip, Take int
	// DisablePagination applies Skip and Take as a plain OFFSET and LIMIT.
	DisablePagination bool
	Cache             *CacheOptions
	Lock              *LockOptions
	LoadRelationIDs   *RelationIDOptions
	WithDeleted       bool
	// DisableEagerRelations skips relations marked eager in the schema.
	DisableEagerRelations bool
	SkipListeners         bool
	RelationLoadStrategy  RelationLoadStrategy
}

// RelationLoadStrategy selects how Relations are loaded.
type RelationLoadStrategy string

const (
	// LoadByQuery issues one query per relation after the main load.
	LoadByQuery RelationLoadStrategy = "query"
	// LoadByJoin joins and selects relations in the main statement.
	LoadByJoin RelationLoadStrategy = "join"
)

// JoinKind is the direction of a join.
type JoinKind string

// Join kinds.
const (
	InnerJoin JoinKind = "INNER"
	LeftJoin  JoinKind = "LEFT"
)

// JoinOptions joins relations explicitly, under aliases usable in Where
// and Order.
type JoinOptions struct {
	// Alias names the main entity. Defaults to the entity name.
	Alias string
	Joins []JoinSpec
}

// JoinSpec joins the relation Path ("alias.relation") under Alias.
type JoinSpec struct {
	Kind   JoinKind
	Path   string
	Alias  string
	Select bool
}

// InnerJoinAndSelect joins path with an inner join and selects its columns.
func InnerJoinAndSelect(path, alias string) JoinSpec {
	return JoinSpec{Kind: InnerJoin, Path: path, Alias: alias, Select: true}
}

// LeftJoinAndSelect joins path with a left join and selects its columns.
func LeftJoinAndSelect(path, alias string) JoinSpec {
	return JoinSpec{Kind: LeftJoin, Path: path, Alias: alias, Select: true}
}

// InnerJoinOnly joins path with an inner join without selecting.
func InnerJoinOnly(path, alias string) JoinSpec {
	return JoinSpec{Kind: InnerJoin, Path: path, Alias: alias}
}

// LeftJoinOnly joins path with a left join without selecting.
func LeftJoinOnly(path, alias string) JoinSpec {
	return JoinSpec{Kind: LeftJoin, Path: path, Alias: alias}
}

// CacheOptions enables the result cache for a find.
type CacheOptions struct {
	// ID identifies the entry for explicit removal.
	ID string
	// Duration overrides the default time to live.
	Duration time.Duration
}

// LockOptions locks the loaded rows.
type LockOptions struct {
	Mode loom.LockMode
	// Version is the expected version (or update date) for optimistic locks.
	Version any
}

// RelationIDOptions loads the ids of related entities instead of the
// entities themselves.
type RelationIDOptions struct {
	// Relations restricts loading to the given relations. Empty loads all.
	Relations []string
	// DisableMixedMap maps every id as a map from property to value.
	DisableMixedMap bool
}

// Direction is an ordering direction.
type Direction string

// Directions.
const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Nulls positions NULL values in an ordering.
type Nulls string

// Null orderings.
const (
	NullsFirst Nulls = "NULLS FIRST"
	NullsLast  Nulls = "NULLS LAST"
)

// OrderTerm orders by a dotted property path. Paths crossing a relation
// join it without selecting.
type OrderTerm struct {
	Path      string
	Direction Direction
	Nulls     Nulls
}

// Order is an ordered list of terms.
type Order []OrderTerm

// By returns an ascending term for path.
func By(path string) OrderTerm { return OrderTerm{Path: path, Direction: Asc} }

// ByDesc returns a descending term for path.
func ByDesc(path string) OrderTerm { return OrderTerm{Path: path, Direction: Desc} }

// WithNulls returns a copy of t with the given NULL ordering.
func (t OrderTerm) WithNulls(n Nulls) OrderTerm {
	t.Nulls = n
	return t
}

// ParseDirection parses "asc", "desc", 1 and -1.
func ParseDirection(v any) Direction {
	switch v := v.(type) {
	case Direction:
		return v
	case string:
		if strings.EqualFold(v, "desc") {
			return Desc
		}
	case int:
		if v < 0 {
			return Desc
		}
	case int64:
		if v < 0 {
			return Desc
		}
	case float64:
		if v < 0 {
			return Desc
		}
	}
	return Asc
}

// ParseNulls parses "first" and "last".
func ParseNulls(v string) Nulls {
	switch strings.ToLower(v) {
	case "first", "nulls first":
		return NullsFirst
	case "last", "nulls last":
		return NullsLast
	}
	return ""
}
