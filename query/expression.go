package query

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/loom"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/schema"
)

// AliasKind tells how an alias entered a query.
type AliasKind uint8

// Alias kinds.
const (
	AliasFrom AliasKind = iota + 1
	AliasSelect
	AliasJoin
	AliasOther
)

// String implements fmt.Stringer.
func (k AliasKind) String() string {
	switch k {
	case AliasFrom:
		return "from"
	case AliasSelect:
		return "select"
	case AliasJoin:
		return "join"
	case AliasOther:
		return "other"
	}
	return "AliasKind(" + strconv.Itoa(int(k)) + ")"
}

// Alias is a named reference to a table, an entity or a subquery. Exactly
// one of Metadata, TablePath and SubQuery is set.
type Alias struct {
	Name      string
	Kind      AliasKind
	Metadata  *schema.Entity
	TablePath string
	SubQuery  string
}

// HasMetadata reports whether the alias refers to a mapped entity.
func (a *Alias) HasMetadata() bool { return a.Metadata != nil }

// AliasOptions describes an alias to register.
type AliasOptions struct {
	Name      string
	Kind      AliasKind
	Metadata  *schema.Entity
	TablePath string
	SubQuery  string
}

// Selection is one entry of the projection list: an alias name, an
// "alias.property" path or a raw SQL expression.
type Selection struct {
	Expr    string
	As      string
	Virtual bool
}

// ClauseKind tags an entry of a where or having list.
type ClauseKind uint8

// Clause kinds.
const (
	ClauseSimple ClauseKind = iota
	ClauseAnd
	ClauseOr
)

// Clause is one entry of a where or having list.
type Clause struct {
	Kind      ClauseKind
	Condition string
}

// OrderBy is one ORDER BY term. Expr is an "alias.property" path, a
// selection alias or a raw expression.
type OrderBy struct {
	Expr      string
	Direction find.Direction
	Nulls     find.Nulls
}

// Params holds named parameter values.
type Params map[string]any

// ExpressionMap is the compiled state of one query. It is not safe for
// concurrent mutation.
type ExpressionMap struct {
	MainAlias *Alias
	Aliases   []*Alias

	Selects    []Selection
	Distinct   bool
	DistinctOn []string

	Joins          []*JoinAttribute
	RelationIDs    []*RelationIDAttribute
	RelationCounts []*RelationCountAttribute

	Wheres   []Clause
	Havings  []Clause
	OrderBys []OrderBy
	GroupBys []string

	// Limit and Offset are applied as is. Skip and Take are resolved by the
	// pagination strategy. Zero means unset.
	Limit, Offset int
	Skip, Take    int

	LockMode    loom.LockMode
	LockVersion any

	Cache         bool
	CacheDuration time.Duration
	CacheID       string

	Parameters       Params
	NativeParameters Params

	WithDeleted    bool
	EagerRelations bool
	CallListeners  bool

	// QueryEntity is set while compiling statements whose rows are hydrated.
	// Primary columns of selected aliases are then selected as virtual
	// columns when missing.
	QueryEntity bool

	// extraWhere is appended to the where clause with AND. It holds the id
	// filter of the second pagination phase.
	extraWhere string
	// required lists columns selected as virtual columns per alias, for
	// relation loaders and lock checks.
	required map[string][]*schema.Column
	// counter numbers generated parameter names. Subqueries share the
	// counter of their parent.
	counter *int
}

// NewExpressionMap returns an empty expression map.
func NewExpressionMap() *ExpressionMap {
	return &ExpressionMap{
		Parameters:       make(Params),
		NativeParameters: make(Params),
		EagerRelations:   true,
		CallListeners:    true,
		required:         make(map[string][]*schema.Column),
		counter:          new(int),
	}
}

// CreateAlias registers a new alias. The first alias of kind AliasFrom
// becomes the main alias.
func (m *ExpressionMap) CreateAlias(opts AliasOptions) (*Alias, error) {
	set := 0
	for _, ok := range []bool{opts.Metadata != nil, opts.TablePath != "", opts.SubQuery != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, loom.NewInvalidAliasError(opts.Name)
	}
	if opts.Name == "" && opts.Metadata != nil {
		opts.Name = opts.Metadata.Name
	}
	if m.FindAlias(opts.Name) != nil {
		return nil, loom.NewAliasConflictError(opts.Name)
	}
	a := &Alias{
		Name:      opts.Name,
		Kind:      opts.Kind,
		Metadata:  opts.Metadata,
		TablePath: opts.TablePath,
		SubQuery:  opts.SubQuery,
	}
	m.Aliases = append(m.Aliases, a)
	if a.Kind == AliasFrom && m.MainAlias == nil {
		m.MainAlias = a
	}
	return a, nil
}

// FindAlias returns the alias registered under name, or nil.
func (m *ExpressionMap) FindAlias(name string) *Alias {
	for _, a := range m.Aliases {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// FindJoin returns the join registered under the alias name, or nil.
func (m *ExpressionMap) FindJoin(alias string) *JoinAttribute {
	for _, j := range m.Joins {
		if j.Alias.Name == alias {
			return j
		}
	}
	return nil
}

// IsSelected reports whether the alias, or one of its columns, is selected.
func (m *ExpressionMap) IsSelected(a *Alias) bool {
	for _, s := range m.Selects {
		if s.As != "" {
			continue
		}
		if s.Expr == a.Name {
			return true
		}
		if a.Metadata != nil && strings.HasPrefix(s.Expr, a.Name+".") && a.Metadata.Column(s.Expr[len(a.Name)+1:]) != nil {
			return true
		}
	}
	return false
}

// NextParameter allocates a unique parameter name for a property of an
// alias, e.g. "post_title_3".
func (m *ExpressionMap) NextParameter(alias, property string) string {
	name := alias + "_" + strings.ReplaceAll(property, ".", "_") + "_" + strconv.Itoa(*m.counter)
	*m.counter++
	return name
}

// Require marks columns of an alias to be selected, as virtual columns
// when not selected otherwise.
func (m *ExpressionMap) Require(alias string, cs ...*schema.Column) {
	for _, c := range cs {
		if !slices.Contains(m.required[alias], c) {
			m.required[alias] = append(m.required[alias], c)
		}
	}
}

// AllParameters returns the named and native parameters merged.
func (m *ExpressionMap) AllParameters() Params {
	ps := make(Params, len(m.Parameters)+len(m.NativeParameters))
	maps.Copy(ps, m.NativeParameters)
	maps.Copy(ps, m.Parameters)
	return ps
}

// Clone returns a deep copy of the map. Aliases and relation metadata are
// shared, everything the builder mutates is copied.
func (m *ExpressionMap) Clone() *ExpressionMap {
	c := *m
	c.Aliases = slices.Clone(m.Aliases)
	c.Selects = slices.Clone(m.Selects)
	c.DistinctOn = slices.Clone(m.DistinctOn)
	c.Joins = make([]*JoinAttribute, len(m.Joins))
	for i, j := range m.Joins {
		jc := *j
		c.Joins[i] = &jc
	}
	c.RelationIDs = make([]*RelationIDAttribute, len(m.RelationIDs))
	for i, r := range m.RelationIDs {
		rc := *r
		c.RelationIDs[i] = &rc
	}
	c.RelationCounts = make([]*RelationCountAttribute, len(m.RelationCounts))
	for i, r := range m.RelationCounts {
		rc := *r
		c.RelationCounts[i] = &rc
	}
	c.Wheres = slices.Clone(m.Wheres)
	c.Havings = slices.Clone(m.Havings)
	c.OrderBys = slices.Clone(m.OrderBys)
	c.GroupBys = slices.Clone(m.GroupBys)
	c.Parameters = maps.Clone(m.Parameters)
	c.NativeParameters = maps.Clone(m.NativeParameters)
	c.required = make(map[string][]*schema.Column, len(m.required))
	for k, v := range m.required {
		c.required[k] = slices.Clone(v)
	}
	return &c
}
