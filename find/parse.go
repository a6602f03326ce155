package find

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/syssam/loom"
)

// operators maps the keys of serialized operator objects, such as
// {"$in": [1, 2]}, to their constructors.
var operators = map[string]func(any) (*Operator, error){
	"$not":   func(v any) (*Operator, error) { return Not(v), nil },
	"$lt":    unary(LessThan),
	"$lte":   unary(LessThanOrEqual),
	"$gt":    unary(MoreThan),
	"$gte":   unary(MoreThanOrEqual),
	"$eq":    unary(Equal),
	"$like":  unary(Like),
	"$ilike": unary(ILike),
	"$any":   unary(Any),
	"$in": func(v any) (*Operator, error) {
		vs, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("find: $in expects a list, got %T", v)
		}
		return In(vs...), nil
	},
	"$between": func(v any) (*Operator, error) {
		vs, ok := v.([]any)
		if !ok || len(vs) != 2 {
			return nil, fmt.Errorf("find: $between expects a list of two values")
		}
		return Between(vs[0], vs[1]), nil
	},
	"$isNull": func(v any) (*Operator, error) {
		if b, ok := v.(bool); ok && !b {
			return Not(IsNull()), nil
		}
		return IsNull(), nil
	},
	"$raw": func(v any) (*Operator, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("find: $raw expects a string, got %T", v)
		}
		return Raw(s), nil
	},
}

func init() {
	aliases := map[string]string{
		"$lessThan":        "$lt",
		"$lessThanOrEqual": "$lte",
		"$moreThan":        "$gt",
		"$moreThanOrEqual": "$gte",
		"$equal":           "$eq",
		"$iLike":           "$ilike",
	}
	for alias, name := range aliases {
		operators[alias] = operators[name]
	}
}

func unary(f func(any) *Operator) func(any) (*Operator, error) {
	return func(v any) (*Operator, error) { return f(v), nil }
}

// ParseWhere converts decoded JSON or YAML into a Condition. Objects become
// Where, lists become Or, and single-key objects with a "$" key become
// operators:
//
//	{"title": {"$like": "%go%"}, "author": {"country": "US"}}
func ParseWhere(v any) (Condition, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case Condition:
		return v, nil
	case []any:
		return parseOr(v)
	}
	m, ok := toMap(v)
	if !ok {
		return nil, fmt.Errorf("find: where must be an object or a list, got %T", v)
	}
	return parseWhere(m)
}

func parseOr(vs []any) (Or, error) {
	or := make(Or, 0, len(vs))
	for i, item := range vs {
		m, ok := toMap(item)
		if !ok {
			return nil, fmt.Errorf("find: where[%d] must be an object, got %T", i, item)
		}
		w, err := parseWhere(m)
		if err != nil {
			return nil, err
		}
		or = append(or, w)
	}
	return or, nil
}

func parseWhere(m map[string]any) (Where, error) {
	w := make(Where, len(m))
	for k, v := range m {
		pv, err := parseValue(v)
		if err != nil {
			return nil, fmt.Errorf("find: %s: %w", k, err)
		}
		w[k] = pv
	}
	return w, nil
}

func parseValue(v any) (any, error) {
	if vs, ok := v.([]any); ok && len(vs) > 0 {
		if _, isMap := toMap(vs[0]); isMap {
			return parseOr(vs)
		}
		return v, nil
	}
	m, ok := toMap(v)
	if !ok {
		return v, nil
	}
	if len(m) == 1 {
		for k, arg := range m {
			if !strings.HasPrefix(k, "$") {
				break
			}
			build, ok := operators[k]
			if !ok {
				return nil, fmt.Errorf("unknown operator %q", k)
			}
			arg, err := parseValue(arg)
			if err != nil {
				return nil, err
			}
			return build(arg)
		}
	}
	return parseWhere(m)
}

func toMap(v any) (map[string]any, bool) {
	switch v := v.(type) {
	case map[string]any:
		return v, true
	case Where:
		return v, true
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[fmt.Sprint(k)] = e
		}
		return m, true
	}
	return nil, false
}

// ParseOrder converts decoded JSON or YAML into an Order. It accepts a list
// of single-key objects or "path direction" strings, which keeps the
// order of terms, or an object whose keys are sorted. Nested objects are
// flattened into dotted paths and {direction, nulls} objects set both.
func ParseOrder(v any) (Order, error) {
	var o Order
	switch v := v.(type) {
	case nil:
		return nil, nil
	case Order:
		return v, nil
	case []any:
		for i, item := range v {
			if s, ok := item.(string); ok {
				f := strings.Fields(s)
				if len(f) == 0 {
					return nil, fmt.Errorf("find: order[%d] is empty", i)
				}
				t := By(f[0])
				if len(f) > 1 {
					t.Direction = ParseDirection(f[1])
				}
				if len(f) > 2 {
					t.Nulls = ParseNulls(strings.Join(f[2:], " "))
				}
				o = append(o, t)
				continue
			}
			m, ok := toMap(item)
			if !ok {
				return nil, fmt.Errorf("find: order[%d] must be an object or a string, got %T", i, item)
			}
			o = append(o, orderTerms("", m)...)
		}
	default:
		m, ok := toMap(v)
		if !ok {
			return nil, fmt.Errorf("find: order must be an object or a list, got %T", v)
		}
		o = orderTerms("", m)
	}
	return o, nil
}

func orderTerms(prefix string, m map[string]any) Order {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var o Order
	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		sub, ok := toMap(m[k])
		if !ok {
			o = append(o, OrderTerm{Path: path, Direction: ParseDirection(m[k])})
			continue
		}
		if d, ok := sub["direction"]; ok {
			n, _ := sub["nulls"].(string)
			o = append(o, OrderTerm{Path: path, Direction: ParseDirection(d), Nulls: ParseNulls(n)})
			continue
		}
		o = append(o, orderTerms(path, sub)...)
	}
	return o
}

// document is the serialized form of Options.
type document struct {
	Select               []string      `mapstructure:"select"`
	Where                any           `mapstructure:"where"`
	Relations            []string      `mapstructure:"relations"`
	Join                 *joinDocument `mapstructure:"join"`
	Order                any           `mapstructure:"order"`
	Skip                 int           `mapstructure:"skip"`
	Take                 int           `mapstructure:"take"`
	Pagination           *bool         `mapstructure:"pagination"`
	Cache                any           `mapstructure:"cache"`
	Lock                 *LockOptions  `mapstructure:"lock"`
	LoadRelationIDs      any           `mapstructure:"load_relation_ids"`
	WithDeleted          bool          `mapstructure:"with_deleted"`
	LoadEagerRelations   *bool         `mapstructure:"load_eager_relations"`
	Listeners            *bool         `mapstructure:"listeners"`
	RelationLoadStrategy string        `mapstructure:"relation_load_strategy"`
}

type joinDocument struct {
	Alias              string            `mapstructure:"alias"`
	InnerJoin          map[string]string `mapstructure:"inner_join"`
	LeftJoin           map[string]string `mapstructure:"left_join"`
	InnerJoinAndSelect map[string]string `mapstructure:"inner_join_and_select"`
	LeftJoinAndSelect  map[string]string `mapstructure:"left_join_and_select"`
}

// Decode converts a serialized find document, as read from JSON or YAML,
// into Options:
//
//	select: [id, title]
//	where: {author: {country: US}, title: {$like: "%go%"}}
//	relations: [categories]
//	order: [{title: desc}]
//	take: 10
//	cache: 5s
//	lock: {mode: pessimistic_read}
func Decode(input map[string]any) (Options, error) {
	var (
		doc  document
		opts Options
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(input); err != nil {
		return opts, fmt.Errorf("find: decode options: %w", err)
	}
	if opts.Where, err = ParseWhere(doc.Where); err != nil {
		return opts, err
	}
	if opts.Order, err = ParseOrder(doc.Order); err != nil {
		return opts, err
	}
	if opts.Cache, err = parseCache(doc.Cache); err != nil {
		return opts, err
	}
	if opts.LoadRelationIDs, err = parseRelationIDs(doc.LoadRelationIDs); err != nil {
		return opts, err
	}
	opts.Select = doc.Select
	opts.Relations = doc.Relations
	opts.Skip, opts.Take = doc.Skip, doc.Take
	opts.DisablePagination = doc.Pagination != nil && !*doc.Pagination
	opts.Lock = doc.Lock
	opts.WithDeleted = doc.WithDeleted
	opts.DisableEagerRelations = doc.LoadEagerRelations != nil && !*doc.LoadEagerRelations
	opts.SkipListeners = doc.Listeners != nil && !*doc.Listeners
	switch s := RelationLoadStrategy(doc.RelationLoadStrategy); s {
	case "", LoadByQuery, LoadByJoin:
		opts.RelationLoadStrategy = s
	default:
		return opts, fmt.Errorf("find: unknown relation load strategy %q", s)
	}
	if doc.Join != nil {
		opts.Join = &JoinOptions{Alias: doc.Join.Alias, Joins: orderJoins(doc.Join)}
	}
	return opts, nil
}

// orderJoins flattens the join maps so that every join comes after the
// join of its parent alias. Paths have the form "parent.relation".
func orderJoins(doc *joinDocument) []JoinSpec {
	var pending []JoinSpec
	for _, group := range []struct {
		m    map[string]string
		spec func(path, alias string) JoinSpec
	}{
		{doc.InnerJoin, InnerJoinOnly},
		{doc.LeftJoin, LeftJoinOnly},
		{doc.InnerJoinAndSelect, InnerJoinAndSelect},
		{doc.LeftJoinAndSelect, LeftJoinAndSelect},
	} {
		aliases := make([]string, 0, len(group.m))
		for alias := range group.m {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		for _, alias := range aliases {
			pending = append(pending, group.spec(group.m[alias], alias))
		}
	}
	joined := make(map[string]bool, len(pending))
	out := make([]JoinSpec, 0, len(pending))
	for len(pending) > 0 {
		var rest []JoinSpec
		for _, j := range pending {
			parent, _, _ := strings.Cut(j.Path, ".")
			if hasAlias(pending, parent) && !joined[parent] {
				rest = append(rest, j)
				continue
			}
			joined[j.Alias] = true
			out = append(out, j)
		}
		if len(rest) == len(pending) {
			// Cyclic or self references; keep the remaining order.
			return append(out, rest...)
		}
		pending = rest
	}
	return out
}

func hasAlias(js []JoinSpec, alias string) bool {
	for _, j := range js {
		if j.Alias == alias {
			return true
		}
	}
	return false
}

func parseCache(v any) (*CacheOptions, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if !v {
			return nil, nil
		}
		return &CacheOptions{}, nil
	case int:
		return &CacheOptions{Duration: time.Duration(v) * time.Millisecond}, nil
	case float64:
		return &CacheOptions{Duration: time.Duration(v) * time.Millisecond}, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("find: cache: %w", err)
		}
		return &CacheOptions{Duration: d}, nil
	}
	var c struct {
		ID       string        `mapstructure:"id"`
		Duration time.Duration `mapstructure:"duration"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &c,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("find: cache: %w", err)
	}
	return &CacheOptions{ID: c.ID, Duration: c.Duration}, nil
}

func parseRelationIDs(v any) (*RelationIDOptions, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if !v {
			return nil, nil
		}
		return &RelationIDOptions{}, nil
	}
	var r struct {
		Relations       []string `mapstructure:"relations"`
		DisableMixedMap bool     `mapstructure:"disable_mixed_map"`
	}
	if err := mapstructure.Decode(v, &r); err != nil {
		return nil, fmt.Errorf("find: load_relation_ids: %w", err)
	}
	return &RelationIDOptions{Relations: r.Relations, DisableMixedMap: r.DisableMixedMap}, nil
}

// lockModes lists the modes accepted in serialized options.
var lockModes = []loom.LockMode{
	loom.LockOptimistic,
	loom.LockPessimisticRead,
	loom.LockPessimisticWrite,
	loom.LockDirtyRead,
	loom.LockPessimisticPartialWrite,
	loom.LockPessimisticWriteOrFail,
	loom.LockForNoKeyUpdate,
}

// Validate checks option values that do not depend on the schema.
func (o Options) Validate() error {
	if o.Skip < 0 || o.Take < 0 {
		return fmt.Errorf("find: skip and take must not be negative")
	}
	if o.Lock != nil {
		valid := false
		for _, m := range lockModes {
			valid = valid || m == o.Lock.Mode
		}
		if !valid {
			return fmt.Errorf("find: unknown lock mode %q", o.Lock.Mode)
		}
	}
	return nil
}
