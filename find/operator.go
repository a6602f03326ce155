package find

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/syssam/loom/dialect"
)

// Kind identifies a find operator.
type Kind string

// Operator kinds.
const (
	KindNot             Kind = "not"
	KindLessThan        Kind = "lessThan"
	KindLessThanOrEqual Kind = "lessThanOrEqual"
	KindMoreThan        Kind = "moreThan"
	KindMoreThanOrEqual Kind = "moreThanOrEqual"
	KindEqual           Kind = "equal"
	KindBetween         Kind = "between"
	KindIn              Kind = "in"
	KindAny             Kind = "any"
	KindIsNull          Kind = "isNull"
	KindLike            Kind = "like"
	KindILike           Kind = "ilike"
	KindRaw             Kind = "raw"
)

// Operator is a predicate other than plain equality. Operators render
// themselves given an escaped column path and the placeholders allocated
// for their values.
type Operator struct {
	kind     Kind
	value    any
	values   []any
	inner    *Operator
	rawFunc  func(column string) string
	param    bool
	multiple bool
}

// Kind returns the operator kind.
func (o *Operator) Kind() Kind { return o.kind }

// Value returns the single operand of the operator. For operators wrapping
// another operator it returns the operand of the inner one.
func (o *Operator) Value() any {
	if o.inner != nil {
		return o.inner.Value()
	}
	if o.multiple {
		return o.values
	}
	return o.value
}

// UseParameter reports whether the operator needs bound parameters.
func (o *Operator) UseParameter() bool {
	if o.inner != nil {
		return o.inner.UseParameter()
	}
	return o.param
}

// MultipleParameters reports whether the operator binds one parameter per
// element of its value.
func (o *Operator) MultipleParameters() bool {
	if o.inner != nil {
		return o.inner.MultipleParameters()
	}
	return o.multiple
}

// Values returns the values to bind, in placeholder order.
func (o *Operator) Values() []any {
	switch {
	case o.inner != nil:
		return o.inner.Values()
	case !o.param:
		return nil
	case o.multiple:
		return o.values
	default:
		return []any{o.value}
	}
}

// Map returns a copy of the operator with every bound value passed through f.
// It is used to apply column transformers before binding.
func (o *Operator) Map(f func(any) (any, error)) (*Operator, error) {
	c := *o
	if o.inner != nil {
		inner, err := o.inner.Map(f)
		if err != nil {
			return nil, err
		}
		c.inner = inner
		return &c, nil
	}
	if !o.param {
		return &c, nil
	}
	if o.multiple {
		c.values = make([]any, len(o.values))
		for i, v := range o.values {
			mv, err := f(v)
			if err != nil {
				return nil, err
			}
			c.values[i] = mv
		}
		return &c, nil
	}
	v, err := f(o.value)
	if err != nil {
		return nil, err
	}
	c.value = v
	return &c, nil
}

// SQL renders the operator against column. params holds one placeholder
// (or inlined literal) per element of Values.
func (o *Operator) SQL(s dialect.Strategy, column string, params []string) (string, error) {
	need := len(o.Values())
	if len(params) != need {
		return "", fmt.Errorf("find: operator %s expects %d parameters, got %d", o.kind, need, len(params))
	}
	switch o.kind {
	case KindNot:
		if o.inner != nil {
			inner, err := o.inner.SQL(s, column, params)
			if err != nil {
				return "", err
			}
			return "NOT(" + inner + ")", nil
		}
		return column + " != " + params[0], nil
	case KindLessThan:
		return column + " < " + params[0], nil
	case KindLessThanOrEqual:
		return column + " <= " + params[0], nil
	case KindMoreThan:
		return column + " > " + params[0], nil
	case KindMoreThanOrEqual:
		return column + " >= " + params[0], nil
	case KindEqual:
		return column + " = " + params[0], nil
	case KindBetween:
		return column + " BETWEEN " + params[0] + " AND " + params[1], nil
	case KindIn:
		if len(params) == 0 {
			return "0=1", nil
		}
		return column + " IN (" + strings.Join(params, ", ") + ")", nil
	case KindAny:
		return s.AnyOf(column, params[0])
	case KindIsNull:
		return column + " IS NULL", nil
	case KindLike:
		return column + " LIKE " + params[0], nil
	case KindILike:
		return s.CaseInsensitiveLike(column, params[0]), nil
	case KindRaw:
		if o.rawFunc != nil {
			return o.rawFunc(column), nil
		}
		return column + " = " + fmt.Sprint(o.value), nil
	}
	return "", fmt.Errorf("find: unknown operator %q", o.kind)
}

// String implements fmt.Stringer.
func (o *Operator) String() string {
	if o.inner != nil {
		return fmt.Sprintf("%s(%s)", o.kind, o.inner)
	}
	return fmt.Sprintf("%s(%v)", o.kind, o.Value())
}

func single(k Kind, v any) *Operator {
	return &Operator{kind: k, value: v, param: true}
}

// Not negates a value or another operator. Not(nil) matches non-NULL values.
func Not(v any) *Operator {
	switch v := v.(type) {
	case *Operator:
		return &Operator{kind: KindNot, inner: v}
	case nil:
		return &Operator{kind: KindNot, inner: IsNull()}
	}
	return single(KindNot, v)
}

// LessThan matches values lower than v.
func LessThan(v any) *Operator { return single(KindLessThan, v) }

// LessThanOrEqual matches values lower than or equal to v.
func LessThanOrEqual(v any) *Operator { return single(KindLessThanOrEqual, v) }

// MoreThan matches values greater than v. On a to-many relation it filters
// by the number of related rows.
func MoreThan(v any) *Operator { return single(KindMoreThan, v) }

// MoreThanOrEqual matches values greater than or equal to v.
func MoreThanOrEqual(v any) *Operator { return single(KindMoreThanOrEqual, v) }

// Equal matches values equal to v.
func Equal(v any) *Operator { return single(KindEqual, v) }

// Like matches values against a LIKE pattern.
func Like(pattern any) *Operator { return single(KindLike, pattern) }

// ILike matches values against a case-insensitive LIKE pattern.
func ILike(pattern any) *Operator { return single(KindILike, pattern) }

// Any matches values equal to any element of the array v. Only dialects
// with array parameters support it.
func Any(v any) *Operator { return single(KindAny, v) }

// IsNull matches NULL values.
func IsNull() *Operator { return &Operator{kind: KindIsNull} }

// Between matches values in the closed range [from, to].
func Between(from, to any) *Operator {
	return &Operator{kind: KindBetween, values: []any{from, to}, param: true, multiple: true}
}

// In matches values contained in vs. A single slice argument is expanded.
// An empty set matches nothing.
func In(vs ...any) *Operator {
	if len(vs) == 1 {
		if rv := reflect.ValueOf(vs[0]); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			vs = make([]any, rv.Len())
			for i := range vs {
				vs[i] = rv.Index(i).Interface()
			}
		}
	}
	return &Operator{kind: KindIn, values: vs, param: true, multiple: true}
}

// Raw compares the column to a raw SQL expression: column = expr.
func Raw(expr string) *Operator { return &Operator{kind: KindRaw, value: expr} }

// RawFunc renders the condition with f, given the escaped column path.
func RawFunc(f func(column string) string) *Operator {
	return &Operator{kind: KindRaw, rawFunc: f}
}
