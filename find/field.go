package find

// Field is a typed property path producing Where fragments. Dotted paths
// cross embedded groups and relations.
//
// Usage:
//
//	var (
//	    Title   = find.StringField("title")
//	    Views   = find.Field[int]("views")
//	    Country = find.StringField("author.country")
//	)
//	opts.Where = find.And(Title.HasPrefix("Go"), Views.GT(100), Country.EQ("US"))
type Field[T any] string

// Name returns the property path.
func (f Field[T]) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f Field[T]) EQ(v T) Where { return Path(string(f), v) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f Field[T]) NEQ(v T) Where { return Path(string(f), Not(v)) }

// In returns a predicate that checks if the field value is in the given list.
func (f Field[T]) In(vs ...T) Where { return Path(string(f), In(anys(vs)...)) }

// NotIn returns a predicate that checks if the field value is not in the given list.
func (f Field[T]) NotIn(vs ...T) Where { return Path(string(f), Not(In(anys(vs)...))) }

// GT returns a predicate that checks if the field is greater than the given value.
func (f Field[T]) GT(v T) Where { return Path(string(f), MoreThan(v)) }

// GTE returns a predicate that checks if the field is greater than or equal to the given value.
func (f Field[T]) GTE(v T) Where { return Path(string(f), MoreThanOrEqual(v)) }

// LT returns a predicate that checks if the field is less than the given value.
func (f Field[T]) LT(v T) Where { return Path(string(f), LessThan(v)) }

// LTE returns a predicate that checks if the field is less than or equal to the given value.
func (f Field[T]) LTE(v T) Where { return Path(string(f), LessThanOrEqual(v)) }

// Between returns a predicate that checks if the field is within [from, to].
func (f Field[T]) Between(from, to T) Where { return Path(string(f), Between(from, to)) }

// IsNull returns a predicate that checks if the field is NULL.
func (f Field[T]) IsNull() Where { return Path(string(f), nil) }

// NotNull returns a predicate that checks if the field is not NULL.
func (f Field[T]) NotNull() Where { return Path(string(f), Not(nil)) }

// Asc orders by the field in ascending order.
func (f Field[T]) Asc() OrderTerm { return By(string(f)) }

// Desc orders by the field in descending order.
func (f Field[T]) Desc() OrderTerm { return ByDesc(string(f)) }

// StringField is a string property path with pattern predicates.
type StringField string

func (f StringField) field() Field[string] { return Field[string](f) }

// Name returns the property path.
func (f StringField) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f StringField) EQ(v string) Where { return f.field().EQ(v) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f StringField) NEQ(v string) Where { return f.field().NEQ(v) }

// In returns a predicate that checks if the field value is in the given list.
func (f StringField) In(vs ...string) Where { return f.field().In(vs...) }

// NotIn returns a predicate that checks if the field value is not in the given list.
func (f StringField) NotIn(vs ...string) Where { return f.field().NotIn(vs...) }

// GT returns a predicate that checks if the field is greater than the given value.
func (f StringField) GT(v string) Where { return f.field().GT(v) }

// LT returns a predicate that checks if the field is less than the given value.
func (f StringField) LT(v string) Where { return f.field().LT(v) }

// Like returns a predicate matching the LIKE pattern.
func (f StringField) Like(pattern string) Where { return Path(string(f), Like(pattern)) }

// Contains returns a predicate that checks if the field contains the given substring.
func (f StringField) Contains(v string) Where { return f.Like("%" + v + "%") }

// ContainsFold returns a predicate that checks if the field contains the given substring (case-insensitive).
func (f StringField) ContainsFold(v string) Where { return Path(string(f), ILike("%"+v+"%")) }

// HasPrefix returns a predicate that checks if the field has the given prefix.
func (f StringField) HasPrefix(v string) Where { return f.Like(v + "%") }

// HasSuffix returns a predicate that checks if the field has the given suffix.
func (f StringField) HasSuffix(v string) Where { return f.Like("%" + v) }

// EqualFold returns a predicate that checks if the field equals the given value (case-insensitive).
func (f StringField) EqualFold(v string) Where { return Path(string(f), ILike(v)) }

// IsNull returns a predicate that checks if the field is NULL.
func (f StringField) IsNull() Where { return f.field().IsNull() }

// NotNull returns a predicate that checks if the field is not NULL.
func (f StringField) NotNull() Where { return f.field().NotNull() }

// Asc orders by the field in ascending order.
func (f StringField) Asc() OrderTerm { return By(string(f)) }

// Desc orders by the field in descending order.
func (f StringField) Desc() OrderTerm { return ByDesc(string(f)) }

// EnumField is a property path over a string enum type.
type EnumField[T ~string] string

// Name returns the property path.
func (f EnumField[T]) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f EnumField[T]) EQ(v T) Where { return Path(string(f), string(v)) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f EnumField[T]) NEQ(v T) Where { return Path(string(f), Not(string(v))) }

// In returns a predicate that checks if the field value is in the given list.
func (f EnumField[T]) In(vs ...T) Where { return Path(string(f), In(strs(vs)...)) }

// NotIn returns a predicate that checks if the field value is not in the given list.
func (f EnumField[T]) NotIn(vs ...T) Where { return Path(string(f), Not(In(strs(vs)...))) }

func anys[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func strs[T ~string](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}
