package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/schema"
)

// Brackets groups conditions added inside f into one parenthesized
// condition.
//
//	qb.Where("post.published = :published").
//		AndWhere(query.Brackets(func(qb *query.SelectQueryBuilder) {
//			qb.Where("post.title LIKE :q").OrWhere("post.body LIKE :q")
//		}))
type Brackets func(*SelectQueryBuilder)

// buildCondition renders a find condition against alias a. An empty
// condition renders an empty string.
func (b *SelectQueryBuilder) buildCondition(a *Alias, c find.Condition) (string, error) {
	if a == nil || a.Metadata == nil {
		return "", loom.NewMissingAliasError("")
	}
	switch c := c.(type) {
	case nil:
		return "", nil
	case find.Where:
		return b.buildWhere(a, "", c)
	case find.Or:
		return b.buildOr(a, "", c)
	}
	return "", fmt.Errorf("query: unexpected condition %T", c)
}

func (b *SelectQueryBuilder) buildOr(a *Alias, prefix string, or find.Or) (string, error) {
	parts := make([]string, 0, len(or))
	for _, w := range or {
		s, err := b.buildWhere(a, prefix, w)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, "("+s+")")
		}
	}
	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func (b *SelectQueryBuilder) buildWhere(a *Alias, prefix string, w find.Where) (string, error) {
	var (
		meta  = a.Metadata
		parts = make([]string, 0, len(w))
	)
	for _, k := range w.Keys() {
		var (
			s    string
			err  error
			path = prefix + k
			v    = w[k]
		)
		switch {
		case meta.Column(path) != nil:
			s, err = b.columnPredicate(a, meta.Column(path), v)
		case meta.HasEmbedded(path):
			switch v := v.(type) {
			case find.Where:
				s, err = b.buildWhere(a, path+".", v)
			case find.Or:
				s, err = b.buildOr(a, path+".", v)
			default:
				err = loom.NewCriteriaNotFoundError(path, meta.Name)
			}
		case meta.Relation(path) != nil:
			s, err = b.relationPredicate(a, path, meta.Relation(path), v)
		default:
			err = loom.NewCriteriaNotFoundError(path, meta.Name)
		}
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " AND "), nil
}

// columnPredicate compares a column to a value or an operator.
func (b *SelectQueryBuilder) columnPredicate(a *Alias, c *schema.Column, v any) (string, error) {
	column := b.strategy.Escape(a.Name) + "." + b.strategy.Escape(c.Name)
	switch v := v.(type) {
	case nil:
		return column + " IS NULL", nil
	case *find.Operator:
		op, err := v.Map(toDatabase(c))
		if err != nil {
			return "", err
		}
		vs := op.Values()
		params := make([]string, len(vs))
		for i, pv := range vs {
			if lit, ok := inline(c, pv); ok {
				params[i] = lit
				continue
			}
			params[i] = b.bind(a.Name, c.Property, pv)
		}
		return op.SQL(b.strategy, column, params)
	case find.Where, find.Or:
		return "", loom.NewCriteriaNotFoundError(c.Property+".*", a.Metadata.Name)
	}
	dv, err := toDatabase(c)(v)
	if err != nil {
		return "", err
	}
	return column + " = " + b.bind(a.Name, c.Property, dv), nil
}

// relationPredicate filters by a relation: nested conditions join the
// relation, count operators compare the number of related rows, and plain
// values compare the foreign key of an owning to-one relation.
func (b *SelectQueryBuilder) relationPredicate(a *Alias, path string, rel *schema.Relation, v any) (string, error) {
	switch v := v.(type) {
	case find.Where, find.Or:
		alias := a.Name + "_" + strings.ReplaceAll(path, ".", "_")
		j := b.join(joinOptions{direction: find.InnerJoin, target: a.Name + "." + path, alias: alias})
		if j == nil {
			return "", b.Err()
		}
		if w, ok := v.(find.Where); ok {
			return b.buildWhere(j.Alias, "", w)
		}
		return b.buildOr(j.Alias, "", v.(find.Or))
	case *find.Operator:
		if rel.IsMany() {
			switch v.Kind() {
			case find.KindMoreThan, find.KindMoreThanOrEqual, find.KindLessThan, find.KindLessThanOrEqual, find.KindEqual:
				return b.relationCount(a, path, rel, v)
			}
			return "", loom.NewUnsupportedOperationError(fmt.Sprintf("%s on relation %s", v.Kind(), rel), "", nil)
		}
	}
	fk, err := foreignKey(rel)
	if err != nil {
		return "", err
	}
	return b.columnPredicate(a, fk, v)
}

// relationCount renders a correlated count of the rows of a to-many
// relation, compared with op.
func (b *SelectQueryBuilder) relationCount(a *Alias, path string, rel *schema.Relation, op *find.Operator) (string, error) {
	var (
		s     = b.strategy
		link  = rel.Link()
		inner = s.Escape(a.Name + "_" + strings.ReplaceAll(path, ".", "_") + "_rc")
		conds = make([]string, len(link.MatchColumns))
	)
	for i, c := range link.MatchColumns {
		conds[i] = inner + "." + s.Escape(c.Name) + " = " + s.Escape(a.Name) + "." + s.Escape(link.ParentColumns[i].Name)
	}
	sub := "(SELECT COUNT(*) FROM " + s.Table(link.Table.Table, link.Table.Schema) + " " + inner + " WHERE " + strings.Join(conds, " AND ") + ")"
	vs := op.Values()
	params := make([]string, len(vs))
	for i, v := range vs {
		if lit, ok := numberLiteral(v); ok {
			params[i] = lit
			continue
		}
		params[i] = b.bind(a.Name, path, v)
	}
	return op.SQL(s, sub, params)
}

// foreignKey returns the single foreign key column of an owning to-one
// relation.
func foreignKey(rel *schema.Relation) (*schema.Column, error) {
	if rel.IsMany() || !rel.IsOwning() {
		return nil, loom.NewUnsupportedOperationError(fmt.Sprintf("compare relation %s to a value", rel), "", nil)
	}
	if cs := rel.Link().ParentColumns; len(cs) == 1 {
		return cs[0], nil
	}
	return nil, loom.NewUnsupportedOperationError(fmt.Sprintf("compare composite relation %s to a value", rel), "", nil)
}

// bind stores v under a fresh parameter name and returns its token.
func (b *SelectQueryBuilder) bind(alias, property string, v any) string {
	name := b.expr.NextParameter(alias, property)
	b.expr.Parameters[name] = v
	return ":" + name
}

// toDatabase returns the conversion of entity values into database values.
func toDatabase(c *schema.Column) func(any) (any, error) {
	return func(v any) (any, error) {
		if c.Transformer == nil || v == nil {
			return v, nil
		}
		return c.Transformer.To(v)
	}
}

// inline renders numbers compared to numeric columns as literals.
func inline(c *schema.Column, v any) (string, bool) {
	if !c.Type.Numeric() {
		return "", false
	}
	return numberLiteral(v)
}

// numberLiteral formats Go numbers. Other values are not literals.
func numberLiteral(v any) (string, bool) {
	switch v := v.(type) {
	case int:
		return strconv.Itoa(v), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return floatLiteral(float64(v))
	case float64:
		return floatLiteral(v)
	}
	return "", false
}

func floatLiteral(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'g', -1, 64), true
}
