package query

import (
	"crypto/sha1"
	"encoding/hex"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/syssam/loom"
	"github.com/syssam/loom/schema"
)

// Compiled is a statement ready to be sent to a driver. Args are in
// placeholder order.
type Compiled struct {
	SQL  string
	Args []any
}

// selected is a column selected for an alias.
type selected struct {
	column  *schema.Column
	virtual bool
}

// columns returns the columns selected for an alias with metadata, in
// entity order. In entity queries, primary columns and required columns
// of an alias with at least one selected column are added as virtual
// columns.
func (b *SelectQueryBuilder) columns(a *Alias) []selected {
	if a.Metadata == nil {
		return nil
	}
	var (
		meta     = a.Metadata
		whole    bool
		virtual  = true
		explicit = make(map[*schema.Column]bool)
	)
	for _, s := range b.expr.Selects {
		if s.As != "" {
			continue
		}
		if s.Expr == a.Name {
			whole = true
			virtual = virtual && s.Virtual
			continue
		}
		path, ok := strings.CutPrefix(s.Expr, a.Name+".")
		if !ok {
			continue
		}
		if c := meta.Column(path); c != nil {
			explicit[c] = explicit[c] || !s.Virtual
			continue
		}
		if meta.HasEmbedded(path) {
			for _, c := range meta.AllColumns() {
				if strings.HasPrefix(c.Property, path+".") {
					explicit[c] = explicit[c] || !s.Virtual
				}
			}
		}
	}
	if !whole && len(explicit) == 0 {
		return nil
	}
	var out []selected
	for _, c := range meta.AllColumns() {
		inWhole := whole && !c.Hidden
		picked, ok := explicit[c]
		if !inWhole && !ok {
			continue
		}
		out = append(out, selected{column: c, virtual: !(inWhole && !virtual) && !picked})
	}
	if !b.expr.QueryEntity {
		return out
	}
	need := append(slices.Clone(meta.PrimaryColumns()), b.expr.required[a.Name]...)
	for _, c := range need {
		if !slices.ContainsFunc(out, func(s selected) bool { return s.column == c }) {
			out = append(out, selected{column: c, virtual: true})
		}
	}
	return out
}

// columnKey returns the result column name of an alias column, shortened
// to the identifier limit of the dialect.
func (b *SelectQueryBuilder) columnKey(alias string, c *schema.Column) string {
	return b.shorten(alias + "_" + c.Name)
}

func (b *SelectQueryBuilder) shorten(name string) string {
	limit := b.strategy.MaxAliasLength()
	if limit == 0 || len(name) <= limit {
		return name
	}
	sum := sha1.Sum([]byte(name))
	return name[:limit-9] + "_" + hex.EncodeToString(sum[:])[:8]
}

// selectedAliases returns the aliases rendered as column selections: the
// from aliases, then the joined aliases.
func (b *SelectQueryBuilder) selectedAliases() []*Alias {
	var as []*Alias
	for _, a := range b.expr.Aliases {
		if a.Kind == AliasFrom {
			as = append(as, a)
		}
	}
	for _, j := range b.expr.Joins {
		as = append(as, j.Alias)
	}
	return as
}

// isAliasSelection reports whether a selection names an alias or a
// property of an alias with metadata. Aliased selections are raw.
func (b *SelectQueryBuilder) isAliasSelection(s Selection) bool {
	if s.As != "" {
		return false
	}
	if b.expr.FindAlias(s.Expr) != nil {
		return true
	}
	alias, path, ok := strings.Cut(s.Expr, ".")
	if !ok {
		return false
	}
	a := b.expr.FindAlias(alias)
	return a != nil && a.Metadata != nil && (a.Metadata.Column(path) != nil || a.Metadata.HasEmbedded(path))
}

func (b *SelectQueryBuilder) selectSQL() (string, error) {
	var (
		s     = b.strategy
		parts []string
	)
	for _, a := range b.selectedAliases() {
		if a.Metadata == nil {
			if slices.ContainsFunc(b.expr.Selects, func(sel Selection) bool { return sel.Expr == a.Name }) {
				parts = append(parts, s.Escape(a.Name)+".*")
			}
			continue
		}
		for _, c := range b.columns(a) {
			parts = append(parts, s.Escape(a.Name)+"."+s.Escape(c.column.Name)+" AS "+s.Escape(b.columnKey(a.Name, c.column)))
		}
	}
	for _, sel := range b.expr.Selects {
		if b.isAliasSelection(sel) {
			continue
		}
		expr := b.rewriteProperties(sel.Expr)
		if sel.As != "" {
			expr += " AS " + s.Escape(sel.As)
		}
		parts = append(parts, expr)
	}
	if len(parts) == 0 {
		parts = append(parts, "*")
	}
	var out strings.Builder
	out.WriteString("SELECT ")
	switch {
	case len(b.expr.DistinctOn) > 0:
		if !s.SupportsDistinctOn() {
			return "", loom.NewUnsupportedOperationError("DISTINCT ON", s.Name(), nil)
		}
		on := make([]string, len(b.expr.DistinctOn))
		for i, d := range b.expr.DistinctOn {
			on[i] = b.rewriteProperties(d)
		}
		out.WriteString("DISTINCT ON (" + strings.Join(on, ", ") + ") ")
	case b.expr.Distinct:
		out.WriteString("DISTINCT ")
	}
	out.WriteString(strings.Join(parts, ", "))
	return out.String(), nil
}

func (b *SelectQueryBuilder) fromSQL() string {
	var froms []string
	for _, a := range b.expr.Aliases {
		if a.Kind != AliasFrom {
			continue
		}
		f := b.aliasSource(a) + " " + b.strategy.Escape(a.Name)
		if a == b.expr.MainAlias {
			f += b.strategy.LockHint(b.expr.LockMode)
		}
		froms = append(froms, f)
	}
	return " FROM " + strings.Join(froms, ", ")
}

// clausesSQL renders a where or having list.
func (b *SelectQueryBuilder) clausesSQL(cs []Clause) string {
	var out strings.Builder
	for i, c := range cs {
		if i > 0 {
			switch c.Kind {
			case ClauseOr:
				out.WriteString(" OR ")
			default:
				out.WriteString(" AND ")
			}
		}
		out.WriteString(b.rewriteProperties(c.Condition))
	}
	return out.String()
}

func (b *SelectQueryBuilder) whereSQL() string {
	var parts []string
	if cond := b.clausesSQL(b.expr.Wheres); cond != "" {
		parts = append(parts, cond)
	}
	if m := b.expr.MainAlias; m != nil && m.Metadata != nil && !b.expr.WithDeleted {
		if del := m.Metadata.DeleteDateColumn(); del != nil {
			parts = append(parts, b.strategy.Escape(m.Name)+"."+b.strategy.Escape(del.Name)+" IS NULL")
		}
	}
	if b.expr.extraWhere != "" {
		parts = append(parts, b.expr.extraWhere)
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return " WHERE " + parts[0]
	}
	if len(b.expr.Wheres) > 0 {
		parts[0] = "(" + parts[0] + ")"
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

func (b *SelectQueryBuilder) orderSQL() string {
	if len(b.expr.OrderBys) == 0 {
		return ""
	}
	terms := make([]string, len(b.expr.OrderBys))
	for i, o := range b.expr.OrderBys {
		t := b.orderExpr(o.Expr) + " " + string(o.Direction)
		if o.Nulls != "" {
			t += " " + string(o.Nulls)
		}
		terms[i] = t
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

// orderExpr resolves an order term: selection aliases are escaped, property
// paths are rewritten.
func (b *SelectQueryBuilder) orderExpr(expr string) string {
	for _, s := range b.expr.Selects {
		if s.As != "" && s.As == expr {
			return b.strategy.Escape(expr)
		}
	}
	return b.rewriteProperties(expr)
}

// namedSQL assembles the statement with named parameters left in place.
func (b *SelectQueryBuilder) namedSQL() (string, error) {
	if b.expr.MainAlias == nil {
		return "", loom.NewMissingAliasError("")
	}
	sel, err := b.selectSQL()
	if err != nil {
		return "", err
	}
	var out strings.Builder
	out.WriteString(sel)
	out.WriteString(b.fromSQL())
	for _, j := range b.expr.Joins {
		out.WriteString(b.joinSQL(j))
	}
	out.WriteString(b.whereSQL())
	if len(b.expr.GroupBys) > 0 {
		gs := make([]string, len(b.expr.GroupBys))
		for i, g := range b.expr.GroupBys {
			gs[i] = b.rewriteProperties(g)
		}
		out.WriteString(" GROUP BY " + strings.Join(gs, ", "))
	}
	if h := b.clausesSQL(b.expr.Havings); h != "" {
		out.WriteString(" HAVING " + h)
	}
	order := b.orderSQL()
	out.WriteString(order)
	limit, offset := b.expr.Limit, b.expr.Offset
	if limit == 0 && offset == 0 && len(b.expr.Joins) == 0 {
		limit, offset = b.expr.Take, b.expr.Skip
	}
	page, err := b.strategy.LimitOffset(limit, offset, order != "")
	if err != nil {
		return "", err
	}
	out.WriteString(page)
	lock, err := b.strategy.LockClause(b.expr.LockMode)
	if err != nil {
		return "", err
	}
	out.WriteString(lock)
	return out.String(), nil
}

// compile assembles the statement and binds its parameters in the
// placeholder format of the dialect.
func (b *SelectQueryBuilder) compile() (*Compiled, error) {
	named, err := b.namedSQL()
	if err != nil {
		return nil, err
	}
	format := b.strategy.PlaceholderFormat()
	text, args, err := expandParameters(named, b.expr.AllParameters(), format != sq.Question)
	if err != nil {
		return nil, err
	}
	text, err = format.ReplacePlaceholders(text)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = []any{}
	}
	return &Compiled{SQL: text, Args: args}, nil
}

// Compile applies pending find options and returns the statement of the
// query as it would be sent for raw results.
func (b *SelectQueryBuilder) Compile() (*Compiled, error) {
	if err := b.prepare(); err != nil {
		return nil, err
	}
	return b.compile()
}

// GetQuery returns the SQL of the query with named parameters unexpanded.
func (b *SelectQueryBuilder) GetQuery() (string, error) {
	if err := b.prepare(); err != nil {
		return "", err
	}
	return b.namedSQL()
}

// EntitySQL returns the statement loading entities in one pass, with
// identity columns selected. Queries paginated across joins run a second
// statement first; EntitySQL renders the final one unfiltered.
func (b *SelectQueryBuilder) EntitySQL() (*Compiled, error) {
	if err := b.prepare(); err != nil {
		return nil, err
	}
	c := b.Clone()
	c.expr.QueryEntity = true
	return c.compile()
}
