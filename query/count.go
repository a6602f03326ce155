package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/loom"
)

// countQuery returns a copy of the builder counting the distinct main
// entities it matches. Ordering, grouping, pagination and locking do not
// apply to counts.
func (b *SelectQueryBuilder) countQuery() *SelectQueryBuilder {
	c := b.Clone()
	e := c.expr
	e.OrderBys, e.GroupBys = nil, nil
	e.Limit, e.Offset, e.Skip, e.Take = 0, 0, 0, 0
	e.LockMode, e.LockVersion = loom.LockNone, nil
	e.Distinct, e.DistinctOn = false, nil
	e.Selects = nil
	e.RelationIDs, e.RelationCounts = nil, nil
	e.QueryEntity = false
	var (
		s    = c.strategy
		main = e.MainAlias
		expr = "COUNT(1)"
	)
	if main.Metadata != nil && len(main.Metadata.PrimaryColumns()) > 0 {
		pks := main.Metadata.PrimaryColumns()
		cols := make([]string, len(pks))
		for i, pk := range pks {
			cols[i] = s.Escape(main.Name) + "." + s.Escape(pk.Name)
		}
		expr = "COUNT(DISTINCT(" + s.ConcatKeys(cols) + "))"
	}
	return c.AddSelectAs(expr, "cnt")
}

// CompileCount compiles the statement GetCount runs.
func (b *SelectQueryBuilder) CompileCount() (*Compiled, error) {
	if err := b.prepare(); err != nil {
		return nil, err
	}
	return b.countQuery().compile()
}

// count runs the count statement of the builder.
func (b *SelectQueryBuilder) count(ctx context.Context) (int64, error) {
	cq := b.countQuery()
	c, err := cq.compile()
	if err != nil {
		return 0, err
	}
	rows, err := cq.run(ctx, c, "-count")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return countOf(rows[0]["cnt"])
}

// countOf converts a COUNT value scanned by a driver.
func countOf(v any) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case []byte:
		return parseCount(string(v))
	case string:
		return parseCount(v)
	}
	return 0, fmt.Errorf("query: unexpected count value %T", v)
}

func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return n, nil
	}
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil {
		return 0, fmt.Errorf("query: parse count %q: %w", s, err)
	}
	return int64(f), nil
}
