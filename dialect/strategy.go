package dialect

import (
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/syssam/loom"
)

// Strategy exposes the per-backend facts and SQL fragment generators used
// to assemble statements. It is the only place in the module that knows
// which backend is in use; every other component consults a Strategy.
type Strategy interface {
	// Name returns the dialect name.
	Name() string
	// Escape quotes an identifier.
	Escape(ident string) string
	// Table returns the escaped, optionally schema qualified, table name.
	Table(name, schema string) string
	// PlaceholderFormat rewrites positional '?' tokens into native placeholders.
	PlaceholderFormat() sq.PlaceholderFormat
	// Placeholder returns the native placeholder of the 1-based position.
	Placeholder(index int) string
	// LimitOffset renders the pagination suffix. Zero means unset. The
	// ordered flag tells whether the statement has an ORDER BY clause.
	LimitOffset(limit, offset int, ordered bool) (string, error)
	// LockClause renders the lock suffix appended to the statement.
	LockClause(mode loom.LockMode) (string, error)
	// LockHint renders the table hint placed after the main table alias.
	LockHint(mode loom.LockMode) string
	// ConcatKeys joins several key expressions into one string expression,
	// used to count distinct composite primary keys.
	ConcatKeys(exprs []string) string
	// CaseInsensitiveLike renders a case-insensitive LIKE.
	CaseInsensitiveLike(column, param string) string
	// AnyOf renders "column equals any element of the array parameter".
	AnyOf(column, param string) (string, error)
	// MaxAliasLength returns the maximum identifier length, or 0 if unlimited.
	MaxAliasLength() int
	// SupportsReturning reports whether statements accept a RETURNING clause.
	SupportsReturning() bool
	// SupportsDistinctOn reports whether SELECT DISTINCT ON is available.
	SupportsDistinctOn() bool
}

type paging uint8

const (
	pagingLimit        paging = iota // LIMIT n OFFSET m
	pagingLimitStrict                // LIMIT required for OFFSET
	pagingLimitAll                   // LIMIT -1 OFFSET m
	pagingFetch                      // OFFSET m ROWS FETCH NEXT n ROWS ONLY
	pagingFetchOrdered               // pagingFetch, with an ORDER BY required
)

type concat uint8

const (
	concatFunc concat = iota
	concatText
	concatPipe
)

// Capabilities is the strategy table of one backend.
type Capabilities struct {
	name        string
	quote       func(string) string
	format      sq.PlaceholderFormat
	prefix      string
	numbered    bool
	paging      paging
	locks       map[loom.LockMode]string
	hints       map[loom.LockMode]string
	concat      concat
	ilike       bool
	anyArray    bool
	distinctOn  bool
	returning   bool
	maxAliasLen int
}

var _ Strategy = (*Capabilities)(nil)

var (
	// PostgresStrategy is the strategy table of PostgreSQL.
	PostgresStrategy = &Capabilities{
		name:     Postgres,
		quote:    pq.QuoteIdentifier,
		format:   sq.Dollar,
		prefix:   "$",
		numbered: true,
		paging:   pagingLimit,
		locks: map[loom.LockMode]string{
			loom.LockPessimisticRead:         "FOR SHARE",
			loom.LockPessimisticWrite:        "FOR UPDATE",
			loom.LockPessimisticPartialWrite: "FOR UPDATE SKIP LOCKED",
			loom.LockPessimisticWriteOrFail:  "FOR UPDATE NOWAIT",
			loom.LockForNoKeyUpdate:          "FOR NO KEY UPDATE",
		},
		concat:      concatFunc,
		ilike:       true,
		anyArray:    true,
		distinctOn:  true,
		returning:   true,
		maxAliasLen: 63,
	}

	// CockroachStrategy is the strategy table of CockroachDB.
	CockroachStrategy = &Capabilities{
		name:     CockroachDB,
		quote:    pq.QuoteIdentifier,
		format:   sq.Dollar,
		prefix:   "$",
		numbered: true,
		paging:   pagingLimit,
		locks: map[loom.LockMode]string{
			loom.LockPessimisticRead:  "FOR SHARE",
			loom.LockPessimisticWrite: "FOR UPDATE",
		},
		concat:      concatText,
		ilike:       true,
		anyArray:    true,
		distinctOn:  true,
		returning:   true,
		maxAliasLen: 63,
	}

	// MySQLStrategy is the strategy table of MySQL and MariaDB.
	MySQLStrategy = &Capabilities{
		name:   MySQL,
		quote:  quoteWith("`", "`"),
		format: sq.Question,
		prefix: "?",
		paging: pagingLimitStrict,
		locks: map[loom.LockMode]string{
			loom.LockPessimisticRead:  "LOCK IN SHARE MODE",
			loom.LockPessimisticWrite: "FOR UPDATE",
		},
		concat:      concatFunc,
		maxAliasLen: 64,
	}

	// SQLiteStrategy is the strategy table of SQLite.
	SQLiteStrategy = &Capabilities{
		name:      SQLite,
		quote:     quoteWith(`"`, `"`),
		format:    sq.Question,
		prefix:    "?",
		paging:    pagingLimitAll,
		concat:    concatPipe,
		returning: true,
	}

	// SQLServerStrategy is the strategy table of Microsoft SQL Server.
	SQLServerStrategy = &Capabilities{
		name:     SQLServer,
		quote:    quoteWith("[", "]"),
		format:   sq.AtP,
		prefix:   "@p",
		numbered: true,
		paging:   pagingFetchOrdered,
		hints: map[loom.LockMode]string{
			loom.LockPessimisticRead:  "WITH (HOLDLOCK, ROWLOCK)",
			loom.LockPessimisticWrite: "WITH (UPDLOCK, ROWLOCK)",
			loom.LockDirtyRead:        "WITH (NOLOCK)",
		},
		concat:      concatFunc,
		maxAliasLen: 128,
	}

	// OracleStrategy is the strategy table of Oracle.
	OracleStrategy = &Capabilities{
		name:     Oracle,
		quote:    quoteWith(`"`, `"`),
		format:   sq.Colon,
		prefix:   ":",
		numbered: true,
		paging:   pagingFetch,
		locks: map[loom.LockMode]string{
			loom.LockPessimisticRead:  "FOR UPDATE",
			loom.LockPessimisticWrite: "FOR UPDATE",
		},
		concat:      concatPipe,
		returning:   true,
		maxAliasLen: 30,
	}
)

var strategies = map[string]*Capabilities{
	Postgres:    PostgresStrategy,
	CockroachDB: CockroachStrategy,
	MySQL:       MySQLStrategy,
	SQLite:      SQLiteStrategy,
	SQLServer:   SQLServerStrategy,
	Oracle:      OracleStrategy,
}

// For returns the strategy of the named dialect. Driver names registered by
// the database/sql drivers ("pgx", "sqlite3", "mssql", ...) are accepted as
// aliases of their dialect.
func For(name string) (Strategy, error) {
	if s, ok := strategies[Normalize(name)]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("dialect: unsupported dialect %q", name)
}

// Normalize maps a database/sql driver name to its dialect name.
func Normalize(name string) string {
	switch n := strings.ToLower(name); {
	case n == "pgx" || strings.HasPrefix(n, Postgres):
		return Postgres
	case strings.HasPrefix(n, "cockroach"):
		return CockroachDB
	case strings.HasPrefix(n, MySQL) || n == "mariadb":
		return MySQL
	case strings.HasPrefix(n, SQLite):
		return SQLite
	case n == "mssql" || strings.HasPrefix(n, SQLServer):
		return SQLServer
	case strings.HasPrefix(n, Oracle) || n == "godror" || n == "oci8":
		return Oracle
	default:
		return n
	}
}

// Name implements Strategy.
func (c *Capabilities) Name() string { return c.name }

// Escape implements Strategy.
func (c *Capabilities) Escape(ident string) string { return c.quote(ident) }

// Table implements Strategy.
func (c *Capabilities) Table(name, schema string) string {
	if schema == "" {
		return c.quote(name)
	}
	return c.quote(schema) + "." + c.quote(name)
}

// PlaceholderFormat implements Strategy.
func (c *Capabilities) PlaceholderFormat() sq.PlaceholderFormat { return c.format }

// Placeholder implements Strategy.
func (c *Capabilities) Placeholder(index int) string {
	if !c.numbered {
		return c.prefix
	}
	return c.prefix + strconv.Itoa(index)
}

// LimitOffset implements Strategy.
func (c *Capabilities) LimitOffset(limit, offset int, ordered bool) (string, error) {
	limit, offset = max(limit, 0), max(offset, 0)
	if limit == 0 && offset == 0 {
		return "", nil
	}
	var b strings.Builder
	switch c.paging {
	case pagingFetch, pagingFetchOrdered:
		if c.paging == pagingFetchOrdered && !ordered {
			b.WriteString(" ORDER BY (SELECT NULL)")
		}
		if offset > 0 || c.paging == pagingFetchOrdered {
			fmt.Fprintf(&b, " OFFSET %d ROWS", offset)
		}
		if limit > 0 {
			fmt.Fprintf(&b, " FETCH NEXT %d ROWS ONLY", limit)
		}
		return b.String(), nil
	case pagingLimitStrict:
		if limit == 0 {
			return "", loom.NewUnsupportedOperationError("pagination", c.name, loom.ErrOffsetWithoutLimit)
		}
	case pagingLimitAll:
		if limit == 0 {
			return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset), nil
		}
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String(), nil
}

// LockClause implements Strategy.
func (c *Capabilities) LockClause(mode loom.LockMode) (string, error) {
	if mode == loom.LockNone || mode == loom.LockOptimistic {
		return "", nil
	}
	if s, ok := c.locks[mode]; ok {
		return " " + s, nil
	}
	if _, ok := c.hints[mode]; ok {
		return "", nil
	}
	return "", loom.NewUnsupportedOperationError(fmt.Sprintf("lock %s", mode), c.name, loom.ErrLockNotSupported)
}

// LockHint implements Strategy.
func (c *Capabilities) LockHint(mode loom.LockMode) string {
	if s, ok := c.hints[mode]; ok {
		return " " + s
	}
	return ""
}

// ConcatKeys implements Strategy.
func (c *Capabilities) ConcatKeys(exprs []string) string {
	if len(exprs) == 1 {
		return exprs[0]
	}
	switch c.concat {
	case concatPipe:
		return strings.Join(exprs, " || ")
	case concatText:
		cast := make([]string, len(exprs))
		for i, e := range exprs {
			cast[i] = e + "::text"
		}
		return "CONCAT(" + strings.Join(cast, ", ") + ")"
	default:
		return "CONCAT(" + strings.Join(exprs, ", ") + ")"
	}
}

// CaseInsensitiveLike implements Strategy.
func (c *Capabilities) CaseInsensitiveLike(column, param string) string {
	if c.ilike {
		return column + " ILIKE " + param
	}
	return "UPPER(" + column + ") LIKE UPPER(" + param + ")"
}

// AnyOf implements Strategy.
func (c *Capabilities) AnyOf(column, param string) (string, error) {
	if !c.anyArray {
		return "", loom.NewUnsupportedOperationError("ANY operator", c.name, nil)
	}
	return column + " = ANY(" + param + ")", nil
}

// MaxAliasLength implements Strategy.
func (c *Capabilities) MaxAliasLength() int { return c.maxAliasLen }

// SupportsReturning implements Strategy.
func (c *Capabilities) SupportsReturning() bool { return c.returning }

// SupportsDistinctOn implements Strategy.
func (c *Capabilities) SupportsDistinctOn() bool { return c.distinctOn }

// quoteWith returns a quoting function that doubles embedded closing quotes.
func quoteWith(start, end string) func(string) string {
	return func(ident string) string {
		return start + strings.ReplaceAll(ident, end, end+end) + end
	}
}
