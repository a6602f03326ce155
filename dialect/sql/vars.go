package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/syssam/loom"
	"github.com/syssam/loom/dialect"
)

// Var is a session variable set on the connection of a statement before
// it runs, e.g. search_path or statement_timeout.
type Var struct {
	Name  string
	Value string
}

type varsKey struct{}

// WithVar returns a context whose statements run with the session variable
// name set to value. Later values of a name replace earlier ones.
func WithVar(ctx context.Context, name, value string) context.Context {
	vars, _ := ctx.Value(varsKey{}).([]Var)
	vars = slices.DeleteFunc(slices.Clone(vars), func(v Var) bool { return v.Name == name })
	return context.WithValue(ctx, varsKey{}, append(vars, Var{Name: name, Value: value}))
}

// WithIntVar calls WithVar with the decimal form of value.
func WithIntVar(ctx context.Context, name string, value int) context.Context {
	return WithVar(ctx, name, strconv.Itoa(value))
}

// WithVars calls WithVar for every entry of vars, in name order.
func WithVars(ctx context.Context, vars map[string]string) context.Context {
	for _, name := range slices.Sorted(maps.Keys(vars)) {
		ctx = WithVar(ctx, name, vars[name])
	}
	return ctx
}

// VarFromContext returns the value of the session variable name.
func VarFromContext(ctx context.Context, name string) (string, bool) {
	for _, v := range VarsFromContext(ctx) {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// VarsFromContext returns the session variables of ctx in the order they
// are set.
func VarsFromContext(ctx context.Context) []Var {
	vars, _ := ctx.Value(varsKey{}).([]Var)
	return vars
}

var varName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// ValidateVars checks that every name of vars is a plain, optionally
// dotted, identifier and that the dialect can set session variables.
func ValidateVars(name string, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	if _, err := varStatements(dialect.Normalize(name)); err != nil {
		return err
	}
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		if err := checkVarName(k); err != nil {
			return err
		}
	}
	return nil
}

func checkVarName(name string) error {
	if len(name) > 128 || !varName.MatchString(name) {
		return fmt.Errorf("dialect/sql: invalid session variable name %q", name)
	}
	return nil
}

// varSyntax renders the statements setting and resetting a variable.
type varSyntax struct {
	set   func(name, value string) string
	reset func(name string) string
}

func varStatements(name string) (varSyntax, error) {
	switch name {
	case dialect.Postgres, dialect.CockroachDB:
		return varSyntax{
			set:   func(k, v string) string { return "SET " + k + " = " + pq.QuoteLiteral(v) },
			reset: func(k string) string { return "RESET " + k },
		}, nil
	case dialect.MySQL:
		return varSyntax{
			set:   func(k, v string) string { return "SET " + k + " = " + mysqlLiteral(v) },
			reset: func(k string) string { return "SET " + k + " = DEFAULT" },
		}, nil
	}
	return varSyntax{}, loom.NewUnsupportedOperationError("session variables", name, loom.ErrSessionVarsNotSupported)
}

// mysqlLiteral quotes s as a MySQL string literal. Backslashes are escape
// characters unless NO_BACKSLASH_ESCAPES is set, so both are doubled.
func mysqlLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// withVars prepares the connection of a statement run with ctx. Without
// session variables it returns c itself. Otherwise the variables are set on
// a connection of its own: the transaction or pinned connection of c, or
// one taken from the pool. The returned release function resets the
// variables and returns a pooled connection.
func (c Conn) withVars(ctx context.Context) (ExecQuerier, func() error, error) {
	vars := VarsFromContext(ctx)
	if len(vars) == 0 {
		return c, nil, nil
	}
	syntax, err := varStatements(c.dialect)
	if err != nil {
		return nil, nil, err
	}
	for _, v := range vars {
		if err := checkVarName(v.Name); err != nil {
			return nil, nil, err
		}
	}
	var (
		ex   ExecQuerier
		done = func() error { return nil }
	)
	switch e := c.ExecQuerier.(type) {
	case *sql.Tx, *sql.Conn:
		ex = e
	case *sql.DB:
		conn, err := e.Conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		ex, done = conn, conn.Close
	default:
		return nil, nil, fmt.Errorf("dialect/sql: session variables on %T", c.ExecQuerier)
	}
	var set []string
	release := func() error {
		// The variables are reset even when ctx is canceled.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var errs []error
		for _, name := range set {
			if _, err := ex.ExecContext(rctx, syntax.reset(name)); err != nil {
				errs = append(errs, fmt.Errorf("dialect/sql: reset %s: %w", name, err))
			}
		}
		return errors.Join(append(errs, done())...)
	}
	for _, v := range vars {
		if _, err := ex.ExecContext(ctx, syntax.set(v.Name, v.Value)); err != nil {
			return nil, nil, errors.Join(fmt.Errorf("dialect/sql: set %s: %w", v.Name, err), release())
		}
		set = append(set, v.Name)
	}
	return ex, release, nil
}
