package dialect

import (
	"context"
	"database/sql/driver"
)

// Dialect names for external usage.
const (
	Postgres    = "postgres"
	CockroachDB = "cockroachdb"
	MySQL       = "mysql"
	SQLite      = "sqlite"
	SQLServer   = "sqlserver"
	Oracle      = "oracle"
)

// ExecQuerier wraps the 2 database operations.
type ExecQuerier interface {
	// Exec executes a query that does not return records. For example, in SQL, INSERT or UPDATE.
	// It scans the result into the pointer v. For SQL drivers, it is dialect/sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows, typically a SELECT in SQL.
	// It scans the result into the pointer v. For SQL drivers, it is *dialect/sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for a
// connection pool used by the query engine.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	// The provided context is used until the transaction is committed or rolled back.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in transaction.
type Tx interface {
	ExecQuerier
	driver.Tx
}

// Session is a single connection taken out of the pool. Statements sent
// through a session see the same connection state.
type Session interface {
	ExecQuerier
	// Close returns the connection to the pool.
	Close() error
}

// Sessioner is implemented by drivers that can pin one connection of their
// pool for a sequence of statements.
type Sessioner interface {
	Session(context.Context) (Session, error)
}

type nopTx struct {
	Driver
}

// Commit is a nop commit for the underlying driver.
func (nopTx) Commit() error { return nil }

// Rollback is a nop rollback for the underlying driver.
func (nopTx) Rollback() error { return nil }

// NopTx returns a Tx with a nop Commit and Rollback for drivers
// that have no transaction support.
func NopTx(d Driver) Tx {
	return nopTx{d}
}
