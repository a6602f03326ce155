// Package sql implements the dialect.Driver contracts on top of database/sql.
//
// # Opening a driver
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// An existing *sql.DB can be wrapped with OpenDB. The dialect name is
// normalized, so OpenDB("pgx", db) reports dialect.Postgres.
//
// # Executing statements
//
// Statements go through the Exec and Query methods shared by Driver, Tx and
// Session. Query scans into *Rows, and ScanMaps reads them into maps keyed
// by column name:
//
//	rows := &sql.Rows{}
//	if err := drv.Query(ctx, "SELECT id FROM users WHERE id = $1", []any{1}, rows); err != nil {
//	    return err
//	}
//	records, err := sql.ScanMaps(rows)
//
// # Sessions
//
// Session pins one pooled connection. The query engine uses it to run the
// two phases of paginated loads on the same connection outside transactions.
//
// # Session variables
//
// WithVar attaches variables set on the connection before every statement
// of a context and reset after it. Postgres, CockroachDB and MySQL support
// them:
//
//	ctx = sql.WithVar(ctx, "search_path", "tenant_1")
//
// A query.Manager applies the variables of WithSessionVars to all of its
// statements.
//
// # Instrumentation
//
// StatsDriver counts statements, reports slow ones and optionally logs every
// statement through log/slog.
//
// # Errors
//
// IsLockNotAvailable, IsDeadlock and IsSerializationFailure classify driver
// errors of lib/pq, go-sql-driver/mysql and drivers exposing SQLState.
package sql
