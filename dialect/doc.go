// Package dialect provides the database dialect abstraction of loom.
//
// It defines the driver contracts the query engine executes statements
// through, and the Strategy table describing how each backend spells the
// parts of a statement that differ between databases.
//
// # Supported Dialects
//
//	dialect.Postgres    = "postgres"
//	dialect.CockroachDB = "cockroachdb"
//	dialect.MySQL       = "mysql"
//	dialect.SQLite      = "sqlite"
//	dialect.SQLServer   = "sqlserver"
//	dialect.Oracle      = "oracle"
//
// # Strategy
//
// A Strategy covers identifier escaping, placeholders, pagination, lock
// clauses and a few capability flags:
//
//	s, err := dialect.For(dialect.MySQL)
//	if err != nil {
//	    return err
//	}
//	s.Escape("user")            // `user`
//	s.LimitOffset(10, 20, true) // " LIMIT 10 OFFSET 20"
//	s.LimitOffset(0, 20, true)  // error: offset without limit
//
// Components that build SQL never compare dialect names; they ask the
// Strategy instead.
//
// # Driver Interface
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// Drivers that can pin a single pooled connection also implement Sessioner.
// The dialect/sql package provides the database/sql implementation.
package dialect
