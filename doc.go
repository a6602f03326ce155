// Package loom holds the shared contracts of the loom query engine: error
// kinds, lock modes and the query result cache interface.
//
// The engine itself lives in sub-packages:
//
//   - dialect: backend strategy table and driver contracts
//   - dialect/sql: database/sql backed driver
//   - schema: entity metadata and the resolved relation graph
//   - find: find options and find operators
//   - query: query builder, join planner, pagination and the Manager
//   - hydrate: turns flat rows into entity graphs
//   - cache: query result cache backends
//   - config: YAML configuration
//
// A typical load:
//
//	drv, err := sql.Open(dialect.Postgres, dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m, err := query.NewManager(drv, registry, query.WithCache(cache.NewMemory()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	posts, err := m.Find(ctx, "Post", find.Options{
//	    Where:     find.Where{"author": find.Where{"country": "US"}},
//	    Relations: []string{"categories"},
//	    Take:      10,
//	})
package loom
