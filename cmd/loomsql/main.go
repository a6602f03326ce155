// Command loomsql renders and runs find documents against an entity schema.
//
// Usage:
//
//	loomsql render Post find.yaml --schema entities.yaml --dialect mysql
//	loomsql find Post find.yaml --config loom.yaml
//	loomsql entities --schema entities.yaml
//
// Find documents are YAML objects with the keys select, where, relations,
// join, order, skip, take, pagination, cache, lock, load_relation_ids,
// with_deleted, load_eager_relations, listeners and relation_load_strategy.
package main

import (
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "loomsql:", err)
		os.Exit(1)
	}
}
