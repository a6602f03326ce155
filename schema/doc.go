// Package schema describes the entities mapped by the query engine.
//
// An Entity lists its columns and relations. A Registry resolves the
// relation graph once: relation targets and inverse sides, default join
// columns, junction entities of many-to-many relations and the Link of every
// relation. The query builder and the hydrator only read resolved metadata.
//
//	reg, err := schema.NewRegistry(
//	    &schema.Entity{
//	        Name:  "User",
//	        Table: "user",
//	        Columns: []*schema.Column{
//	            {Property: "id", Type: schema.TypeInt, Primary: true},
//	            {Property: "name"},
//	        },
//	    },
//	    &schema.Entity{
//	        Name:  "Post",
//	        Table: "post",
//	        Columns: []*schema.Column{
//	            {Property: "id", Type: schema.TypeInt, Primary: true},
//	            {Property: "title"},
//	        },
//	        Relations: []*schema.Relation{
//	            {Property: "author", Type: schema.ManyToOne, Target: "User"},
//	        },
//	    },
//	)
//
// The many-to-one relation above gets a join column "author_id" referencing
// "user"."id". Since Post declares no such column, the registry adds a
// virtual one: it is selected to assemble relations but never hydrated.
//
// Definitions can be loaded from YAML with LoadYAML and LoadYAMLFile.
package schema
