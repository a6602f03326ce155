// Package hydrate turns flat result rows into entity graphs.
//
// A Layout tells, per alias, under which row keys its columns were
// selected and which joined aliases nest into which properties. Transform
// merges rows sharing a primary key into one Entity, decodes every value by
// its column type, collects to-many relations without duplicates, strips
// virtual selections and merges relation ids and counts loaded by separate
// queries.
//
// Entities are dynamic. Decode and DecodeAll copy them into user structs:
//
//	type Post struct {
//	    ID     int64  `loom:"id"`
//	    Title  string `loom:"title"`
//	    Author struct {
//	        Name string `loom:"name"`
//	    } `loom:"author"`
//	}
//
//	var posts []Post
//	err := hydrate.DecodeAll(entities, &posts)
package hydrate
