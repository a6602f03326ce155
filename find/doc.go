// Package find declares finds: filters, relations to load, ordering,
// pagination, locking and caching, independent of any backend.
//
// A filter is a Condition: a Where, whose keys are combined with AND, or an
// Or of several Where. Values are compared for equality unless they are
// operators:
//
//	opts := find.Options{
//	    Where: find.Where{
//	        "title":  find.Like("%go%"),
//	        "views":  find.MoreThan(100),
//	        "author": find.Where{"country": "US"},
//	    },
//	    Relations: []string{"categories"},
//	    Order:     find.Order{find.ByDesc("views")},
//	    Take:      10,
//	}
//
// A nested Where under a relation joins the relation. Operators MoreThan and
// LessThan placed directly on a to-many relation filter by the number of
// related rows.
//
// Serialized options, as read from JSON or YAML, are converted with Decode.
// Operator objects there use "$" keys, e.g. {"$in": [1, 2]}.
package find
