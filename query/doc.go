// Package query builds, runs and hydrates select statements over the
// entities of a schema.Registry.
//
// # Builders
//
// A Manager hands out SelectQueryBuilders. Builder calls accumulate state
// in an ExpressionMap; errors are recorded and returned by the terminal
// call, before any statement is sent:
//
//	posts, err := m.CreateQueryBuilder("Post", "post").
//	    LeftJoinAndSelect("post.categories", "category").
//	    Where("post.published = :published", query.Params{"published": true}).
//	    AndWhere(find.Where{"author": find.Where{"country": "US"}}).
//	    OrderBy("post.id", find.Desc).
//	    Take(10).
//	    GetMany(ctx)
//
// String conditions use alias.property paths, rewritten to escaped column
// names, and named parameters: ":name" binds one value, ":...name" binds
// every element of a list.
//
// # Find Options
//
// The Manager entry points take find.Options:
//
//	posts, n, err := m.FindAndCount(ctx, "Post", find.Options{
//	    Where:     find.Where{"title": find.Like("%go%")},
//	    Relations: []string{"author", "categories"},
//	    Order:     find.Order{find.ByDesc("id")},
//	    Take:      20,
//	})
//
// Relations are loaded by one statement per relation, or joined into the
// main statement with find.LoadByJoin.
//
// # Pagination
//
// Limit and Offset apply to rows. Skip and Take apply to entities: when
// joins are present, a first statement selects the primary keys of the
// page and a second one loads the entities with those keys, on the same
// connection.
//
// # Caching
//
// Results are cached in a loom.QueryResultCache when a query enables
// caching, keyed by the statement and its arguments. An unexpired entry
// answers the query without sending a statement.
package query
