package query

import (
	"context"
	"testing"

	"github.com/syssam/loom/find"
)

func BenchmarkCompileFind(b *testing.B) {
	m := renderManager(b, "postgres", WithRelationLoadStrategy(find.LoadByJoin))
	opts := find.Options{
		Relations: []string{"author", "categories", "comments"},
		Where: find.Where{
			"views":  find.MoreThan(10),
			"author": find.Where{"country": find.In("US", "DE")},
		},
		Order: find.Order{find.ByDesc("views"), find.By("id")},
		Take:  20,
	}
	b.ReportAllocs()
	for b.Loop() {
		qb := m.builder("Post", opts)
		if _, err := qb.Compile(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExpandParameters(b *testing.B) {
	const stmt = `SELECT "p"."id" FROM "post" "p" WHERE "p"."title" = :title AND "p"."id" IN (:...ids) AND "p"."body" <> ':title'`
	params := Params{"title": "go", "ids": []int{1, 2, 3, 4, 5, 6, 7, 8}}
	b.ReportAllocs()
	for b.Loop() {
		if _, _, err := expandParameters(stmt, params, true); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFindByJoin(b *testing.B) {
	m, _ := openBlog(b)
	ctx := context.Background()
	opts := find.Options{
		Relations:            []string{"author", "categories"},
		RelationLoadStrategy: find.LoadByJoin,
		Order:                find.Order{find.By("id")},
		Take:                 2,
	}
	b.ReportAllocs()
	for b.Loop() {
		if _, err := m.Find(ctx, "Post", opts); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFindByQuery(b *testing.B) {
	m, _ := openBlog(b)
	ctx := context.Background()
	opts := find.Options{
		Relations: []string{"author", "categories"},
		Order:     find.Order{find.By("id")},
	}
	b.ReportAllocs()
	for b.Loop() {
		if _, err := m.Find(ctx, "Post", opts); err != nil {
			b.Fatal(err)
		}
	}
}
