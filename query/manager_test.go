package query

import (
	"context"
	stdsql "database/sql"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/loom"
	"github.com/syssam/loom/cache"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/hydrate"
	"github.com/syssam/loom/schema"
)

// recorder is an interceptor recording the statements sent.
type recorder struct {
	mu    sync.Mutex
	stmts []string
}

func (r *recorder) Intercept(next Querier) Querier {
	return QuerierFunc(func(ctx context.Context, c *Compiled) ([]map[string]any, error) {
		r.mu.Lock()
		r.stmts = append(r.stmts, c.SQL)
		r.mu.Unlock()
		return next.Query(ctx, c)
	})
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stmts...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = nil
}

func openSQLite(t testing.TB) *stdsql.DB {
	t.Helper()
	db, err := stdsql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	// Every connection to :memory: opens its own database.
	db.SetMaxOpenConns(1)
	return db
}

// openBlog returns a manager on a seeded in-memory database and the
// recorder of its statements.
func openBlog(t testing.TB, opts ...Option) (*Manager, *recorder) {
	t.Helper()
	db := openSQLite(t)
	seed, err := os.ReadFile("testdata/blog.sql")
	require.NoError(t, err)
	for _, stmt := range strings.Split(string(seed), ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	rec := &recorder{}
	m, err := NewManager(sql.OpenDB(dialect.SQLite, db), blogRegistry(t), append([]Option{WithInterceptors(rec)}, opts...)...)
	require.NoError(t, err)
	return m, rec
}

func idsOf(es []*hydrate.Entity) []int64 {
	out := make([]int64, len(es))
	for i, e := range es {
		out[i], _ = e.Get("id").(int64)
	}
	return out
}

func valuesOf(es []*hydrate.Entity, prop string) []any {
	out := make([]any, len(es))
	for i, e := range es {
		out[i] = e.Get(prop)
	}
	return out
}

func TestFind(t *testing.T) {
	m, rec := openBlog(t)
	ctx := context.Background()

	posts, err := m.Find(ctx, "Post", find.Options{Order: find.Order{find.By("id")}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 5}, idsOf(posts))
	assert.Equal(t, []any{"Go", "SQL", "ORM", "Draft"}, valuesOf(posts, "title"))
	assert.Equal(t, int64(2), posts[1].Get("version"))
	assert.Len(t, rec.all(), 1)

	posts, err = m.Find(ctx, "Post", find.Options{WithDeleted: true, Order: find.Order{find.ByDesc("id")}, Take: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4}, idsOf(posts))
	assert.NotNil(t, posts[1].Get("deletedAt"))

	posts, err = m.FindBy(ctx, "Post", find.Where{"author": find.Where{"country": "US"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, idsOf(posts))

	posts, err = m.FindByIDs(ctx, "Post", 1, 3, 4)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, idsOf(posts))

	posts, err = m.FindByIDs(ctx, "Post")
	require.NoError(t, err)
	assert.Empty(t, posts)

	reactions, err := m.FindByIDs(ctx, "Reaction", map[string]any{"postId": 2, "userId": 3})
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "like", reactions[0].Get("kind"))
}

func TestFindOne(t *testing.T) {
	m, _ := openBlog(t)
	ctx := context.Background()

	p, err := m.FindOneByID(ctx, "Post", 3)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "ORM", p.Get("title"))

	p, err = m.FindOneBy(ctx, "Post", find.Where{"views": find.MoreThanOrEqual(20)})
	require.NoError(t, err)
	require.NotNil(t, p)

	p, err = m.FindOneByID(ctx, "Post", 4)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = m.FindOneOrFail(ctx, "Post", find.Options{Where: find.Where{"title": "nope"}})
	require.Error(t, err)
	assert.True(t, loom.IsNotFound(err))
	assert.ErrorIs(t, err, loom.ErrNotFound)
	var nf *loom.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Post", nf.Label())

	_, err = m.CreateQueryBuilder("Post", "post").Where("post.id = 42").GetOneOrFail(ctx)
	assert.True(t, loom.IsNotFound(err))
}

func TestTakeAcrossManyToManyJoin(t *testing.T) {
	m, rec := openBlog(t)
	ctx := context.Background()
	names := func(e *hydrate.Entity) []any { return valuesOf(e.RelatedMany("categories"), "name") }

	posts, err := m.Find(ctx, "Post", find.Options{
		Relations:            []string{"categories"},
		RelationLoadStrategy: find.LoadByJoin,
		Order:                find.Order{find.By("id")},
		Take:                 2,
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, idsOf(posts))
	assert.ElementsMatch(t, []any{"go", "db", "web"}, names(posts[0]))
	assert.ElementsMatch(t, []any{"db", "web", "ops"}, names(posts[1]))

	stmts := rec.all()
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], `SELECT DISTINCT "distinctAlias"."Post_id" AS "ids_Post_id", "distinctAlias"."order_0" AS "o_order_0" FROM (`), stmts[0])
	assert.True(t, strings.HasSuffix(stmts[0], `ORDER BY "o_order_0" ASC, "ids_Post_id" ASC LIMIT 2`), stmts[0])
	assert.Contains(t, stmts[1], `"Post"."id" IN (1, 2)`)
	assert.NotContains(t, stmts[1], "LIMIT")

	posts, err = m.Find(ctx, "Post", find.Options{
		Relations:            []string{"categories"},
		RelationLoadStrategy: find.LoadByJoin,
		Order:                find.Order{find.By("id")},
		Skip:                 1,
		Take:                 2,
	})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, idsOf(posts))
	assert.Equal(t, []any{"go"}, names(posts[1]))
}

func TestTakeOrderedByJoinedColumn(t *testing.T) {
	m, rec := openBlog(t)
	posts, err := m.Find(context.Background(), "Post", find.Options{
		Relations:            []string{"categories"},
		RelationLoadStrategy: find.LoadByJoin,
		Order:                find.Order{find.ByDesc("categories.name")},
		Take:                 3,
	})
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.ElementsMatch(t, []int64{1, 2}, idsOf(posts[:2]))
	assert.Equal(t, int64(3), posts[2].Get("id"))
	for _, p := range posts {
		var want []any
		switch p.Get("id") {
		case int64(1):
			want = []any{"web", "go", "db"}
		case int64(2):
			want = []any{"web", "ops", "db"}
		default:
			want = []any{"go"}
		}
		assert.Equal(t, want, valuesOf(p.RelatedMany("categories"), "name"))
	}
	stmts := rec.all()
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], `MAX("distinctAlias"."order_0") AS "o_order_0"`)
	assert.Contains(t, stmts[0], `GROUP BY "distinctAlias"."Post_id" ORDER BY "o_order_0" DESC`)
}

func TestLoadRelationsByQuery(t *testing.T) {
	m, rec := openBlog(t)
	ctx := context.Background()

	posts, err := m.Find(ctx, "Post", find.Options{
		Relations: []string{"author", "categories", "comments"},
		Order:     find.Order{find.By("id"), find.ByDesc("categories.name")},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 5}, idsOf(posts))
	assert.Len(t, rec.all(), 4)

	p1, p5 := posts[0], posts[3]
	require.NotNil(t, p1.Related("author"))
	assert.Equal(t, "Ann", p1.Related("author").Get("name"))
	assert.Equal(t, []any{"web", "go", "db"}, valuesOf(p1.RelatedMany("categories"), "name"))
	assert.ElementsMatch(t, []any{"nice", "thanks"}, valuesOf(p1.RelatedMany("comments"), "body"))
	assert.Equal(t, "Bob", posts[1].Related("author").Get("name"))
	assert.Empty(t, posts[2].RelatedMany("comments"))

	assert.Nil(t, p5.Related("author"))
	assert.Contains(t, p5.Relations(), "author")
	assert.Empty(t, p5.RelatedMany("categories"))

	for _, stmt := range rec.all()[1:] {
		assert.Contains(t, stmt, "__link_0")
	}
}

func TestLoadNestedRelations(t *testing.T) {
	for _, strategy := range []find.RelationLoadStrategy{find.LoadByQuery, find.LoadByJoin} {
		t.Run(string(strategy), func(t *testing.T) {
			m, _ := openBlog(t, WithRelationLoadStrategy(strategy))
			comments, err := m.Find(context.Background(), "Comment", find.Options{
				Relations: []string{"post.author", "post.categories"},
				Order:     find.Order{find.By("id")},
			})
			require.NoError(t, err)
			require.Equal(t, []int64{1, 2, 3}, idsOf(comments))
			for i, want := range []string{"Ann", "Ann", "Bob"} {
				post := comments[i].Related("post")
				require.NotNil(t, post)
				require.NotNil(t, post.Related("author"))
				assert.Equal(t, want, post.Related("author").Get("name"))
				assert.Len(t, post.RelatedMany("categories"), 3)
			}
		})
	}
}

func TestRelatedSoftDelete(t *testing.T) {
	for _, strategy := range []find.RelationLoadStrategy{find.LoadByQuery, find.LoadByJoin} {
		t.Run(string(strategy), func(t *testing.T) {
			m, _ := openBlog(t)
			users, err := m.Find(context.Background(), "User", find.Options{
				Relations:            []string{"posts"},
				RelationLoadStrategy: strategy,
				Order:                find.Order{find.By("id")},
			})
			require.NoError(t, err)
			require.Equal(t, []int64{1, 2, 3}, idsOf(users))
			assert.Equal(t, []any{"Go"}, valuesOf(users[0].RelatedMany("posts"), "title"))

			users, err = m.Find(context.Background(), "User", find.Options{
				Relations:            []string{"posts"},
				RelationLoadStrategy: strategy,
				Where:                find.Where{"id": 1},
				WithDeleted:          true,
			})
			require.NoError(t, err)
			require.Len(t, users, 1)
			assert.ElementsMatch(t, []any{"Go", "Old"}, valuesOf(users[0].RelatedMany("posts"), "title"))
		})
	}
}

func TestCount(t *testing.T) {
	m, _ := openBlog(t)
	ctx := context.Background()

	n, err := m.Count(ctx, "Post", find.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = m.Count(ctx, "Post", find.Options{WithDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = m.CountBy(ctx, "Post", find.Where{"author": find.Where{"country": "US"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	posts, n, err := m.FindAndCount(ctx, "Post", find.Options{
		Relations:            []string{"categories"},
		RelationLoadStrategy: find.LoadByJoin,
		Order:                find.Order{find.By("id")},
		Take:                 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, idsOf(posts))
	assert.Equal(t, int64(4), n)
}

func TestCountCompositeKey(t *testing.T) {
	m, _ := openBlog(t)
	ctx := context.Background()

	n, err := m.Count(ctx, "Reaction", find.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = m.CreateQueryBuilder("Reaction", "r").
		LeftJoin("comment", "c", "c.post_id = r.postId").
		GetCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	rows, err := m.CreateQueryBuilder("Reaction", "r").
		LeftJoin("comment", "c", "c.post_id = r.postId").
		GetRawMany(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestRawResults(t *testing.T) {
	m, _ := openBlog(t)
	ctx := context.Background()
	b := func() *SelectQueryBuilder {
		return m.CreateQueryBuilder("Post", "post").
			Select("post.title").
			Where("post.views >= :v", Params{"v": 20}).
			OrderBy("post.id", find.Asc)
	}

	rows, err := b().GetRawMany(ctx)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"post_title": "SQL"}, {"post_title": "ORM"}}, rows)

	row, err := b().GetRawOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"post_title": "SQL"}, row)

	row, err = b().AndWhere("post.views > 100").GetRawOne(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)

	raw, posts, err := b().GetRawAndEntities(ctx)
	require.NoError(t, err)
	assert.Len(t, raw, 2)
	assert.Equal(t, []any{"SQL", "ORM"}, valuesOf(posts, "title"))
	assert.Equal(t, int64(2), raw[0]["post_id"], "entity statements select primary keys")
}

func TestJoinAndMap(t *testing.T) {
	m, _ := openBlog(t)
	users, err := m.CreateQueryBuilder("User", "u").
		LeftJoinAndMapMany("u.popular", "Post", "p", "p.author = u.id AND p.views >= 20").
		InnerJoinAndMapOne("u.first", "Post", "f", "f.author = u.id", "f.version = 1", "f.deletedAt IS NULL").
		OrderBy("u.id", find.Asc).
		GetMany(context.Background())
	require.NoError(t, err)
	// Bob only wrote a post at version 2.
	require.Equal(t, []int64{1, 3}, idsOf(users))
	assert.Empty(t, users[0].RelatedMany("popular"))
	assert.Equal(t, "Go", users[0].Related("first").Get("title"))
	assert.Equal(t, []any{"ORM"}, valuesOf(users[1].RelatedMany("popular"), "title"))
	assert.Equal(t, "ORM", users[1].Related("first").Get("title"))
}

func TestSideLoads(t *testing.T) {
	m, rec := openBlog(t)
	posts, err := m.CreateQueryBuilder("Post", "post").
		LoadRelationIDAndMap("post.categoryIds", "post.categories").
		LoadRelationIDAndMap("post.authorId", "post.author").
		LoadRelationCountAndMap("post.commentCount", "post.comments").
		LoadRelationCountAndMap("post.goCount", "post.categories",
			LoadAlias("cat"),
			LoadFilter(func(qb *SelectQueryBuilder) {
				qb.Where("cat.name = :name", Params{"name": "go"})
			})).
		OrderBy("post.id", find.Asc).
		GetMany(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 5}, idsOf(posts))
	// The author ids come from the foreign key of the posts.
	assert.Len(t, rec.all(), 4)

	assert.ElementsMatch(t, []any{int64(1), int64(2), int64(3)}, posts[0].Get("categoryIds"))
	assert.Equal(t, []any{}, posts[3].Get("categoryIds"))
	assert.Equal(t, int64(1), posts[0].Get("authorId"))
	assert.Nil(t, posts[3].Get("authorId"))
	assert.Equal(t, []any{int64(2), int64(1), int64(0), int64(0)}, valuesOf(posts, "commentCount"))
	assert.Equal(t, []any{int64(1), int64(0), int64(1), int64(0)}, valuesOf(posts, "goCount"))
}

func TestSideLoadMixedMap(t *testing.T) {
	m, _ := openBlog(t)
	posts, err := m.CreateQueryBuilder("Post", "post").
		LoadRelationIDAndMap("post.commentIds", "post.comments", DisableMixedMap()).
		Where(find.Where{"id": 2}).
		GetMany(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, []any{map[string]any{"id": int64(3)}}, posts[0].Get("commentIds"))

	posts, err = m.Find(context.Background(), "Post", find.Options{
		Where:           find.Where{"id": 3},
		LoadRelationIDs: &find.RelationIDOptions{Relations: []string{"categories"}},
	})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, []any{int64(1)}, posts[0].Get("categories"))

	_, err = m.CreateQueryBuilder("Post", "post").LoadRelationCountAndMap("post.n", "post.author").GetMany(context.Background())
	require.Error(t, err)
	assert.True(t, loom.IsUnsupportedOperation(err))
	_, err = m.CreateQueryBuilder("Post", "post").LoadRelationIDAndMap("x.n", "post.author").GetMany(context.Background())
	require.Error(t, err)
}

func TestOptimisticLock(t *testing.T) {
	m, _ := openBlog(t)
	ctx := context.Background()

	p, err := m.CreateQueryBuilder("Post", "post").
		Where(find.Where{"id": 2}).
		SetLock(loom.LockOptimistic, 2).
		GetOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SQL", p.Get("title"))

	_, err = m.FindOne(ctx, "Post", find.Options{
		Where: find.Where{"id": 2},
		Lock:  &find.LockOptions{Mode: loom.LockOptimistic, Version: 1},
	})
	require.Error(t, err)
	assert.True(t, loom.IsOptimisticLockMismatch(err))

	_, err = m.CreateQueryBuilder("Comment", "c").SetLock(loom.LockOptimistic, 1).GetOne(ctx)
	assert.ErrorIs(t, err, loom.ErrNoVersionColumn)
}

func TestPessimisticLockUnsupported(t *testing.T) {
	m, _ := openBlog(t)
	ctx := context.Background()
	err := m.Transaction(ctx, func(tx *Manager) error {
		_, err := tx.CreateQueryBuilder("Post", "post").SetLock(loom.LockPessimisticWrite).GetMany(ctx)
		return err
	})
	require.ErrorIs(t, err, loom.ErrLockNotSupported)

	err = m.Transaction(ctx, func(tx *Manager) error {
		n, err := tx.Count(ctx, "Post", find.Options{})
		assert.Equal(t, int64(4), n)
		return err
	})
	require.NoError(t, err)
}

func TestSubscribers(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	sub := SubscriberFunc(func(_ context.Context, e *schema.Entity, es []*hydrate.Entity) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, e.Name)
		if len(es) == 0 {
			return errors.New("empty batch")
		}
		return nil
	})
	m, _ := openBlog(t, WithSubscribers(sub))
	ctx := context.Background()

	_, err := m.Find(ctx, "Post", find.Options{Relations: []string{"categories", "author"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Post"}, calls)

	_, err = m.Find(ctx, "Post", find.Options{SkipListeners: true})
	require.NoError(t, err)
	_, err = m.FindBy(ctx, "Post", find.Where{"title": "nope"})
	require.NoError(t, err)
	assert.Len(t, calls, 1)

	failing, _ := openBlog(t, WithSubscribers(SubscriberFunc(func(context.Context, *schema.Entity, []*hydrate.Entity) error {
		return assert.AnError
	})))
	_, err = failing.Find(ctx, "Post", find.Options{})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestResultCache(t *testing.T) {
	rc := cache.NewMemory()
	m, rec := openBlog(t, WithCache(rc))
	ctx := context.Background()
	b := func() *SelectQueryBuilder {
		return m.CreateQueryBuilder("Post", "post").OrderBy("post.id", find.Asc).CacheWithID("posts", time.Minute)
	}

	first, err := b().GetMany(ctx)
	require.NoError(t, err)
	require.Len(t, rec.all(), 1)
	second, err := b().GetMany(ctx)
	require.NoError(t, err)
	assert.Len(t, rec.all(), 1, "served from cache")
	assert.Equal(t, valuesOf(first, "title"), valuesOf(second, "title"))
	assert.Equal(t, idsOf(first), idsOf(second))

	require.NoError(t, m.RemoveCache(ctx, "posts"))
	assert.Zero(t, rc.Len())
	_, err = b().GetMany(ctx)
	require.NoError(t, err)
	assert.Len(t, rec.all(), 2)

	// Uncached queries always run.
	rec.reset()
	for range 2 {
		_, err = m.Count(ctx, "Post", find.Options{})
		require.NoError(t, err)
	}
	assert.Len(t, rec.all(), 2)
}

func TestResultCachePagination(t *testing.T) {
	rc := cache.NewMemory()
	m, rec := openBlog(t, WithCache(rc))
	ctx := context.Background()
	opts := find.Options{
		Relations:            []string{"categories"},
		RelationLoadStrategy: find.LoadByJoin,
		Order:                find.Order{find.By("id")},
		Take:                 2,
		Cache:                &find.CacheOptions{ID: "page", Duration: time.Minute},
	}
	for range 2 {
		posts, n, err := m.FindAndCount(ctx, "Post", opts)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, idsOf(posts))
		assert.Len(t, posts[0].RelatedMany("categories"), 3)
		assert.Equal(t, int64(4), n)
	}
	assert.Len(t, rec.all(), 3)
	assert.Equal(t, 3, rc.Len())
	require.NoError(t, m.RemoveCache(ctx, "page"))
	assert.Zero(t, rc.Len())
}

func TestResultCacheInDatabase(t *testing.T) {
	rc, err := cache.NewDB(sql.OpenDB(dialect.SQLite, openSQLite(t)))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, rc.Synchronize(ctx))

	m, rec := openBlog(t, WithCache(rc), WithCacheAlwaysEnabled(), WithCacheDuration(time.Minute))
	for range 2 {
		n, err := m.Count(ctx, "Post", find.Options{})
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
		posts, err := m.Find(ctx, "Post", find.Options{Relations: []string{"author"}, Order: find.Order{find.By("id")}})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3, 5}, idsOf(posts))
		assert.Equal(t, "Ann", posts[0].Related("author").Get("name"))
	}
	assert.Len(t, rec.all(), 3)

	require.NoError(t, rc.Clear(ctx))
	_, err = m.Count(ctx, "Post", find.Options{})
	require.NoError(t, err)
	assert.Len(t, rec.all(), 4)
}

func TestInterceptorsWrapInOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	tag := func(name string) Interceptor {
		return InterceptFunc(func(next Querier) Querier {
			return QuerierFunc(func(ctx context.Context, c *Compiled) ([]map[string]any, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return next.Query(ctx, c)
			})
		})
	}
	m, _ := openBlog(t, WithInterceptors(tag("outer"), tag("inner")))
	_, err := m.Count(context.Background(), "Post", find.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)

	failing, _ := openBlog(t, WithInterceptors(InterceptFunc(func(Querier) Querier {
		return QuerierFunc(func(context.Context, *Compiled) ([]map[string]any, error) {
			return nil, assert.AnError
		})
	})))
	_, err = failing.Find(context.Background(), "Post", find.Options{})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestExecutionErrors(t *testing.T) {
	m, _ := openBlog(t)
	_, err := m.CreateQueryBuilder("Post", "post").Where("post.nope = 1").GetMany(context.Background())
	require.Error(t, err)
	assert.True(t, loom.IsQueryExecution(err))
	var qe *loom.QueryExecutionError
	require.True(t, errors.As(err, &qe))
	assert.Contains(t, qe.SQL, "post.nope = 1")
}

func TestDecodeEntities(t *testing.T) {
	m, _ := openBlog(t)
	posts, err := m.Find(context.Background(), "Post", find.Options{
		Relations: []string{"author"},
		Where:     find.Where{"id": find.In(1, 2)},
		Order:     find.Order{find.By("id")},
	})
	require.NoError(t, err)
	type user struct {
		Name    string `mapstructure:"name"`
		Country string `mapstructure:"country"`
	}
	type post struct {
		ID     int64  `mapstructure:"id"`
		Title  string `mapstructure:"title"`
		Views  int    `mapstructure:"views"`
		Author *user  `mapstructure:"author"`
	}
	var out []post
	require.NoError(t, hydrate.DecodeAll(posts, &out))
	require.Len(t, out, 2)
	assert.Equal(t, post{ID: 1, Title: "Go", Views: 10, Author: &user{Name: "Ann", Country: "US"}}, out[0])
	assert.Equal(t, "Bob", out[1].Author.Name)
}
