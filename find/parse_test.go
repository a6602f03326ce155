package find

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/syssam/loom"
)

func TestParseWhere(t *testing.T) {
	c, err := ParseWhere(map[string]any{
		"title":  map[string]any{"$like": "%go%"},
		"views":  map[string]any{"$moreThan": 10},
		"author": map[string]any{"country": "US", "age": map[string]any{"$between": []any{18, 30}}},
		"status": map[string]any{"$not": map[string]any{"$in": []any{"draft", "deleted"}}},
		"tags":   []any{map[string]any{"name": "go"}, map[string]any{"name": "sql"}},
		"note":   nil,
	})
	require.NoError(t, err)
	w, ok := c.(Where)
	require.True(t, ok)
	assert.Equal(t, []string{"author", "note", "status", "tags", "title", "views"}, w.Keys())

	like := w["title"].(*Operator)
	assert.Equal(t, KindLike, like.Kind())
	assert.Equal(t, "%go%", like.Value())
	assert.Equal(t, KindMoreThan, w["views"].(*Operator).Kind())

	author := w["author"].(Where)
	assert.Equal(t, "US", author["country"])
	assert.Equal(t, []any{18, 30}, author["age"].(*Operator).Values())

	not := w["status"].(*Operator)
	assert.Equal(t, KindNot, not.Kind())
	assert.Equal(t, []any{"draft", "deleted"}, not.Values())

	assert.Equal(t, Or{{"name": "go"}, {"name": "sql"}}, w["tags"])
	assert.Nil(t, w["note"])
}

func TestParseWhereList(t *testing.T) {
	c, err := ParseWhere([]any{map[string]any{"id": 1}, map[string]any{"id": 2}})
	require.NoError(t, err)
	assert.Equal(t, Or{{"id": 1}, {"id": 2}}, c)

	_, err = ParseWhere([]any{"id"})
	require.Error(t, err)
	_, err = ParseWhere(map[string]any{"id": map[string]any{"$nope": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown operator "$nope"`)
	_, err = ParseWhere(42)
	require.Error(t, err)

	c, err = ParseWhere(nil)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder([]any{
		"title desc",
		map[string]any{"author": map[string]any{"name": "ASC"}},
		map[string]any{"views": map[string]any{"direction": -1, "nulls": "last"}},
		"id",
	})
	require.NoError(t, err)
	assert.Equal(t, Order{
		{Path: "title", Direction: Desc},
		{Path: "author.name", Direction: Asc},
		{Path: "views", Direction: Desc, Nulls: NullsLast},
		{Path: "id", Direction: Asc},
	}, o)

	o, err = ParseOrder(map[string]any{"b": "desc", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, Order{By("a"), ByDesc("b")}, o)
}

const documentYAML = `
select: [id, title]
where:
  author: {country: US}
  title: {$like: "%go%"}
relations: [categories]
join:
  alias: post
  left_join_and_select:
    profile: author.profile
    author: post.author
order:
  - {title: desc}
skip: 5
take: 10
cache: {id: posts, duration: 5s}
lock: {mode: pessimistic_read}
load_relation_ids: true
with_deleted: true
load_eager_relations: false
relation_load_strategy: join
`

func TestDecode(t *testing.T) {
	var input map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(documentYAML), &input))
	opts, err := Decode(input)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "title"}, opts.Select)
	assert.Equal(t, []string{"categories"}, opts.Relations)
	assert.Equal(t, Order{ByDesc("title")}, opts.Order)
	assert.Equal(t, 5, opts.Skip)
	assert.Equal(t, 10, opts.Take)
	assert.Equal(t, &CacheOptions{ID: "posts", Duration: 5 * time.Second}, opts.Cache)
	assert.Equal(t, loom.LockPessimisticRead, opts.Lock.Mode)
	assert.Equal(t, &RelationIDOptions{}, opts.LoadRelationIDs)
	assert.True(t, opts.WithDeleted)
	assert.True(t, opts.DisableEagerRelations)
	assert.False(t, opts.SkipListeners)
	assert.Equal(t, LoadByJoin, opts.RelationLoadStrategy)

	require.NotNil(t, opts.Join)
	assert.Equal(t, "post", opts.Join.Alias)
	assert.Equal(t, []JoinSpec{
		LeftJoinAndSelect("post.author", "author"),
		LeftJoinAndSelect("author.profile", "profile"),
	}, opts.Join.Joins)

	w := opts.Where.(Where)
	assert.Equal(t, Where{"country": "US"}, w["author"])
	require.NoError(t, opts.Validate())
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(map[string]any{"tkae": 1})
	require.Error(t, err)
	_, err = Decode(map[string]any{"relation_load_strategy": "eager"})
	require.Error(t, err)
	_, err = Decode(map[string]any{"cache": "soon"})
	require.Error(t, err)

	opts, err := Decode(map[string]any{"cache": 250, "pagination": false})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, opts.Cache.Duration)
	assert.True(t, opts.DisablePagination)

	assert.Error(t, Options{Take: -1}.Validate())
	assert.Error(t, Options{Lock: &LockOptions{Mode: "exclusive"}}.Validate())
}
