package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/loom/cache"
	"github.com/syssam/loom/find"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("dialect: postgres\n"), env(nil))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Dialect)
	assert.Equal(t, CacheMemory, cfg.Cache.Type)
	assert.Equal(t, time.Second, cfg.Cache.Duration)
	assert.Equal(t, cache.DefaultTable, cfg.Cache.Table)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100*time.Millisecond, cfg.Log.SlowThreshold)
	assert.Equal(t, string(find.LoadByQuery), cfg.RelationLoadStrategy)
}

func TestParse(t *testing.T) {
	doc := `
dialect: postgres
driver: pgx
dsn: ${DATABASE_URL}
pool: {max_open: 10, max_idle: 5, conn_max_lifetime: 30m}
cache:
  enabled: true
  type: database
  duration: 2s
  table: ${CACHE_TABLE:-results}
  synchronize: true
log: {level: debug, format: json, slow_threshold: 200ms, debug: true}
relation_load_strategy: join
session_vars: {search_path: blog, statement_timeout: 5s}
`
	cfg, err := Parse([]byte(doc), env(map[string]string{"DATABASE_URL": "postgres://localhost/blog"}))
	require.NoError(t, err)
	assert.Equal(t, "pgx", cfg.Driver)
	assert.Equal(t, "postgres://localhost/blog", cfg.DSN)
	assert.Equal(t, PoolConfig{MaxOpen: 10, MaxIdle: 5, ConnMaxLifetime: 30 * time.Minute}, cfg.Pool)
	assert.Equal(t, CacheConfig{Enabled: true, Type: CacheDatabase, Duration: 2 * time.Second, Table: "results", Synchronize: true}, cfg.Cache)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json", SlowThreshold: 200 * time.Millisecond, Debug: true}, cfg.Log)
	assert.Equal(t, "join", cfg.RelationLoadStrategy)
	assert.Equal(t, map[string]string{"search_path": "blog", "statement_timeout": "5s"}, cfg.SessionVars)
}

func TestInterpolateEnv(t *testing.T) {
	getenv := env(map[string]string{"A": "1", "EMPTY": ""})
	tests := map[string]string{
		"${A}":          "1",
		"x${A}y":        "x1y",
		"${B}":          "",
		"${B:-two}":     "two",
		"${EMPTY:-def}": "def",
		"${A:-ignored}": "1",
		"$A stays":      "$A stays",
		"${A} and ${A}": "1 and 1",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, string(interpolateEnv([]byte(in), getenv)))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{name: "missing dialect", doc: "dsn: x\n", want: []string{"dialect is required"}},
		{name: "unknown dialect", doc: "dialect: db2\n", want: []string{`unknown dialect "db2"`}},
		{
			name: "pool",
			doc:  "dialect: mysql\npool: {max_open: 2, max_idle: 3}\n",
			want: []string{"pool: max_idle 3 exceeds max_open 2"},
		},
		{
			name: "cache",
			doc:  "dialect: mysql\ncache: {type: redis, duration: -1s}\n",
			want: []string{`cache: unknown type "redis"`, "cache: duration must not be negative"},
		},
		{name: "cache table", doc: "dialect: mysql\ncache: {type: database, table: ''}\n", want: []string{"cache: table is required"}},
		{
			name: "log",
			doc:  "dialect: sqlite\nlog: {level: trace, format: xml}\n",
			want: []string{`log: invalid level "trace"`, `log: invalid format "xml"`},
		},
		{name: "session vars dialect", doc: "dialect: sqlite\nsession_vars: {foreign_keys: 'on'}\n", want: []string{"session_vars: ", "not supported"}},
		{name: "session vars name", doc: "dialect: postgres\nsession_vars: {'a; RESET ALL': x}\n", want: []string{`session_vars: dialect/sql: invalid session variable name "a; RESET ALL"`}},
		{name: "strategy", doc: "dialect: sqlite\nrelation_load_strategy: eager\n", want: []string{`relation_load_strategy must be query or join, got "eager"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), env(nil))
			require.Error(t, err)
			for _, want := range tt.want {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestParseUnknownKey(t *testing.T) {
	_, err := Parse([]byte("dialect: sqlite\ncache: {ttl: 1s}\n"), env(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field ttl not found")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dialect: sqlite\nschema: entities.yaml\n"), 0o600))
	cfg, err := Load(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.BaseDir)
	assert.Equal(t, filepath.Join(dir, "entities.yaml"), cfg.Schema)

	_, err = Load(filepath.Join(dir, "missing.yaml"), env(nil))
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)
	l.Info("hidden")
	l.Warn("shown", "n", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	LogConfig{Level: "DEBUG", Format: "text"}.Logger(&buf).Debug("statement")
	assert.Contains(t, buf.String(), "msg=statement")
}

const entities = `
entities:
  - name: Note
    table: note
    columns:
      - {property: id, type: int, primary: true}
      - {property: body}
`

func TestManager(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entities.yaml"), []byte(entities), 0o600))
	doc := `
dialect: sqlite
dsn: ":memory:"
schema: entities.yaml
pool: {max_open: 1}
cache: {enabled: true, always_enabled: true, duration: 1m}
log: {level: debug, debug: true}
`
	path := filepath.Join(dir, "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	cfg, err := Load(path, env(nil))
	require.NoError(t, err)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	var logs bytes.Buffer
	ctx := context.Background()
	m, drv, err := cfg.Manager(ctx, reg, cfg.Log.Logger(&logs))
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })

	_, err = drv.DB().ExecContext(ctx, "CREATE TABLE note (id INTEGER PRIMARY KEY, body TEXT); INSERT INTO note VALUES (1, 'a'), (2, 'b');")
	require.NoError(t, err)
	assert.NotNil(t, m.Cache())

	for range 2 {
		notes, err := m.Find(ctx, "Note", find.Options{Order: find.Order{find.By("id")}})
		require.NoError(t, err)
		require.Len(t, notes, 2)
		assert.Equal(t, "b", notes[1].Get("body"))
	}
	assert.Equal(t, int64(1), drv.QueryStats().Snapshot().Queries, "second find is served from cache")
	assert.Contains(t, logs.String(), "msg=statement")
}

func TestManagerDatabaseCache(t *testing.T) {
	cfg, err := Parse([]byte("dialect: sqlite\ndsn: ':memory:'\npool: {max_open: 1}\ncache: {enabled: true, type: database, synchronize: true}\n"), env(nil))
	require.NoError(t, err)
	reg, err := cfg.Registry()
	require.Error(t, err)
	assert.Nil(t, reg)

	ctx := context.Background()
	drv, err := cfg.Open(ctx, LogConfig{Level: "error"}.Logger(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	rc, err := cfg.ResultCache(ctx, drv)
	require.NoError(t, err)
	require.IsType(t, &cache.DB{}, rc)

	rows, err := drv.DB().QueryContext(ctx, `SELECT COUNT(*) FROM "query-result-cache"`)
	require.NoError(t, err)
	require.NoError(t, rows.Close())
}

func TestResultCacheDisabled(t *testing.T) {
	cfg := Defaults()
	rc, err := cfg.ResultCache(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, rc)

	cfg.Cache.Enabled = true
	rc, err = cfg.ResultCache(context.Background(), nil)
	require.NoError(t, err)
	assert.IsType(t, &cache.Memory{}, rc)
}

func TestOpenFailure(t *testing.T) {
	cfg := Defaults()
	cfg.Dialect, cfg.Driver = "postgres", "nope"
	_, err := cfg.Open(context.Background(), nil)
	assert.ErrorContains(t, err, "config: open nope")
}
