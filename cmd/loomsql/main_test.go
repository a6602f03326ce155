package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const library = `
entities:
  - name: Author
    table: author
    columns:
      - {property: id, type: int, primary: true}
      - {property: name}
    relations:
      - {property: books, type: one-to-many, target: Book, inverse_side: author}
  - name: Book
    table: book
    columns:
      - {property: id, type: int, primary: true}
      - {property: title}
    relations:
      - {property: author, type: many-to-one, target: Author}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs the root command with args and stdin, returning stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "loomsql", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"render", "find", "entities"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for flag, short := range map[string]string{"config": "c", "schema": "s", "dialect": "d", "verbose": "v"} {
		f := cmd.PersistentFlags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, short, f.Shorthand)
	}
	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "", "entities", "--format", "xml")
	assert.ErrorContains(t, err, `invalid format "xml"`)
}

func TestNoSchema(t *testing.T) {
	_, err := execute(t, "", "render", "Book")
	assert.ErrorContains(t, err, "no schema")
}

func TestRender(t *testing.T) {
	schemaPath := writeFile(t, t.TempDir(), "library.yaml", library)

	out, err := execute(t, "where: {title: Dune}\n", "render", "Book", "-", "-s", schemaPath)
	require.NoError(t, err)
	assert.Contains(t, out, `FROM "book" "Book" WHERE`)
	assert.Contains(t, out, `"Book"."title" = $1`)
	assert.Contains(t, out, "-- args: [Dune]")

	out, err = execute(t, "where: {title: Dune}\n", "render", "Book", "-", "-s", schemaPath, "-d", "mysql", "--count")
	require.NoError(t, err)
	assert.Contains(t, out, "`Book`.`title` = ?")
	assert.Contains(t, out, "SELECT COUNT(DISTINCT(`Book`.`id`)) AS `cnt` FROM `book` `Book`")
}

func TestRenderJSON(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "library.yaml", library)
	findPath := writeFile(t, dir, "find.yaml", "where: {id: 1}\ntake: 5\n")

	out, err := execute(t, "", "render", "Book", findPath, "-s", schemaPath, "-d", "sqlite", "--format", "json")
	require.NoError(t, err)
	var res RenderResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "sqlite", res.Dialect)
	assert.Contains(t, res.Find.SQL, `"Book"."id" = ?`)
	assert.True(t, strings.HasSuffix(res.Find.SQL, "LIMIT 5"), res.Find.SQL)
	assert.Nil(t, res.Count)
}

func TestRenderErrors(t *testing.T) {
	schemaPath := writeFile(t, t.TempDir(), "library.yaml", library)

	_, err := execute(t, "", "render", "Shelf", "-s", schemaPath)
	assert.ErrorContains(t, err, `unknown entity "Shelf"`)

	_, err = execute(t, "limit: 3\n", "render", "Book", "-", "-s", schemaPath)
	assert.ErrorContains(t, err, "limit")

	_, err = execute(t, "", "render", "Book", "-s", schemaPath, "-d", "db2")
	assert.Error(t, err)
}

func TestEntities(t *testing.T) {
	schemaPath := writeFile(t, t.TempDir(), "library.yaml", library)

	out, err := execute(t, "", "entities", "-s", schemaPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Book (book)")
	assert.Contains(t, out, "many-to-one -> Author owner")

	out, err = execute(t, "", "entities", "-s", schemaPath, "--format", "json")
	require.NoError(t, err)
	var infos []EntityInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 2)
	var book EntityInfo
	for _, info := range infos {
		if info.Name == "Book" {
			book = info
		}
	}
	require.Equal(t, "book", book.Table)
	var fk *ColumnInfo
	for i, c := range book.Columns {
		if c.Name == "author_id" {
			fk = &book.Columns[i]
		}
	}
	require.NotNil(t, fk, "registry adds the foreign key column")
	assert.Empty(t, fk.Property)
	assert.Contains(t, fk.Flags, "virtual")
}

// libraryConfig creates a seeded sqlite database and a configuration using it.
func libraryConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "library.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`
CREATE TABLE author (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE book (id INTEGER PRIMARY KEY, title TEXT, author_id INTEGER);
INSERT INTO author VALUES (1, 'Herbert'), (2, 'Le Guin');
INSERT INTO book VALUES (1, 'Dune', 1), (2, 'Children of Dune', 1), (3, 'The Dispossessed', 2);
`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	writeFile(t, dir, "library.yaml", library)
	return writeFile(t, dir, "loom.yaml", "dialect: sqlite\ndsn: "+dbPath+"\nschema: library.yaml\npool: {max_open: 1}\n")
}

func TestFind(t *testing.T) {
	cfgPath := libraryConfig(t)

	doc := "where: {title: {$like: '%Dune%'}}\nrelations: [author]\norder: {id: ASC}\ntake: 1\n"
	out, err := execute(t, doc, "find", "Book", "-", "-c", cfgPath, "--count", "--format", "json")
	require.NoError(t, err)
	var res FindResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "Book", res.Entity)
	require.NotNil(t, res.Count)
	assert.Equal(t, int64(2), *res.Count)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "Dune", res.Entities[0]["title"])
	author, ok := res.Entities[0]["author"].(map[string]any)
	require.True(t, ok, "author is loaded")
	assert.Equal(t, "Herbert", author["name"])

	out, err = execute(t, "", "find", "Author", "-c", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Author"), out)
	assert.Contains(t, out, "Le Guin")
}

func TestFindNeedsConfig(t *testing.T) {
	schemaPath := writeFile(t, t.TempDir(), "library.yaml", library)
	_, err := execute(t, "", "find", "Book", "-s", schemaPath)
	assert.ErrorContains(t, err, "find needs a database")
}
