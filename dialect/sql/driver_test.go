package sql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/dialect"
)

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{dialect.Postgres, dialect.Postgres},
		{"pgx", dialect.Postgres},
		{dialect.MySQL, dialect.MySQL},
		{"sqlite3", dialect.SQLite},
		{dialect.CockroachDB, dialect.CockroachDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv := OpenDB(tt.name, db)
			assert.Equal(t, tt.want, drv.Dialect())
			s, err := drv.Strategy()
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Name())
		})
	}
}

func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	t.Run("ScanMaps", func(t *testing.T) {
		created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		mock.ExpectQuery(`SELECT "post"."id" AS "post_id"`).
			WithArgs("go").
			WillReturnRows(sqlmock.NewRows([]string{"post_id", "post_title", "post_created"}).
				AddRow(1, []byte("Hello"), created).
				AddRow(2, nil, created))
		rows := &Rows{}
		err := drv.Query(context.Background(), `SELECT "post"."id" AS "post_id" FROM "post" WHERE "post"."tag" = $1`, []any{"go"}, rows)
		require.NoError(t, err)
		records, err := ScanMaps(rows)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.EqualValues(t, 1, records[0]["post_id"])
		assert.Equal(t, []byte("Hello"), records[0]["post_title"])
		assert.Nil(t, records[1]["post_title"])
		assert.Equal(t, created, records[1]["post_created"])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("database error"))
		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT", []any{}, rows)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dialect/sql: query")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InvalidArgs", func(t *testing.T) {
		err := drv.Query(context.Background(), "SELECT", "nope", &Rows{})
		require.Error(t, err)
		err = drv.Query(context.Background(), "SELECT", []any{}, nil)
		require.Error(t, err)
	})
}

func TestDriverTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectRollback()

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	rows := &Rows{}
	require.NoError(t, tx.Query(context.Background(), "SELECT id FROM users FOR UPDATE", []any{}, rows))
	records, err := ScanMaps(rows)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)
	drv := OpenDB(dialect.SQLite, db)

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(1))
	mock.ExpectQuery("SELECT 2").WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(2))

	s, err := drv.Session(context.Background())
	require.NoError(t, err)
	for _, q := range []string{"SELECT 1", "SELECT 2"} {
		rows := &Rows{}
		require.NoError(t, s.Query(context.Background(), q, []any{}, rows))
		_, err := ScanMaps(rows)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}
