package sql

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom"
	"github.com/syssam/loom/dialect"
)

func TestVarsContext(t *testing.T) {
	ctx := WithVar(context.Background(), "search_path", "a")
	ctx = WithIntVar(ctx, "statement_timeout", 10)
	ctx = WithVar(ctx, "search_path", "b")
	assert.Equal(t, []Var{{"statement_timeout", "10"}, {"search_path", "b"}}, VarsFromContext(ctx))
	v, ok := VarFromContext(ctx, "statement_timeout")
	require.True(t, ok)
	assert.Equal(t, "10", v)
	_, ok = VarFromContext(ctx, "lock_timeout")
	assert.False(t, ok)

	ctx = WithVars(context.Background(), map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, []Var{{"a", "1"}, {"b", "2"}}, VarsFromContext(ctx))
}

func TestVarsPooledConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)
	drv := OpenDB(dialect.Postgres, db)
	ctx := WithVar(context.Background(), "search_path", "tenant")

	mock.ExpectExec("SET search_path = 'tenant'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("RESET search_path").WillReturnResult(sqlmock.NewResult(0, 0))
	rows := &Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close(), "closing the rows resets the variables and releases the connection")

	mock.ExpectExec("SET search_path = 'tenant'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM cache").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RESET search_path").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, drv.Exec(ctx, "DELETE FROM cache", []any{}, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVarsTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.MySQL, db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET time_zone = 'it''s'`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("SET time_zone = DEFAULT")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	rows := &Rows{}
	require.NoError(t, tx.Query(WithVar(context.Background(), "time_zone", "it's"), "SELECT 1", []any{}, rows))
	_, err = ScanMaps(rows)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVarsSetFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	mock.ExpectExec("SET a = '1'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET b = '2'").WillReturnError(assert.AnError)
	mock.ExpectExec("RESET a").WillReturnResult(sqlmock.NewResult(0, 0))
	ctx := WithVars(context.Background(), map[string]string{"a": "1", "b": "2"})
	err = drv.Query(ctx, "SELECT 1", []any{}, &Rows{})
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "set b")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVarsRejected(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = OpenDB(dialect.Postgres, db).Exec(WithVar(context.Background(), "bad name", "x"), "SELECT 1", []any{}, nil)
	assert.ErrorContains(t, err, `invalid session variable name "bad name"`)

	err = OpenDB(dialect.SQLite, db).Exec(WithVar(context.Background(), "foreign_keys", "on"), "SELECT 1", []any{}, nil)
	assert.ErrorIs(t, err, loom.ErrSessionVarsNotSupported)
}

func TestValidateVars(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		vars    map[string]string
		wantErr string
	}{
		{name: "empty", dialect: dialect.SQLite},
		{name: "postgres", dialect: "pgx", vars: map[string]string{"search_path": "app", "app.tenant_id": "7"}},
		{name: "mysql", dialect: dialect.MySQL, vars: map[string]string{"time_zone": "+00:00"}},
		{name: "sqlite", dialect: dialect.SQLite, vars: map[string]string{"foreign_keys": "on"}, wantErr: "not supported"},
		{name: "leading digit", dialect: dialect.Postgres, vars: map[string]string{"1x": ""}, wantErr: "invalid session variable name"},
		{name: "quote", dialect: dialect.Postgres, vars: map[string]string{"a'b": ""}, wantErr: "invalid session variable name"},
		{name: "statement", dialect: dialect.Postgres, vars: map[string]string{"a;DROP TABLE": ""}, wantErr: "invalid session variable name"},
		{name: "too long", dialect: dialect.Postgres, vars: map[string]string{"a" + string(make([]byte, 128)): ""}, wantErr: "invalid session variable name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVars(tt.dialect, tt.vars)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestMySQLLiteral(t *testing.T) {
	assert.Equal(t, `'plain'`, mysqlLiteral("plain"))
	assert.Equal(t, `'it''s'`, mysqlLiteral("it's"))
	assert.Equal(t, `'a\\b'`, mysqlLiteral(`a\b`))
}
