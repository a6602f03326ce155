package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/syssam/loom"
)

type stateErr string

func (e stateErr) Error() string    { return "state " + string(e) }
func (e stateErr) SQLState() string { return string(e) }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"pq/nowait", &pq.Error{Code: "55P03", Message: "could not obtain lock on row"}, loom.ErrLockNotAvailable},
		{"pq/deadlock", &pq.Error{Code: "40P01"}, loom.ErrConcurrentUpdate},
		{"pq/serialization", fmt.Errorf("wrapped: %w", &pq.Error{Code: "40001"}), loom.ErrConcurrentUpdate},
		{"pq/unique", &pq.Error{Code: "23505"}, nil},
		{"mysql/nowait", &mysql.MySQLError{Number: 3572, Message: "Statement aborted because lock(s) could not be acquired"}, loom.ErrLockNotAvailable},
		{"mysql/timeout", &mysql.MySQLError{Number: 1205}, loom.ErrLockNotAvailable},
		{"mysql/deadlock", &mysql.MySQLError{Number: 1213}, loom.ErrConcurrentUpdate},
		{"sqlstate", stateErr("40P01"), loom.ErrConcurrentUpdate},
		{"sqlite/busy", errors.New("database is locked (5) (SQLITE_BUSY)"), loom.ErrLockNotAvailable},
		{"nil", nil, nil},
		{"other", errors.New("syntax error"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
	assert.True(t, IsSerializationFailure(&pq.Error{Code: "40001"}))
	assert.False(t, IsSerializationFailure(nil))
	assert.True(t, IsDeadlock(errors.New("ERROR: deadlock detected")))
}
