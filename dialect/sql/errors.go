package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/syssam/loom"
)

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by pgx and some MySQL drivers.
type sqlStateError interface {
	SQLState() string
}

// errorNumberer is an interface for database errors that provide numeric error codes.
type errorNumberer interface {
	Number() uint16
}

// PostgreSQL SQLSTATE codes for concurrency failures.
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

// MySQL error numbers for concurrency failures.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlLockNowait      = 3572
)

// IsLockNotAvailable reports if the error resulted from a row lock that
// could not be acquired, e.g. FOR UPDATE NOWAIT on a locked row.
func IsLockNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqlState(err); ok && code == pgLockNotAvailable {
		return true
	}
	if num, ok := errorNumber(err); ok && (num == mysqlLockNowait || num == mysqlLockWaitTimeout) {
		return true
	}
	return containsAny(err.Error(),
		"could not obtain lock", // Postgres
		"database is locked",    // SQLite
		"Lock request time out", // SQL Server
	)
}

// IsDeadlock reports if the error resulted from a detected deadlock.
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqlState(err); ok && code == pgDeadlockDetected {
		return true
	}
	if num, ok := errorNumber(err); ok && num == mysqlDeadlock {
		return true
	}
	return containsAny(err.Error(), "deadlock detected", "Deadlock found")
}

// IsSerializationFailure reports if the transaction could not be serialized.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	code, ok := sqlState(err)
	return ok && code == pgSerializationFailure
}

// Classify returns the loom sentinel matching a driver error, or nil.
func Classify(err error) error {
	switch {
	case IsLockNotAvailable(err):
		return loom.ErrLockNotAvailable
	case IsDeadlock(err), IsSerializationFailure(err):
		return loom.ErrConcurrentUpdate
	default:
		return nil
	}
}

func sqlState(err error) (string, bool) {
	if e, ok := asError[*pq.Error](err); ok {
		return string(e.Code), true
	}
	if e, ok := asError[*mysql.MySQLError](err); ok && e.SQLState != [5]byte{} {
		return string(e.SQLState[:]), true
	}
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState(), true
	}
	return "", false
}

func errorNumber(err error) (uint16, bool) {
	if e, ok := asError[*mysql.MySQLError](err); ok {
		return e.Number, true
	}
	if e, ok := asError[errorNumberer](err); ok {
		return e.Number(), true
	}
	return 0, false
}

// asError attempts to extract an error implementing T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
