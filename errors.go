package loom

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a query that requires a result loads nothing.
	ErrNotFound = errors.New("loom: entity not found")

	// ErrCriteriaNotFound is returned when a property path does not exist
	// on the entity it is resolved against.
	ErrCriteriaNotFound = errors.New("loom: criteria not found")

	// ErrOffsetWithoutLimit is returned by dialects that cannot paginate
	// with an offset alone.
	ErrOffsetWithoutLimit = errors.New("loom: offset without limit is not supported")

	// ErrLockNotSupported is returned when a lock mode has no rendering
	// on the active dialect.
	ErrLockNotSupported = errors.New("loom: lock mode is not supported")

	// ErrOptimisticLockNotAllowed is returned when optimistic locking is
	// requested on a load that is not a single-entity load.
	ErrOptimisticLockNotAllowed = errors.New("loom: optimistic lock can be used only with single entity loads")

	// ErrNoVersionColumn is returned when optimistic locking is requested
	// on an entity without a version or update-date column.
	ErrNoVersionColumn = errors.New("loom: entity has no version or update date column")

	// ErrPessimisticLockWithoutTx is returned when a pessimistic lock is
	// requested outside a transaction.
	ErrPessimisticLockWithoutTx = errors.New("loom: pessimistic lock requires an active transaction")

	// ErrLockNotAvailable is joined to execution errors caused by a row
	// lock that could not be acquired (NOWAIT, lock wait timeouts).
	ErrLockNotAvailable = errors.New("loom: lock not available")

	// ErrConcurrentUpdate is joined to execution errors caused by deadlocks
	// or serialization failures.
	ErrConcurrentUpdate = errors.New("loom: concurrent update")

	// ErrSessionVarsNotSupported is returned when session variables are
	// used with a dialect that has no statement to set them.
	ErrSessionVarsNotSupported = errors.New("loom: session variables are not supported")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("loom: cannot start a transaction within a transaction")
)

// CriteriaNotFoundError is raised while building a query when a property
// path is neither a column, an embedded group nor a relation of the entity.
type CriteriaNotFoundError struct {
	Path   string
	Entity string
}

// Error returns the error string.
func (e *CriteriaNotFoundError) Error() string {
	return fmt.Sprintf("loom: property %q was not found in %s; make sure the property path is a column, embedded or relation", e.Path, e.Entity)
}

// Is reports whether the target error matches ErrCriteriaNotFound.
func (e *CriteriaNotFoundError) Is(err error) bool {
	return err == ErrCriteriaNotFound
}

// NewCriteriaNotFoundError returns a new CriteriaNotFoundError.
func NewCriteriaNotFoundError(path, entity string) *CriteriaNotFoundError {
	return &CriteriaNotFoundError{Path: path, Entity: entity}
}

// IsCriteriaNotFound returns true if the error is a CriteriaNotFoundError.
func IsCriteriaNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *CriteriaNotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrCriteriaNotFound)
}

// UnsupportedOperationError is raised at SQL assembly time when the active
// dialect cannot render the requested operation.
type UnsupportedOperationError struct {
	Op      string
	Dialect string
	err     error
}

// Error returns the error string.
func (e *UnsupportedOperationError) Error() string {
	msg := "operation is not supported"
	if e.err != nil {
		msg = strings.TrimPrefix(e.err.Error(), "loom: ")
	}
	if e.Dialect == "" {
		return fmt.Sprintf("loom: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("loom: %s: %s on %s", e.Op, msg, e.Dialect)
}

// Unwrap returns the sentinel describing the unsupported operation.
func (e *UnsupportedOperationError) Unwrap() error {
	return e.err
}

// NewUnsupportedOperationError returns a new UnsupportedOperationError.
// The kind is one of the sentinel errors of this package, or nil.
func NewUnsupportedOperationError(op, dialect string, kind error) *UnsupportedOperationError {
	return &UnsupportedOperationError{Op: op, Dialect: dialect, err: kind}
}

// IsUnsupportedOperation returns true if the error is an UnsupportedOperationError.
func IsUnsupportedOperation(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsupportedOperationError
	return errors.As(err, &e)
}

// OptimisticLockMismatchError is returned when the loaded version of an
// entity differs from the version the caller expected.
type OptimisticLockMismatchError struct {
	Entity   string
	Expected any
	Actual   any
}

// Error returns the error string.
func (e *OptimisticLockMismatchError) Error() string {
	return fmt.Sprintf("loom: optimistic lock check failed for %s: expected version %v, got %v", e.Entity, e.Expected, e.Actual)
}

// NewOptimisticLockMismatchError returns a new OptimisticLockMismatchError.
func NewOptimisticLockMismatchError(entity string, expected, actual any) *OptimisticLockMismatchError {
	return &OptimisticLockMismatchError{Entity: entity, Expected: expected, Actual: actual}
}

// IsOptimisticLockMismatch returns true if the error is an OptimisticLockMismatchError.
func IsOptimisticLockMismatch(err error) bool {
	if err == nil {
		return false
	}
	var e *OptimisticLockMismatchError
	return errors.As(err, &e)
}

// QueryExecutionError wraps a driver failure with the statement that caused it.
type QueryExecutionError struct {
	SQL  string
	Args []any
	Err  error
}

// Error returns the error string.
func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("loom: query failed: %v (sql: %s, args: %v)", e.Err, e.SQL, e.Args)
}

// Unwrap returns the underlying driver error.
func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

// NewQueryExecutionError returns a new QueryExecutionError.
func NewQueryExecutionError(sql string, args []any, err error) *QueryExecutionError {
	return &QueryExecutionError{SQL: sql, Args: args, Err: err}
}

// IsQueryExecution returns true if the error is a QueryExecutionError.
func IsQueryExecution(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryExecutionError
	return errors.As(err, &e)
}

// PessimisticLockWithoutTransactionError is returned before execution when
// a pessimistic lock mode is used outside a transaction.
type PessimisticLockWithoutTransactionError struct {
	Mode LockMode
}

// Error returns the error string.
func (e *PessimisticLockWithoutTransactionError) Error() string {
	return fmt.Sprintf("loom: lock mode %q requires an active transaction", e.Mode)
}

// Is reports whether the target error matches ErrPessimisticLockWithoutTx.
func (e *PessimisticLockWithoutTransactionError) Is(err error) bool {
	return err == ErrPessimisticLockWithoutTx
}

// IsPessimisticLockWithoutTransaction returns true if the error is a
// PessimisticLockWithoutTransactionError.
func IsPessimisticLockWithoutTransaction(err error) bool {
	if err == nil {
		return false
	}
	var e *PessimisticLockWithoutTransactionError
	return errors.As(err, &e) || errors.Is(err, ErrPessimisticLockWithoutTx)
}

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label    string
	criteria any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.criteria != nil {
		return fmt.Sprintf("loom: %s not found (criteria=%v)", e.label, e.criteria)
	}
	return fmt.Sprintf("loom: %s not found", e.label)
}

// Is reports whether the target error matches ErrNotFound.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// Criteria returns the criteria that were searched for, if available.
func (e *NotFoundError) Criteria() any {
	return e.criteria
}

// NewNotFoundError returns a new NotFoundError for the given entity.
func NewNotFoundError(label string, criteria any) *NotFoundError {
	return &NotFoundError{label: label, criteria: criteria}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// AliasError is returned by the alias registry of a query.
type AliasError struct {
	Alias string
	msg   string
}

// Error returns the error string.
func (e *AliasError) Error() string {
	return fmt.Sprintf("loom: alias %q %s", e.Alias, e.msg)
}

// NewMissingAliasError reports a reference to an alias that was never registered.
func NewMissingAliasError(alias string) *AliasError {
	return &AliasError{Alias: alias, msg: "was not found; make sure it is defined with From or a join"}
}

// NewAliasConflictError reports an alias registered twice for different targets.
func NewAliasConflictError(alias string) *AliasError {
	return &AliasError{Alias: alias, msg: "is already registered"}
}

// NewInvalidAliasError reports an alias naming none or several of an
// entity, a table path and a subquery.
func NewInvalidAliasError(alias string) *AliasError {
	return &AliasError{Alias: alias, msg: "must have exactly one of an entity, a table path or a subquery"}
}

// IsAliasError returns true if the error is an AliasError.
func IsAliasError(err error) bool {
	if err == nil {
		return false
	}
	var e *AliasError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("loom: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}
