package toolgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/toolgate-dev/toolgate/internal/pool"
)

// Kind classifies a gateway error. Every error surfaced to a caller
// carries exactly one Kind.
type Kind string

const (
	// KindValidationRejected means the safety policy refused the request.
	// The request never reached the database.
	KindValidationRejected Kind = "validation_rejected"

	// KindPermissionDenied means the database refused access to an object
	// or to metadata under the current credential.
	KindPermissionDenied Kind = "permission_denied"

	// KindNotFound means a named table or object does not exist or is not
	// visible under current permissions.
	KindNotFound Kind = "not_found"

	// KindPoolExhausted means no idle connection became available within
	// the bounded acquire wait.
	KindPoolExhausted Kind = "pool_exhausted"

	// KindConnectionUnavailable means the database is unreachable after
	// the bounded retry count.
	KindConnectionUnavailable Kind = "connection_unavailable"

	// KindTimeout means the request exceeded its configured timeout while
	// waiting for a connection or for query completion.
	KindTimeout Kind = "timeout"

	// KindSchemaMismatch means an insert batch's row shape does not match
	// the target table's columns.
	KindSchemaMismatch Kind = "schema_mismatch"

	// KindConflictKeyMissing means a non-fail conflict policy was
	// requested but no conflict key could be resolved.
	KindConflictKeyMissing Kind = "conflict_key_missing"

	// KindBatchTooLarge means an insert batch exceeds the configured cap.
	KindBatchTooLarge Kind = "batch_too_large"

	// KindTargetNameCollision means backup target name disambiguation was
	// exhausted without finding a free name.
	KindTargetNameCollision Kind = "target_name_collision_unresolved"

	// KindCopyFailed means a backup copy failed mid-way; the target table
	// was rolled back and is not visible.
	KindCopyFailed Kind = "copy_failed"

	// KindDatabaseError wraps any unanticipated driver-level failure.
	KindDatabaseError Kind = "database_error"
)

// Error is the structured error type surfaced by all gateway operations.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// newError creates an Error with no underlying cause.
func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrapError creates an Error wrapping cause. The cause's message is
// included so callers see the driver detail without unwrapping.
func wrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...) + ": " + cause.Error(),
		cause:   cause,
	}
}

// KindOf extracts the Kind from err, or KindDatabaseError if err is not
// a gateway Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDatabaseError
}

// PostgreSQL SQLSTATE codes the gateway maps to specific kinds.
const (
	sqlstateInsufficientPrivilege = "42501"
	sqlstateUndefinedTable        = "42P01"
	sqlstateUndefinedColumn       = "42703"
	sqlstateQueryCanceled         = "57014"
	sqlstateUniqueViolation       = "23505"
)

// classifyDBError maps a driver/pool error to a gateway Error. context
// is a short description of the failed operation.
func classifyDBError(err error, operation string) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}

	switch {
	case errors.Is(err, pool.ErrPoolExhausted):
		return wrapError(KindPoolExhausted, err, "%s", operation)
	case errors.Is(err, pool.ErrUnavailable):
		return wrapError(KindConnectionUnavailable, err, "%s", operation)
	case errors.Is(err, context.DeadlineExceeded):
		return wrapError(KindTimeout, err, "%s", operation)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateInsufficientPrivilege:
			return wrapError(KindPermissionDenied, err, "%s", operation)
		case sqlstateUndefinedTable, sqlstateUndefinedColumn:
			return wrapError(KindNotFound, err, "%s", operation)
		case sqlstateQueryCanceled:
			return wrapError(KindTimeout, err, "%s", operation)
		}
	}

	return wrapError(KindDatabaseError, err, "%s", operation)
}
