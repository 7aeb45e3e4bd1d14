package toolgate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/toolgate-dev/toolgate/internal/pool"
)

func TestKindOf_GatewayError(t *testing.T) {
	t.Parallel()
	err := newError(KindNotFound, "table %q not found", "users")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", KindOf(err))
	}
}

func TestKindOf_WrappedGatewayError(t *testing.T) {
	t.Parallel()
	inner := newError(KindTimeout, "query timed out")
	err := fmt.Errorf("outer: %w", inner)
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected KindTimeout through wrapping, got %v", KindOf(err))
	}
}

func TestKindOf_PlainError(t *testing.T) {
	t.Parallel()
	if KindOf(errors.New("boom")) != KindDatabaseError {
		t.Fatalf("expected plain errors to default to KindDatabaseError")
	}
}

func TestClassifyDBError_PoolExhausted(t *testing.T) {
	t.Parallel()
	err := classifyDBError(fmt.Errorf("acquire: %w", pool.ErrPoolExhausted), "execute_query")
	if err.Kind != KindPoolExhausted {
		t.Fatalf("expected KindPoolExhausted, got %v", err.Kind)
	}
}

func TestClassifyDBError_Unavailable(t *testing.T) {
	t.Parallel()
	err := classifyDBError(pool.ErrUnavailable, "execute_query")
	if err.Kind != KindConnectionUnavailable {
		t.Fatalf("expected KindConnectionUnavailable, got %v", err.Kind)
	}
}

func TestClassifyDBError_DeadlineExceeded(t *testing.T) {
	t.Parallel()
	err := classifyDBError(context.DeadlineExceeded, "execute_query")
	if err.Kind != KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", err.Kind)
	}
}

func TestClassifyDBError_SQLStates(t *testing.T) {
	t.Parallel()
	cases := []struct {
		code string
		want Kind
	}{
		{"42501", KindPermissionDenied},
		{"42P01", KindNotFound},
		{"42703", KindNotFound},
		{"57014", KindTimeout},
		{"23505", KindDatabaseError},
		{"XX000", KindDatabaseError},
	}
	for _, c := range cases {
		err := classifyDBError(&pgconn.PgError{Code: c.code, Message: "x"}, "execute_query")
		if err.Kind != c.want {
			t.Fatalf("SQLSTATE %s: expected %v, got %v", c.code, c.want, err.Kind)
		}
	}
}

func TestClassifyDBError_PassesThroughGatewayError(t *testing.T) {
	t.Parallel()
	inner := newError(KindValidationRejected, "nope")
	err := classifyDBError(inner, "execute_query")
	if err != inner {
		t.Fatalf("expected existing gateway error returned as-is")
	}
}

func TestErrorMessageIncludesKind(t *testing.T) {
	t.Parallel()
	err := newError(KindBatchTooLarge, "too big")
	if err.Error() != "batch_too_large: too big" {
		t.Fatalf("unexpected error string: %q", err.Error())
	}
}

func TestWrapErrorUnwraps(t *testing.T) {
	t.Parallel()
	cause := errors.New("root cause")
	err := wrapError(KindCopyFailed, cause, "copy rows")
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestClassifyInsertError_UndefinedColumn(t *testing.T) {
	t.Parallel()
	err := classifyInsertError(&pgconn.PgError{Code: "42703", Message: "column nope does not exist"})
	if err.Kind != KindSchemaMismatch {
		t.Fatalf("expected KindSchemaMismatch for undefined column, got %v", err.Kind)
	}
}
