package policy

import (
	"strings"
	"testing"
)

func assertIdentValid(t *testing.T, name string) {
	t.Helper()
	if err := ValidateIdentifier(name); err != nil {
		t.Fatalf("expected %q to be a valid identifier, got: %v", name, err)
	}
}

func assertIdentInvalid(t *testing.T, name string, errContains string) {
	t.Helper()
	err := ValidateIdentifier(name)
	if err == nil {
		t.Fatalf("expected %q to be rejected", name)
	}
	if !strings.Contains(err.Error(), errContains) {
		t.Fatalf("expected error containing %q, got %q", errContains, err.Error())
	}
}

func TestValidateIdentifier_SimpleNames(t *testing.T) {
	t.Parallel()
	assertIdentValid(t, "users")
	assertIdentValid(t, "_private")
	assertIdentValid(t, "order_items_2024")
	assertIdentValid(t, "A")
}

func TestValidateIdentifier_Empty(t *testing.T) {
	t.Parallel()
	assertIdentInvalid(t, "", "cannot be empty")
}

func TestValidateIdentifier_TooLong(t *testing.T) {
	t.Parallel()
	assertIdentInvalid(t, strings.Repeat("a", 64), "too long")
}

func TestValidateIdentifier_MaxLengthAccepted(t *testing.T) {
	t.Parallel()
	assertIdentValid(t, strings.Repeat("a", 63))
}

func TestValidateIdentifier_LeadingDigit(t *testing.T) {
	t.Parallel()
	assertIdentInvalid(t, "1users", "invalid identifier")
}

func TestValidateIdentifier_InjectionCharacters(t *testing.T) {
	t.Parallel()
	assertIdentInvalid(t, "users; DROP TABLE users", "invalid identifier")
	assertIdentInvalid(t, `users"`, "invalid identifier")
	assertIdentInvalid(t, "users--", "invalid identifier")
	assertIdentInvalid(t, "users table", "invalid identifier")
}

func TestValidateIdentifier_ReservedWords(t *testing.T) {
	t.Parallel()
	assertIdentInvalid(t, "select", "reserved word")
	assertIdentInvalid(t, "DROP", "reserved word")
	assertIdentInvalid(t, "Table", "reserved word")
}

func TestQuoteIdentifier(t *testing.T) {
	t.Parallel()
	if got := QuoteIdentifier("users"); got != `"users"` {
		t.Fatalf("expected quoted identifier, got %q", got)
	}
	if got := QuoteIdentifier(`we"ird`); got != `"we""ird"` {
		t.Fatalf("expected embedded quotes doubled, got %q", got)
	}
}
