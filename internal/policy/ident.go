package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern validates table and column names. Must start with a
// letter or underscore, followed by letters, digits, or underscores; no
// quoting or escaping is accepted from callers.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// maxIdentifierLength matches PostgreSQL's NAMEDATALEN-1 limit.
const maxIdentifierLength = 63

// reservedWords are SQL keywords rejected as identifiers. Bound
// parameters handle value injection; this blocks query-structure games
// with names.
var reservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"EXEC": true, "EXECUTE": true, "UNION": true, "INTO": true,
	"FROM": true, "WHERE": true, "TABLE": true, "DATABASE": true,
	"GRANT": true, "REVOKE": true, "INDEX": true, "VIEW": true,
	"PROCEDURE": true, "FUNCTION": true, "TRIGGER": true, "SCHEMA": true,
}

// ValidateIdentifier ensures name is safe to interpolate as a quoted
// SQL identifier.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier too long (max %d chars): %q", maxIdentifierLength, name)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	if reservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a SQL reserved word", name)
	}
	return nil
}

// QuoteIdentifier wraps a validated name in double quotes, doubling any
// embedded quotes. Call ValidateIdentifier first; quoting alone is not
// a safety boundary.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
