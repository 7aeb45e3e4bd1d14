// Package redact applies regex-based redaction to result row values
// before they leave the gateway. Rules run in order over every string
// field, recursing into JSONB objects and arrays.
package redact

import (
	"fmt"
	"regexp"
)

// Rule pairs a regex pattern with its replacement text.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor rewrites matching substrings in result values.
type Redactor struct {
	rules []compiledRule
}

// New compiles the rules. Returns an error on an invalid pattern.
func New(rules []Rule) (*Redactor, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
	}
	return &Redactor{rules: compiled}, nil
}

// Active reports whether any rules are configured.
func (r *Redactor) Active() bool {
	return len(r.rules) > 0
}

// ApplyRows redacts every field of every row in place and returns rows.
func (r *Redactor) ApplyRows(rows []map[string]interface{}) []map[string]interface{} {
	if !r.Active() {
		return rows
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = r.apply(v)
		}
	}
	return rows
}

func (r *Redactor) apply(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		out := val
		for _, rule := range r.rules {
			out = rule.pattern.ReplaceAllString(out, rule.replacement)
		}
		return out
	case map[string]interface{}:
		for k, inner := range val {
			val[k] = r.apply(inner)
		}
		return val
	case []interface{}:
		for i, inner := range val {
			val[i] = r.apply(inner)
		}
		return val
	default:
		// Numbers, bools, nil pass through untouched.
		return v
	}
}
