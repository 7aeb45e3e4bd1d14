// Package timeout resolves per-statement execution deadlines from
// pattern rules, falling back to a configured default.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule maps a SQL regex pattern to a timeout override.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config holds the default timeout and the ordered override rules.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves statement timeouts. First matching rule wins.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager compiles the rules. Returns an error on an invalid pattern.
func NewManager(config Config) (*Manager, error) {
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultTimeout: config.DefaultTimeout}, nil
}

// Resolve returns the timeout for sql and the pattern that selected it
// (empty when the default applied).
func (m *Manager) Resolve(sql string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}
