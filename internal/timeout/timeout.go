// Package timeout resolves per-query execution timeouts. The tenant settings
// supply the base timeout; operators can override it for matching SQL
// patterns (e.g. a longer budget for known reporting queries).
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule maps a SQL regex pattern to an override timeout.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config bounds every resolved timeout to [Min, Max]. Overrides outside the
// bounds are clamped, never rejected.
type Config struct {
	Rules []Rule
	Min   time.Duration
	Max   time.Duration
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves query timeouts based on SQL pattern matching.
type Manager struct {
	rules []compiledRule
	min   time.Duration
	max   time.Duration
}

// NewManager compiles the rule patterns. Returns an error on invalid regexes.
func NewManager(config Config) (*Manager, error) {
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, min: config.Min, max: config.Max}, nil
}

// Resolve returns the timeout for the given SQL and the pattern of the rule
// that matched ("" when the base timeout applies). First matching rule wins.
func (m *Manager) Resolve(sql string, base time.Duration) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return m.clamp(rule.timeout), rule.pattern.String()
		}
	}
	return m.clamp(base), ""
}

func (m *Manager) clamp(d time.Duration) time.Duration {
	if m.min > 0 && d < m.min {
		return m.min
	}
	if m.max > 0 && d > m.max {
		return m.max
	}
	return d
}
