// Package hints maps backend error messages to remediation hints that get
// appended to the surfaced error, steering callers toward a fix instead of a
// retry loop.
package hints

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule maps an error-message regex pattern to a hint message.
type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against rules and returns hint messages.
type Matcher struct {
	rules []compiledRule
}

// defaultRules cover the backend errors callers run into most. Custom rules
// are checked first so operators can override the built-in guidance.
var defaultRules = []Rule{
	{Pattern: `(?i)(relation|table) ["'\x60]?\S+["'\x60]? does(n't| not) exist`,
		Message: "The table does not exist. Use list_tables to see available tables."},
	{Pattern: `(?i)column ["'\x60]?\S+["'\x60]? does not exist|Unknown column`,
		Message: "The column does not exist. Use describe_table to see the table's columns."},
	{Pattern: `(?i)permission denied|access denied`,
		Message: "The configured database role lacks privileges for this statement."},
	{Pattern: `(?i)syntax error`,
		Message: "The statement has a syntax error. Check quoting and the SQL dialect of the target provider."},
	{Pattern: `(?i)each UNION query must have the same number of columns|used have a different number of columns`,
		Message: "Set-operation branches must select the same number of columns."},
}

// NewMatcher compiles custom rules and appends the built-in defaults.
// Returns an error on invalid regex patterns.
func NewMatcher(custom []Rule) (*Matcher, error) {
	all := make([]Rule, 0, len(custom)+len(defaultRules))
	all = append(all, custom...)
	all = append(all, defaultRules...)

	compiled := make([]compiledRule, len(all))
	for i, r := range all {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("hints: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Match checks the error message against all rules, first match wins.
// Returns "" if nothing matches.
func (m *Matcher) Match(errMsg string) string {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			return rule.message
		}
	}
	return ""
}

// Annotate appends the matched hint to the error message, if any.
func (m *Matcher) Annotate(errMsg string) string {
	hint := m.Match(errMsg)
	if hint == "" {
		return errMsg
	}
	return strings.TrimRight(errMsg, "\n") + "\n\n" + hint
}
