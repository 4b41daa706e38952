// Package redact masks sensitive material before it leaves the execution
// pipeline: configured field values in result rows, and SQL text embedded in
// errors or logs (statement literals may carry credentials or PII, so logged
// SQL is always capped).
package redact

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Rule is a regex replacement applied to string field values in result rows.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor applies regex-based masking to result row field values.
type Redactor struct {
	rules []compiledRule
}

// NewRedactor compiles the rules. Returns an error on invalid regex patterns.
func NewRedactor(rules []Rule) (*Redactor, error) {
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

// HasRules returns true if any rules are configured.
func (r *Redactor) HasRules() bool {
	return len(r.rules) > 0
}

// Rows masks matching material in each field value, recursing into JSON
// object and array values.
func (r *Redactor) Rows(rows []map[string]interface{}) []map[string]interface{} {
	if len(r.rules) == 0 {
		return rows
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = r.value(v)
		}
	}
	return rows
}

func (r *Redactor) value(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		result := val
		for _, rule := range r.rules {
			result = rule.pattern.ReplaceAllString(result, rule.replacement)
		}
		return result
	case map[string]interface{}:
		for k, v := range val {
			val[k] = r.value(v)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = r.value(item)
		}
		return val
	default:
		// Numeric, bool, nil: nothing to mask.
		return v
	}
}

// SQLExcerpt truncates a SQL statement for inclusion in errors and log
// entries, keeping the cut on a rune boundary.
func SQLExcerpt(sql string, maxLen int) string {
	if len(sql) <= maxLen {
		return sql
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(sql[truncateAt]) {
		truncateAt--
	}
	return sql[:truncateAt] + "...[truncated]"
}
