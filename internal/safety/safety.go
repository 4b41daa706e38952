// Package safety classifies raw SQL statements against a read-only or
// permissive execution policy. Classification is keyword and pattern based:
// the statement is never parsed into an AST, so the policy works identically
// across Postgres-family and MySQL-family dialects.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the result of validating one SQL statement. It is a pure value:
// two calls with identical arguments produce identical verdicts.
type Verdict struct {
	Valid       bool
	Destructive bool
	Err         string
	Suggestion  string

	// SetOperation marks UNION/INTERSECT/EXCEPT usage. The statement is still
	// valid; callers may want the signal for logging. Column-count mismatches
	// are left to the backend.
	SetOperation bool

	// Broad marks a SELECT * with neither WHERE nor LIMIT. Soft warning only.
	Broad bool
}

// destructiveKeywords are the leading keywords that classify a statement as
// destructive. Matching is on the first token of the trimmed statement.
var destructiveKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE",
	"INSERT", "UPDATE", "GRANT", "REVOKE",
}

// suggestions maps a destructive keyword to a remediation hint surfaced with
// the rejection. Unmapped keywords fall back to defaultSuggestion.
var suggestions = map[string]string{
	"DROP":     "Dropping objects is blocked in read-only mode. Ask a database administrator to remove the object.",
	"DELETE":   "Deleting rows is blocked in read-only mode. Use SELECT to inspect the rows instead.",
	"TRUNCATE": "Truncating tables is blocked in read-only mode. Use SELECT COUNT(*) to inspect the table instead.",
	"ALTER":    "Schema changes are blocked in read-only mode. Apply schema changes through your migration tooling.",
	"CREATE":   "Creating objects is blocked in read-only mode. Apply schema changes through your migration tooling.",
	"INSERT":   "Inserting rows is blocked in read-only mode. Enable destructive operations in settings to write data.",
	"UPDATE":   "Updating rows is blocked in read-only mode. Enable destructive operations in settings to write data.",
}

const defaultSuggestion = "This operation modifies the database and is blocked in read-only mode. Enable destructive operations in settings if this is intentional."

var (
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	setOperationRe = regexp.MustCompile(`(?i)(?:^|[^A-Za-z_])(UNION|INTERSECT|EXCEPT)(?:[^A-Za-z_]|$)`)

	// File I/O clauses and functions. LOAD DATA / INTO OUTFILE are
	// MySQL-family, but checking them unconditionally is harmless on Postgres.
	fileIOPatterns = []struct {
		re   *regexp.Regexp
		desc string
	}{
		{regexp.MustCompile(`(?i)\bINTO\s+OUTFILE\b`), "INTO OUTFILE"},
		{regexp.MustCompile(`(?i)\bINTO\s+DUMPFILE\b`), "INTO DUMPFILE"},
		{regexp.MustCompile(`(?i)\bLOAD_FILE\s*\(`), "LOAD_FILE()"},
		{regexp.MustCompile(`(?i)\bLOAD\s+DATA\b`), "LOAD DATA"},
	}
)

// Validate classifies sql against the policy. readOnly selects the mode;
// adminOverride short-circuits every rejection while still reporting the
// destructiveness flag, so callers can log the escape hatch.
//
// Checks run in a fixed order and the first failure wins:
// multiple statements, destructive keyword hidden in a comment, allowed
// leading keyword (SELECT/WITH), forbidden file I/O. Set-operation usage and
// overly broad SELECTs are flagged but never rejected.
func Validate(sql string, readOnly, adminOverride bool) Verdict {
	normalized := normalizeWhitespace(sql)
	upper := strings.ToUpper(normalized)
	keyword := leadingDestructiveKeyword(upper)

	v := Verdict{
		Valid:        true,
		Destructive:  keyword != "",
		SetOperation: setOperationRe.MatchString(normalized),
		Broad:        isOverlyBroad(upper),
	}

	if adminOverride || !readOnly {
		return v
	}

	if normalized == "" {
		return reject(v, "empty statement", "Provide a single SQL statement to execute.")
	}

	if keyword != "" {
		return reject(v,
			fmt.Sprintf("%s statements are not allowed in read-only mode", keyword),
			suggestionFor(keyword))
	}

	// A chained destructive statement ("SELECT 1; DROP TABLE t") is a
	// multi-statement input, so the statement count check covers chaining too
	// and must fire with the multiple-statements error.
	if n := statementCount(normalized); n > 1 {
		return reject(v,
			fmt.Sprintf("multiple statements are not allowed: found %d statements", n),
			"Submit exactly one statement per request.")
	}

	if hidden := commentHiddenKeyword(sql); hidden != "" {
		return reject(v,
			fmt.Sprintf("destructive keyword %s hidden in a SQL comment", hidden),
			"Remove SQL comments containing write operations from the statement.")
	}

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return reject(v,
			"only SELECT and WITH statements are allowed in read-only mode",
			"Rewrite the statement as a SELECT query.")
	}

	for _, p := range fileIOPatterns {
		if p.re.MatchString(normalized) {
			return reject(v,
				fmt.Sprintf("file I/O is not allowed: %s", p.desc),
				"Queries must not read from or write to server-side files.")
		}
	}

	return v
}

func reject(v Verdict, errMsg, suggestion string) Verdict {
	v.Valid = false
	v.Err = errMsg
	v.Suggestion = suggestion
	return v
}

func suggestionFor(keyword string) string {
	if s, ok := suggestions[keyword]; ok {
		return s
	}
	return defaultSuggestion
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeWhitespace(sql string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(sql, " "))
}

// leadingDestructiveKeyword returns the destructive keyword the statement
// starts with, or "" for non-destructive statements. upper must already be
// whitespace-normalized and uppercased.
func leadingDestructiveKeyword(upper string) string {
	first, _, _ := strings.Cut(upper, " ")
	for _, kw := range destructiveKeywords {
		if first == kw {
			return kw
		}
	}
	return ""
}

// statementCount counts non-empty ;-delimited segments. Semicolons inside
// string literals are not recognized as such; this is a deliberate
// pattern-level approximation, erring toward rejection.
func statementCount(sql string) int {
	count := 0
	for _, part := range strings.Split(sql, ";") {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}

// commentHiddenKeyword scans line and block comments in the original
// statement for destructive keywords and returns the first one found.
func commentHiddenKeyword(sql string) string {
	comments := lineCommentRe.FindAllString(sql, -1)
	comments = append(comments, blockCommentRe.FindAllString(sql, -1)...)
	for _, comment := range comments {
		upper := strings.ToUpper(comment)
		for _, kw := range destructiveKeywords {
			if containsWord(upper, kw) {
				return kw
			}
		}
	}
	return ""
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(s[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(s) || !isWordByte(s[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// isOverlyBroad reports a SELECT * with neither WHERE nor LIMIT. upper must
// be whitespace-normalized and uppercased.
func isOverlyBroad(upper string) bool {
	if !strings.HasPrefix(upper, "SELECT *") {
		return false
	}
	return !containsWord(upper, "WHERE") && !containsWord(upper, "LIMIT")
}
