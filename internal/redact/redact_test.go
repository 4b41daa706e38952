package redact

import (
	"strings"
	"testing"
)

func newRedactor(t *testing.T, rules []Rule) *Redactor {
	t.Helper()
	r, err := NewRedactor(rules)
	if err != nil {
		t.Fatalf("NewRedactor failed: %v", err)
	}
	return r
}

var emailRule = Rule{
	Pattern:     `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
	Replacement: "[EMAIL]",
}

func TestRows_MasksMatchingStrings(t *testing.T) {
	t.Parallel()
	r := newRedactor(t, []Rule{emailRule})
	rows := []map[string]interface{}{
		{"id": 1, "email": "alice@example.com"},
	}
	out := r.Rows(rows)
	if out[0]["email"] != "[EMAIL]" {
		t.Fatalf("expected [EMAIL], got %v", out[0]["email"])
	}
	if out[0]["id"] != 1 {
		t.Fatalf("non-string value must pass through, got %v", out[0]["id"])
	}
}

func TestRows_RecursesIntoNestedValues(t *testing.T) {
	t.Parallel()
	r := newRedactor(t, []Rule{emailRule})
	rows := []map[string]interface{}{
		{
			"payload": map[string]interface{}{
				"contacts": []interface{}{"bob@example.com", 42},
			},
		},
	}
	out := r.Rows(rows)
	payload := out[0]["payload"].(map[string]interface{})
	contacts := payload["contacts"].([]interface{})
	if contacts[0] != "[EMAIL]" {
		t.Fatalf("expected nested value masked, got %v", contacts[0])
	}
	if contacts[1] != 42 {
		t.Fatalf("nested non-string must pass through, got %v", contacts[1])
	}
}

func TestRows_NoRulesReturnsInputUnchanged(t *testing.T) {
	t.Parallel()
	r := newRedactor(t, nil)
	rows := []map[string]interface{}{{"email": "alice@example.com"}}
	out := r.Rows(rows)
	if out[0]["email"] != "alice@example.com" {
		t.Fatal("no-rules redactor must not modify values")
	}
	if r.HasRules() {
		t.Fatal("HasRules must be false with no rules")
	}
}

func TestNewRedactor_InvalidRegexRejected(t *testing.T) {
	t.Parallel()
	if _, err := NewRedactor([]Rule{{Pattern: `([`, Replacement: "x"}}); err == nil {
		t.Fatal("expected error for invalid regex pattern")
	}
}

func TestSQLExcerpt_ShortStatementUnchanged(t *testing.T) {
	t.Parallel()
	if got := SQLExcerpt("SELECT 1", 120); got != "SELECT 1" {
		t.Fatalf("expected unchanged statement, got %q", got)
	}
}

func TestSQLExcerpt_LongStatementTruncated(t *testing.T) {
	t.Parallel()
	long := "SELECT " + strings.Repeat("x", 200)
	got := SQLExcerpt(long, 120)
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	if len(got) > 120+len("...[truncated]") {
		t.Fatalf("excerpt too long: %d", len(got))
	}
}

func TestSQLExcerpt_CutsOnRuneBoundary(t *testing.T) {
	t.Parallel()
	long := "SELECT '" + strings.Repeat("é", 200) + "'"
	got := SQLExcerpt(long, 120)
	trimmed := strings.TrimSuffix(got, "...[truncated]")
	for _, r := range trimmed {
		if r == '�' {
			t.Fatal("excerpt split a multi-byte rune")
		}
	}
}
