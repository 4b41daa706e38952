package hints

import (
	"strings"
	"testing"
)

func newMatcher(t *testing.T, custom []Rule) *Matcher {
	t.Helper()
	m, err := NewMatcher(custom)
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}
	return m
}

func TestMatch_MissingRelation(t *testing.T) {
	t.Parallel()
	m := newMatcher(t, nil)
	hint := m.Match(`ERROR: relation "orders" does not exist (SQLSTATE 42P01)`)
	if !strings.Contains(hint, "list_tables") {
		t.Fatalf("expected list_tables hint, got %q", hint)
	}
}

func TestMatch_MissingColumnMySQLDialect(t *testing.T) {
	t.Parallel()
	m := newMatcher(t, nil)
	hint := m.Match(`Error 1054: Unknown column 'total' in 'field list'`)
	if !strings.Contains(hint, "describe_table") {
		t.Fatalf("expected describe_table hint, got %q", hint)
	}
}

func TestMatch_PermissionDenied(t *testing.T) {
	t.Parallel()
	m := newMatcher(t, nil)
	if hint := m.Match("ERROR: permission denied for table users"); hint == "" {
		t.Fatal("expected a hint for permission denied")
	}
}

func TestMatch_NoRuleMatches(t *testing.T) {
	t.Parallel()
	m := newMatcher(t, nil)
	if hint := m.Match("something completely unrelated"); hint != "" {
		t.Fatalf("expected no hint, got %q", hint)
	}
}

func TestMatch_CustomRuleBeatsDefault(t *testing.T) {
	t.Parallel()
	m := newMatcher(t, []Rule{
		{Pattern: `permission denied`, Message: "Contact #db-access for a role grant."},
	})
	hint := m.Match("ERROR: permission denied for table users")
	if hint != "Contact #db-access for a role grant." {
		t.Fatalf("expected custom rule to win, got %q", hint)
	}
}

func TestAnnotate_AppendsHint(t *testing.T) {
	t.Parallel()
	m := newMatcher(t, nil)
	out := m.Annotate(`relation "orders" does not exist`)
	if !strings.Contains(out, `relation "orders" does not exist`) {
		t.Fatalf("original message must survive, got %q", out)
	}
	if !strings.Contains(out, "\n\n") {
		t.Fatalf("hint must be separated by a blank line, got %q", out)
	}
}

func TestAnnotate_NoMatchReturnsOriginal(t *testing.T) {
	t.Parallel()
	m := newMatcher(t, nil)
	msg := "some opaque driver failure"
	if out := m.Annotate(msg); out != msg {
		t.Fatalf("expected unchanged message, got %q", out)
	}
}

func TestNewMatcher_InvalidRegexRejected(t *testing.T) {
	t.Parallel()
	if _, err := NewMatcher([]Rule{{Pattern: `([`, Message: "x"}}); err == nil {
		t.Fatal("expected error for invalid regex pattern")
	}
}
