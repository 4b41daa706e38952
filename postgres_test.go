package sqlgate

import (
	"math"
	"testing"
	"time"
)

func TestConvertPgxValue_TimeFormatsRFC3339Nano(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	got := convertPgxValue(ts)
	if got != "2026-03-14T09:26:53.589793Z" {
		t.Fatalf("unexpected timestamp encoding: %v", got)
	}
}

func TestConvertPgxValue_NonFiniteFloats(t *testing.T) {
	t.Parallel()
	if got := convertPgxValue(math.NaN()); got != "NaN" {
		t.Fatalf("expected NaN string, got %v", got)
	}
	if got := convertPgxValue(math.Inf(1)); got != "Infinity" {
		t.Fatalf("expected Infinity, got %v", got)
	}
	if got := convertPgxValue(math.Inf(-1)); got != "-Infinity" {
		t.Fatalf("expected -Infinity, got %v", got)
	}
	if got := convertPgxValue(3.5); got != 3.5 {
		t.Fatalf("finite float must pass through, got %v", got)
	}
}

func TestConvertPgxValue_UUIDBytes(t *testing.T) {
	t.Parallel()
	id := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	got := convertPgxValue(id)
	if got != "12345678-9abc-def0-1234-56789abcdef0" {
		t.Fatalf("unexpected uuid encoding: %v", got)
	}
}

func TestConvertPgxValue_ByteaBase64(t *testing.T) {
	t.Parallel()
	got := convertPgxValue([]byte{0xde, 0xad, 0xbe, 0xef})
	if got != "3q2+7w==" {
		t.Fatalf("unexpected bytea encoding: %v", got)
	}
}

func TestConvertPgxValue_RecursesIntoJSON(t *testing.T) {
	t.Parallel()
	in := map[string]interface{}{
		"when": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		"tags": []interface{}{math.NaN()},
	}
	got := convertPgxValue(in).(map[string]interface{})
	if got["when"] != "2026-01-01T00:00:00Z" {
		t.Fatalf("nested time not converted: %v", got["when"])
	}
	if got["tags"].([]interface{})[0] != "NaN" {
		t.Fatalf("nested float not converted: %v", got["tags"])
	}
}

func TestConvertSQLValue_TextBytesBecomeString(t *testing.T) {
	t.Parallel()
	if got := convertSQLValue([]byte("hello")); got != "hello" {
		t.Fatalf("expected string, got %v", got)
	}
	if got := convertSQLValue(nil); got != nil {
		t.Fatalf("nil must pass through, got %v", got)
	}
	if got := convertSQLValue(int64(7)); got != int64(7) {
		t.Fatalf("int64 must pass through, got %v", got)
	}
}
