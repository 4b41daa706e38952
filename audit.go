package sqlgate

import (
	"context"
	"sync"
	"time"
)

// AuditRecord is one append-only entry in the audit trail. Exactly one record
// is produced per execution attempt that reaches validation (blocked, error,
// success, clarification); records are never mutated after creation.
type AuditRecord struct {
	ID            string    `json:"id"`
	ActorID       string    `json:"actor_id"`
	ConnectionID  string    `json:"connection_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Question      string    `json:"question,omitempty"`
	SQL           string    `json:"sql,omitempty"`
	Allowed       bool      `json:"allowed"`
	ResultCount   int       `json:"result_count"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	Clarification string    `json:"clarification,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuditSink receives audit records. Append failures are logged by the
// pipeline and never fail the request that produced the record.
type AuditSink interface {
	Append(ctx context.Context, rec AuditRecord) error
}

// NopSink discards all records.
type NopSink struct{}

// Append implements AuditSink.
func (NopSink) Append(ctx context.Context, rec AuditRecord) error { return nil }

// MemorySink is an in-memory AuditSink for tests and single-process use.
// Safe for concurrent use.
type MemorySink struct {
	mu      sync.Mutex
	records []AuditRecord
}

// Append implements AuditSink.
func (m *MemorySink) Append(ctx context.Context, rec AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of all appended records in append order.
func (m *MemorySink) Records() []AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditRecord, len(m.records))
	copy(out, m.records)
	return out
}
