// Package pgstore persists audit records and per-tenant settings in a
// Postgres database through a shared pgx pool. It backs the sqlgate.AuditSink
// and sqlgate.SettingsStore interfaces for deployments that want durable
// state; single-process deployments can use the in-memory implementations
// instead.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"sqlgate"
)

// Store is a Postgres-backed AuditSink and SettingsStore.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New wraps an existing pool. The pool's lifecycle belongs to the caller.
func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With().Str("component", "pgstore").Logger(),
	}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sqlgate_audit_log (
	id             UUID PRIMARY KEY,
	actor_id       TEXT NOT NULL,
	connection_id  TEXT NOT NULL DEFAULT '',
	session_id     TEXT NOT NULL DEFAULT '',
	question       TEXT NOT NULL DEFAULT '',
	sql            TEXT NOT NULL DEFAULT '',
	allowed        BOOLEAN NOT NULL,
	result_count   INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	clarification  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS sqlgate_audit_log_actor_idx
	ON sqlgate_audit_log (actor_id, created_at);

CREATE TABLE IF NOT EXISTS sqlgate_settings (
	actor_id                TEXT PRIMARY KEY,
	allow_destructive_ops   BOOLEAN NOT NULL DEFAULT FALSE,
	require_approval        BOOLEAN NOT NULL DEFAULT FALSE,
	max_row_limit           INTEGER NOT NULL DEFAULT 1000,
	query_timeout_millis    INTEGER NOT NULL DEFAULT 30000,
	enable_audit_log        BOOLEAN NOT NULL DEFAULT TRUE,
	audit_approval_requests BOOLEAN NOT NULL DEFAULT FALSE
);
`

// EnsureSchema creates the audit and settings tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("pgstore: schema setup failed: %w", err)
	}
	return nil
}

const insertAuditSQL = `
INSERT INTO sqlgate_audit_log (
	id, actor_id, connection_id, session_id, question, sql,
	allowed, result_count, status, error, clarification, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// Append implements sqlgate.AuditSink. Records are never updated or deleted
// through this package.
func (s *Store) Append(ctx context.Context, rec sqlgate.AuditRecord) error {
	_, err := s.pool.Exec(ctx, insertAuditSQL,
		rec.ID,
		rec.ActorID,
		rec.ConnectionID,
		rec.SessionID,
		rec.Question,
		rec.SQL,
		rec.Allowed,
		rec.ResultCount,
		string(rec.Status),
		rec.Error,
		rec.Clarification,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("pgstore: audit append failed: %w", err)
	}
	return nil
}

const selectSettingsSQL = `
SELECT allow_destructive_ops, require_approval, max_row_limit,
       query_timeout_millis, enable_audit_log, audit_approval_requests
FROM sqlgate_settings
WHERE actor_id = $1
`

// Load implements sqlgate.SettingsStore. A missing row means the actor has no
// stored settings and the caller applies defaults.
func (s *Store) Load(ctx context.Context, actorID string) (*sqlgate.Settings, error) {
	var settings sqlgate.Settings
	err := s.pool.QueryRow(ctx, selectSettingsSQL, actorID).Scan(
		&settings.AllowDestructiveOps,
		&settings.RequireApproval,
		&settings.MaxRowLimit,
		&settings.QueryTimeoutMillis,
		&settings.EnableAuditLog,
		&settings.AuditApprovalRequests,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: settings load failed: %w", err)
	}
	return &settings, nil
}

const upsertSettingsSQL = `
INSERT INTO sqlgate_settings (
	actor_id, allow_destructive_ops, require_approval, max_row_limit,
	query_timeout_millis, enable_audit_log, audit_approval_requests
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (actor_id) DO UPDATE SET
	allow_destructive_ops = EXCLUDED.allow_destructive_ops,
	require_approval = EXCLUDED.require_approval,
	max_row_limit = EXCLUDED.max_row_limit,
	query_timeout_millis = EXCLUDED.query_timeout_millis,
	enable_audit_log = EXCLUDED.enable_audit_log,
	audit_approval_requests = EXCLUDED.audit_approval_requests
`

// Save stores an actor's settings. Values are clamped before writing so the
// stored row is always in range.
func (s *Store) Save(ctx context.Context, actorID string, settings sqlgate.Settings) error {
	settings = settings.Clamped()
	_, err := s.pool.Exec(ctx, upsertSettingsSQL,
		actorID,
		settings.AllowDestructiveOps,
		settings.RequireApproval,
		settings.MaxRowLimit,
		settings.QueryTimeoutMillis,
		settings.EnableAuditLog,
		settings.AuditApprovalRequests,
	)
	if err != nil {
		return fmt.Errorf("pgstore: settings save failed: %w", err)
	}
	return nil
}
