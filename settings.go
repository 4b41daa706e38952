package sqlgate

import "context"

// Bounds for per-tenant settings. Out-of-range stored values are clamped,
// never rejected; a corrupt settings row must not make a tenant unusable.
const (
	MinRowLimit           = 1
	MaxRowLimit           = 10000
	MinQueryTimeoutMillis = 100
	MaxQueryTimeoutMillis = 60000
)

// Settings are the effective per-tenant execution settings. They are loaded
// fresh before every execution and never cached across requests.
type Settings struct {
	AllowDestructiveOps bool `json:"allow_destructive_ops"`
	RequireApproval     bool `json:"require_approval"`
	MaxRowLimit         int  `json:"max_row_limit"`
	QueryTimeoutMillis  int  `json:"query_timeout_millis"`
	EnableAuditLog      bool `json:"enable_audit_log"`

	// AuditApprovalRequests controls whether approval-pending attempts are
	// written to the audit log. Off by default: a proposal that was never
	// executed is arguably not an auditable event, but some deployments want
	// the full trail.
	AuditApprovalRequests bool `json:"audit_approval_requests"`
}

// DefaultSettings returns the settings applied when a tenant has none stored.
func DefaultSettings() Settings {
	return Settings{
		AllowDestructiveOps: false,
		RequireApproval:     false,
		MaxRowLimit:         1000,
		QueryTimeoutMillis:  30000,
		EnableAuditLog:      true,
	}
}

// Clamped returns a copy with MaxRowLimit and QueryTimeoutMillis forced into
// their allowed ranges. Zero values fall back to the defaults.
func (s Settings) Clamped() Settings {
	if s.MaxRowLimit == 0 {
		s.MaxRowLimit = DefaultSettings().MaxRowLimit
	}
	if s.QueryTimeoutMillis == 0 {
		s.QueryTimeoutMillis = DefaultSettings().QueryTimeoutMillis
	}
	if s.MaxRowLimit < MinRowLimit {
		s.MaxRowLimit = MinRowLimit
	}
	if s.MaxRowLimit > MaxRowLimit {
		s.MaxRowLimit = MaxRowLimit
	}
	if s.QueryTimeoutMillis < MinQueryTimeoutMillis {
		s.QueryTimeoutMillis = MinQueryTimeoutMillis
	}
	if s.QueryTimeoutMillis > MaxQueryTimeoutMillis {
		s.QueryTimeoutMillis = MaxQueryTimeoutMillis
	}
	return s
}

// SettingsStore loads the stored settings for an actor. Returning (nil, nil)
// means no stored settings exist and the defaults apply. Durable storage
// belongs to the caller; the pipeline only reads through this interface.
type SettingsStore interface {
	Load(ctx context.Context, actorID string) (*Settings, error)
}

// StaticSettings is a SettingsStore returning the same settings for every
// actor. Useful for single-tenant deployments and tests.
type StaticSettings struct {
	Settings Settings
}

// Load implements SettingsStore.
func (s StaticSettings) Load(ctx context.Context, actorID string) (*Settings, error) {
	out := s.Settings
	return &out, nil
}
