package sqlgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sqlgate/internal/hints"
	"sqlgate/internal/redact"
	"sqlgate/internal/safety"
	"sqlgate/internal/timeout"
)

// defaultMaxResultChars caps the JSON-encoded size of a result set handed
// back to callers. Oversized results become an error, not a truncation: a
// silently shortened answer is worse than an explicit one.
const defaultMaxResultChars = 100_000

// PipelineConfig is the static execution policy. Per-tenant knobs live in
// Settings; this is the deployment-wide part.
type PipelineConfig struct {
	// ReadOnly forces the read-only safety policy regardless of per-tenant
	// settings.
	ReadOnly bool `json:"read_only"`

	// AdminOverride disables safety rejections. Every overridden execution is
	// logged at warn level. For break-glass use only.
	AdminOverride bool `json:"admin_override"`

	// TimeoutRules override the per-tenant query timeout for statements
	// matching a pattern.
	TimeoutRules []timeout.Rule `json:"timeout_rules,omitempty"`

	// RedactionRules scrub matching values from result rows before they leave
	// the pipeline.
	RedactionRules []redact.Rule `json:"redaction_rules,omitempty"`

	// ErrorHints add deployment-specific remediation hints on top of the
	// built-in ones.
	ErrorHints []hints.Rule `json:"error_hints,omitempty"`

	// MaxResultChars caps the JSON size of a result set. Zero means the
	// default.
	MaxResultChars int `json:"max_result_chars,omitempty"`
}

// Pipeline runs the guarded execution state machine: load settings, resolve a
// client, validate, gate on approval, execute with timeout and row cap, and
// audit the outcome. It holds no per-request state and is safe for concurrent
// use.
type Pipeline struct {
	registry *Registry
	settings SettingsStore
	sink     AuditSink
	config   PipelineConfig
	logger   zerolog.Logger

	timeouts *timeout.Manager
	redactor *redact.Redactor
	hints    *hints.Matcher
}

// NewPipeline compiles the configured rules and returns a pipeline. A nil
// settings store means defaults for every actor; a nil sink discards audit
// records.
func NewPipeline(registry *Registry, settings SettingsStore, sink AuditSink, config PipelineConfig, logger zerolog.Logger) (*Pipeline, error) {
	if registry == nil {
		panic("sqlgate: NewPipeline called with nil registry")
	}
	if sink == nil {
		sink = NopSink{}
	}
	if config.MaxResultChars <= 0 {
		config.MaxResultChars = defaultMaxResultChars
	}

	timeouts, err := timeout.NewManager(timeout.Config{
		Rules: config.TimeoutRules,
		Min:   MinQueryTimeoutMillis * time.Millisecond,
		Max:   MaxQueryTimeoutMillis * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid timeout rules: %w", err)
	}
	redactor, err := redact.NewRedactor(config.RedactionRules)
	if err != nil {
		return nil, fmt.Errorf("invalid redaction rules: %w", err)
	}
	matcher, err := hints.NewMatcher(config.ErrorHints)
	if err != nil {
		return nil, fmt.Errorf("invalid error hints: %w", err)
	}

	return &Pipeline{
		registry: registry,
		settings: settings,
		sink:     sink,
		config:   config,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		timeouts: timeouts,
		redactor: redactor,
		hints:    matcher,
	}, nil
}

// Validate classifies a statement under the current policy without executing
// it. Useful for callers that want a dry-run verdict.
func (p *Pipeline) Validate(ctx context.Context, actorID, sql string) SafetyVerdict {
	settings := p.loadSettings(ctx, actorID)
	v := safety.Validate(sql, p.readOnly(settings), p.config.AdminOverride)
	return SafetyVerdict{
		Valid:        v.Valid,
		Destructive:  v.Destructive,
		Error:        v.Err,
		Suggestion:   v.Suggestion,
		SetOperation: v.SetOperation,
		BroadQuery:   v.Broad,
	}
}

// Execute runs one attempt through the full state machine. The result always
// carries a status; Execute never panics on runtime failures and never
// returns a Go error: failures are results too, and they are audited.
func (p *Pipeline) Execute(ctx context.Context, req ExecuteRequest) *ExecuteResult {
	return p.run(ctx, req, false)
}

// ExecuteApproved runs a previously approved statement: same settings,
// timeout, row cap, and audit behavior as Execute, but validation and the
// approval gate are skipped. Callers are responsible for only routing
// statements here that a user explicitly confirmed.
func (p *Pipeline) ExecuteApproved(ctx context.Context, req ExecuteRequest) *ExecuteResult {
	return p.run(ctx, req, true)
}

func (p *Pipeline) run(ctx context.Context, req ExecuteRequest, approved bool) *ExecuteResult {
	settings := p.loadSettings(ctx, req.ActorID)

	if req.Clarification != "" && req.SQL == "" {
		result := &ExecuteResult{
			Status:      StatusClarificationNeeded,
			Explanation: req.Clarification,
		}
		p.audit(ctx, settings, req, result)
		return result
	}
	if req.SQL == "" {
		result := &ExecuteResult{Status: StatusError, Error: "no SQL statement provided"}
		p.audit(ctx, settings, req, result)
		return result
	}

	var verdict safety.Verdict
	if approved {
		verdict = safety.Verdict{Valid: true}
	} else {
		verdict = safety.Validate(req.SQL, p.readOnly(settings), p.config.AdminOverride)
		if p.config.AdminOverride && verdict.Destructive {
			p.logger.Warn().
				Str("actor_id", req.ActorID).
				Str("sql", sqlExcerpt(req.SQL)).
				Msg("admin override: destructive statement passed validation")
		}
	}

	if !verdict.Valid {
		result := &ExecuteResult{
			Status:      StatusBlocked,
			SQL:         req.SQL,
			Destructive: verdict.Destructive,
			Error:       verdict.Err,
			Suggestion:  verdict.Suggestion,
		}
		p.logger.Info().
			Str("actor_id", req.ActorID).
			Str("sql", sqlExcerpt(req.SQL)).
			Str("reason", verdict.Err).
			Msg("statement blocked")
		p.audit(ctx, settings, req, result)
		return result
	}

	if !approved && settings.RequireApproval {
		result := &ExecuteResult{
			Status:      StatusApprovalRequired,
			SQL:         req.SQL,
			Destructive: verdict.Destructive,
			Explanation: approvalExplanation(req.SQL, verdict),
		}
		p.audit(ctx, settings, req, result)
		return result
	}

	client, adHoc, err := p.resolveClient(req)
	if err != nil {
		result := p.errorResult(req, err)
		p.audit(ctx, settings, req, result)
		return result
	}
	if adHoc {
		// Ad-hoc clients never join the cache and never outlive the request;
		// WithoutCancel so a request-scoped cancellation cannot leak the pool.
		defer func() {
			if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
				p.logger.Error().Err(err).Msg("ad-hoc client disconnect failed")
			}
		}()
	}

	if err := client.Connect(ctx); err != nil {
		result := p.errorResult(req, err)
		p.audit(ctx, settings, req, result)
		return result
	}

	result := p.runQuery(ctx, client, req, settings, verdict)
	p.audit(ctx, settings, req, result)
	return result
}

// resolveClient picks the client for a request: an explicit connection
// descriptor gets a fresh ad-hoc client the request owns, anything else uses
// the cached system client.
func (p *Pipeline) resolveClient(req ExecuteRequest) (client Client, adHoc bool, err error) {
	if req.Connection != nil {
		client, err = p.registry.Build(*req.Connection)
		return client, true, err
	}
	client, err = p.registry.ResolveSystem()
	return client, false, err
}

func (p *Pipeline) runQuery(ctx context.Context, client Client, req ExecuteRequest, settings Settings, verdict safety.Verdict) *ExecuteResult {
	limit := settings.MaxRowLimit
	if req.RequestedRows > 0 && req.RequestedRows < limit {
		limit = req.RequestedRows
	}

	base := time.Duration(settings.QueryTimeoutMillis) * time.Millisecond
	timeoutDur, matched := p.timeouts.Resolve(req.SQL, base)

	queryCtx, cancel := context.WithTimeout(ctx, timeoutDur)
	defer cancel()

	start := time.Now()
	raw, err := client.RunQuery(queryCtx, req.SQL)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || queryCtx.Err() == context.DeadlineExceeded {
			msg := fmt.Sprintf("query timeout exceeded after %dms", timeoutDur.Milliseconds())
			p.logger.Warn().
				Str("actor_id", req.ActorID).
				Str("sql", sqlExcerpt(req.SQL)).
				Dur("timeout", timeoutDur).
				Str("timeout_rule", matched).
				Msg("query timed out")
			return &ExecuteResult{Status: StatusError, SQL: req.SQL, Error: msg}
		}
		return p.errorResult(req, err)
	}

	rows := raw.Rows
	truncated := false
	if len(rows) > limit {
		rows = rows[:limit]
		truncated = true
	}
	rows = p.redactor.Rows(rows)

	if size := encodedSize(rows); size > p.config.MaxResultChars {
		return &ExecuteResult{
			Status: StatusError,
			SQL:    req.SQL,
			Error: fmt.Sprintf("result too large: %d characters exceeds the %d character limit; narrow the query or lower the row limit",
				size, p.config.MaxResultChars),
		}
	}

	p.logger.Info().
		Str("actor_id", req.ActorID).
		Str("sql", sqlExcerpt(req.SQL)).
		Str("provider", client.ProviderName()).
		Int("rows", len(rows)).
		Bool("truncated", truncated).
		Dur("duration", elapsed).
		Msg("query executed")

	rowCount := len(rows)
	if rowCount == 0 && raw.RowsAffected > 0 {
		rowCount = int(raw.RowsAffected)
	}
	return &ExecuteResult{
		Status:      StatusSuccess,
		Columns:     raw.Columns,
		Rows:        rows,
		RowCount:    rowCount,
		Truncated:   truncated,
		SQL:         req.SQL,
		Destructive: verdict.Destructive,
	}
}

// ListTables lists tables on the system connection.
func (p *Pipeline) ListTables(ctx context.Context) ([]string, error) {
	client, err := p.systemClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.ListTables(ctx)
}

// DescribeTable describes a table on the system connection.
func (p *Pipeline) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	client, err := p.systemClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.DescribeTable(ctx, table)
}

// ExplainQuery returns the execution plan for a statement on the system
// connection. The statement passes the same validation as Execute so EXPLAIN
// cannot be used to smuggle a write.
func (p *Pipeline) ExplainQuery(ctx context.Context, actorID, sql string) (string, error) {
	settings := p.loadSettings(ctx, actorID)
	verdict := safety.Validate(sql, p.readOnly(settings), p.config.AdminOverride)
	if !verdict.Valid {
		return "", fmt.Errorf("statement rejected: %s", verdict.Err)
	}
	client, err := p.systemClient(ctx)
	if err != nil {
		return "", err
	}
	return client.ExplainQuery(ctx, sql)
}

func (p *Pipeline) systemClient(ctx context.Context) (Client, error) {
	client, err := p.registry.ResolveSystem()
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (p *Pipeline) readOnly(settings Settings) bool {
	return p.config.ReadOnly || !settings.AllowDestructiveOps
}

// loadSettings fetches the actor's stored settings, clamped. A store failure
// degrades to defaults with a warning rather than failing the request.
func (p *Pipeline) loadSettings(ctx context.Context, actorID string) Settings {
	if p.settings == nil {
		return DefaultSettings()
	}
	stored, err := p.settings.Load(ctx, actorID)
	if err != nil {
		p.logger.Warn().Err(err).Str("actor_id", actorID).Msg("settings load failed, using defaults")
		return DefaultSettings()
	}
	if stored == nil {
		return DefaultSettings()
	}
	return stored.Clamped()
}

func (p *Pipeline) errorResult(req ExecuteRequest, err error) *ExecuteResult {
	annotated := p.hints.Annotate(err.Error())
	p.logger.Error().
		Str("actor_id", req.ActorID).
		Str("sql", sqlExcerpt(req.SQL)).
		Err(err).
		Msg("execution failed")
	return &ExecuteResult{Status: StatusError, SQL: req.SQL, Error: annotated}
}

// audit writes at most one record per attempt. Blocked and error outcomes are
// always recorded; success and clarification only when the tenant enables the
// audit log; approval_required only when AuditApprovalRequests is on. Sink
// failures are logged and never propagate.
func (p *Pipeline) audit(ctx context.Context, settings Settings, req ExecuteRequest, result *ExecuteResult) {
	write := false
	switch result.Status {
	case StatusBlocked, StatusError:
		write = true
	case StatusSuccess, StatusClarificationNeeded:
		write = settings.EnableAuditLog
	case StatusApprovalRequired:
		write = settings.AuditApprovalRequests
	}
	if !write {
		return
	}

	rec := AuditRecord{
		ID:            uuid.NewString(),
		ActorID:       req.ActorID,
		ConnectionID:  req.ConnectionID,
		SessionID:     req.SessionID,
		Question:      req.Question,
		SQL:           req.SQL,
		Allowed:       result.Status != StatusBlocked,
		ResultCount:   result.RowCount,
		Status:        result.Status,
		Error:         result.Error,
		Clarification: req.Clarification,
		Timestamp:     time.Now().UTC(),
	}
	// WithoutCancel: a record for a timed-out query must still be written
	// even though the request context is already dead.
	if err := p.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Error().Err(err).Str("audit_id", rec.ID).Msg("audit append failed")
	}
}

func approvalExplanation(sql string, verdict safety.Verdict) string {
	kind := "This statement"
	if verdict.Destructive {
		kind = "This statement modifies the database and"
	}
	return fmt.Sprintf("%s requires approval before execution:\n\n%s\n\nResubmit through execute_approved to run it.", kind, sql)
}

func encodedSize(rows []map[string]interface{}) int {
	if len(rows) == 0 {
		return 0
	}
	encoded, err := json.Marshal(rows)
	if err != nil {
		return 0
	}
	return len(encoded)
}
