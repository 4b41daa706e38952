package sqlgate

import (
	"time"

	"sqlgate/internal/hints"
	"sqlgate/internal/redact"
	"sqlgate/internal/timeout"
)

// ServerConfig is the full CLI-mode configuration, loaded from a JSON file.
// Library users construct Registry and Pipeline directly and skip this.
type ServerConfig struct {
	Registry RegistryConfig `json:"registry"`
	Pipeline PipelineJSON   `json:"pipeline"`
	Settings *Settings      `json:"settings,omitempty"`
	Audit    AuditConfig    `json:"audit"`
	Server   ServerSettings `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
}

// AuditConfig selects the durable audit and settings store. An empty
// ConnString means records are discarded and the static settings apply.
type AuditConfig struct {
	ConnString   string `json:"conn_string,omitempty"`
	EnsureSchema bool   `json:"ensure_schema,omitempty"`
}

// PipelineJSON is the JSON-friendly shape of PipelineConfig: durations are
// expressed in seconds, matching operator expectations in config files.
type PipelineJSON struct {
	ReadOnly       bool                `json:"read_only"`
	AdminOverride  bool                `json:"admin_override"`
	TimeoutRules   []TimeoutRuleJSON   `json:"timeout_rules,omitempty"`
	RedactionRules []RedactionRuleJSON `json:"redaction_rules,omitempty"`
	ErrorHints     []ErrorHintJSON     `json:"error_hints,omitempty"`
	MaxResultChars int                 `json:"max_result_chars,omitempty"`
}

// TimeoutRuleJSON maps a SQL regex pattern to a timeout in seconds.
type TimeoutRuleJSON struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RedactionRuleJSON is a regex replacement applied to result field values.
type RedactionRuleJSON struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description,omitempty"`
}

// ErrorHintJSON maps an error-message pattern to a remediation hint.
type ErrorHintJSON struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// PipelineConfig converts the JSON shape into the runtime configuration.
func (p PipelineJSON) PipelineConfig() PipelineConfig {
	cfg := PipelineConfig{
		ReadOnly:       p.ReadOnly,
		AdminOverride:  p.AdminOverride,
		MaxResultChars: p.MaxResultChars,
	}
	for _, r := range p.TimeoutRules {
		cfg.TimeoutRules = append(cfg.TimeoutRules, timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		})
	}
	for _, r := range p.RedactionRules {
		cfg.RedactionRules = append(cfg.RedactionRules, redact.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
		})
	}
	for _, r := range p.ErrorHints {
		cfg.ErrorHints = append(cfg.ErrorHints, hints.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		})
	}
	return cfg
}

// ServerSettings holds HTTP server settings for CLI mode.
type ServerSettings struct {
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, or file path
}
