package sqlgate

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPipelineJSON_ConvertsSecondsToDurations(t *testing.T) {
	t.Parallel()
	raw := `{
		"read_only": true,
		"timeout_rules": [{"pattern": "reporting", "timeout_seconds": 45}],
		"redaction_rules": [{"pattern": "secret-\\d+", "replacement": "[SECRET]"}],
		"error_hints": [{"pattern": "deadlock", "message": "Retry the statement."}],
		"max_result_chars": 5000
	}`
	var pj PipelineJSON
	if err := json.Unmarshal([]byte(raw), &pj); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	cfg := pj.PipelineConfig()
	if !cfg.ReadOnly {
		t.Fatal("read_only must carry over")
	}
	if len(cfg.TimeoutRules) != 1 || cfg.TimeoutRules[0].Timeout != 45*time.Second {
		t.Fatalf("unexpected timeout rules: %+v", cfg.TimeoutRules)
	}
	if len(cfg.RedactionRules) != 1 || cfg.RedactionRules[0].Replacement != "[SECRET]" {
		t.Fatalf("unexpected redaction rules: %+v", cfg.RedactionRules)
	}
	if len(cfg.ErrorHints) != 1 || cfg.ErrorHints[0].Message != "Retry the statement." {
		t.Fatalf("unexpected error hints: %+v", cfg.ErrorHints)
	}
	if cfg.MaxResultChars != 5000 {
		t.Fatalf("unexpected max_result_chars: %d", cfg.MaxResultChars)
	}
}

func TestServerConfig_UnmarshalFullShape(t *testing.T) {
	t.Parallel()
	raw := `{
		"registry": {
			"connection_strings": {"postgres": "postgres://app@localhost/app"},
			"provider": "postgres"
		},
		"pipeline": {"read_only": true},
		"settings": {"max_row_limit": 500, "enable_audit_log": true},
		"audit": {"conn_string": "postgres://audit@localhost/audit", "ensure_schema": true},
		"server": {"port": 8080, "health_check_enabled": true, "health_check_path": "/healthz"},
		"logging": {"level": "debug", "format": "json", "output": "stderr"}
	}`
	var cfg ServerConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if cfg.Registry.Provider != ProviderPostgres {
		t.Fatalf("unexpected provider: %q", cfg.Registry.Provider)
	}
	if cfg.Registry.ConnStrings[ProviderPostgres] == "" {
		t.Fatal("connection string missing after unmarshal")
	}
	if cfg.Settings == nil || cfg.Settings.MaxRowLimit != 500 {
		t.Fatalf("unexpected settings: %+v", cfg.Settings)
	}
	if !cfg.Audit.EnsureSchema {
		t.Fatal("audit.ensure_schema must carry over")
	}
	if cfg.Server.Port != 8080 || cfg.Server.HealthCheckPath != "/healthz" {
		t.Fatalf("unexpected server settings: %+v", cfg.Server)
	}
}
