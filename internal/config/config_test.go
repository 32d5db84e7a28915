package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SHELFWATCH_OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.SQLitePath != "./data/shelfwatch.db" {
		t.Errorf("SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", cfg.OpenAI.Model)
	}
	if cfg.Agent.DefaultUserID != 1 {
		t.Errorf("DefaultUserID = %d, want 1", cfg.Agent.DefaultUserID)
	}

	d, err := cfg.AgentCallTimeout()
	if err != nil {
		t.Fatalf("AgentCallTimeout() error = %v", err)
	}
	if d != 30*time.Second {
		t.Errorf("AgentCallTimeout() = %v, want 30s", d)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SHELFWATCH_OPENAI_API_KEY", "sk-test")
	t.Setenv("SHELFWATCH_SERVER_PORT", "9090")
	t.Setenv("SHELFWATCH_OPENAI_MODEL", "gpt-4o-mini")
	t.Setenv("SHELFWATCH_OPENAI_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("SHELFWATCH_STORAGE_SQLITE_PATH", "/tmp/shelfwatch.db")
	t.Setenv("SHELFWATCH_AGENT_CALL_TIMEOUT", "5s")
	t.Setenv("SHELFWATCH_AGENT_DEFAULT_USER_ID", "7")
	t.Setenv("SHELFWATCH_DETECTION_MAPPING_PATH", "/etc/shelfwatch/labels.yaml")
	t.Setenv("SHELFWATCH_DETECTION_MODEL_URL", "http://localhost:8500")
	t.Setenv("SHELFWATCH_DETECTION_WATCH_MAPPING", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", cfg.OpenAI.Model)
	}
	if cfg.OpenAI.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.Storage.SQLitePath != "/tmp/shelfwatch.db" {
		t.Errorf("SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Agent.CallTimeout != "5s" {
		t.Errorf("CallTimeout = %q", cfg.Agent.CallTimeout)
	}
	if cfg.Agent.DefaultUserID != 7 {
		t.Errorf("DefaultUserID = %d, want 7", cfg.Agent.DefaultUserID)
	}
	if cfg.Detection.MappingPath != "/etc/shelfwatch/labels.yaml" {
		t.Errorf("MappingPath = %q", cfg.Detection.MappingPath)
	}
	if cfg.Detection.ModelURL != "http://localhost:8500" {
		t.Errorf("ModelURL = %q", cfg.Detection.ModelURL)
	}
	if !cfg.Detection.WatchMapping {
		t.Error("WatchMapping = false, want true")
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv("SHELFWATCH_OPENAI_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server:
  port: 9000
agent:
  call_timeout: 10s
detection:
  watch_mapping: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Agent.CallTimeout != "10s" {
		t.Errorf("CallTimeout = %q, want 10s", cfg.Agent.CallTimeout)
	}
	if !cfg.Detection.WatchMapping {
		t.Error("WatchMapping = false, want true")
	}
}

func TestLoad_MissingFileIsSkipped(t *testing.T) {
	t.Setenv("SHELFWATCH_OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing api key",
			env:  map[string]string{},
		},
		{
			name: "bad timeout",
			env: map[string]string{
				"SHELFWATCH_OPENAI_API_KEY":     "sk-test",
				"SHELFWATCH_AGENT_CALL_TIMEOUT": "soon",
			},
		},
		{
			name: "port out of range",
			env: map[string]string{
				"SHELFWATCH_OPENAI_API_KEY": "sk-test",
				"SHELFWATCH_SERVER_PORT":    "70000",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if !domain.IsKind(err, domain.ErrKindConfig) {
				t.Errorf("Load() = %v, want config error", err)
			}
		})
	}
}
