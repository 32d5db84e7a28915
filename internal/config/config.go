// Package config loads service configuration from an optional YAML file
// and SHELFWATCH_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/shelfwatch/shelfwatch/internal/domain"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Agent     AgentConfig     `koanf:"agent"`
	Detection DetectionConfig `koanf:"detection"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	SQLitePath string `koanf:"sqlite_path"`
}

type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

type AgentConfig struct {
	// CallTimeout bounds each reasoning backend call, e.g. "30s".
	CallTimeout string `koanf:"call_timeout"`

	// DefaultUserID is attributed to decisions when the model omits one.
	DefaultUserID int64 `koanf:"default_user_id"`
}

type DetectionConfig struct {
	// MappingPath is the YAML file mapping detection labels to products.
	MappingPath string `koanf:"mapping_path"`

	// ModelURL is the base URL of the external detection model service.
	ModelURL string `koanf:"model_url"`

	// WatchMapping enables hot-reload of the mapping file.
	WatchMapping bool `koanf:"watch_mapping"`
}

// Env vars flatten every underscore into the key delimiter, so field
// names that themselves contain an underscore need mapping back to
// their koanf key.
var compoundEnvKeys = map[string]string{
	"storage.sqlite.path":     "storage.sqlite_path",
	"openai.api.key":          "openai.api_key",
	"openai.base.url":         "openai.base_url",
	"agent.call.timeout":      "agent.call_timeout",
	"agent.default.user.id":   "agent.default_user_id",
	"detection.mapping.path":  "detection.mapping_path",
	"detection.model.url":     "detection.model_url",
	"detection.watch.mapping": "detection.watch_mapping",
}

func envKey(s string) string {
	key := strings.Replace(strings.ToLower(strings.TrimPrefix(s, "SHELFWATCH_")), "_", ".", -1)
	if mapped, ok := compoundEnvKeys[key]; ok {
		return mapped
	}
	return key
}

// Load reads configuration from the YAML file at path (skipped when the
// file does not exist) and then overlays environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("server.port", 8080)
	k.Set("storage.sqlite_path", "./data/shelfwatch.db")
	k.Set("openai.model", "gpt-4o")
	k.Set("agent.call_timeout", "30s")
	k.Set("agent.default_user_id", 1)
	k.Set("detection.mapping_path", "./labels.yaml")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("SHELFWATCH_", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on fatal configuration errors; the pipeline does
// not attempt per-event workarounds for a missing credential or store.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return domain.ErrConfig("openai.api_key is required")
	}
	if c.Storage.SQLitePath == "" {
		return domain.ErrConfig("storage.sqlite_path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return domain.ErrConfig(fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if _, err := c.AgentCallTimeout(); err != nil {
		return domain.ErrConfig(fmt.Sprintf("agent.call_timeout invalid: %v", err))
	}
	return nil
}

// AgentCallTimeout parses the per-call deadline.
func (c *Config) AgentCallTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Agent.CallTimeout)
}
