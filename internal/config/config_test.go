package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"general": {"logLevel": "debug"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Errorf("logLevel = %q, want debug", cfg.General.LogLevel)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("topK default = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.Threshold != 0.7 {
		t.Errorf("threshold default = %f, want 0.7", cfg.Retrieval.Threshold)
	}
	if cfg.Model.Mode != "stub" {
		t.Errorf("model mode default = %q, want stub", cfg.Model.Mode)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("RP_TEST_KEY", "sk-secret")

	path := writeConfig(t, `{
		"model": {"mode": "openai", "apiKey": "${RP_TEST_KEY}"},
		"store": {"dbPath": "${RP_TEST_DB:-./fallback.db}"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.APIKey != "sk-secret" {
		t.Errorf("apiKey = %q, env var not expanded", cfg.Model.APIKey)
	}
	if cfg.Store.DBPath != "./fallback.db" {
		t.Errorf("dbPath = %q, default not applied", cfg.Store.DBPath)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RP_SET", "value")

	tests := []struct {
		in   string
		want string
	}{
		{"${RP_SET}", "value"},
		{"${RP_UNSET_XYZ}", "${RP_UNSET_XYZ}"},
		{"${RP_UNSET_XYZ:-fallback}", "fallback"},
		{"${RP_SET:-fallback}", "value"},
		{"prefix-${RP_SET}-suffix", "prefix-value-suffix"},
		{"no vars here", "no vars here"},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"openai without key", func(c *Config) { c.Model.Mode = "openai" }},
		{"unknown mode", func(c *Config) { c.Model.Mode = "oracle" }},
		{"empty db path", func(c *Config) { c.Store.DBPath = "" }},
		{"zero topK", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"threshold above one", func(c *Config) { c.Retrieval.Threshold = 1.5 }},
		{"telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }},
		{"webhook without secret", func(c *Config) { c.Channels.Webhook.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
