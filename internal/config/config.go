// Package config loads the JSON application configuration and the YAML
// routing policy. Config strings support ${VAR} and ${VAR:-default}
// environment substitution so secrets stay out of the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration for ReplyPilot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Model     ModelConfig     `json:"model"`
	Store     StoreConfig     `json:"store"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Policy    PolicyConfig    `json:"policy"`
	Channels  ChannelsConfig  `json:"channels"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	StageTimeoutSeconds   int    `json:"stageTimeoutSeconds"`
}

// ModelConfig selects the capability backend. Mode "stub" runs the
// deterministic offline capabilities; "openai" runs the live ones.
type ModelConfig struct {
	Mode                string `json:"mode"` // "openai" | "stub"
	APIKey              string `json:"apiKey,omitempty"`
	APIBase             string `json:"apiBase,omitempty"`
	ClassifierModel     string `json:"classifierModel,omitempty"`
	DrafterModel        string `json:"drafterModel,omitempty"`
	VerifierModel       string `json:"verifierModel,omitempty"`
	EmbeddingModel      string `json:"embeddingModel,omitempty"`
	EmbeddingDimensions int    `json:"embeddingDimensions,omitempty"`
	MaxRetries          int    `json:"maxRetries,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type RetrievalConfig struct {
	TopK      int     `json:"topK"`
	Threshold float64 `json:"threshold"`
}

// PolicyConfig points at the YAML routing policy file.
type PolicyConfig struct {
	Path string `json:"path"`
}

type ChannelsConfig struct {
	Webhook  WebhookConfig  `json:"webhook"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	Path    string `json:"path"`
	Secret  string `json:"secret,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	ParseMode string `json:"parseMode"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Defaults returns a config with sensible defaults applied. Load starts from
// this so an omitted section never yields zero values at runtime.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 4,
			StageTimeoutSeconds:   60,
		},
		Model: ModelConfig{
			Mode: "stub",
		},
		Store: StoreConfig{
			DBPath: "./data/replypilot.db",
		},
		Retrieval: RetrievalConfig{
			TopK:      5,
			Threshold: 0.7,
		},
		Policy: PolicyConfig{
			Path: "./config/policy.yaml",
		},
		Channels: ChannelsConfig{
			Webhook: WebhookConfig{
				Listen: ":8080",
				Path:   "/webhook",
			},
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads, env-expands, parses and validates a config file.
func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Validate checks cross-field constraints that JSON decoding cannot express.
func Validate(cfg *Config) error {
	switch cfg.Model.Mode {
	case "stub":
	case "openai":
		if cfg.Model.APIKey == "" {
			return fmt.Errorf("model mode %q requires an API key", cfg.Model.Mode)
		}
	default:
		return fmt.Errorf("unknown model mode %q", cfg.Model.Mode)
	}

	if cfg.Store.DBPath == "" {
		return fmt.Errorf("store.dbPath is required")
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.topK must be positive, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.Threshold < 0 || cfg.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be in [0,1], got %f", cfg.Retrieval.Threshold)
	}
	if cfg.General.MaxConcurrentMessages <= 0 {
		return fmt.Errorf("general.maxConcurrentMessages must be positive")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram channel enabled without a token")
	}
	if cfg.Channels.Webhook.Enabled && cfg.Channels.Webhook.Secret == "" {
		return fmt.Errorf("webhook channel enabled without a signing secret")
	}
	return nil
}

// StageTimeout returns the per-stage timeout as a duration.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.General.StageTimeoutSeconds) * time.Second
}
