package config

import (
	"log/slog"
	"os"
)

// Environment variables the loader reads. Secrets live only here so a
// config file can be committed without leaking them.
const (
	EnvConfigFile    = "RALPH_CONFIG"
	EnvNATSURL       = "RALPH_NATS_URL"
	EnvListenAddr    = "RALPH_ADDR"
	EnvWebhookSecret = "RALPH_WEBHOOK_SECRET"
	EnvGitHubToken   = "RALPH_GITHUB_TOKEN"
	EnvLLMAPIKey     = "RALPH_LLM_API_KEY"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load builds the effective configuration:
// 1. defaults
// 2. YAML file (explicit path, or RALPH_CONFIG, or ralph.yaml if present)
// 3. environment overrides, including all secrets
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		if _, err := os.Stat("ralph.yaml"); err == nil {
			path = "ralph.yaml"
		}
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("loaded config file", slog.String("path", path))
		config.Merge(fileConfig)
	}

	if url := os.Getenv(EnvNATSURL); url != "" {
		config.NATS.URL = url
	}
	if addr := os.Getenv(EnvListenAddr); addr != "" {
		config.Server.Addr = addr
	}
	config.GitHub.WebhookSecret = os.Getenv(EnvWebhookSecret)
	config.GitHub.Token = os.Getenv(EnvGitHubToken)
	config.LLM.APIKey = os.Getenv(EnvLLMAPIKey)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
