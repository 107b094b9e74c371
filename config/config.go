// Package config provides configuration loading and management for Ralph.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete Ralph configuration. Secrets never appear in the
// YAML file; the loader reads them from the environment.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	NATS         NATSConfig         `yaml:"nats"`
	GitHub       GitHubConfig       `yaml:"github"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NATSConfig configures the JetStream connection backing the store.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// GitHubConfig configures the hosting provider adapter.
type GitHubConfig struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	// APIBaseURL overrides the GitHub API endpoint for enterprise installs.
	// Empty means api.github.com.
	APIBaseURL string `yaml:"api_base_url"`
	// BaseBranch is the branch the commit baseline is read from.
	BaseBranch string `yaml:"base_branch"`
	// AutoMergeEnabled gates enabling auto-merge on approved pull requests.
	AutoMergeEnabled bool `yaml:"auto_merge_enabled"`

	// WebhookSecret and Token come from RALPH_WEBHOOK_SECRET and
	// RALPH_GITHUB_TOKEN, never from the file.
	WebhookSecret string `yaml:"-"`
	Token         string `yaml:"-"`
}

// LLMConfig configures the completion endpoint shared by the agent roles.
type LLMConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	// Timeout bounds one completion round trip.
	Timeout time.Duration `yaml:"timeout"`

	// APIKey comes from RALPH_LLM_API_KEY, never from the file.
	APIKey string `yaml:"-"`
}

// OrchestratorConfig tunes retry budgets and housekeeping.
type OrchestratorConfig struct {
	// SpecGenRetries is the in-boundary retry budget for spec generation.
	SpecGenRetries    int           `yaml:"spec_gen_retries"`
	SpecGenBaseDelay  time.Duration `yaml:"spec_gen_base_delay"`
	SpecGenMaxDelay   time.Duration `yaml:"spec_gen_max_delay"`
	ExecutorRetries   int           `yaml:"executor_retries"`
	ExecutorBaseDelay time.Duration `yaml:"executor_base_delay"`
	ExecutorMaxDelay  time.Duration `yaml:"executor_max_delay"`
	// MaxTaskAttempts is the outer attempt ceiling; a task that reaches it
	// is blocked rather than retried again.
	MaxTaskAttempts int `yaml:"max_task_attempts"`
	// EventRetentionDays bounds how long processed deliveries are kept.
	EventRetentionDays int `yaml:"event_retention_days"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		GitHub: GitHubConfig{
			BaseBranch:       "main",
			AutoMergeEnabled: false,
		},
		LLM: LLMConfig{
			Endpoint:    "http://localhost:11434/v1",
			Model:       "qwen2.5-coder:32b",
			Temperature: 0.2,
			Timeout:     2 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			SpecGenRetries:     2,
			SpecGenBaseDelay:   500 * time.Millisecond,
			SpecGenMaxDelay:    2500 * time.Millisecond,
			ExecutorRetries:    2,
			ExecutorBaseDelay:  time.Second,
			ExecutorMaxDelay:   6 * time.Second,
			MaxTaskAttempts:    5,
			EventRetentionDays: 30,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		return fmt.Errorf("github.owner and github.repo are required")
	}
	if c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("RALPH_WEBHOOK_SECRET is required")
	}
	if c.GitHub.Token == "" {
		return fmt.Errorf("RALPH_GITHUB_TOKEN is required")
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1")
	}
	if c.Orchestrator.MaxTaskAttempts < 1 {
		return fmt.Errorf("orchestrator.max_task_attempts must be at least 1")
	}
	if c.Orchestrator.EventRetentionDays < 1 {
		return fmt.Errorf("orchestrator.event_retention_days must be at least 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// Merge merges another config into this one; other takes precedence for
// non-zero values.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	if other.GitHub.Owner != "" {
		c.GitHub.Owner = other.GitHub.Owner
	}
	if other.GitHub.Repo != "" {
		c.GitHub.Repo = other.GitHub.Repo
	}
	if other.GitHub.APIBaseURL != "" {
		c.GitHub.APIBaseURL = other.GitHub.APIBaseURL
	}
	if other.GitHub.BaseBranch != "" {
		c.GitHub.BaseBranch = other.GitHub.BaseBranch
	}
	if other.GitHub.AutoMergeEnabled {
		c.GitHub.AutoMergeEnabled = true
	}

	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}

	o := other.Orchestrator
	if o.SpecGenRetries != 0 {
		c.Orchestrator.SpecGenRetries = o.SpecGenRetries
	}
	if o.SpecGenBaseDelay != 0 {
		c.Orchestrator.SpecGenBaseDelay = o.SpecGenBaseDelay
	}
	if o.SpecGenMaxDelay != 0 {
		c.Orchestrator.SpecGenMaxDelay = o.SpecGenMaxDelay
	}
	if o.ExecutorRetries != 0 {
		c.Orchestrator.ExecutorRetries = o.ExecutorRetries
	}
	if o.ExecutorBaseDelay != 0 {
		c.Orchestrator.ExecutorBaseDelay = o.ExecutorBaseDelay
	}
	if o.ExecutorMaxDelay != 0 {
		c.Orchestrator.ExecutorMaxDelay = o.ExecutorMaxDelay
	}
	if o.MaxTaskAttempts != 0 {
		c.Orchestrator.MaxTaskAttempts = o.MaxTaskAttempts
	}
	if o.EventRetentionDays != 0 {
		c.Orchestrator.EventRetentionDays = o.EventRetentionDays
	}
}
