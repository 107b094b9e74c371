package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv(EnvWebhookSecret, "hook-secret")
	t.Setenv(EnvGitHubToken, "gh-token")
	t.Setenv(EnvLLMAPIKey, "llm-key")
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, 10*time.Second, c.Server.ReadTimeout)
	assert.Equal(t, 2*time.Minute, c.LLM.Timeout)
	assert.Equal(t, 5, c.Orchestrator.MaxTaskAttempts)
	assert.Equal(t, 30, c.Orchestrator.EventRetentionDays)
	assert.Equal(t, 2, c.Orchestrator.SpecGenRetries)
	assert.False(t, c.GitHub.AutoMergeEnabled)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.GitHub.Owner = "c360studio"
		c.GitHub.Repo = "ralph"
		c.GitHub.WebhookSecret = "s"
		c.GitHub.Token = "t"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing repo", func(c *Config) { c.GitHub.Repo = "" }, "github.owner and github.repo"},
		{"missing webhook secret", func(c *Config) { c.GitHub.WebhookSecret = "" }, "RALPH_WEBHOOK_SECRET"},
		{"missing token", func(c *Config) { c.GitHub.Token = "" }, "RALPH_GITHUB_TOKEN"},
		{"missing llm model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 1.5 }, "llm.temperature"},
		{"zero attempts", func(c *Config) { c.Orchestrator.MaxTaskAttempts = 0 }, "max_task_attempts"},
		{"zero retention", func(c *Config) { c.Orchestrator.EventRetentionDays = 0 }, "event_retention_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		Server:       ServerConfig{Addr: ":9999"},
		GitHub:       GitHubConfig{Owner: "c360studio", Repo: "ralph", AutoMergeEnabled: true},
		Orchestrator: OrchestratorConfig{MaxTaskAttempts: 3},
	})

	assert.Equal(t, ":9999", base.Server.Addr)
	assert.Equal(t, "ralph", base.GitHub.Repo)
	assert.True(t, base.GitHub.AutoMergeEnabled)
	assert.Equal(t, 3, base.Orchestrator.MaxTaskAttempts)
	// Untouched values keep their defaults.
	assert.Equal(t, "nats://localhost:4222", base.NATS.URL)
	assert.Equal(t, 30, base.Orchestrator.EventRetentionDays)
}

func TestLoader_FileAndEnvLayering(t *testing.T) {
	setSecrets(t)
	t.Setenv(EnvNATSURL, "nats://override:4222")

	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":7070"
  shutdown_timeout: 5s
nats:
  url: nats://from-file:4222
github:
  owner: c360studio
  repo: ralph
orchestrator:
  max_task_attempts: 4
`), 0o644))

	c, err := NewLoader(nil).Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", c.Server.Addr)
	assert.Equal(t, 5*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, "nats://override:4222", c.NATS.URL, "environment wins over file")
	assert.Equal(t, 4, c.Orchestrator.MaxTaskAttempts)
	assert.Equal(t, "hook-secret", c.GitHub.WebhookSecret)
	assert.Equal(t, "gh-token", c.GitHub.Token)
	assert.Equal(t, "llm-key", c.LLM.APIKey)
}

func TestLoader_MissingSecretsFail(t *testing.T) {
	t.Setenv(EnvWebhookSecret, "")
	t.Setenv(EnvGitHubToken, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("github:\n  owner: o\n  repo: r\n"), 0o644))

	_, err := NewLoader(nil).Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RALPH_WEBHOOK_SECRET")
}

func TestLoader_BadFileSurfacesError(t *testing.T) {
	setSecrets(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0o644))

	_, err := NewLoader(nil).Load(path)
	assert.Error(t, err)
}
