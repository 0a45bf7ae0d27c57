package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "ticketd", cfg.Temporal.TaskQueue)
	assert.Equal(t, 5*time.Minute, cfg.Routes.TTL.Duration())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing host", func(c *Config) { c.Temporal.HostPort = "" }, "host_port is required"},
		{"missing queue", func(c *Config) { c.Temporal.TaskQueue = "" }, "task_queue is required"},
		{"bad port", func(c *Config) { c.Webhook.Port = 0 }, "invalid webhook port"},
		{"bad ttl", func(c *Config) { c.Routes.TTL = 0 }, "ttl must be positive"},
		{"no workspace", func(c *Config) { c.Workspace.Root = "" }, "workspace root is required"},
		{"bad logging", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWithFile(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
temporal:
  host_port: temporal.internal:7233
  task_queue: ticketd-staging
github:
  token: ghp_testtoken
routes:
  ttl: 1m
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := LoadWithFile(path)
		require.NoError(t, err)
		assert.Equal(t, "temporal.internal:7233", cfg.Temporal.HostPort)
		assert.Equal(t, "ticketd-staging", cfg.Temporal.TaskQueue)
		assert.Equal(t, "ghp_testtoken", cfg.GitHub.Token.Value())
		assert.Equal(t, time.Minute, cfg.Routes.TTL.Duration())
	})

	t.Run("environment overrides yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("temporal:\n  task_queue: from-file\n"), 0o600))
		t.Setenv("TICKETD_TEMPORAL_TASK_QUEUE", "from-env")

		cfg, err := LoadWithFile(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Temporal.TaskQueue)
	})

	t.Run("world-readable file rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too open")
	})
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("ghp_supersecret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "ghp_supersecret", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())

	out, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{Token: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "supersecret")
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))

	text, err := Duration(time.Minute).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m0s", string(text))
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "temporal.host_port", envTransform("TICKETD_TEMPORAL_HOST_PORT"))
	assert.Equal(t, "github.webhook_secret", envTransform("TICKETD_GITHUB_WEBHOOK_SECRET"))
	assert.Equal(t, "logging.level", envTransform("TICKETD_LOGGING_LEVEL"))
}
