package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	endpoint, err := cfg.Client.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/agent", endpoint)

	policy := cfg.Client.Policy()
	assert.Equal(t, time.Second, policy.BaseDelay)
	assert.Equal(t, 5, policy.MaxAttempts)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "agentws.yaml", `
client:
  origin: https://app.example.com
  path: /ws/agent
  reconnect:
    base_delay: 500ms
    max_delay: 10s
    max_attempts: 3
  ping_interval: 15s
logging:
  level: debug
  format: json
`)

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)

	endpoint, err := cfg.Client.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "wss://app.example.com/ws/agent", endpoint)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.Policy().BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Client.Policy().MaxDelay)
	assert.Equal(t, 3, cfg.Client.Policy().MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Client.TransportOptions().PingInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "agentws.json", `{
		"client": {"origin": "http://localhost:3000", "read_timeout": 30, "reconnect": {"base_delay": "2s", "max_attempts": 1}},
		"session": {"file": "/tmp/session.json"}
	}`)

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Client.ReadTimeout.Std())
	assert.Equal(t, 2*time.Second, cfg.Client.Policy().BaseDelay)
	assert.Equal(t, "/tmp/session.json", cfg.Session.File)
	assert.Equal(t, "/ws/agent", cfg.Client.Path)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTWS_ORIGIN", "https://staging.example.com")
	t.Setenv("AGENTWS_TOKEN", "tok-env")
	t.Setenv("AGENTWS_MAX_ATTEMPTS", "7")
	t.Setenv("AGENTWS_LOG_LEVEL", "warn")
	t.Setenv("AGENTWS_METRICS_ADDR", ":9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://staging.example.com", cfg.Client.Origin)
	assert.Equal(t, "tok-env", cfg.Client.Token)
	assert.Equal(t, 7, cfg.Client.Reconnect.MaxAttempts)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("unsupported format", func(t *testing.T) {
		_, err := Load(LoadOptions{Path: writeFile(t, "agentws.toml", "")})
		assert.ErrorContains(t, err, "unsupported config file format")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "missing.yaml")})
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(LoadOptions{Path: writeFile(t, "agentws.yaml", "client:\n  ping_interval: soon\n")})
		assert.Error(t, err)
	})

	t.Run("bad env", func(t *testing.T) {
		t.Setenv("AGENTWS_MAX_ATTEMPTS", "many")
		_, err := Load()
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "client.reconnect.max_attempts", cfgErr.Field)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "empty origin", mutate: func(c *Config) { c.Client.Origin = "" }, field: "client.origin"},
		{name: "bad scheme", mutate: func(c *Config) { c.Client.Origin = "ftp://x" }, field: "client.origin"},
		{name: "zero base delay", mutate: func(c *Config) { c.Client.Reconnect.BaseDelay = 0 }, field: "client.reconnect"},
		{name: "negative attempts", mutate: func(c *Config) { c.Client.Reconnect.MaxAttempts = -1 }, field: "client.reconnect"},
		{name: "negative timeout", mutate: func(c *Config) { c.Client.ReadTimeout = -1 }, field: "client.timeouts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
