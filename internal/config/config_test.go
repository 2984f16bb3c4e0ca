package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "http://localhost:4000", cfg.Server.PublicBaseURL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.HeartbeatInterval)
	assert.Equal(t, 3, cfg.Dispatch.StaleMultiplier)
	assert.Equal(t, 10*time.Second, cfg.Agent.HeartbeatInterval)
	assert.Zero(t, cfg.Agent.JobTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
  public_base_url: https://transcode.example.com/
logging:
  level: debug
  format: text
agent:
  controller_url: https://transcode.example.com
  token: abcdefghijklmnopqrstuvwxy
  concurrency: 4
  job_timeout: 2h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://transcode.example.com/", cfg.Server.PublicBaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 4, cfg.Agent.Concurrency)
	assert.Equal(t, 2*time.Hour, cfg.Agent.JobTimeout)
	assert.Equal(t, "abcdefghijklmnopqrstuvwxy", cfg.Agent.Token)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ENCODEFLEET_SERVER_PORT", "5555")
	t.Setenv("ENCODEFLEET_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5555, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "bad base url scheme",
			mutate:  func(c *Config) { c.Server.PublicBaseURL = "ftp://example.com" },
			wantErr: "public_base_url",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "zero heartbeat",
			mutate:  func(c *Config) { c.Dispatch.HeartbeatInterval = 0 },
			wantErr: "heartbeat_interval",
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Agent.Concurrency = -1 },
			wantErr: "concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestStaleCutoff(t *testing.T) {
	d := DispatchConfig{HeartbeatInterval: 10 * time.Second, StaleMultiplier: 3}
	assert.Equal(t, 30*time.Second, d.StaleCutoff())
}

func TestServerAddress(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 4000}
	assert.Equal(t, "127.0.0.1:4000", s.Address())
}
