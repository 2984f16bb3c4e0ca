// Package config provides configuration management for encodefleet using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 4000
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultPublicBaseURL    = "http://localhost:4000"
	defaultHeartbeat        = 10 * time.Second
	defaultStaleSweepCron   = "*/30 * * * * *"
	defaultStaleMultiplier  = 3
	defaultAgentConcurrency = 0 // 0 = NumCPU
	defaultUploadTimeout    = 30 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Agent    AgentConfig    `mapstructure:"agent"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
}

// ServerConfig holds controller HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// PublicBaseURL is the externally reachable base URL embedded in lease
	// messages. It can be changed at runtime via the settings API.
	PublicBaseURL string `mapstructure:"public_base_url"`
	// PairingTokens seeds the allowed-tokens set at startup. Each token
	// must be exactly 25 characters.
	PairingTokens []string `mapstructure:"pairing_tokens"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DispatchConfig holds dispatcher and liveness configuration.
type DispatchConfig struct {
	// HeartbeatInterval is the expected worker heartbeat cadence.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// StaleMultiplier times the heartbeat interval gives the staleness
	// cutoff used by the retirement sweep.
	StaleMultiplier int `mapstructure:"stale_multiplier"`
	// StaleSweepCron is a 6-field cron expression for the stale-agent sweep.
	StaleSweepCron string `mapstructure:"stale_sweep_cron"`
}

// AgentConfig holds worker agent configuration.
type AgentConfig struct {
	// ControllerURL is the controller base URL (http or https); the agent
	// derives the websocket URL from it.
	ControllerURL string `mapstructure:"controller_url"`
	// Token is the pairing token presented at registration.
	Token string `mapstructure:"token"`
	// Name is the human label reported at registration (default: hostname).
	Name string `mapstructure:"name"`
	// Concurrency is the declared maximum simultaneous leases (0 = NumCPU).
	Concurrency int `mapstructure:"concurrency"`
	// HeartbeatInterval is the heartbeat cadence.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// JobTimeout kills the transcoder child after this duration (0 = none).
	JobTimeout time.Duration `mapstructure:"job_timeout"`
	// UploadTimeout bounds the output upload request.
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	// TempDir overrides the scratch directory for in-flight outputs.
	TempDir string `mapstructure:"temp_dir"`
}

// FFmpegConfig holds transcoder binary configuration.
type FFmpegConfig struct {
	// BinaryPath is the path to the ffmpeg binary (empty = PATH lookup).
	BinaryPath string `mapstructure:"binary_path"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with ENCODEFLEET_ and use underscores
// for nesting. Example: ENCODEFLEET_SERVER_PORT=4000.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/encodefleet")
		v.AddConfigPath("$HOME/.encodefleet")
	}

	v.SetEnvPrefix("ENCODEFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.public_base_url", defaultPublicBaseURL)
	v.SetDefault("server.pairing_tokens", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Dispatch defaults
	v.SetDefault("dispatch.heartbeat_interval", defaultHeartbeat)
	v.SetDefault("dispatch.stale_multiplier", defaultStaleMultiplier)
	v.SetDefault("dispatch.stale_sweep_cron", defaultStaleSweepCron)

	// Agent defaults
	v.SetDefault("agent.controller_url", defaultPublicBaseURL)
	v.SetDefault("agent.token", "")
	v.SetDefault("agent.name", "")
	v.SetDefault("agent.concurrency", defaultAgentConcurrency)
	v.SetDefault("agent.heartbeat_interval", defaultHeartbeat)
	v.SetDefault("agent.job_timeout", time.Duration(0))
	v.SetDefault("agent.upload_timeout", defaultUploadTimeout)
	v.SetDefault("agent.temp_dir", "")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if !strings.HasPrefix(c.Server.PublicBaseURL, "http://") &&
		!strings.HasPrefix(c.Server.PublicBaseURL, "https://") {
		return fmt.Errorf("server.public_base_url must use http or https")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Dispatch.HeartbeatInterval <= 0 {
		return fmt.Errorf("dispatch.heartbeat_interval must be positive")
	}
	if c.Dispatch.StaleMultiplier < 1 {
		return fmt.Errorf("dispatch.stale_multiplier must be at least 1")
	}

	if c.Agent.Concurrency < 0 {
		return fmt.Errorf("agent.concurrency must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StaleCutoff returns the staleness cutoff derived from the heartbeat
// cadence and multiplier.
func (c *DispatchConfig) StaleCutoff() time.Duration {
	return time.Duration(c.StaleMultiplier) * c.HeartbeatInterval
}
