// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all relay configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// XMPP session
	XMPPHost        string `env:"SMARTYCHAT_XMPP_HOST"` // empty: derive from JID domain
	XMPPNoTLS       bool   `env:"SMARTYCHAT_XMPP_NO_TLS" envDefault:"false"`
	XMPPDebug       bool   `env:"SMARTYCHAT_XMPP_DEBUG" envDefault:"false"`
	CredentialsFile string `env:"SMARTYCHAT_CREDENTIALS_FILE" envDefault:"smartychat.creds"`

	// State persistence
	StateFile    string        `env:"SMARTYCHAT_STATE_FILE" envDefault:"smartychat.state"`
	SaveInterval time.Duration `env:"SMARTYCHAT_SAVE_INTERVAL" envDefault:"10s"`

	// Outbound batching
	BatchInterval    time.Duration `env:"SMARTYCHAT_BATCH_INTERVAL" envDefault:"1s"`
	SeparateMessages bool          `env:"SMARTYCHAT_SEPARATE_MESSAGES" envDefault:"false"`

	// Monitoring
	MetricsEnabled  bool          `env:"SMARTYCHAT_METRICS_ENABLED" envDefault:"true"`
	MetricsAddr     string        `env:"SMARTYCHAT_METRICS_ADDR" envDefault:":9100"`
	MetricsInterval time.Duration `env:"SMARTYCHAT_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file and the environment.
// Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.CredentialsFile == "" {
		return fmt.Errorf("SMARTYCHAT_CREDENTIALS_FILE is required")
	}
	if c.StateFile == "" {
		return fmt.Errorf("SMARTYCHAT_STATE_FILE is required")
	}
	if c.SaveInterval < 0 {
		return fmt.Errorf("SMARTYCHAT_SAVE_INTERVAL must be >= 0, got %v", c.SaveInterval)
	}
	if c.BatchInterval < 0 {
		return fmt.Errorf("SMARTYCHAT_BATCH_INTERVAL must be >= 0, got %v", c.BatchInterval)
	}
	if c.MetricsEnabled && c.MetricsAddr == "" {
		return fmt.Errorf("SMARTYCHAT_METRICS_ADDR is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig logs the loaded configuration with structured fields.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("xmpp_host", c.XMPPHost).
		Bool("xmpp_no_tls", c.XMPPNoTLS).
		Str("credentials_file", c.CredentialsFile).
		Str("state_file", c.StateFile).
		Dur("save_interval", c.SaveInterval).
		Dur("batch_interval", c.BatchInterval).
		Bool("separate_messages", c.SeparateMessages).
		Bool("metrics_enabled", c.MetricsEnabled).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Configuration loaded")
}
