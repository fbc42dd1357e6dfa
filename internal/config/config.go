// Package config loads agentmaild's runtime configuration from
// environment variables, in the teacher's default-then-env-override
// style (config.Loader in the retrieval pack), simplified since this
// daemon has no YAML file to layer in.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is agentmaild's complete runtime configuration.
type Config struct {
	// AgentName, if set, skips identity.DetectName's host-heuristic
	// lookup (spec.md §4.2 detection order: env override first).
	AgentName string

	// DataDir holds the sqlite database file and the machine-id file.
	// Defaults to ~/.ai_mail.
	DataDir string

	// LogLevel is one of zap's level names; defaults to "info".
	LogLevel string
	// LogFormat is "json" or "console"; defaults to "json".
	LogFormat string

	// MetricsAddr is the /metrics listen address; defaults to
	// "127.0.0.1:9090". Empty disables the metrics server.
	MetricsAddr string
}

// Load builds a Config from environment variables, applying defaults
// for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		AgentName:   os.Getenv("AI_AGENT_NAME"),
		DataDir:     os.Getenv("AI_MAIL_DATA_DIR"),
		LogLevel:    envOrDefault("AI_MAIL_LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("AI_MAIL_LOG_FORMAT", "json"),
		MetricsAddr: envOrDefault("AI_MAIL_METRICS_ADDR", "127.0.0.1:9090"),
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".ai_mail")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants Load cannot enforce by construction.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q: must be json or console", c.LogFormat)
	}
	return nil
}

// DBPath is the sqlite database file path under DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "mailbox.db")
}

// MachineIDPath is the persisted machine-id file path under DataDir.
func (c *Config) MachineIDPath() string {
	return filepath.Join(c.DataDir, "machine-id")
}

// EnsureDataDir creates DataDir (and parents) if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
