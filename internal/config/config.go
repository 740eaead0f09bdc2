// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Terminals TerminalConfig
	Logging   LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"7070"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// TerminalConfig holds terminal subsystem configuration.
type TerminalConfig struct {
	// DataDir is the root directory for the SQLite database, dtach
	// sockets, and persisted scrollback buffers.
	DataDir string `envconfig:"DATA_DIR" default:"/tmp/termhub"`

	// DtachBin overrides the dtach binary path. Empty means resolve
	// from PATH.
	DtachBin string `envconfig:"DTACH_BIN" default:""`

	// Shell is the shell spawned inside new sessions. Empty means the
	// user's $SHELL with a /bin/bash fallback.
	Shell string `envconfig:"SHELL_BIN" default:""`

	// ReuseByCwd enables returning an existing running terminal when a
	// create request names a working directory that already has one.
	ReuseByCwd bool `envconfig:"DUP_CWD_REUSE" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "7070",
			Host: "0.0.0.0",
		},
		Terminals: TerminalConfig{
			DataDir:    "/tmp/termhub",
			ReuseByCwd: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// DatabasePath returns the SQLite database location under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Terminals.DataDir, "termhub.db")
}

// SocketDir returns the dtach socket directory under DataDir.
func (c *Config) SocketDir() string {
	return filepath.Join(c.Terminals.DataDir, "sockets")
}

// BufferDir returns the scrollback buffer directory under DataDir.
func (c *Config) BufferDir() string {
	return filepath.Join(c.Terminals.DataDir, "buffers")
}
