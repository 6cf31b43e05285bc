// Package config handles daemon configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server   ServerConfig `json:"server"`
	DataDir  string       `json:"data_dir"`
	LogLevel string       `json:"log_level,omitempty"`
	Settings AppSettings  `json:"settings"`
}

// ServerConfig defines how the daemon serves the desktop UI.
type ServerConfig struct {
	Listen string `json:"listen"`
}

// AppSettings are the application-level defaults consulted when a workspace
// does not override them.
type AppSettings struct {
	DefaultProvider string `json:"default_provider,omitempty"`
	ClaudeBin       string `json:"claude_bin,omitempty"`
	ClaudeArgs      string `json:"claude_args,omitempty"`
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	dataDir := "glasswing-data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".glasswing")
	}
	return &Config{
		Server:   ServerConfig{Listen: "127.0.0.1:8777"},
		DataDir:  dataDir,
		LogLevel: "info",
	}
}

// Load reads configuration from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as pretty JSON, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	return nil
}

// AppSettings returns the application-level settings.
func (c *Config) AppSettings() AppSettings {
	return c.Settings
}

// ThreadsPath returns the path of the persisted Claude thread snapshot.
func (c *Config) ThreadsPath() string {
	return filepath.Join(c.DataDir, "claude_threads.json")
}

// WorkspaceDBPath returns the path of the workspace registry database.
func (c *Config) WorkspaceDBPath() string {
	return filepath.Join(c.DataDir, "workspaces.db")
}
