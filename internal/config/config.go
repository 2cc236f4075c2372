// Package config loads the server and client/workspace configuration:
// a YAML file on disk with environment-variable fallbacks for the fields
// most often overridden at the command line.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures a tandemd process.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJSON"`
}

// DefaultServerConfig returns the built-in defaults before file or
// environment overrides are applied.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:     "127.0.0.1:7420",
		DataDir:  "./tandem-data",
		LogLevel: "info",
		LogJSON:  false,
	}
}

// LoadServerConfig reads a YAML file at path (if non-empty and present)
// over DefaultServerConfig, then applies the TANDEM_ADDR, TANDEM_DATA_DIR
// and TANDEM_LOG_LEVEL environment variables: each one that is set
// overrides both the file and the default.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return ServerConfig{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return ServerConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("TANDEM_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("TANDEM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TANDEM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// WorkspaceConfig records the server address and workspace name a client
// uses by default, so commands don't need --addr/--workspace every time.
type WorkspaceConfig struct {
	Addr      string `yaml:"addr"`
	Workspace string `yaml:"workspace"`
}

// LoadWorkspaceConfig reads a YAML file at path (if present), then applies
// the TANDEM_ADDR/TANDEM_WORKSPACE environment variables: each one that is
// set overrides the value from the file.
func LoadWorkspaceConfig(path string) (WorkspaceConfig, error) {
	var cfg WorkspaceConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return WorkspaceConfig{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return WorkspaceConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("TANDEM_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("TANDEM_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}

	return cfg, nil
}
