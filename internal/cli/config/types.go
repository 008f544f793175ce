// Package config provides configuration management for the qasmlens CLI.
//
// This package extends the shared project configuration from
// internal/config with CLI-specific fields and functionality.
package config

import (
	sharedcfg "github.com/leapstack-labs/qasmlens/internal/config"
)

// ProjectConfig is an alias for the shared project configuration.
type ProjectConfig = sharedcfg.ProjectConfig

// ModuleConfig is an alias for the shared module configuration.
type ModuleConfig = sharedcfg.ModuleConfig

// ServeConfig holds configuration for the HTTP API server.
type ServeConfig struct {
	Addr string `koanf:"addr"`
}

// Config holds all CLI configuration options.
type Config struct {
	ProjectConfig `koanf:",squash"`

	LogLevel     string      `koanf:"log_level"`
	Verbose      bool        `koanf:"verbose"`
	OutputFormat string      `koanf:"output"`
	Serve        ServeConfig `koanf:"serve"`

	// ProjectRoot is the directory relative paths were resolved against.
	ProjectRoot string `koanf:"-"`
	// ConfigFile is the config file that was read, if any.
	ConfigFile string `koanf:"-"`
}

// Default configuration values.
const (
	DefaultLogLevel  = "warn"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultServeAddr = ":8787"
	EnvPrefix        = "QASMLENS_"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{
		LogLevel:     DefaultLogLevel,
		OutputFormat: DefaultOutput,
		Serve:        ServeConfig{Addr: DefaultServeAddr},
	}
	c.ApplyDefaults()
	return c
}
