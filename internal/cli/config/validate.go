package config

import (
	"fmt"
	"log/slog"
	"strings"
)

var outputFormats = []string{"auto", "text", "markdown", "json", "yaml"}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.ProjectConfig.Validate(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	valid := false
	for _, f := range outputFormats {
		if strings.EqualFold(c.OutputFormat, f) {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("output must be one of %s, got %q", strings.Join(outputFormats, "|"), c.OutputFormat)
	}
	if c.Serve.Addr == "" {
		return fmt.Errorf("serve.addr is required")
	}
	return nil
}

// ParseLevel converts a log level name into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Level returns the effective log level. --verbose forces debug.
func (c *Config) Level() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return l
}
