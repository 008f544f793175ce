// Package config provides shared configuration types for qasmlens.
// This package is decoupled from CLI concerns and can be used by the LSP
// and other tools that need to load project configuration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// ModuleConfig locates and bounds the analysis module.
type ModuleConfig struct {
	Kind         string        `koanf:"kind"` // wasm, starlark; inferred from path when empty
	Path         string        `koanf:"path"` // file path or http(s) URL
	PollInterval time.Duration `koanf:"poll_interval"`
	LoadTimeout  time.Duration `koanf:"load_timeout"`
	CallTimeout  time.Duration `koanf:"call_timeout"`
	MaxSteps     uint64        `koanf:"max_steps"` // starlark only
}

// AnalysisConfig tunes the edit synchronizer.
type AnalysisConfig struct {
	Debounce   time.Duration `koanf:"debounce"`
	MarkerSpan int           `koanf:"marker_span"`
}

// ProjectConfig holds the project configuration shared by the CLI and the LSP.
type ProjectConfig struct {
	Module   ModuleConfig   `koanf:"module"`
	Analysis AnalysisConfig `koanf:"analysis"`
}

// Validate checks the module and analysis settings.
func (c *ProjectConfig) Validate() error {
	switch strings.ToLower(c.Module.Kind) {
	case "", "wasm", "starlark":
	default:
		return fmt.Errorf("module.kind must be wasm or starlark, got %q", c.Module.Kind)
	}
	if c.Module.PollInterval <= 0 {
		return fmt.Errorf("module.poll_interval must be positive")
	}
	if c.Module.LoadTimeout < c.Module.PollInterval {
		return fmt.Errorf("module.load_timeout (%s) is shorter than module.poll_interval (%s)",
			c.Module.LoadTimeout, c.Module.PollInterval)
	}
	if c.Module.CallTimeout <= 0 {
		return fmt.Errorf("module.call_timeout must be positive")
	}
	if c.Analysis.Debounce < 0 {
		return fmt.Errorf("analysis.debounce must not be negative")
	}
	if c.Analysis.MarkerSpan < 1 {
		return fmt.Errorf("analysis.marker_span must be at least 1")
	}
	return nil
}
