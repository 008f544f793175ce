package config

import "time"

// Default configuration values.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultLoadTimeout  = 30 * time.Second
	DefaultCallTimeout  = 5 * time.Second
	DefaultMaxSteps     = 10_000_000
	DefaultDebounce     = 500 * time.Millisecond
	DefaultMarkerSpan   = 5
)

// Defaults returns the default values keyed the way the config file is.
// The CLI loads this map as its lowest-precedence layer.
func Defaults() map[string]any {
	return map[string]any{
		"module.poll_interval": DefaultPollInterval.String(),
		"module.load_timeout":  DefaultLoadTimeout.String(),
		"module.call_timeout":  DefaultCallTimeout.String(),
		"module.max_steps":     DefaultMaxSteps,
		"analysis.debounce":    DefaultDebounce.String(),
		"analysis.marker_span": DefaultMarkerSpan,
	}
}

// ApplyDefaults fills zero values in c.
func (c *ProjectConfig) ApplyDefaults() {
	if c == nil {
		return
	}
	if c.Module.PollInterval == 0 {
		c.Module.PollInterval = DefaultPollInterval
	}
	if c.Module.LoadTimeout == 0 {
		c.Module.LoadTimeout = DefaultLoadTimeout
	}
	if c.Module.CallTimeout == 0 {
		c.Module.CallTimeout = DefaultCallTimeout
	}
	if c.Module.MaxSteps == 0 {
		c.Module.MaxSteps = DefaultMaxSteps
	}
	if c.Analysis.Debounce == 0 {
		c.Analysis.Debounce = DefaultDebounce
	}
	if c.Analysis.MarkerSpan == 0 {
		c.Analysis.MarkerSpan = DefaultMarkerSpan
	}
}
