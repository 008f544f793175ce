package sandbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/config"
)

// Module is a configured analysis module: the sandbox host and the bridge
// driving it. It is not loaded until Load is called.
type Module struct {
	*bridge.Bridge
	Sandbox *Sandbox
	Config  config.ModuleConfig
}

// Open builds the sandbox and bridge for cfg. Extra bridge options are
// applied after the ones derived from cfg.
func Open(cfg config.ModuleConfig, logger *slog.Logger, opts ...bridge.Option) (*Module, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sb, err := New(Config{
		Kind:     cfg.Kind,
		Path:     cfg.Path,
		MaxSteps: cfg.MaxSteps,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	base := []bridge.Option{
		bridge.WithLogger(logger.With("module", cfg.Path)),
		bridge.WithPollInterval(cfg.PollInterval),
		bridge.WithLoadTimeout(cfg.LoadTimeout),
		bridge.WithCallTimeout(cfg.CallTimeout),
	}
	b := bridge.New(sb.Host, sb.Source, append(base, opts...)...)
	return &Module{Bridge: b, Sandbox: sb, Config: cfg}, nil
}

// Close unloads the module and releases the sandbox.
func (m *Module) Close(ctx context.Context) error {
	return errors.Join(m.Bridge.Close(ctx), m.Sandbox.Close(ctx))
}

// Kind returns the sandbox kind in use.
func (m *Module) Kind() string {
	return m.Sandbox.Kind
}
