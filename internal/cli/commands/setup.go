package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/cli/config"
	"github.com/leapstack-labs/qasmlens/internal/cli/output"
	"github.com/leapstack-labs/qasmlens/internal/sandbox"
	"github.com/spf13/cobra"
)

// stdinName is how sources read from standard input are reported.
const stdinName = "<stdin>"

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Module   *sandbox.Module
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with a loaded analysis module.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command, opts ...bridge.Option) (*CommandContext, func(), error) {
	cctx, cleanup, err := NewCommandContextUnloaded(cmd, opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := cctx.Module.Load(contextOf(cmd)); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to load analysis module %s: %w", cctx.Cfg.Module.Path, err)
	}
	return cctx, cleanup, nil
}

// NewCommandContextUnloaded is NewCommandContext without the initial load,
// for commands that drive the module lifecycle themselves.
func NewCommandContextUnloaded(cmd *cobra.Command, opts ...bridge.Option) (*CommandContext, func(), error) {
	cctx := NewCommandContextWithoutModule(cmd)

	mod, err := sandbox.Open(cctx.Cfg.Module, cctx.Logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	cctx.Module = mod

	cleanup := func() {
		if err := mod.Close(context.Background()); err != nil {
			cctx.Logger.Debug("closing analysis module", "error", err)
		}
	}
	return cctx, cleanup, nil
}

// NewCommandContextWithoutModule creates a CommandContext without a module.
func NewCommandContextWithoutModule(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(contextOf(cmd))
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// Helper functions shared across commands

// contextOf returns the command's context, which is nil until it executes.
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// getConfig returns the current configuration, or the defaults when no
// configuration was loaded (commands built outside the root command).
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return config.Default()
}

// readSource reads the document named by args. An empty argument list or
// "-" reads standard input.
func readSource(cmd *cobra.Command, args []string) (name, text string, err error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", fmt.Errorf("failed to read standard input: %w", err)
		}
		return stdinName, string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return args[0], string(b), nil
}
