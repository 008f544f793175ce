package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/leapstack-labs/qasmlens/internal/cli/config"
	"github.com/leapstack-labs/qasmlens/internal/tui"
	"github.com/spf13/cobra"
)

// EditOptions holds options for the edit command.
type EditOptions struct {
	LogFile string // Where to write logs while the editor owns the terminal
}

// NewEditCommand creates the edit command.
func NewEditCommand() *cobra.Command {
	opts := &EditOptions{}
	cmd := &cobra.Command{
		Use:   "edit <file>",
		Short: "Edit an OpenQASM document with live highlighting and linting",
		Long: `Open a terminal editor on an OpenQASM document. The document is
highlighted and linted as you type.

Keys:
  ctrl+s  save            ctrl+f  format
  ctrl+l  lint now        ctrl+n  jump to next problem
  ctrl+r  reload module   ctrl+q  quit

The file is created on first save when it does not exist.`,
		Example: `  qasmlens edit bell.qasm`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.LogFile, "log-file", "", "Write logs to this file")
	cmd.Flags().Duration("debounce", 0, "Quiet period after typing before analysis runs")
	cmd.Flags().Int("marker-span", 0, "Width of each problem marker in characters")

	return cmd
}

func runEdit(cmd *cobra.Command, path string, opts *EditOptions) error {
	text := ""
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		text = string(b)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	cmdCtx, cleanup, err := NewCommandContextUnloaded(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	// The editor owns the terminal; logs go to a file or nowhere.
	logger := slog.New(slog.DiscardHandler)
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		logger = config.NewLogger(cmdCtx.Cfg, f)
	}

	return tui.Run(cmd.Context(), tui.Options{
		Path:       path,
		Text:       text,
		Module:     cmdCtx.Module,
		Debounce:   cmdCtx.Cfg.Analysis.Debounce,
		MarkerSpan: cmdCtx.Cfg.Analysis.MarkerSpan,
		Logger:     logger,
	})
}
