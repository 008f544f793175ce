package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/leapstack-labs/qasmlens/internal/cli/output"
	"github.com/spf13/cobra"
)

// ErrNotFormatted is returned by format --check when a document would change.
var ErrNotFormatted = errors.New("document is not formatted")

// FormatOptions holds options for the format command.
type FormatOptions struct {
	Unescape bool // Decode escaped newlines, tabs and quotes first
	Write    bool // Rewrite the file in place
	Check    bool // Fail instead of printing when the document would change
}

// NewFormatCommand creates the format command.
func NewFormatCommand() *cobra.Command {
	opts := &FormatOptions{}
	cmd := &cobra.Command{
		Use:   "format [file|-]",
		Short: "Format an OpenQASM document",
		Long: `Format an OpenQASM document with the analysis module.

Reads the file named on the command line, or standard input when the
argument is omitted or "-". The formatted document is written to
standard output unless --write is given.`,
		Example: `  # Print the formatted document
  qasmlens format bell.qasm

  # Format in place
  qasmlens format --write bell.qasm

  # Check formatting in CI
  qasmlens format --check bell.qasm

  # Format an escaped string from a JSON payload
  echo 'OPENQASM 3.0;\nqubit q;' | qasmlens format --unescape`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormat(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Unescape, "unescape", false, "Decode escaped newlines and tabs before formatting")
	cmd.Flags().BoolVarP(&opts.Write, "write", "w", false, "Write the result back to the file")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "Exit with an error if the document is not formatted")

	return cmd
}

func runFormat(cmd *cobra.Command, args []string, opts *FormatOptions) error {
	name, src, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	if opts.Write && name == stdinName {
		return fmt.Errorf("--write needs a file argument")
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	r := cmdCtx.Renderer

	res, err := cmdCtx.Module.Format(cmd.Context(), src, opts.Unescape)
	if err != nil {
		return fmt.Errorf("format %s: %w", name, err)
	}
	if !res.Success {
		return fmt.Errorf("format %s: %s", name, res.Error)
	}
	changed := res.Formatted != src

	if opts.Write && changed && !opts.Check {
		if err := writeFilePreservingMode(name, res.Formatted); err != nil {
			return err
		}
	}

	out := output.FormatOutput{File: name, Formatted: res.Formatted, Changed: changed}
	if ok, err := r.Structured(out); ok || err != nil {
		if err != nil {
			return err
		}
		return checkResult(opts, changed)
	}

	switch {
	case opts.Check:
		if changed {
			r.Warning(fmt.Sprintf("%s is not formatted", name))
		} else {
			r.Success(fmt.Sprintf("%s is formatted", name))
		}
	case opts.Write:
		if changed {
			r.Success(fmt.Sprintf("formatted %s", name))
		} else {
			r.Muted(fmt.Sprintf("%s already formatted", name))
		}
	default:
		r.Printf("%s", res.Formatted)
	}
	return checkResult(opts, changed)
}

func checkResult(opts *FormatOptions, changed bool) error {
	if opts.Check && changed {
		return ErrNotFormatted
	}
	return nil
}

func writeFilePreservingMode(path, text string) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(text), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
