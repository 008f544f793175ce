package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/leapstack-labs/qasmlens/internal/cli/output"
	"github.com/leapstack-labs/qasmlens/internal/mapper"
	"github.com/leapstack-labs/qasmlens/internal/tui"
	"github.com/spf13/cobra"
)

// HighlightOptions holds options for the highlight command.
type HighlightOptions struct {
	Preview bool // Print the source with colors instead of a token table
}

// NewHighlightCommand creates the highlight command.
func NewHighlightCommand() *cobra.Command {
	opts := &HighlightOptions{}
	cmd := &cobra.Command{
		Use:   "highlight [file|-]",
		Short: "Show the syntax decorations of an OpenQASM document",
		Long: `Run the analysis module's highlighter and print the resulting
decorations: one row per token with its position, token type and
presentation class.

With --preview the document itself is printed with colors applied.`,
		Example: `  # Token table
  qasmlens highlight bell.qasm

  # Colored source
  qasmlens highlight --preview bell.qasm

  # Decorations as JSON
  qasmlens highlight -o json bell.qasm`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHighlight(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Preview, "preview", false, "Print the document with highlighting applied")

	return cmd
}

func runHighlight(cmd *cobra.Command, args []string, opts *HighlightOptions) error {
	name, src, err := readSource(cmd, args)
	if err != nil {
		return err
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	r := cmdCtx.Renderer

	res, err := cmdCtx.Module.Highlight(cmd.Context(), src)
	if err != nil {
		return fmt.Errorf("highlight %s: %w", name, err)
	}
	if !res.Success {
		return fmt.Errorf("highlight %s: %s", name, res.Error)
	}
	decorations := mapper.TokensToDecorations(res.Tokens)

	if ok, err := r.Structured(output.HighlightOutput{File: name, Decorations: decorations}); ok || err != nil {
		return err
	}

	if opts.Preview {
		style := tui.ClassStyle
		if !r.IsTTY() {
			style = func(string) lipgloss.Style { return lipgloss.NewStyle() }
		}
		for _, line := range tui.Highlight(src, decorations, style) {
			r.Println(line)
		}
		return nil
	}

	if len(decorations) == 0 {
		r.Muted("no tokens")
		return nil
	}

	r.Header(1, fmt.Sprintf("Highlighting: %s", name))
	lines := strings.Split(src, "\n")
	rows := make([][]string, 0, len(decorations))
	for _, d := range decorations {
		rows = append(rows, []string{
			strconv.Itoa(d.Line),
			fmt.Sprintf("%d-%d", d.StartColumn, d.EndColumn),
			d.TokenType,
			d.Class,
			tokenText(lines, d),
		})
	}
	r.Table([]string{"LINE", "COLUMNS", "TYPE", "CLASS", "TEXT"}, rows)
	return nil
}

// tokenText returns the characters a decoration covers.
func tokenText(lines []string, d mapper.Decoration) string {
	if d.Line < 1 || d.Line > len(lines) {
		return ""
	}
	runes := []rune(strings.TrimRight(lines[d.Line-1], "\r"))
	if d.StartColumn < 0 || d.StartColumn >= len(runes) {
		return ""
	}
	return string(runes[d.StartColumn:min(d.EndColumn, len(runes))])
}
