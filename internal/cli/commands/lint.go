package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/qasmlens/internal/cli/output"
	"github.com/leapstack-labs/qasmlens/internal/editsync"
	"github.com/leapstack-labs/qasmlens/internal/mapper"
	"github.com/leapstack-labs/qasmlens/internal/watch"
	"github.com/spf13/cobra"
)

// ErrProblemsFound is returned by lint when any problem is reported.
var ErrProblemsFound = errors.New("lint problems found")

// LintOptions holds options for the lint command.
type LintOptions struct {
	Severity string // Minimum severity to report: error, warning, info
	Watch    bool   // Re-lint whenever a file changes
}

// NewLintCommand creates the lint command.
func NewLintCommand() *cobra.Command {
	opts := &LintOptions{}
	cmd := &cobra.Command{
		Use:   "lint [file...]",
		Short: "Lint OpenQASM documents",
		Long: `Run the analysis module's linter and report the problems found.

Reads the files named on the command line, or standard input when none
are given. The command fails when any problem at or above --severity is
reported.

With --watch the files are linted again whenever they change on disk,
until interrupted.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON/YAML: Machine-readable format`,
		Example: `  # Lint a file
  qasmlens lint bell.qasm

  # Only report errors
  qasmlens lint --severity error *.qasm

  # Keep linting while you edit
  qasmlens lint --watch bell.qasm

  # Output as JSON
  qasmlens lint -o json bell.qasm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Severity, "severity", "info", "Minimum severity: error, warning, info")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Lint again whenever a file changes")
	cmd.Flags().Duration("debounce", 0, "Quiet period after a change before linting (watch mode)")
	cmd.Flags().Int("marker-span", 0, "Width of each problem marker in characters")

	_ = cmd.RegisterFlagCompletionFunc("severity", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"error", "warning", "info"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runLint(cmd *cobra.Command, args []string, opts *LintOptions) error {
	threshold, err := parseSeverity(opts.Severity)
	if err != nil {
		return err
	}
	files := args
	if len(files) == 0 {
		files = []string{"-"}
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.Watch {
		return runLintWatch(cmd, cmdCtx, files, threshold)
	}

	results := make([]output.LintOutput, 0, len(files))
	for _, f := range files {
		name, src, err := readSource(cmd, []string{f})
		if err != nil {
			return err
		}
		res, err := cmdCtx.Module.Lint(cmd.Context(), src)
		if err != nil {
			return fmt.Errorf("lint %s: %w", name, err)
		}
		// success:false with violations is an ordinary lint result.
		if !res.Success && len(res.Violations) == 0 && res.Error != "" {
			return fmt.Errorf("lint %s: %s", name, res.Error)
		}
		markers := mapper.ViolationsToMarkersWithSpan(res.Violations, cmdCtx.Cfg.Analysis.MarkerSpan)
		results = append(results, newLintOutput(name, markers, threshold))
	}

	r := cmdCtx.Renderer
	if ok, err := r.Structured(results); ok || err != nil {
		if err != nil {
			return err
		}
		return lintResult(results)
	}

	for _, res := range results {
		renderLintOutput(r, res)
	}
	if len(results) > 1 {
		total := mapper.Summary{}
		for _, res := range results {
			total.Total += res.Summary.Total
			total.Errors += res.Summary.Errors
			total.Warnings += res.Summary.Warnings
			total.Info += res.Summary.Info
		}
		r.Println(summaryLine(total))
	}
	return lintResult(results)
}

func lintResult(results []output.LintOutput) error {
	for _, res := range results {
		if res.Summary.Total > 0 {
			return ErrProblemsFound
		}
	}
	return nil
}

// parseSeverity maps a severity name to the least severe level reported.
func parseSeverity(name string) (mapper.Severity, error) {
	switch strings.ToLower(name) {
	case "error":
		return mapper.SeverityError, nil
	case "warning", "warn":
		return mapper.SeverityWarning, nil
	case "info", "hint", "":
		return mapper.SeverityInfo, nil
	default:
		return 0, fmt.Errorf("invalid severity %q (want error, warning or info)", name)
	}
}

func newLintOutput(name string, markers []mapper.Marker, threshold mapper.Severity) output.LintOutput {
	kept := make([]mapper.Marker, 0, len(markers))
	for _, m := range markers {
		if m.Severity <= threshold {
			kept = append(kept, m)
		}
	}
	return output.LintOutput{
		File:     name,
		Summary:  mapper.SummarizeMarkers(kept),
		Problems: output.NewProblems(kept),
	}
}

func renderLintOutput(r *output.Renderer, res output.LintOutput) {
	r.Header(2, res.File)
	if len(res.Problems) == 0 {
		r.Success("no problems")
		r.Println("")
		return
	}

	styles := r.Styles()
	rows := make([][]string, 0, len(res.Problems))
	for _, p := range res.Problems {
		rows = append(rows, []string{
			fmt.Sprintf("%d:%d", p.Line, p.Column),
			styles.Severity(p.Severity).Render(output.SeverityLabel(p.Severity)),
			p.Code,
			p.Message,
		})
	}
	r.Table([]string{"LOCATION", "SEVERITY", "RULE", "MESSAGE"}, rows)
	r.Println(summaryLine(res.Summary))
	r.Println("")
}

func summaryLine(s mapper.Summary) string {
	return fmt.Sprintf("%d problems (%d errors, %d warnings, %d info)", s.Total, s.Errors, s.Warnings, s.Info)
}

// runLintWatch lints files on every change until the command context ends.
func runLintWatch(cmd *cobra.Command, cmdCtx *CommandContext, files []string, threshold mapper.Severity) error {
	cfg := cmdCtx.Cfg
	ed := &terminalEditor{
		r:         cmdCtx.Renderer,
		threshold: threshold,
		names:     make(map[string]string, len(files)),
		lastErr:   make(map[string]string),
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		if f == "-" {
			return fmt.Errorf("--watch needs file arguments")
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		ed.names[abs] = f
		paths = append(paths, abs)
	}

	w, err := watch.New(paths, watch.WithLogger(cmdCtx.Logger))
	if err != nil {
		return err
	}

	es := editsync.New(cmdCtx.Module, ed,
		editsync.WithDebounce(cfg.Analysis.Debounce),
		editsync.WithMarkerSpan(cfg.Analysis.MarkerSpan),
		editsync.WithLogger(cmdCtx.Logger),
		editsync.OnStatus(ed.status),
	)
	defer es.Close()

	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", ed.names[p], err)
		}
		es.Change(p, string(b))
	}
	cmdCtx.Renderer.Muted(fmt.Sprintf("watching %d file(s), press ctrl+c to stop", len(paths)))

	return w.Run(cmd.Context(), func(path string) {
		b, err := os.ReadFile(path)
		if err != nil {
			cmdCtx.Logger.Warn("failed to read changed file", "file", path, "error", err)
			return
		}
		es.Change(path, string(b))
	})
}

// terminalEditor prints every applied update. Calls arrive from several
// session goroutines, so output is serialized.
type terminalEditor struct {
	r         *output.Renderer
	threshold mapper.Severity
	names     map[string]string

	mu      sync.Mutex
	lastErr map[string]string
}

func (e *terminalEditor) Apply(owner string, u editsync.Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastErr, owner)

	res := newLintOutput(e.name(owner), u.Markers, e.threshold)
	if ok, _ := e.r.Structured(res); ok {
		return
	}
	e.r.Muted(time.Now().Format(time.TimeOnly))
	renderLintOutput(e.r, res)
}

func (e *terminalEditor) Clear(string) {}

func (e *terminalEditor) Reveal(string, int, int) {}

func (e *terminalEditor) status(st editsync.Status) {
	if st.Err == nil && st.EngineError == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	msg := st.Message()
	if e.lastErr[st.URI] == msg {
		return
	}
	e.lastErr[st.URI] = msg
	e.r.Error(fmt.Sprintf("%s: %s", e.name(st.URI), msg))
}

func (e *terminalEditor) name(owner string) string {
	if n, ok := e.names[owner]; ok {
		return n
	}
	return owner
}
