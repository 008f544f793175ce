package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/qasmlens/internal/cli/output"
	"github.com/leapstack-labs/qasmlens/internal/mapper"
	"github.com/leapstack-labs/qasmlens/internal/sandbox"
	"github.com/spf13/cobra"
)

// ErrUnhealthy is returned by doctor when any stage fails.
var ErrUnhealthy = errors.New("analysis module is not healthy")

// doctorSample is the document every operation is exercised with.
const doctorSample = "OPENQASM 3.0;\nqubit q;\nh q;\n"

// Stage statuses.
const (
	stageSuccess = "success"
	stageFailed  = "failed"
	stageSkipped = "skipped"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the analysis module loads and answers",
		Long: `Walk the analysis module through every stage of its lifecycle and
report where it breaks:

- config: a module location is configured
- fetch: the module payload can be read
- host: the sandbox runtime is available
- load: the module starts and reports ready
- format, highlight, lint: each operation answers a small program

Stages after a failure are skipped.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON/YAML: Machine-readable format`,
		Example: `  # Check the configured module
  qasmlens doctor

  # Check another module
  qasmlens doctor --module ./build/qasm.wasm

  # Output as JSON
  qasmlens doctor -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd)
		},
	}

	return cmd
}

// doctor accumulates stage results.
type doctor struct {
	out    output.DoctorOutput
	failed bool
}

// stage runs fn unless an earlier stage failed.
func (d *doctor) stage(name string, fn func() (string, error)) {
	if d.failed {
		d.out.Stages = append(d.out.Stages, output.DoctorStage{Name: name, Status: stageSkipped})
		return
	}
	start := time.Now()
	detail, err := fn()
	st := output.DoctorStage{Name: name, Status: stageSuccess, Detail: detail, Elapsed: time.Since(start).Round(time.Microsecond).String()}
	if err != nil {
		d.failed = true
		st.Status = stageFailed
		st.Detail = err.Error()
	}
	d.out.Stages = append(d.out.Stages, st)
}

func runDoctor(cmd *cobra.Command) error {
	cmdCtx := NewCommandContextWithoutModule(cmd)
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer
	ctx := contextOf(cmd)

	d := &doctor{out: output.DoctorOutput{Module: cfg.Module.Path, Kind: cfg.Module.Kind}}

	var mod *sandbox.Module
	d.stage("config", func() (string, error) {
		m, err := sandbox.Open(cfg.Module, cmdCtx.Logger)
		if err != nil {
			return "", err
		}
		mod = m
		d.out.Kind = m.Kind()
		if cfg.ConfigFile != "" {
			return cfg.ConfigFile, nil
		}
		return "defaults", nil
	})
	if mod != nil {
		defer func() { _ = mod.Close(context.Background()) }()
	}

	d.stage("fetch", func() (string, error) {
		b, err := mod.Sandbox.Source.Fetch(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d bytes", len(b)), nil
	})
	d.stage("host", func() (string, error) {
		if !mod.Sandbox.Host.Available() {
			return "", fmt.Errorf("%s runtime is not available", mod.Kind())
		}
		return mod.Kind(), nil
	})
	d.stage("load", func() (string, error) {
		if err := mod.Load(ctx); err != nil {
			return "", err
		}
		return mod.State().String(), nil
	})
	d.stage("format", func() (string, error) {
		res, err := mod.Format(ctx, doctorSample, false)
		if err != nil {
			return "", err
		}
		if !res.Success {
			return "", fmt.Errorf("engine error: %s", res.Error)
		}
		if res.Formatted == doctorSample {
			return "unchanged", nil
		}
		return "changed", nil
	})
	d.stage("highlight", func() (string, error) {
		res, err := mod.Highlight(ctx, doctorSample)
		if err != nil {
			return "", err
		}
		if !res.Success {
			return "", fmt.Errorf("engine error: %s", res.Error)
		}
		return fmt.Sprintf("%d tokens", len(res.Tokens)), nil
	})
	d.stage("lint", func() (string, error) {
		res, err := mod.Lint(ctx, doctorSample)
		if err != nil {
			return "", err
		}
		if !res.Success && len(res.Violations) == 0 && res.Error != "" {
			return "", fmt.Errorf("engine error: %s", res.Error)
		}
		return summaryLine(mapper.Summarize(res.Violations)), nil
	})

	d.out.State = "unloaded"
	if mod != nil {
		d.out.State = mod.State().String()
	}
	d.out.Healthy = !d.failed

	if ok, err := r.Structured(d.out); ok || err != nil {
		if err != nil {
			return err
		}
		return doctorResult(d.out)
	}

	r.Header(1, "qasmlens doctor")
	keyValue(r, "Module", orNone(d.out.Module))
	keyValue(r, "Kind", orNone(d.out.Kind))
	keyValue(r, "State", d.out.State)
	r.Println("")
	for _, st := range d.out.Stages {
		detail := st.Detail
		switch {
		case st.Elapsed == "":
		case detail == "":
			detail = st.Elapsed
		default:
			detail = fmt.Sprintf("%s (%s)", detail, st.Elapsed)
		}
		r.StatusLine(st.Name, st.Status, detail)
	}
	r.Println("")
	if d.out.Healthy {
		r.Success("module is healthy")
	} else {
		r.Error("module is not healthy")
	}
	return doctorResult(d.out)
}

func doctorResult(out output.DoctorOutput) error {
	if out.Healthy {
		return nil
	}
	return ErrUnhealthy
}

func keyValue(r *output.Renderer, k, v string) {
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatKeyValue(k, v))
		return
	}
	r.Println(r.Styles().Bold.Render(k+":") + " " + v)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
