package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leapstack-labs/qasmlens/internal/mapper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(mode Mode, tty bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewRendererWithTTY(out, errOut, tty, mode), out, errOut
}

func TestRenderer_EffectiveMode(t *testing.T) {
	tests := []struct {
		mode Mode
		tty  bool
		want Mode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{"", false, ModeMarkdown},
		{ModeJSON, true, ModeJSON},
		{"YAML", false, ModeYAML},
		{ModeText, false, ModeText},
	}
	for _, tt := range tests {
		r, _, _ := newTestRenderer(tt.mode, tt.tty)
		assert.Equal(t, tt.want, r.EffectiveMode(), "mode=%q tty=%v", tt.mode, tt.tty)
	}
}

func TestRenderer_NonTTYHasNoANSI(t *testing.T) {
	r, out, errOut := newTestRenderer(ModeText, false)
	r.Header(1, "Report")
	r.Success("all good")
	r.Warning("careful")
	r.Muted("quiet")
	r.StatusLine("fetch", "success", "12ms")
	r.Error("broken")

	assert.NotContains(t, out.String(), "\x1b[")
	assert.NotContains(t, errOut.String(), "\x1b[")
	assert.Contains(t, out.String(), "✓ all good")
	assert.Contains(t, out.String(), "✓ fetch 12ms")
	assert.Contains(t, errOut.String(), "✗ broken")
}

func TestRenderer_NoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	r, _, _ := newTestRenderer(ModeText, true)
	assert.Equal(t, PlainStyles(), r.Styles())
	assert.True(t, r.IsTTY())
}

func TestRenderer_MarkdownHeader(t *testing.T) {
	r, out, _ := newTestRenderer(ModeAuto, false)
	r.Header(2, "Problems")
	r.StatusLine("load", "failed", "")
	assert.Equal(t, "## Problems\n\n- ✗ load\n", out.String())
}

func TestRenderer_Structured(t *testing.T) {
	v := LintOutput{
		File:    "bell.qasm",
		Summary: mapper.Summary{Total: 1, Warnings: 1},
		Problems: NewProblems([]mapper.Marker{{
			Line: 2, Column: 1, EndLine: 2, EndColumn: 6,
			Severity: mapper.SeverityWarning, Code: "QAS002", Message: "trailing whitespace",
		}}),
	}

	t.Run("json", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeJSON, false)
		ok, err := r.Structured(v)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Contains(t, out.String(), `"severity": "warning"`)
		assert.Contains(t, out.String(), `"end_column": 6`)
	})

	t.Run("yaml", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeYAML, false)
		ok, err := r.Structured(v)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Contains(t, out.String(), "code: QAS002")
		assert.Contains(t, out.String(), "warnings: 1")
	})

	t.Run("text is not structured", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText, true)
		ok, err := r.Structured(v)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, out.String())
	})
}

func TestRenderer_Table(t *testing.T) {
	headers := []string{"LINE", "RULE"}
	rows := [][]string{{"3", "QAS004"}}

	t.Run("markdown", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeMarkdown, false)
		r.Table(headers, rows)
		s := out.String()
		assert.Contains(t, s, "| LINE | RULE |")
		assert.Contains(t, s, "| 3 | QAS004 |")
	})

	t.Run("text", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText, false)
		r.Table(headers, rows)
		s := out.String()
		assert.True(t, strings.Contains(s, "┌"), s)
		assert.Contains(t, s, "QAS004")
	})
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "# Title", FormatHeader(1, "Title"))
	assert.Equal(t, "### Sub", FormatHeader(3, "Sub"))
	assert.Equal(t, "# Zero", FormatHeader(0, "Zero"))
	assert.Equal(t, "- **Module**: qasm.star", FormatKeyValue("Module", "qasm.star"))
	assert.Equal(t, "Warning", SeverityLabel("warning"))
}
