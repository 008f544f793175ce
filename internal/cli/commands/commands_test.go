package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/qasmlens/internal/cli/config"
	"github.com/leapstack-labs/qasmlens/internal/cli/testutil"
)

func TestNewFormatCommand(t *testing.T) {
	cmd := NewFormatCommand()

	assert.Equal(t, "format [file|-]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	for _, flag := range []string{"unescape", "write", "check"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewHighlightCommand(t *testing.T) {
	cmd := NewHighlightCommand()

	assert.Equal(t, "highlight [file|-]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("preview"))
}

func TestNewLintCommand(t *testing.T) {
	cmd := NewLintCommand()

	assert.Equal(t, "lint [file...]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	// Verify flags exist (output is a global flag on root, not local)
	for _, flag := range []string{"severity", "watch", "debounce", "marker-span"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewServeCommand(t *testing.T) {
	cmd := NewServeCommand()

	assert.Equal(t, "serve", cmd.Use)
	assert.NotEmpty(t, cmd.Long)
	for _, flag := range []string{"addr", "watch", "marker-span"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewEditCommand(t *testing.T) {
	cmd := NewEditCommand()

	assert.Equal(t, "edit <file>", cmd.Use)
	assert.Error(t, cmd.Args(cmd, nil), "edit needs a file")
	assert.NoError(t, cmd.Args(cmd, []string{"bell.qasm"}))
	for _, flag := range []string{"log-file", "debounce", "marker-span"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewDoctorAndLSPCommands(t *testing.T) {
	assert.Equal(t, "doctor", NewDoctorCommand().Use)
	assert.Equal(t, "lsp", NewLSPCommand("test").Use)
}

func TestGetConfigFallsBackToDefaults(t *testing.T) {
	config.ResetConfig()
	cfg := getConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, config.DefaultOutput, cfg.OutputFormat)
	assert.Positive(t, cfg.Module.CallTimeout)
}

func TestNewCommandContext(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	_, err := config.LoadConfig(dir+"/qasmlens.yaml", nil)
	require.NoError(t, err)
	t.Cleanup(config.ResetConfig)

	cmd := NewLintCommand()
	cctx, cleanup, err := NewCommandContext(cmd)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "ready", cctx.Module.State().String())
	assert.Equal(t, "starlark", cctx.Module.Kind())
}

func TestNewCommandContextWithoutModulePath(t *testing.T) {
	config.ResetConfig()
	_, _, err := NewCommandContext(NewLintCommand())
	require.Error(t, err)
}
