package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	intconfig "github.com/leapstack-labs/qasmlens/internal/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("module", "", "")
	fs.String("kind", "", "")
	fs.Duration("call-timeout", 0, "")
	fs.Duration("debounce", 0, "")
	fs.String("log-level", "", "")
	fs.BoolP("verbose", "v", false, "")
	fs.StringP("output", "o", "", "")
	fs.String("addr", "", "")
	fs.Bool("unescape", false, "")
	return fs
}

func inTempProject(t *testing.T, body string) string {
	t.Helper()
	ResetConfig()
	dir := t.TempDir()
	if body != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, intconfig.ConfigFileName), []byte(body), 0o600))
	}
	t.Chdir(dir)
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := inTempProject(t, "")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	actual, err := filepath.EvalSymlinks(cfg.ProjectRoot)
	require.NoError(t, err)
	assert.Equal(t, resolved, actual)

	assert.Empty(t, cfg.ConfigFile)
	assert.Empty(t, cfg.Module.Path)
	assert.Equal(t, intconfig.DefaultPollInterval, cfg.Module.PollInterval)
	assert.Equal(t, intconfig.DefaultCallTimeout, cfg.Module.CallTimeout)
	assert.Equal(t, intconfig.DefaultDebounce, cfg.Analysis.Debounce)
	assert.Equal(t, intconfig.DefaultMarkerSpan, cfg.Analysis.MarkerSpan)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, DefaultServeAddr, cfg.Serve.Addr)
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_File(t *testing.T) {
	dir := inTempProject(t, `
module:
  path: modules/qasm.star
  call_timeout: 2s
analysis:
  debounce: 100ms
log_level: debug
serve:
  addr: 127.0.0.1:9000
`)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, GetConfigFileUsed())
	assert.Equal(t, "qasm.star", filepath.Base(cfg.Module.Path))
	assert.True(t, filepath.IsAbs(cfg.Module.Path))
	assert.Equal(t, 2*time.Second, cfg.Module.CallTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Analysis.Debounce)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.Serve.Addr)
	_ = dir
}

func TestLoadConfig_FoundUpward(t *testing.T) {
	dir := inTempProject(t, "module:\n  path: m.wasm\n")
	nested := filepath.Join(dir, "src", "circuits")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "m.wasm", filepath.Base(cfg.Module.Path))
	assert.NotEqual(t, nested, filepath.Dir(cfg.Module.Path))
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	inTempProject(t, "")
	other := t.TempDir()
	path := filepath.Join(other, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("module:\n  path: lint.star\n"), 0o600))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(other, "lint.star"), cfg.Module.Path)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoadConfig_Precedence(t *testing.T) {
	inTempProject(t, `
module:
  path: file.wasm
  call_timeout: 2s
analysis:
  debounce: 100ms
`)
	t.Setenv("QASMLENS_MODULE__CALL_TIMEOUT", "3s")
	t.Setenv("QASMLENS_ANALYSIS__DEBOUNCE", "200ms")
	t.Setenv("QASMLENS_LOG_LEVEL", "error")

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--debounce", "300ms", "--unescape"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Module.CallTimeout, "env beats file")
	assert.Equal(t, 300*time.Millisecond, cfg.Analysis.Debounce, "flag beats env")
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "file.wasm", filepath.Base(cfg.Module.Path))
}

func TestLoadConfig_ModuleFlagRelativeToCWD(t *testing.T) {
	dir := inTempProject(t, "module:\n  path: file.wasm\n")
	nested := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--module", "local.star", "--kind", "starlark"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "local.star"), cfg.Module.Path)
	assert.Equal(t, "starlark", cfg.Module.Kind)
}

func TestLoadConfig_URLModule(t *testing.T) {
	inTempProject(t, "module:\n  path: https://cdn.example.com/qasmtools.wasm\n")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/qasmtools.wasm", cfg.Module.Path)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		sub  string
	}{
		{"bad kind", "module:\n  kind: lua\n", "module.kind"},
		{"bad output", "output: html\n", "output"},
		{"bad level", "log_level: loud\n", "log_level"},
		{"bad duration", "module:\n  call_timeout: soon\n", "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inTempProject(t, tt.body)
			_, err := LoadConfig("", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.sub)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "module.call_timeout", EnvKey("QASMLENS_MODULE__CALL_TIMEOUT"))
	assert.Equal(t, "log_level", EnvKey("QASMLENS_LOG_LEVEL"))
	assert.Equal(t, "serve.addr", EnvKey("QASMLENS_SERVE__ADDR"))
}

func TestConfig_Level(t *testing.T) {
	c := Default()
	assert.Equal(t, slog.LevelWarn, c.Level())
	c.LogLevel = "info"
	assert.Equal(t, slog.LevelInfo, c.Level())
	c.Verbose = true
	assert.Equal(t, slog.LevelDebug, c.Level())
}

func TestGetLogger(t *testing.T) {
	l := GetLogger(context.Background())
	require.NotNil(t, l)

	mine := slog.New(slog.DiscardHandler)
	assert.Same(t, mine, GetLogger(WithLogger(context.Background(), mine)))
}
