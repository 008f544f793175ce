package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	clicfg "github.com/leapstack-labs/qasmlens/internal/cli/config"
	intconfig "github.com/leapstack-labs/qasmlens/internal/config"
)

// configKeys describes every configuration key. Defaults are read from the
// config packages so the page cannot drift from the code.
var configKeys = map[string]string{
	"module.kind":          "Sandbox kind: `wasm` or `starlark`. Inferred from the path extension when empty.",
	"module.path":          "File path or http(s) URL of the analysis module. Relative paths resolve against the project root.",
	"module.poll_interval": "Interval between readiness checks while loading.",
	"module.load_timeout":  "Maximum time a load may take before the module is marked failed.",
	"module.call_timeout":  "Deadline for a single format, highlight or lint call.",
	"module.max_steps":     "Execution step budget per call (starlark only).",
	"analysis.debounce":    "Quiet period after an edit before analysis runs.",
	"analysis.marker_span": "Width in characters of each problem marker.",
	"log_level":            "Log level: debug, info, warn or error.",
	"verbose":              "Enable debug logging and print the config file in use.",
	"output":               "Output format: auto, text, markdown, json or yaml.",
	"serve.addr":           "Listen address of `qasmlens serve`.",
}

// configDefaults merges the project and CLI defaults.
func configDefaults() map[string]string {
	out := make(map[string]string)
	for k, v := range intconfig.Defaults() {
		out[k] = fmt.Sprint(v)
	}
	out["log_level"] = clicfg.DefaultLogLevel
	out["verbose"] = "false"
	out["output"] = clicfg.DefaultOutput
	out["serve.addr"] = clicfg.DefaultServeAddr
	return out
}

// envName returns the environment variable that sets key.
func envName(key string) string {
	return clicfg.EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "__"))
}

// generateConfigDocs writes configuration.md.
func generateConfigDocs(outDir string) error {
	log.Printf("Generating configuration docs to %s", outDir)
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	w := NewMarkdownWriter()
	w.Frontmatter("Configuration", "qasmlens configuration reference")
	w.GeneratedMarker()

	w.Header(1, "Configuration")
	w.Paragraph(fmt.Sprintf("qasmlens reads %s (or %s) from the project root. "+
		"The CLI searches upward from the working directory; the language server uses the workspace root sent by the editor.",
		InlineCode(intconfig.ConfigFileName), InlineCode(intconfig.ConfigFileNameAlt)))

	w.Header(2, "Keys")
	w.Table([]string{"Key", "Default", "Environment", "Description"}, configRows())

	w.Header(2, "Example")
	w.CodeBlock("yaml", `module:
  kind: wasm
  path: ./build/qasmtools.wasm
  call_timeout: 2s
analysis:
  debounce: 300ms
log_level: info`)

	filename := filepath.Join(outDir, "configuration.md")
	log.Printf("  Generated configuration.md")
	return os.WriteFile(filename, w.Bytes(), 0600)
}

func configRows() [][]string {
	defaults := configDefaults()
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		def := "-"
		if v, ok := defaults[k]; ok && v != "" {
			def = InlineCode(v)
		}
		rows = append(rows, []string{InlineCode(k), def, InlineCode(envName(k)), configKeys[k]})
	}
	return rows
}
