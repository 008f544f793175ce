package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/qasmlens/internal/cli"
	clicfg "github.com/leapstack-labs/qasmlens/internal/cli/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const binary = "qasmlens"

// generateCLIDocs writes index.md plus one page per visible command.
func generateCLIDocs(outDir string) error {
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("create %s: %w", outDir, err)
	}

	root := cli.NewRootCmd()
	pages := map[string]*MarkdownWriter{"index": indexPage(root)}
	for _, cmd := range documentedCommands(root) {
		pages[cmd.Name()] = commandPage(cmd)
	}

	for name, w := range pages {
		path := filepath.Join(outDir, name+".md")
		if err := os.WriteFile(path, w.Bytes(), 0600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		log.Printf("  wrote %s", path)
	}
	return nil
}

func indexPage(root *cobra.Command) *MarkdownWriter {
	w := NewMarkdownWriter()
	w.Frontmatter("CLI Reference", "Command-line reference for "+binary)
	w.GeneratedMarker()

	w.Header(1, "CLI Reference")
	w.Paragraph(root.Long)
	w.CodeBlock("bash", "go install github.com/leapstack-labs/qasmlens/cmd/qasmlens@latest\n"+binary+" <command> [flags]")

	w.Header(2, "Commands")
	rows := make([][]string, 0, len(root.Commands()))
	for _, cmd := range documentedCommands(root) {
		rows = append(rows, []string{
			fmt.Sprintf("[%s](/cli/%s)", InlineCode(cmd.Name()), cmd.Name()),
			cleanDescription(cmd.Short),
		})
	}
	w.Table([]string{"Command", "Description"}, rows)

	w.Header(2, "Global flags")
	flagTable(w, root.PersistentFlags())

	w.Header(2, "Environment")
	w.Paragraph(fmt.Sprintf("Configuration keys map to %s variables, nested keys joined by a double underscore (%s). "+
		"Flags override the environment, which overrides %s. See [configuration](/configuration).",
		InlineCode(clicfg.EnvPrefix+"*"), InlineCode(envName("module.call_timeout")), InlineCode("qasmlens.yaml")))

	w.Header(2, "Exit status")
	w.Table([]string{"Code", "Meaning"}, [][]string{
		{InlineCode("0"), "success"},
		{InlineCode("1"), "any failure: lint problems at the selected severity, unformatted input under --check, an unhealthy module, or a runtime error"},
	})
	return w
}

func commandPage(cmd *cobra.Command) *MarkdownWriter {
	w := NewMarkdownWriter()
	w.Frontmatter(cmd.Name(), cmd.Short)
	w.GeneratedMarker()

	w.Header(1, cmd.Name())
	desc := cmd.Long
	if desc == "" {
		desc = cmd.Short
	}
	w.Paragraph(desc)

	w.Header(2, "Usage")
	w.CodeBlock("bash", usageLine(cmd))

	if len(cmd.Aliases) > 0 {
		aliases := make([]string, len(cmd.Aliases))
		for i, a := range cmd.Aliases {
			aliases[i] = InlineCode(a)
		}
		w.Header(2, "Aliases")
		w.BulletList(aliases)
	}

	if subs := documentedCommands(cmd); len(subs) > 0 {
		w.Header(2, "Subcommands")
		rows := make([][]string, len(subs))
		for i, sub := range subs {
			rows[i] = []string{InlineCode(sub.Name()), cleanDescription(sub.Short)}
		}
		w.Table([]string{"Subcommand", "Description"}, rows)
	}

	if cmd.HasLocalFlags() {
		w.Header(2, "Flags")
		flagTable(w, cmd.LocalFlags())
	}
	if cmd.HasInheritedFlags() {
		w.Header(2, "Global flags")
		flagTable(w, cmd.InheritedFlags())
	}

	if cmd.Example != "" {
		w.Header(2, "Examples")
		w.CodeBlock("bash", cleanExample(cmd.Example))
	}
	return w
}

func usageLine(cmd *cobra.Command) string {
	if cmd.HasSubCommands() {
		return fmt.Sprintf("%s %s <subcommand> [flags]", binary, cmd.Name())
	}
	line := cmd.UseLine()
	if !strings.HasPrefix(line, binary) {
		line = binary + " " + line
	}
	return line
}

// documentedCommands returns the visible subcommands of parent.
func documentedCommands(parent *cobra.Command) []*cobra.Command {
	var out []*cobra.Command
	for _, cmd := range parent.Commands() {
		switch {
		case cmd.Hidden, cmd.Name() == "help", strings.HasPrefix(cmd.Name(), "__"):
			continue
		}
		out = append(out, cmd)
	}
	return out
}

// flagTable lists flags with the config key each one overrides.
func flagTable(w *MarkdownWriter, flags *pflag.FlagSet) {
	var rows [][]string
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		name := "--" + f.Name
		if f.Shorthand != "" {
			name = "-" + f.Shorthand + ", " + name
		}
		rows = append(rows, []string{InlineCode(name), flagDefault(f), configColumn(f.Name), cleanDescription(f.Usage)})
	})
	w.Table([]string{"Flag", "Default", "Config key", "Description"}, rows)
}

func flagDefault(f *pflag.Flag) string {
	switch f.DefValue {
	case "", "[]":
		return ""
	case "true", "false", "0":
		return f.DefValue
	}
	return InlineCode(f.DefValue)
}

func configColumn(flag string) string {
	key, ok := clicfg.FlagKey(flag)
	if !ok {
		return ""
	}
	return InlineCode(key)
}

// cleanExample strips the indentation shared by every non-blank line.
func cleanExample(example string) string {
	lines := strings.Split(strings.Trim(example, "\n"), "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix, first = indent, false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
