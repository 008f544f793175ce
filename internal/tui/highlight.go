package tui

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/leapstack-labs/qasmlens/internal/mapper"
)

// classColors maps presentation classes to ANSI colors. Classes with a
// dotted suffix fall back to their prefix.
var classColors = map[string]lipgloss.Color{
	"keyword":             lipgloss.Color("5"),
	"keyword.gate":        lipgloss.Color("4"),
	"keyword.measurement": lipgloss.Color("1"),
	"keyword.builtin":     lipgloss.Color("12"),
	"type":                lipgloss.Color("6"),
	"number":              lipgloss.Color("3"),
	"string":              lipgloss.Color("2"),
	"comment":             lipgloss.Color("8"),
	"constant":            lipgloss.Color("11"),
	"function":            lipgloss.Color("14"),
	"variable.hardware":   lipgloss.Color("13"),
	"delimiter":           lipgloss.Color("7"),
	"operator":            lipgloss.Color("7"),
}

// ClassStyle returns the style for a presentation class.
func ClassStyle(class string) lipgloss.Style {
	c, ok := classColors[class]
	if !ok {
		if i := strings.IndexByte(class, '.'); i > 0 {
			c, ok = classColors[class[:i]]
		}
	}
	s := lipgloss.NewStyle()
	if ok {
		s = s.Foreground(c)
	}
	if class == "comment" {
		s = s.Italic(true)
	}
	return s
}

// Highlight renders text line by line with every decoration styled by
// style(class). Overlapping decorations are skipped; text outside any
// decoration is left as is.
func Highlight(text string, decorations []mapper.Decoration, style func(class string) lipgloss.Style) []string {
	if text == "" {
		return nil
	}
	byLine := make(map[int][]mapper.Decoration)
	for _, d := range decorations {
		if d.Len() > 0 && d.StartColumn >= 0 {
			byLine[d.Line] = append(byLine[d.Line], d)
		}
	}

	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		decs := byLine[i+1]
		if len(decs) == 0 {
			out[i] = line
			continue
		}
		sort.Slice(decs, func(a, b int) bool { return decs[a].StartColumn < decs[b].StartColumn })

		runes := []rune(line)
		var b strings.Builder
		pos := 0
		for _, d := range decs {
			if d.StartColumn < pos || d.StartColumn >= len(runes) {
				continue
			}
			end := min(d.EndColumn, len(runes))
			b.WriteString(string(runes[pos:d.StartColumn]))
			b.WriteString(style(d.Class).Render(string(runes[d.StartColumn:end])))
			pos = end
		}
		b.WriteString(string(runes[pos:]))
		out[i] = b.String()
	}
	return out
}
