package output

import (
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Styles holds the lipgloss styles used by the CLI and the terminal editor.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
	Path    lipgloss.Style

	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
}

// Palette.
var (
	colorGreen  = lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}
	colorYellow = lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}
	colorBlue   = lipgloss.AdaptiveColor{Light: "#0969da", Dark: "#58a6ff"}
	colorGray   = lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}
	colorPurple = lipgloss.AdaptiveColor{Light: "#8250df", Dark: "#bc8cff"}
)

// DefaultStyles returns colored styles for terminals.
func DefaultStyles() *Styles {
	return &Styles{
		Header1: lipgloss.NewStyle().Bold(true).Foreground(colorPurple),
		Header2: lipgloss.NewStyle().Bold(true).Foreground(colorBlue),
		Muted:   lipgloss.NewStyle().Foreground(colorGray),
		Bold:    lipgloss.NewStyle().Bold(true),
		Path:    lipgloss.NewStyle().Underline(true).Foreground(colorBlue),

		Success: lipgloss.NewStyle().Foreground(colorGreen),
		Warning: lipgloss.NewStyle().Foreground(colorYellow),
		Error:   lipgloss.NewStyle().Foreground(colorRed),
		Info:    lipgloss.NewStyle().Foreground(colorBlue),

		StatusSuccess: lipgloss.NewStyle().Foreground(colorGreen).SetString("✓"),
		StatusFailed:  lipgloss.NewStyle().Foreground(colorRed).SetString("✗"),
	}
}

// PlainStyles returns styles that add no escape codes.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		Header1:       plain,
		Header2:       plain,
		Muted:         plain,
		Bold:          plain,
		Path:          plain,
		Success:       plain,
		Warning:       plain,
		Error:         plain,
		Info:          plain,
		StatusSuccess: plain.SetString("✓"),
		StatusFailed:  plain.SetString("✗"),
	}
}

// Severity returns the style for a severity name.
func (s *Styles) Severity(name string) lipgloss.Style {
	switch name {
	case "error":
		return s.Error
	case "warning":
		return s.Warning
	default:
		return s.Info
	}
}

// SeverityLabel returns a display label ("Error", "Warning", "Info").
func SeverityLabel(name string) string {
	return cases.Title(language.English).String(name)
}
