package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/mapper"
)

// chromeHeight is the number of rows outside the editor and preview panes.
const chromeHeight = 4 + maxProblems

const maxProblems = 5

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	paneStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true).BorderForeground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

func severityStyle(s mapper.Severity) lipgloss.Style {
	switch s {
	case mapper.SeverityError:
		return errorStyle
	case mapper.SeverityInfo:
		return infoStyle
	default:
		return warningStyle
	}
}

func stateStyle(s bridge.State) lipgloss.Style {
	switch s {
	case bridge.StateReady:
		return successStyle
	case bridge.StateFailed:
		return errorStyle
	default:
		return mutedStyle
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	title := filepath.Base(m.path)
	if m.Dirty() {
		title += " [+]"
	}
	snap := m.module.State()
	b.WriteString(titleStyle.Render(title))
	b.WriteString("  ")
	b.WriteString(stateStyle(snap.State).Render("module " + snap.String()))
	b.WriteString("\n")

	b.WriteString(m.editor.View())
	b.WriteString("\n")

	b.WriteString(paneStyle.Width(max(m.width, 20)).Render(m.preview()))
	b.WriteString("\n")

	b.WriteString(m.problems())
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("ctrl+l lint  ctrl+r reload  ctrl+f format  ctrl+n next problem  ctrl+s save  ctrl+q quit"))
	return b.String()
}

// preview renders the highlighted applied text around the cursor.
func (m *Model) preview() string {
	lines := Highlight(m.applied.Text, m.applied.Decorations, ClassStyle)
	height := max((m.height-chromeHeight)/2, 3)
	if len(lines) <= height {
		return strings.Join(lines, "\n")
	}
	top := max(min(m.editor.Line()-height/2, len(lines)-height), 0)
	return strings.Join(lines[top:top+height], "\n")
}

func (m *Model) problems() string {
	markers := m.applied.Markers
	var b strings.Builder
	for i, mk := range markers {
		if i == maxProblems {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("  ... %d more", len(markers)-maxProblems)))
			b.WriteString("\n")
			break
		}
		sev := severityStyle(mk.Severity).Render(fmt.Sprintf("%-7s", mk.Severity))
		fmt.Fprintf(&b, "  %d:%d %s %s %s\n", mk.Line, mk.Column, sev, mk.Code, firstLine(mk.Message))
	}
	return b.String()
}

func (m *Model) statusLine() string {
	if m.notice != "" {
		return m.notice
	}
	msg := m.status.Message()
	switch {
	case m.status.Blocking():
		return errorStyle.Render(msg)
	case m.status.Err != nil || m.status.EngineError != "":
		return warningStyle.Render(msg)
	case m.status.Summary.Clean() && m.status.Applied > 0:
		return successStyle.Render(msg)
	default:
		return msg
	}
}
