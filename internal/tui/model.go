// Package tui is a terminal editor for OpenQASM sources with live
// highlighting and lint markers.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/editsync"
	"github.com/leapstack-labs/qasmlens/internal/mapper"
)

// Module is the analysis module as the editor uses it.
type Module interface {
	editsync.Analyzer
	Format(ctx context.Context, src string, unescape bool) (*analysis.FormatResult, error)
	Load(ctx context.Context) error
	Reload(ctx context.Context) error
	State() bridge.Snapshot
}

// Options configures the editor.
type Options struct {
	Path       string
	Text       string
	Module     Module
	Debounce   time.Duration
	MarkerSpan int
	Logger     *slog.Logger
}

type (
	refreshMsg  struct{}
	loadedMsg   struct{ err error }
	reloadedMsg struct{ err error }
	ranMsg      struct{ err error }
	savedMsg    struct {
		text string
		err  error
	}
	formattedMsg struct {
		text string
		res  *analysis.FormatResult
		err  error
	}
)

// Model is the bubbletea model of the editor.
type Model struct {
	path   string
	uri    string
	module Module
	sync   *editsync.Synchronizer
	screen *screen
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	editor textarea.Model
	width  int
	height int

	text     string // last content handed to the synchronizer
	saved    string // content on disk
	applied  editsync.Update
	status   editsync.Status
	selected int
	notice   string
}

// New creates the editor model. Call Close when done.
func New(ctx context.Context, opts Options) *Model {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(ctx)

	ta := textarea.New()
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.ShowLineNumbers = true
	ta.SetValue(opts.Text)
	ta.Focus()

	abs, err := filepath.Abs(opts.Path)
	if err != nil {
		abs = opts.Path
	}

	m := &Model{
		path:   opts.Path,
		uri:    "file://" + filepath.ToSlash(abs),
		module: opts.Module,
		screen: newScreen(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		editor: ta,
		width:  80,
		height: 24,
		text:   opts.Text,
		saved:  opts.Text,
	}
	m.sync = editsync.New(opts.Module, m.screen,
		editsync.WithDebounce(opts.Debounce),
		editsync.WithMarkerSpan(opts.MarkerSpan),
		editsync.WithLogger(logger),
		editsync.OnStatus(m.screen.setStatus),
	)
	m.sync.Change(m.uri, opts.Text)
	m.resize()
	return m
}

// Close stops analysis.
func (m *Model) Close() {
	m.cancel()
	m.sync.Close()
}

// Run opens the editor on the terminal and blocks until the user quits.
func Run(ctx context.Context, opts Options, teaOpts ...tea.ProgramOption) error {
	m := New(ctx, opts)
	defer m.Close()

	teaOpts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, teaOpts...)
	_, err := tea.NewProgram(m, teaOpts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.listen(), m.load())
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case refreshMsg:
		m.refresh()
		return m, m.listen()

	case loadedMsg:
		if msg.err != nil {
			m.notice = "load failed: " + msg.err.Error()
			return m, nil
		}
		return m, m.runNow()

	case reloadedMsg:
		if msg.err != nil {
			m.notice = "reload failed: " + msg.err.Error()
			return m, nil
		}
		m.notice = "module reloaded"
		return m, m.runNow()

	case ranMsg:
		if msg.err != nil && !errors.Is(msg.err, editsync.ErrSuperseded) && !errors.Is(msg.err, editsync.ErrClosed) {
			m.notice = msg.err.Error()
		}
		m.refresh()
		return m, nil

	case formattedMsg:
		m.applyFormat(msg)
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.notice = "save failed: " + msg.err.Error()
			return m, nil
		}
		m.saved = msg.text
		m.notice = "saved " + m.path
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			return m, tea.Quit
		case "ctrl+l":
			return m, m.runNow()
		case "ctrl+r":
			m.notice = "reloading module..."
			return m, m.reload()
		case "ctrl+f":
			return m, m.format()
		case "ctrl+n":
			m.revealNext()
			return m, nil
		case "ctrl+s":
			return m, m.save()
		}
	}

	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	m.changed()
	return m, cmd
}

// changed forwards the editor content to the synchronizer if it moved.
func (m *Model) changed() {
	if v := m.editor.Value(); v != m.text {
		m.text = v
		m.notice = ""
		m.sync.Change(m.uri, v)
	}
}

// refresh pulls the latest descriptors and status from the screen.
func (m *Model) refresh() {
	u, st, reveal := m.screen.take()
	m.applied, m.status = u, st
	if reveal != nil {
		m.moveCursor(reveal.line, reveal.column)
	}
}

func (m *Model) listen() tea.Cmd {
	notify := m.screen.notify
	ctx := m.ctx
	return func() tea.Msg {
		select {
		case <-notify:
			return refreshMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Model) load() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.module.Load(m.ctx)}
	}
}

func (m *Model) reload() tea.Cmd {
	return func() tea.Msg {
		return reloadedMsg{err: m.module.Reload(m.ctx)}
	}
}

func (m *Model) runNow() tea.Cmd {
	return func() tea.Msg {
		return ranMsg{err: m.sync.RunNow(m.ctx, m.uri)}
	}
}

func (m *Model) format() tea.Cmd {
	text := m.editor.Value()
	return func() tea.Msg {
		res, err := m.module.Format(m.ctx, text, false)
		return formattedMsg{text: text, res: res, err: err}
	}
}

func (m *Model) applyFormat(msg formattedMsg) {
	switch {
	case msg.err != nil:
		m.notice = "format failed: " + msg.err.Error()
	case !msg.res.Success:
		m.notice = "format failed: " + msg.res.Error
	case msg.text != m.editor.Value():
		m.notice = "format discarded: document changed"
	case msg.res.Formatted == msg.text:
		m.notice = "already formatted"
	default:
		line := m.editor.Line()
		m.editor.SetValue(msg.res.Formatted)
		m.moveCursor(line+1, 1)
		m.changed()
		m.notice = "formatted"
	}
}

func (m *Model) save() tea.Cmd {
	text := m.editor.Value()
	path := m.path
	return func() tea.Msg {
		return savedMsg{text: text, err: os.WriteFile(path, []byte(text), 0o644)} //nolint:gosec // G306: source files are world-readable
	}
}

// revealNext moves the cursor to the next marker of the applied set.
func (m *Model) revealNext() {
	n := len(m.applied.Markers)
	if n == 0 {
		m.notice = "no problems"
		return
	}
	sess, ok := m.sync.Session(m.uri)
	if !ok {
		return
	}
	i := m.selected % n
	mk, err := sess.Reveal(i)
	if err != nil {
		m.notice = err.Error()
		return
	}
	m.selected = (i + 1) % n
	m.notice = fmt.Sprintf("%d/%d %s %s", i+1, n, mk.Code, mk.Message)
	m.refresh()
}

// moveCursor places the cursor on a 1-based line and column.
func (m *Model) moveCursor(line, column int) {
	target := max(line-1, 0)
	limit := len(m.editor.Value()) + 1
	for i := 0; m.editor.Line() > target && i < limit; i++ {
		m.editor.CursorUp()
	}
	for i := 0; m.editor.Line() < target && i < limit; i++ {
		m.editor.CursorDown()
	}
	m.editor.SetCursor(max(column-1, 0))
}

func (m *Model) resize() {
	m.editor.SetWidth(max(m.width, 20))
	m.editor.SetHeight(max((m.height-chromeHeight)/2, 3))
}

// Text returns the editor content.
func (m *Model) Text() string {
	return m.editor.Value()
}

// Markers returns the markers on screen.
func (m *Model) Markers() []mapper.Marker {
	return m.applied.Markers
}

// Dirty reports whether the content differs from the file on disk.
func (m *Model) Dirty() bool {
	return m.editor.Value() != m.saved
}

// CursorLine returns the 0-based cursor row.
func (m *Model) CursorLine() int {
	return m.editor.Line()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
