package editsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/mapper"
)

var (
	// ErrSuperseded is returned by RunNow when a newer request was issued
	// before the response arrived. Nothing was applied.
	ErrSuperseded = errors.New("superseded by a newer edit")
	// ErrClosed is returned once the session is closed.
	ErrClosed = errors.New("session closed")
	// ErrNoSession is returned for unknown documents.
	ErrNoSession = errors.New("no session for document")
)

// Session tracks one document.
type Session struct {
	uri   string
	owner *Synchronizer

	mu      sync.Mutex
	text    string
	latest  uint64
	phase   Phase
	timer   *time.Timer
	applied Update
	err     error
	engine  string
	closed  bool
	seq     uint64
}

// URI returns the document identifier.
func (s *Session) URI() string {
	return s.uri
}

// Text returns the latest content.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Change records new content. Any pending analysis is replaced by one that
// fires after the debounce interval. Blank content clears the editor at once.
func (s *Session) Change(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.text = text
	s.latest++
	tok := s.latest
	s.stopTimerLocked()

	if isBlank(text) {
		st := s.clearLocked(tok)
		s.mu.Unlock()
		s.owner.publish(st)
		return
	}

	s.phase = PhaseScheduled
	s.timer = time.AfterFunc(s.owner.debounce, func() {
		s.fire(tok)
	})
	st := s.nextStatusLocked()
	s.mu.Unlock()
	s.owner.publish(st)
}

// RunNow analyzes the current content immediately, bypassing the debounce,
// and blocks until the result is applied or discarded. It returns the
// boundary error, if any, or ErrSuperseded.
func (s *Session) RunNow(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.latest++
	tok := s.latest
	s.stopTimerLocked()
	if isBlank(s.text) {
		st := s.clearLocked(tok)
		s.mu.Unlock()
		s.owner.publish(st)
		return nil
	}
	text := s.text
	s.phase = PhaseInFlight
	st := s.nextStatusLocked()
	s.mu.Unlock()
	s.owner.publish(st)

	return s.run(ctx, tok, text)
}

// fire runs when the debounce timer for tok expires.
func (s *Session) fire(tok uint64) {
	s.mu.Lock()
	if s.closed || tok != s.latest {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	text := s.text
	s.phase = PhaseInFlight
	st := s.nextStatusLocked()
	s.mu.Unlock()
	s.owner.publish(st)

	if err := s.run(s.owner.ctx, tok, text); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrClosed) {
		s.owner.logger.Warn("analysis failed", "uri", s.uri, "token", tok, "error", err)
	}
}

// run issues highlight and lint for text and applies the result if tok is
// still the latest request.
func (s *Session) run(ctx context.Context, tok uint64, text string) error {
	var (
		hl   *analysis.HighlightResult
		lint *analysis.LintResult
	)
	// A failure of one call must not cancel the other: the sandbox may
	// abort the guest on cancellation.
	var g errgroup.Group
	g.Go(func() error {
		res, err := s.owner.analyzer.Highlight(ctx, text)
		hl = res
		return err
	})
	g.Go(func() error {
		res, err := s.owner.analyzer.Lint(ctx, text)
		lint = res
		return err
	})
	err := g.Wait()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if tok != s.latest {
		s.mu.Unlock()
		s.owner.logger.Debug("discarding stale analysis", "uri", s.uri, "token", tok)
		return ErrSuperseded
	}
	s.phase = PhaseIdle
	if err != nil {
		s.err = err
		s.engine = ""
		st := s.nextStatusLocked()
		s.mu.Unlock()
		s.owner.publish(st)
		return err
	}

	u := s.buildLocked(tok, text, hl, lint)
	s.applied = u
	s.err = nil
	s.owner.editor.Apply(s.uri, u)
	st := s.nextStatusLocked()
	s.mu.Unlock()
	s.owner.publish(st)
	return nil
}

// buildLocked maps results into an update. A failed envelope keeps the
// previous descriptors of its kind on screen.
func (s *Session) buildLocked(tok uint64, text string, hl *analysis.HighlightResult, lint *analysis.LintResult) Update {
	u := Update{
		Token:       tok,
		Text:        text,
		Decorations: s.applied.Decorations,
		Markers:     s.applied.Markers,
		Violations:  s.applied.Violations,
	}
	var engine []string
	if hl == nil {
		hl = &analysis.HighlightResult{}
	}
	if lint == nil {
		lint = &analysis.LintResult{}
	}

	if hl.Success {
		u.Decorations = mapper.TokensToDecorations(hl.Tokens)
	} else if hl.Error != "" {
		engine = append(engine, hl.Error)
	}

	// lint reports success:false for a dirty file; only an error message
	// with no violations is an engine failure.
	if lint.Error != "" && len(lint.Violations) == 0 {
		engine = append(engine, lint.Error)
	} else {
		u.Violations = lint.Violations
		u.Markers = mapper.ViolationsToMarkersWithSpan(lint.Violations, s.owner.markerSpan)
	}

	if u.Decorations == nil {
		u.Decorations = []mapper.Decoration{}
	}
	if u.Markers == nil {
		u.Markers = []mapper.Marker{}
	}
	s.engine = strings.Join(engine, "; ")
	return u
}

// Reveal navigates the editor to the i-th marker of the applied set.
func (s *Session) Reveal(i int) (mapper.Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.applied.Markers) {
		return mapper.Marker{}, fmt.Errorf("no marker %d (have %d)", i, len(s.applied.Markers))
	}
	m := s.applied.Markers[i]
	s.owner.editor.Reveal(s.uri, m.Line, m.Column)
	return m, nil
}

// Applied returns the descriptor set currently on screen.
func (s *Session) Applied() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Status returns the session status. The summary is recomputed from the
// applied violations.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	return Status{
		URI:         s.uri,
		Phase:       s.phase,
		Token:       s.latest,
		Applied:     s.applied.Token,
		Summary:     s.applied.Summary(),
		Err:         s.err,
		EngineError: s.engine,
		Seq:         s.seq,
	}
}

func (s *Session) clearLocked(tok uint64) Status {
	s.phase = PhaseIdle
	s.applied = Update{Token: tok}
	s.err = nil
	s.engine = ""
	s.owner.editor.Clear(s.uri)
	return s.nextStatusLocked()
}

// nextStatusLocked returns a status to publish, numbered after every
// status published before it.
func (s *Session) nextStatusLocked() Status {
	s.seq++
	return s.statusLocked()
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
	s.phase = PhaseIdle
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
