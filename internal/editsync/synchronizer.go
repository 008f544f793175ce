// Package editsync keeps editor decorations and markers in step with the
// analysis module while the user types. Each document gets a session that
// debounces edits, tags every analysis request with a token and applies a
// response only if no newer request was issued in the meantime.
package editsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/qasmlens/internal/mapper"
)

// DefaultDebounce is the quiet period after an edit before analysis runs.
const DefaultDebounce = 500 * time.Millisecond

// Synchronizer owns one Session per open document.
type Synchronizer struct {
	analyzer   Analyzer
	editor     Editor
	debounce   time.Duration
	markerSpan int
	logger     *slog.Logger
	onStatus   func(Status)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	pubMu     sync.Mutex
	published map[string]uint64
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithDebounce sets the debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

// WithMarkerSpan sets the column width of each marker.
func WithMarkerSpan(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.markerSpan = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// OnStatus registers fn to receive session status changes. fn is called
// outside session locks, one status at a time, and a status older than one
// already delivered for the same document is dropped.
func OnStatus(fn func(Status)) Option {
	return func(s *Synchronizer) {
		s.onStatus = fn
	}
}

// New creates a synchronizer driving editor with results from analyzer.
func New(analyzer Analyzer, editor Editor, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		analyzer:   analyzer,
		editor:     editor,
		debounce:   DefaultDebounce,
		markerSpan: mapper.DefaultMarkerSpan,
		logger:     slog.New(slog.DiscardHandler),
		sessions:   make(map[string]*Session),
		published:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Open returns the session for uri, creating it if needed.
// Returns nil after Close.
func (s *Synchronizer) Open(uri string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if sess, ok := s.sessions[uri]; ok {
		return sess
	}
	sess := &Session{uri: uri, owner: s}
	s.sessions[uri] = sess
	return sess
}

// Session returns the session for uri if one is open.
func (s *Synchronizer) Session(uri string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uri]
	return sess, ok
}

// Sessions returns every open session.
func (s *Synchronizer) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Change records new content for uri and schedules analysis.
func (s *Synchronizer) Change(uri, text string) {
	if sess := s.Open(uri); sess != nil {
		sess.Change(text)
	}
}

// RunNow analyzes uri immediately, see Session.RunNow.
func (s *Synchronizer) RunNow(ctx context.Context, uri string) error {
	sess, ok := s.Session(uri)
	if !ok {
		return ErrNoSession
	}
	return sess.RunNow(ctx)
}

// RunAll analyzes every open document immediately. Used after a module
// reload, since nothing is retried automatically.
func (s *Synchronizer) RunAll(ctx context.Context) {
	for _, sess := range s.Sessions() {
		if err := sess.RunNow(ctx); err != nil {
			s.logger.Debug("run after reload", "uri", sess.uri, "error", err)
		}
	}
}

// Remove closes and forgets the session for uri.
func (s *Synchronizer) Remove(uri string) {
	s.mu.Lock()
	sess, ok := s.sessions[uri]
	delete(s.sessions, uri)
	s.mu.Unlock()
	if ok {
		sess.close()
	}
	s.pubMu.Lock()
	delete(s.published, uri)
	s.pubMu.Unlock()
}

// Close stops every session. Responses that arrive afterwards are dropped.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	s.cancel()
}

func (s *Synchronizer) publish(st Status) {
	if s.onStatus == nil {
		return
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if st.Seq <= s.published[st.URI] {
		s.logger.Debug("dropping stale status", "uri", st.URI, "seq", st.Seq)
		return
	}
	s.published[st.URI] = st.Seq
	s.onStatus(st)
}
