package tui

import (
	"sync"

	"github.com/leapstack-labs/qasmlens/internal/editsync"
)

type cursor struct {
	line, column int // 1-based
}

// screen is the editsync.Editor for the terminal editor. The synchronizer
// calls it under the session lock, so it only records the latest state and
// pings the program, which pulls the state on its own goroutine.
type screen struct {
	mu     sync.Mutex
	update editsync.Update
	status editsync.Status
	reveal *cursor

	notify chan struct{}
}

func newScreen() *screen {
	return &screen{notify: make(chan struct{}, 1)}
}

func (s *screen) Apply(_ string, u editsync.Update) {
	s.mu.Lock()
	s.update = u
	s.mu.Unlock()
	s.ping()
}

func (s *screen) Clear(string) {
	s.mu.Lock()
	s.update = editsync.Update{}
	s.mu.Unlock()
	s.ping()
}

func (s *screen) Reveal(_ string, line, column int) {
	s.mu.Lock()
	s.reveal = &cursor{line: line, column: column}
	s.mu.Unlock()
	s.ping()
}

func (s *screen) setStatus(st editsync.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.ping()
}

// take returns the latest state and consumes any pending reveal.
func (s *screen) take() (editsync.Update, editsync.Status, *cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reveal
	s.reveal = nil
	return s.update, s.status, r
}

func (s *screen) ping() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
