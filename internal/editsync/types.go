package editsync

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/mapper"
)

// Analyzer runs the analysis operations a session needs.
// *bridge.Bridge satisfies it.
type Analyzer interface {
	Highlight(ctx context.Context, src string) (*analysis.HighlightResult, error)
	Lint(ctx context.Context, src string) (*analysis.LintResult, error)
}

// Editor is the capability the synchronizer drives. owner identifies the
// document (its URI). Implementations must not call back into the session
// from Apply or Clear.
type Editor interface {
	// Apply replaces every decoration and marker owned by owner in one step.
	Apply(owner string, u Update)
	// Clear removes every decoration and marker owned by owner.
	Clear(owner string)
	// Reveal moves the cursor/viewport to a 1-based position.
	Reveal(owner string, line, column int)
}

// Update is the full descriptor set for one document.
type Update struct {
	Token       uint64
	Text        string
	Decorations []mapper.Decoration
	Markers     []mapper.Marker
	Violations  []analysis.Violation
}

// Summary is recomputed from the violations on every call.
func (u Update) Summary() mapper.Summary {
	return mapper.Summarize(u.Violations)
}

// Phase is the scheduling state of a session.
type Phase int

// Session phases.
const (
	PhaseIdle Phase = iota
	PhaseScheduled
	PhaseInFlight
)

// String returns a string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScheduled:
		return "scheduled"
	case PhaseInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of a session.
type Status struct {
	URI     string
	Phase   Phase
	Token   uint64 // latest issued request
	Applied uint64 // request whose results are on screen
	Summary mapper.Summary

	// Err is the last boundary failure. Descriptors on screen are kept.
	Err error
	// EngineError is the error text of a success:false envelope.
	EngineError string
	// Seq orders the statuses published for one session.
	Seq uint64
}

// Blocking reports whether Err makes the module unusable until reload.
func (s Status) Blocking() bool {
	return s.Err != nil && bridge.KindOf(s.Err).Blocking()
}

// Message is a one-line description for status bars.
func (s Status) Message() string {
	switch {
	case s.Err != nil:
		return s.Err.Error()
	case s.EngineError != "":
		return s.EngineError
	case s.Phase != PhaseIdle:
		return s.Phase.String()
	case s.Summary.Clean():
		return "no problems"
	default:
		return fmt.Sprintf("%d problems (%d errors, %d warnings, %d info)",
			s.Summary.Total, s.Summary.Errors, s.Summary.Warnings, s.Summary.Info)
	}
}
