package bridge

import (
	"errors"
	"strings"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
)

// Kind classifies failures at the module boundary.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	// KindLoadFailure - the module could not be fetched or started.
	KindLoadFailure
	// KindNotLoaded - a call was attempted before the module was ready.
	KindNotLoaded
	// KindExited - the sandbox terminated after becoming ready.
	KindExited
	// KindInvocation - the boundary call raised.
	KindInvocation
	// KindInvalidResponse - the call returned something that is not an envelope.
	KindInvalidResponse
	// KindTimedOut - the call did not return within the call timeout.
	KindTimedOut
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindLoadFailure:
		return "load_failure"
	case KindNotLoaded:
		return "not_loaded"
	case KindExited:
		return "exited"
	case KindInvocation:
		return "invocation_error"
	case KindInvalidResponse:
		return "invalid_response"
	case KindTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Blocking reports whether the failure makes the whole module unusable
// until the user reloads it.
func (k Kind) Blocking() bool {
	return k == KindLoadFailure || k == KindExited
}

// Sentinels for errors.Is matching by kind.
var (
	ErrLoadFailure     = &Error{Kind: KindLoadFailure}
	ErrNotLoaded       = &Error{Kind: KindNotLoaded}
	ErrExited          = &Error{Kind: KindExited}
	ErrInvocation      = &Error{Kind: KindInvocation}
	ErrInvalidResponse = &Error{Kind: KindInvalidResponse}
	ErrTimedOut        = &Error{Kind: KindTimedOut}
)

// Error is a classified boundary failure.
type Error struct {
	Kind    Kind
	Op      analysis.Operation // empty for load failures
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return string(e.Op) + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// KindOf returns the Kind of err, or KindUnknown if err is not a boundary error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// Messages shown to the user.
const (
	msgNotLoaded       = "module not loaded"
	msgExited          = "module has exited, reload it to continue"
	msgInvalidResponse = "invalid response from module"
	msgTimedOut        = "module did not respond in time"
)

// exitMarkers are fragments of sandbox error text that mean the guest is gone.
var exitMarkers = []string{
	"has already exited",
	"has exited",
	"module closed",
	"exit_code",
	"program exited",
}

// isExitError reports whether err says the sandboxed process ended.
func isExitError(err error) bool {
	if err == nil {
		return false
	}
	var exitErr interface{ ExitCode() uint32 }
	if errors.As(err, &exitErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range exitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// classify turns an error raised across the boundary into an *Error.
func classify(op analysis.Operation, err error) *Error {
	if isExitError(err) {
		return &Error{Kind: KindExited, Op: op, Message: msgExited, Err: err}
	}
	return &Error{Kind: KindInvocation, Op: op, Message: err.Error(), Err: err}
}
