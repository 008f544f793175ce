package bridge

// State is the lifecycle state of the analysis module.
type State int

// Module states.
const (
	// StateUnloaded - no load has been requested yet.
	StateUnloaded State = iota

	// StateLoading - a load is in flight.
	StateLoading

	// StateReady - all boundary operations are available.
	StateReady

	// StateFailed - the last load failed. Only Reload leaves this state.
	StateFailed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the module state.
// Reason is set only for StateFailed.
type Snapshot struct {
	State  State
	Reason string
}

// String formats the snapshot for status lines and logs.
func (s Snapshot) String() string {
	if s.State == StateFailed && s.Reason != "" {
		return "failed: " + s.Reason
	}
	return s.State.String()
}
