package bridge

import (
	"context"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
)

// Host is the sandbox runtime able to construct module instances.
type Host interface {
	// Available reports whether the runtime can construct modules yet.
	Available() bool

	// Start instantiates the compiled payload inside the sandbox.
	// The returned instance may still be wiring itself up; readiness is
	// observed through Instance.Ready.
	Start(ctx context.Context, payload []byte) (Instance, error)
}

// Source supplies the compiled module payload.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Instance is a running module inside the sandbox.
type Instance interface {
	// Ready is the shared readiness flag. It turns true once the module has
	// exposed its operations and false again if the guest terminates.
	Ready() bool

	// Lookup returns the handle for op if the module exposes it.
	Lookup(op analysis.Operation) (Func, bool)

	// Close terminates the instance.
	Close(ctx context.Context) error
}

// Func is a boundary operation handle. It returns the raw JSON envelope.
type Func func(ctx context.Context, args ...any) ([]byte, error)

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) ([]byte, error) {
	return f(ctx)
}
