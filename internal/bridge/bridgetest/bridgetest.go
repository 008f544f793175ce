// Package bridgetest provides an in-memory sandbox for exercising the
// bridge and everything layered on it without a real analysis module.
package bridgetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/bridge"
)

// Handler answers one boundary call. args are the call arguments as passed
// to bridge.Call.
type Handler func(ctx context.Context, args []any) ([]byte, error)

// Call records a single boundary invocation.
type Call struct {
	Op   analysis.Operation
	Args []any
}

// Module is a fake module instance. The zero value is not usable; use NewModule.
type Module struct {
	ready  atomic.Bool
	closed atomic.Bool

	mu       sync.Mutex
	handlers map[analysis.Operation]Handler
	calls    []Call
}

// NewModule returns a module that is ready immediately and answers every
// operation with an empty successful envelope.
func NewModule() *Module {
	m := &Module{handlers: make(map[analysis.Operation]Handler)}
	m.ready.Store(true)
	m.Handle(analysis.OpFormat, func(_ context.Context, args []any) ([]byte, error) {
		src, _ := args[0].(string)
		return JSON(analysis.FormatResult{Envelope: analysis.Envelope{Success: true}, Formatted: src}), nil
	})
	m.Handle(analysis.OpHighlight, func(context.Context, []any) ([]byte, error) {
		return JSON(analysis.HighlightResult{Envelope: analysis.Envelope{Success: true}, Tokens: []analysis.Token{}}), nil
	})
	m.Handle(analysis.OpLint, func(context.Context, []any) ([]byte, error) {
		return JSON(analysis.LintResult{Envelope: analysis.Envelope{Success: true}, Violations: []analysis.Violation{}}), nil
	})
	return m
}

// Handle replaces the handler for op. A nil handler removes the operation.
func (m *Module) Handle(op analysis.Operation, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.handlers, op)
		return
	}
	m.handlers[op] = h
}

// SetReady sets the readiness/liveness flag.
func (m *Module) SetReady(ready bool) {
	m.ready.Store(ready)
}

// Kill simulates the guest terminating on its own.
func (m *Module) Kill() {
	m.ready.Store(false)
}

// Ready implements bridge.Instance.
func (m *Module) Ready() bool {
	return m.ready.Load() && !m.closed.Load()
}

// Lookup implements bridge.Instance.
func (m *Module) Lookup(op analysis.Operation) (bridge.Func, bool) {
	m.mu.Lock()
	_, ok := m.handlers[op]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, args ...any) ([]byte, error) {
		m.mu.Lock()
		h := m.handlers[op]
		m.calls = append(m.calls, Call{Op: op, Args: args})
		m.mu.Unlock()
		if m.closed.Load() {
			return nil, errors.New("Go program has already exited")
		}
		if h == nil {
			return nil, fmt.Errorf("%s is not exported", op)
		}
		return h(ctx, args)
	}, true
}

// Close implements bridge.Instance.
func (m *Module) Close(context.Context) error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (m *Module) Closed() bool {
	return m.closed.Load()
}

// Calls returns the calls made so far.
func (m *Module) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of calls made for op.
func (m *Module) CallCount(op analysis.Operation) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Host is a fake sandbox runtime handing out modules.
type Host struct {
	available atomic.Bool
	starts    atomic.Int32

	mu       sync.Mutex
	modules  []*Module
	next     func() *Module
	startErr error
}

// NewHost returns an available host that starts m on every Start.
func NewHost(m *Module) *Host {
	h := &Host{next: func() *Module { return m }}
	h.available.Store(true)
	return h
}

// NewFactoryHost returns an available host that calls next on every Start,
// so each reload gets a fresh module.
func NewFactoryHost(next func() *Module) *Host {
	h := &Host{next: next}
	h.available.Store(true)
	return h
}

// SetAvailable toggles the module-constructor capability.
func (h *Host) SetAvailable(v bool) {
	h.available.Store(v)
}

// FailStart makes subsequent Start calls fail with err. Pass nil to clear.
func (h *Host) FailStart(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startErr = err
}

// Starts returns how many times Start was called.
func (h *Host) Starts() int {
	return int(h.starts.Load())
}

// Modules returns the modules started so far.
func (h *Host) Modules() []*Module {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Module, len(h.modules))
	copy(out, h.modules)
	return out
}

// Available implements bridge.Host.
func (h *Host) Available() bool {
	return h.available.Load()
}

// Start implements bridge.Host.
func (h *Host) Start(_ context.Context, _ []byte) (bridge.Instance, error) {
	h.starts.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return nil, h.startErr
	}
	m := h.next()
	h.modules = append(h.modules, m)
	return m, nil
}

// Payload returns a source that always yields p.
func Payload(p []byte) bridge.Source {
	return bridge.SourceFunc(func(context.Context) ([]byte, error) {
		return p, nil
	})
}

// FailingSource returns a source whose Fetch always fails with err.
func FailingSource(err error) bridge.Source {
	return bridge.SourceFunc(func(context.Context) ([]byte, error) {
		return nil, err
	})
}

// JSON marshals v, panicking on error. For test fixtures only.
func JSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// LintHandler answers lint calls with violations computed from the source.
func LintHandler(fn func(src string) []analysis.Violation) Handler {
	return func(_ context.Context, args []any) ([]byte, error) {
		src, _ := args[0].(string)
		v := fn(src)
		if v == nil {
			v = []analysis.Violation{}
		}
		return JSON(analysis.LintResult{Envelope: analysis.Envelope{Success: len(v) == 0}, Violations: v}), nil
	}
}

// HighlightHandler answers highlight calls with tokens computed from the source.
func HighlightHandler(fn func(src string) []analysis.Token) Handler {
	return func(_ context.Context, args []any) ([]byte, error) {
		src, _ := args[0].(string)
		t := fn(src)
		if t == nil {
			t = []analysis.Token{}
		}
		return JSON(analysis.HighlightResult{Envelope: analysis.Envelope{Success: true}, Tokens: t}), nil
	}
}

// Gate blocks handlers until released, to control response arrival order.
type Gate struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{gates: make(map[string]chan struct{})}
}

func (g *Gate) chanFor(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[key]
	if !ok {
		ch = make(chan struct{})
		g.gates[key] = ch
	}
	return ch
}

// Wait blocks until key is released or ctx is done.
func (g *Gate) Wait(ctx context.Context, key string) error {
	select {
	case <-g.chanFor(key):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release unblocks every waiter on key, now and in the future.
func (g *Gate) Release(key string) {
	ch := g.chanFor(key)
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Wrap returns a handler that waits on the gate keyed by the source text
// before delegating to h.
func (g *Gate) Wrap(h Handler) Handler {
	return func(ctx context.Context, args []any) ([]byte, error) {
		src, _ := args[0].(string)
		if err := g.Wait(ctx, src); err != nil {
			return nil, err
		}
		return h(ctx, args)
	}
}
