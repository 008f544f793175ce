// Package bridge owns the lifecycle of the sandboxed analysis module:
// loading it, detecting readiness, invoking its operations and classifying
// everything that can go wrong at the boundary. It has no UI knowledge.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
)

// Default timings.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultLoadTimeout  = 30 * time.Second
	DefaultCallTimeout  = 5 * time.Second
)

// Bridge hides the sandbox boundary behind a small set of operations with
// uniform error semantics. It is safe for concurrent use.
type Bridge struct {
	host   Host
	source Source

	pollInterval time.Duration
	loadTimeout  time.Duration
	callTimeout  time.Duration
	logger       *slog.Logger
	observers    []func(Snapshot)

	mu      sync.Mutex
	state   State
	reason  string
	inst    Instance
	handles map[analysis.Operation]Func
	loading chan struct{} // closed when the in-flight load finishes
	abort   context.CancelFunc
	loadErr error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPollInterval sets the interval used while waiting for the host and
// for module readiness.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithLoadTimeout bounds each wait step of a load. Zero waits until the
// context is cancelled.
func WithLoadTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.loadTimeout = d
	}
}

// WithCallTimeout bounds each boundary call. Zero disables the timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.callTimeout = d
	}
}

// WithStateObserver registers fn to be called after every state transition.
// fn runs outside the bridge lock and must not block.
func WithStateObserver(fn func(Snapshot)) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.observers = append(b.observers, fn)
		}
	}
}

// New creates a bridge for modules started by host from source.
func New(host Host, source Source, opts ...Option) *Bridge {
	b := &Bridge{
		host:         host,
		source:       source,
		pollInterval: DefaultPollInterval,
		loadTimeout:  DefaultLoadTimeout,
		callTimeout:  DefaultCallTimeout,
		logger:       slog.New(slog.DiscardHandler),
		state:        StateUnloaded,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current module state.
func (b *Bridge) State() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, Reason: b.reason}
}

// Alive reports whether the module is ready and its sandbox still running.
func (b *Bridge) Alive() bool {
	b.mu.Lock()
	state, inst := b.state, b.inst
	b.mu.Unlock()
	return state == StateReady && inst != nil && inst.Ready()
}

// Load loads the module. It is a no-op when the module is already ready and
// joins the in-flight load when one is running, so at most one load is ever
// in flight. A failed module stays failed until Reload.
func (b *Bridge) Load(ctx context.Context) error {
	b.mu.Lock()
	switch {
	case b.state == StateReady:
		b.mu.Unlock()
		return nil
	case b.loading != nil:
		ch := b.loading
		b.mu.Unlock()
		return b.await(ctx, ch)
	case b.state == StateFailed:
		err := &Error{Kind: KindLoadFailure, Message: b.reason}
		b.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	loadCtx, abort := context.WithCancel(ctx)
	defer abort()
	b.loading = done
	b.abort = abort
	snap := b.setStateLocked(StateLoading, "")
	b.mu.Unlock()
	b.notify(snap)

	inst, handles, err := b.start(loadCtx)

	b.mu.Lock()
	if err != nil {
		b.loadErr = &Error{Kind: KindLoadFailure, Message: err.Error(), Err: err}
		snap = b.setStateLocked(StateFailed, err.Error())
	} else {
		b.loadErr = nil
		b.inst = inst
		b.handles = handles
		snap = b.setStateLocked(StateReady, "")
	}
	loadErr := b.loadErr
	b.loading = nil
	b.abort = nil
	close(done)
	b.mu.Unlock()
	b.notify(snap)

	if loadErr != nil {
		b.logger.Error("module load failed", "error", loadErr)
		return loadErr
	}
	b.logger.Info("module ready")
	return nil
}

// await waits for the in-flight load signalled by ch.
func (b *Bridge) await(ctx context.Context, ch chan struct{}) error {
	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateReady {
		return nil
	}
	if b.loadErr != nil {
		return b.loadErr
	}
	return &Error{Kind: KindLoadFailure, Message: b.reason}
}

// Reload discards the current instance and loads the module again,
// regardless of state. It is the only way out of StateFailed and the
// recovery path after the sandbox exits.
func (b *Bridge) Reload(ctx context.Context) error {
	b.mu.Lock()
	for b.loading != nil {
		ch := b.loading
		b.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mu.Lock()
	}
	inst := b.inst
	b.inst = nil
	b.handles = nil
	b.loadErr = nil
	snap := b.setStateLocked(StateUnloaded, "")
	b.mu.Unlock()
	b.notify(snap)

	if inst != nil {
		if err := inst.Close(ctx); err != nil {
			b.logger.Warn("closing module instance", "error", err)
		}
	}
	b.logger.Info("reloading module")
	return b.Load(ctx)
}

// Close terminates the running instance and returns the bridge to
// StateUnloaded. An in-flight load is aborted and waited for first, so no
// instance outlives Close.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	for b.loading != nil {
		ch := b.loading
		b.abort()
		b.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mu.Lock()
	}
	inst := b.inst
	b.inst = nil
	b.handles = nil
	snap := b.setStateLocked(StateUnloaded, "")
	b.mu.Unlock()
	b.notify(snap)

	if inst == nil {
		return nil
	}
	return inst.Close(ctx)
}

// Call invokes op with args and returns the raw result envelope.
//
// It fails with ErrNotLoaded unless the module is ready and with ErrExited
// when the sandbox liveness flag is down. Errors raised by the call are
// reclassified as Exited or Invocation; results that are not an envelope
// yield InvalidResponse. The envelope is otherwise returned unmodified.
func (b *Bridge) Call(ctx context.Context, op analysis.Operation, args ...any) (json.RawMessage, error) {
	b.mu.Lock()
	state, inst, fn := b.state, b.inst, b.handles[op]
	b.mu.Unlock()

	if state != StateReady || inst == nil {
		return nil, &Error{Kind: KindNotLoaded, Op: op, Message: msgNotLoaded}
	}
	if fn == nil {
		return nil, &Error{Kind: KindInvocation, Op: op, Message: fmt.Sprintf("unknown operation %q", op)}
	}
	if !inst.Ready() {
		return nil, &Error{Kind: KindExited, Op: op, Message: msgExited}
	}

	// Only the call timeout reaches the guest. A sandbox may abort and close
	// the module when its context ends, so the caller giving up must not.
	// The guest context is released when the guest returns, not when Call does.
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if b.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), b.callTimeout)
	} else {
		callCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}

	type outcome struct {
		raw []byte
		err error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic in %s: %v", op, r)}
			}
		}()
		raw, err := fn(callCtx, args...)
		ch <- outcome{raw: raw, err: err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-callCtx.Done():
		select {
		case out = <-ch:
		default:
			b.logger.Warn("module call timed out", "op", op, "timeout", b.callTimeout)
			return nil, &Error{Kind: KindTimedOut, Op: op, Message: msgTimedOut, Err: callCtx.Err()}
		}
	}

	b.logger.Debug("module call", "op", op, "duration", time.Since(start), "error", out.err)

	if out.err != nil {
		if !inst.Ready() {
			return nil, &Error{Kind: KindExited, Op: op, Message: msgExited, Err: out.err}
		}
		return nil, classify(op, out.err)
	}
	if err := checkEnvelope(out.raw); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Op: op, Message: msgInvalidResponse, Err: err}
	}
	return json.RawMessage(out.raw), nil
}

// start runs the load sequence: wait for the host, fetch, instantiate and
// wait for the module to expose every operation.
func (b *Bridge) start(ctx context.Context) (Instance, map[analysis.Operation]Func, error) {
	if b.host == nil || b.source == nil {
		return nil, nil, fmt.Errorf("no sandbox host configured")
	}

	if err := b.poll(ctx, "sandbox host", b.host.Available); err != nil {
		return nil, nil, err
	}

	payload, err := b.source.Fetch(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch module: %w", err)
	}
	b.logger.Debug("module fetched", "bytes", len(payload))

	inst, err := b.host.Start(ctx, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("start module: %w", err)
	}

	handles := make(map[analysis.Operation]Func, len(analysis.Operations))
	ready := func() bool {
		if !inst.Ready() {
			return false
		}
		for _, op := range analysis.Operations {
			fn, ok := inst.Lookup(op)
			if !ok {
				return false
			}
			handles[op] = fn
		}
		return true
	}
	if err := b.poll(ctx, "module readiness", ready); err != nil {
		if cerr := inst.Close(context.WithoutCancel(ctx)); cerr != nil {
			b.logger.Warn("closing module instance", "error", cerr)
		}
		return nil, nil, err
	}
	return inst, handles, nil
}

func (b *Bridge) setStateLocked(s State, reason string) Snapshot {
	if b.state != s {
		b.logger.Debug("module state", "from", b.state, "to", s)
	}
	b.state = s
	b.reason = reason
	return Snapshot{State: s, Reason: reason}
}

func (b *Bridge) notify(s Snapshot) {
	for _, fn := range b.observers {
		fn(s)
	}
}
