// Package starlark runs analysis modules written in Starlark. A module is a
// single script defining format(src, unescape), highlight(src) and
// lint(src), each returning a result envelope as a dict (or a JSON string),
// and setting ready = True once its top level has run.
package starlark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/bridge"
)

// DefaultMaxSteps bounds the work of a single call.
const DefaultMaxSteps = 10_000_000

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Host starts Starlark module instances. It is always available.
type Host struct {
	maxSteps uint64
	poolSize int
	logger   *slog.Logger
}

// Option configures a Host.
type Option func(*Host)

// WithMaxSteps bounds the execution steps of each call and of the module's
// top level. Zero removes the bound.
func WithMaxSteps(n uint64) Option {
	return func(h *Host) {
		h.maxSteps = n
	}
}

// WithPoolSize sets how many idle threads an instance keeps.
func WithPoolSize(n int) Option {
	return func(h *Host) {
		h.poolSize = n
	}
}

// WithLogger sets the logger. Script print() output goes to it at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHost creates a Starlark host.
func NewHost(opts ...Option) *Host {
	h := &Host{
		maxSteps: DefaultMaxSteps,
		poolSize: defaultPoolSize,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Available implements bridge.Host.
func (h *Host) Available() bool {
	return true
}

// Start executes the module script and returns the instance. The globals
// are frozen once the top level finishes, so calls can share them across
// threads.
func (h *Host) Start(ctx context.Context, payload []byte) (bridge.Instance, error) {
	inst := &Instance{
		maxSteps: h.maxSteps,
		logger:   h.logger,
	}
	inst.pool = NewThreadPool(h.poolSize, h.logger)

	thread := inst.pool.Get("load")
	inst.limit(thread)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel("load cancelled")
	})
	defer stop()

	globals, err := starlark.ExecFileOptions(fileOptions, thread, "module.star", payload, inst.predeclared())
	if err != nil {
		return nil, fmt.Errorf("exec module: %w", describe(err))
	}
	if stop() {
		inst.pool.Put(thread)
	}
	inst.globals = globals
	h.logger.Debug("starlark module loaded", "globals", len(globals))
	return inst, nil
}

// Instance is a loaded Starlark module.
type Instance struct {
	globals  starlark.StringDict
	pool     *ThreadPool
	maxSteps uint64
	logger   *slog.Logger

	exited atomic.Bool
	closed atomic.Bool
}

// Ready implements bridge.Instance. The module is ready when it set the
// global ready to a true value and has neither exited nor been closed.
func (i *Instance) Ready() bool {
	if i.exited.Load() || i.closed.Load() {
		return false
	}
	v, ok := i.globals["ready"]
	return ok && bool(v.Truth())
}

// Lookup implements bridge.Instance.
func (i *Instance) Lookup(op analysis.Operation) (bridge.Func, bool) {
	fn, ok := i.globals[string(op)].(starlark.Callable)
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, args ...any) ([]byte, error) {
		return i.call(ctx, op, fn, args)
	}, true
}

// Close implements bridge.Instance.
func (i *Instance) Close(context.Context) error {
	i.closed.Store(true)
	return nil
}

func (i *Instance) call(ctx context.Context, op analysis.Operation, fn starlark.Callable, args []any) ([]byte, error) {
	if i.closed.Load() {
		return nil, errors.New("module closed")
	}
	if i.exited.Load() {
		return nil, &ExitError{}
	}

	sargs := make(starlark.Tuple, len(args))
	for n, a := range args {
		v, err := GoToStarlark(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", n, err)
		}
		sargs[n] = v
	}

	thread := i.pool.Get(string(op))
	i.limit(thread)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	res, err := starlark.Call(thread, fn, sargs, nil)
	cancelled := !stop()
	if err != nil {
		return nil, describe(err)
	}
	if !cancelled {
		i.pool.Put(thread)
	}

	if s, ok := res.(starlark.String); ok {
		return []byte(s), nil
	}
	goVal, err := ToGo(res)
	if err != nil {
		return nil, fmt.Errorf("%s result: %w", op, err)
	}
	return json.Marshal(goVal)
}

// limit arms the step budget relative to what thread has already used.
func (i *Instance) limit(thread *starlark.Thread) {
	if i.maxSteps > 0 {
		thread.SetMaxExecutionSteps(thread.ExecutionSteps() + i.maxSteps)
	}
}

// describe keeps the Starlark backtrace in the message while preserving
// the cause for errors.As.
func describe(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return &scriptError{msg: evalErr.Backtrace(), cause: err}
	}
	return err
}

type scriptError struct {
	msg   string
	cause error
}

func (e *scriptError) Error() string { return e.msg }
func (e *scriptError) Unwrap() error { return e.cause }
