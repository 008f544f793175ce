// Package wasm runs analysis modules compiled to WebAssembly (WASI
// preview1) under wazero.
//
// A module exports its linear memory and:
//
//	qasm_alloc(size i32) i32
//	qasm_free(ptr i32, size i32)
//	qasm_ready() i32
//	qasm_format(ptr i32, len i32, unescape i32) i64
//	qasm_highlight(ptr i32, len i32) i64
//	qasm_lint(ptr i32, len i32) i64
//
// Inputs are UTF-8 written into memory obtained from qasm_alloc. Each
// operation returns ptr<<32|len of a JSON envelope, which the host copies
// out and releases with qasm_free.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/bridge"
)

// Export names.
const (
	ExportAlloc  = "qasm_alloc"
	ExportFree   = "qasm_free"
	ExportReady  = "qasm_ready"
	exportPrefix = "qasm_"
)

// reactorInit is run instead of _start so the module stays alive between calls.
const reactorInit = "_initialize"

// Host owns a wazero runtime shared by the instances it starts.
type Host struct {
	logger *slog.Logger
	cache  wazero.CompilationCache

	mu      sync.Mutex
	runtime wazero.Runtime
	closed  bool
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithCompilationCache shares compiled code across hosts, e.g. one from
// wazero.NewCompilationCacheWithDir.
func WithCompilationCache(c wazero.CompilationCache) Option {
	return func(h *Host) {
		h.cache = c
	}
}

// NewHost creates a host. The runtime is created lazily on first Start.
func NewHost(opts ...Option) *Host {
	h := &Host{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Available implements bridge.Host. It turns false after Close.
func (h *Host) Available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

func (h *Host) runtimeFor(ctx context.Context) (wazero.Runtime, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("wasm host closed")
	}
	if h.runtime != nil {
		return h.runtime, nil
	}
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if h.cache != nil {
		cfg = cfg.WithCompilationCache(h.cache)
	}
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	h.runtime = r
	return r, nil
}

// Start compiles and instantiates payload.
func (h *Host) Start(ctx context.Context, payload []byte) (bridge.Instance, error) {
	r, err := h.runtimeFor(ctx)
	if err != nil {
		return nil, err
	}
	compiled, err := r.CompileModule(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}

	// Anonymous so a reload can instantiate the same module again.
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions(reactorInit).
		WithStdout(logWriter{h.logger, "stdout"}).
		WithStderr(logWriter{h.logger, "stderr"})

	mod, err := r.InstantiateModule(context.WithoutCancel(ctx), compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	h.logger.Debug("wasm module instantiated", "exports", len(compiled.ExportedFunctions()))
	return newInstance(mod, h.logger), nil
}

// Close releases the runtime and every instance.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.runtime == nil {
		return nil
	}
	err := h.runtime.Close(ctx)
	h.runtime = nil
	return err
}

type logWriter struct {
	logger *slog.Logger
	stream string
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Debug("wasm output", "stream", w.stream, "text", string(p))
	return len(p), nil
}

// Instance is an instantiated wasm module. Calls are serialized since guest
// memory is not safe for concurrent use.
type Instance struct {
	mod    api.Module
	logger *slog.Logger

	mu sync.Mutex
}

func newInstance(mod api.Module, logger *slog.Logger) *Instance {
	return &Instance{mod: mod, logger: logger}
}

// Ready implements bridge.Instance. It is the guest's qasm_ready flag,
// false once the module is closed or has exited.
func (i *Instance) Ready() bool {
	if i.mod.IsClosed() {
		return false
	}
	fn := i.mod.ExportedFunction(ExportReady)
	if fn == nil || i.mod.ExportedFunction(ExportAlloc) == nil || i.mod.ExportedFunction(ExportFree) == nil {
		return false
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	res, err := fn.Call(context.Background())
	if err != nil || len(res) == 0 {
		return false
	}
	return api.DecodeI32(res[0]) == 1
}

// Lookup implements bridge.Instance.
func (i *Instance) Lookup(op analysis.Operation) (bridge.Func, bool) {
	fn := i.mod.ExportedFunction(exportPrefix + string(op))
	if fn == nil {
		return nil, false
	}
	want := 2
	if op == analysis.OpFormat {
		want = 3
	}
	if len(fn.Definition().ParamTypes()) != want {
		i.logger.Warn("wasm export has wrong arity", "op", op, "params", len(fn.Definition().ParamTypes()))
		return nil, false
	}
	return func(ctx context.Context, args ...any) ([]byte, error) {
		return i.call(ctx, fn, args)
	}, true
}

// Close implements bridge.Instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

func (i *Instance) call(ctx context.Context, fn api.Function, args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New("missing source argument")
	}
	src, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("source argument must be a string, got %T", args[0])
	}
	var extra []uint64
	for _, a := range args[1:] {
		flag, ok := a.(bool)
		if !ok {
			return nil, fmt.Errorf("flag argument must be a bool, got %T", a)
		}
		extra = append(extra, boolParam(flag))
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.mod.IsClosed() {
		return nil, errors.New("module closed")
	}

	ptr, size, err := i.write(ctx, []byte(src))
	if err != nil {
		return nil, err
	}
	defer i.free(ctx, ptr, size)

	params := append([]uint64{uint64(ptr), uint64(size)}, extra...)
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, err
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("expected 1 result, got %d", len(res))
	}

	outPtr, outLen := Unpack(res[0])
	if outLen == 0 {
		return nil, nil
	}
	buf, ok := i.mod.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("result [%d,+%d) out of range", outPtr, outLen)
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	i.free(ctx, outPtr, outLen)
	return out, nil
}

func (i *Instance) write(ctx context.Context, data []byte) (uint32, uint32, error) {
	size := uint32(len(data))
	if size == 0 {
		return 0, 0, nil
	}
	res, err := i.mod.ExportedFunction(ExportAlloc).Call(ctx, uint64(size))
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", ExportAlloc, err)
	}
	ptr := uint32(res[0])
	if !i.mod.Memory().Write(ptr, data) {
		return 0, 0, fmt.Errorf("input [%d,+%d) out of range", ptr, size)
	}
	return ptr, size, nil
}

func (i *Instance) free(ctx context.Context, ptr, size uint32) {
	if size == 0 || i.mod.IsClosed() {
		return
	}
	if _, err := i.mod.ExportedFunction(ExportFree).Call(ctx, uint64(ptr), uint64(size)); err != nil {
		i.logger.Debug("wasm free failed", "ptr", ptr, "error", err)
	}
}

// Pack combines a guest pointer and length into the operation result form.
func Pack(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

// Unpack splits an operation result into pointer and length.
func Unpack(v uint64) (ptr, size uint32) {
	return uint32(v >> 32), uint32(v)
}

func boolParam(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
