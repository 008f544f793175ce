package wasm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
)

// Sources that make the test guest misbehave.
const (
	srcEmpty      = "empty"
	srcOutOfRange = "out-of-range"
	srcExit       = "exit"
	srcSpin       = "spin"
	// lint fails with an out-of-range result, highlight answers slowly
	srcBadLint = "bad-lint"
)

const (
	heapStart = 1024
	heapEnd   = 4 * 65536
)

// guest is the Go side of a small wasm module whose qasm_* exports forward
// to host functions in "env". The module owns its memory; the host
// functions read inputs from it and write results into it, so every byte
// crosses the same boundary a compiled analysis module uses.
type guest struct {
	ready atomic.Int32
	frees atomic.Int32

	mu      sync.Mutex
	next    uint32
	release chan struct{}
	spins   chan struct{}
}

func newGuest() *guest {
	g := &guest{next: heapStart, release: make(chan struct{}), spins: make(chan struct{}, 8)}
	g.ready.Store(1)
	return g
}

// Release unblocks every spinning call.
func (g *guest) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.release:
	default:
		close(g.release)
	}
}

func (g *guest) alloc(size uint32) uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	size = (size + 7) &^ 7
	if g.next+size > heapEnd {
		g.next = heapStart
	}
	p := g.next
	g.next += size
	return p
}

// instantiate registers the env host module on h's runtime and returns the
// guest module bytes.
func (g *guest) instantiate(t *testing.T, h *Host) []byte {
	t.Helper()
	ctx := context.Background()
	r, err := h.runtimeFor(ctx)
	require.NoError(t, err)

	forward := func(op analysis.Operation) func(context.Context, api.Module, uint32, uint32) uint64 {
		return func(ctx context.Context, m api.Module, ptr, size uint32) uint64 {
			return g.respond(ctx, m, op, ptr, size)
		}
	}
	format := func(ctx context.Context, m api.Module, ptr, size, _ uint32) uint64 {
		return g.respond(ctx, m, analysis.OpFormat, ptr, size)
	}

	env := r.NewHostModuleBuilder("env")
	for export, fn := range map[string]any{
		"alloc":     func(size uint32) uint32 { return g.alloc(size) },
		"free":      func(_, _ uint32) { g.frees.Add(1) },
		"ready":     func() uint32 { return uint32(g.ready.Load()) },
		"format":    format,
		"highlight": forward(analysis.OpHighlight),
		"lint":      forward(analysis.OpLint),
	} {
		env = env.NewFunctionBuilder().WithFunc(fn).Export(export)
	}
	_, err = env.Instantiate(ctx)
	require.NoError(t, err)
	return guestModule()
}

func (g *guest) respond(ctx context.Context, m api.Module, op analysis.Operation, ptr, size uint32) uint64 {
	in, ok := m.Memory().Read(ptr, size)
	if !ok {
		panic("input out of range")
	}
	src := string(in)

	switch src {
	case srcEmpty:
		return 0
	case srcOutOfRange:
		return Pack(heapEnd+4096, 64)
	case srcExit:
		_ = m.CloseWithExitCode(ctx, 3)
		panic(sys.NewExitError(3))
	case srcBadLint:
		if op == analysis.OpLint {
			return Pack(heapEnd+4096, 64)
		}
		time.Sleep(20 * time.Millisecond)
	case srcSpin:
		g.spins <- struct{}{}
		select {
		case <-g.release:
		case <-time.After(5 * time.Second):
		}
	}

	var v any
	switch op {
	case analysis.OpFormat:
		v = analysis.FormatResult{Envelope: analysis.Envelope{Success: true}, Formatted: strings.TrimSpace(src) + "\n"}
	case analysis.OpHighlight:
		v = analysis.HighlightResult{Envelope: analysis.Envelope{Success: true}, Tokens: []analysis.Token{
			{Type: "register", Content: "qubit", Line: 1, Column: 0, Length: 5},
		}}
	case analysis.OpLint:
		res := analysis.LintResult{Envelope: analysis.Envelope{Success: true}, Violations: []analysis.Violation{}}
		if !strings.HasSuffix(strings.TrimSpace(src), ";") {
			res.Success = false
			res.Violations = append(res.Violations, analysis.Violation{
				Line: 1, Column: len(src) + 1, Severity: analysis.SeverityWarning,
				RuleID: "QAS004", Message: "statement should end with ';'",
			})
		}
		v = res
	}
	out, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	p := g.alloc(uint32(len(out)))
	if !m.Memory().Write(p, out) {
		panic("output out of range")
	}
	return Pack(p, uint32(len(out)))
}

// guestModule encodes a module importing env.{alloc,free,ready,format,
// highlight,lint}, defining 4 pages of exported memory and exporting
// qasm_* wrappers that pass their parameters straight to the imports.
func guestModule() []byte {
	const (
		i32 = 0x7f
		i64 = 0x7e
	)
	funcType := func(params, results []byte) []byte {
		return append(append([]byte{0x60}, vec(params)...), vec(results)...)
	}
	types := [][]byte{
		funcType([]byte{i32}, []byte{i32}),           // 0 alloc
		funcType([]byte{i32, i32}, nil),              // 1 free
		funcType(nil, []byte{i32}),                   // 2 ready
		funcType([]byte{i32, i32, i32}, []byte{i64}), // 3 format
		funcType([]byte{i32, i32}, []byte{i64}),      // 4 highlight, lint
	}
	ops := []struct {
		name   string
		typ    uint32
		params int
	}{
		{"alloc", 0, 1},
		{"free", 1, 2},
		{"ready", 2, 0},
		{"format", 3, 3},
		{"highlight", 4, 2},
		{"lint", 4, 2},
	}

	var imports, funcs, exports, bodies [][]byte
	for i, op := range ops {
		imports = append(imports, concat(name("env"), name(op.name), []byte{0x00}, uleb(op.typ)))
		funcs = append(funcs, uleb(op.typ))

		local := uint32(len(ops) + i)
		exports = append(exports, concat(name("qasm_"+op.name), []byte{0x00}, uleb(local)))

		code := []byte{0x00} // no locals
		for p := 0; p < op.params; p++ {
			code = append(code, 0x20)
			code = append(code, uleb(uint32(p))...)
		}
		code = append(code, 0x10)
		code = append(code, uleb(uint32(i))...)
		code = append(code, 0x0b)
		bodies = append(bodies, concat(uleb(uint32(len(code))), code))
	}
	exports = append(exports, concat(name("memory"), []byte{0x02, 0x00}))

	return concat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(1, vecOf(types)),
		section(2, vecOf(imports)),
		section(3, vecOf(funcs)),
		section(5, vecOf([][]byte{{0x00, 0x04}})),
		section(7, vecOf(exports)),
		section(10, vecOf(bodies)),
	)
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func vec(items []byte) []byte {
	return concat(uleb(uint32(len(items))), items)
}

func vecOf(items [][]byte) []byte {
	return concat(uleb(uint32(len(items))), concat(items...))
}

func name(s string) []byte {
	return concat(uleb(uint32(len(s))), []byte(s))
}

func section(id byte, body []byte) []byte {
	return concat([]byte{id}, uleb(uint32(len(body))), body)
}
