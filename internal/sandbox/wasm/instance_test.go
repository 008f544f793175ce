package wasm

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/editsync"
	"github.com/leapstack-labs/qasmlens/internal/testutil"
)

// recordingHost remembers the last instance it started.
type recordingHost struct {
	*Host

	mu   sync.Mutex
	last *Instance
}

func (h *recordingHost) Start(ctx context.Context, payload []byte) (bridge.Instance, error) {
	inst, err := h.Host.Start(ctx, payload)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.last = inst.(*Instance)
	h.mu.Unlock()
	return inst, nil
}

func (h *recordingHost) closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last != nil && h.last.mod.IsClosed()
}

type guestFixture struct {
	guest  *guest
	host   *recordingHost
	bridge *bridge.Bridge
}

func newGuestFixture(t *testing.T, callTimeout time.Duration) *guestFixture {
	t.Helper()
	g := newGuest()
	t.Cleanup(g.Release)
	h := &recordingHost{Host: newHost(t)}
	payload := g.instantiate(t, h.Host)
	b := bridge.New(h, bridge.SourceFunc(func(context.Context) ([]byte, error) { return payload, nil }),
		bridge.WithLogger(testutil.NewTestLogger(t)),
		bridge.WithPollInterval(time.Millisecond),
		bridge.WithLoadTimeout(time.Second),
		bridge.WithCallTimeout(callTimeout))
	require.NoError(t, b.Load(context.Background()))
	return &guestFixture{guest: g, host: h, bridge: b}
}

func TestInstance_Operations(t *testing.T) {
	ctx := context.Background()
	f := newGuestFixture(t, time.Second)
	assert.True(t, f.bridge.Alive())

	formatted, err := f.bridge.Format(ctx, "qubit q;  ", false)
	require.NoError(t, err)
	assert.True(t, formatted.Success)
	assert.Equal(t, "qubit q;\n", formatted.Formatted)

	hl, err := f.bridge.Highlight(ctx, "qubit q;")
	require.NoError(t, err)
	require.Len(t, hl.Tokens, 1)
	assert.Equal(t, analysis.Token{Type: "register", Content: "qubit", Line: 1, Column: 0, Length: 5}, hl.Tokens[0])

	lint, err := f.bridge.Lint(ctx, "h q")
	require.NoError(t, err)
	assert.False(t, lint.Success)
	require.Len(t, lint.Violations, 1)
	assert.Equal(t, "QAS004", lint.Violations[0].RuleID)
	assert.Equal(t, 4, lint.Violations[0].Column)

	// input and result buffers are both released
	assert.Equal(t, int32(6), f.guest.frees.Load())
}

func TestInstance_RawCall(t *testing.T) {
	ctx := context.Background()
	g := newGuest()
	h := newHost(t)
	inst, err := h.Start(ctx, g.instantiate(t, h))
	require.NoError(t, err)
	require.True(t, inst.Ready())

	fn, ok := inst.Lookup(analysis.OpFormat)
	require.True(t, ok)
	raw, err := fn(ctx, "qubit q;", true)
	require.NoError(t, err)
	var res analysis.FormatResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, "qubit q;\n", res.Formatted)

	t.Run("zero length result", func(t *testing.T) {
		raw, err := fn(ctx, srcEmpty, false)
		assert.NoError(t, err)
		assert.Nil(t, raw)
	})

	t.Run("argument checks", func(t *testing.T) {
		_, err := fn(ctx)
		assert.Error(t, err)
		_, err = fn(ctx, 42)
		assert.Error(t, err)
		_, err = fn(ctx, "x", "yes")
		assert.Error(t, err)
	})

	g.ready.Store(0)
	assert.False(t, inst.Ready())
}

func TestInstance_EmptyResultIsInvalid(t *testing.T) {
	f := newGuestFixture(t, time.Second)
	_, err := f.bridge.Lint(context.Background(), srcEmpty)
	assert.ErrorIs(t, err, bridge.ErrInvalidResponse)
	assert.True(t, f.bridge.Alive())
}

func TestInstance_OutOfRangeResult(t *testing.T) {
	ctx := context.Background()
	f := newGuestFixture(t, time.Second)

	_, err := f.bridge.Lint(ctx, srcOutOfRange)
	require.Error(t, err)
	assert.Equal(t, bridge.KindInvocation, bridge.KindOf(err))
	assert.Contains(t, err.Error(), "out of range")

	assert.True(t, f.bridge.Alive())
	_, err = f.bridge.Lint(ctx, "qubit q;")
	assert.NoError(t, err)
}

func TestInstance_ExitMidCall(t *testing.T) {
	ctx := context.Background()
	f := newGuestFixture(t, time.Second)

	_, err := f.bridge.Lint(ctx, srcExit)
	assert.ErrorIs(t, err, bridge.ErrExited)
	assert.False(t, f.bridge.Alive())
	assert.True(t, f.host.closed())

	_, err = f.bridge.Highlight(ctx, "qubit q;")
	assert.ErrorIs(t, err, bridge.ErrExited)

	require.NoError(t, f.bridge.Reload(ctx))
	_, err = f.bridge.Highlight(ctx, "qubit q;")
	assert.NoError(t, err)
}

func TestInstance_TimeoutClosesGuest(t *testing.T) {
	ctx := context.Background()
	f := newGuestFixture(t, 50*time.Millisecond)

	_, err := f.bridge.Lint(ctx, srcSpin)
	assert.ErrorIs(t, err, bridge.ErrTimedOut)
	require.Eventually(t, f.host.closed, time.Second, time.Millisecond)

	f.guest.Release()
	_, err = f.bridge.Lint(ctx, "qubit q;")
	assert.ErrorIs(t, err, bridge.ErrExited)
}

func TestInstance_CallerCancelKeepsGuest(t *testing.T) {
	ctx := context.Background()
	f := newGuestFixture(t, 5*time.Second)

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		<-f.guest.spins
		cancel()
	}()
	_, err := f.bridge.Highlight(cctx, srcSpin)
	assert.ErrorIs(t, err, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, f.host.closed())

	f.guest.Release()
	assert.True(t, f.bridge.Alive())
	_, err = f.bridge.Lint(ctx, "qubit q;")
	assert.NoError(t, err)
}

type nopEditor struct{}

func (nopEditor) Apply(string, editsync.Update) {}
func (nopEditor) Clear(string)                  {}
func (nopEditor) Reveal(string, int, int)       {}

func TestInstance_FailedLintKeepsGuestForHighlight(t *testing.T) {
	ctx := context.Background()
	f := newGuestFixture(t, 5*time.Second)
	s := editsync.New(f.bridge, nopEditor{}, editsync.WithDebounce(time.Hour))
	t.Cleanup(s.Close)

	s.Change("file:///bad.qasm", srcBadLint)
	err := s.RunNow(ctx, "file:///bad.qasm")
	assert.Equal(t, bridge.KindInvocation, bridge.KindOf(err))

	assert.False(t, f.host.closed())
	assert.True(t, f.bridge.Alive())
	_, err = f.bridge.Lint(ctx, "qubit q;")
	assert.NoError(t, err)
}
