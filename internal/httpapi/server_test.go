package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/bridge/bridgetest"
	"github.com/leapstack-labs/qasmlens/internal/testutil"
)

type fixture struct {
	mod      *bridgetest.Module
	bridge   *bridge.Bridge
	notifier *Notifier
	srv      *httptest.Server
}

func newFixture(t *testing.T, load bool) *fixture {
	t.Helper()
	mod := bridgetest.NewModule()
	mod.Handle(analysis.OpLint, bridgetest.LintHandler(func(src string) []analysis.Violation {
		if strings.HasSuffix(strings.TrimSpace(src), ";") {
			return nil
		}
		return []analysis.Violation{{Line: 1, Column: len(src) + 1, Severity: analysis.SeverityWarning, RuleID: "QAS004", Message: "statement should end with ';'"}}
	}))
	mod.Handle(analysis.OpHighlight, bridgetest.HighlightHandler(func(string) []analysis.Token {
		return []analysis.Token{{Type: "keyword", Content: "OPENQASM", Line: 1, Column: 0, Length: 8}}
	}))

	n := NewNotifier()
	b := bridge.New(bridgetest.NewHost(mod), bridgetest.Payload([]byte("module")),
		bridge.WithPollInterval(time.Millisecond),
		bridge.WithStateObserver(n.Publish),
	)
	if load {
		require.NoError(t, b.Load(context.Background()))
	}

	s := NewServer(Config{Module: b, Notifier: n, MarkerSpan: 3, Logger: testutil.NewTestLogger(t)})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{mod: mod, bridge: b, notifier: n, srv: ts}
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestLint(t *testing.T) {
	f := newFixture(t, true)

	resp := f.post(t, "/api/lint", `{"source":"h q"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	got := decodeBody[LintResponse](t, resp)
	assert.False(t, got.Success)
	require.Len(t, got.Markers, 1)
	assert.Equal(t, "QAS004", got.Markers[0].Code)
	assert.Equal(t, 4, got.Markers[0].Column)
	assert.Equal(t, 7, got.Markers[0].EndColumn)
	assert.Equal(t, 1, got.Summary.Warnings)
}

func TestLint_MarkerSeverityByName(t *testing.T) {
	f := newFixture(t, true)

	resp := f.post(t, "/api/lint", `{"source":"h q"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw struct {
		Markers []map[string]any `json:"markers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.Len(t, raw.Markers, 1)
	assert.Equal(t, "warning", raw.Markers[0]["severity"])
}

func TestHighlight(t *testing.T) {
	f := newFixture(t, true)

	resp := f.post(t, "/api/highlight", `{"source":"OPENQASM 3.0;"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[HighlightResponse](t, resp)
	assert.True(t, got.Success)
	assert.Len(t, got.Legend, 17)
	require.Len(t, got.Decorations, 1)
	assert.Equal(t, "keyword", got.Decorations[0].TokenType)
	assert.Equal(t, 8, got.Decorations[0].EndColumn)
}

func TestFormat(t *testing.T) {
	f := newFixture(t, true)
	f.mod.Handle(analysis.OpFormat, func(_ context.Context, args []any) ([]byte, error) {
		src, _ := args[0].(string)
		unescape, _ := args[1].(bool)
		if unescape {
			src = strings.ReplaceAll(src, `\n`, "\n")
		}
		return bridgetest.JSON(analysis.FormatResult{Envelope: analysis.Envelope{Success: true}, Formatted: src}), nil
	})

	resp := f.post(t, "/api/format", `{"source":"h q;\\nx q;","unescape":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[FormatResponse](t, resp)
	assert.True(t, got.Success)
	assert.True(t, got.Changed)
	assert.Equal(t, "h q;\nx q;", got.Formatted)
}

func TestErrors(t *testing.T) {
	t.Run("not loaded is unavailable", func(t *testing.T) {
		f := newFixture(t, false)
		resp := f.post(t, "/api/lint", `{"source":"h q;"}`)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		got := decodeBody[ErrorResponse](t, resp)
		assert.Equal(t, "not_loaded", got.Kind)
		assert.Equal(t, resp.Header.Get(RequestIDHeader), got.RequestID)
	})

	t.Run("exited is unavailable", func(t *testing.T) {
		f := newFixture(t, true)
		f.mod.Kill()
		resp := f.post(t, "/api/lint", `{"source":"h q;"}`)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "exited", decodeBody[ErrorResponse](t, resp).Kind)
	})

	t.Run("invocation error is unprocessable", func(t *testing.T) {
		f := newFixture(t, true)
		f.mod.Handle(analysis.OpLint, func(context.Context, []any) ([]byte, error) {
			return nil, errors.New("index out of range")
		})
		resp := f.post(t, "/api/lint", `{"source":"h q;"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "invocation_error", decodeBody[ErrorResponse](t, resp).Kind)
	})

	t.Run("bad body", func(t *testing.T) {
		f := newFixture(t, true)
		resp := f.post(t, "/api/lint", `{"src":1}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong content type", func(t *testing.T) {
		f := newFixture(t, true)
		resp, err := http.Post(f.srv.URL+"/api/lint", "text/plain", strings.NewReader("h q;"))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	})
}

func TestRequestIDPropagates(t *testing.T) {
	f := newFixture(t, true)
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}

func TestStatusAndReload(t *testing.T) {
	f := newFixture(t, false)

	resp, err := http.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	got := decodeBody[StatusResponse](t, resp)
	assert.Equal(t, "unloaded", got.State)
	assert.False(t, got.Ready)

	reload := f.post(t, "/api/reload", "")
	require.Equal(t, http.StatusOK, reload.StatusCode)
	got = decodeBody[StatusResponse](t, reload)
	assert.Equal(t, "ready", got.State)
	assert.True(t, got.Ready)
}

func TestEvents(t *testing.T) {
	f := newFixture(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	type event struct {
		name    string
		signals StateSignals
	}
	events := make(chan event, 16)
	go func() {
		defer close(events)
		var name string
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: signals "):
				var ev event
				ev.name = name
				if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: signals ")), &ev.signals) == nil {
					events <- ev
				}
			}
		}
	}()

	first := <-events
	assert.Equal(t, "datastar-patch-signals", first.name)
	assert.Equal(t, "unloaded", first.signals.Module.State)
	assert.False(t, first.signals.Module.Ready)

	require.NoError(t, f.bridge.Load(context.Background()))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed")
			if ev.signals.Module.Ready {
				assert.Equal(t, "ready", ev.signals.Module.State)
				return
			}
		case <-deadline:
			t.Fatal("ready state never streamed")
		}
	}
}

func TestServeListener(t *testing.T) {
	mod := bridgetest.NewModule()
	b := bridge.New(bridgetest.NewHost(mod), bridgetest.Payload([]byte("m")), bridge.WithPollInterval(time.Millisecond))
	require.NoError(t, b.Load(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(Config{Module: b})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/status")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind bridge.Kind
		want int
	}{
		{bridge.KindLoadFailure, http.StatusServiceUnavailable},
		{bridge.KindExited, http.StatusServiceUnavailable},
		{bridge.KindNotLoaded, http.StatusServiceUnavailable},
		{bridge.KindInvocation, http.StatusUnprocessableEntity},
		{bridge.KindInvalidResponse, http.StatusUnprocessableEntity},
		{bridge.KindTimedOut, http.StatusGatewayTimeout},
		{bridge.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.kind))
		})
	}
}
