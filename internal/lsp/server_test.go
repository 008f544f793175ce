package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/bridge/bridgetest"
	"github.com/leapstack-labs/qasmlens/internal/config"
)

const testURI = "file:///tmp/bell.qasm"

// testClient drives a Server over in-memory pipes.
type testClient struct {
	t      *testing.T
	in     *io.PipeWriter
	msgs   chan *JSONRPCMessage
	done   chan error
	nextID int
}

func newQasmModule() *bridgetest.Module {
	m := bridgetest.NewModule()
	m.Handle(analysis.OpLint, bridgetest.LintHandler(func(src string) []analysis.Violation {
		var out []analysis.Violation
		for i, line := range strings.Split(src, "\n") {
			if strings.TrimSpace(line) != "" && !strings.HasSuffix(line, ";") {
				out = append(out, analysis.Violation{
					Line:             i + 1,
					Column:           len(line) + 1,
					Severity:         analysis.SeverityWarning,
					RuleID:           "QAS004",
					Message:          "statement should end with ';'",
					DocumentationURL: "https://example.com/rules/QAS004",
					RuleDetails: &analysis.RuleDetails{
						Name:        "statement-terminator",
						Description: "Statements end with a semicolon.",
					},
				})
			}
		}
		return out
	}))
	m.Handle(analysis.OpHighlight, bridgetest.HighlightHandler(func(src string) []analysis.Token {
		var out []analysis.Token
		for i, line := range strings.Split(src, "\n") {
			if strings.HasPrefix(line, "h ") {
				out = append(out, analysis.Token{Type: "gate", Content: "h", Line: i + 1, Column: 0, Length: 1})
			}
		}
		return out
	}))
	return m
}

func startServer(t *testing.T, mod *bridgetest.Module, host *bridgetest.Host) *testClient {
	t.Helper()
	if host == nil {
		host = bridgetest.NewHost(mod)
	}

	cfg := config.ProjectConfig{}
	cfg.ApplyDefaults()
	cfg.Analysis.Debounce = time.Millisecond

	opener := func(_ config.ProjectConfig, logger *slog.Logger, observer func(bridge.Snapshot)) (Module, error) {
		return bridge.New(host, bridgetest.Payload([]byte("module")),
			bridge.WithLogger(logger),
			bridge.WithPollInterval(time.Millisecond),
			bridge.WithLoadTimeout(time.Second),
			bridge.WithStateObserver(observer),
		), nil
	}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	srv := NewServerWithLogger(inR, outW, slog.New(slog.DiscardHandler),
		WithProjectConfig(&cfg),
		WithModuleOpener(opener),
		WithVersion("test"),
	)

	c := &testClient{
		t:    t,
		in:   inW,
		msgs: make(chan *JSONRPCMessage, 256),
		done: make(chan error, 1),
	}
	go func() {
		c.done <- srv.Run()
		_ = outW.Close()
	}()
	go func() {
		defer close(c.msgs)
		r := &Server{reader: bufio.NewReader(outR)}
		for {
			msg, err := r.readMessage()
			if err != nil {
				return
			}
			c.msgs <- msg
		}
	}()
	t.Cleanup(func() {
		_ = inW.Close()
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return c
}

func (c *testClient) write(msg *JSONRPCMessage) {
	c.t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(c.t, err)
	_, err = io.WriteString(c.in, "Content-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+string(body))
	require.NoError(c.t, err)
}

func (c *testClient) notify(method string, params any) {
	c.t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	c.write(&JSONRPCMessage{JSONRPC: "2.0", Method: method, Params: raw})
}

// call sends a request and waits for its response.
func (c *testClient) call(method string, params any) *JSONRPCMessage {
	c.t.Helper()
	c.nextID++
	id := json.RawMessage(strconv.Itoa(c.nextID))
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	c.write(&JSONRPCMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: raw})
	return c.waitFor(func(m *JSONRPCMessage) bool {
		return m.Method == "" && m.ID != nil && string(*m.ID) == string(id)
	})
}

func (c *testClient) waitFor(match func(*JSONRPCMessage) bool) *JSONRPCMessage {
	c.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-c.msgs:
			require.True(c.t, ok, "server output closed")
			if match(msg) {
				return msg
			}
		case <-timeout:
			c.t.Fatal("timed out waiting for message")
			return nil
		}
	}
}

func (c *testClient) initialize(caps ClientCapabilities) InitializeResult {
	c.t.Helper()
	resp := c.call("initialize", InitializeParams{Capabilities: caps})
	require.Nil(c.t, resp.Error)
	var result InitializeResult
	require.NoError(c.t, json.Unmarshal(resp.Result, &result))
	c.notify("initialized", struct{}{})
	return result
}

func (c *testClient) open(text string) {
	c.t.Helper()
	c.notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: testURI, LanguageID: "qasm", Version: 1, Text: text},
	})
}

func (c *testClient) diagnostics(match func([]Diagnostic) bool) []Diagnostic {
	c.t.Helper()
	var out []Diagnostic
	c.waitFor(func(m *JSONRPCMessage) bool {
		if m.Method != "textDocument/publishDiagnostics" {
			return false
		}
		var p PublishDiagnosticsParams
		require.NoError(c.t, json.Unmarshal(m.Params, &p))
		if p.URI != testURI || !match(p.Diagnostics) {
			return false
		}
		out = p.Diagnostics
		return true
	})
	return out
}

func nonEmpty(d []Diagnostic) bool { return len(d) > 0 }

func TestServer_Initialize(t *testing.T) {
	c := startServer(t, newQasmModule(), nil)
	result := c.initialize(ClientCapabilities{})

	caps := result.Capabilities
	require.NotNil(t, caps.TextDocumentSync)
	assert.Equal(t, TextDocumentSyncKindFull, caps.TextDocumentSync.Change)
	assert.True(t, caps.HoverProvider)
	assert.True(t, caps.DocumentFormattingProvider)
	require.NotNil(t, caps.SemanticTokensProvider)
	assert.Len(t, caps.SemanticTokensProvider.Legend.TokenTypes, 17)
	require.NotNil(t, caps.ExecuteCommandProvider)
	assert.ElementsMatch(t, Commands, caps.ExecuteCommandProvider.Commands)
	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, "qasmlens", result.ServerInfo.Name)
	assert.Equal(t, "test", result.ServerInfo.Version)
	assert.Equal(t, PositionEncodingUTF16, caps.PositionEncoding)
}

func TestServer_PositionEncoding(t *testing.T) {
	// columns from the module count characters
	mod := newQasmModule()
	mod.Handle(analysis.OpLint, bridgetest.LintHandler(func(src string) []analysis.Violation {
		var out []analysis.Violation
		for i, line := range strings.Split(src, "\n") {
			if strings.TrimSpace(line) != "" && !strings.HasSuffix(line, ";") {
				out = append(out, analysis.Violation{
					Line: i + 1, Column: utf8.RuneCountInString(line) + 1,
					Severity: analysis.SeverityWarning, RuleID: "QAS004", Message: "statement should end with ';'",
				})
			}
		}
		return out
	}))

	tests := []struct {
		name    string
		offered []PositionEncoding
		want    PositionEncoding
		start   Position
	}{
		{"default utf-16", nil, PositionEncodingUTF16, Position{Line: 1, Character: 4}},
		{"utf-32 when offered", []PositionEncoding{PositionEncodingUTF16, PositionEncodingUTF32}, PositionEncodingUTF32, Position{Line: 1, Character: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := startServer(t, mod, nil)
			var caps ClientCapabilities
			caps.General.PositionEncodings = tt.offered
			result := c.initialize(caps)
			assert.Equal(t, tt.want, result.Capabilities.PositionEncoding)

			c.open("OPENQASM 3.0;\nh 𝜓\n")
			diags := c.diagnostics(nonEmpty)
			require.Len(t, diags, 1)
			assert.Equal(t, tt.start, diags[0].Range.Start)

			resp := c.call("textDocument/hover", HoverParams{TextDocumentPositionParams{
				TextDocument: TextDocumentIdentifier{URI: testURI},
				Position:     tt.start,
			}})
			require.Nil(t, resp.Error)
			assert.NotEqual(t, "null", string(resp.Result))
		})
	}
}

func TestServer_RequestBeforeInitialize(t *testing.T) {
	c := startServer(t, newQasmModule(), nil)
	resp := c.call("textDocument/hover", HoverParams{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeServerNotInited, resp.Error.Code)
}

func TestServer_MethodNotFound(t *testing.T) {
	c := startServer(t, newQasmModule(), nil)
	c.initialize(ClientCapabilities{})
	resp := c.call("textDocument/definition", struct{}{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestServer_PublishesDiagnostics(t *testing.T) {
	c := startServer(t, newQasmModule(), nil)
	c.initialize(ClientCapabilities{})
	c.open("OPENQASM 3.0;\nh q\n")

	diags := c.diagnostics(nonEmpty)
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, "QAS004", d.Code)
	assert.Equal(t, "qasmlens", d.Source)
	assert.Equal(t, DiagnosticSeverityWarning, d.Severity)
	assert.Equal(t, Position{Line: 1, Character: 3}, d.Range.Start)
	require.NotNil(t, d.CodeDescription)
	assert.Equal(t, "https://example.com/rules/QAS004", d.CodeDescription.Href)

	// fixing the document clears the diagnostic
	c.notify("textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: testURI}, Version: 2},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: "OPENQASM 3.0;\nh q;\n"}},
	})
	diags = c.diagnostics(func(d []Diagnostic) bool { return len(d) == 0 })
	assert.Empty(t, diags)
}

func TestServer_SemanticTokensAndHover(t *testing.T) {
	c := startServer(t, newQasmModule(), nil)
	c.initialize(ClientCapabilities{})
	c.open("OPENQASM 3.0;\nh q\n")
	c.diagnostics(nonEmpty)

	resp := c.call("textDocument/semanticTokens/full", SemanticTokensParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
	})
	require.Nil(t, resp.Error)
	var tokens SemanticTokens
	require.NoError(t, json.Unmarshal(resp.Result, &tokens))
	require.Len(t, tokens.Data, 5)
	assert.Equal(t, []uint32{1, 0, 1}, tokens.Data[:3])

	resp = c.call("textDocument/hover", HoverParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		Position:     Position{Line: 1, Character: 3},
	}})
	require.Nil(t, resp.Error)
	var hover Hover
	require.NoError(t, json.Unmarshal(resp.Result, &hover))
	assert.Equal(t, MarkupKindMarkdown, hover.Contents.Kind)
	assert.Contains(t, hover.Contents.Value, "QAS004")
	assert.Contains(t, hover.Contents.Value, "Statements end with a semicolon.")

	resp = c.call("textDocument/hover", HoverParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		Position:     Position{Line: 0, Character: 0},
	}})
	require.Nil(t, resp.Error)
	assert.Equal(t, "null", string(resp.Result))
}

func TestServer_Formatting(t *testing.T) {
	mod := newQasmModule()
	mod.Handle(analysis.OpFormat, func(_ context.Context, args []any) ([]byte, error) {
		src, _ := args[0].(string)
		return bridgetest.JSON(analysis.FormatResult{
			Envelope:  analysis.Envelope{Success: true},
			Formatted: strings.ReplaceAll(src, "  ", ""),
		}), nil
	})
	c := startServer(t, mod, nil)
	c.initialize(ClientCapabilities{})
	c.open("OPENQASM 3.0;\nh q;  \n")
	c.diagnostics(func([]Diagnostic) bool { return true })

	resp := c.call("textDocument/formatting", DocumentFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
	})
	require.Nil(t, resp.Error)
	var edits []TextEdit
	require.NoError(t, json.Unmarshal(resp.Result, &edits))
	require.Len(t, edits, 1)
	assert.Equal(t, "OPENQASM 3.0;\nh q;\n", edits[0].NewText)
	assert.Equal(t, Position{}, edits[0].Range.Start)
	assert.Equal(t, Position{Line: 2, Character: 0}, edits[0].Range.End)
}

func TestServer_FormattingFailure(t *testing.T) {
	mod := newQasmModule()
	mod.Handle(analysis.OpFormat, func(context.Context, []any) ([]byte, error) {
		return nil, errors.New("formatter crashed")
	})
	c := startServer(t, mod, nil)
	c.initialize(ClientCapabilities{})
	c.open("OPENQASM 3.0;\n")
	c.diagnostics(func([]Diagnostic) bool { return true })

	resp := c.call("textDocument/formatting", DocumentFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeRequestFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "formatter crashed")
}

func TestServer_CodeAction(t *testing.T) {
	c := startServer(t, newQasmModule(), nil)
	c.initialize(ClientCapabilities{})
	c.open("OPENQASM 3.0;\nh q\n")
	diags := c.diagnostics(nonEmpty)

	resp := c.call("textDocument/codeAction", CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		Range:        diags[0].Range,
		Context:      CodeActionContext{Diagnostics: diags},
	})
	require.Nil(t, resp.Error)
	var actions []CodeAction
	require.NoError(t, json.Unmarshal(resp.Result, &actions))
	require.Len(t, actions, 2)
	assert.Equal(t, "Open documentation for QAS004", actions[0].Title)
	require.NotNil(t, actions[0].Command)
	assert.Equal(t, CommandOpenDocumentation, actions[0].Command.Command)
	assert.Equal(t, CommandLintNow, actions[1].Command.Command)
}

func TestServer_RevealViolation(t *testing.T) {
	c := startServer(t, newQasmModule(), nil)
	var caps ClientCapabilities
	caps.Window.ShowDocument.Support = true
	c.initialize(caps)
	c.open("OPENQASM 3.0;\nh q\n")
	c.diagnostics(nonEmpty)

	c.nextID++
	id := json.RawMessage(strconv.Itoa(c.nextID))
	raw, err := json.Marshal(ExecuteCommandParams{
		Command:   CommandRevealViolation,
		Arguments: []json.RawMessage{json.RawMessage(strconv.Quote(testURI)), json.RawMessage("0")},
	})
	require.NoError(t, err)
	c.write(&JSONRPCMessage{JSONRPC: "2.0", ID: &id, Method: "workspace/executeCommand", Params: raw})

	req := c.waitFor(func(m *JSONRPCMessage) bool { return m.Method == "window/showDocument" })
	var params ShowDocumentParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, testURI, params.URI)
	require.NotNil(t, params.Selection)
	assert.Equal(t, Position{Line: 1, Character: 3}, params.Selection.Start)

	resp := c.call("workspace/executeCommand", ExecuteCommandParams{
		Command:   CommandRevealViolation,
		Arguments: []json.RawMessage{json.RawMessage(strconv.Quote(testURI)), json.RawMessage("7")},
	})
	require.NotNil(t, resp.Error)
}

func TestServer_UnknownCommand(t *testing.T) {
	c := startServer(t, newQasmModule(), nil)
	c.initialize(ClientCapabilities{})
	resp := c.call("workspace/executeCommand", ExecuteCommandParams{Command: "qasmlens.nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestServer_LoadFailureShowsMessage(t *testing.T) {
	mod := newQasmModule()
	host := bridgetest.NewHost(mod)
	host.FailStart(errors.New("bad magic number"))
	c := startServer(t, mod, host)
	c.initialize(ClientCapabilities{})

	msg := c.waitFor(func(m *JSONRPCMessage) bool { return m.Method == "window/showMessage" })
	var params ShowMessageParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, MessageTypeError, params.Type)
	assert.Contains(t, params.Message, "bad magic number")
}

func TestServer_ShutdownAndExit(t *testing.T) {
	mod := newQasmModule()
	c := startServer(t, mod, nil)
	c.initialize(ClientCapabilities{})
	c.open("OPENQASM 3.0;\n")
	c.diagnostics(func([]Diagnostic) bool { return true })

	resp := c.call("shutdown", nil)
	assert.Nil(t, resp.Error)
	assert.True(t, mod.Closed())

	resp = c.call("textDocument/hover", HoverParams{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)

	c.notify("exit", nil)
	select {
	case err := <-c.done:
		assert.NoError(t, err)
		c.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}
