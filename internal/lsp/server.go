package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/config"
	"github.com/leapstack-labs/qasmlens/internal/editsync"
	"github.com/leapstack-labs/qasmlens/internal/mapper"
	"github.com/leapstack-labs/qasmlens/internal/sandbox"
)

// JSON-RPC error codes.
const (
	codeInvalidRequest  = -32600
	codeMethodNotFound  = -32601
	codeInvalidParams   = -32602
	codeRequestFailed   = -32803
	codeServerNotInited = -32002
)

// Module is the analysis module as the server uses it.
// *sandbox.Module and *bridge.Bridge satisfy it.
type Module interface {
	editsync.Analyzer
	Format(ctx context.Context, src string, unescape bool) (*analysis.FormatResult, error)
	Load(ctx context.Context) error
	Reload(ctx context.Context) error
	State() bridge.Snapshot
	Close(ctx context.Context) error
}

// ModuleOpener builds the module for a project. observer must be
// registered with the bridge so the server learns about state changes.
type ModuleOpener func(cfg config.ProjectConfig, logger *slog.Logger, observer func(bridge.Snapshot)) (Module, error)

// OpenSandbox is the default ModuleOpener.
func OpenSandbox(cfg config.ProjectConfig, logger *slog.Logger, observer func(bridge.Snapshot)) (Module, error) {
	m, err := sandbox.Open(cfg.Module, logger, bridge.WithStateObserver(observer))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Server implements the Language Server Protocol for qasmlens.
type Server struct {
	// Document management
	documents *DocumentStore

	// Configuration used when the workspace has no qasmlens.yaml
	fallback *config.ProjectConfig
	opener   ModuleOpener
	version  string

	// Project context, set by initialize
	projectRoot string
	clientCaps  ClientCapabilities
	encoding    PositionEncoding
	pending     []ShowMessageParams

	mu          sync.Mutex
	module      Module
	editSync    *editsync.Synchronizer
	decorations map[string][]mapper.Decoration
	markers     map[string][]mapper.Marker
	columns     map[string]columns // per document, for the text last applied
	lastAlert   string

	ctx    context.Context
	cancel context.CancelFunc

	// I/O
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex

	// Logging
	logger *slog.Logger

	// Shutdown state
	shutdown   bool
	shutdownMu sync.RWMutex
}

// Option configures a Server.
type Option func(*Server)

// WithProjectConfig sets the configuration used when the client's root has
// no config file of its own.
func WithProjectConfig(cfg *config.ProjectConfig) Option {
	return func(s *Server) {
		s.fallback = cfg
	}
}

// WithModuleOpener replaces how the analysis module is built.
func WithModuleOpener(fn ModuleOpener) Option {
	return func(s *Server) {
		if fn != nil {
			s.opener = fn
		}
	}
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a new LSP server instance.
func NewServer(reader io.Reader, writer io.Writer, opts ...Option) *Server {
	return NewServerWithLogger(reader, writer, nil, opts...)
}

// NewServerWithLogger creates a new LSP server instance with a custom logger.
func NewServerWithLogger(reader io.Reader, writer io.Writer, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	s := &Server{
		documents:   NewDocumentStore(),
		opener:      OpenSandbox,
		reader:      bufio.NewReader(reader),
		writer:      writer,
		logger:      logger,
		encoding:    PositionEncodingUTF16,
		decorations: make(map[string][]mapper.Decoration),
		markers:     make(map[string][]mapper.Marker),
		columns:     make(map[string]columns),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Run starts the server's main loop, processing JSON-RPC messages until
// the client sends exit or closes the stream.
func (s *Server) Run() error {
	s.logger.Info("qasmlens LSP server starting...")
	defer s.teardown()

	for {
		msg, err := s.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Info("Client disconnected")
				return nil
			}
			s.logger.Error("Error reading message", "error", err)
			continue
		}

		if msg.Method == "exit" {
			s.logger.Info("Server exit")
			return nil
		}

		if err := s.handleMessage(msg); err != nil {
			s.logger.Error("Error handling message", "method", msg.Method, "error", err)
		}
	}
}

// JSONRPCMessage represents a JSON-RPC 2.0 message.
type JSONRPCMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// readMessage reads a JSON-RPC message from the input stream.
func (s *Server) readMessage() (*JSONRPCMessage, error) {
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			break
		}

		if strings.HasPrefix(line, "Content-Length: ") {
			contentLength, err = strconv.Atoi(strings.TrimPrefix(line, "Content-Length: "))
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(s.reader, body); err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("error parsing message: %w", err)
	}

	return &msg, nil
}

// sendResponse sends a JSON-RPC response.
func (s *Server) sendResponse(id *json.RawMessage, result any, err *JSONRPCError) {
	msg := JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
	}

	if err != nil {
		msg.Error = err
	} else {
		resultBytes, _ := json.Marshal(result)
		msg.Result = resultBytes
	}

	s.writeMessage(&msg)
}

// sendNotification sends a JSON-RPC notification (no ID).
func (s *Server) sendNotification(method string, params any) {
	msg := JSONRPCMessage{
		JSONRPC: "2.0",
		Method:  method,
	}

	if params != nil {
		paramsBytes, _ := json.Marshal(params)
		msg.Params = paramsBytes
	}

	s.writeMessage(&msg)
}

// sendRequest sends a server-to-client request. Responses are logged and
// otherwise ignored.
func (s *Server) sendRequest(method string, params any) string {
	id := uuid.NewString()
	raw := json.RawMessage(strconv.Quote(id))
	msg := JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      &raw,
		Method:  method,
	}
	if params != nil {
		paramsBytes, _ := json.Marshal(params)
		msg.Params = paramsBytes
	}
	s.writeMessage(&msg)
	return id
}

// writeMessage writes a JSON-RPC message to the output stream.
func (s *Server) writeMessage(msg *JSONRPCMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Error marshaling message", "error", err)
		return
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	_, _ = s.writer.Write([]byte(header))
	_, _ = s.writer.Write(body)
}

// handleMessage dispatches a message to the appropriate handler.
func (s *Server) handleMessage(msg *JSONRPCMessage) error {
	if msg.Method == "" {
		if msg.Error != nil {
			s.logger.Warn("Client rejected request", "code", msg.Error.Code, "message", msg.Error.Message)
		}
		return nil
	}
	s.logger.Debug("Received", "method", msg.Method)

	if s.isShutdown() && msg.ID != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeInvalidRequest, Message: "server is shutting down"})
		return nil
	}
	if msg.Method != "initialize" && msg.ID != nil && s.synchronizer() == nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeServerNotInited, Message: "server not initialized"})
		return nil
	}

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return s.handleInitialized(msg)
	case "shutdown":
		return s.handleShutdown(msg)
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "textDocument/semanticTokens/full":
		return s.handleSemanticTokens(msg)
	case "textDocument/formatting":
		return s.handleFormatting(msg)
	case "textDocument/hover":
		return s.handleHover(msg)
	case "textDocument/codeAction":
		return s.handleCodeAction(msg)
	case "workspace/executeCommand":
		return s.handleExecuteCommand(msg)
	default:
		if msg.ID != nil {
			s.sendResponse(msg.ID, nil, &JSONRPCError{
				Code:    codeMethodNotFound,
				Message: "Method not found: " + msg.Method,
			})
		}
		return nil
	}
}

// --- Lifecycle handlers ---

func (s *Server) handleInitialize(msg *JSONRPCMessage) error {
	var params InitializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeInvalidParams, Message: err.Error()})
		return err
	}

	s.projectRoot = URIToPath(params.RootURI)
	s.clientCaps = params.Capabilities
	s.encoding = negotiateEncoding(params.Capabilities.General.PositionEncodings)
	s.logger.Info("Project root", "path", s.projectRoot)

	cfg := s.loadProjectConfig()
	var analyzer editsync.Analyzer
	module, err := s.opener(cfg, s.logger, s.onModuleState)
	if err != nil {
		s.logger.Warn("No analysis module", "error", err)
		s.queueMessage(MessageTypeError, "qasmlens: "+err.Error())
		analyzer = unavailable{err: err}
	} else {
		analyzer = module
	}

	synchronizer := editsync.New(analyzer, s,
		editsync.WithDebounce(cfg.Analysis.Debounce),
		editsync.WithMarkerSpan(cfg.Analysis.MarkerSpan),
		editsync.WithLogger(s.logger),
		editsync.OnStatus(s.onStatus),
	)

	s.mu.Lock()
	s.module = module
	s.editSync = synchronizer
	s.mu.Unlock()

	result := InitializeResult{
		Capabilities: ServerCapabilities{
			PositionEncoding: s.encoding,
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    TextDocumentSyncKindFull,
				Save: &SaveOptions{
					IncludeText: true,
				},
			},
			HoverProvider:              true,
			DocumentFormattingProvider: true,
			CodeActionProvider: &CodeActionOptions{
				CodeActionKinds: []CodeActionKind{CodeActionKindQuickFix},
			},
			SemanticTokensProvider: &SemanticTokensOptions{
				Legend: SemanticTokensLegend{
					TokenTypes:     mapper.SemanticLegend(),
					TokenModifiers: []string{},
				},
				Full: true,
			},
			ExecuteCommandProvider: &ExecuteCommandOptions{Commands: Commands},
		},
		ServerInfo: &ServerInfo{Name: "qasmlens", Version: s.version},
	}

	s.sendResponse(msg.ID, result, nil)
	return nil
}

// loadProjectConfig reads qasmlens.yaml from the project root, falling back
// to the configuration the server was started with.
func (s *Server) loadProjectConfig() config.ProjectConfig {
	if s.projectRoot != "" {
		cfg, err := config.LoadFromDir(s.projectRoot)
		switch {
		case err != nil:
			s.logger.Warn("Invalid project config", "root", s.projectRoot, "error", err)
			s.queueMessage(MessageTypeWarning, "qasmlens: ignoring project config: "+err.Error())
		case cfg != nil:
			s.logger.Info("Loaded project config", "root", s.projectRoot, "module", cfg.Module.Path)
			return *cfg
		}
	}
	if s.fallback != nil {
		return *s.fallback
	}
	var cfg config.ProjectConfig
	cfg.ApplyDefaults()
	return cfg
}

func (s *Server) handleInitialized(_ *JSONRPCMessage) error {
	s.logger.Info("Server initialized")
	for _, m := range s.pending {
		s.sendNotification("window/showMessage", &m)
	}
	s.pending = nil

	if m := s.currentModule(); m != nil {
		go func() {
			if err := m.Load(s.ctx); err != nil {
				s.logger.Warn("Module load failed", "error", err)
			}
		}()
	}
	return nil
}

func (s *Server) handleShutdown(msg *JSONRPCMessage) error {
	s.shutdownMu.Lock()
	s.shutdown = true
	s.shutdownMu.Unlock()

	s.teardown()
	s.sendResponse(msg.ID, nil, nil)
	s.logger.Info("Server shutdown")
	return nil
}

func (s *Server) isShutdown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.shutdown
}

// teardown stops analysis and unloads the module. Safe to call twice.
func (s *Server) teardown() {
	s.cancel()
	s.mu.Lock()
	synchronizer, module := s.editSync, s.module
	s.module = nil
	s.mu.Unlock()

	if synchronizer != nil {
		synchronizer.Close()
	}
	if module != nil {
		if err := module.Close(context.Background()); err != nil {
			s.logger.Warn("Module close failed", "error", err)
		}
	}
}

// --- Document handlers ---

func (s *Server) handleDidOpen(msg *JSONRPCMessage) error {
	var params DidOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	uri := params.TextDocument.URI
	s.documents.Open(uri, params.TextDocument.Text, params.TextDocument.Version)
	s.logger.Info("Opened", "uri", uri)

	if synchronizer := s.synchronizer(); synchronizer != nil {
		synchronizer.Change(uri, params.TextDocument.Text)
	}
	return nil
}

func (s *Server) handleDidClose(msg *JSONRPCMessage) error {
	var params DidCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	uri := params.TextDocument.URI
	s.documents.Close(uri)
	if synchronizer := s.synchronizer(); synchronizer != nil {
		synchronizer.Remove(uri)
	}
	s.logger.Info("Closed", "uri", uri)

	s.Clear(uri)
	return nil
}

func (s *Server) handleDidChange(msg *JSONRPCMessage) error {
	var params DidChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	// We use full sync, so take the last change
	if len(params.ContentChanges) == 0 {
		return nil
	}
	uri := params.TextDocument.URI
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	if !s.documents.Update(uri, text, params.TextDocument.Version) {
		s.logger.Debug("Ignoring change", "uri", uri, "version", params.TextDocument.Version)
		return nil
	}

	if synchronizer := s.synchronizer(); synchronizer != nil {
		synchronizer.Change(uri, text)
	}
	return nil
}

func (s *Server) handleDidSave(msg *JSONRPCMessage) error {
	var params DidSaveTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	uri := params.TextDocument.URI
	if params.Text != nil {
		if doc := s.documents.Get(uri); doc != nil && doc.Content != *params.Text {
			s.documents.Update(uri, *params.Text, doc.Version)
			if synchronizer := s.synchronizer(); synchronizer != nil {
				synchronizer.Change(uri, *params.Text)
			}
		}
	}
	s.logger.Info("Saved", "path", URIToPath(uri))
	return nil
}

// --- Module state ---

// onModuleState runs on every bridge transition.
func (s *Server) onModuleState(snap bridge.Snapshot) {
	s.logger.Info("Module state", "state", snap.String())
	switch snap.State {
	case bridge.StateReady:
		s.mu.Lock()
		s.lastAlert = ""
		synchronizer := s.editSync
		s.mu.Unlock()
		if synchronizer != nil {
			go synchronizer.RunAll(s.ctx)
		}
	case bridge.StateFailed:
		s.alert(MessageTypeError, "qasmlens: analysis module unavailable: "+snap.Reason)
	}
}

// onStatus surfaces page-level failures from the synchronizer.
func (s *Server) onStatus(st editsync.Status) {
	switch {
	case st.Blocking():
		s.alert(MessageTypeError, "qasmlens: "+st.Err.Error())
	case st.Err != nil:
		s.logger.Warn("Analysis failed", "uri", st.URI, "error", st.Err)
	case st.EngineError != "":
		s.alert(MessageTypeWarning, "qasmlens: "+st.EngineError)
	}
}

// alert shows msg unless it was the last message shown.
func (s *Server) alert(typ MessageType, msg string) {
	s.mu.Lock()
	if s.lastAlert == msg {
		s.mu.Unlock()
		return
	}
	s.lastAlert = msg
	s.mu.Unlock()
	s.sendNotification("window/showMessage", &ShowMessageParams{Type: typ, Message: msg})
}

// queueMessage holds a message until the client is initialized.
func (s *Server) queueMessage(typ MessageType, msg string) {
	s.pending = append(s.pending, ShowMessageParams{Type: typ, Message: msg})
}

func (s *Server) currentModule() Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.module
}

func (s *Server) synchronizer() *editsync.Synchronizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editSync
}

// unavailable stands in for a module that could not be configured.
type unavailable struct{ err error }

func (u unavailable) fail(op analysis.Operation) error {
	return &bridge.Error{Kind: bridge.KindLoadFailure, Op: op, Message: u.err.Error(), Err: u.err}
}

func (u unavailable) Highlight(context.Context, string) (*analysis.HighlightResult, error) {
	return nil, u.fail(analysis.OpHighlight)
}

func (u unavailable) Lint(context.Context, string) (*analysis.LintResult, error) {
	return nil, u.fail(analysis.OpLint)
}
