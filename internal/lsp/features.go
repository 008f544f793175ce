package lsp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/editsync"
	"github.com/leapstack-labs/qasmlens/internal/mapper"
)

// Apply implements editsync.Editor. It runs under the session lock.
func (s *Server) Apply(owner string, u editsync.Update) {
	cols := newColumns(u.Text, s.encoding)
	s.mu.Lock()
	s.decorations[owner] = u.Decorations
	s.markers[owner] = u.Markers
	s.columns[owner] = cols
	s.mu.Unlock()

	s.publishDiagnostics(owner, toDiagnostics(u.Markers, cols))
	s.refreshSemanticTokens()
}

// Clear implements editsync.Editor.
func (s *Server) Clear(owner string) {
	s.mu.Lock()
	delete(s.decorations, owner)
	delete(s.markers, owner)
	delete(s.columns, owner)
	s.mu.Unlock()

	s.publishDiagnostics(owner, []Diagnostic{})
	s.refreshSemanticTokens()
}

// Reveal implements editsync.Editor by asking the client to show the
// document with the cursor on the given 1-based position.
func (s *Server) Reveal(owner string, line, column int) {
	if !s.clientCaps.Window.ShowDocument.Support {
		s.logger.Debug("Client cannot show documents", "uri", owner)
		return
	}
	var cols columns
	if doc := s.documents.Get(owner); doc != nil {
		cols = newColumns(doc.Content, s.encoding)
	}
	pos := cols.position(line, column)
	s.sendRequest("window/showDocument", &ShowDocumentParams{
		URI:       owner,
		TakeFocus: true,
		Selection: &Range{Start: pos, End: pos},
	})
}

func (s *Server) publishDiagnostics(uri string, diags []Diagnostic) {
	s.sendNotification("textDocument/publishDiagnostics", &PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

func (s *Server) refreshSemanticTokens() {
	if s.clientCaps.Workspace.SemanticTokens.RefreshSupport {
		s.sendRequest("workspace/semanticTokens/refresh", nil)
	}
}

func (s *Server) handleSemanticTokens(msg *JSONRPCMessage) error {
	var params SemanticTokensParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeInvalidParams, Message: err.Error()})
		return err
	}

	s.mu.Lock()
	decorations := s.decorations[params.TextDocument.URI]
	cols := s.columns[params.TextDocument.URI]
	s.mu.Unlock()

	s.sendResponse(msg.ID, &SemanticTokens{Data: encodeSemanticTokens(decorations, cols)}, nil)
	return nil
}

func (s *Server) handleFormatting(msg *JSONRPCMessage) error {
	var params DocumentFormattingParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeInvalidParams, Message: err.Error()})
		return err
	}

	doc := s.documents.Get(params.TextDocument.URI)
	if doc == nil {
		s.sendResponse(msg.ID, []TextEdit{}, nil)
		return nil
	}

	m := s.currentModule()
	if m == nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeRequestFailed, Message: "no analysis module configured"})
		return nil
	}

	res, err := m.Format(s.ctx, doc.Content, false)
	if err != nil {
		if bridge.KindOf(err).Blocking() {
			s.alert(MessageTypeError, "qasmlens: "+err.Error())
		}
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeRequestFailed, Message: err.Error()})
		return nil
	}
	if !res.Success {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeRequestFailed, Message: "format failed: " + res.Error})
		return nil
	}

	edits := []TextEdit{}
	if res.Formatted != doc.Content {
		edits = append(edits, TextEdit{Range: doc.FullRange(s.encoding), NewText: res.Formatted})
	}
	s.sendResponse(msg.ID, edits, nil)
	return nil
}

func (s *Server) handleHover(msg *JSONRPCMessage) error {
	var params HoverParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeInvalidParams, Message: err.Error()})
		return err
	}

	s.mu.Lock()
	cols := s.columns[params.TextDocument.URI]
	hits := markerAt(s.markers[params.TextDocument.URI], params.Position, cols)
	s.mu.Unlock()

	if len(hits) == 0 {
		s.sendResponse(msg.ID, nil, nil)
		return nil
	}

	parts := make([]string, 0, len(hits))
	for _, m := range hits {
		parts = append(parts, hoverMarkdown(m))
	}
	first := hits[0]
	s.sendResponse(msg.ID, &Hover{
		Contents: MarkupContent{Kind: MarkupKindMarkdown, Value: strings.Join(parts, "\n\n---\n\n")},
		Range: &Range{
			Start: cols.position(first.Line, first.Column),
			End:   cols.position(first.EndLine, first.EndColumn),
		},
	}, nil)
	return nil
}

// hoverMarkdown renders a marker and its rule details.
func hoverMarkdown(m mapper.Marker) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%s): %s", m.Code, m.Severity, m.Message)
	if r := m.Rule; r != nil {
		if r.Name != "" {
			fmt.Fprintf(&b, "\n\n`%s`", r.Name)
		}
		if r.Description != "" {
			fmt.Fprintf(&b, "\n\n%s", r.Description)
		}
		if r.Examples.Incorrect != "" {
			fmt.Fprintf(&b, "\n\nIncorrect:\n```qasm\n%s\n```", r.Examples.Incorrect)
		}
		if r.Examples.Correct != "" {
			fmt.Fprintf(&b, "\n\nCorrect:\n```qasm\n%s\n```", r.Examples.Correct)
		}
	}
	if m.DocumentationURL != "" {
		fmt.Fprintf(&b, "\n\n[Documentation](%s)", m.DocumentationURL)
	}
	return b.String()
}
