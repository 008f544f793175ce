package lsp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Commands executed by workspace/executeCommand.
const (
	CommandLintNow           = "qasmlens.lintNow"
	CommandReloadModule      = "qasmlens.reloadModule"
	CommandRevealViolation   = "qasmlens.revealViolation"
	CommandOpenDocumentation = "qasmlens.openDocumentation"
)

// Commands lists every command the server advertises.
var Commands = []string{
	CommandLintNow,
	CommandReloadModule,
	CommandRevealViolation,
	CommandOpenDocumentation,
}

// handleCodeAction handles the textDocument/codeAction request.
func (s *Server) handleCodeAction(msg *JSONRPCMessage) error {
	var params CodeActionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeInvalidParams, Message: err.Error()})
		return err
	}

	actions := []CodeAction{}
	seen := make(map[string]bool)
	for _, diag := range params.Context.Diagnostics {
		if diag.Source != "" && diag.Source != "qasmlens" {
			continue
		}
		if diag.CodeDescription == nil || diag.CodeDescription.Href == "" {
			continue
		}
		href := diag.CodeDescription.Href
		if seen[href] {
			continue
		}
		seen[href] = true
		actions = append(actions, CodeAction{
			Title:       fmt.Sprintf("Open documentation for %s", diag.Code),
			Kind:        CodeActionKindQuickFix,
			Diagnostics: []Diagnostic{diag},
			Command: &Command{
				Title:     "Open documentation",
				Command:   CommandOpenDocumentation,
				Arguments: []any{href},
			},
		})
	}

	if len(params.Context.Diagnostics) > 0 {
		actions = append(actions, CodeAction{
			Title: "Lint now",
			Kind:  CodeActionKindEmpty,
			Command: &Command{
				Title:     "Lint now",
				Command:   CommandLintNow,
				Arguments: []any{params.TextDocument.URI},
			},
		})
	}

	s.sendResponse(msg.ID, actions, nil)
	return nil
}

// handleExecuteCommand runs a qasmlens command. Long-running work happens
// off the read loop; the response only acknowledges the command.
func (s *Server) handleExecuteCommand(msg *JSONRPCMessage) error {
	var params ExecuteCommandParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeInvalidParams, Message: err.Error()})
		return err
	}

	fail := func(format string, args ...any) error {
		err := fmt.Errorf(format, args...)
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeInvalidParams, Message: err.Error()})
		return err
	}

	switch params.Command {
	case CommandLintNow:
		var uri string
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments[0], &uri); err != nil {
				return fail("%s: uri argument: %w", params.Command, err)
			}
		}
		s.lintNow(uri)

	case CommandReloadModule:
		m := s.currentModule()
		if m == nil {
			return fail("no analysis module configured")
		}
		go func() {
			if err := m.Reload(s.ctx); err != nil {
				s.logger.Warn("Module reload failed", "error", err)
			}
		}()

	case CommandRevealViolation:
		var uri string
		var index int
		if len(params.Arguments) < 2 {
			return fail("%s takes a uri and a violation index", params.Command)
		}
		if err := json.Unmarshal(params.Arguments[0], &uri); err != nil {
			return fail("%s: uri argument: %w", params.Command, err)
		}
		if err := json.Unmarshal(params.Arguments[1], &index); err != nil {
			return fail("%s: index argument: %w", params.Command, err)
		}
		sess, ok := s.synchronizer().Session(uri)
		if !ok {
			return fail("document not open: %s", uri)
		}
		if _, err := sess.Reveal(index); err != nil {
			return fail("%w", err)
		}

	case CommandOpenDocumentation:
		var href string
		if len(params.Arguments) == 0 {
			return fail("%s takes a url", params.Command)
		}
		if err := json.Unmarshal(params.Arguments[0], &href); err != nil {
			return fail("%s: url argument: %w", params.Command, err)
		}
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return fail("not a documentation url: %s", href)
		}
		if s.clientCaps.Window.ShowDocument.Support {
			s.sendRequest("window/showDocument", &ShowDocumentParams{URI: href, External: true})
		} else {
			s.sendNotification("window/showMessage", &ShowMessageParams{Type: MessageTypeInfo, Message: href})
		}

	default:
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: codeInvalidParams, Message: "unknown command: " + params.Command})
		return nil
	}

	s.sendResponse(msg.ID, nil, nil)
	return nil
}

// lintNow analyzes one document, or every open document when uri is empty,
// without waiting for the debounce.
func (s *Server) lintNow(uri string) {
	synchronizer := s.synchronizer()
	if synchronizer == nil {
		return
	}
	go func() {
		if uri == "" {
			synchronizer.RunAll(s.ctx)
			return
		}
		if err := synchronizer.RunNow(s.ctx, uri); err != nil && s.ctx.Err() == nil {
			s.logger.Debug("Lint now", "uri", uri, "error", err)
		}
	}()
}
