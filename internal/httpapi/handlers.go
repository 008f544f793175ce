package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/qasmlens/internal/bridge"
	"github.com/leapstack-labs/qasmlens/internal/mapper"
)

// maxBody bounds request bodies.
const maxBody = 4 << 20

// Request is the body of the analysis endpoints.
type Request struct {
	Source   string `json:"source"`
	Unescape bool   `json:"unescape,omitempty"`
}

// FormatResponse is returned by POST /api/format.
type FormatResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Formatted string `json:"formatted"`
	Changed   bool   `json:"changed"`
}

// HighlightResponse is returned by POST /api/highlight.
type HighlightResponse struct {
	Success     bool                `json:"success"`
	Error       string              `json:"error,omitempty"`
	Legend      []string            `json:"legend"`
	Decorations []mapper.Decoration `json:"decorations"`
}

// LintResponse is returned by POST /api/lint.
type LintResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Markers []mapper.Marker `json:"markers"`
	Summary mapper.Summary  `json:"summary"`
}

// StatusResponse is returned by GET /api/status and POST /api/reload.
type StatusResponse struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
	Ready  bool   `json:"ready"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	res, err := s.module.Format(r.Context(), req.Source, req.Unescape)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FormatResponse{
		Success:   res.Success,
		Error:     res.Error,
		Formatted: res.Formatted,
		Changed:   res.Success && res.Formatted != req.Source,
	})
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	res, err := s.module.Highlight(r.Context(), req.Source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HighlightResponse{
		Success:     res.Success,
		Error:       res.Error,
		Legend:      mapper.SemanticLegend(),
		Decorations: mapper.TokensToDecorations(res.Tokens),
	})
}

func (s *Server) handleLint(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	res, err := s.module.Lint(r.Context(), req.Source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// success:false with violations is an ordinary lint result
	s.writeJSON(w, http.StatusOK, LintResponse{
		Success: res.Success,
		Error:   res.Error,
		Markers: mapper.ViolationsToMarkersWithSpan(res.Violations, s.markerSpan),
		Summary: mapper.Summarize(res.Violations),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statusOf(s.module.State()))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.module.Reload(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusOf(s.module.State()))
}

// StateSignals is the datastar signal set patched by GET /api/events.
type StateSignals struct {
	Module StatusResponse `json:"module"`
}

// handleEvents streams module state changes as datastar signal patches,
// starting with the current state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	updates := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(updates)

	sse := datastar.NewSSE(w, r)
	if err := sse.MarshalAndPatchSignals(StateSignals{Module: statusOf(s.module.State())}); err != nil {
		s.logger.Debug("events stream closed", "error", err)
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if err := sse.MarshalAndPatchSignals(StateSignals{Module: statusOf(snap)}); err != nil {
				s.logger.Debug("events stream closed", "error", err)
				return
			}
		}
	}
}

func statusOf(snap bridge.Snapshot) StatusResponse {
	return StatusResponse{
		State:  snap.State.String(),
		Reason: snap.Reason,
		Ready:  snap.State == bridge.StateReady,
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (Request, bool) {
	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeJSON(w, status, ErrorResponse{
			Error:     "invalid request body: " + err.Error(),
			RequestID: RequestID(r.Context()),
		})
		return req, false
	}
	return req, true
}

// statusFor maps a boundary failure to an HTTP status.
func statusFor(kind bridge.Kind) int {
	switch kind {
	case bridge.KindLoadFailure, bridge.KindExited, bridge.KindNotLoaded:
		return http.StatusServiceUnavailable
	case bridge.KindInvocation, bridge.KindInvalidResponse:
		return http.StatusUnprocessableEntity
	case bridge.KindTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := bridge.KindOf(err)
	status := statusFor(kind)
	s.logger.Warn("analysis failed", "id", RequestID(r.Context()), "kind", kind.String(), "error", err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	s.writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Kind:      kind.String(),
		RequestID: RequestID(r.Context()),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "error", err)
	}
}
