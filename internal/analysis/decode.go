package analysis

import (
	"encoding/json"
	"fmt"
)

// DecodeFormat decodes a raw format envelope.
func DecodeFormat(raw []byte) (*FormatResult, error) {
	var r FormatResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode format result: %w", err)
	}
	return &r, nil
}

// DecodeHighlight decodes a raw highlight envelope.
func DecodeHighlight(raw []byte) (*HighlightResult, error) {
	var r HighlightResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode highlight result: %w", err)
	}
	if r.Tokens == nil {
		r.Tokens = []Token{}
	}
	return &r, nil
}

// DecodeLint decodes a raw lint envelope.
// Violations are kept even when success is false: the engine reports
// "not clean" that way. Severities are normalized with ParseSeverity, so an
// unrecognized one is reported as a warning everywhere the result goes.
func DecodeLint(raw []byte) (*LintResult, error) {
	var r LintResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode lint result: %w", err)
	}
	if r.Violations == nil {
		r.Violations = []Violation{}
	}
	for i := range r.Violations {
		r.Violations[i].Severity, _ = ParseSeverity(string(r.Violations[i].Severity))
	}
	return &r, nil
}
