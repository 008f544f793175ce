// Package analysis defines the payloads exchanged with the sandboxed
// analysis module. The module itself is opaque: these types only describe
// what crosses the call boundary.
package analysis

import "strings"

// Operation names a callable exposed by the analysis module.
type Operation string

// Boundary operations.
const (
	OpFormat    Operation = "format"
	OpHighlight Operation = "highlight"
	OpLint      Operation = "lint"
)

// Operations lists every operation the module must expose before it is
// considered ready.
var Operations = []Operation{OpFormat, OpHighlight, OpLint}

// String returns the operation name.
func (o Operation) String() string {
	return string(o)
}

// Severity is the severity reported by the engine for a violation.
type Severity string

// Engine severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ParseSeverity normalizes an engine severity string.
// Returns SeverityWarning and false for anything unrecognized.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return SeverityError, true
	case "warning", "warn":
		return SeverityWarning, true
	case "info", "information":
		return SeverityInfo, true
	default:
		return SeverityWarning, false
	}
}

// Envelope is the part of every boundary result shared by all operations.
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// FormatResult is the result of the format operation.
// Formatted is set when Success is true, Error otherwise.
type FormatResult struct {
	Envelope
	Formatted string `json:"formatted,omitempty"`
}

// HighlightResult is the result of the highlight operation.
type HighlightResult struct {
	Envelope
	Tokens []Token `json:"tokens,omitempty"`
}

// LintResult is the result of the lint operation.
// The engine may send its own summary; it is never trusted, see mapper.Summarize.
type LintResult struct {
	Envelope
	Violations []Violation `json:"violations,omitempty"`
}

// Token is a lexical unit with its classification and exact source position.
type Token struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Line    int    `json:"line"`   // 1-based
	Column  int    `json:"column"` // 0-based, in characters
	Length  int    `json:"length"` // in characters
}

// Violation is a single lint finding.
type Violation struct {
	File             string       `json:"file,omitempty"`
	Line             int          `json:"line"`   // 1-based
	Column           int          `json:"column"` // 1-based
	Severity         Severity     `json:"severity"`
	RuleID           string       `json:"rule_id"`
	Message          string       `json:"message"`
	DocumentationURL string       `json:"documentation_url,omitempty"`
	RuleDetails      *RuleDetails `json:"rule_details,omitempty"`
}

// RuleDetails carries the rule metadata the engine attaches to a violation.
type RuleDetails struct {
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	Tags             []string     `json:"tags,omitempty"`
	Fixable          bool         `json:"fixable"`
	SpecificationURL string       `json:"specification_url,omitempty"`
	Examples         RuleExamples `json:"examples"`
}

// RuleExamples holds incorrect/correct snippets for a rule.
type RuleExamples struct {
	Incorrect string `json:"incorrect,omitempty"`
	Correct   string `json:"correct,omitempty"`
}
