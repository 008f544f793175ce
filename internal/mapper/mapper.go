// Package mapper translates raw analysis results into editor-facing
// descriptors. Everything here is pure and synchronous.
package mapper

import (
	"unicode/utf8"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
)

// DefaultMarkerSpan is the width in characters given to every marker. The
// engine reports only a start position.
const DefaultMarkerSpan = 5

// Decoration is an inline styling instruction for a range on one line.
// Columns are 0-based, EndColumn exclusive.
type Decoration struct {
	Line        int    `json:"line" yaml:"line"` // 1-based
	StartColumn int    `json:"start_column" yaml:"start_column"`
	EndColumn   int    `json:"end_column" yaml:"end_column"`
	TokenType   string `json:"token_type" yaml:"token_type"`
	Class       string `json:"class" yaml:"class"`
	LegendIndex int    `json:"legend_index" yaml:"legend_index"`
}

// Len returns the width of the decoration in characters.
func (d Decoration) Len() int {
	return d.EndColumn - d.StartColumn
}

// Severity of a marker.
type Severity int

// Marker severities, most severe first.
const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInfo
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name. Unknown names become warnings.
func (s *Severity) UnmarshalText(b []byte) error {
	*s = severityOf(analysis.Severity(b))
	return nil
}

// Marker is a problem indicator anchored at a position.
// Line and Column are 1-based; EndColumn is exclusive.
type Marker struct {
	Line             int                   `json:"line"`
	Column           int                   `json:"column"`
	EndLine          int                   `json:"end_line"`
	EndColumn        int                   `json:"end_column"`
	Severity         Severity              `json:"severity"`
	Code             string                `json:"code,omitempty"`
	Message          string                `json:"message"`
	Source           string                `json:"source"`
	DocumentationURL string                `json:"documentation_url,omitempty"`
	Rule             *analysis.RuleDetails `json:"rule,omitempty"`
}

// Summary counts violations by severity.
type Summary struct {
	Total    int `json:"total"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
}

// Clean reports whether there is nothing to show.
func (s Summary) Clean() bool {
	return s.Total == 0
}

// MarkerSource is the Source set on every marker.
const MarkerSource = "qasmlens"

// classes maps engine token types to presentation classes.
var classes = map[string]string{
	"keyword":           "keyword",
	"operator":          "operator",
	"identifier":        "identifier",
	"number":            "number",
	"string":            "string",
	"comment":           "comment",
	"gate":              "keyword.gate",
	"measurement":       "keyword.measurement",
	"register":          "type",
	"punctuation":       "delimiter",
	"builtin_gate":      "keyword.builtin",
	"builtin_quantum":   "keyword.builtin",
	"builtin_classical": "function",
	"builtin_constant":  "constant",
	"access_control":    "keyword",
	"extern":            "keyword",
	"hardware_qubit":    "variable.hardware",
}

// legend is the semantic token type order. Index 2 (identifier) is the
// fallback for unknown types.
var legend = []string{
	"keyword",
	"operator",
	"identifier",
	"number",
	"string",
	"comment",
	"gate",
	"measurement",
	"register",
	"punctuation",
	"builtin_gate",
	"builtin_quantum",
	"builtin_classical",
	"builtin_constant",
	"access_control",
	"extern",
	"hardware_qubit",
}

const fallbackLegendIndex = 2

var legendIndex = func() map[string]int {
	m := make(map[string]int, len(legend))
	for i, name := range legend {
		m[name] = i
	}
	return m
}()

// SemanticLegend returns the ordered token type list used for
// Decoration.LegendIndex.
func SemanticLegend() []string {
	out := make([]string, len(legend))
	copy(out, legend)
	return out
}

// ClassFor returns the presentation class for an engine token type.
// Unmapped types are returned unchanged.
func ClassFor(tokenType string) string {
	if c, ok := classes[tokenType]; ok {
		return c
	}
	return tokenType
}

// TokensToDecorations returns one decoration per token covering
// [column, column+length) on the token's line. Tokens with no extent are
// dropped.
func TokensToDecorations(tokens []analysis.Token) []Decoration {
	out := make([]Decoration, 0, len(tokens))
	for _, t := range tokens {
		length := t.Length
		if length <= 0 && t.Content != "" {
			length = utf8.RuneCountInString(t.Content)
		}
		if length <= 0 || t.Line < 1 || t.Column < 0 {
			continue
		}
		idx, ok := legendIndex[t.Type]
		if !ok {
			idx = fallbackLegendIndex
		}
		out = append(out, Decoration{
			Line:        t.Line,
			StartColumn: t.Column,
			EndColumn:   t.Column + length,
			TokenType:   t.Type,
			Class:       ClassFor(t.Type),
			LegendIndex: idx,
		})
	}
	return out
}

// ViolationsToMarkers returns one marker per violation, in input order.
func ViolationsToMarkers(violations []analysis.Violation) []Marker {
	return ViolationsToMarkersWithSpan(violations, DefaultMarkerSpan)
}

// ViolationsToMarkersWithSpan is ViolationsToMarkers with a configurable
// marker width. Spans below 1 fall back to DefaultMarkerSpan.
func ViolationsToMarkersWithSpan(violations []analysis.Violation, span int) []Marker {
	if span < 1 {
		span = DefaultMarkerSpan
	}
	out := make([]Marker, 0, len(violations))
	for _, v := range violations {
		line := max(v.Line, 1)
		col := max(v.Column, 1)
		out = append(out, Marker{
			Line:             line,
			Column:           col,
			EndLine:          line,
			EndColumn:        col + span,
			Severity:         severityOf(v.Severity),
			Code:             v.RuleID,
			Message:          v.Message,
			Source:           MarkerSource,
			DocumentationURL: v.DocumentationURL,
			Rule:             v.RuleDetails,
		})
	}
	return out
}

func severityOf(s analysis.Severity) Severity {
	sev, _ := analysis.ParseSeverity(string(s))
	switch sev {
	case analysis.SeverityError:
		return SeverityError
	case analysis.SeverityInfo:
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

// Summarize counts violations by severity. Violations from
// analysis.DecodeLint carry only known severities; anything else counts as a
// warning, matching ViolationsToMarkers.
func Summarize(violations []analysis.Violation) Summary {
	var s Summary
	for _, v := range violations {
		s.Total++
		switch severityOf(v.Severity) {
		case SeverityError:
			s.Errors++
		case SeverityInfo:
			s.Info++
		default:
			s.Warnings++
		}
	}
	return s
}

// SummarizeMarkers counts markers by severity.
func SummarizeMarkers(markers []Marker) Summary {
	var s Summary
	for _, m := range markers {
		s.Total++
		switch m.Severity {
		case SeverityError:
			s.Errors++
		case SeverityInfo:
			s.Info++
		default:
			s.Warnings++
		}
	}
	return s
}
