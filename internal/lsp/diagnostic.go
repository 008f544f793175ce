package lsp

import (
	"sort"

	"github.com/leapstack-labs/qasmlens/internal/mapper"
)

// toDiagnostics converts markers (1-based, in characters) into LSP
// diagnostics (0-based, in cols' encoding).
func toDiagnostics(markers []mapper.Marker, cols columns) []Diagnostic {
	out := make([]Diagnostic, 0, len(markers))
	for _, m := range markers {
		d := Diagnostic{
			Range: Range{
				Start: cols.position(m.Line, m.Column),
				End:   cols.position(m.EndLine, m.EndColumn),
			},
			Severity: toLSPSeverity(m.Severity),
			Code:     m.Code,
			Source:   m.Source,
			Message:  m.Message,
		}
		if m.DocumentationURL != "" {
			d.CodeDescription = &CodeDescription{Href: m.DocumentationURL}
		}
		out = append(out, d)
	}
	return out
}

func position(line, column int) Position {
	return Position{
		Line:      uint32(max(0, line-1)),   //nolint:gosec // G115: clamped to non-negative
		Character: uint32(max(0, column-1)), //nolint:gosec // G115: clamped to non-negative
	}
}

func toLSPSeverity(s mapper.Severity) DiagnosticSeverity {
	switch s {
	case mapper.SeverityError:
		return DiagnosticSeverityError
	case mapper.SeverityInfo:
		return DiagnosticSeverityInformation
	default:
		return DiagnosticSeverityWarning
	}
}

// encodeSemanticTokens packs decorations into the relative LSP encoding.
// Decorations are 1-based by line and 0-based by character column.
func encodeSemanticTokens(decorations []mapper.Decoration, cols columns) []uint32 {
	sorted := make([]mapper.Decoration, 0, len(decorations))
	for _, d := range decorations {
		if d.Line >= 1 && d.Len() > 0 {
			sorted = append(sorted, d)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].StartColumn < sorted[j].StartColumn
	})

	data := make([]uint32, 0, len(sorted)*5)
	prevLine, prevCol := 0, 0
	for _, d := range sorted {
		line := d.Line - 1
		start := cols.toUnits(line, d.StartColumn)
		end := cols.toUnits(line, d.EndColumn)
		deltaCol := start
		if line == prevLine {
			deltaCol = start - prevCol
		}
		data = append(data,
			uint32(line-prevLine), //nolint:gosec // G115: sorted, never negative
			uint32(deltaCol),      //nolint:gosec // G115: sorted, never negative
			uint32(end-start),     //nolint:gosec // G115: positive
			uint32(d.LegendIndex), //nolint:gosec // G115: legend index
			0,
		)
		prevLine, prevCol = line, start
	}
	return data
}

// markerAt returns the markers covering a 0-based position in cols'
// encoding.
func markerAt(markers []mapper.Marker, pos Position, cols columns) []mapper.Marker {
	var out []mapper.Marker
	line := int(pos.Line) + 1
	col := cols.toChars(int(pos.Line), int(pos.Character)) + 1
	for _, m := range markers {
		if line < m.Line || line > m.EndLine {
			continue
		}
		if line == m.Line && col < m.Column {
			continue
		}
		if line == m.EndLine && col >= m.EndColumn {
			continue
		}
		out = append(out, m)
	}
	return out
}
