package lsp

import (
	"slices"
	"strings"
	"unicode/utf16"
)

// PositionEncoding is the unit Position.Character is counted in.
type PositionEncoding string

// Position encodings the server supports. UTF-16 is the protocol default.
const (
	PositionEncodingUTF16 PositionEncoding = "utf-16"
	PositionEncodingUTF32 PositionEncoding = "utf-32"
)

// negotiateEncoding picks utf-32 when the client offers it, since the
// analysis module counts columns in characters. Otherwise utf-16.
func negotiateEncoding(offered []PositionEncoding) PositionEncoding {
	if slices.Contains(offered, PositionEncodingUTF32) {
		return PositionEncodingUTF32
	}
	return PositionEncodingUTF16
}

// columns converts between the character columns of a text and the
// negotiated position encoding. The zero value passes columns through.
type columns struct {
	utf16 bool
	lines []string
}

func newColumns(text string, enc PositionEncoding) columns {
	if enc == PositionEncodingUTF32 {
		return columns{}
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return columns{utf16: true, lines: lines}
}

// toUnits converts a 0-based character column on a 0-based line.
// Columns past the end of the line count one unit per character.
func (c columns) toUnits(line, col int) int {
	if !c.utf16 || col <= 0 || line < 0 || line >= len(c.lines) {
		return col
	}
	units, n := 0, 0
	for _, r := range c.lines[line] {
		if n == col {
			return units
		}
		units += runeUnits(r)
		n++
	}
	return units + col - n
}

// toChars is the inverse of toUnits. A position inside a surrogate pair
// resolves to the character that contains it.
func (c columns) toChars(line, units int) int {
	if !c.utf16 || units <= 0 || line < 0 || line >= len(c.lines) {
		return units
	}
	u, n := 0, 0
	for _, r := range c.lines[line] {
		w := runeUnits(r)
		if u+w > units {
			return n
		}
		u += w
		n++
	}
	return n + units - u
}

// position converts a 1-based marker line and character column.
func (c columns) position(line, column int) Position {
	return position(line, c.toUnits(line-1, column-1)+1)
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}
