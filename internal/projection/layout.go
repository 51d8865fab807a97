// Package projection maps text offsets to visual positions under soft
// line-wrap and keeps two scrollable panes in proportional sync.
//
// It is the headless counterpart of measuring a caret inside a wrapped text
// area: the text is broken into grapheme clusters, each cluster takes the
// number of cells reported by uniseg (tabs expand to the next tab stop), and
// rows wrap at the last whitespace that fits, falling back to a hard break
// inside words longer than a row. Trailing whitespace hangs past the wrap
// column instead of starting a new row.
package projection

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

const defaultTabWidth = 4

// Metrics are the glyph metrics of the rendering surface.
type Metrics struct {
	CellWidth  float64
	LineHeight float64
}

// Position is a visual caret position. Row counts visual rows from the top
// of the text; Line is the logical (newline separated) line.
type Position struct {
	Line   int     `json:"line"`
	Row    int     `json:"row"`
	Column int     `json:"column"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Before reports whether p comes strictly before other in reading order.
func (p Position) Before(other Position) bool {
	if p.Row != other.Row {
		return p.Row < other.Row
	}
	return p.Column < other.Column
}

// Layout computes soft-wrapped positions.
type Layout struct {
	wrapWidth int // 0 = no wrap
	tabWidth  int
	metrics   Metrics
}

// NewLayout creates a layout wrapping at wrapWidth cells.
func NewLayout(wrapWidth, tabWidth int, metrics Metrics) *Layout {
	if wrapWidth < 0 {
		wrapWidth = 0
	}
	if tabWidth < 1 {
		tabWidth = defaultTabWidth
	}
	return &Layout{wrapWidth: wrapWidth, tabWidth: tabWidth, metrics: metrics}
}

// WrapWidth returns the wrap width in cells.
func (l *Layout) WrapWidth() int {
	return l.wrapWidth
}

// SetWrapWidth changes the wrap width and reports whether it changed.
func (l *Layout) SetWrapWidth(width int) bool {
	if width < 0 {
		width = 0
	}
	if width == l.wrapWidth {
		return false
	}
	l.wrapWidth = width
	return true
}

// cell is one grapheme cluster placed on a visual row.
type cell struct {
	offset int // rune offset within the line
	runes  int
	row    int
	col    int
	width  int
}

func isSpace(cluster string) bool {
	r, _ := utf8.DecodeRuneInString(cluster)
	return unicode.IsSpace(r)
}

// wrapLine places every cluster of a single logical line.
func (l *Layout) wrapLine(line string) (cells []cell, rows int) {
	row, col := 0, 0
	rowFirst := 0
	breakAt := -1

	g := uniseg.NewGraphemes(line)
	offset := 0
	for g.Next() {
		cluster := g.Str()
		runes := utf8.RuneCountInString(cluster)
		space := isSpace(cluster)

		width := g.Width()
		if cluster == "\t" {
			width = l.tabWidth - col%l.tabWidth
		}

		for l.wrapWidth > 0 && col > 0 && col+width > l.wrapWidth && !space {
			row++
			col = 0
			if breakAt > rowFirst {
				// Carry the partial word onto the new row.
				for i := breakAt; i < len(cells); i++ {
					cells[i].row = row
					cells[i].col = col
					col += cells[i].width
				}
				rowFirst = breakAt
			} else {
				rowFirst = len(cells)
			}
			breakAt = -1
		}

		cells = append(cells, cell{offset: offset, runes: runes, row: row, col: col, width: width})
		col += width
		offset += runes
		if space {
			breakAt = len(cells)
		}
	}
	return cells, row + 1
}

// Locate returns the visual position of the caret before the rune at
// offset. Offsets are clamped to the text. An offset inside a grapheme
// cluster snaps to the start of the cluster.
func (l *Layout) Locate(text string, offset int) Position {
	if offset < 0 {
		offset = 0
	}

	baseRow := 0
	lineStart := 0
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lineRunes := utf8.RuneCountInString(line)
		cells, rows := l.wrapLine(line)

		if offset <= lineStart+lineRunes || i == len(lines)-1 {
			local := offset - lineStart
			if local > lineRunes {
				local = lineRunes
			}
			row, col := locateInLine(cells, local)
			return l.position(i, baseRow+row, col)
		}

		baseRow += rows
		lineStart += lineRunes + 1
	}
	return Position{}
}

func locateInLine(cells []cell, local int) (row, col int) {
	for _, c := range cells {
		if local < c.offset+c.runes {
			return c.row, c.col
		}
	}
	if len(cells) == 0 {
		return 0, 0
	}
	last := cells[len(cells)-1]
	return last.row, last.col + last.width
}

// Rows returns the number of visual rows text occupies.
func (l *Layout) Rows(text string) int {
	total := 0
	for _, line := range strings.Split(text, "\n") {
		_, rows := l.wrapLine(line)
		total += rows
	}
	return total
}

func (l *Layout) position(line, row, col int) Position {
	return Position{
		Line:   line,
		Row:    row,
		Column: col,
		X:      float64(col) * l.metrics.CellWidth,
		Y:      float64(row) * l.metrics.LineHeight,
	}
}
