package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMetrics = Metrics{CellWidth: 8, LineHeight: 16}

func TestLocate(t *testing.T) {
	tests := []struct {
		name     string
		wrap     int
		text     string
		offset   int
		row, col int
		line     int
	}{
		{"start", 10, "hello world foo", 0, 0, 0, 0},
		{"space before wrap", 10, "hello world foo", 5, 0, 5, 0},
		{"word carried to next row", 10, "hello world foo", 6, 1, 0, 0},
		{"after carried word", 10, "hello world foo", 12, 1, 6, 0},
		{"end of text", 10, "hello world foo", 15, 1, 9, 0},
		{"beyond end clamps", 10, "hello world foo", 99, 1, 9, 0},
		{"negative clamps", 10, "hello", -3, 0, 0, 0},
		{"hard break in long word", 4, "abcdefgh", 4, 1, 0, 0},
		{"end of hard broken word", 4, "abcdefgh", 8, 1, 4, 0},
		{"hanging space", 5, "abcde f", 6, 1, 0, 0},
		{"second line", 0, "ab\ncd", 3, 1, 0, 1},
		{"end of first line", 0, "ab\ncd", 2, 0, 2, 0},
		{"empty line", 0, "a\n\nb", 2, 1, 0, 1},
		{"rows accumulate across lines", 4, "abcdefgh\nxy", 10, 2, 1, 1},
		{"wide runes", 0, "日本語", 2, 0, 4, 0},
		{"tab stop", 0, "a\tb", 2, 0, 4, 0},
		{"leading tab", 0, "\tx", 1, 0, 4, 0},
		{"inside cluster snaps to start", 0, "e\u0301x", 1, 0, 0, 0},
		{"after cluster", 0, "e\u0301x", 2, 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout := NewLayout(tt.wrap, 4, testMetrics)
			pos := layout.Locate(tt.text, tt.offset)
			assert.Equal(t, tt.row, pos.Row, "row")
			assert.Equal(t, tt.col, pos.Column, "column")
			assert.Equal(t, tt.line, pos.Line, "line")
			assert.Equal(t, float64(tt.col)*testMetrics.CellWidth, pos.X)
			assert.Equal(t, float64(tt.row)*testMetrics.LineHeight, pos.Y)
		})
	}
}

func TestRows(t *testing.T) {
	assert.Equal(t, 2, NewLayout(10, 4, testMetrics).Rows("hello world foo"))
	assert.Equal(t, 1, NewLayout(0, 4, testMetrics).Rows("hello world foo"))
	assert.Equal(t, 4, NewLayout(4, 4, testMetrics).Rows("abcdefgh\n\nxy"))
	assert.Equal(t, 1, NewLayout(4, 4, testMetrics).Rows(""))
}

func TestCursorsCacheMeasurements(t *testing.T) {
	cursors := NewCursors(NewLayout(10, 4, testMetrics))
	cursors.SetText("hello world foo")

	a := cursors.Set("alice", 6)
	assert.Equal(t, 1, a.Pos.Row)
	assert.Equal(t, 0, a.Pos.Column)
	assert.Equal(t, 1, cursors.measurements)

	cursors.Set("alice", 6)
	assert.Equal(t, 1, cursors.measurements, "same offset reuses the cached position")

	cursors.Scroll(16, 4)
	a, ok := cursors.Get("alice")
	require.True(t, ok)
	assert.Equal(t, 0.0, a.ScreenY)
	assert.Equal(t, -4.0, a.ScreenX)
	assert.Equal(t, 1, cursors.measurements, "scrolling does not re-measure")

	cursors.SetWrapWidth(10)
	cursors.Get("alice")
	assert.Equal(t, 1, cursors.measurements, "unchanged width keeps the cache")

	cursors.SetWrapWidth(0)
	a, _ = cursors.Get("alice")
	assert.Equal(t, 2, cursors.measurements)
	assert.Equal(t, 0, a.Pos.Row)
	assert.Equal(t, 6, a.Pos.Column)

	cursors.Edit("XXhello world foo", 0, 0, 2)
	a, _ = cursors.Get("alice")
	assert.Equal(t, 3, cursors.measurements)
	assert.Equal(t, 8, a.Offset)
	assert.Equal(t, 8, a.Pos.Column)
}

func TestCursorsEditShiftsOffsets(t *testing.T) {
	cursors := NewCursors(NewLayout(0, 4, testMetrics))
	cursors.SetText("0123456789ab")
	cursors.Set("before", 1)
	cursors.Set("inside", 5)
	cursors.Set("after", 10)

	// Replace runes 2..6 with a single rune.
	cursors.Edit("01X789ab", 2, 5, 1)

	all := cursors.All()
	require.Len(t, all, 3)
	offsets := map[string]int{}
	for _, c := range all {
		offsets[c.Peer] = c.Offset
	}
	assert.Equal(t, map[string]int{"before": 1, "inside": 3, "after": 6}, offsets)
	assert.Equal(t, []string{"after", "before", "inside"}, []string{all[0].Peer, all[1].Peer, all[2].Peer})

	cursors.SetText("01")
	c, _ := cursors.Get("after")
	assert.Equal(t, 2, c.Offset, "offsets clamp to the new text")

	cursors.Remove("after")
	_, ok := cursors.Get("after")
	assert.False(t, ok)
}

func TestPaneRatio(t *testing.T) {
	assert.Equal(t, 0.25, Pane{ScrollTop: 50, ScrollHeight: 300, ClientHeight: 100}.Ratio())
	assert.Equal(t, 0.0, Pane{ScrollTop: 50, ScrollHeight: 100, ClientHeight: 100}.Ratio())
	assert.Equal(t, 1.0, Pane{ScrollTop: 500, ScrollHeight: 300, ClientHeight: 100}.Ratio())
	assert.Equal(t, 0.0, Pane{ScrollTop: -5, ScrollHeight: 300, ClientHeight: 100}.Ratio())
	assert.Equal(t, 200.0, Pane{ScrollHeight: 900, ClientHeight: 100}.TopFor(0.25))
}

func TestScrollSyncSuppressesEcho(t *testing.T) {
	var s ScrollSync
	editor := Pane{ScrollTop: 50, ScrollHeight: 300, ClientHeight: 100}
	preview := Pane{ScrollHeight: 900, ClientHeight: 100}

	top, ok := s.OnScroll(SideEditor, editor, preview)
	require.True(t, ok)
	assert.Equal(t, 200.0, top)
	assert.Equal(t, SideEditor, s.Source())

	// The preview's scroll event caused by the sync itself.
	preview.ScrollTop = top
	_, ok = s.OnScroll(SidePreview, preview, editor)
	assert.False(t, ok)

	// The editor keeps driving within the same frame.
	editor.ScrollTop = 100
	top, ok = s.OnScroll(SideEditor, editor, preview)
	require.True(t, ok)
	assert.Equal(t, 400.0, top)

	s.Frame()
	assert.Equal(t, SideNone, s.Source())

	top, ok = s.OnScroll(SidePreview, Pane{ScrollTop: 800, ScrollHeight: 900, ClientHeight: 100}, editor)
	require.True(t, ok)
	assert.Equal(t, 200.0, top)
}
