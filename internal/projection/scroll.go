package projection

import "sync"

// Pane is the scroll geometry of one scrollable element.
type Pane struct {
	ScrollTop    float64 `json:"scrollTop"`
	ScrollHeight float64 `json:"scrollHeight"`
	ClientHeight float64 `json:"clientHeight"`
}

func (p Pane) maxScroll() float64 {
	if m := p.ScrollHeight - p.ClientHeight; m > 0 {
		return m
	}
	return 0
}

// Ratio returns how far the pane is scrolled, from 0 to 1. A pane that
// cannot scroll reports 0.
func (p Pane) Ratio() float64 {
	m := p.maxScroll()
	if m == 0 {
		return 0
	}
	r := p.ScrollTop / m
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// TopFor returns the scroll offset that puts the pane at ratio.
func (p Pane) TopFor(ratio float64) float64 {
	return ratio * p.maxScroll()
}

// Side identifies one of the two synced panes.
type Side int

const (
	SideNone Side = iota
	SideEditor
	SidePreview
)

// ScrollSync mirrors the scroll ratio of whichever pane the user is moving
// onto the other one. The pane that started a sync is the source until the
// next frame; scroll events from the other pane in the meantime are the
// echo of the sync itself and are ignored.
type ScrollSync struct {
	mu     sync.Mutex
	source Side
}

// OnScroll handles a scroll event on from. It returns the new scroll top for
// the opposite pane, or false when the event must not propagate.
func (s *ScrollSync) OnScroll(from Side, pane, other Pane) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != SideNone && s.source != from {
		return 0, false
	}
	s.source = from
	return other.TopFor(pane.Ratio()), true
}

// Frame clears the source flag. Call once per animation frame.
func (s *ScrollSync) Frame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = SideNone
}

// Source returns the pane currently driving the sync.
func (s *ScrollSync) Source() Side {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}
