package projection

import (
	"sort"
	"sync"
	"unicode/utf8"
)

// PeerCursor is a remote caret as shown on screen.
type PeerCursor struct {
	Peer   string   `json:"peer"`
	Offset int      `json:"offset"`
	Pos    Position `json:"position"`
	// Screen coordinates after the current scroll offset.
	ScreenX float64 `json:"screenX"`
	ScreenY float64 `json:"screenY"`
}

type peerState struct {
	offset int
	pos    Position
	valid  bool
}

// Cursors caches the measured position of every remote peer's caret.
// Positions are re-derived only when the text or the wrap width changes;
// scrolling just shifts the cached coordinates.
type Cursors struct {
	mu         sync.Mutex
	layout     *Layout
	text       string
	scrollTop  float64
	scrollLeft float64
	peers      map[string]*peerState

	measurements int
}

// NewCursors creates an empty cache over layout.
func NewCursors(layout *Layout) *Cursors {
	return &Cursors{
		layout: layout,
		peers:  make(map[string]*peerState),
	}
}

// SetText replaces the text wholesale. Cached offsets are kept and clamped.
func (c *Cursors) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.text = text
	n := utf8.RuneCountInString(text)
	for _, p := range c.peers {
		if p.offset > n {
			p.offset = n
		}
		p.valid = false
	}
}

// Edit records a local or remote edit that removed deleted runes at offset
// and inserted inserted runes in their place. Carets after the edit shift so
// they stay on the same character.
func (c *Cursors) Edit(text string, offset, deleted, inserted int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.text = text
	for _, p := range c.peers {
		switch {
		case p.offset >= offset+deleted:
			p.offset += inserted - deleted
		case p.offset > offset:
			p.offset = offset + inserted
		}
		if p.offset < 0 {
			p.offset = 0
		}
		p.valid = false
	}
}

// SetWrapWidth changes the wrap width; cached positions are re-derived only
// when it actually changed.
func (c *Cursors) SetWrapWidth(width int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.layout.SetWrapWidth(width) {
		for _, p := range c.peers {
			p.valid = false
		}
	}
}

// Scroll records the pane's scroll offset.
func (c *Cursors) Scroll(top, left float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scrollTop = top
	c.scrollLeft = left
}

// Set moves a peer's caret.
func (c *Cursors) Set(peer string, offset int) PeerCursor {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.peers[peer]
	if !ok {
		p = &peerState{}
		c.peers[peer] = p
	}
	if !p.valid || p.offset != offset {
		p.offset = offset
		p.valid = false
	}
	return c.resolveLocked(peer, p)
}

// Remove forgets a peer.
func (c *Cursors) Remove(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, peer)
}

// Get returns one peer's caret.
func (c *Cursors) Get(peer string) (PeerCursor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.peers[peer]
	if !ok {
		return PeerCursor{}, false
	}
	return c.resolveLocked(peer, p), true
}

// All returns every caret ordered by peer id.
func (c *Cursors) All() []PeerCursor {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PeerCursor, 0, len(c.peers))
	for id, p := range c.peers {
		out = append(out, c.resolveLocked(id, p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

func (c *Cursors) resolveLocked(peer string, p *peerState) PeerCursor {
	if !p.valid {
		p.pos = c.layout.Locate(c.text, p.offset)
		p.valid = true
		c.measurements++
	}
	return PeerCursor{
		Peer:    peer,
		Offset:  p.offset,
		Pos:     p.pos,
		ScreenX: p.pos.X - c.scrollLeft,
		ScreenY: p.pos.Y - c.scrollTop,
	}
}
