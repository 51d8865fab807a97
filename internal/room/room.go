// Package room implements the per-document sync engine.
//
// A Room holds the authoritative CRDT replica of one open document and the
// websocket connections of every peer editing it. All mutation of a room
// (replica updates, joins, leaves) happens under the room's own lock, so
// rooms for different documents never contend. Remote edits are merged,
// relayed to the other peers of the same room, and flushed to the content
// store after a short quiet period; a render is broadcast to every peer
// once edits have settled or when a peer asks for one.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/livedoc/internal/content"
	"github.com/conneroisu/livedoc/internal/crdt"
	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/presence"
)

// Room is the live session of one document.
type Room struct {
	path    string
	manager *Manager

	mu        sync.Mutex
	replica   *crdt.Text
	conns     map[*Conn]struct{}
	closing   bool
	destroyed bool

	// closeDocument is set when the document was closed while peers were
	// still connected; the room closes it in the store on teardown.
	closeDocument bool

	contentPending bool
	contentTimer   *time.Timer
	renderTimer    *time.Timer
	renderSeq      uint64
	renderedSeq    uint64
	lastRender     []byte

	// flushMu orders writes to the content store.
	flushMu sync.Mutex
}

func newRoom(m *Manager, doc *content.Document) *Room {
	r := &Room{
		path:    doc.Path,
		manager: m,
		replica: crdt.NewText("server-" + uuid.NewString()),
		conns:   make(map[*Conn]struct{}),
	}
	// Seeding is the init origin; it never flows back to the store.
	r.replica.Insert(0, doc.Raw)
	if doc.RenderError == "" && doc.HTML != "" {
		r.lastRender, _ = EncodeFrame(RenderFrame{Path: doc.Path, Title: doc.Title, HTML: doc.HTML, Headings: doc.Headings})
	}
	return r
}

// Path returns the document path the room serves.
func (r *Room) Path() string {
	return r.path
}

// Text returns the current replica text.
func (r *Room) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replica.String()
}

// Connections returns the number of joined connections.
func (r *Room) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Closing reports whether the room refuses new joins.
func (r *Room) Closing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing || r.destroyed
}

// join adds c and queues the bootstrap frames: timing config, the full
// replica state, then the latest render.
func (r *Room) join(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return errors.ErrRoomNotFound(r.path)
	}
	if r.closing {
		return errors.ErrRoomClosed(r.path)
	}

	m := r.manager
	config, err := EncodeFrame(ConfigFrame{Timing: m.timing.Client()})
	if err != nil {
		return err
	}
	state, err := EncodeFrame(SyncFrame{Update: r.replica.State()})
	if err != nil {
		return err
	}
	c.enqueue(KindConfig, config)
	c.enqueue(KindSync, state)
	if r.lastRender != nil {
		c.enqueue(KindRender, r.lastRender)
	}

	r.conns[c] = struct{}{}
	m.metrics.ConnectionJoined()
	m.logger.Info(context.Background(), "Peer joined room",
		"path", r.path, "user", c.userID, "conn", c.id, "peers", len(r.conns))
	return nil
}

// leave removes c and reports whether the room is now empty.
func (r *Room) leave(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return len(r.conns) == 0
	}
	delete(r.conns, c)
	r.manager.metrics.ConnectionLeft()
	r.manager.logger.Info(context.Background(), "Peer left room",
		"path", r.path, "user", c.userID, "conn", c.id, "peers", len(r.conns))
	return len(r.conns) == 0
}

// broadcastLocked queues data on every connection except skip.
func (r *Room) broadcastLocked(kind Kind, data []byte, skip *Conn) {
	for c := range r.conns {
		if c == skip {
			continue
		}
		c.enqueue(kind, data)
	}
}

// handleFrame dispatches one decoded frame from c.
func (r *Room) handleFrame(ctx context.Context, c *Conn, data []byte, frame Frame) error {
	switch f := frame.(type) {
	case SyncFrame:
		return r.applySync(c, data, f.Update)
	case CursorFrame:
		r.relayCursor(ctx, c, f)
		return nil
	case PingFrame:
		return r.handlePing(c, f)
	case RenderRequestFrame:
		_, err := r.render(ctx)
		return err
	default:
		return errors.NewProtocolError(errors.ErrCodeUnknownFrame, "frame kind is server to client only", nil).
			WithContext("kind", frame.Kind().String())
	}
}

// applySync merges a remote update, relays it to the other peers and
// schedules the content flush and render.
func (r *Room) applySync(c *Conn, data []byte, update crdt.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return errors.ErrRoomNotFound(r.path)
	}
	before := r.replica.String()
	if err := r.replica.Apply(update); err != nil {
		return errors.WrapProtocol(err, errors.ErrCodeInvalidUpdate, "rejected sync update").WithPath(r.path)
	}
	r.broadcastLocked(KindSync, data, c)

	if r.replica.String() != before {
		r.scheduleLocked()
	}
	return nil
}

func (r *Room) scheduleLocked() {
	if r.destroyed {
		return
	}
	timing := r.manager.timing

	r.contentPending = true
	if r.contentTimer == nil {
		r.contentTimer = time.AfterFunc(timing.ContentDebounce, r.flushContent)
	} else {
		r.contentTimer.Reset(timing.ContentDebounce)
	}

	if r.renderTimer == nil {
		r.renderTimer = time.AfterFunc(timing.RenderInterval, func() { _, _ = r.render(r.manager.ctx) })
	} else {
		r.renderTimer.Reset(timing.RenderInterval)
	}
}

// takePendingLocked returns the replica text when it has changes the store
// has not seen yet.
func (r *Room) takePendingLocked() (string, bool) {
	if !r.contentPending {
		return "", false
	}
	r.contentPending = false
	if r.contentTimer != nil {
		r.contentTimer.Stop()
	}
	return r.replica.String(), true
}

// flushContent hands pending replica text to the content store.
func (r *Room) flushContent() {
	r.mu.Lock()
	text, ok := r.takePendingLocked()
	if !ok {
		r.mu.Unlock()
		return
	}
	r.flushMu.Lock()
	r.mu.Unlock()
	defer r.flushMu.Unlock()

	m := r.manager
	if _, err := m.sink.Update(m.ctx, r.path, text); err != nil {
		m.logger.Warn(m.ctx, err, "Failed to flush room text to store", "path", r.path)
	}
}

// render brings the store up to date, renders and broadcasts the result to
// every peer, the requester included. A render that finishes after a newer
// one has been broadcast is not sent.
func (r *Room) render(ctx context.Context) (*content.Document, error) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil, errors.ErrRoomNotFound(r.path)
	}
	r.renderSeq++
	seq := r.renderSeq
	if r.renderTimer != nil {
		r.renderTimer.Stop()
	}
	text, pending := r.takePendingLocked()
	r.flushMu.Lock()
	r.mu.Unlock()

	m := r.manager
	var doc *content.Document
	var err error
	if pending {
		doc, err = m.sink.Update(ctx, r.path, text)
	} else {
		doc, err = m.sink.Render(ctx, r.path)
	}
	r.flushMu.Unlock()

	if err != nil {
		m.logger.Warn(ctx, err, "Render failed, broadcast skipped", "path", r.path)
		return nil, err
	}
	if doc.RenderError != "" {
		m.logger.Warn(ctx, nil, "Render failed, broadcast skipped", "path", r.path, "error", doc.RenderError)
		return doc, nil
	}

	data, err := EncodeFrame(RenderFrame{Path: r.path, Title: doc.Title, HTML: doc.HTML, Headings: doc.Headings})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq > r.renderedSeq && !r.destroyed {
		r.renderedSeq = seq
		r.lastRender = data
		r.broadcastLocked(KindRender, data, nil)
	}
	return doc, nil
}

// relayCursor records the caret in presence and fans it out, enriched with
// the sender's name and color, to the other peers of this room.
func (r *Room) relayCursor(ctx context.Context, c *Conn, f CursorFrame) {
	m := r.manager
	if !c.allowCursor(time.Now(), m.timing.CursorThrottle) {
		m.metrics.FrameDropped("cursor_throttled")
		return
	}

	err := m.presence.HandleAction(ctx, presence.Action{
		Type:   presence.ActionCursor,
		UserID: c.userID,
		File:   r.path,
		Cursor: &presence.Cursor{Offset: f.Offset, Line: f.Line, Column: f.Column},
	})
	if err != nil && !errors.IsNotFound(err) {
		m.logger.Debug(ctx, "Presence cursor update failed", "user", c.userID, "error", err)
	}

	f.UserID = c.userID
	f.Name = c.userID
	f.Color = presence.ColorFor(c.userID)
	if u, ok := m.presence.Lookup(c.userID); ok {
		f.Name = u.Name
		f.Color = u.Color
	}

	data, err := EncodeFrame(f)
	if err != nil {
		m.logger.Error(ctx, err, "Failed to encode cursor frame", "path", r.path)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(KindCursor, data, c)
}

// handlePing forwards the measured latency to presence and echoes the
// client timestamp.
func (r *Room) handlePing(c *Conn, f PingFrame) error {
	m := r.manager
	m.presence.Touch(c.userID)
	if f.LatencyMs != nil {
		if err := m.presence.UpdateLatency(c.userID, *f.LatencyMs); err != nil && !errors.IsNotFound(err) {
			return err
		}
	}

	data, err := EncodeFrame(PingFrame{Timestamp: f.Timestamp})
	if err != nil {
		return err
	}
	c.enqueue(KindPing, data)
	return nil
}

// reset brings the replica in line with the store and broadcasts the diff
// to every peer. It is the reset origin: nothing flows back to the store. A
// room with edits the store has not seen yet keeps them and ignores the
// reset. Holding flushMu waits out an in-flight flush, so the text read is
// the store's final word.
func (r *Room) reset() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed || r.contentPending {
		return false
	}
	r.flushMu.Lock()
	doc, err := r.manager.sink.Get(r.path)
	r.flushMu.Unlock()
	if err != nil {
		r.manager.logger.Debug(r.manager.ctx, "Room reset skipped", "path", r.path, "error", err)
		return false
	}

	update := r.replica.Replace(doc.Raw)
	if update.Empty() {
		return false
	}
	data, err := EncodeFrame(SyncFrame{Update: update})
	if err != nil {
		return false
	}
	r.broadcastLocked(KindSync, data, nil)
	return true
}

// markClosing refuses further joins and reports whether the room is empty.
// With closeDocument set, a room that still has peers closes the document
// in the store once the last of them leaves.
func (r *Room) markClosing(closeDocument bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closing = true
	empty := len(r.conns) == 0
	if !empty && closeDocument {
		r.closeDocument = true
	}
	return empty
}

// reopen lifts a pending close so the room accepts joins again.
func (r *Room) reopen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return false
	}
	r.closing = false
	r.closeDocument = false
	return true
}

// destroy flushes pending text, stops the timers and disconnects any
// remaining peers. It reports whether the document is to be closed in the
// store. Only the first call has any effect.
func (r *Room) destroy() bool {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return false
	}
	r.destroyed = true
	if r.contentTimer != nil {
		r.contentTimer.Stop()
	}
	if r.renderTimer != nil {
		r.renderTimer.Stop()
	}
	text, pending := r.takePendingLocked()
	closeDocument := r.closeDocument
	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.flushMu.Lock()
	r.mu.Unlock()

	m := r.manager
	if pending {
		if _, err := m.sink.Update(m.ctx, r.path, text); err != nil {
			m.logger.Warn(m.ctx, err, "Failed to flush room text to store", "path", r.path)
		}
	}
	r.flushMu.Unlock()

	for _, c := range conns {
		c.closeAsync(StatusRoomClosing, "room closed")
	}
	return closeDocument
}
