package room

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/coder/websocket"

	"github.com/conneroisu/livedoc/internal/config"
	"github.com/conneroisu/livedoc/internal/content"
	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/logging"
	"github.com/conneroisu/livedoc/internal/metrics"
	"github.com/conneroisu/livedoc/internal/presence"
)

// ContentSink is the slice of the content store a room writes through.
type ContentSink interface {
	Resolve(path string) (string, error)
	Update(ctx context.Context, path, raw string) (*content.Document, error)
	Render(ctx context.Context, path string) (*content.Document, error)
	Get(path string) (*content.Document, error)
	Close(ctx context.Context, path string) error
}

// Presence is the slice of the presence directory rooms report to.
type Presence interface {
	HandleAction(ctx context.Context, action presence.Action) error
	UpdateLatency(userID string, ms float64) error
	Touch(userID string) bool
	Lookup(userID string) (presence.User, bool)
}

// Manager owns every room, keyed by absolute document path.
type Manager struct {
	sink           ContentSink
	presence       Presence
	timing         config.TimingConfig
	logger         logging.Logger
	metrics        *metrics.Metrics
	originPatterns []string

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	rooms map[string]*Room
	conns sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithOriginPatterns sets the extra origins accepted on the room channel.
func WithOriginPatterns(patterns []string) Option {
	return func(m *Manager) { m.originPatterns = patterns }
}

// NewManager creates an empty room manager.
func NewManager(sink ContentSink, p Presence, timing config.TimingConfig, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sink:     sink,
		presence: p,
		timing:   timing,
		logger:   logging.NewNopLogger(),
		ctx:      ctx,
		cancel:   cancel,
		rooms:    make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("room")
	return m
}

// Create returns the room for an open document, seeding a new one from
// the document's text and last render when none exists. Re-opening a
// document whose room is closing keeps the room and its peers and lets new
// peers join again.
func (m *Manager) Create(doc *content.Document) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[doc.Path]; ok && r.reopen() {
		return r, false
	}
	r := newRoom(m, doc)
	m.rooms[doc.Path] = r
	m.metrics.RoomOpened()
	m.logger.Info(m.ctx, "Room created", "path", doc.Path)
	return r, true
}

// Get returns the room for path.
func (m *Manager) Get(path string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[path]
	return r, ok
}

// Paths returns the paths of every live room.
func (m *Manager) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.rooms))
	for p := range m.rooms {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (m *Manager) remove(r *Room) {
	m.mu.Lock()
	if m.rooms[r.path] != r {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, r.path)
	m.mu.Unlock()

	closeDocument := r.destroy()
	m.metrics.RoomClosed()
	m.logger.Info(m.ctx, "Room destroyed", "path", r.path)

	if closeDocument {
		if err := m.sink.Close(m.ctx, r.path); err != nil {
			m.logger.Error(m.ctx, err, "Failed to close document after last peer left", "path", r.path)
		}
	}
}

// Close tears down the room for path and reports whether the caller may
// close the document now. An empty or missing room reports true once its
// pending edits reached the store. A room with peers refuses new joins,
// keeps accepting their edits and reports false; it closes the document
// itself when the last peer leaves.
func (m *Manager) Close(path string) bool {
	r, ok := m.Get(path)
	if !ok {
		return true
	}
	if r.markClosing(true) {
		m.remove(r)
		return true
	}
	return false
}

// Reset re-syncs the room for path with the store's text, broadcasting the
// change to its peers without writing it back.
func (m *Manager) Reset(path string) bool {
	r, ok := m.Get(path)
	if !ok {
		return false
	}
	if r.reset() {
		m.logger.Info(m.ctx, "Room reset", "path", path)
		return true
	}
	return false
}

// Render renders path and, when a room is live, broadcasts the result to
// its peers.
func (m *Manager) Render(ctx context.Context, path string) (*content.Document, error) {
	abs, err := m.sink.Resolve(path)
	if err != nil {
		return nil, err
	}
	if r, ok := m.Get(abs); ok {
		if doc, err := r.render(ctx); !errors.IsNotFound(err) {
			return doc, err
		}
	}
	return m.sink.Render(ctx, abs)
}

// ServeWS upgrades a request to a room channel for ?path=&user=. Refused
// joins are reported with a close code after the upgrade so the client can
// tell them apart from network failures.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  m.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		m.logger.Warn(ctx, err, "Room upgrade failed", "remote", r.RemoteAddr)
		return
	}

	path := r.URL.Query().Get("path")
	userID := r.URL.Query().Get("user")
	if path == "" || userID == "" {
		_ = ws.Close(StatusBadRequest, "path and user are required")
		return
	}

	abs, err := m.sink.Resolve(path)
	if err != nil {
		m.logger.Warn(ctx, err, "Room join refused", "path", path)
		_ = ws.Close(StatusBadRequest, "path not allowed")
		return
	}

	room, ok := m.Get(abs)
	if !ok {
		_ = ws.Close(StatusRoomNotFound, "room not found")
		return
	}

	c := newConn(ws, room, userID, m.metrics)
	if err := room.join(c); err != nil {
		code := StatusRoomClosing
		reason := "room closing"
		if errors.IsNotFound(err) {
			code = StatusRoomNotFound
			reason = "room not found"
		}
		_ = ws.Close(code, reason)
		return
	}

	m.conns.Add(1)
	defer m.conns.Done()

	connCtx, cancel := context.WithCancel(m.ctx)
	defer cancel()
	go c.writePump(connCtx, m.timing.KeepaliveInterval)
	c.readPump(connCtx)

	m.disconnect(c)
}

// disconnect removes c from its room, clears its cursor from presence and
// destroys the room when c was the last peer.
func (m *Manager) disconnect(c *Conn) {
	c.close(websocket.StatusNormalClosure, "")

	err := m.presence.HandleAction(m.ctx, presence.Action{Type: presence.ActionCursorClear, UserID: c.userID})
	if err != nil {
		m.logger.Debug(m.ctx, "Cursor clear failed", "user", c.userID, "error", err)
	}

	if c.room.leave(c) {
		m.remove(c.room)
	}
}

// Shutdown destroys every room and waits for their connections to finish
// or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.markClosing(false)
		m.remove(r)
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
