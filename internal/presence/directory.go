// Package presence implements the presence directory: the process-wide
// table of connected users and the one-way snapshot stream each of them
// receives.
//
// Users are kept alive by heartbeats: presence actions, including the
// explicit ping, and room pings. Holding a stream open is not one. A
// periodic sweep evicts users whose last heartbeat is older than the stale
// threshold, closes their streams and rebroadcasts once.
package presence

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/livedoc/internal/config"
	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/logging"
	"github.com/conneroisu/livedoc/internal/metrics"
)

// Latency smoothing and rebroadcast threshold.
const (
	latencyAlpha        = 0.3
	latencyMinDeltaMs   = 5.0
	latencyRelativeStep = 0.1
)

// User is one entry of the presence table.
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Color         string    `json:"color"`
	Route         string    `json:"route,omitempty"`
	EditingFile   string    `json:"editingFile,omitempty"`
	Cursor        *Cursor   `json:"cursor,omitempty"`
	LatencyMs     float64   `json:"latencyMs"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`

	hasLatency bool
}

func (u *User) snapshot() User {
	c := *u
	if u.Cursor != nil {
		cursor := *u.Cursor
		c.Cursor = &cursor
	}
	return c
}

// Event types pushed on a stream.
const (
	EventConfig   = "config"
	EventSnapshot = "snapshot"
)

// Event is one message on a presence stream.
type Event struct {
	Type   string               `json:"type"`
	Config *config.ClientTiming `json:"config,omitempty"`
	Users  []User               `json:"users,omitempty"`
}

const streamBuffer = 16

// Stream is the one-way channel of presence events for one user.
type Stream struct {
	UserID string

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func newStream(userID string) *Stream {
	return &Stream{
		UserID: userID,
		events: make(chan Event, streamBuffer),
		done:   make(chan struct{}),
	}
}

// Events delivers presence events.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed when the directory drops the stream.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Stream) send(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Directory is the presence table.
type Directory struct {
	timing  config.TimingConfig
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	users   map[string]*User
	streams map[string]*Stream

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option configures a Directory.
type Option func(*Directory)

func WithLogger(logger logging.Logger) Option {
	return func(d *Directory) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Directory) { d.metrics = m }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// NewDirectory creates an empty presence directory.
func NewDirectory(timing config.TimingConfig, opts ...Option) *Directory {
	d := &Directory{
		timing:  timing,
		logger:  logging.NewNopLogger(),
		now:     time.Now,
		users:   make(map[string]*User),
		streams: make(map[string]*Stream),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("presence")
	return d
}

// AddStream opens the presence stream for userID, replacing any previous
// stream for that user. The stream starts with the timing config followed
// by a full snapshot.
func (d *Directory) AddStream(userID string) (*Stream, error) {
	if userID == "" {
		return nil, errors.ErrMissingField("user")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.streams[userID]; ok {
		old.close()
	}
	s := newStream(userID)
	d.streams[userID] = s

	timing := d.timing.Client()
	s.send(Event{Type: EventConfig, Config: &timing})
	s.send(Event{Type: EventSnapshot, Users: d.usersLocked()})
	return s, nil
}

// RemoveStream detaches s. A stream that was already replaced is ignored.
func (d *Directory) RemoveStream(userID string, s *Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if current, ok := d.streams[userID]; ok && current == s {
		delete(d.streams, userID)
	}
	s.close()
}

// HandleAction applies one presence action.
func (d *Directory) HandleAction(ctx context.Context, action Action) error {
	if action.UserID == "" {
		return errors.ErrMissingField("userId")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	switch action.Type {
	case ActionJoin:
		name := action.Name
		if name == "" {
			name = action.UserID
		}
		u, ok := d.users[action.UserID]
		if !ok {
			u = &User{ID: action.UserID}
			d.users[action.UserID] = u
		}
		u.Name = name
		u.Color = NormalizeColor(action.Color, action.UserID)
		u.Route = action.Route
		u.LastHeartbeat = now
		d.logger.Info(ctx, "User joined", "user", action.UserID, "name", name)
		d.broadcastLocked()

	case ActionLeave:
		if _, ok := d.users[action.UserID]; !ok {
			return nil
		}
		delete(d.users, action.UserID)
		if s, ok := d.streams[action.UserID]; ok {
			s.close()
			delete(d.streams, action.UserID)
		}
		d.logger.Info(ctx, "User left", "user", action.UserID)
		d.broadcastLocked()

	case ActionPage:
		u, ok := d.users[action.UserID]
		if !ok {
			return errors.ErrUserNotFound(action.UserID)
		}
		u.Route = action.Route
		u.EditingFile = ""
		u.Cursor = nil
		u.LastHeartbeat = now
		d.broadcastLocked()

	case ActionCursor:
		u, ok := d.users[action.UserID]
		if !ok {
			return errors.ErrUserNotFound(action.UserID)
		}
		if action.Cursor == nil {
			return errors.ErrMissingField("cursor")
		}
		cursor := *action.Cursor
		u.EditingFile = action.File
		u.Cursor = &cursor
		u.LastHeartbeat = now

	case ActionCursorClear:
		if u, ok := d.users[action.UserID]; ok {
			u.EditingFile = ""
			u.Cursor = nil
		}

	case ActionPing:
		u, ok := d.users[action.UserID]
		if !ok {
			return errors.ErrUserNotFound(action.UserID)
		}
		u.LastHeartbeat = now

	default:
		return errors.NewProtocolError(errors.ErrCodeUnknownFrame, "unknown presence action", nil).
			WithContext("type", string(action.Type))
	}

	d.metrics.SetPresenceUsers(len(d.users))
	return nil
}

// UpdateLatency folds a latency sample into the user's smoothed estimate.
// Snapshots go out on the first sample and when the estimate moves by more
// than a small threshold.
func (d *Directory) UpdateLatency(userID string, ms float64) error {
	if ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return errors.NewValidationError(errors.ErrCodeMalformedFrame, "latency must be a finite non-negative number")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if !ok {
		return errors.ErrUserNotFound(userID)
	}
	u.LastHeartbeat = d.now()

	if !u.hasLatency {
		u.LatencyMs = ms
		u.hasLatency = true
		d.broadcastLocked()
		return nil
	}

	previous := u.LatencyMs
	u.LatencyMs = latencyAlpha*ms + (1-latencyAlpha)*previous

	threshold := math.Max(latencyMinDeltaMs, previous*latencyRelativeStep)
	if math.Abs(u.LatencyMs-previous) > threshold {
		d.broadcastLocked()
	}
	return nil
}

// Touch records a heartbeat for userID.
func (d *Directory) Touch(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if ok {
		u.LastHeartbeat = d.now()
	}
	return ok
}

// Lookup returns a copy of one user.
func (d *Directory) Lookup(userID string) (User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if !ok {
		return User{}, false
	}
	return u.snapshot(), true
}

// GetUsers returns every user ordered by name, then id.
func (d *Directory) GetUsers() []User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.usersLocked()
}

func (d *Directory) usersLocked() []User {
	users := make([]User, 0, len(d.users))
	for _, u := range d.users {
		users = append(users, u.snapshot())
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
	return users
}

// broadcastLocked pushes a snapshot to every stream. A stream whose buffer
// is full is dropped; its client reconnects and gets a fresh snapshot.
func (d *Directory) broadcastLocked() {
	ev := Event{Type: EventSnapshot, Users: d.usersLocked()}
	for id, s := range d.streams {
		if !s.send(ev) {
			s.close()
			delete(d.streams, id)
			d.logger.Warn(context.Background(), nil, "Dropped slow presence stream", "user", id)
		}
	}
}

// Sweep evicts users whose last heartbeat is older than the stale
// threshold and returns their ids.
func (d *Directory) Sweep(ctx context.Context) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.timing.StaleThreshold)
	var evicted []string
	for id, u := range d.users {
		if u.LastHeartbeat.Before(cutoff) {
			evicted = append(evicted, id)
			delete(d.users, id)
			if s, ok := d.streams[id]; ok {
				s.close()
				delete(d.streams, id)
			}
		}
	}

	if len(evicted) > 0 {
		sort.Strings(evicted)
		d.logger.Info(ctx, "Evicted stale users", "users", evicted)
		d.broadcastLocked()
		d.metrics.SetPresenceUsers(len(d.users))
	}
	return evicted
}

// Start launches the staleness sweep. It is a no-op when already running.
func (d *Directory) Start(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	if d.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(d.timing.CleanupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Sweep(ctx)
			}
		}
	}(d.done)

	return nil
}

// Stop halts the sweep and closes every stream.
func (d *Directory) Stop() {
	d.lifecycleMu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, s := range d.streams {
		s.close()
		delete(d.streams, id)
	}
}
