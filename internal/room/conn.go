package room

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/logging"
	"github.com/conneroisu/livedoc/internal/metrics"
)

// Close codes sent when a join is refused or a room goes away.
const (
	StatusBadRequest   websocket.StatusCode = 4400
	StatusRoomNotFound websocket.StatusCode = 4404
	StatusRoomClosing  websocket.StatusCode = 4409
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	readLimit    = 4 << 20
)

type outbound struct {
	kind Kind
	data []byte
}

// Conn is one peer's channel into a room.
type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	room   *Room

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once

	cursorMu   sync.Mutex
	lastCursor time.Time

	metrics *metrics.Metrics
}

func newConn(ws *websocket.Conn, r *Room, userID string, m *metrics.Metrics) *Conn {
	return &Conn{
		id:      uuid.NewString(),
		userID:  userID,
		ws:      ws,
		room:    r,
		send:    make(chan outbound, sendBuffer),
		done:    make(chan struct{}),
		metrics: m,
	}
}

// enqueue queues a frame without blocking. A peer that cannot keep up is
// disconnected; it rejoins and bootstraps from the full state.
func (c *Conn) enqueue(kind Kind, data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- outbound{kind: kind, data: data}:
	default:
		c.metrics.FrameDropped("slow_consumer")
		c.closeAsync(websocket.StatusPolicyViolation, "send buffer full")
	}
}

// allowCursor applies the per-connection cursor throttle.
func (c *Conn) allowCursor(now time.Time, interval time.Duration) bool {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	if !c.lastCursor.IsZero() && now.Sub(c.lastCursor) < interval {
		return false
	}
	c.lastCursor = now
	return true
}

func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close(code, reason)
	})
}

// closeAsync claims the close code now and runs the close handshake in the
// background, for callers that must not block on the peer.
func (c *Conn) closeAsync(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() { _ = c.ws.Close(code, reason) }()
	})
}

// writePump drains the send queue and keeps the connection alive with
// protocol pings.
func (c *Conn) writePump(ctx context.Context, keepalive time.Duration) {
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(writeCtx, websocket.MessageBinary, msg.data)
			cancel()
			if err != nil {
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
			c.metrics.Frame(msg.kind.String(), metrics.DirectionOut)

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.close(websocket.StatusGoingAway, "ping failed")
				return
			}

		case <-c.done:
			return
		case <-ctx.Done():
			c.close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

// readPump reads frames until the connection drops. Protocol errors are
// logged and the frame dropped; the connection stays open.
func (c *Conn) readPump(ctx context.Context) {
	m := c.room.manager
	c.ws.SetReadLimit(readLimit)

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && status != -1 {
				m.logger.Debug(ctx, "Room connection closed", "conn", c.id, "status", int(status))
			}
			return
		}
		if typ != websocket.MessageBinary {
			m.metrics.FrameDropped("text_message")
			m.logger.Warn(ctx, nil, "Dropped non-binary frame", "conn", c.id,
				"payload", logging.SanitizeForLog(string(data)))
			continue
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			m.metrics.FrameDropped("malformed")
			m.logger.Warn(ctx, err, "Dropped malformed frame", "conn", c.id, "path", c.room.path)
			continue
		}
		m.metrics.Frame(frame.Kind().String(), metrics.DirectionIn)

		if err := c.room.handleFrame(ctx, c, data, frame); err != nil {
			reason := "rejected"
			if errors.IsProtocol(err) {
				reason = "protocol"
			}
			m.metrics.FrameDropped(reason)
			m.logger.Warn(ctx, err, "Dropped frame", "conn", c.id, "kind", frame.Kind().String())
		}
	}
}
