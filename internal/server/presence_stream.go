package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/presence"
)

// handlePresenceStream serves ?user= presence events as a text/event-stream.
// The stream opens with a reconnect hint, then the timing config and a full
// snapshot; every later change sends a new snapshot. Comment lines keep
// intermediaries from timing the stream out. They are not heartbeats: a
// client stays present only by sending actions or pings.
func (s *Server) handlePresenceStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user")
	if userID == "" {
		s.writeError(w, r, errors.ErrMissingField("user"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, errors.NewInternalError(errors.ErrCodeInternalError, "streaming unsupported", nil))
		return
	}

	stream, err := s.presence.AddStream(userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer s.presence.RemoveStream(userID, stream)

	timing := s.config.Timing
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", timing.ReconnectDelay.Milliseconds()); err != nil {
		return
	}
	flusher.Flush()
	s.logger.Debug(ctx, "Presence stream opened", "user", userID)

	keepalive := time.NewTicker(timing.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case ev := <-stream.Events():
			if err := writeEvent(w, ev); err != nil {
				s.logger.Debug(ctx, "Presence stream write failed", "user", userID, "error", err)
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-stream.Done():
			s.logger.Debug(ctx, "Presence stream replaced or stopped", "user", userID)
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev presence.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
