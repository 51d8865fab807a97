package room

import (
	"encoding/json"
	"fmt"

	"github.com/conneroisu/livedoc/internal/config"
	"github.com/conneroisu/livedoc/internal/crdt"
	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/renderer"
)

// Kind is the leading tag byte of every frame on a room channel.
type Kind byte

const (
	KindSync          Kind = 0
	KindCursor        Kind = 1
	KindPing          Kind = 2
	KindConfig        Kind = 3
	KindRender        Kind = 4
	KindRenderRequest Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindCursor:
		return "cursor"
	case KindPing:
		return "ping"
	case KindConfig:
		return "config"
	case KindRender:
		return "render"
	case KindRenderRequest:
		return "render_request"
	default:
		return "unknown"
	}
}

// Frame is one message on a room channel. The concrete type determines the
// kind tag.
type Frame interface {
	Kind() Kind
}

// SyncFrame carries a CRDT update.
type SyncFrame struct {
	Update crdt.Update
}

// CursorFrame is a caret position. Clients send Offset, Line and Column;
// the server fills in who it belongs to before fanning it out.
type CursorFrame struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
	Color  string `json:"color,omitempty"`
	Offset int    `json:"offset"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// PingFrame is a heartbeat. Timestamp is the client clock in milliseconds
// and is echoed unchanged. LatencyMs is the client's last measured round
// trip, when it has one.
type PingFrame struct {
	Timestamp int64    `json:"ts"`
	LatencyMs *float64 `json:"latencyMs,omitempty"`
}

// ConfigFrame carries the timing constants.
type ConfigFrame struct {
	Timing config.ClientTiming
}

// RenderFrame carries freshly rendered HTML for a document.
type RenderFrame struct {
	Path     string             `json:"path"`
	Title    string             `json:"title,omitempty"`
	HTML     string             `json:"html"`
	Headings []renderer.Heading `json:"headings,omitempty"`
}

// RenderRequestFrame asks the server to render the document now.
type RenderRequestFrame struct{}

func (SyncFrame) Kind() Kind          { return KindSync }
func (CursorFrame) Kind() Kind        { return KindCursor }
func (PingFrame) Kind() Kind          { return KindPing }
func (ConfigFrame) Kind() Kind        { return KindConfig }
func (RenderFrame) Kind() Kind        { return KindRender }
func (RenderRequestFrame) Kind() Kind { return KindRenderRequest }

// EncodeFrame serializes f as its kind tag followed by the payload. SYNC
// payloads use the CRDT binary codec; the others are JSON.
func EncodeFrame(f Frame) ([]byte, error) {
	var payload []byte
	var err error

	switch v := f.(type) {
	case SyncFrame:
		payload = crdt.EncodeUpdate(v.Update)
	case ConfigFrame:
		payload, err = json.Marshal(v.Timing)
	case RenderRequestFrame:
	default:
		payload, err = json.Marshal(f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", f.Kind(), err)
	}

	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, byte(f.Kind()))
	return append(buf, payload...), nil
}

func malformed(kind Kind, err error) error {
	return errors.NewProtocolError(errors.ErrCodeMalformedFrame, "malformed "+kind.String()+" frame", err)
}

// DecodeFrame reads the kind tag and dispatches to the payload decoder for
// that kind.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return nil, errors.NewProtocolError(errors.ErrCodeMalformedFrame, "empty frame", nil)
	}
	kind, payload := Kind(data[0]), data[1:]

	switch kind {
	case KindSync:
		u, err := crdt.DecodeUpdate(payload)
		if err != nil {
			return nil, errors.WrapProtocol(err, errors.ErrCodeInvalidUpdate, "invalid sync update")
		}
		return SyncFrame{Update: u}, nil

	case KindCursor:
		var f CursorFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, malformed(kind, err)
		}
		if f.Offset < 0 || f.Line < 0 || f.Column < 0 {
			return nil, malformed(kind, fmt.Errorf("negative cursor position"))
		}
		return f, nil

	case KindPing:
		var f PingFrame
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &f); err != nil {
				return nil, malformed(kind, err)
			}
		}
		return f, nil

	case KindConfig:
		var f ConfigFrame
		if err := json.Unmarshal(payload, &f.Timing); err != nil {
			return nil, malformed(kind, err)
		}
		return f, nil

	case KindRender:
		var f RenderFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, malformed(kind, err)
		}
		return f, nil

	case KindRenderRequest:
		return RenderRequestFrame{}, nil

	default:
		return nil, errors.NewProtocolError(errors.ErrCodeUnknownFrame, "unknown frame kind", nil).
			WithContext("kind", int(kind))
	}
}
