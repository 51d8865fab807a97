package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/livedoc/internal/config"
	"github.com/conneroisu/livedoc/internal/crdt"
	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/renderer"
)

func TestFrameRoundTrip(t *testing.T) {
	latency := 42.5
	update := crdt.NewText("a").Insert(0, "hi")

	frames := []Frame{
		SyncFrame{Update: update},
		CursorFrame{UserID: "u1", Name: "Ada", Color: "#ff0000", Offset: 3, Line: 1, Column: 4},
		PingFrame{Timestamp: 1700000000000, LatencyMs: &latency},
		PingFrame{Timestamp: 5},
		ConfigFrame{Timing: config.DefaultTiming().Client()},
		RenderFrame{Path: "/docs/a.md", Title: "A", HTML: "<h1>A</h1>", Headings: []renderer.Heading{{Level: 1, ID: "a", Text: "A"}}},
		RenderRequestFrame{},
	}

	for _, f := range frames {
		t.Run(f.Kind().String(), func(t *testing.T) {
			data, err := EncodeFrame(f)
			require.NoError(t, err)
			assert.Equal(t, byte(f.Kind()), data[0])

			decoded, err := DecodeFrame(data)
			require.NoError(t, err)
			assert.Equal(t, f, decoded)
		})
	}
}

func TestRenderRequestIsTagOnly(t *testing.T) {
	data, err := EncodeFrame(RenderRequestFrame{})
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(KindRenderRequest)}, data)
}

func TestEmptyPingPayload(t *testing.T) {
	f, err := DecodeFrame([]byte{byte(KindPing)})
	require.NoError(t, err)
	assert.Equal(t, PingFrame{}, f)
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		code string
	}{
		{"empty", nil, errors.ErrCodeMalformedFrame},
		{"unknown kind", []byte{42, '{', '}'}, errors.ErrCodeUnknownFrame},
		{"bad sync", []byte{byte(KindSync), 9, 9}, errors.ErrCodeInvalidUpdate},
		{"bad cursor json", append([]byte{byte(KindCursor)}, `{"offset":`...), errors.ErrCodeMalformedFrame},
		{"negative cursor", append([]byte{byte(KindCursor)}, `{"offset":-1}`...), errors.ErrCodeMalformedFrame},
		{"bad ping", append([]byte{byte(KindPing)}, `nope`...), errors.ErrCodeMalformedFrame},
		{"bad render", append([]byte{byte(KindRender)}, `[`...), errors.ErrCodeMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.data)
			require.Error(t, err)
			assert.True(t, errors.IsProtocol(err))
			assert.Equal(t, tt.code, errors.Code(err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "sync", KindSync.String())
	assert.Equal(t, "render_request", KindRenderRequest.String())
	assert.Equal(t, "unknown", Kind(77).String())
}
