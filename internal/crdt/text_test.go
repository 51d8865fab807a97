package crdt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T, site, text string) (*Text, Update) {
	t.Helper()
	replica := NewText(site)
	seed := replica.Insert(0, text)
	return replica, seed
}

func follower(t *testing.T, site string, state Update) *Text {
	t.Helper()
	replica := NewText(site)
	require.NoError(t, replica.Apply(state))
	return replica
}

func TestInsertAndDelete(t *testing.T) {
	text := NewText("a")

	text.Insert(0, "Hello")
	text.Insert(5, " world")
	assert.Equal(t, "Hello world", text.String())
	assert.Equal(t, 11, text.Len())

	text.Delete(0, 6)
	assert.Equal(t, "world", text.String())

	text.Insert(0, "héllo ")
	assert.Equal(t, "héllo world", text.String())
	assert.Equal(t, 11, text.Len(), "length counts runes")

	assert.True(t, text.Delete(50, 2).Empty())
	assert.True(t, text.Insert(3, "").Empty())
}

func TestInsertClampsOffset(t *testing.T) {
	text := NewText("a")
	text.Insert(10, "abc")
	text.Insert(-4, ">")
	assert.Equal(t, ">abc", text.String())
}

func TestRemoteInsertLandsAtOffset(t *testing.T) {
	server, seed := seeded(t, "server", "Hello world")
	a := follower(t, "a", server.State())
	b := follower(t, "b", server.State())
	require.False(t, seed.Empty())

	update := a.Insert(5, "X")
	require.NoError(t, server.Apply(update))
	require.NoError(t, b.Apply(update))

	assert.Equal(t, "HelloX world", a.String())
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, a.String(), server.String())
}

func TestConcurrentInsertsConverge(t *testing.T) {
	base, _ := seeded(t, "base", "abc")
	a := follower(t, "a", base.State())
	b := follower(t, "b", base.State())
	c := follower(t, "c", base.State())

	ua := a.Insert(1, "11")
	ub := b.Insert(1, "22")
	uc := c.Delete(1, 1)

	require.NoError(t, a.Apply(ub))
	require.NoError(t, a.Apply(uc))

	require.NoError(t, b.Apply(uc))
	require.NoError(t, b.Apply(ua))

	require.NoError(t, c.Apply(ua))
	require.NoError(t, c.Apply(ub))

	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, a.String(), c.String())
	assert.Len(t, []rune(a.String()), 6)
	assert.Contains(t, a.String(), "11")
	assert.Contains(t, a.String(), "22")
	assert.NotContains(t, a.String(), "b")
}

func TestApplyIsIdempotent(t *testing.T) {
	a, _ := seeded(t, "a", "text")
	b := follower(t, "b", a.State())

	update := a.Insert(2, "--")
	require.NoError(t, b.Apply(update))
	require.NoError(t, b.Apply(update))
	assert.Equal(t, "te--xt", b.String())

	del := a.Delete(0, 2)
	require.NoError(t, b.Apply(del))
	require.NoError(t, b.Apply(del))
	assert.Equal(t, "--xt", b.String())
	assert.Equal(t, a.String(), b.String())
}

func TestApplyRejectsInvalidUpdates(t *testing.T) {
	text, _ := seeded(t, "a", "abc")
	before := text.String()

	tests := []struct {
		name   string
		update Update
	}{
		{"unknown parent", Update{Ops: []Op{{Kind: OpInsert, ID: ID{99, "x"}, Parent: ID{50, "ghost"}, Value: 'q'}}}},
		{"zero clock", Update{Ops: []Op{{Kind: OpInsert, ID: ID{0, "x"}, Parent: Root, Value: 'q'}}}},
		{"clock not after parent", Update{Ops: []Op{{Kind: OpInsert, ID: ID{2, "x"}, Parent: ID{3, "a"}, Value: 'q'}}}},
		{"unknown delete target", Update{Ops: []Op{{Kind: OpDelete, ID: ID{77, "x"}}}}},
		{"delete root", Update{Ops: []Op{{Kind: OpDelete, ID: Root}}}},
		{"unknown kind", Update{Ops: []Op{{Kind: 9, ID: ID{1, "a"}}}}},
		{"partial batch", Update{Ops: []Op{
			{Kind: OpInsert, ID: ID{10, "x"}, Parent: Root, Value: 'z'},
			{Kind: OpDelete, ID: ID{88, "nobody"}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, text.Apply(tt.update))
			assert.Equal(t, before, text.String(), "rejected updates leave the replica untouched")
		})
	}
}

func TestApplyChainedOpsInOneUpdate(t *testing.T) {
	text := NewText("b")
	update := Update{Ops: []Op{
		{Kind: OpInsert, ID: ID{1, "a"}, Parent: Root, Value: 'h'},
		{Kind: OpInsert, ID: ID{2, "a"}, Parent: ID{1, "a"}, Value: 'i'},
		{Kind: OpDelete, ID: ID{1, "a"}},
	}}
	require.NoError(t, text.Apply(update))
	assert.Equal(t, "i", text.String())
	assert.Equal(t, uint64(2), text.Clock())
}

func TestStateRebuildsTombstones(t *testing.T) {
	a, _ := seeded(t, "a", "abcdef")
	a.Delete(1, 2)
	a.Insert(2, "XY")

	b := follower(t, "b", a.State())
	assert.Equal(t, a.String(), b.String())

	// A delete of an element b only knows as a tombstone still applies.
	later := a.Insert(0, "!")
	require.NoError(t, b.Apply(later))
	assert.Equal(t, a.String(), b.String())
}

func TestReplace(t *testing.T) {
	a, _ := seeded(t, "a", "The quick fox")
	b := follower(t, "b", a.State())

	update := a.Replace("The slow brown fox")
	assert.Equal(t, "The slow brown fox", a.String())

	require.NoError(t, b.Apply(update))
	assert.Equal(t, a.String(), b.String())

	assert.True(t, a.Replace(a.String()).Empty())

	a.Replace("")
	assert.Equal(t, "", a.String())
}

func TestOffset(t *testing.T) {
	text := NewText("a")
	update := text.Insert(0, "abc")
	assert.Equal(t, 1, text.Offset(update.Ops[1].ID))

	text.Delete(1, 1)
	assert.Equal(t, -1, text.Offset(update.Ops[1].ID))
	assert.Equal(t, 1, text.Offset(update.Ops[2].ID))
	assert.Equal(t, -1, text.Offset(ID{42, "zz"}))
}

func TestCodecRoundTrip(t *testing.T) {
	a, _ := seeded(t, "site-a", "héllo")
	a.Delete(0, 1)
	state := a.State()

	decoded, err := DecodeUpdate(EncodeUpdate(state))
	require.NoError(t, err)
	assert.Equal(t, state, decoded)

	b := NewText("site-b")
	require.NoError(t, b.Apply(decoded))
	assert.Equal(t, "éllo", b.String())
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid := EncodeUpdate(NewText("a").Insert(0, "ok"))

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad version", append([]byte{9}, valid[1:]...)},
		{"truncated", valid[:len(valid)-1]},
		{"trailing", append(append([]byte{}, valid...), 0)},
		{"site index out of range", []byte{codecVersion, 0, 1, byte(OpDelete), 1, 0}},
		{"unknown kind", []byte{codecVersion, 1, 1, 'a', 1, 7, 1, 0}},
		{"huge op count", []byte{codecVersion, 0, 0xff, 0xff, 0xff, 0x7f}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeUpdate(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedUpdate))
		})
	}
}

func TestIDOrdering(t *testing.T) {
	assert.True(t, ID{1, "b"}.Less(ID{2, "a"}))
	assert.True(t, ID{2, "a"}.Less(ID{2, "b"}))
	assert.False(t, ID{2, "b"}.Less(ID{2, "b"}))
	assert.True(t, Root.IsRoot())
	assert.Equal(t, "3@x", ID{3, "x"}.String())
}
