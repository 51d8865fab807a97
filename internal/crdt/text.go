// Package crdt implements a replicated growable array (RGA) over runes, the
// shared text replica held by every room and every peer.
//
// Each inserted rune gets an ID made of a Lamport clock and the inserting
// site. An insert names the element it follows (its parent); concurrent
// inserts after the same parent are ordered by descending ID, so every
// replica that has seen the same set of operations holds the same text
// regardless of arrival order. Deletes leave tombstones. Re-applying a known
// insert or deleting a dead element is a no-op.
//
// A Text is not safe for concurrent use; rooms serialize access.
package crdt

import (
	"fmt"
	"strings"
)

// ID identifies one inserted rune.
type ID struct {
	Clock uint64
	Site  string
}

// Root is the virtual element every document starts after.
var Root = ID{}

// IsRoot reports whether id is the document root.
func (id ID) IsRoot() bool {
	return id.Clock == 0 && id.Site == ""
}

// Less orders IDs by clock, then site.
func (id ID) Less(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Site < other.Site
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%s", id.Clock, id.Site)
}

// OpKind tags an operation.
type OpKind uint8

const (
	OpInsert OpKind = 1
	OpDelete OpKind = 2
)

// Op is one insert or delete. For deletes ID names the target.
type Op struct {
	Kind   OpKind
	ID     ID
	Parent ID
	Value  rune
}

// Update is an ordered batch of operations applied atomically.
type Update struct {
	Ops []Op
}

// Empty reports whether the update carries no operations.
func (u Update) Empty() bool {
	return len(u.Ops) == 0
}

type node struct {
	id      ID
	parent  ID
	value   rune
	deleted bool
	next    *node
}

// Text is one replica of a shared document.
type Text struct {
	site    string
	clock   uint64
	head    *node
	nodes   map[ID]*node
	visible int
}

// NewText creates an empty replica owned by site.
func NewText(site string) *Text {
	head := &node{id: Root}
	return &Text{
		site:  site,
		head:  head,
		nodes: map[ID]*node{Root: head},
	}
}

// Site returns the replica's site identifier.
func (t *Text) Site() string {
	return t.site
}

// Clock returns the highest clock the replica has seen.
func (t *Text) Clock() uint64 {
	return t.clock
}

// Len returns the number of visible runes.
func (t *Text) Len() int {
	return t.visible
}

// String returns the visible text.
func (t *Text) String() string {
	var sb strings.Builder
	for n := t.head.next; n != nil; n = n.next {
		if !n.deleted {
			sb.WriteRune(n.value)
		}
	}
	return sb.String()
}

// Contains reports whether the replica has integrated id.
func (t *Text) Contains(id ID) bool {
	_, ok := t.nodes[id]
	return ok
}

// visibleAt returns the node holding the visible rune at offset, or the
// root for offset -1.
func (t *Text) visibleAt(offset int) *node {
	if offset < 0 {
		return t.head
	}
	i := 0
	for n := t.head.next; n != nil; n = n.next {
		if n.deleted {
			continue
		}
		if i == offset {
			return n
		}
		i++
	}
	return nil
}

// Insert inserts s before the visible rune at offset and returns the update
// to broadcast. Offsets are clamped to the text length.
func (t *Text) Insert(offset int, s string) Update {
	if s == "" {
		return Update{}
	}
	if offset < 0 {
		offset = 0
	}
	if offset > t.visible {
		offset = t.visible
	}

	parent := t.visibleAt(offset - 1).id
	ops := make([]Op, 0, len(s))
	for _, r := range s {
		t.clock++
		op := Op{Kind: OpInsert, ID: ID{Clock: t.clock, Site: t.site}, Parent: parent, Value: r}
		t.integrateInsert(op)
		ops = append(ops, op)
		parent = op.ID
	}
	return Update{Ops: ops}
}

// Delete removes length visible runes starting at offset and returns the
// update to broadcast.
func (t *Text) Delete(offset, length int) Update {
	if length <= 0 || offset < 0 || offset >= t.visible {
		return Update{}
	}

	var targets []ID
	i := 0
	for n := t.head.next; n != nil && len(targets) < length; n = n.next {
		if n.deleted {
			continue
		}
		if i >= offset {
			targets = append(targets, n.id)
		}
		i++
	}

	ops := make([]Op, 0, len(targets))
	for _, id := range targets {
		op := Op{Kind: OpDelete, ID: id}
		t.integrateDelete(op)
		ops = append(ops, op)
	}
	return Update{Ops: ops}
}

// Replace rewrites the text to s with a single delete and insert around the
// longest common prefix and suffix.
func (t *Text) Replace(s string) Update {
	current := []rune(t.String())
	target := []rune(s)

	prefix := 0
	for prefix < len(current) && prefix < len(target) && current[prefix] == target[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(current)-prefix && suffix < len(target)-prefix &&
		current[len(current)-1-suffix] == target[len(target)-1-suffix] {
		suffix++
	}

	del := t.Delete(prefix, len(current)-prefix-suffix)
	ins := t.Insert(prefix, string(target[prefix:len(target)-suffix]))
	return Update{Ops: append(del.Ops, ins.Ops...)}
}

// Apply validates and integrates a remote update. Either every operation is
// applied or none is.
func (t *Text) Apply(u Update) error {
	if err := t.validate(u); err != nil {
		return err
	}
	for _, op := range u.Ops {
		switch op.Kind {
		case OpInsert:
			t.integrateInsert(op)
		case OpDelete:
			t.integrateDelete(op)
		}
	}
	return nil
}

func (t *Text) validate(u Update) error {
	pending := make(map[ID]uint64)
	clockOf := func(id ID) (uint64, bool) {
		if n, ok := t.nodes[id]; ok {
			return n.id.Clock, true
		}
		c, ok := pending[id]
		return c, ok
	}

	for i, op := range u.Ops {
		switch op.Kind {
		case OpInsert:
			if op.ID.IsRoot() || op.ID.Clock == 0 {
				return fmt.Errorf("op %d: insert with zero clock", i)
			}
			parentClock, ok := clockOf(op.Parent)
			if !ok {
				return fmt.Errorf("op %d: unknown parent %s", i, op.Parent)
			}
			if !op.Parent.IsRoot() && op.ID.Clock <= parentClock {
				return fmt.Errorf("op %d: clock %d not after parent %s", i, op.ID.Clock, op.Parent)
			}
			if op.Value < 0 || op.Value > 0x10FFFF {
				return fmt.Errorf("op %d: invalid rune %d", i, op.Value)
			}
			pending[op.ID] = op.ID.Clock
		case OpDelete:
			if op.ID.IsRoot() {
				return fmt.Errorf("op %d: cannot delete root", i)
			}
			if _, ok := clockOf(op.ID); !ok {
				return fmt.Errorf("op %d: unknown delete target %s", i, op.ID)
			}
		default:
			return fmt.Errorf("op %d: unknown kind %d", i, op.Kind)
		}
	}
	return nil
}

func (t *Text) integrateInsert(op Op) {
	if _, exists := t.nodes[op.ID]; exists {
		return
	}
	if op.ID.Clock > t.clock {
		t.clock = op.ID.Clock
	}

	prev := t.nodes[op.Parent]
	for prev.next != nil && op.ID.Less(prev.next.id) {
		prev = prev.next
	}

	n := &node{id: op.ID, parent: op.Parent, value: op.Value, next: prev.next}
	prev.next = n
	t.nodes[op.ID] = n
	t.visible++
}

func (t *Text) integrateDelete(op Op) {
	n, ok := t.nodes[op.ID]
	if !ok || n.deleted {
		return
	}
	n.deleted = true
	t.visible--
}

// State returns an update that rebuilds this replica from empty: every
// element in document order followed by the tombstones.
func (t *Text) State() Update {
	ops := make([]Op, 0, len(t.nodes))
	var deletes []Op
	for n := t.head.next; n != nil; n = n.next {
		ops = append(ops, Op{Kind: OpInsert, ID: n.id, Parent: n.parent, Value: n.value})
		if n.deleted {
			deletes = append(deletes, Op{Kind: OpDelete, ID: n.id})
		}
	}
	return Update{Ops: append(ops, deletes...)}
}

// Offset returns the visible offset of id, or -1 when it is unknown or
// deleted.
func (t *Text) Offset(id ID) int {
	i := 0
	for n := t.head.next; n != nil; n = n.next {
		if n.id == id {
			if n.deleted {
				return -1
			}
			return i
		}
		if !n.deleted {
			i++
		}
	}
	return -1
}
