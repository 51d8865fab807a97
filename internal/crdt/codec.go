package crdt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout of an encoded update:
//
//	version  byte
//	sites    uvarint count, then per site: uvarint length + bytes
//	ops      uvarint count, then per op:
//	         kind byte
//	         id   uvarint clock, uvarint site index
//	         insert only: parent (clock, site index), uvarint rune
const codecVersion = 1

// Limits applied while decoding untrusted input.
const (
	maxSites    = 1 << 12
	maxSiteLen  = 256
	maxOpsCount = 1 << 22
)

var ErrMalformedUpdate = errors.New("malformed update")

// EncodeUpdate serializes u.
func EncodeUpdate(u Update) []byte {
	siteIndex := make(map[string]uint64)
	var sites []string
	intern := func(site string) uint64 {
		if idx, ok := siteIndex[site]; ok {
			return idx
		}
		idx := uint64(len(sites))
		siteIndex[site] = idx
		sites = append(sites, site)
		return idx
	}
	for _, op := range u.Ops {
		intern(op.ID.Site)
		if op.Kind == OpInsert {
			intern(op.Parent.Site)
		}
	}

	buf := make([]byte, 0, 16+len(u.Ops)*8)
	buf = append(buf, codecVersion)
	buf = binary.AppendUvarint(buf, uint64(len(sites)))
	for _, site := range sites {
		buf = binary.AppendUvarint(buf, uint64(len(site)))
		buf = append(buf, site...)
	}

	buf = binary.AppendUvarint(buf, uint64(len(u.Ops)))
	for _, op := range u.Ops {
		buf = append(buf, byte(op.Kind))
		buf = binary.AppendUvarint(buf, op.ID.Clock)
		buf = binary.AppendUvarint(buf, siteIndex[op.ID.Site])
		if op.Kind == OpInsert {
			buf = binary.AppendUvarint(buf, op.Parent.Clock)
			buf = binary.AppendUvarint(buf, siteIndex[op.Parent.Site])
			buf = binary.AppendUvarint(buf, uint64(op.Value))
		}
	}
	return buf
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("%w: unexpected end of input", ErrMalformedUpdate)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad varint at %d", ErrMalformedUpdate, r.pos)
	}
	r.pos += n
	return v, nil
}

func (r *reader) bytes(n uint64) ([]byte, error) {
	if n > uint64(len(r.data)-r.pos) {
		return nil, fmt.Errorf("%w: length %d exceeds input", ErrMalformedUpdate, n)
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// DecodeUpdate parses an encoded update. It checks structure only; semantic
// validation happens in Text.Apply.
func DecodeUpdate(data []byte) (Update, error) {
	r := &reader{data: data}

	version, err := r.readByte()
	if err != nil {
		return Update{}, err
	}
	if version != codecVersion {
		return Update{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedUpdate, version)
	}

	siteCount, err := r.uvarint()
	if err != nil {
		return Update{}, err
	}
	if siteCount > maxSites {
		return Update{}, fmt.Errorf("%w: too many sites (%d)", ErrMalformedUpdate, siteCount)
	}
	sites := make([]string, 0, siteCount)
	for i := uint64(0); i < siteCount; i++ {
		n, err := r.uvarint()
		if err != nil {
			return Update{}, err
		}
		if n > maxSiteLen {
			return Update{}, fmt.Errorf("%w: site id too long", ErrMalformedUpdate)
		}
		b, err := r.bytes(n)
		if err != nil {
			return Update{}, err
		}
		sites = append(sites, string(b))
	}

	readID := func() (ID, error) {
		clock, err := r.uvarint()
		if err != nil {
			return ID{}, err
		}
		idx, err := r.uvarint()
		if err != nil {
			return ID{}, err
		}
		if idx >= uint64(len(sites)) {
			return ID{}, fmt.Errorf("%w: site index %d out of range", ErrMalformedUpdate, idx)
		}
		return ID{Clock: clock, Site: sites[idx]}, nil
	}

	opCount, err := r.uvarint()
	if err != nil {
		return Update{}, err
	}
	// Every op takes at least three bytes.
	if opCount > maxOpsCount || opCount > uint64(len(data)) {
		return Update{}, fmt.Errorf("%w: op count %d too large", ErrMalformedUpdate, opCount)
	}

	ops := make([]Op, 0, opCount)
	for i := uint64(0); i < opCount; i++ {
		kind, err := r.readByte()
		if err != nil {
			return Update{}, err
		}
		id, err := readID()
		if err != nil {
			return Update{}, err
		}
		op := Op{Kind: OpKind(kind), ID: id}

		switch op.Kind {
		case OpInsert:
			if op.Parent, err = readID(); err != nil {
				return Update{}, err
			}
			value, err := r.uvarint()
			if err != nil {
				return Update{}, err
			}
			if value > 0x10FFFF {
				return Update{}, fmt.Errorf("%w: rune %d out of range", ErrMalformedUpdate, value)
			}
			op.Value = rune(value)
		case OpDelete:
		default:
			return Update{}, fmt.Errorf("%w: unknown op kind %d", ErrMalformedUpdate, kind)
		}
		ops = append(ops, op)
	}

	if r.pos != len(data) {
		return Update{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedUpdate, len(data)-r.pos)
	}
	return Update{Ops: ops}, nil
}
