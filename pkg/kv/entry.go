package kv

import (
	"fmt"
	"math"
)

const (
	// headerSize is the fixed entry header: hash int64 | keyLen int16 | valLen int32.
	headerSize = 14

	offHash   = 0
	offKeyLen = 8
	offValLen = 10

	// MaxKeyLength is the largest key that fits the signed 16-bit length field.
	MaxKeyLength = math.MaxInt16

	// MaxValueLength is the largest value that fits the signed 32-bit length field.
	MaxValueLength = math.MaxInt32
)

// entry describes one record inside a buffer. Entries are values: shifting
// or resizing a record produces a new entry, never mutates a shared one.
type entry struct {
	pos    int
	hash   int64
	keyLen int
	valLen int
}

func (e entry) keyPos() int   { return e.pos + headerSize }
func (e entry) valuePos() int { return e.pos + headerSize + e.keyLen }
func (e entry) next() int     { return e.pos + headerSize + e.keyLen + e.valLen }
func (e entry) size() int     { return headerSize + e.keyLen + e.valLen }

// key returns the key bytes aliased into buf.
func (e entry) key(buf []byte) []byte {
	return buf[e.keyPos():e.valuePos():e.valuePos()]
}

// value returns the value bytes aliased into buf.
func (e entry) value(buf []byte) []byte {
	return buf[e.valuePos():e.next():e.next()]
}

func (e entry) withPos(pos int) entry {
	e.pos = pos

	return e
}

func (e entry) withValueLen(n int) entry {
	e.valLen = n

	return e
}

// writeHeader encodes the header at dst[e.pos:].
func (e entry) writeHeader(dst []byte) {
	h := dst[e.pos : e.pos+headerSize]
	PutInt64(h[offHash:], e.hash)
	PutInt16(h[offKeyLen:], int16(e.keyLen))
	PutInt32(h[offValLen:], int32(e.valLen))
}

// readEntry decodes the entry starting at pos and checks that it fits buf.
func readEntry(buf []byte, pos int) (entry, error) {
	remaining := len(buf) - pos
	if remaining < headerSize {
		return entry{}, fmt.Errorf("offset %d: %d bytes left, header needs %d: %w",
			pos, remaining, headerSize, ErrCorrupted)
	}

	h := buf[pos : pos+headerSize]
	e := entry{
		pos:    pos,
		hash:   Int64(h[offHash:]),
		keyLen: int(Int16(h[offKeyLen:])),
		valLen: int(Int32(h[offValLen:])),
	}

	if e.keyLen <= 0 {
		return entry{}, fmt.Errorf("offset %d: key length %d: %w", pos, e.keyLen, ErrCorrupted)
	}

	if e.valLen < 0 {
		return entry{}, fmt.Errorf("offset %d: value length %d: %w", pos, e.valLen, ErrCorrupted)
	}

	if e.size() > remaining {
		return entry{}, fmt.Errorf("offset %d: entry needs %d bytes, %d left: %w",
			pos, e.size(), remaining, ErrCorrupted)
	}

	return e, nil
}
