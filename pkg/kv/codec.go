package kv

import (
	"encoding/binary"
	"math"
)

// Big-endian scalar codec shared by the entry header and the typed
// accessors in package prefs. All functions panic if b is too short; that is
// a caller bug, not a data error.

// PutInt16 writes v to b[0:2].
func PutInt16(b []byte, v int16) { binary.BigEndian.PutUint16(b, uint16(v)) }

// Int16 reads b[0:2].
func Int16(b []byte) int16 { return int16(binary.BigEndian.Uint16(b)) }

// PutInt32 writes v to b[0:4].
func PutInt32(b []byte, v int32) { binary.BigEndian.PutUint32(b, uint32(v)) }

// Int32 reads b[0:4].
func Int32(b []byte) int32 { return int32(binary.BigEndian.Uint32(b)) }

// PutInt64 writes v to b[0:8].
func PutInt64(b []byte, v int64) { binary.BigEndian.PutUint64(b, uint64(v)) }

// Int64 reads b[0:8].
func Int64(b []byte) int64 { return int64(binary.BigEndian.Uint64(b)) }

// PutFloat64 writes the IEEE-754 bit pattern of v to b[0:8].
func PutFloat64(b []byte, v float64) { binary.BigEndian.PutUint64(b, math.Float64bits(v)) }

// Float64 reads b[0:8] as an IEEE-754 bit pattern.
func Float64(b []byte) float64 { return math.Float64frombits(binary.BigEndian.Uint64(b)) }

// PutBool writes 1 or 0 to b[0].
func PutBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

// Bool reads b[0]; any non-zero byte is true.
func Bool(b []byte) bool { return b[0] != 0 }

// EncodeString returns the UTF-8 bytes of s.
func EncodeString(s string) []byte { return []byte(s) }

// DecodeString interprets b as UTF-8. Invalid sequences are kept as-is.
func DecodeString(b []byte) string { return string(b) }

// Hash is the 64-bit polynomial key hash stored in every entry header:
// h = 31*h + b over the key bytes, seeded with 1, with bytes taken as signed
// 8-bit values and int64 wraparound. It is a pre-filter only; equal hashes
// are confirmed by comparing key bytes.
func Hash(key []byte) int64 {
	h := int64(1)
	for _, b := range key {
		h = 31*h + int64(int8(b))
	}

	return h
}
