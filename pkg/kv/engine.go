package kv

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// KV is one element of a [Store.PutBatch]. Delete removes Key instead of
// storing Value.
type KV struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Put returns a batch element that stores value under key.
func Put(key, value []byte) KV { return KV{Key: key, Value: value} }

// Delete returns a batch element that removes key.
func Delete(key []byte) KV { return KV{Key: key, Delete: true} }

// engine is the index and buffer core. It is not safe for concurrent use;
// [Store] serializes access to it.
//
// entries and buf are the last committed state. They are replaced wholesale
// after a successful commit and never modified in place, so slices handed out
// by earlier calls stay valid. Every adopted pair is also published to
// current, which readers load without taking the writer lock.
type engine struct {
	backend Backend
	log     zerolog.Logger

	loaded  bool
	entries []entry
	buf     []byte

	current atomic.Pointer[committed]
}

// committed is an immutable published state.
type committed struct {
	entries []entry
	buf     []byte
}

func (c *committed) get(key []byte) ([]byte, bool) {
	i := find(c.entries, c.buf, key, Hash(key))
	if i < 0 {
		return nil, false
	}

	return c.entries[i].value(c.buf), true
}

// adopt makes entries and buf the committed state and publishes it.
func (e *engine) adopt(entries []entry, buf []byte) {
	e.entries, e.buf, e.loaded = entries, buf, true
	e.current.Store(&committed{entries: entries, buf: buf})
}

// unload drops the committed state. Readers fall back to the writer lock
// and retry the load.
func (e *engine) unload() {
	e.entries, e.buf, e.loaded = nil, nil, false
	e.current.Store(nil)
}

func (e *engine) readOnly() bool {
	ro, ok := e.backend.(readOnlyBackend)

	return ok && ro.ReadOnly()
}

// load reads and indexes the backend buffer on first use. A failed load
// leaves the engine unloaded so the next call retries it.
func (e *engine) load() error {
	if e.loaded {
		return nil
	}

	data, err := e.backend.Read()
	if err != nil {
		return fmt.Errorf("%w: read: %w", ErrPersistence, err)
	}

	entries, err := parse(data)
	if err != nil {
		e.log.Warn().Err(err).Int("bytes", len(data)).Msg("refusing corrupted buffer")

		return err
	}

	if data == nil {
		data = []byte{}
	}

	e.adopt(entries, data)

	e.log.Debug().Int("entries", len(entries)).Int("bytes", len(data)).Msg("loaded")

	return nil
}

// find returns the index of key, or -1. The hash is compared first and the
// key bytes only on a hash match.
func find(entries []entry, buf, key []byte, hash int64) int {
	for i, ent := range entries {
		if ent.hash == hash && ent.keyLen == len(key) && bytes.Equal(ent.key(buf), key) {
			return i
		}
	}

	return -1
}

// apply runs ops against a candidate built from the committed state and
// commits the result once. It reports whether anything changed; when nothing
// did, no I/O is performed and a read-only backend is not an error.
func (e *engine) apply(ops []KV) (bool, error) {
	for _, op := range ops {
		if err := checkKey(op.Key); err != nil {
			return false, err
		}

		if !op.Delete && len(op.Value) > MaxValueLength {
			return false, fmt.Errorf("value length %d > %d: %w", len(op.Value), MaxValueLength, ErrInvalidArgument)
		}
	}

	c := candidate{entries: e.entries, buf: e.buf}
	for _, op := range ops {
		c.apply(op)
	}

	if !c.changed {
		return false, nil
	}

	if e.readOnly() {
		return false, ErrReadOnly
	}

	return true, e.commit(c.entries, c.buf)
}

func (e *engine) clear() error {
	if e.readOnly() {
		return ErrReadOnly
	}

	return e.commit(nil, []byte{})
}

// commit hands buf to the backend and adopts it on success. On failure the
// index is rebuilt from the last committed buffer, so observable state is
// exactly as before the attempt.
func (e *engine) commit(entries []entry, buf []byte) error {
	err := e.backend.Write(buf)
	if err == nil {
		e.adopt(entries, buf)
		e.log.Debug().Int("entries", len(entries)).Int("bytes", len(buf)).Msg("committed")

		return nil
	}

	restored, parseErr := parse(e.buf)
	if parseErr != nil {
		// Unreachable unless the committed buffer was modified behind our back.
		e.unload()
	} else {
		e.entries = restored
	}

	e.log.Warn().Err(err).Int("bytes", len(buf)).Int("restored_entries", len(e.entries)).
		Msg("commit failed, rolled back")

	if errors.Is(err, ErrReadOnly) {
		return err
	}

	return fmt.Errorf("%w: write %d bytes: %w", ErrPersistence, len(buf), err)
}

// checkInvariants verifies the committed state: entries are contiguous in
// list order starting at 0, the last one ends at len(buf), every header in buf
// matches its descriptor and no key appears twice.
func (e *engine) checkInvariants() error {
	pos := 0
	seen := make(map[string]struct{}, len(e.entries))

	for i, ent := range e.entries {
		if ent.pos != pos {
			return fmt.Errorf("entry %d: position %d, want %d", i, ent.pos, pos)
		}

		if ent.keyLen < 1 || ent.keyLen > MaxKeyLength || ent.valLen < 0 {
			return fmt.Errorf("entry %d: key length %d, value length %d", i, ent.keyLen, ent.valLen)
		}

		onDisk, err := readEntry(e.buf, ent.pos)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}

		if onDisk != ent {
			return fmt.Errorf("entry %d: header %+v, descriptor %+v", i, onDisk, ent)
		}

		key := ent.key(e.buf)
		if Hash(key) != ent.hash {
			return fmt.Errorf("entry %d: stale hash", i)
		}

		if _, dup := seen[string(key)]; dup {
			return fmt.Errorf("entry %d: duplicate key %q", i, key)
		}

		seen[string(key)] = struct{}{}
		pos = ent.next()
	}

	if pos != len(e.buf) {
		return fmt.Errorf("entries end at %d, buffer length %d", pos, len(e.buf))
	}

	return nil
}

func checkKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("empty key: %w", ErrInvalidArgument)
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("key length %d > %d: %w", len(key), MaxKeyLength, ErrInvalidArgument)
	}

	return nil
}

// candidate accumulates splices on top of a committed state. The committed
// entries slice is shared until the first structural change, then cloned;
// every splice allocates a fresh buffer.
type candidate struct {
	entries []entry
	buf     []byte
	owned   bool
	changed bool
}

func (c *candidate) own() {
	if !c.owned {
		c.entries = slices.Clone(c.entries)
		c.owned = true
	}
}

func (c *candidate) apply(op KV) {
	hash := Hash(op.Key)
	i := find(c.entries, c.buf, op.Key, hash)

	switch {
	case i >= 0 && op.Delete:
		c.remove(i)
	case i >= 0:
		c.replace(i, op.Value)
	case op.Delete:
		return
	default:
		c.add(op.Key, hash, op.Value)
	}

	c.changed = true
}

// add appends a new record at the end of the buffer.
func (c *candidate) add(key []byte, hash int64, value []byte) {
	ent := entry{pos: len(c.buf), hash: hash, keyLen: len(key), valLen: len(value)}

	buf := make([]byte, ent.next())
	copy(buf, c.buf)
	ent.writeHeader(buf)
	copy(buf[ent.keyPos():], key)
	copy(buf[ent.valuePos():], value)

	c.own()
	c.entries = append(c.entries, ent)
	c.buf = buf
}

// replace swaps the value of entry i. A same-length value is overwritten in a
// copy of the buffer; otherwise every following entry shifts by the length
// difference.
func (c *candidate) replace(i int, value []byte) {
	old := c.entries[i]

	if len(value) == old.valLen {
		buf := bytes.Clone(c.buf)
		copy(buf[old.valuePos():], value)
		c.buf = buf

		return
	}

	updated := old.withValueLen(len(value))

	buf := make([]byte, len(c.buf)-old.valLen+len(value))
	copy(buf, c.buf[:old.valuePos()])
	updated.writeHeader(buf)
	copy(buf[updated.valuePos():], value)
	copy(buf[updated.next():], c.buf[old.next():])

	c.own()
	c.entries[i] = updated

	prev := updated
	for j := i + 1; j < len(c.entries); j++ {
		c.entries[j] = c.entries[j].withPos(prev.next())
		prev = c.entries[j]
	}

	c.buf = buf
}

// remove cuts entry i out of the buffer and shifts every following entry
// back by its size.
func (c *candidate) remove(i int) {
	old := c.entries[i]

	buf := make([]byte, len(c.buf)-old.size())
	copy(buf, c.buf[:old.pos])
	copy(buf[old.pos:], c.buf[old.next():])

	c.own()
	c.entries = slices.Delete(c.entries, i, i+1)

	pos := old.pos
	for j := i; j < len(c.entries); j++ {
		c.entries[j] = c.entries[j].withPos(pos)
		pos = c.entries[j].next()
	}

	c.buf = buf
}
