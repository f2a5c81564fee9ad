package prefs

import "github.com/calvinalkan/bytekv/pkg/kv"

// Editor collects changes and writes them as one batch. Later changes to
// the same key win. An Editor is not safe for concurrent use.
type Editor struct {
	prefs *Prefs
	pairs []kv.KV
}

func (e *Editor) add(key string, value []byte) *Editor {
	e.pairs = append(e.pairs, kv.Put(kv.EncodeString(key), value))

	return e
}

// PutBool queues a 1-byte bool.
func (e *Editor) PutBool(key string, v bool) *Editor { return e.add(key, encodeBool(v)) }

// PutInt32 queues a 4-byte big-endian int32.
func (e *Editor) PutInt32(key string, v int32) *Editor { return e.add(key, encodeInt32(v)) }

// PutInt64 queues an 8-byte big-endian int64.
func (e *Editor) PutInt64(key string, v int64) *Editor { return e.add(key, encodeInt64(v)) }

// PutFloat64 queues the IEEE-754 bits of v.
func (e *Editor) PutFloat64(key string, v float64) *Editor { return e.add(key, encodeFloat64(v)) }

// PutString queues v as UTF-8 bytes.
func (e *Editor) PutString(key, v string) *Editor { return e.add(key, kv.EncodeString(v)) }

// PutBytes queues v unchanged. The slice is not copied until Commit.
func (e *Editor) PutBytes(key string, v []byte) *Editor { return e.add(key, v) }

// Remove queues the removal of key.
func (e *Editor) Remove(key string) *Editor {
	e.pairs = append(e.pairs, kv.Delete(kv.EncodeString(key)))

	return e
}

// Len returns the number of queued changes.
func (e *Editor) Len() int { return len(e.pairs) }

// Commit writes every queued change in one batch and reports success. The
// queue is reset either way.
func (e *Editor) Commit() bool {
	pairs := e.pairs
	e.pairs = e.pairs[:0:0]

	if err := e.prefs.store.PutBatch(pairs...); err != nil {
		e.prefs.onErr(err)

		return false
	}

	return true
}
