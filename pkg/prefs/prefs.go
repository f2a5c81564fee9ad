// Package prefs layers typed settings access on top of a [kv.Store].
//
// Keys are UTF-8 strings. Values are stored with the big-endian codec of
// package kv: bool in 1 byte, int32 in 4, int64 and float64 in 8, strings as
// raw UTF-8.
//
// Prefs never returns errors. Every failure is passed to an [ErrorHandler]
// and the call falls back to its default value (getters) or reports false
// (mutators). The default handler panics.
package prefs

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/bytekv/pkg/kv"
)

// ErrWrongSize is passed to the [ErrorHandler] when a stored value is too
// short for the requested type.
var ErrWrongSize = errors.New("prefs: wrong value size")

// Storer is the subset of [*kv.Store] used by [Prefs].
type Storer interface {
	Load() error
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	PutBatch(pairs ...kv.KV) error
	Remove(key []byte) (bool, error)
	Clear() error
}

var _ Storer = (*kv.Store)(nil)

// ErrorHandler receives every error Prefs encounters. It may panic to abort
// the call or return to let Prefs fall back to a default.
type ErrorHandler func(err error)

// PanicOnError is the default [ErrorHandler].
func PanicOnError(err error) { panic(err) }

// IgnoreErrors swallows every error.
func IgnoreErrors(error) {}

// Prefs is a typed view of a store. It is safe for concurrent use if the
// underlying [Storer] is.
type Prefs struct {
	store Storer
	onErr ErrorHandler
}

// New returns Prefs over store. A nil onErr means [PanicOnError].
// Panics if store is nil.
func New(store Storer, onErr ErrorHandler) *Prefs {
	if store == nil {
		panic("prefs: store is nil")
	}

	if onErr == nil {
		onErr = PanicOnError
	}

	return &Prefs{store: store, onErr: onErr}
}

// Preload loads the store eagerly and reports whether that worked.
func (p *Prefs) Preload() bool {
	if err := p.store.Load(); err != nil {
		p.onErr(err)

		return false
	}

	return true
}

// lookup returns the value for key if it exists and holds at least size
// bytes. size < 0 disables the length check.
func (p *Prefs) lookup(key string, size int) ([]byte, bool) {
	v, ok, err := p.store.Get(kv.EncodeString(key))
	if err != nil {
		p.onErr(err)

		return nil, false
	}

	if !ok {
		return nil, false
	}

	if size >= 0 && len(v) < size {
		p.onErr(fmt.Errorf("key %q: %d bytes, need %d: %w", key, len(v), size, ErrWrongSize))

		return nil, false
	}

	return v, true
}

// Bool returns the bool stored under key, or def.
func (p *Prefs) Bool(key string, def bool) bool {
	v, ok := p.lookup(key, 1)
	if !ok {
		return def
	}

	return kv.Bool(v)
}

// Int32 returns the int32 stored under key, or def.
func (p *Prefs) Int32(key string, def int32) int32 {
	v, ok := p.lookup(key, 4)
	if !ok {
		return def
	}

	return kv.Int32(v)
}

// Int64 returns the int64 stored under key, or def.
func (p *Prefs) Int64(key string, def int64) int64 {
	v, ok := p.lookup(key, 8)
	if !ok {
		return def
	}

	return kv.Int64(v)
}

// Float64 returns the float64 stored under key, or def.
func (p *Prefs) Float64(key string, def float64) float64 {
	v, ok := p.lookup(key, 8)
	if !ok {
		return def
	}

	return kv.Float64(v)
}

// String returns the string stored under key, or def.
func (p *Prefs) String(key, def string) string {
	v, ok := p.lookup(key, -1)
	if !ok {
		return def
	}

	return kv.DecodeString(v)
}

// Bytes returns a copy of the raw value under key, or nil.
func (p *Prefs) Bytes(key string) []byte {
	v, _ := p.lookup(key, -1)

	return v
}

// Has reports whether key is present. Errors count as absent.
func (p *Prefs) Has(key string) bool {
	_, ok := p.lookup(key, -1)

	return ok
}

func (p *Prefs) put(key string, value []byte) bool {
	if err := p.store.Put(kv.EncodeString(key), value); err != nil {
		p.onErr(err)

		return false
	}

	return true
}

// PutBool stores v under key and reports success.
func (p *Prefs) PutBool(key string, v bool) bool { return p.put(key, encodeBool(v)) }

// PutInt32 stores v under key and reports success.
func (p *Prefs) PutInt32(key string, v int32) bool { return p.put(key, encodeInt32(v)) }

// PutInt64 stores v under key and reports success.
func (p *Prefs) PutInt64(key string, v int64) bool { return p.put(key, encodeInt64(v)) }

// PutFloat64 stores v under key and reports success.
func (p *Prefs) PutFloat64(key string, v float64) bool { return p.put(key, encodeFloat64(v)) }

// PutString stores v under key and reports success.
func (p *Prefs) PutString(key, v string) bool { return p.put(key, kv.EncodeString(v)) }

// PutBytes stores v under key and reports success.
func (p *Prefs) PutBytes(key string, v []byte) bool { return p.put(key, v) }

// Remove deletes key and reports whether it was present.
func (p *Prefs) Remove(key string) bool {
	removed, err := p.store.Remove(kv.EncodeString(key))
	if err != nil {
		p.onErr(err)

		return false
	}

	return removed
}

// Clear drops every key and reports success.
func (p *Prefs) Clear() bool {
	if err := p.store.Clear(); err != nil {
		p.onErr(err)

		return false
	}

	return true
}

// Edit starts a bulk edit. Nothing is written until [Editor.Commit].
func (p *Prefs) Edit() *Editor {
	return &Editor{prefs: p, pairs: make([]kv.KV, 0, 4)}
}

func encodeBool(v bool) []byte {
	b := make([]byte, 1)
	kv.PutBool(b, v)

	return b
}

func encodeInt32(v int32) []byte {
	b := make([]byte, 4)
	kv.PutInt32(b, v)

	return b
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	kv.PutInt64(b, v)

	return b
}

func encodeFloat64(v float64) []byte {
	b := make([]byte, 8)
	kv.PutFloat64(b, v)

	return b
}
