package kv

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// Store is an embedded key-value store over one flat buffer mirrored to a
// [Backend].
//
// All methods are safe for concurrent use. Mutations are totally ordered by
// one writer lock; a reader sees either the state before or after a
// concurrent mutation, never a partial splice. Once the buffer is loaded,
// readers never wait for a writer's backend I/O: they read the last
// published committed state. The buffer is loaded from the backend on first
// use, under the writer lock.
//
// Every mutation hands a complete new buffer to the backend. If the backend
// fails, the store rolls back to the last committed buffer and returns an
// error wrapping [ErrPersistence].
type Store struct {
	mu sync.Mutex // serializes load and mutations
	e  engine
}

// Option configures a [Store].
type Option func(*Store)

// WithLogger sets the logger for load, commit and rollback events. The
// default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.e.log = log
	}
}

// Open returns a store over backend. It performs no I/O; the backend is read
// on the first call that needs the data, or explicitly via [Store.Load].
//
// Panics if backend is nil.
func Open(backend Backend, opts ...Option) *Store {
	if backend == nil {
		panic("kv: backend is nil")
	}

	s := &Store{e: engine{backend: backend, log: zerolog.Nop()}}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// OpenSnapshot returns a read-only store over a copy of data, typically the
// result of [Store.Snapshot]. Every write returns [ErrReadOnly].
//
// A malformed data buffer is reported by the first read as [ErrCorrupted].
func OpenSnapshot(data []byte, opts ...Option) *Store {
	data = bytes.Clone(data)
	if data == nil {
		data = []byte{}
	}

	return Open(snapshotBackend{data: data}, opts...)
}

// Load reads and indexes the backend buffer if that has not happened yet.
//
// It returns an error wrapping [ErrCorrupted] if the buffer is malformed, or
// [ErrPersistence] if the backend could not be read. A failed load is retried
// by the next call.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.e.load()
}

// Get returns a copy of the value stored under key. Absence is reported as
// ok == false with a nil error.
func (s *Store) Get(key []byte) (value []byte, ok bool, err error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}

	c, err := s.committed()
	if err != nil {
		return nil, false, err
	}

	v, ok := c.get(key)
	if !ok {
		return nil, false, nil
	}

	return bytes.Clone(v), true, nil
}

// Has reports whether key is present.
func (s *Store) Has(key []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}

	c, err := s.committed()
	if err != nil {
		return false, err
	}

	_, ok := c.get(key)

	return ok, nil
}

// committed returns the published state, loading it under the writer lock
// on first use.
func (s *Store) committed() (*committed, error) {
	if c := s.e.current.Load(); c != nil {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.e.load(); err != nil {
		return nil, err
	}

	return s.e.current.Load(), nil
}

// Put stores value under key, replacing any previous value.
//
// Returns [ErrInvalidArgument] if key is empty or longer than
// [MaxKeyLength], without touching the backend.
func (s *Store) Put(key, value []byte) error {
	return s.PutBatch(KV{Key: key, Value: value})
}

// PutBatch applies pairs in order and commits the result once. Later pairs
// win over earlier ones for the same key; a pair with Delete set removes its
// key. The batch is all-or-nothing: either every pair is durable or none is.
//
// Every key is validated before anything is applied. A batch that changes
// nothing (empty, or only removals of absent keys) performs no I/O.
func (s *Store) PutBatch(pairs ...KV) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.e.load(); err != nil {
		return err
	}

	_, err := s.e.apply(pairs)

	return err
}

// Remove deletes key and reports whether it was present. Removing an absent
// key performs no I/O and succeeds even on a read-only store.
func (s *Store) Remove(key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.e.load(); err != nil {
		return false, err
	}

	return s.e.apply([]KV{{Key: key, Delete: true}})
}

// Clear drops every entry and commits an empty buffer, even if the store is
// already empty.
//
// Clear does not load the previous buffer, so it also recovers a store whose
// backend holds a corrupted buffer.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.e.loaded {
		if s.e.readOnly() {
			return ErrReadOnly
		}

		// Not published: readers keep loading under the lock until the
		// empty buffer is committed.
		s.e.entries, s.e.buf, s.e.loaded = nil, []byte{}, true

		err := s.e.clear()
		if err != nil {
			s.e.unload()
		}

		return err
	}

	return s.e.clear()
}

// Snapshot returns a copy of the committed buffer. The copy is in the
// on-disk format and can be passed to [OpenSnapshot] or [Walk].
func (s *Store) Snapshot() ([]byte, error) {
	c, err := s.committed()
	if err != nil {
		return nil, err
	}

	return bytes.Clone(c.buf), nil
}

// Len returns the number of entries.
func (s *Store) Len() (int, error) {
	c, err := s.committed()
	if err != nil {
		return 0, err
	}

	return len(c.entries), nil
}

// Size returns the committed buffer length in bytes.
func (s *Store) Size() (int, error) {
	c, err := s.committed()
	if err != nil {
		return 0, err
	}

	return len(c.buf), nil
}

// Keys returns a copy of every key in physical (insertion) order. The order
// carries no meaning beyond that.
func (s *Store) Keys() ([][]byte, error) {
	c, err := s.committed()
	if err != nil {
		return nil, err
	}

	keys := make([][]byte, 0, len(c.entries))
	for _, ent := range c.entries {
		keys = append(keys, bytes.Clone(ent.key(c.buf)))
	}

	return keys, nil
}
