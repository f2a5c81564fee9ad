package kv

import (
	"bytes"
	"sync"
)

// Backend persists the raw store buffer.
//
// Read returns the last committed buffer, or empty bytes if nothing was ever
// committed. Write must be all-or-nothing: after it returns, a later Read
// observes either data or the previously committed buffer, never a mix, even
// if the process crashed during Write.
//
// The store never retains a slice passed to Write beyond the call's effects
// on its own state, and never mutates a slice returned by Read.
type Backend interface {
	Read() ([]byte, error)
	Write(data []byte) error
}

// readOnlyBackend is implemented by backends that reject every Write. The
// store checks it up front so read-only writes fail before any splice work.
type readOnlyBackend interface {
	ReadOnly() bool
}

// Memory is an in-process [Backend]. It keeps a private copy of the last
// committed buffer. The zero value is an empty store.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	writes int
}

// NewMemory returns a Memory backend preloaded with a copy of data.
func NewMemory(data []byte) *Memory {
	return &Memory{data: bytes.Clone(data)}
}

// Read returns a copy of the committed buffer.
func (m *Memory) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return []byte{}, nil
	}

	return bytes.Clone(m.data), nil
}

// Write replaces the committed buffer with a copy of data.
func (m *Memory) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = bytes.Clone(data)
	if m.data == nil {
		m.data = []byte{}
	}

	m.writes++

	return nil
}

// Writes returns how many times Write was called.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writes
}

// snapshotBackend serves a fixed buffer and rejects writes.
type snapshotBackend struct {
	data []byte
}

func (s snapshotBackend) Read() ([]byte, error) { return s.data, nil }

func (s snapshotBackend) Write([]byte) error { return ErrReadOnly }

func (s snapshotBackend) ReadOnly() bool { return true }
