package kv_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/calvinalkan/bytekv/pkg/kv"
)

var errBackendDown = errors.New("backend down")

// flakyBackend wraps a Memory backend and fails reads or writes on demand.
type flakyBackend struct {
	*kv.Memory

	mu        sync.Mutex
	failRead  bool
	failWrite bool
	reads     int
}

func newFlakyBackend(data []byte) *flakyBackend {
	return &flakyBackend{Memory: kv.NewMemory(data)}
}

func (b *flakyBackend) setFailRead(v bool) {
	b.mu.Lock()
	b.failRead = v
	b.mu.Unlock()
}

func (b *flakyBackend) setFailWrite(v bool) {
	b.mu.Lock()
	b.failWrite = v
	b.mu.Unlock()
}

func (b *flakyBackend) Read() ([]byte, error) {
	b.mu.Lock()
	b.reads++
	fail := b.failRead
	b.mu.Unlock()

	if fail {
		return nil, errBackendDown
	}

	return b.Memory.Read()
}

func (b *flakyBackend) Write(data []byte) error {
	b.mu.Lock()
	fail := b.failWrite
	b.mu.Unlock()

	if fail {
		return errBackendDown
	}

	return b.Memory.Write(data)
}

func mustPut(t *testing.T, s *kv.Store, key, value string) {
	t.Helper()

	if err := s.Put([]byte(key), []byte(value)); err != nil {
		t.Fatalf("Put(%q): %v", key, err)
	}
}

func mustGet(t *testing.T, s *kv.Store, key string) (string, bool) {
	t.Helper()

	v, ok, err := s.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}

	return string(v), ok
}

func requireValue(t *testing.T, s *kv.Store, key, want string) {
	t.Helper()

	got, ok := mustGet(t, s, key)
	if !ok {
		t.Fatalf("Get(%q) absent, want=%q", key, want)
	}

	if got != want {
		t.Fatalf("Get(%q)=%q, want=%q", key, got, want)
	}
}

func requireAbsent(t *testing.T, s *kv.Store, key string) {
	t.Helper()

	if got, ok := mustGet(t, s, key); ok {
		t.Fatalf("Get(%q)=%q, want absent", key, got)
	}
}

func requireInvariants(t *testing.T, s *kv.Store) {
	t.Helper()

	if err := kv.CheckInvariantsForTesting(s); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func mustSize(t *testing.T, s *kv.Store) int {
	t.Helper()

	n, err := s.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}

	return n
}
