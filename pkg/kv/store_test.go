package kv_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/calvinalkan/bytekv/pkg/kv"
)

func Test_Store_Matches_Example_Scenario_When_Putting_And_Removing(t *testing.T) {
	t.Parallel()

	store := kv.Open(kv.NewMemory(nil))

	if err := store.Put([]byte("a"), []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put(a): %v", err)
	}

	if err := store.Put([]byte("b"), []byte{9}); err != nil {
		t.Fatalf("Put(b): %v", err)
	}

	got, ok, err := store.Get([]byte("a"))
	if err != nil || !ok || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("Get(a)=(%v, %v, %v), want=([1 2 3], true, nil)", got, ok, err)
	}

	removed, err := store.Remove([]byte("a"))
	if err != nil {
		t.Fatalf("Remove(a): %v", err)
	}

	if !removed {
		t.Fatal("Remove(a)=false, want=true")
	}

	requireAbsent(t, store, "a")

	got, ok, err = store.Get([]byte("b"))
	if err != nil || !ok || !bytes.Equal(got, []byte{9}) {
		t.Fatalf("Get(b)=(%v, %v, %v), want=([9], true, nil)", got, ok, err)
	}

	if got, want := mustSize(t, store), 14+1+1; got != want {
		t.Fatalf("Size=%d, want=%d", got, want)
	}

	requireInvariants(t, store)
}

func Test_Put_Keeps_Size_And_Positions_When_Value_Length_Is_Unchanged(t *testing.T) {
	t.Parallel()

	store := kv.Open(kv.NewMemory(nil))

	mustPut(t, store, "first", "aaaa")
	mustPut(t, store, "second", "bbbb")
	mustPut(t, store, "third", "cccc")

	sizeBefore := mustSize(t, store)
	positionsBefore := kv.PositionsForTesting(store)

	mustPut(t, store, "second", "XXXX")
	mustPut(t, store, "second", "XXXX")

	if got, want := mustSize(t, store), sizeBefore; got != want {
		t.Fatalf("Size=%d, want=%d", got, want)
	}

	positionsAfter := kv.PositionsForTesting(store)
	for i := range positionsBefore {
		if positionsAfter[i] != positionsBefore[i] {
			t.Fatalf("positions=%v, want=%v", positionsAfter, positionsBefore)
		}
	}

	requireValue(t, store, "first", "aaaa")
	requireValue(t, store, "second", "XXXX")
	requireValue(t, store, "third", "cccc")
	requireInvariants(t, store)
}

func Test_Put_Shifts_Following_Entries_When_Value_Grows_Or_Shrinks(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		newValue string
	}{
		{name: "Grow", newValue: strings.Repeat("g", 100)},
		{name: "Shrink", newValue: "s"},
		{name: "Empty", newValue: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := kv.Open(kv.NewMemory(nil))

			mustPut(t, store, "before", "one")
			mustPut(t, store, "target", "0123456789")
			mustPut(t, store, "after1", "two")
			mustPut(t, store, "after2", "three")

			sizeBefore := mustSize(t, store)

			mustPut(t, store, "target", tc.newValue)

			if got, want := mustSize(t, store), sizeBefore-10+len(tc.newValue); got != want {
				t.Fatalf("Size=%d, want=%d", got, want)
			}

			requireValue(t, store, "before", "one")
			requireValue(t, store, "target", tc.newValue)
			requireValue(t, store, "after1", "two")
			requireValue(t, store, "after2", "three")
			requireInvariants(t, store)

			snap, err := store.Snapshot()
			if err != nil {
				t.Fatalf("Snapshot: %v", err)
			}

			reopened := kv.Open(kv.NewMemory(snap))
			requireValue(t, reopened, "target", tc.newValue)
			requireValue(t, reopened, "after2", "three")
			requireInvariants(t, reopened)
		})
	}
}

func Test_Remove_Shrinks_Buffer_By_Entry_Size_When_Key_Exists(t *testing.T) {
	t.Parallel()

	store := kv.Open(kv.NewMemory(nil))

	mustPut(t, store, "k1", "v1")
	mustPut(t, store, "key2", "value2")
	mustPut(t, store, "k3", "v3")
	mustPut(t, store, "k4", "v4")

	sizeBefore := mustSize(t, store)

	removed, err := store.Remove([]byte("key2"))
	if err != nil || !removed {
		t.Fatalf("Remove(key2)=(%v, %v), want=(true, nil)", removed, err)
	}

	if got, want := mustSize(t, store), sizeBefore-(14+4+6); got != want {
		t.Fatalf("Size=%d, want=%d", got, want)
	}

	requireValue(t, store, "k1", "v1")
	requireAbsent(t, store, "key2")
	requireValue(t, store, "k3", "v3")
	requireValue(t, store, "k4", "v4")
	requireInvariants(t, store)
}

func Test_Remove_Performs_No_Write_When_Key_Is_Absent(t *testing.T) {
	t.Parallel()

	backend := kv.NewMemory(nil)
	store := kv.Open(backend)

	mustPut(t, store, "present", "x")

	writes := backend.Writes()

	removed, err := store.Remove([]byte("missing"))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if removed {
		t.Fatal("Remove(missing)=true, want=false")
	}

	if got, want := backend.Writes(), writes; got != want {
		t.Fatalf("writes=%d, want=%d", got, want)
	}
}

func Test_Snapshot_Is_Unaffected_When_Store_Is_Mutated_Afterwards(t *testing.T) {
	t.Parallel()

	store := kv.Open(kv.NewMemory(nil))

	mustPut(t, store, "a", "1")
	mustPut(t, store, "b", "2")

	snap, err := store.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	frozen := bytes.Clone(snap)

	mustPut(t, store, "a", "111")
	mustPut(t, store, "c", "3")

	if _, err := store.Remove([]byte("b")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if !bytes.Equal(snap, frozen) {
		t.Fatal("snapshot bytes changed after mutation")
	}

	old := kv.OpenSnapshot(snap)
	requireValue(t, old, "a", "1")
	requireValue(t, old, "b", "2")
	requireAbsent(t, old, "c")
}

func Test_Get_Returns_Copy_When_Caller_Mutates_Result(t *testing.T) {
	t.Parallel()

	store := kv.Open(kv.NewMemory(nil))
	mustPut(t, store, "k", "value")

	v, _, err := store.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	v[0] = 'X'

	requireValue(t, store, "k", "value")
}

func Test_Put_Does_Not_Retain_Caller_Slices_When_Caller_Mutates_Them(t *testing.T) {
	t.Parallel()

	store := kv.Open(kv.NewMemory(nil))

	key := []byte("key")
	value := []byte("value")

	if err := store.Put(key, value); err != nil {
		t.Fatalf("Put: %v", err)
	}

	key[0] = 'X'
	value[0] = 'X'

	requireValue(t, store, "key", "value")
	requireAbsent(t, store, "Xey")
}

func Test_Store_Returns_ErrInvalidArgument_When_Key_Is_Empty_Or_Too_Long(t *testing.T) {
	t.Parallel()

	backend := kv.NewMemory(nil)
	store := kv.Open(backend)

	mustPut(t, store, "ok", "v")

	tooLong := bytes.Repeat([]byte("k"), kv.MaxKeyLength+1)

	for _, key := range [][]byte{nil, {}, tooLong} {
		if err := store.Put(key, []byte("v")); !errors.Is(err, kv.ErrInvalidArgument) {
			t.Fatalf("Put(len=%d) error=%v, want=%v", len(key), err, kv.ErrInvalidArgument)
		}

		if _, _, err := store.Get(key); !errors.Is(err, kv.ErrInvalidArgument) {
			t.Fatalf("Get(len=%d) error=%v, want=%v", len(key), err, kv.ErrInvalidArgument)
		}

		if _, err := store.Remove(key); !errors.Is(err, kv.ErrInvalidArgument) {
			t.Fatalf("Remove(len=%d) error=%v, want=%v", len(key), err, kv.ErrInvalidArgument)
		}
	}

	if got, want := backend.Writes(), 1; got != want {
		t.Fatalf("writes=%d, want=%d", got, want)
	}

	requireValue(t, store, "ok", "v")
}

func Test_Put_Accepts_Key_When_Length_Is_Maximum(t *testing.T) {
	t.Parallel()

	store := kv.Open(kv.NewMemory(nil))
	key := bytes.Repeat([]byte{0xAB}, kv.MaxKeyLength)

	if err := store.Put(key, []byte("v")); err != nil {
		t.Fatalf("Put(max key): %v", err)
	}

	got, ok, err := store.Get(key)
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get(max key)=(%q, %v, %v), want=(v, true, nil)", got, ok, err)
	}

	requireInvariants(t, store)
}

func Test_PutBatch_Applies_Last_Write_When_Key_Repeats(t *testing.T) {
	t.Parallel()

	backend := kv.NewMemory(nil)
	store := kv.Open(backend)

	mustPut(t, store, "gone", "x")

	err := store.PutBatch(
		kv.Put([]byte("k"), []byte("1")),
		kv.Put([]byte("k"), []byte("22")),
		kv.Put([]byte("other"), []byte("o")),
		kv.Delete([]byte("gone")),
		kv.Put([]byte("k"), []byte("333")),
		kv.Delete([]byte("never")),
	)
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	if got, want := backend.Writes(), 2; got != want {
		t.Fatalf("writes=%d, want=%d (one per batch)", got, want)
	}

	requireValue(t, store, "k", "333")
	requireValue(t, store, "other", "o")
	requireAbsent(t, store, "gone")
	requireInvariants(t, store)
}

func Test_PutBatch_Treats_Nil_Value_As_Empty_When_Delete_Is_False(t *testing.T) {
	t.Parallel()

	store := kv.Open(kv.NewMemory(nil))

	if err := store.PutBatch(kv.KV{Key: []byte("k")}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	got, ok, err := store.Get([]byte("k"))
	if err != nil || !ok || len(got) != 0 {
		t.Fatalf("Get=(%q, %v, %v), want=(\"\", true, nil)", got, ok, err)
	}
}

func Test_PutBatch_Rejects_Whole_Batch_When_Any_Key_Is_Invalid(t *testing.T) {
	t.Parallel()

	backend := kv.NewMemory(nil)
	store := kv.Open(backend)

	err := store.PutBatch(
		kv.Put([]byte("a"), []byte("1")),
		kv.Put(nil, []byte("2")),
	)
	if !errors.Is(err, kv.ErrInvalidArgument) {
		t.Fatalf("PutBatch error=%v, want=%v", err, kv.ErrInvalidArgument)
	}

	requireAbsent(t, store, "a")

	if got, want := backend.Writes(), 0; got != want {
		t.Fatalf("writes=%d, want=%d", got, want)
	}
}

func Test_PutBatch_Performs_No_Write_When_Batch_Changes_Nothing(t *testing.T) {
	t.Parallel()

	backend := kv.NewMemory(nil)
	store := kv.Open(backend)

	if err := store.PutBatch(); err != nil {
		t.Fatalf("PutBatch(): %v", err)
	}

	if err := store.PutBatch(kv.Delete([]byte("missing"))); err != nil {
		t.Fatalf("PutBatch(delete missing): %v", err)
	}

	if got, want := backend.Writes(), 0; got != want {
		t.Fatalf("writes=%d, want=%d", got, want)
	}
}

func Test_Clear_Commits_Empty_Buffer_When_Store_Has_Entries(t *testing.T) {
	t.Parallel()

	backend := kv.NewMemory(nil)
	store := kv.Open(backend)

	mustPut(t, store, "a", "1")
	mustPut(t, store, "b", "2")

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if got, want := mustSize(t, store), 0; got != want {
		t.Fatalf("Size=%d, want=%d", got, want)
	}

	n, err := store.Len()
	if err != nil || n != 0 {
		t.Fatalf("Len=(%d, %v), want=(0, nil)", n, err)
	}

	data, _ := backend.Read()
	if got, want := len(data), 0; got != want {
		t.Fatalf("backend bytes=%d, want=%d", got, want)
	}

	mustPut(t, store, "c", "3")
	requireValue(t, store, "c", "3")
	requireInvariants(t, store)
}

func Test_Store_Loads_Lazily_When_Opened(t *testing.T) {
	t.Parallel()

	backend := newFlakyBackend(nil)
	store := kv.Open(backend)

	if got, want := backend.reads, 0; got != want {
		t.Fatalf("reads after Open=%d, want=%d", got, want)
	}

	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := store.Load(); err != nil {
		t.Fatalf("second Load: %v", err)
	}

	mustPut(t, store, "a", "1")
	requireValue(t, store, "a", "1")

	if got, want := backend.reads, 1; got != want {
		t.Fatalf("reads=%d, want=%d", got, want)
	}
}

func Test_Store_Retries_Load_When_Previous_Load_Failed(t *testing.T) {
	t.Parallel()

	seed := kv.Open(kv.NewMemory(nil))
	mustPut(t, seed, "k", "v")

	snap, err := seed.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	backend := newFlakyBackend(snap)
	backend.setFailRead(true)

	store := kv.Open(backend)

	_, _, err = store.Get([]byte("k"))
	if !errors.Is(err, kv.ErrPersistence) {
		t.Fatalf("Get error=%v, want=%v", err, kv.ErrPersistence)
	}

	if !errors.Is(err, errBackendDown) {
		t.Fatalf("Get error=%v, want wrapped %v", err, errBackendDown)
	}

	if kv.LoadedForTesting(store) {
		t.Fatal("store loaded after failed read")
	}

	backend.setFailRead(false)

	requireValue(t, store, "k", "v")
}

func Test_Store_Refuses_To_Serve_When_Buffer_Is_Corrupted(t *testing.T) {
	t.Parallel()

	seed := kv.Open(kv.NewMemory(nil))
	mustPut(t, seed, "a", "1")
	mustPut(t, seed, "b", "2")

	snap, err := seed.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	backend := kv.NewMemory(snap[:len(snap)-1])
	store := kv.Open(backend)

	if _, _, err := store.Get([]byte("a")); !errors.Is(err, kv.ErrCorrupted) {
		t.Fatalf("Get error=%v, want=%v", err, kv.ErrCorrupted)
	}

	if err := store.Put([]byte("c"), []byte("3")); !errors.Is(err, kv.ErrCorrupted) {
		t.Fatalf("Put error=%v, want=%v", err, kv.ErrCorrupted)
	}

	if _, err := store.Snapshot(); !errors.Is(err, kv.ErrCorrupted) {
		t.Fatalf("Snapshot error=%v, want=%v", err, kv.ErrCorrupted)
	}

	if got, want := backend.Writes(), 0; got != want {
		t.Fatalf("writes=%d, want=%d", got, want)
	}

	// Clear replaces the corrupted buffer without reading it.
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	mustPut(t, store, "c", "3")
	requireValue(t, store, "c", "3")
	requireInvariants(t, store)
}

func Test_OpenSnapshot_Rejects_Writes_When_Store_Is_ReadOnly(t *testing.T) {
	t.Parallel()

	seed := kv.Open(kv.NewMemory(nil))
	mustPut(t, seed, "a", "1")

	snap, err := seed.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	store := kv.OpenSnapshot(snap)

	if err := store.Put([]byte("b"), []byte("2")); !errors.Is(err, kv.ErrReadOnly) {
		t.Fatalf("Put error=%v, want=%v", err, kv.ErrReadOnly)
	}

	if _, err := store.Remove([]byte("a")); !errors.Is(err, kv.ErrReadOnly) {
		t.Fatalf("Remove error=%v, want=%v", err, kv.ErrReadOnly)
	}

	if err := store.Clear(); !errors.Is(err, kv.ErrReadOnly) {
		t.Fatalf("Clear error=%v, want=%v", err, kv.ErrReadOnly)
	}

	if errors.Is(store.Put([]byte("b"), []byte("2")), kv.ErrPersistence) {
		t.Fatal("read-only rejection must not be reported as a persistence failure")
	}

	requireValue(t, store, "a", "1")
	requireAbsent(t, store, "b")

	// Mutating the source buffer must not leak into the snapshot store.
	for i := range snap {
		snap[i] = 0
	}

	requireValue(t, store, "a", "1")
}

func Test_Keys_Returns_Physical_Order_When_Values_Are_Resized(t *testing.T) {
	t.Parallel()

	store := kv.Open(kv.NewMemory(nil))

	mustPut(t, store, "x", "1")
	mustPut(t, store, "y", "2")
	mustPut(t, store, "z", "3")
	mustPut(t, store, "x", "longer value")

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}

	want := []string{"x", "y", "z"}
	if len(keys) != len(want) {
		t.Fatalf("keys=%q, want=%q", keys, want)
	}

	for i := range want {
		if string(keys[i]) != want[i] {
			t.Fatalf("keys=%q, want=%q", keys, want)
		}
	}
}

func Test_Get_Distinguishes_Keys_When_Hashes_Collide(t *testing.T) {
	t.Parallel()

	// "Aa" and "BB" share a hash: 31*'A'+'a' == 31*'B'+'B'.
	if kv.Hash([]byte("Aa")) != kv.Hash([]byte("BB")) {
		t.Fatal("test keys do not collide")
	}

	store := kv.Open(kv.NewMemory(nil))

	mustPut(t, store, "Aa", "first")
	mustPut(t, store, "BB", "second")
	mustPut(t, store, "Aa", "first-updated")

	requireValue(t, store, "Aa", "first-updated")
	requireValue(t, store, "BB", "second")

	if removed, err := store.Remove([]byte("BB")); err != nil || !removed {
		t.Fatalf("Remove(BB)=(%v, %v), want=(true, nil)", removed, err)
	}

	requireValue(t, store, "Aa", "first-updated")
	requireAbsent(t, store, "BB")
	requireInvariants(t, store)
}

func Test_OpenSnapshot_Remove_Returns_False_When_Key_Is_Absent(t *testing.T) {
	t.Parallel()

	seed := kv.Open(kv.NewMemory(nil))
	mustPut(t, seed, "a", "1")

	snap, err := seed.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	store := kv.OpenSnapshot(snap)

	removed, err := store.Remove([]byte("missing"))
	if err != nil {
		t.Fatalf("Remove error=%v, want=nil", err)
	}

	if removed {
		t.Fatal("Remove reported an absent key as removed")
	}

	// A batch that changes nothing is not a write either.
	if err := store.PutBatch(kv.Delete([]byte("missing"))); err != nil {
		t.Fatalf("PutBatch error=%v, want=nil", err)
	}

	requireValue(t, store, "a", "1")
}
