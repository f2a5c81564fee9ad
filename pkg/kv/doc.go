// Package kv provides an embedded, single-file key-value store.
//
// The whole store is one flat buffer of records mirrored to a [Backend].
// Each record is a 14-byte big-endian header (hash int64, key length int16,
// value length int32) followed by the key and value bytes. Records are packed
// back to back with no envelope, version tag or checksum.
//
// # Basic Usage
//
//	store := kv.Open(kv.NewRenameBackend("/var/lib/app/settings.kv", kv.FileOptions{Strict: true}))
//
//	err := store.Put([]byte("theme"), []byte("dark"))
//
//	value, ok, err := store.Get([]byte("theme"))
//
//	err = store.PutBatch(
//	    kv.Put([]byte("width"), []byte{0, 0, 3, 32}),
//	    kv.Delete([]byte("legacy")),
//	)
//
// # Persistence
//
// Every mutation builds a complete candidate buffer and hands it to the
// backend. The store adopts the candidate only after the backend reports
// success; on failure it rebuilds its index from the last committed buffer.
//
// Two file backends are provided. [RenameBackend] writes a temp file and
// renames it over the target. [BackupBackend] renames the target aside to
// "<path>.b", rewrites it in place and removes the backup once the new bytes
// are synced. Both leave the file recoverable to exactly the old or the new
// buffer after a crash at any instant.
//
// # Concurrency
//
// A [Store] is safe for concurrent use within one process. It assumes it is
// the only writer of its file; there is no cross-process locking.
//
// # Error Handling
//
// All errors can be classified with [errors.Is]:
//   - [ErrInvalidArgument]: bad key, nothing happened
//   - [ErrCorrupted]: the stored buffer is malformed; the store refuses to serve it
//   - [ErrPersistence]: the backend failed; the store rolled back
//   - [ErrReadOnly]: write against a snapshot store
package kv
