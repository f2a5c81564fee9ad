package kv

import "errors"

// Sentinel errors returned by kv operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, kv.ErrCorrupted) {
//	    // the file on disk is not a valid store
//	}
var (
	// ErrInvalidArgument indicates an empty key or a key longer than
	// [MaxKeyLength]. Nothing was changed and no I/O was performed.
	//
	// This is a programming error.
	ErrInvalidArgument = errors.New("kv: invalid argument")

	// ErrCorrupted indicates the stored buffer could not be decoded
	// (truncated header, non-positive key length, negative value length or
	// trailing bytes).
	//
	// The store refuses to serve any operation until a load succeeds.
	ErrCorrupted = errors.New("kv: corrupted")

	// ErrPersistence indicates the backend could not durably commit a new
	// buffer. The underlying I/O error is joined and reachable via
	// [errors.Is] and [errors.As].
	//
	// The in-memory state has been rolled back to the last committed buffer.
	ErrPersistence = errors.New("kv: persistence failure")

	// ErrReadOnly indicates a write was attempted against a snapshot-backed
	// store. See [OpenSnapshot].
	ErrReadOnly = errors.New("kv: read-only")
)
