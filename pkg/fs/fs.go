// Package fs provides the filesystem seam used by the bytekv file backends.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the backends perform
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using the [os] package
//   - [Faulty]: testing implementation that injects failures and crashes
//   - [AtomicWriter]: temp-file-and-rename writer built on any [FS]
//
// Example usage:
//
//	fsys := fs.NewReal()
//	w := fs.NewAtomicWriter(fsys)
//	err := w.Write("store.kv", bytes.NewReader(data), w.DefaultOptions())
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [os.File]. Implementations must behave like
// [os.File], including that [File.Fd] returns a valid OS file descriptor until
// the file is closed.
//
// Note: [File] includes [io.Writer] even for read-only handles. Like [os.File],
// implementations should return an error from Write when the file wasn't opened
// for writing.
type File interface {
	io.ReadWriteCloser

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error
}

// FS defines the filesystem operations needed to persist a store file.
//
// All methods mirror their [os] package equivalents but can be intercepted
// for testing with fault injection.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic replaces path with data so that readers observe either
	// the old or the new contents, never a mix.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Rename moves/renames a file. See [os.Rename].
	// Atomic on the same filesystem.
	Rename(oldpath, newpath string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
