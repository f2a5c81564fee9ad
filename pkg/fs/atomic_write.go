package fs

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
)

// ErrAtomicWriteDirSync indicates the parent directory could not be synced after rename.
//
// When returned, the new file is in place but durability is not guaranteed.
// Callers can detect this with errors.Is(err, ErrAtomicWriteDirSync).
var ErrAtomicWriteDirSync = errors.New("dir sync")

// AtomicWriter writes files atomically using rename.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter that uses the given filesystem.
// Panics if fs is nil.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// AtomicWriteOptions configures Write behavior.
type AtomicWriteOptions struct {
	// SyncFile forces the temp file's data to stable storage before the
	// rename (see [Datasync]). Without it the rename is still atomic for
	// running processes but may be reordered before the data on power loss.
	SyncFile bool

	// SyncDir controls whether the parent directory is synced after rename.
	SyncDir bool

	// Perm specifies the file permissions used to create the temp file.
	// Must be non-zero.
	Perm os.FileMode
}

// Write writes data from r to path atomically.
//
// It writes to a temp file named "<base>.t<random>" in the same directory,
// optionally syncs it, renames it over path, then optionally syncs the parent
// directory. The temp file is removed on every exit path.
//
// If the directory sync step fails, the returned error satisfies
// errors.Is(err, ErrAtomicWriteDirSync).
func (w *AtomicWriter) Write(path string, reader io.Reader, opts AtomicWriteOptions) error {
	if reader == nil {
		panic("reader is nil")
	}

	return w.WriteFunc(path, func(dst io.Writer) error {
		_, err := io.Copy(dst, reader)

		return err
	}, opts)
}

// WriteFunc is like [AtomicWriter.Write] but hands the temp file to fill.
//
// fill must write the complete new contents; any error it returns aborts the
// write and leaves path untouched.
func (w *AtomicWriter) WriteFunc(path string, fill func(io.Writer) error, opts AtomicWriteOptions) error {
	if fill == nil {
		panic("fill is nil")
	}

	if path == "" {
		return errors.New("path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("opts.Perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == string(os.PathSeparator) || base == "." {
		return fmt.Errorf("path is invalid: %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmpFile, tmpPath, err := createAtomicTempFile(w.fs, dir, base, opts.Perm)
	if err != nil {
		return err
	}

	closed := false

	cleanup := func() error {
		var closeErr error
		if !closed {
			closeErr = closeTmpFile(tmpPath, tmpFile)
		}

		return errors.Join(closeErr, removeTempFile(w.fs, tmpPath))
	}

	fillErr := fill(tmpFile)
	if fillErr != nil {
		return errors.Join(
			fmt.Errorf("write temp file %q: %w", tmpPath, fillErr),
			cleanup(),
		)
	}

	if opts.SyncFile {
		syncErr := Datasync(tmpFile)
		if syncErr != nil {
			return errors.Join(
				fmt.Errorf("sync temp file %q: %w", tmpPath, syncErr),
				cleanup(),
			)
		}
	}

	// Close before rename so a failing close (delayed write error) aborts the
	// commit instead of publishing a file we could not finish.
	closed = true

	closeErr := closeTmpFile(tmpPath, tmpFile)
	if closeErr != nil {
		return errors.Join(closeErr, removeTempFile(w.fs, tmpPath))
	}

	renameErr := w.fs.Rename(tmpPath, path)
	if renameErr != nil {
		return errors.Join(
			fmt.Errorf("rename: %w", renameErr),
			removeTempFile(w.fs, tmpPath),
		)
	}

	if opts.SyncDir {
		return SyncDir(w.fs, dir)
	}

	return nil
}

// DefaultOptions returns the default atomic write options.
func (*AtomicWriter) DefaultOptions() AtomicWriteOptions {
	return AtomicWriteOptions{
		SyncFile: true,
		SyncDir:  true,
		Perm:     0o644,
	}
}

const atomicWriteMaxAttempts = 10000

// TempPattern reports whether name looks like a temp file created by
// [AtomicWriter] for the target base name.
func TempPattern(base, name string) bool {
	prefix := base + ".t"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return false
	}

	_, err := strconv.ParseUint(name[len(prefix):], 10, 64)

	return err == nil
}

func createAtomicTempFile(fs FS, dir, base string, perm os.FileMode) (File, string, error) {
	for range atomicWriteMaxAttempts {
		path := filepath.Join(dir, base+".t"+strconv.FormatUint(rand.Uint64(), 10))

		file, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

// SyncDir fsyncs the directory dirPath so that renames and removals of its
// entries survive power loss. Errors satisfy errors.Is(err, ErrAtomicWriteDirSync).
func SyncDir(fs FS, dirPath string) error {
	dirFd, err := fs.Open(dirPath)
	if err != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("open dir %q: %w", dirPath, err))
	}

	syncErr := dirFd.Sync()
	if syncErr == nil {
		return closeDir(dirPath, dirFd)
	}

	return errors.Join(
		ErrAtomicWriteDirSync,
		fmt.Errorf("%q: %w", dirPath, syncErr),
		closeDir(dirPath, dirFd),
	)
}

func closeDir(dir string, file File) error {
	err := file.Close()
	if err == nil {
		return nil
	}

	return fmt.Errorf("close dir %q: %w", dir, err)
}

func closeTmpFile(path string, file File) error {
	err := file.Close()
	if err == nil {
		return nil
	}

	return fmt.Errorf("close temp file %q: %w", path, err)
}

func removeTempFile(fs FS, path string) error {
	err := fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp file %q: %w", path, err)
	}

	return nil
}
