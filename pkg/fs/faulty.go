package fs

import (
	"errors"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ErrStopped is returned (wrapped) by every operation on a [Faulty] after its
// crash failpoint fired. See [FaultyConfig.StopAfter].
var ErrStopped = errors.New("faulty: stopped")

// FaultyConfig controls fault injection.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type FaultyConfig struct {
	// OpenFailRate controls how often Open and OpenFile fail.
	OpenFailRate float64

	// ReadFailRate controls how often ReadFile and File.Read fail with EIO.
	ReadFailRate float64

	// WriteFailRate controls how often File.Write fails without writing anything.
	WriteFailRate float64

	// PartialWriteRate controls how often File.Write writes a random non-empty
	// prefix of its input before failing.
	PartialWriteRate float64

	// SyncFailRate controls how often File.Sync fails.
	SyncFailRate float64

	// CloseFailRate controls how often File.Close reports an error. The
	// underlying descriptor is always closed.
	CloseFailRate float64

	// RenameFailRate controls how often Rename fails with an [*os.LinkError].
	RenameFailRate float64

	// RemoveFailRate controls how often Remove fails.
	RemoveFailRate float64

	// WriteBudget caps the total number of bytes File.Write accepts across all
	// handles. The write that crosses the budget is truncated to what is left
	// and fails with ENOSPC; every later write fails outright. Zero means no cap.
	WriteBudget int64

	// StopAfter fires a crash failpoint after this many mutating operations
	// (write opens, writes, syncs, renames, removes). The operation that fires
	// it and everything after it fail with [ErrStopped], so no further change
	// reaches the disk, like a process that died at that instant. Zero
	// disables the failpoint.
	StopAfter uint64
}

// FaultyMode controls how [Faulty] behaves.
type FaultyMode uint8

const (
	// FaultyModeActive injects faults according to [FaultyConfig].
	// This is the default mode for a new [Faulty].
	FaultyModeActive FaultyMode = iota

	// FaultyModeNoOp passes every operation directly to the underlying FS.
	FaultyModeNoOp
)

// FaultyStats contains counts of injected faults.
type FaultyStats struct {
	OpenFails     int64
	ReadFails     int64
	WriteFails    int64
	PartialWrites int64
	SyncFails     int64
	CloseFails    int64
	RenameFails   int64
	RemoveFails   int64
	Stopped       int64
}

// injectedError marks an error as intentionally injected by [Faulty].
//
// It wraps the underlying error so errors.Is/As continue to work.
type injectedError struct {
	Err error
}

func (e *injectedError) Error() string {
	return "faulty: " + e.Err.Error()
}

func (e *injectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) was injected by [Faulty].
func IsInjected(err error) bool {
	var injected *injectedError

	return errors.As(err, &injected)
}

// Faulty wraps an [FS] and injects failures for testing.
//
// Injected filesystem errors are [*fs.PathError] (or [*os.LinkError] for
// rename) values carrying a real [syscall.Errno], so helpers like
// [os.IsPermission] keep working. Faulty never injects ENOENT: missing-path
// results always come from the wrapped FS.
//
// Faulty does not keep per-path state; each call independently decides
// whether to inject, except for [FaultyConfig.WriteBudget] and
// [FaultyConfig.StopAfter] which are global to the Faulty instance.
type Faulty struct {
	fs     FS
	config FaultyConfig
	mode   atomic.Uint32

	rngMu sync.Mutex
	rng   *rand.Rand

	mutations atomic.Uint64
	stopped   atomic.Bool
	written   atomic.Int64

	openFails     atomic.Int64
	readFails     atomic.Int64
	writeFails    atomic.Int64
	partialWrites atomic.Int64
	syncFails     atomic.Int64
	closeFails    atomic.Int64
	renameFails   atomic.Int64
	removeFails   atomic.Int64
	stops         atomic.Int64
}

// NewFaulty creates a new [Faulty] filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
// Panics if underlying or config is nil.
func NewFaulty(underlying FS, seed int64, config *FaultyConfig) *Faulty {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	if config == nil {
		panic("config is nil")
	}

	return &Faulty{
		fs:     underlying,
		config: *config,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
	}
}

// SetMode updates [Faulty] behavior. Safe to call concurrently with
// filesystem operations.
func (f *Faulty) SetMode(m FaultyMode) { f.mode.Store(uint32(m)) }

// Stopped reports whether the crash failpoint has fired.
func (f *Faulty) Stopped() bool { return f.stopped.Load() }

// Mutations returns the number of mutating operations attempted so far.
func (f *Faulty) Mutations() uint64 { return f.mutations.Load() }

// Stats returns the current fault injection counts.
func (f *Faulty) Stats() FaultyStats {
	return FaultyStats{
		OpenFails:     f.openFails.Load(),
		ReadFails:     f.readFails.Load(),
		WriteFails:    f.writeFails.Load(),
		PartialWrites: f.partialWrites.Load(),
		SyncFails:     f.syncFails.Load(),
		CloseFails:    f.closeFails.Load(),
		RenameFails:   f.renameFails.Load(),
		RemoveFails:   f.removeFails.Load(),
		Stopped:       f.stops.Load(),
	}
}

// Open opens a file for reading with fault injection.
func (f *Faulty) Open(path string) (File, error) {
	return f.OpenFile(path, os.O_RDONLY, 0)
}

// OpenFile opens a file with fault injection. Opens that can modify the
// filesystem (write access, O_CREATE, O_TRUNC) count as mutations.
func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	writable := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0

	if writable {
		if err := f.mutate("open", path); err != nil {
			return nil, err
		}
	} else if err := f.checkStopped("open", path); err != nil {
		return nil, err
	}

	if f.should(f.config.OpenFailRate) {
		f.openFails.Add(1)

		errnos := []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EMFILE, syscall.ENFILE}
		if writable {
			errnos = append(errnos, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS)
		}

		return nil, pathError("open", path, f.pick(errnos))
	}

	file, err := f.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{f: file, faulty: f, path: path}, nil
}

// ReadFile reads a file with fault injection.
func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if err := f.checkStopped("read", path); err != nil {
		return nil, err
	}

	if f.should(f.config.ReadFailRate) {
		f.readFails.Add(1)

		return nil, pathError("read", path, syscall.EIO)
	}

	return f.fs.ReadFile(path)
}

// WriteFileAtomic writes through [AtomicWriter] on top of f so that every
// step of the temp-file protocol is subject to fault injection.
func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	w := NewAtomicWriter(f)

	return w.WriteFunc(path, func(dst io.Writer) error {
		_, err := dst.Write(data)

		return err
	}, AtomicWriteOptions{SyncFile: true, Perm: perm})
}

// MkdirAll creates directories; counts as a mutation.
func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	if err := f.mutate("mkdirall", path); err != nil {
		return err
	}

	return f.fs.MkdirAll(path, perm)
}

// Stat returns file info. Only the crash failpoint applies.
func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	if err := f.checkStopped("stat", path); err != nil {
		return nil, err
	}

	return f.fs.Stat(path)
}

// Exists reports whether path exists. Only the crash failpoint applies.
func (f *Faulty) Exists(path string) (bool, error) {
	if err := f.checkStopped("stat", path); err != nil {
		return false, err
	}

	return f.fs.Exists(path)
}

// Remove deletes a file with fault injection.
func (f *Faulty) Remove(path string) error {
	if err := f.mutate("remove", path); err != nil {
		return err
	}

	if f.should(f.config.RemoveFailRate) {
		f.removeFails.Add(1)

		return pathError("remove", path, f.pick([]syscall.Errno{syscall.EACCES, syscall.EPERM, syscall.EBUSY, syscall.EIO}))
	}

	return f.fs.Remove(path)
}

// Rename renames a file with fault injection.
func (f *Faulty) Rename(oldpath, newpath string) error {
	if err := f.mutate("rename", oldpath); err != nil {
		return err
	}

	if f.should(f.config.RenameFailRate) {
		f.renameFails.Add(1)
		errno := f.pick([]syscall.Errno{syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EXDEV, syscall.EROFS})

		return &injectedError{Err: &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errno}}
	}

	return f.fs.Rename(oldpath, newpath)
}

func (f *Faulty) active() bool {
	return FaultyMode(f.mode.Load()) == FaultyModeActive
}

// mutate counts a mutating operation and fires the crash failpoint when due.
func (f *Faulty) mutate(op, path string) error {
	if !f.active() {
		return nil
	}

	n := f.mutations.Add(1)
	if f.config.StopAfter > 0 && n > f.config.StopAfter {
		f.stopped.Store(true)
	}

	return f.checkStopped(op, path)
}

func (f *Faulty) checkStopped(op, path string) error {
	if !f.active() || !f.stopped.Load() {
		return nil
	}

	f.stops.Add(1)

	return &injectedError{Err: &fs.PathError{Op: op, Path: path, Err: ErrStopped}}
}

// should returns true with the given probability when injection is active.
func (f *Faulty) should(rate float64) bool {
	if rate <= 0 || !f.active() {
		return false
	}

	f.rngMu.Lock()
	result := f.rng.Float64()
	f.rngMu.Unlock()

	return result < rate
}

func (f *Faulty) intn(n int) int {
	f.rngMu.Lock()
	result := f.rng.IntN(n)
	f.rngMu.Unlock()

	return result
}

func (f *Faulty) pick(errnos []syscall.Errno) syscall.Errno {
	return errnos[f.intn(len(errnos))]
}

// reserve takes up to n bytes from the write budget and reports how many
// bytes may be written.
func (f *Faulty) reserve(n int) int {
	if f.config.WriteBudget <= 0 || !f.active() {
		return n
	}

	for {
		used := f.written.Load()

		left := f.config.WriteBudget - used
		if left <= 0 {
			return 0
		}

		take := int64(n)
		if take > left {
			take = left
		}

		if f.written.CompareAndSwap(used, used+take) {
			return int(take)
		}
	}
}

// pathError creates an injected [*fs.PathError]. The error is wrapped so
// [IsInjected] can identify it while errors.As still reaches the PathError.
func pathError(op, path string, errno syscall.Errno) error {
	return &injectedError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}

// faultyFile wraps a [File] and injects faults on Read/Write/Sync/Close.
type faultyFile struct {
	f      File
	faulty *Faulty
	path   string
}

var _ File = (*faultyFile)(nil)

func (ff *faultyFile) Read(buf []byte) (int, error) {
	if err := ff.faulty.checkStopped("read", ff.path); err != nil {
		return 0, err
	}

	if ff.faulty.should(ff.faulty.config.ReadFailRate) {
		ff.faulty.readFails.Add(1)

		return 0, pathError("read", ff.path, syscall.EIO)
	}

	return ff.f.Read(buf)
}

func (ff *faultyFile) Write(data []byte) (int, error) {
	fy := ff.faulty

	if err := fy.mutate("write", ff.path); err != nil {
		return 0, err
	}

	if fy.should(fy.config.WriteFailRate) {
		fy.writeFails.Add(1)

		return 0, pathError("write", ff.path, fy.pick([]syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS}))
	}

	allowed := fy.reserve(len(data))

	if allowed == len(data) && len(data) > 1 && fy.should(fy.config.PartialWriteRate) {
		allowed = fy.intn(len(data)-1) + 1
	}

	if allowed < len(data) {
		fy.partialWrites.Add(1)

		wrote, err := ff.f.Write(data[:allowed])
		if err != nil {
			return wrote, err
		}

		return wrote, pathError("write", ff.path, syscall.ENOSPC)
	}

	return ff.f.Write(data)
}

func (ff *faultyFile) Close() error {
	// Always close the underlying file to avoid descriptor leaks, even when
	// returning an injected error.
	err := ff.f.Close()
	if err != nil {
		return err
	}

	if stopErr := ff.faulty.checkStopped("close", ff.path); stopErr != nil {
		return stopErr
	}

	if ff.faulty.should(ff.faulty.config.CloseFailRate) {
		ff.faulty.closeFails.Add(1)

		return pathError("close", ff.path, syscall.EIO)
	}

	return nil
}

func (ff *faultyFile) Fd() uintptr {
	return ff.f.Fd()
}

func (ff *faultyFile) Stat() (os.FileInfo, error) {
	if err := ff.faulty.checkStopped("stat", ff.path); err != nil {
		return nil, err
	}

	return ff.f.Stat()
}

func (ff *faultyFile) Sync() error {
	fy := ff.faulty

	if err := fy.mutate("sync", ff.path); err != nil {
		return err
	}

	if fy.should(fy.config.SyncFailRate) {
		fy.syncFails.Add(1)

		return pathError("sync", ff.path, fy.pick([]syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EDQUOT}))
	}

	return ff.f.Sync()
}

var _ FS = (*Faulty)(nil)
