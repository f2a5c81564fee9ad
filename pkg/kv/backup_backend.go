package kv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/bytekv/pkg/fs"
)

// BackupSuffix is appended to the target path to form the backup path.
const BackupSuffix = ".b"

// BackupBackend persists the buffer in place, protected by a backup file.
//
// Write protocol:
//  1. If no backup exists, rename the target to "<path>.b". With no target
//     either, an empty backup is created so a crash during the very first
//     write recovers to an empty store. An existing backup is kept: it holds
//     the last committed state of an attempt that never finished.
//  2. Write and sync the new bytes into a truncated target.
//  3. Remove the backup. This is the commit point.
//
// If step 2 fails the target is removed so the next read recovers from the
// backup. On Read, a present backup means the last write did not commit: the
// target is discarded and the backup is renamed back before reading.
//
// The file data is always synced. Strict additionally syncs the directory
// after every rename and removal.
type BackupBackend struct {
	path   string
	backup string
	opts   FileOptions
}

// NewBackupBackend returns a backup-rename backend for path.
func NewBackupBackend(path string, opts FileOptions) *BackupBackend {
	return &BackupBackend{path: path, backup: path + BackupSuffix, opts: opts.withDefaults()}
}

// Path returns the target file path.
func (b *BackupBackend) Path() string { return b.path }

// BackupPath returns the backup file path.
func (b *BackupBackend) BackupPath() string { return b.backup }

// Read recovers an unfinished write if needed and returns the file contents,
// or empty bytes if the file does not exist.
//
// A read failure leaves both files in place.
func (b *BackupBackend) Read() ([]byte, error) {
	if err := b.recover(); err != nil {
		return nil, err
	}

	return readFile(b.opts.FS, b.opts.Streams, b.path)
}

func (b *BackupBackend) recover() error {
	hasBackup, err := b.opts.FS.Exists(b.backup)
	if err != nil {
		return fmt.Errorf("stat backup %q: %w", b.backup, err)
	}

	if !hasBackup {
		return nil
	}

	b.opts.Logger.Warn().Str("path", b.path).Msg("unfinished write found, restoring backup")

	if err := removeIfExists(b.opts.FS, b.path); err != nil {
		return fmt.Errorf("discard partial %q: %w", b.path, err)
	}

	if err := b.opts.FS.Rename(b.backup, b.path); err != nil {
		return fmt.Errorf("restore backup %q: %w", b.backup, err)
	}

	return b.syncDir()
}

// Write replaces the file contents with data.
func (b *BackupBackend) Write(data []byte) error {
	if err := b.prepareBackup(); err != nil {
		return err
	}

	if err := b.writeTarget(data); err != nil {
		return errors.Join(err, b.discardTarget())
	}

	if err := b.opts.FS.Remove(b.backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		// The backup still wins on the next read, so the write did not commit.
		return fmt.Errorf("remove backup %q: %w", b.backup, err)
	}

	return b.syncDir()
}

func (b *BackupBackend) prepareBackup() error {
	hasBackup, err := b.opts.FS.Exists(b.backup)
	if err != nil {
		return fmt.Errorf("stat backup %q: %w", b.backup, err)
	}

	if hasBackup {
		return nil
	}

	hasTarget, err := b.opts.FS.Exists(b.path)
	if err != nil {
		return fmt.Errorf("stat %q: %w", b.path, err)
	}

	if hasTarget {
		if err := b.opts.FS.Rename(b.path, b.backup); err != nil {
			return fmt.Errorf("create backup %q: %w", b.backup, err)
		}
	} else {
		f, err := b.opts.FS.OpenFile(b.backup, os.O_WRONLY|os.O_CREATE|os.O_EXCL, b.opts.Perm)
		if err != nil {
			return fmt.Errorf("create empty backup %q: %w", b.backup, err)
		}

		if err := f.Close(); err != nil {
			return errors.Join(fmt.Errorf("close empty backup %q: %w", b.backup, err), removeIfExists(b.opts.FS, b.backup))
		}
	}

	return b.syncDir()
}

func (b *BackupBackend) writeTarget(data []byte) error {
	f, err := b.opts.FS.OpenFile(b.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, b.opts.Perm)
	if err != nil {
		return fmt.Errorf("create %q: %w", b.path, err)
	}

	if err := writeThrough(b.opts.Streams, f, data); err != nil {
		return errors.Join(fmt.Errorf("write %q: %w", b.path, err), f.Close())
	}

	if err := fs.Datasync(f); err != nil {
		return errors.Join(fmt.Errorf("sync %q: %w", b.path, err), f.Close())
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", b.path, err)
	}

	return nil
}

func (b *BackupBackend) discardTarget() error {
	if err := removeIfExists(b.opts.FS, b.path); err != nil {
		return fmt.Errorf("discard %q: %w", b.path, err)
	}

	return nil
}

func (b *BackupBackend) syncDir() error {
	if !b.opts.Strict {
		return nil
	}

	return fs.SyncDir(b.opts.FS, filepath.Dir(b.path))
}

func removeIfExists(fsys fs.FS, path string) error {
	err := fsys.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

var _ Backend = (*BackupBackend)(nil)
