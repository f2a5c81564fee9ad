package kv

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/bytekv/pkg/fs"
)

// FileOptions configures the file backends.
type FileOptions struct {
	// Strict forces file data (and for [RenameBackend] the parent directory)
	// to stable storage before a write returns.
	Strict bool

	// Streams transforms the file bytes. Nil means [NopStreams].
	Streams StreamWrapper

	// FS is the filesystem to use. Nil means [fs.NewReal].
	FS fs.FS

	// Perm is the mode for newly created files. Zero means 0o644.
	Perm os.FileMode

	// Logger receives recovery events. Nil discards them.
	Logger *zerolog.Logger
}

func (o FileOptions) withDefaults() FileOptions {
	o.Streams = streamsOrNop(o.Streams)

	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	if o.Perm == 0 {
		o.Perm = 0o644
	}

	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}

	return o
}

// RenameBackend persists the buffer with temp-write-and-rename: each write
// goes to a fresh sibling "<base>.t<random>" file which is then renamed over
// the target. The temp file is removed on every exit path.
//
// A crash at any point leaves either the old or the new file at path, plus
// at most one stale temp file that is never read.
type RenameBackend struct {
	path   string
	opts   FileOptions
	writer *fs.AtomicWriter
}

// NewRenameBackend returns a temp-write-and-rename backend for path.
func NewRenameBackend(path string, opts FileOptions) *RenameBackend {
	opts = opts.withDefaults()

	return &RenameBackend{path: path, opts: opts, writer: fs.NewAtomicWriter(opts.FS)}
}

// Path returns the target file path.
func (b *RenameBackend) Path() string { return b.path }

// Read returns the file contents, or empty bytes if the file does not exist.
func (b *RenameBackend) Read() ([]byte, error) {
	return readFile(b.opts.FS, b.opts.Streams, b.path)
}

// Write replaces the file with data.
func (b *RenameBackend) Write(data []byte) error {
	err := b.writer.WriteFunc(b.path, func(dst io.Writer) error {
		return writeThrough(b.opts.Streams, dst, data)
	}, fs.AtomicWriteOptions{
		SyncFile: b.opts.Strict,
		SyncDir:  b.opts.Strict,
		Perm:     b.opts.Perm,
	})
	if err != nil {
		return fmt.Errorf("write %q: %w", b.path, err)
	}

	return nil
}

func readFile(fsys fs.FS, streams StreamWrapper, path string) ([]byte, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []byte{}, nil
		}

		return nil, fmt.Errorf("open %q: %w", path, err)
	}

	data, readErr := readThrough(streams, f)
	closeErr := f.Close()

	if readErr != nil {
		return nil, errors.Join(fmt.Errorf("read %q: %w", path, readErr), closeErr)
	}

	if closeErr != nil {
		return nil, fmt.Errorf("close %q: %w", path, closeErr)
	}

	if data == nil {
		data = []byte{}
	}

	return data, nil
}

var _ Backend = (*RenameBackend)(nil)
