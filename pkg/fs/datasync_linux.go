//go:build linux

package fs

import (
	"os"

	"golang.org/x/sys/unix"
)

// Datasync flushes f's data (not necessarily its metadata) to stable storage.
//
// On Linux this is fdatasync(2). Handles that are not backed by an [os.File]
// fall back to [File.Sync].
func Datasync(f File) error {
	osFile, ok := f.(*os.File)
	if !ok {
		return f.Sync()
	}

	for {
		err := unix.Fdatasync(int(osFile.Fd()))
		if err == nil {
			return nil
		}

		if err != unix.EINTR {
			return &os.PathError{Op: "fdatasync", Path: osFile.Name(), Err: err}
		}
	}
}
