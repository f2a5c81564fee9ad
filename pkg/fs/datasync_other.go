//go:build !linux

package fs

// Datasync flushes f's data to stable storage.
//
// Platforms without fdatasync(2) use [File.Sync].
func Datasync(f File) error {
	return f.Sync()
}
