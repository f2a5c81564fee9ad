package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func Test_RealFS_Exists_Returns_False_When_Path_Does_Not_Exist(t *testing.T) {
	fs := NewReal()
	dir := t.TempDir()

	exists, err := fs.Exists(filepath.Join(dir, "does-not-exist.txt"))

	if got, want := err, error(nil); !errors.Is(got, want) {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if got, want := exists, false; got != want {
		t.Fatalf("exists=%v, want=%v", got, want)
	}
}

func Test_RealFS_Exists_Returns_True_When_Path_Is_A_File(t *testing.T) {
	fs := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "exists.txt")

	// Create file
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	exists, err := fs.Exists(path)

	if got, want := err, error(nil); !errors.Is(got, want) {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if got, want := exists, true; got != want {
		t.Fatalf("exists=%v, want=%v", got, want)
	}
}

func Test_RealFS_Exists_Returns_True_When_Path_Is_A_Directory(t *testing.T) {
	fs := NewReal()
	dir := t.TempDir()
	subdir := filepath.Join(dir, "subdir")

	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	exists, err := fs.Exists(subdir)

	if got, want := err, error(nil); !errors.Is(got, want) {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if got, want := exists, true; got != want {
		t.Fatalf("exists=%v, want=%v", got, want)
	}
}

func Test_RealFS_WriteFileAtomic_Replaces_Content_When_File_Exists(t *testing.T) {
	fs := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	if err := fs.WriteFileAtomic(path, []byte("first"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}

	if err := fs.WriteFileAtomic(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if got, want := string(got), "second"; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if got, want := len(entries), 1; got != want {
		t.Fatalf("entries=%d, want=%d (no temp file left behind)", got, want)
	}
}

func Test_RealFS_WriteFileAtomic_Returns_Error_When_Dir_Is_Missing(t *testing.T) {
	fs := NewReal()
	path := filepath.Join(t.TempDir(), "missing", "data.bin")

	if err := fs.WriteFileAtomic(path, []byte("x"), 0o644); err == nil {
		t.Fatal("WriteFileAtomic into missing dir: want error")
	}

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stat err=%v, want=%v", err, os.ErrNotExist)
	}
}
