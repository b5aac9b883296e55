package basics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestLargeRAWFile_ReadWriteAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.raw")
	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.WriteAt([]byte("hello"), 100); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	size, err := f.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 105 {
		t.Errorf("Size() = %d, want 105", size)
	}

	buf := make([]byte, 5)
	if err := f.ReadAt(buf, 100); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("read %q, want %q", buf, "hello")
	}

	// a sparse hole reads as zeros
	if err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt hole: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Errorf("hole byte %d = %d", i, b)
		}
	}

	if err := f.Truncate(50); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if err := f.ReadAt(buf, 100); !errors.Is(err, ErrIO) {
		t.Errorf("read past end: got %v, want ErrIO", err)
	}
}

func TestLargeRAWFile_OpenMissing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, ErrIO) {
		t.Errorf("got %v, want ErrIO", err)
	}
	if _, err := OpenReadOnly(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, ErrIO) {
		t.Errorf("got %v, want ErrIO", err)
	}
}

func TestLargeRAWFile_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.raw")
	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after Delete")
	}
	// closing twice is fine
	if err := f.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
