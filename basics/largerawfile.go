package basics

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// LargeRAWFile is a seekable byte stream over a potentially very large file.
// All reads and writes are positional (64-bit offsets) so a single handle
// never carries an implicit cursor. Sharing a handle across goroutines is
// safe for reads because ReadAt/WriteAt map to pread/pwrite; writers must
// still be serialized externally.
type LargeRAWFile struct {
	path string
	f    *os.File
}

// Create creates (or truncates) a file for read-write access.
func Create(path string) (*LargeRAWFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "create %s: %v", path, err)
	}
	return &LargeRAWFile{path: path, f: f}, nil
}

// Open opens an existing file for read-write access.
func Open(path string) (*LargeRAWFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "open %s: %v", path, err)
	}
	return &LargeRAWFile{path: path, f: f}, nil
}

// OpenReadOnly opens an existing file for reading. Readers that need
// independent positions should each open their own handle.
func OpenReadOnly(path string) (*LargeRAWFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "open %s: %v", path, err)
	}
	return &LargeRAWFile{path: path, f: f}, nil
}

// Path returns the path the file was opened with.
func (r *LargeRAWFile) Path() string { return r.path }

// ReadAt fills buf from the given offset. Short reads are errors; io.EOF is
// surfaced as ErrIO like any other failure.
func (r *LargeRAWFile) ReadAt(buf []byte, offset uint64) error {
	n, err := r.f.ReadAt(buf, int64(offset))
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return errors.Wrapf(ErrIO, "read %d bytes at %d from %s: %v", len(buf), offset, r.path, err)
	}
	if n != len(buf) {
		return errors.Wrapf(ErrIO, "short read at %d from %s: %d of %d bytes", offset, r.path, n, len(buf))
	}
	return nil
}

// WriteAt writes buf at the given offset, extending the file if needed.
func (r *LargeRAWFile) WriteAt(buf []byte, offset uint64) error {
	n, err := r.f.WriteAt(buf, int64(offset))
	if err != nil {
		return errors.Wrapf(ErrIO, "write %d bytes at %d to %s: %v", len(buf), offset, r.path, err)
	}
	if n != len(buf) {
		return errors.Wrapf(ErrIO, "short write at %d to %s: %d of %d bytes", offset, r.path, n, len(buf))
	}
	return nil
}

// Size returns the current file size in bytes.
func (r *LargeRAWFile) Size() (uint64, error) {
	fi, err := r.f.Stat()
	if err != nil {
		return 0, errors.Wrapf(ErrIO, "stat %s: %v", r.path, err)
	}
	return uint64(fi.Size()), nil
}

// Truncate resizes the file to exactly n bytes.
func (r *LargeRAWFile) Truncate(n uint64) error {
	if err := r.f.Truncate(int64(n)); err != nil {
		return errors.Wrapf(ErrIO, "truncate %s to %d: %v", r.path, n, err)
	}
	return nil
}

// Sync flushes file contents to stable storage.
func (r *LargeRAWFile) Sync() error {
	if err := r.f.Sync(); err != nil {
		return errors.Wrapf(ErrIO, "sync %s: %v", r.path, err)
	}
	return nil
}

// Close releases the OS handle. Safe to call twice.
func (r *LargeRAWFile) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	if err != nil {
		return errors.Wrapf(ErrIO, "close %s: %v", r.path, err)
	}
	return nil
}

// Delete closes the handle and removes the file from disk. Used to discard
// partially written output after a cancelled or failed conversion.
func (r *LargeRAWFile) Delete() error {
	r.Close()
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(ErrIO, "remove %s: %v", r.path, err)
	}
	return nil
}
