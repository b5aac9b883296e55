package basics

import (
	"github.com/pkg/errors"
)

// Error kinds surfaced by the toolkit. Callers match them with errors.Is;
// the dynamic error carries context added via github.com/pkg/errors.
var (
	// ErrIO wraps any operating-system level I/O failure.
	ErrIO = errors.New("i/o error")

	// ErrFormat indicates a magic, version or checksum mismatch while
	// opening a file.
	ErrFormat = errors.New("format error")

	// ErrCorruptBrick indicates a brick whose declared size does not match
	// the decoded length or whose byte range lies outside the file.
	ErrCorruptBrick = errors.New("corrupt brick")

	// ErrOutOfRange indicates a brick key past the LoD or brick count.
	ErrOutOfRange = errors.New("brick coordinates out of range")

	// ErrUnsupportedType indicates an unknown component type tag.
	ErrUnsupportedType = errors.New("unsupported component type")

	// ErrCodec indicates a compression or decompression failure.
	ErrCodec = errors.New("codec error")

	// ErrCancelled is returned when a conversion is cancelled cooperatively.
	ErrCancelled = errors.New("conversion cancelled")
)
