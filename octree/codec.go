package octree

import (
	"bytes"
	"compress/flate"
	"io"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
)

// CodecType identifies the per-brick compression method. The numeric values
// are the on-disk ToC tags.
type CodecType uint32

const (
	CodecIdentity CodecType = 0
	CodecDeflate  CodecType = 1
	CodecSnappy   CodecType = 2
)

// Valid reports whether the tag names a known codec.
func (c CodecType) Valid() bool { return c <= CodecSnappy }

func (c CodecType) String() string {
	switch c {
	case CodecIdentity:
		return "identity"
	case CodecDeflate:
		return "deflate"
	case CodecSnappy:
		return "snappy"
	}
	return "unknown"
}

// encodeBrick compresses a brick payload with the requested codec. Whenever
// the compressed form is not strictly smaller than the input the identity
// codec wins and the raw bytes are stored; the returned tag reflects the
// final choice. The returned slice aliases raw for the identity case.
func encodeBrick(codec CodecType, raw []byte) ([]byte, CodecType, error) {
	switch codec {
	case CodecIdentity:
		return raw, CodecIdentity, nil

	case CodecDeflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, 0, errors.Wrapf(basics.ErrCodec, "deflate init: %v", err)
		}
		if _, err := w.Write(raw); err != nil {
			return nil, 0, errors.Wrapf(basics.ErrCodec, "deflate: %v", err)
		}
		if err := w.Close(); err != nil {
			return nil, 0, errors.Wrapf(basics.ErrCodec, "deflate close: %v", err)
		}
		if buf.Len() >= len(raw) {
			return raw, CodecIdentity, nil
		}
		return buf.Bytes(), CodecDeflate, nil

	case CodecSnappy:
		enc := snappy.Encode(nil, raw)
		if len(enc) >= len(raw) {
			return raw, CodecIdentity, nil
		}
		return enc, CodecSnappy, nil
	}
	return nil, 0, errors.Wrapf(basics.ErrCodec, "unknown codec tag %d", uint32(codec))
}

// decodeBrick reverses encodeBrick. The decoded length must match want
// exactly; any mismatch flags the brick as corrupt.
func decodeBrick(payload []byte, codec CodecType, want uint64) ([]byte, error) {
	switch codec {
	case CodecIdentity:
		if uint64(len(payload)) != want {
			return nil, errors.Wrapf(basics.ErrCorruptBrick,
				"stored %d bytes, expected %d", len(payload), want)
		}
		return payload, nil

	case CodecDeflate:
		r := flate.NewReader(bytes.NewReader(payload))
		out, err := io.ReadAll(io.LimitReader(r, int64(want)+1))
		if cerr := r.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, errors.Wrapf(basics.ErrCodec, "inflate: %v", err)
		}
		if uint64(len(out)) != want {
			return nil, errors.Wrapf(basics.ErrCorruptBrick,
				"inflated to %d bytes, expected %d", len(out), want)
		}
		return out, nil

	case CodecSnappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, errors.Wrapf(basics.ErrCodec, "snappy: %v", err)
		}
		if uint64(len(out)) != want {
			return nil, errors.Wrapf(basics.ErrCorruptBrick,
				"snappy decoded to %d bytes, expected %d", len(out), want)
		}
		return out, nil
	}
	return nil, errors.Wrapf(basics.ErrCodec, "unknown codec tag %d", uint32(codec))
}
