// Package uvf implements the container file wrapping a bricked volume
// hierarchy together with its statistics, metadata and optional geometry.
//
// A container is a global header followed by a sequence of blocks, each
// prefixed with a type tag and its payload size:
//
//	magic "UVF_" | version u64 | checksum semantic u32 | endianness u8 |
//	reserved 3B | block count u64 | checksum 16B
//	{ tag u32 | size u64 | payload }*
//
// All integers use the byte order the endianness flag declares, uniformly
// for the container and every embedded structure. The checksum is a digest
// of the entire file with the 16 checksum bytes zeroed.
package uvf

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
	"github.com/BlueBrain/TuvokIO/octree"
)

const (
	fileMagic   = "UVF_"
	fileVersion = 1
	headerSize  = 44

	checksumOffset = 28
	checksumSize   = 16

	blockHeaderSize = 12
	copyChunkSize   = 1 << 20
)

// ChecksumSemantic selects how the container digest is computed.
type ChecksumSemantic uint32

const (
	ChecksumNone ChecksumSemantic = 0
	ChecksumMD5  ChecksumSemantic = 1
)

// Block type tags.
const (
	BlockTOC      uint32 = 1
	BlockMaxMin   uint32 = 2
	BlockKeyValue uint32 = 3
	BlockGeometry uint32 = 4
)

// BlockInfo describes one block of an open container. Offset is the
// absolute file position of the block payload.
type BlockInfo struct {
	Tag    uint32
	Size   uint64
	Offset uint64
}

// File is an open container, either being written (Create ... Finalize) or
// being read (Open). A written container is immutable once finalized.
type File struct {
	raw       *basics.LargeRAWFile
	bigEndian bool
	checksum  ChecksumSemantic
	blocks    []BlockInfo
	writable  bool
	tail      uint64
}

// ByteOrder returns the integer byte order the container declares.
func (f *File) ByteOrder() binary.ByteOrder {
	if f.bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// BigEndian reports the container's endianness flag.
func (f *File) BigEndian() bool { return f.bigEndian }

// Blocks lists the container's blocks in file order.
func (f *File) Blocks() []BlockInfo { return f.blocks }

// BlockByTag returns the first block with the given tag.
func (f *File) BlockByTag(tag uint32) (BlockInfo, bool) {
	for _, b := range f.blocks {
		if b.Tag == tag {
			return b, true
		}
	}
	return BlockInfo{}, false
}

// Create starts a new container file. The header is written as a
// placeholder and completed by Finalize.
func Create(path string, bigEndian bool, checksum ChecksumSemantic) (*File, error) {
	raw, err := basics.Create(path)
	if err != nil {
		return nil, err
	}
	f := &File{raw: raw, bigEndian: bigEndian, checksum: checksum, writable: true, tail: headerSize}
	if err := f.writeHeader(nil); err != nil {
		raw.Delete()
		return nil, err
	}
	return f, nil
}

func (f *File) writeHeader(checksum []byte) error {
	order := f.ByteOrder()
	buf := make([]byte, headerSize)
	copy(buf[0:4], fileMagic)
	order.PutUint64(buf[4:], fileVersion)
	order.PutUint32(buf[12:], uint32(f.checksum))
	if f.bigEndian {
		buf[16] = 1
	}
	order.PutUint64(buf[20:], uint64(len(f.blocks)))
	copy(buf[checksumOffset:], checksum)
	return f.raw.WriteAt(buf, 0)
}

func (f *File) appendBlockHeader(tag uint32, size uint64) error {
	order := f.ByteOrder()
	hdr := make([]byte, blockHeaderSize)
	order.PutUint32(hdr[0:], tag)
	order.PutUint64(hdr[4:], size)
	if err := f.raw.WriteAt(hdr, f.tail); err != nil {
		return err
	}
	f.blocks = append(f.blocks, BlockInfo{Tag: tag, Size: size, Offset: f.tail + blockHeaderSize})
	f.tail += blockHeaderSize
	return nil
}

// AddBlock appends a block with an in-memory payload.
func (f *File) AddBlock(tag uint32, payload []byte) error {
	if !f.writable {
		return errors.Wrap(basics.ErrIO, "container is not writable")
	}
	if err := f.appendBlockHeader(tag, uint64(len(payload))); err != nil {
		return err
	}
	if err := f.raw.WriteAt(payload, f.tail); err != nil {
		return err
	}
	f.tail += uint64(len(payload))
	return nil
}

// AddBlockFromFile appends a block whose payload is streamed from another
// file, chunk by chunk, so an octree larger than RAM can be embedded.
func (f *File) AddBlockFromFile(tag uint32, src *basics.LargeRAWFile, srcOffset, size uint64) error {
	if !f.writable {
		return errors.Wrap(basics.ErrIO, "container is not writable")
	}
	if err := f.appendBlockHeader(tag, size); err != nil {
		return err
	}
	buf := make([]byte, copyChunkSize)
	for copied := uint64(0); copied < size; {
		n := uint64(copyChunkSize)
		if size-copied < n {
			n = size - copied
		}
		if err := src.ReadAt(buf[:n], srcOffset+copied); err != nil {
			return err
		}
		if err := f.raw.WriteAt(buf[:n], f.tail); err != nil {
			return err
		}
		f.tail += n
		copied += n
	}
	return nil
}

// Finalize completes the header, computes the checksum and makes the
// container read-only.
func (f *File) Finalize() error {
	if !f.writable {
		return errors.Wrap(basics.ErrIO, "container is not writable")
	}
	if err := f.writeHeader(nil); err != nil {
		return err
	}
	if f.checksum == ChecksumMD5 {
		sum, err := f.digest()
		if err != nil {
			return err
		}
		if err := f.raw.WriteAt(sum, checksumOffset); err != nil {
			return err
		}
	}
	f.writable = false
	return f.raw.Sync()
}

// digest computes the whole-file digest with the checksum bytes zeroed.
func (f *File) digest() ([]byte, error) {
	size, err := f.raw.Size()
	if err != nil {
		return nil, err
	}
	h := md5.New()
	buf := make([]byte, copyChunkSize)
	for pos := uint64(0); pos < size; {
		n := uint64(copyChunkSize)
		if size-pos < n {
			n = size - pos
		}
		if err := f.raw.ReadAt(buf[:n], pos); err != nil {
			return nil, err
		}
		for i := uint64(checksumOffset); i < checksumOffset+checksumSize; i++ {
			if i >= pos && i < pos+n {
				buf[i-pos] = 0
			}
		}
		h.Write(buf[:n])
		pos += n
	}
	return h.Sum(nil), nil
}

// Open reads a container's header and block directory. With verify set the
// checksum is recomputed and compared; a mismatch, like any bad magic or
// version, leaves nothing open and returns ErrFormat.
func Open(path string, verify bool) (*File, error) {
	raw, err := basics.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	f, err := open(raw, verify)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return f, nil
}

func open(raw *basics.LargeRAWFile, verify bool) (*File, error) {
	hdr := make([]byte, headerSize)
	if err := raw.ReadAt(hdr, 0); err != nil {
		return nil, err
	}
	if string(hdr[0:4]) != fileMagic {
		return nil, errors.Wrapf(basics.ErrFormat, "bad magic %q", hdr[0:4])
	}
	f := &File{raw: raw, bigEndian: hdr[16] == 1}
	order := f.ByteOrder()
	if v := order.Uint64(hdr[4:]); v != fileVersion {
		return nil, errors.Wrapf(basics.ErrFormat, "unsupported version %d", v)
	}
	f.checksum = ChecksumSemantic(order.Uint32(hdr[12:]))
	blockCount := order.Uint64(hdr[20:])

	size, err := raw.Size()
	if err != nil {
		return nil, err
	}
	pos := uint64(headerSize)
	bhdr := make([]byte, blockHeaderSize)
	for i := uint64(0); i < blockCount; i++ {
		if pos+blockHeaderSize > size {
			return nil, errors.Wrapf(basics.ErrFormat, "block %d header past end of file", i)
		}
		if err := raw.ReadAt(bhdr, pos); err != nil {
			return nil, err
		}
		b := BlockInfo{
			Tag:    order.Uint32(bhdr[0:]),
			Size:   order.Uint64(bhdr[4:]),
			Offset: pos + blockHeaderSize,
		}
		if b.Offset+b.Size > size {
			return nil, errors.Wrapf(basics.ErrFormat, "block %d payload past end of file", i)
		}
		f.blocks = append(f.blocks, b)
		pos = b.Offset + b.Size
	}

	if verify && f.checksum == ChecksumMD5 {
		want := hdr[checksumOffset : checksumOffset+checksumSize]
		got, err := f.digest()
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(want, got) {
			return nil, errors.Wrap(basics.ErrFormat, "checksum mismatch")
		}
	}
	return f, nil
}

// ReadBlock loads a block payload into memory.
func (f *File) ReadBlock(b BlockInfo) ([]byte, error) {
	buf := make([]byte, b.Size)
	if err := f.raw.ReadAt(buf, b.Offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// OpenOctree opens the extended octree embedded in a raster ToC block. The
// octree shares the container's file handle; positional reads keep that
// safe for concurrent readers of different bricks.
func (f *File) OpenOctree(b BlockInfo) (*octree.ExtendedOctree, error) {
	if b.Tag != BlockTOC {
		return nil, errors.Wrapf(basics.ErrFormat, "block tag %d is not a raster ToC block", b.Tag)
	}
	return octree.Open(f.raw, b.Offset, f.ByteOrder())
}

// Close releases the container's file handle.
func (f *File) Close() error {
	if f.raw == nil {
		return nil
	}
	err := f.raw.Close()
	f.raw = nil
	return err
}
