package octree

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
)

// On-disk layout of an extended octree, all offsets relative to the octree's
// start within its file so the whole stream can be embedded in a container
// at any position:
//
//	header (108 bytes) | brick payloads | ToC (32 bytes per brick)
//
// Header fields in order: magic "EOCT", version u32, component type u32,
// component count u32, volume size 3xu64, aspect 3xf64, max brick size
// 3xu32, overlap u32, LoD count u32, ToC entry count u64, ToC offset u64,
// payload offset u64. Integer byte order follows the enclosing container.
const (
	octreeMagic   = "EOCT"
	octreeVersion = 1
	headerSize    = 108
	tocEntrySize  = 32
)

// TocEntry is one fixed-width table-of-contents record. Offset is relative
// to the octree start.
type TocEntry struct {
	Offset           uint64
	SizeCompressed   uint64
	SizeUncompressed uint64
	Codec            uint32
	Reserved         uint32
}

// ExtendedOctree is the on-disk brick store. It is created and populated by
// the converter, finalized once, and read-only forever after. The store owns
// its file handle for writing; readers sharing one handle rely on positional
// I/O being race-free and the in-memory ToC being immutable after Open.
type ExtendedOctree struct {
	file   *basics.LargeRAWFile
	offset uint64
	order  binary.ByteOrder

	layout *Layout
	toc    []TocEntry

	// write-side state
	writable bool
	// rawOffset[i] is the precomputed offset of brick i's uncompressed
	// payload during conversion; rawOffset[n] is the uncompressed tail.
	rawOffset []uint64
	// tail of the compacted payload while the compression pass runs
	payloadTail uint64
	finalized   bool
}

// Layout exposes the geometry of the stored hierarchy.
func (t *ExtendedOctree) Layout() *Layout { return t.layout }

// ByteOrder returns the integer byte order of the on-disk header and ToC.
func (t *ExtendedOctree) ByteOrder() binary.ByteOrder { return t.order }

// ToC returns the table of contents. Callers must not modify it.
func (t *ExtendedOctree) ToC() []TocEntry { return t.toc }

// Size returns the total on-disk size of the octree stream in bytes. Only
// meaningful after Finalize or Open.
func (t *ExtendedOctree) Size() uint64 {
	if len(t.toc) == 0 {
		return headerSize
	}
	return t.payloadTail + uint64(len(t.toc))*tocEntrySize
}

// Create initializes a fresh octree at the given offset of an open file.
// The header is written immediately with a zero ToC offset and rewritten by
// Finalize. If order is nil the octree is little-endian.
func Create(file *basics.LargeRAWFile, offset uint64, layout *Layout, order binary.ByteOrder) (*ExtendedOctree, error) {
	if order == nil {
		order = binary.LittleEndian
	}
	n := layout.TotalBrickCount()
	t := &ExtendedOctree{
		file:      file,
		offset:    offset,
		order:     order,
		layout:    layout,
		toc:       make([]TocEntry, n),
		writable:  true,
		rawOffset: make([]uint64, n+1),
	}
	tail := uint64(headerSize)
	for i := uint64(0); i < n; i++ {
		t.rawOffset[i] = tail
		key, _ := layout.KeyFromIndex(i)
		tail += layout.BrickBytes(key)
	}
	t.rawOffset[n] = tail
	t.payloadTail = uint64(headerSize)
	if err := t.writeHeader(0); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ExtendedOctree) writeHeader(tocOffset uint64) error {
	buf := make([]byte, headerSize)
	copy(buf[0:4], octreeMagic)
	t.order.PutUint32(buf[4:], octreeVersion)
	t.order.PutUint32(buf[8:], uint32(t.layout.ComponentType))
	t.order.PutUint32(buf[12:], uint32(t.layout.ComponentCount))
	for a := 0; a < 3; a++ {
		t.order.PutUint64(buf[16+8*a:], t.layout.VolumeSize[a])
		t.order.PutUint64(buf[40+8*a:], math.Float64bits(t.layout.Aspect[a]))
		t.order.PutUint32(buf[64+4*a:], t.layout.MaxBrickSize[a])
	}
	t.order.PutUint32(buf[76:], t.layout.Overlap)
	t.order.PutUint32(buf[80:], t.layout.LoDCount())
	t.order.PutUint64(buf[84:], uint64(len(t.toc)))
	t.order.PutUint64(buf[92:], tocOffset)
	t.order.PutUint64(buf[100:], headerSize)
	return t.file.WriteAt(buf, t.offset)
}

// writeRawBrick stores a brick's uncompressed payload at its precomputed
// conversion-time offset. Rewriting a brick in place (e.g. after overlap
// fill) is allowed until the compression pass runs.
func (t *ExtendedOctree) writeRawBrick(index uint64, data []byte) error {
	if !t.writable || t.finalized {
		return errors.Wrap(basics.ErrIO, "octree is not writable")
	}
	if index >= uint64(len(t.toc)) {
		return errors.Wrapf(basics.ErrOutOfRange, "brick index %d of %d", index, len(t.toc))
	}
	if want := t.rawOffset[index+1] - t.rawOffset[index]; uint64(len(data)) != want {
		return errors.Wrapf(basics.ErrCorruptBrick, "brick %d payload is %d bytes, expected %d", index, len(data), want)
	}
	return t.file.WriteAt(data, t.offset+t.rawOffset[index])
}

// readRawBrick loads a brick's uncompressed conversion-time payload.
func (t *ExtendedOctree) readRawBrick(index uint64, out []byte) error {
	if index >= uint64(len(t.toc)) {
		return errors.Wrapf(basics.ErrOutOfRange, "brick index %d of %d", index, len(t.toc))
	}
	return t.file.ReadAt(out, t.offset+t.rawOffset[index])
}

// AppendBrick writes an encoded brick payload at the current payload tail
// and fills its ToC slot. Bricks must be appended in strictly increasing
// index order; the converter's compression pass relies on the compacted tail
// never outrunning the raw offset of the brick it is about to read.
func (t *ExtendedOctree) AppendBrick(index uint64, payload []byte, sizeUncompressed uint64, codec CodecType) error {
	if !t.writable || t.finalized {
		return errors.Wrap(basics.ErrIO, "octree is not writable")
	}
	if index >= uint64(len(t.toc)) {
		return errors.Wrapf(basics.ErrOutOfRange, "brick index %d of %d", index, len(t.toc))
	}
	if err := t.file.WriteAt(payload, t.offset+t.payloadTail); err != nil {
		return err
	}
	t.toc[index] = TocEntry{
		Offset:           t.payloadTail,
		SizeCompressed:   uint64(len(payload)),
		SizeUncompressed: sizeUncompressed,
		Codec:            uint32(codec),
	}
	t.payloadTail += uint64(len(payload))
	return nil
}

// Finalize writes the ToC after the payload, rewrites the header with the
// final ToC offset, and trims the file of any conversion-time slack. The
// octree is read-only afterwards.
func (t *ExtendedOctree) Finalize() error {
	if !t.writable || t.finalized {
		return errors.Wrap(basics.ErrIO, "octree is not writable")
	}
	tocOffset := t.payloadTail
	buf := make([]byte, tocEntrySize*len(t.toc))
	for i, e := range t.toc {
		off := i * tocEntrySize
		t.order.PutUint64(buf[off:], e.Offset)
		t.order.PutUint64(buf[off+8:], e.SizeCompressed)
		t.order.PutUint64(buf[off+16:], e.SizeUncompressed)
		t.order.PutUint32(buf[off+24:], e.Codec)
		t.order.PutUint32(buf[off+28:], e.Reserved)
	}
	if err := t.file.WriteAt(buf, t.offset+tocOffset); err != nil {
		return err
	}
	if err := t.writeHeader(tocOffset); err != nil {
		return err
	}
	if err := t.file.Truncate(t.offset + tocOffset + uint64(len(buf))); err != nil {
		return err
	}
	t.finalized = true
	t.writable = false
	t.rawOffset = nil
	return nil
}

// Open reads an octree header from an open file at the given offset,
// validates it and loads the ToC into memory. On any format error the
// returned octree is nil and the file is left untouched.
func Open(file *basics.LargeRAWFile, offset uint64, order binary.ByteOrder) (*ExtendedOctree, error) {
	if order == nil {
		order = binary.LittleEndian
	}
	buf := make([]byte, headerSize)
	if err := file.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	if string(buf[0:4]) != octreeMagic {
		return nil, errors.Wrapf(basics.ErrFormat, "bad magic %q", buf[0:4])
	}
	if v := order.Uint32(buf[4:]); v != octreeVersion {
		return nil, errors.Wrapf(basics.ErrFormat, "unsupported version %d", v)
	}
	ctype := ComponentType(order.Uint32(buf[8:]))
	ccount := uint64(order.Uint32(buf[12:]))
	var volume [3]uint64
	var aspect mgl64.Vec3
	var maxBrick [3]uint32
	for a := 0; a < 3; a++ {
		volume[a] = order.Uint64(buf[16+8*a:])
		aspect[a] = math.Float64frombits(order.Uint64(buf[40+8*a:]))
		maxBrick[a] = order.Uint32(buf[64+4*a:])
	}
	overlap := order.Uint32(buf[76:])
	lodCount := order.Uint32(buf[80:])
	tocCount := order.Uint64(buf[84:])
	tocOffset := order.Uint64(buf[92:])

	layout, err := NewLayout(volume, aspect, maxBrick, overlap, ctype, ccount)
	if err != nil {
		return nil, errors.Wrapf(basics.ErrFormat, "invalid geometry: %v", err)
	}
	if layout.LoDCount() != lodCount || layout.TotalBrickCount() != tocCount {
		return nil, errors.Wrapf(basics.ErrFormat,
			"level table mismatch: header declares %d LoDs / %d bricks, geometry gives %d / %d",
			lodCount, tocCount, layout.LoDCount(), layout.TotalBrickCount())
	}

	tocBuf := make([]byte, tocCount*tocEntrySize)
	if err := file.ReadAt(tocBuf, offset+tocOffset); err != nil {
		return nil, err
	}
	toc := make([]TocEntry, tocCount)
	for i := range toc {
		off := i * tocEntrySize
		toc[i] = TocEntry{
			Offset:           order.Uint64(tocBuf[off:]),
			SizeCompressed:   order.Uint64(tocBuf[off+8:]),
			SizeUncompressed: order.Uint64(tocBuf[off+16:]),
			Codec:            order.Uint32(tocBuf[off+24:]),
			Reserved:         order.Uint32(tocBuf[off+28:]),
		}
	}
	return &ExtendedOctree{
		file:        file,
		offset:      offset,
		order:       order,
		layout:      layout,
		toc:         toc,
		payloadTail: tocOffset,
		finalized:   true,
	}, nil
}

// OpenFile opens a standalone octree file (one produced by the converter
// without a container around it).
func OpenFile(path string, order binary.ByteOrder) (*ExtendedOctree, error) {
	f, err := basics.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	t, err := Open(f, 0, order)
	if err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

// Close releases the underlying file handle.
func (t *ExtendedOctree) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// ReadBrickPayload returns the stored (possibly compressed) bytes of a
// brick together with its ToC entry. A payload range outside the file marks
// the single brick as corrupt; other bricks stay readable.
func (t *ExtendedOctree) ReadBrickPayload(index uint64) ([]byte, TocEntry, error) {
	if index >= uint64(len(t.toc)) {
		return nil, TocEntry{}, errors.Wrapf(basics.ErrOutOfRange, "brick index %d of %d", index, len(t.toc))
	}
	e := t.toc[index]
	fileSize, err := t.file.Size()
	if err != nil {
		return nil, TocEntry{}, err
	}
	end := t.offset + e.Offset + e.SizeCompressed
	if end < e.Offset || end > fileSize {
		return nil, TocEntry{}, errors.Wrapf(basics.ErrCorruptBrick,
			"brick %d range [%d,%d) exceeds file size %d", index, e.Offset, e.Offset+e.SizeCompressed, fileSize)
	}
	payload := make([]byte, e.SizeCompressed)
	if err := t.file.ReadAt(payload, t.offset+e.Offset); err != nil {
		return nil, TocEntry{}, err
	}
	return payload, e, nil
}

// GetBrickByIndex decodes a brick into out, whose length must equal the
// brick's uncompressed size.
func (t *ExtendedOctree) GetBrickByIndex(out []byte, index uint64) error {
	payload, e, err := t.ReadBrickPayload(index)
	if err != nil {
		return err
	}
	if uint64(len(out)) != e.SizeUncompressed {
		return errors.Wrapf(basics.ErrCorruptBrick,
			"brick %d: output buffer is %d bytes, uncompressed size is %d", index, len(out), e.SizeUncompressed)
	}
	decoded, err := decodeBrick(payload, CodecType(e.Codec), e.SizeUncompressed)
	if err != nil {
		return errors.Wrapf(err, "brick %d", index)
	}
	copy(out, decoded)
	return nil
}

// GetBrickData decodes the brick addressed by key into out.
func (t *ExtendedOctree) GetBrickData(out []byte, key BrickKey) error {
	if !t.layout.ValidKey(key) {
		return errors.Wrapf(basics.ErrOutOfRange, "brick (%d,%d,%d) at LoD %d", key.X, key.Y, key.Z, key.LoD)
	}
	return t.GetBrickByIndex(out, t.layout.LinearIndex(key))
}
