package octree

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
)

// ConversionOptions carries the knobs of a conversion run. The zero value
// is not usable; start from DefaultOptions.
type ConversionOptions struct {
	// MaxBrickSize is the maximum brick extent including overlap.
	MaxBrickSize [3]uint32
	// Overlap is the voxel border replicated between adjacent bricks.
	Overlap uint32
	// CacheBytes bounds the RAM the brick cache may use.
	CacheBytes uint64
	// Codec selects the per-brick compression applied by the final pass.
	Codec CodecType
	// QuantizeTo8Bit enables the scan-and-requantize pre-pass.
	QuantizeTo8Bit bool
	// SkipStats disables per-brick statistics collection.
	SkipStats bool
	// ByteOrder of the produced octree header and ToC. Little-endian when
	// nil; set by the container when it declares big-endian.
	ByteOrder binary.ByteOrder
	// Logger receives progress and diagnostics; nil means silent.
	Logger basics.Logger
}

// DefaultOptions returns the conversion defaults: 128^3 bricks with an
// overlap of two voxels, a 512 MiB cache and deflate compression.
func DefaultOptions() ConversionOptions {
	return ConversionOptions{
		MaxBrickSize: [3]uint32{128, 128, 128},
		Overlap:      2,
		CacheBytes:   512 << 20,
		Codec:        CodecDeflate,
	}
}

// Converter turns a linear raw volume into a bricked extended octree. One
// converter drives one conversion; Progress and Cancel may be called from
// other goroutines while Convert runs.
type Converter struct {
	opts ConversionOptions
	log  basics.Logger

	progress  atomic.Uint32 // float32 bits
	cancelled atomic.Bool

	layout    *Layout
	cache     *BrickCache
	stats     *BrickStatVec
	histogram []uint64

	processed uint64
	total     uint64

	// scratch buffers, sized to the largest brick, reused across bricks
	work     []byte
	overlapS []byte
	children [8][]byte
}

// NewConverter prepares a converter with the given options.
func NewConverter(opts ConversionOptions) *Converter {
	log := opts.Logger
	if log == nil {
		log = basics.NewNopLogger()
	}
	return &Converter{opts: opts, log: log}
}

// Progress returns the conversion progress in [0,1]. It never blocks and is
// non-decreasing. It advances once per brick filled (permutation or
// downsampling) and reads 1.0 after the last brick is filled; the overlap
// fill, compression and finalize steps that follow do not advance it, so a
// run that fails or is cancelled in those steps also ends at 1.0.
func (c *Converter) Progress() float32 {
	return math.Float32frombits(c.progress.Load())
}

// Cancel requests a cooperative stop. The flag is checked once per brick;
// the partially written output file is deleted and Convert returns
// ErrCancelled.
func (c *Converter) Cancel() { c.cancelled.Store(true) }

// Stats returns the per-brick statistics of the last conversion, or nil
// when statistics were skipped.
func (c *Converter) Stats() *BrickStatVec { return c.stats }

// Histogram returns the 12-bit histogram gathered by the quantization
// pre-pass, or nil when the pass did not run or had to requantize.
func (c *Converter) Histogram() []uint64 { return c.histogram }

func (c *Converter) setProgress(v float32) { c.progress.Store(math.Float32bits(v)) }

func (c *Converter) brickDone() {
	c.processed++
	c.setProgress(float32(float64(c.processed) / float64(c.total)))
}

func (c *Converter) checkCancel() error {
	if c.cancelled.Load() {
		return errors.WithStack(basics.ErrCancelled)
	}
	return nil
}

// Convert reads the linear volume at inOffset of in and writes a bricked
// LoD hierarchy at outOffset of out. On success the returned octree is
// finalized and ready for random-access reads through the same handle. On
// any error, including cancellation, the output file is deleted.
func (c *Converter) Convert(in *basics.LargeRAWFile, inOffset uint64,
	ctype ComponentType, ccount uint64, volumeSize [3]uint64, aspect mgl64.Vec3,
	out *basics.LargeRAWFile, outOffset uint64) (*ExtendedOctree, error) {

	tree, err := c.convert(in, inOffset, ctype, ccount, volumeSize, aspect, out, outOffset)
	if err != nil {
		if derr := out.Delete(); derr != nil {
			c.log.Warnf("could not remove partial output: %v", derr)
		}
		return nil, err
	}
	return tree, nil
}

func (c *Converter) convert(in *basics.LargeRAWFile, inOffset uint64,
	ctype ComponentType, ccount uint64, volumeSize [3]uint64, aspect mgl64.Vec3,
	out *basics.LargeRAWFile, outOffset uint64) (*ExtendedOctree, error) {

	order := c.opts.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}

	if c.opts.QuantizeTo8Bit && ctype != CTUint8 {
		qr, err := QuantizeTo8Bit(in, inOffset, ctype, ccount, volumeSize,
			out.Path()+".quant.tmp", order)
		if err != nil {
			return nil, err
		}
		c.histogram = qr.Histogram
		if qr.Quantized {
			c.log.Infof("requantized %s input to uint8 (range [%g,%g])", ctype, qr.Min, qr.Max)
			defer qr.File.Delete()
			in, inOffset, ctype = qr.File, 0, CTUint8
		}
	}

	layout, err := NewLayout(volumeSize, aspect, c.opts.MaxBrickSize, c.opts.Overlap, ctype, ccount)
	if err != nil {
		return nil, err
	}
	c.layout = layout
	c.total = layout.TotalBrickCount()
	c.processed = 0
	c.setProgress(0)

	tree, err := Create(out, outOffset, layout, order)
	if err != nil {
		return nil, err
	}
	c.cache = newBrickCache(layout, c.opts.CacheBytes)
	if !c.opts.SkipStats {
		c.stats = NewBrickStatVec(c.total, ccount)
		c.cache.onFlush = func(index uint64, data []byte) {
			key, kerr := layout.KeyFromIndex(index)
			if kerr != nil {
				return
			}
			st, serr := computeBrickStats(layout, key, data, order)
			if serr != nil {
				return
			}
			c.stats.Set(index, st)
		}
	}

	c.work = make([]byte, layout.MaxBrickBytes())
	c.overlapS = make([]byte, layout.MaxBrickBytes())
	for i := range c.children {
		c.children[i] = make([]byte, layout.MaxBrickBytes())
	}

	c.log.Infof("converting %dx%dx%d %s volume: %d LoDs, %d bricks",
		volumeSize[0], volumeSize[1], volumeSize[2], ctype, layout.LoDCount(), c.total)

	if err := c.permuteInputData(tree, in, inOffset); err != nil {
		return nil, err
	}
	if err := c.fillOverlap(tree, 0); err != nil {
		return nil, err
	}
	for lod := uint32(1); lod < layout.LoDCount(); lod++ {
		// level lod-1 is complete; write it back before building lod
		if err := c.cache.Flush(tree); err != nil {
			return nil, err
		}
		if err := c.downsampleLoD(tree, lod); err != nil {
			return nil, err
		}
		if err := c.fillOverlap(tree, lod); err != nil {
			return nil, err
		}
	}
	if err := c.cache.Flush(tree); err != nil {
		return nil, err
	}
	if err := c.compressPass(tree); err != nil {
		return nil, err
	}
	if err := tree.Finalize(); err != nil {
		return nil, err
	}
	c.setProgress(1)
	c.log.Infof("conversion finished: %d bricks, %d bytes on disk", c.total, tree.Size())
	return tree, nil
}

// permuteInputData reorders the linear input into LoD-0 bricks. Bricks are
// visited in z-slab order so the row reads walk the input mostly forward;
// each inner voxel is read exactly once.
func (c *Converter) permuteInputData(tree *ExtendedOctree, in *basics.LargeRAWFile, inOffset uint64) error {
	l := c.layout
	vol := l.VolumeSize
	voxel := l.VoxelSize()
	o := uint64(l.Overlap)
	cx, cy, cz := l.BrickCount(0)

	for bz := uint32(0); bz < cz; bz++ {
		for by := uint32(0); by < cy; by++ {
			for bx := uint32(0); bx < cx; bx++ {
				if err := c.checkCancel(); err != nil {
					return err
				}
				key := BrickKey{LoD: 0, X: bx, Y: by, Z: bz}
				ext := l.BrickExtent(key)
				inner := l.InnerExtent(key)
				start := l.InnerStart(key)
				data := c.work[:l.BrickBytes(key)]
				clear(data)

				rowBytes := uint64(inner[0]) * voxel
				for z := uint64(0); z < uint64(inner[2]); z++ {
					for y := uint64(0); y < uint64(inner[1]); y++ {
						srcOff := inOffset + (((start[2]+z)*vol[1]+start[1]+y)*vol[0]+start[0])*voxel
						dstOff := (((z+o)*uint64(ext[1]) + y + o) * uint64(ext[0]) + o) * voxel
						if err := in.ReadAt(data[dstOff:dstOff+rowBytes], srcOff); err != nil {
							return err
						}
					}
				}
				if err := c.cache.SetBrick(tree, l.LinearIndex(key), data); err != nil {
					return err
				}
				c.brickDone()
			}
		}
	}
	return nil
}

// fillOverlap completes the overlap borders of every brick of one level.
// The inner regions of the level must be final. Each overlap voxel takes
// the value of its clamped level-space coordinate: in-volume coordinates
// come from the neighbor brick owning them, coordinates outside the volume
// replicate the nearest inner voxel. Bricks move exclusively through the
// cache.
func (c *Converter) fillOverlap(tree *ExtendedOctree, lod uint32) error {
	l := c.layout
	if l.Overlap == 0 {
		return nil
	}
	vol := l.LoDVolume(lod)
	inner := l.InnerBrickSize()
	voxel := int(l.VoxelSize())
	o := int64(l.Overlap)
	cx, cy, cz := l.BrickCount(lod)

	srcLoaded := uint64(invalidBrickIndex)
	var srcExt [3]uint32
	var srcStart [3]uint64

	for bz := uint32(0); bz < cz; bz++ {
		for by := uint32(0); by < cy; by++ {
			for bx := uint32(0); bx < cx; bx++ {
				if err := c.checkCancel(); err != nil {
					return err
				}
				key := BrickKey{LoD: lod, X: bx, Y: by, Z: bz}
				idx := l.LinearIndex(key)
				ext := l.BrickExtent(key)
				innerExt := l.InnerExtent(key)
				start := l.InnerStart(key)

				cached, err := c.cache.GetBrick(tree, idx)
				if err != nil {
					return err
				}
				target := c.work[:len(cached)]
				copy(target, cached)
				srcLoaded = invalidBrickIndex

				for vz := int64(0); vz < int64(ext[2]); vz++ {
					for vy := int64(0); vy < int64(ext[1]); vy++ {
						for vx := int64(0); vx < int64(ext[0]); vx++ {
							if vx >= o && vx < o+int64(innerExt[0]) &&
								vy >= o && vy < o+int64(innerExt[1]) &&
								vz >= o && vz < o+int64(innerExt[2]) {
								continue
							}
							// clamped level-space coordinate of this voxel
							g := [3]uint64{
								clampCoord(int64(start[0])-o+vx, vol[0]),
								clampCoord(int64(start[1])-o+vy, vol[1]),
								clampCoord(int64(start[2])-o+vz, vol[2]),
							}
							src := BrickKey{
								LoD: lod,
								X:   uint32(g[0] / uint64(inner[0])),
								Y:   uint32(g[1] / uint64(inner[1])),
								Z:   uint32(g[2] / uint64(inner[2])),
							}
							var from []byte
							var fExt [3]uint32
							var fStart [3]uint64
							if src == key {
								from, fExt, fStart = target, ext, start
							} else {
								sIdx := l.LinearIndex(src)
								if sIdx != srcLoaded {
									sd, serr := c.cache.GetBrick(tree, sIdx)
									if serr != nil {
										return serr
									}
									copy(c.overlapS[:len(sd)], sd)
									srcLoaded = sIdx
									srcExt = l.BrickExtent(src)
									srcStart = l.InnerStart(src)
								}
								from, fExt, fStart = c.overlapS, srcExt, srcStart
							}
							srcPos := ((int64(g[2]-fStart[2])+o)*int64(fExt[1])+
								int64(g[1]-fStart[1])+o)*int64(fExt[0]) +
								int64(g[0]-fStart[0]) + o
							dstPos := (vz*int64(ext[1])+vy)*int64(ext[0]) + vx
							copy(target[int(dstPos)*voxel:(int(dstPos)+1)*voxel],
								from[int(srcPos)*voxel:(int(srcPos)+1)*voxel])
						}
					}
				}
				if err := c.cache.SetBrick(tree, idx, target); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func clampCoord(v int64, size uint64) uint64 {
	if v < 0 {
		return 0
	}
	if uint64(v) >= size {
		return size - 1
	}
	return uint64(v)
}

// compressPass encodes every brick in index order and compacts the payload
// in place. Compressed bricks are never larger than their raw form (the
// codec falls back to identity), so the append tail can never outrun the
// raw offset of the brick about to be read.
func (c *Converter) compressPass(tree *ExtendedOctree) error {
	if c.opts.Codec != CodecIdentity {
		c.log.Infof("compressing %d bricks with %s", c.total, c.opts.Codec)
	}
	for i := uint64(0); i < c.total; i++ {
		if err := c.checkCancel(); err != nil {
			return err
		}
		key, err := c.layout.KeyFromIndex(i)
		if err != nil {
			return err
		}
		raw := c.work[:c.layout.BrickBytes(key)]
		if err := tree.readRawBrick(i, raw); err != nil {
			return err
		}
		payload, tag, err := encodeBrick(c.opts.Codec, raw)
		if err != nil {
			return err
		}
		if err := tree.AppendBrick(i, payload, uint64(len(raw)), tag); err != nil {
			return err
		}
	}
	return nil
}
