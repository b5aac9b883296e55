package octree

import (
	"image"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/BlueBrain/TuvokIO/basics"
)

// SlicePreview extracts one z-slice of a LoD level as an 8-bit grayscale
// image for quick visual checks. Only the first component is sampled; the
// slice is normalized to its own value range. When targetW and targetH are
// both zero the output keeps the slice resolution corrected by the
// volume's physical aspect ratio, otherwise the slice is scaled to the
// requested size with bilinear filtering.
func SlicePreview(tree *ExtendedOctree, lod uint32, z uint64, targetW, targetH int) (*image.Gray, error) {
	l := tree.Layout()
	if lod >= l.LoDCount() {
		return nil, errors.Wrapf(basics.ErrOutOfRange, "LoD %d of %d", lod, l.LoDCount())
	}
	vol := l.LoDVolume(lod)
	if z >= vol[2] {
		return nil, errors.Wrapf(basics.ErrOutOfRange, "slice %d of %d", z, vol[2])
	}
	read, _, err := samplerFor(l.ComponentType, tree.ByteOrder())
	if err != nil {
		return nil, err
	}

	w, h := int(vol[0]), int(vol[1])
	slice := make([]float64, w*h)
	inner := l.InnerBrickSize()
	o := uint64(l.Overlap)
	bz := uint32(z / uint64(inner[2]))
	cx, cy, _ := l.BrickCount(lod)
	ccount := int(l.ComponentCount)

	buf := make([]byte, l.MaxBrickBytes())
	lo, hi := math.Inf(1), math.Inf(-1)
	for by := uint32(0); by < cy; by++ {
		for bx := uint32(0); bx < cx; bx++ {
			key := BrickKey{LoD: lod, X: bx, Y: by, Z: bz}
			ext := l.BrickExtent(key)
			innerExt := l.InnerExtent(key)
			start := l.InnerStart(key)
			data := buf[:l.BrickBytes(key)]
			if err := tree.GetBrickData(data, key); err != nil {
				return nil, err
			}
			lz := z - start[2]
			for y := uint64(0); y < uint64(innerExt[1]); y++ {
				for x := uint64(0); x < uint64(innerExt[0]); x++ {
					pos := ((lz+o)*uint64(ext[1])+y+o)*uint64(ext[0]) + x + o
					v := read(data, int(pos)*ccount)
					slice[(start[1]+y)*uint64(w)+start[0]+x] = v
					if v < lo {
						lo = v
					}
					if v > hi {
						hi = v
					}
				}
			}
		}
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	scale := 0.0
	if hi > lo {
		scale = 255.0 / (hi - lo)
	}
	for i, v := range slice {
		img.Pix[i] = uint8(math.Round((v - lo) * scale))
	}

	if targetW == 0 && targetH == 0 {
		// keep the slice resolution, corrected for anisotropic voxels
		px := mgl64.Vec2{l.Aspect.X() * float64(w), l.Aspect.Y() * float64(h)}
		s := math.Max(px.X()/float64(w), px.Y()/float64(h))
		targetW = int(math.Round(px.X() / s))
		targetH = int(math.Round(px.Y() / s))
	}
	if targetW == w && targetH == h {
		return img, nil
	}
	dst := image.NewGray(image.Rect(0, 0, targetW, targetH))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}
