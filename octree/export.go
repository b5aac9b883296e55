package octree

import (
	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
)

// ExportToRAW writes one LoD level of an octree as a dense, x-fastest
// voxel stream starting at the given offset of the target file. Overlap
// borders are stripped; the inner regions are stitched back together, so
// the output is independent of the brick layout.
func ExportToRAW(tree *ExtendedOctree, out *basics.LargeRAWFile, lod uint32, outOffset uint64) error {
	l := tree.Layout()
	if lod >= l.LoDCount() {
		return errors.Wrapf(basics.ErrOutOfRange, "LoD %d of %d", lod, l.LoDCount())
	}
	vol := l.LoDVolume(lod)
	voxel := l.VoxelSize()
	o := uint64(l.Overlap)
	cx, cy, cz := l.BrickCount(lod)

	buf := make([]byte, l.MaxBrickBytes())
	for bz := uint32(0); bz < cz; bz++ {
		for by := uint32(0); by < cy; by++ {
			for bx := uint32(0); bx < cx; bx++ {
				key := BrickKey{LoD: lod, X: bx, Y: by, Z: bz}
				ext := l.BrickExtent(key)
				inner := l.InnerExtent(key)
				start := l.InnerStart(key)
				data := buf[:l.BrickBytes(key)]
				if err := tree.GetBrickData(data, key); err != nil {
					return err
				}
				rowBytes := uint64(inner[0]) * voxel
				for z := uint64(0); z < uint64(inner[2]); z++ {
					for y := uint64(0); y < uint64(inner[1]); y++ {
						srcOff := (((z+o)*uint64(ext[1]) + y + o) * uint64(ext[0]) + o) * voxel
						dstOff := outOffset + (((start[2]+z)*vol[1]+start[1]+y)*vol[0]+start[0])*voxel
						if err := out.WriteAt(data[srcOff:srcOff+rowBytes], dstOff); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	return nil
}

// ExportToRAWFile is ExportToRAW writing to a fresh file at the given path.
func ExportToRAWFile(tree *ExtendedOctree, path string, lod uint32) error {
	out, err := basics.Create(path)
	if err != nil {
		return err
	}
	if err := ExportToRAW(tree, out, lod, 0); err != nil {
		out.Delete()
		return err
	}
	return out.Close()
}
