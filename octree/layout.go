package octree

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
)

// BrickKey identifies a single brick: its level of detail and its 3D brick
// coordinates within that level. LoD 0 is the native resolution.
type BrickKey struct {
	LoD uint32
	X   uint32
	Y   uint32
	Z   uint32
}

// Layout holds the geometry of a bricked hierarchy and answers all pure
// coordinate arithmetic: brick counts per level, per-brick extents, the
// mapping between keys and 1D ToC indices, and parent/child relations.
//
// Bricks include an overlap border of Overlap voxels on every face. The
// usable inner size of a brick along axis a is MaxBrickSize[a]-2*Overlap;
// bricks at the far edge of an axis shrink in their inner size, the overlap
// border stays. Overlap voxels outside the volume are replicated from the
// nearest inner voxel at fill time.
type Layout struct {
	VolumeSize     [3]uint64
	Aspect         mgl64.Vec3
	MaxBrickSize   [3]uint32
	Overlap        uint32
	ComponentType  ComponentType
	ComponentCount uint64

	lodCount uint32
	// 1D index of the first brick of each LoD, plus a final element holding
	// the total brick count.
	lodBase []uint64
}

// NewLayout validates the geometry parameters and precomputes the level
// table. Every axis of the maximum brick size must leave at least one inner
// voxel (size >= 2*overlap+1), and the overlap must not exceed the inner
// size so that an overlap border touches at most one neighbor brick.
func NewLayout(volumeSize [3]uint64, aspect mgl64.Vec3, maxBrickSize [3]uint32, overlap uint32,
	ctype ComponentType, ccount uint64) (*Layout, error) {

	if !ctype.Valid() {
		return nil, errors.Wrapf(basics.ErrUnsupportedType, "component type tag %d", uint32(ctype))
	}
	if ccount == 0 {
		return nil, errors.Wrap(basics.ErrOutOfRange, "component count must be at least 1")
	}
	for a := 0; a < 3; a++ {
		if volumeSize[a] == 0 {
			return nil, errors.Wrapf(basics.ErrOutOfRange, "volume size axis %d is zero", a)
		}
		if uint64(maxBrickSize[a]) < 2*uint64(overlap)+1 {
			return nil, errors.Wrapf(basics.ErrOutOfRange,
				"brick size %d on axis %d leaves no inner voxels with overlap %d", maxBrickSize[a], a, overlap)
		}
		if inner := maxBrickSize[a] - 2*overlap; overlap > inner {
			return nil, errors.Wrapf(basics.ErrOutOfRange,
				"overlap %d exceeds inner brick size %d on axis %d", overlap, inner, a)
		}
		if aspect[a] <= 0 {
			return nil, errors.Wrapf(basics.ErrOutOfRange, "aspect ratio axis %d must be positive", a)
		}
	}

	l := &Layout{
		VolumeSize:     volumeSize,
		Aspect:         aspect,
		MaxBrickSize:   maxBrickSize,
		Overlap:        overlap,
		ComponentType:  ctype,
		ComponentCount: ccount,
	}

	// The hierarchy ends at the first level whose brick count is (1,1,1).
	l.lodBase = append(l.lodBase, 0)
	for lod := uint32(0); ; lod++ {
		cx, cy, cz := l.BrickCount(lod)
		l.lodBase = append(l.lodBase, l.lodBase[lod]+uint64(cx)*uint64(cy)*uint64(cz))
		if cx == 1 && cy == 1 && cz == 1 {
			l.lodCount = lod + 1
			break
		}
	}
	return l, nil
}

// InnerBrickSize returns the usable (overlap-free) size of an interior brick.
func (l *Layout) InnerBrickSize() [3]uint32 {
	return [3]uint32{
		l.MaxBrickSize[0] - 2*l.Overlap,
		l.MaxBrickSize[1] - 2*l.Overlap,
		l.MaxBrickSize[2] - 2*l.Overlap,
	}
}

// LoDCount returns the number of levels in the hierarchy.
func (l *Layout) LoDCount() uint32 { return l.lodCount }

// LoDVolume returns the voxel dimensions of a level: ceil(V / 2^lod),
// never below one voxel per axis.
func (l *Layout) LoDVolume(lod uint32) [3]uint64 {
	var v [3]uint64
	for a := 0; a < 3; a++ {
		s := l.VolumeSize[a] >> lod
		if l.VolumeSize[a]&((1<<lod)-1) != 0 {
			s++
		}
		if s == 0 {
			s = 1
		}
		v[a] = s
	}
	return v
}

// BrickCount returns the number of bricks per axis at a level.
func (l *Layout) BrickCount(lod uint32) (uint32, uint32, uint32) {
	vol := l.LoDVolume(lod)
	inner := l.InnerBrickSize()
	var c [3]uint32
	for a := 0; a < 3; a++ {
		c[a] = uint32((vol[a] + uint64(inner[a]) - 1) / uint64(inner[a]))
	}
	return c[0], c[1], c[2]
}

// TotalBrickCount returns the number of bricks across all levels.
func (l *Layout) TotalBrickCount() uint64 { return l.lodBase[l.lodCount] }

// ValidKey reports whether a key addresses an existing brick.
func (l *Layout) ValidKey(key BrickKey) bool {
	if key.LoD >= l.lodCount {
		return false
	}
	cx, cy, cz := l.BrickCount(key.LoD)
	return key.X < cx && key.Y < cy && key.Z < cz
}

// InnerExtent returns the overlap-free voxel extent of a brick. Interior
// bricks have the full inner size; the last brick of an axis holds whatever
// remains of the level volume.
func (l *Layout) InnerExtent(key BrickKey) [3]uint32 {
	vol := l.LoDVolume(key.LoD)
	inner := l.InnerBrickSize()
	coords := [3]uint32{key.X, key.Y, key.Z}
	var e [3]uint32
	for a := 0; a < 3; a++ {
		rest := vol[a] - uint64(coords[a])*uint64(inner[a])
		if rest > uint64(inner[a]) {
			rest = uint64(inner[a])
		}
		e[a] = uint32(rest)
	}
	return e
}

// BrickExtent returns the stored voxel extent of a brick including the
// overlap border on both sides of every axis.
func (l *Layout) BrickExtent(key BrickKey) [3]uint32 {
	e := l.InnerExtent(key)
	for a := 0; a < 3; a++ {
		e[a] += 2 * l.Overlap
	}
	return e
}

// InnerStart returns the level-space voxel coordinate of the first inner
// voxel of a brick.
func (l *Layout) InnerStart(key BrickKey) [3]uint64 {
	inner := l.InnerBrickSize()
	return [3]uint64{
		uint64(key.X) * uint64(inner[0]),
		uint64(key.Y) * uint64(inner[1]),
		uint64(key.Z) * uint64(inner[2]),
	}
}

// VoxelSize returns the byte size of one voxel (all components).
func (l *Layout) VoxelSize() uint64 { return l.ComponentCount * l.ComponentType.Size() }

// BrickBytes returns the byte size of a brick's stored payload.
func (l *Layout) BrickBytes(key BrickKey) uint64 {
	e := l.BrickExtent(key)
	return uint64(e[0]) * uint64(e[1]) * uint64(e[2]) * l.VoxelSize()
}

// MaxBrickBytes returns the byte size of the largest possible brick.
func (l *Layout) MaxBrickBytes() uint64 {
	return uint64(l.MaxBrickSize[0]) * uint64(l.MaxBrickSize[1]) * uint64(l.MaxBrickSize[2]) * l.VoxelSize()
}

// LinearIndex maps a key to its 1D ToC index. The caller must pass a valid
// key; use ValidKey to range-check external input first.
func (l *Layout) LinearIndex(key BrickKey) uint64 {
	cx, cy, _ := l.BrickCount(key.LoD)
	return l.lodBase[key.LoD] +
		uint64(key.Z)*uint64(cx)*uint64(cy) +
		uint64(key.Y)*uint64(cx) +
		uint64(key.X)
}

// KeyFromIndex inverts LinearIndex.
func (l *Layout) KeyFromIndex(index uint64) (BrickKey, error) {
	if index >= l.TotalBrickCount() {
		return BrickKey{}, errors.Wrapf(basics.ErrOutOfRange, "brick index %d of %d", index, l.TotalBrickCount())
	}
	lod := uint32(0)
	for index >= l.lodBase[lod+1] {
		lod++
	}
	rel := index - l.lodBase[lod]
	cx, cy, _ := l.BrickCount(lod)
	plane := uint64(cx) * uint64(cy)
	return BrickKey{
		LoD: lod,
		X:   uint32(rel % uint64(cx)),
		Y:   uint32((rel % plane) / uint64(cx)),
		Z:   uint32(rel / plane),
	}, nil
}

// ChildCoords returns the up to eight bricks of the next finer level that a
// brick at LoD >= 1 is downsampled from. Children missing because the finer
// level is smaller along an axis are omitted.
func (l *Layout) ChildCoords(key BrickKey) []BrickKey {
	if key.LoD == 0 {
		return nil
	}
	cx, cy, cz := l.BrickCount(key.LoD - 1)
	children := make([]BrickKey, 0, 8)
	for dz := uint32(0); dz < 2; dz++ {
		for dy := uint32(0); dy < 2; dy++ {
			for dx := uint32(0); dx < 2; dx++ {
				c := BrickKey{LoD: key.LoD - 1, X: 2*key.X + dx, Y: 2*key.Y + dy, Z: 2*key.Z + dz}
				if c.X < cx && c.Y < cy && c.Z < cz {
					children = append(children, c)
				}
			}
		}
	}
	return children
}
