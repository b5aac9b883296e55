package octree

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
)

// BrickStats is the value range of one component of one brick, always
// carried as double precision regardless of the component type.
type BrickStats struct {
	Min float64
	Max float64
}

// BrickStatVec accumulates per-brick, per-component statistics in ToC index
// order. Entry i*componentCount+c belongs to component c of brick i.
type BrickStatVec struct {
	ComponentCount uint64
	Stats          []BrickStats
}

// NewBrickStatVec allocates a statistics vector for brickCount bricks.
func NewBrickStatVec(brickCount, componentCount uint64) *BrickStatVec {
	return &BrickStatVec{
		ComponentCount: componentCount,
		Stats:          make([]BrickStats, brickCount*componentCount),
	}
}

// Set overwrites the statistics of one brick. Recomputing a brick that is
// flushed more than once during conversion just overwrites the old values.
func (s *BrickStatVec) Set(index uint64, stats []BrickStats) {
	copy(s.Stats[index*s.ComponentCount:(index+1)*s.ComponentCount], stats)
}

// MinMax returns the value range of a brick across all components.
func (s *BrickStatVec) MinMax(index uint64) (float64, float64, error) {
	if (index+1)*s.ComponentCount > uint64(len(s.Stats)) {
		return 0, 0, errors.Wrapf(basics.ErrOutOfRange, "brick index %d", index)
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for c := uint64(0); c < s.ComponentCount; c++ {
		e := s.Stats[index*s.ComponentCount+c]
		lo = math.Min(lo, e.Min)
		hi = math.Max(hi, e.Max)
	}
	return lo, hi, nil
}

// ContainsValue reports whether v lies within the brick's value range.
func (s *BrickStatVec) ContainsValue(index uint64, v float64) (bool, error) {
	lo, hi, err := s.MinMax(index)
	if err != nil {
		return false, err
	}
	return lo <= v && v <= hi, nil
}

// ContainsRange reports whether [lo,hi] intersects the brick's value range.
func (s *BrickStatVec) ContainsRange(index uint64, lo, hi float64) (bool, error) {
	bLo, bHi, err := s.MinMax(index)
	if err != nil {
		return false, err
	}
	return lo <= bHi && hi >= bLo, nil
}

// computeBrickStats runs a single min/max pass over the inner region of a
// brick payload. The overlap border duplicates neighbor data and would make
// the per-brick range non-tight, so it is skipped.
func computeBrickStats(layout *Layout, key BrickKey, data []byte, order binary.ByteOrder) ([]BrickStats, error) {
	read, _, err := samplerFor(layout.ComponentType, order)
	if err != nil {
		return nil, err
	}
	ccount := int(layout.ComponentCount)
	stats := make([]BrickStats, ccount)
	for c := range stats {
		stats[c] = BrickStats{Min: math.Inf(1), Max: math.Inf(-1)}
	}

	ext := layout.BrickExtent(key)
	inner := layout.InnerExtent(key)
	o := int(layout.Overlap)
	for z := 0; z < int(inner[2]); z++ {
		for y := 0; y < int(inner[1]); y++ {
			row := ((z+o)*int(ext[1])+(y+o))*int(ext[0]) + o
			for x := 0; x < int(inner[0]); x++ {
				base := (row + x) * ccount
				for c := 0; c < ccount; c++ {
					v := read(data, base+c)
					if v < stats[c].Min {
						stats[c].Min = v
					}
					if v > stats[c].Max {
						stats[c].Max = v
					}
				}
			}
		}
	}
	return stats, nil
}
