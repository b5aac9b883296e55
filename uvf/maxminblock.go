package uvf

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
	"github.com/BlueBrain/TuvokIO/octree"
)

// The max-min block serializes the converter's per-brick statistics in ToC
// order: brick count u64, component count u64, then (min f64, max f64) per
// brick and component.

// EncodeMaxMin renders a statistics vector as a max-min block payload.
func EncodeMaxMin(stats *octree.BrickStatVec, order binary.ByteOrder) []byte {
	n := uint64(len(stats.Stats))
	buf := make([]byte, 16+16*n)
	order.PutUint64(buf[0:], n/stats.ComponentCount)
	order.PutUint64(buf[8:], stats.ComponentCount)
	for i, e := range stats.Stats {
		order.PutUint64(buf[16+16*i:], math.Float64bits(e.Min))
		order.PutUint64(buf[24+16*i:], math.Float64bits(e.Max))
	}
	return buf
}

// DecodeMaxMin parses a max-min block payload.
func DecodeMaxMin(payload []byte, order binary.ByteOrder) (*octree.BrickStatVec, error) {
	if len(payload) < 16 {
		return nil, errors.Wrap(basics.ErrFormat, "max-min block too short")
	}
	bricks := order.Uint64(payload[0:])
	ccount := order.Uint64(payload[8:])
	if ccount == 0 {
		return nil, errors.Wrap(basics.ErrFormat, "max-min block has zero components")
	}
	n := bricks * ccount
	if uint64(len(payload)) != 16+16*n {
		return nil, errors.Wrapf(basics.ErrFormat,
			"max-min block is %d bytes, expected %d for %d entries", len(payload), 16+16*n, n)
	}
	stats := octree.NewBrickStatVec(bricks, ccount)
	for i := range stats.Stats {
		stats.Stats[i] = octree.BrickStats{
			Min: math.Float64frombits(order.Uint64(payload[16+16*i:])),
			Max: math.Float64frombits(order.Uint64(payload[24+16*i:])),
		}
	}
	return stats, nil
}
