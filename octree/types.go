package octree

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
)

// ComponentType identifies the scalar type of a voxel component. The
// numeric values are the on-disk tags and must never be reordered.
type ComponentType uint32

const (
	CTUint8 ComponentType = iota
	CTInt8
	CTUint16
	CTInt16
	CTUint32
	CTInt32
	CTUint64
	CTInt64
	CTFloat32
	CTFloat64
)

// Size returns the width of one component in bytes.
func (t ComponentType) Size() uint64 {
	switch t {
	case CTUint8, CTInt8:
		return 1
	case CTUint16, CTInt16:
		return 2
	case CTUint32, CTInt32, CTFloat32:
		return 4
	case CTUint64, CTInt64, CTFloat64:
		return 8
	}
	return 0
}

// Valid reports whether the tag is one of the known component types.
func (t ComponentType) Valid() bool { return t <= CTFloat64 }

func (t ComponentType) String() string {
	switch t {
	case CTUint8:
		return "uint8"
	case CTInt8:
		return "int8"
	case CTUint16:
		return "uint16"
	case CTInt16:
		return "int16"
	case CTUint32:
		return "uint32"
	case CTInt32:
		return "int32"
	case CTUint64:
		return "uint64"
	case CTInt64:
		return "int64"
	case CTFloat32:
		return "float32"
	case CTFloat64:
		return "float64"
	}
	return "unknown"
}

// IsFloat reports whether the component type is a floating point type.
// Downsampled means pass through unchanged for floats while integer types
// are truncated.
func (t ComponentType) IsFloat() bool { return t == CTFloat32 || t == CTFloat64 }

// IsSigned reports whether the component type is signed.
func (t ComponentType) IsSigned() bool {
	switch t {
	case CTInt8, CTInt16, CTInt32, CTInt64, CTFloat32, CTFloat64:
		return true
	}
	return false
}

// sampleReader reads component i of a buffer as float64.
type sampleReader func(b []byte, i int) float64

// sampleWriter stores v into component i of a buffer, truncating toward
// zero for integer types.
type sampleWriter func(b []byte, i int, v float64)

// samplerFor resolves the (read, write) accessor pair for a component type
// once, so the per-voxel inner loops stay monomorphic. Voxel payload bytes
// are interpreted with the given byte order.
func samplerFor(t ComponentType, order binary.ByteOrder) (sampleReader, sampleWriter, error) {
	switch t {
	case CTUint8:
		return func(b []byte, i int) float64 { return float64(b[i]) },
			func(b []byte, i int, v float64) { b[i] = uint8(v) }, nil
	case CTInt8:
		return func(b []byte, i int) float64 { return float64(int8(b[i])) },
			func(b []byte, i int, v float64) { b[i] = byte(int8(v)) }, nil
	case CTUint16:
		return func(b []byte, i int) float64 { return float64(order.Uint16(b[2*i:])) },
			func(b []byte, i int, v float64) { order.PutUint16(b[2*i:], uint16(v)) }, nil
	case CTInt16:
		return func(b []byte, i int) float64 { return float64(int16(order.Uint16(b[2*i:]))) },
			func(b []byte, i int, v float64) { order.PutUint16(b[2*i:], uint16(int16(v))) }, nil
	case CTUint32:
		return func(b []byte, i int) float64 { return float64(order.Uint32(b[4*i:])) },
			func(b []byte, i int, v float64) { order.PutUint32(b[4*i:], uint32(v)) }, nil
	case CTInt32:
		return func(b []byte, i int) float64 { return float64(int32(order.Uint32(b[4*i:]))) },
			func(b []byte, i int, v float64) { order.PutUint32(b[4*i:], uint32(int32(v))) }, nil
	case CTUint64:
		return func(b []byte, i int) float64 { return float64(order.Uint64(b[8*i:])) },
			func(b []byte, i int, v float64) { order.PutUint64(b[8*i:], uint64(v)) }, nil
	case CTInt64:
		return func(b []byte, i int) float64 { return float64(int64(order.Uint64(b[8*i:]))) },
			func(b []byte, i int, v float64) { order.PutUint64(b[8*i:], uint64(int64(v))) }, nil
	case CTFloat32:
		return func(b []byte, i int) float64 { return float64(math.Float32frombits(order.Uint32(b[4*i:]))) },
			func(b []byte, i int, v float64) { order.PutUint32(b[4*i:], math.Float32bits(float32(v))) }, nil
	case CTFloat64:
		return func(b []byte, i int) float64 { return math.Float64frombits(order.Uint64(b[8*i:])) },
			func(b []byte, i int, v float64) { order.PutUint64(b[8*i:], math.Float64bits(v)) }, nil
	}
	return nil, nil, errors.Wrapf(basics.ErrUnsupportedType, "component type tag %d", uint32(t))
}
