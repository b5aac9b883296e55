package uvf

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
)

// Geometry carries a triangle mesh attached to a dataset, e.g. a clip
// surface or an imported annotation mesh. The core treats it as a sibling
// block of the raster data; mesh producers and renderers are collaborators.
type Geometry struct {
	Description string
	// Vertices and Normals are packed x,y,z triples.
	Vertices []float32
	Normals  []float32
	// Indices are triangle corner indices into Vertices.
	Indices []uint32
}

// EncodeGeometry renders a mesh as a geometry block payload: description
// length u32 + bytes, vertex float count u64 + f32s, normal float count
// u64 + f32s, index count u64 + u32s.
func EncodeGeometry(g *Geometry, order binary.ByteOrder) []byte {
	size := 4 + len(g.Description) + 8 + 4*len(g.Vertices) + 8 + 4*len(g.Normals) + 8 + 4*len(g.Indices)
	buf := make([]byte, size)
	pos := 0
	order.PutUint32(buf[pos:], uint32(len(g.Description)))
	pos += 4
	copy(buf[pos:], g.Description)
	pos += len(g.Description)

	order.PutUint64(buf[pos:], uint64(len(g.Vertices)))
	pos += 8
	for _, v := range g.Vertices {
		order.PutUint32(buf[pos:], math.Float32bits(v))
		pos += 4
	}
	order.PutUint64(buf[pos:], uint64(len(g.Normals)))
	pos += 8
	for _, v := range g.Normals {
		order.PutUint32(buf[pos:], math.Float32bits(v))
		pos += 4
	}
	order.PutUint64(buf[pos:], uint64(len(g.Indices)))
	pos += 8
	for _, v := range g.Indices {
		order.PutUint32(buf[pos:], v)
		pos += 4
	}
	return buf
}

// DecodeGeometry parses a geometry block payload.
func DecodeGeometry(payload []byte, order binary.ByteOrder) (*Geometry, error) {
	pos := uint64(0)
	need := func(n uint64) error {
		if pos+n > uint64(len(payload)) {
			return errors.Wrap(basics.ErrFormat, "truncated geometry block")
		}
		return nil
	}
	if err := need(4); err != nil {
		return nil, err
	}
	descLen := uint64(order.Uint32(payload[pos:]))
	pos += 4
	if err := need(descLen); err != nil {
		return nil, err
	}
	g := &Geometry{Description: string(payload[pos : pos+descLen])}
	pos += descLen

	readU64 := func() (uint64, error) {
		if err := need(8); err != nil {
			return 0, err
		}
		v := order.Uint64(payload[pos:])
		pos += 8
		return v, nil
	}

	n, err := readU64()
	if err != nil {
		return nil, err
	}
	if err := need(4 * n); err != nil {
		return nil, err
	}
	g.Vertices = make([]float32, n)
	for i := range g.Vertices {
		g.Vertices[i] = math.Float32frombits(order.Uint32(payload[pos:]))
		pos += 4
	}

	if n, err = readU64(); err != nil {
		return nil, err
	}
	if err := need(4 * n); err != nil {
		return nil, err
	}
	g.Normals = make([]float32, n)
	for i := range g.Normals {
		g.Normals[i] = math.Float32frombits(order.Uint32(payload[pos:]))
		pos += 4
	}

	if n, err = readU64(); err != nil {
		return nil, err
	}
	if err := need(4 * n); err != nil {
		return nil, err
	}
	g.Indices = make([]uint32, n)
	for i := range g.Indices {
		g.Indices[i] = order.Uint32(payload[pos:])
		pos += 4
	}
	return g, nil
}
