package uvf

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlueBrain/TuvokIO/basics"
	"github.com/BlueBrain/TuvokIO/octree"
	"github.com/pkg/errors"
)

func mgl64OneVec() mgl64.Vec3 { return mgl64.Vec3{1, 1, 1} }

func TestContainer_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.uvf")

	payloads := map[uint32][]byte{
		BlockKeyValue: []byte("some key value bytes"),
		BlockGeometry: {0x01, 0x02, 0x03, 0x04, 0x05},
	}
	f, err := Create(path, false, ChecksumMD5)
	require.NoError(t, err)
	require.NoError(t, f.AddBlock(BlockKeyValue, payloads[BlockKeyValue]))
	require.NoError(t, f.AddBlock(BlockGeometry, payloads[BlockGeometry]))
	require.NoError(t, f.Finalize())
	require.NoError(t, f.Close())

	r, err := Open(path, true)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.Blocks(), 2)
	for tag, want := range payloads {
		b, ok := r.BlockByTag(tag)
		require.True(t, ok, "tag %d", tag)
		got, err := r.ReadBlock(b)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestContainer_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.uvf")
	f, err := Create(path, false, ChecksumMD5)
	require.NoError(t, err)
	require.NoError(t, f.AddBlock(BlockKeyValue, []byte("payload")))
	require.NoError(t, f.Finalize())
	require.NoError(t, f.Close())

	// flip one payload byte
	raw, err := basics.Open(path)
	require.NoError(t, err)
	require.NoError(t, raw.WriteAt([]byte{0xff}, headerSize+blockHeaderSize))
	require.NoError(t, raw.Close())

	// without verification the file still opens
	r, err := Open(path, false)
	require.NoError(t, err)
	r.Close()

	_, err = Open(path, true)
	assert.True(t, errors.Is(err, basics.ErrFormat), "got %v", err)
}

func TestContainer_BadMagicAndVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.uvf")
	f, err := Create(path, false, ChecksumNone)
	require.NoError(t, err)
	require.NoError(t, f.Finalize())
	require.NoError(t, f.Close())

	raw, err := basics.Open(path)
	require.NoError(t, err)
	require.NoError(t, raw.WriteAt([]byte("NOPE"), 0))
	require.NoError(t, raw.Close())
	_, err = Open(path, false)
	assert.True(t, errors.Is(err, basics.ErrFormat), "got %v", err)

	raw, err = basics.Open(path)
	require.NoError(t, err)
	require.NoError(t, raw.WriteAt([]byte(fileMagic), 0))
	ver := make([]byte, 8)
	binary.LittleEndian.PutUint64(ver, 99)
	require.NoError(t, raw.WriteAt(ver, 4))
	require.NoError(t, raw.Close())
	_, err = Open(path, false)
	assert.True(t, errors.Is(err, basics.ErrFormat), "got %v", err)
}

func TestKeyValueBlock_RoundTrip(t *testing.T) {
	kv := map[string]string{
		"source-file": "brain.raw",
		"modality":    "CT",
		"empty":       "",
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		payload := EncodeKeyValue(kv, order)
		got, err := DecodeKeyValue(payload, order)
		require.NoError(t, err)
		assert.Equal(t, kv, got)
	}

	// deterministic bytes regardless of map iteration order
	assert.Equal(t, EncodeKeyValue(kv, binary.LittleEndian), EncodeKeyValue(kv, binary.LittleEndian))

	_, err := DecodeKeyValue([]byte{1, 2, 3}, binary.LittleEndian)
	assert.True(t, errors.Is(err, basics.ErrFormat), "got %v", err)
}

func TestMaxMinBlock_RoundTrip(t *testing.T) {
	stats := octree.NewBrickStatVec(3, 2)
	for i := range stats.Stats {
		stats.Stats[i] = octree.BrickStats{Min: float64(i) * -1.5, Max: float64(i) * 2.25}
	}
	payload := EncodeMaxMin(stats, binary.LittleEndian)
	got, err := DecodeMaxMin(payload, binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, stats.ComponentCount, got.ComponentCount)
	assert.Equal(t, stats.Stats, got.Stats)

	_, err = DecodeMaxMin(payload[:len(payload)-1], binary.LittleEndian)
	assert.True(t, errors.Is(err, basics.ErrFormat), "got %v", err)
}

func TestGeometryBlock_RoundTrip(t *testing.T) {
	g := &Geometry{
		Description: "clip plane",
		Vertices:    []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Normals:     []float32{0, 0, 1, 0, 0, 1, 0, 0, 1},
		Indices:     []uint32{0, 1, 2},
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		payload := EncodeGeometry(g, order)
		got, err := DecodeGeometry(payload, order)
		require.NoError(t, err)
		assert.Equal(t, g, got)

		_, err = DecodeGeometry(payload[:10], order)
		assert.True(t, errors.Is(err, basics.ErrFormat), "got %v", err)
	}
}

func TestFlatDataToBrickedLoD(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "input.raw")
	input := make([]byte, 8*8*8)
	for i := range input {
		input[i] = byte(i % 200)
	}
	require.NoError(t, os.WriteFile(srcPath, input, 0o644))

	dstPath := filepath.Join(dir, "out.uvf")
	opts := DatasetOptions{
		ConversionOptions: octree.ConversionOptions{
			MaxBrickSize: [3]uint32{4, 4, 4},
			Overlap:      1,
			CacheBytes:   1 << 20,
			Codec:        octree.CodecDeflate,
		},
		Checksum: ChecksumMD5,
		Metadata: map[string]string{"modality": "synthetic"},
	}
	require.NoError(t, FlatDataToBrickedLoD(srcPath, 0, octree.CTUint8, 1,
		[3]uint64{8, 8, 8}, mgl64OneVec(), dstPath, opts))

	// the octree temp file is gone
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	f, err := Open(dstPath, true)
	require.NoError(t, err)
	defer f.Close()

	// the raster block reopens as a working octree
	tocBlock, ok := f.BlockByTag(BlockTOC)
	require.True(t, ok)
	tree, err := f.OpenOctree(tocBlock)
	require.NoError(t, err)
	assert.EqualValues(t, 3, tree.Layout().LoDCount())

	exportPath := filepath.Join(dir, "export.raw")
	require.NoError(t, octree.ExportToRAWFile(tree, exportPath, 0))
	got, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	// statistics cover every brick
	mmBlock, ok := f.BlockByTag(BlockMaxMin)
	require.True(t, ok)
	payload, err := f.ReadBlock(mmBlock)
	require.NoError(t, err)
	stats, err := DecodeMaxMin(payload, f.ByteOrder())
	require.NoError(t, err)
	assert.EqualValues(t, tree.Layout().TotalBrickCount(), uint64(len(stats.Stats)))

	// metadata carries the user pairs plus the generated entries
	kvBlock, ok := f.BlockByTag(BlockKeyValue)
	require.True(t, ok)
	payload, err = f.ReadBlock(kvBlock)
	require.NoError(t, err)
	kv, err := DecodeKeyValue(payload, f.ByteOrder())
	require.NoError(t, err)
	assert.Equal(t, "synthetic", kv["modality"])
	assert.Equal(t, srcPath, kv[KVSourceFile])
	assert.NotEmpty(t, kv[KVDatasetUUID])
}

func TestFlatDataToBrickedLoD_CancelLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "input.raw")
	require.NoError(t, os.WriteFile(srcPath, make([]byte, 512), 0o644))

	dstPath := filepath.Join(dir, "out.uvf")
	opts := DatasetOptions{
		ConversionOptions: octree.ConversionOptions{
			MaxBrickSize: [3]uint32{4, 4, 4},
			Overlap:      1,
			CacheBytes:   1 << 20,
		},
		OnConverter: func(c *octree.Converter) { c.Cancel() },
	}
	err := FlatDataToBrickedLoD(srcPath, 0, octree.CTUint8, 1,
		[3]uint64{8, 8, 8}, mgl64OneVec(), dstPath, opts)
	assert.True(t, errors.Is(err, basics.ErrCancelled), "got %v", err)

	// neither a container nor a temporary file survives
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		if e.Name() != "input.raw" {
			left = append(left, e.Name())
		}
	}
	assert.Empty(t, left)
}

func TestFlatDataToBrickedLoD_BigEndian(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "input.raw")
	input := make([]byte, 4*4*4)
	for i := range input {
		input[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(srcPath, input, 0o644))

	dstPath := filepath.Join(dir, "out.uvf")
	opts := DatasetOptions{
		ConversionOptions: octree.ConversionOptions{
			MaxBrickSize: [3]uint32{4, 4, 4},
			CacheBytes:   1 << 20,
		},
		BigEndian: true,
		Checksum:  ChecksumMD5,
	}
	require.NoError(t, FlatDataToBrickedLoD(srcPath, 0, octree.CTUint8, 1,
		[3]uint64{4, 4, 4}, mgl64OneVec(), dstPath, opts))

	f, err := Open(dstPath, true)
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, f.BigEndian())
	assert.Equal(t, binary.BigEndian, f.ByteOrder())

	tocBlock, ok := f.BlockByTag(BlockTOC)
	require.True(t, ok)
	tree, err := f.OpenOctree(tocBlock)
	require.NoError(t, err)
	got := make([]byte, 64)
	require.NoError(t, tree.GetBrickData(got, octree.BrickKey{}))
	assert.Equal(t, input, got)
}
