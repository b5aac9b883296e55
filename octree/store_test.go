package octree

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlueBrain/TuvokIO/basics"
	"github.com/pkg/errors"
)

// buildStore writes a small finalized octree where brick i's payload is
// filled with byte value i+1, and returns its path.
func buildStore(t *testing.T, codec CodecType, order binary.ByteOrder) (string, *Layout) {
	t.Helper()
	l := mustLayout(t, [3]uint64{8, 8, 8}, [3]uint32{4, 4, 4}, 0, CTUint8, 1)
	require.EqualValues(t, 9, l.TotalBrickCount())

	path := filepath.Join(t.TempDir(), "store.oct")
	f, err := basics.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tree, err := Create(f, 0, l, order)
	require.NoError(t, err)
	for i := uint64(0); i < l.TotalBrickCount(); i++ {
		key, err := l.KeyFromIndex(i)
		require.NoError(t, err)
		raw := make([]byte, l.BrickBytes(key))
		for j := range raw {
			raw[j] = byte(i + 1)
		}
		payload, tag, err := encodeBrick(codec, raw)
		require.NoError(t, err)
		require.NoError(t, tree.AppendBrick(i, payload, uint64(len(raw)), tag))
	}
	require.NoError(t, tree.Finalize())
	return path, l
}

func TestStore_WriteOpenRead(t *testing.T) {
	for _, codec := range []CodecType{CodecIdentity, CodecDeflate} {
		t.Run(codec.String(), func(t *testing.T) {
			path, l := buildStore(t, codec, nil)

			tree, err := OpenFile(path, nil)
			require.NoError(t, err)
			defer tree.Close()

			got := tree.Layout()
			assert.Equal(t, l.VolumeSize, got.VolumeSize)
			assert.Equal(t, l.MaxBrickSize, got.MaxBrickSize)
			assert.Equal(t, l.LoDCount(), got.LoDCount())

			for i := uint64(0); i < l.TotalBrickCount(); i++ {
				key, err := l.KeyFromIndex(i)
				require.NoError(t, err)
				out := make([]byte, l.BrickBytes(key))
				require.NoError(t, tree.GetBrickData(out, key))
				for _, b := range out {
					require.Equal(t, byte(i+1), b, "brick %d", i)
				}
			}

			// payload ranges are packed in index order and never overlap
			toc := tree.ToC()
			for i := 1; i < len(toc); i++ {
				assert.LessOrEqual(t, toc[i-1].Offset+toc[i-1].SizeCompressed, toc[i].Offset)
			}

			// the file holds exactly header + payload + ToC
			size, err := basicsFileSize(path)
			require.NoError(t, err)
			assert.Equal(t, tree.Size(), size)
		})
	}
}

func basicsFileSize(path string) (uint64, error) {
	f, err := basics.OpenReadOnly(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Size()
}

func TestStore_BigEndian(t *testing.T) {
	path, l := buildStore(t, CodecIdentity, binary.BigEndian)

	// a little-endian open must reject the header
	_, err := OpenFile(path, binary.LittleEndian)
	assert.True(t, errors.Is(err, basics.ErrFormat), "got %v", err)

	tree, err := OpenFile(path, binary.BigEndian)
	require.NoError(t, err)
	defer tree.Close()
	assert.Equal(t, l.VolumeSize, tree.Layout().VolumeSize)
}

func TestStore_BadMagic(t *testing.T) {
	path, _ := buildStore(t, CodecIdentity, nil)
	f, err := basics.Open(path)
	require.NoError(t, err)
	require.NoError(t, f.WriteAt([]byte("XXXX"), 0))
	require.NoError(t, f.Close())

	_, err = OpenFile(path, nil)
	assert.True(t, errors.Is(err, basics.ErrFormat), "got %v", err)
}

func TestStore_CorruptBrickIsIsolated(t *testing.T) {
	path, l := buildStore(t, CodecIdentity, nil)

	// blow up brick 3's compressed size so its range leaves the file
	f, err := basics.Open(path)
	require.NoError(t, err)
	hdr := make([]byte, headerSize)
	require.NoError(t, f.ReadAt(hdr, 0))
	tocOffset := binary.LittleEndian.Uint64(hdr[92:])
	entry := make([]byte, 8)
	binary.LittleEndian.PutUint64(entry, 1<<40)
	require.NoError(t, f.WriteAt(entry, tocOffset+3*tocEntrySize+8))
	require.NoError(t, f.Close())

	// opening still succeeds
	tree, err := OpenFile(path, nil)
	require.NoError(t, err)
	defer tree.Close()

	out := make([]byte, l.MaxBrickBytes())
	for i := uint64(0); i < l.TotalBrickCount(); i++ {
		key, kerr := l.KeyFromIndex(i)
		require.NoError(t, kerr)
		err := tree.GetBrickByIndex(out[:l.BrickBytes(key)], i)
		if i == 3 {
			assert.True(t, errors.Is(err, basics.ErrCorruptBrick), "brick 3: got %v", err)
		} else {
			assert.NoError(t, err, "brick %d", i)
		}
	}
}

func TestStore_OutOfRange(t *testing.T) {
	path, l := buildStore(t, CodecIdentity, nil)
	tree, err := OpenFile(path, nil)
	require.NoError(t, err)
	defer tree.Close()

	out := make([]byte, 64)
	err = tree.GetBrickData(out, BrickKey{LoD: l.LoDCount(), X: 0, Y: 0, Z: 0})
	assert.True(t, errors.Is(err, basics.ErrOutOfRange), "got %v", err)
	err = tree.GetBrickData(out, BrickKey{LoD: 0, X: 99, Y: 0, Z: 0})
	assert.True(t, errors.Is(err, basics.ErrOutOfRange), "got %v", err)
}
