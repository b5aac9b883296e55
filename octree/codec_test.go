package octree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlueBrain/TuvokIO/basics"
	"github.com/pkg/errors"
)

func TestCodec_RoundTrip(t *testing.T) {
	// highly repetitive payload so the real codecs actually win
	compressible := make([]byte, 4096)
	for i := range compressible {
		compressible[i] = byte(i / 512)
	}

	for _, codec := range []CodecType{CodecIdentity, CodecDeflate, CodecSnappy} {
		t.Run(codec.String(), func(t *testing.T) {
			payload, tag, err := encodeBrick(codec, compressible)
			require.NoError(t, err)
			assert.Equal(t, codec, tag)
			if codec != CodecIdentity {
				assert.Less(t, len(payload), len(compressible))
			}

			decoded, err := decodeBrick(payload, tag, uint64(len(compressible)))
			require.NoError(t, err)
			assert.Equal(t, compressible, decoded)
		})
	}
}

func TestCodec_IdentityFallback(t *testing.T) {
	// incompressible noise must fall back to identity storage
	rng := rand.New(rand.NewSource(7))
	noise := make([]byte, 4096)
	rng.Read(noise)

	for _, codec := range []CodecType{CodecDeflate, CodecSnappy} {
		payload, tag, err := encodeBrick(codec, noise)
		require.NoError(t, err)
		assert.Equal(t, CodecIdentity, tag, "%s should have fallen back", codec)
		assert.Equal(t, noise, payload)
	}
}

func TestCodec_Errors(t *testing.T) {
	payload, tag, err := encodeBrick(CodecDeflate, make([]byte, 1024))
	require.NoError(t, err)
	require.Equal(t, CodecDeflate, tag)

	// declared size disagrees with the decoded length
	_, err = decodeBrick(payload, tag, 1023)
	assert.True(t, errors.Is(err, basics.ErrCorruptBrick), "got %v", err)

	// identity payload of the wrong length
	_, err = decodeBrick(make([]byte, 10), CodecIdentity, 11)
	assert.True(t, errors.Is(err, basics.ErrCorruptBrick), "got %v", err)

	// garbage deflate stream
	_, err = decodeBrick([]byte{0xff, 0xff, 0xff, 0xff}, CodecDeflate, 16)
	assert.True(t, errors.Is(err, basics.ErrCodec), "got %v", err)

	// unknown tags in both directions
	_, _, err = encodeBrick(CodecType(9), make([]byte, 8))
	assert.True(t, errors.Is(err, basics.ErrCodec), "got %v", err)
	_, err = decodeBrick(make([]byte, 8), CodecType(9), 8)
	assert.True(t, errors.Is(err, basics.ErrCodec), "got %v", err)
}
