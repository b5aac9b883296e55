package octree

import (
	"encoding/binary"
	"math"

	"github.com/BlueBrain/TuvokIO/basics"
)

// histogramBins is the resolution of the value histogram the pre-pass
// gathers: integer datasets of at most 32 bits whose values all fall into
// [0,4095] keep their representation, everything else (all float and 64-bit
// data included) is requantized to uint8.
const histogramBins = 4096

// quantizeChunkVoxels is the number of voxels processed per read while
// scanning the input.
const quantizeChunkVoxels = 1 << 20

// QuantizeResult is the outcome of the 8-bit quantization pre-pass.
type QuantizeResult struct {
	// Min and Max are the global value range across all components.
	Min, Max float64
	// Histogram holds the 12-bit histogram, nil when the data did not fit
	// into twelve bits and had to be requantized.
	Histogram []uint64
	// Quantized tells whether a uint8 copy of the input was produced.
	Quantized bool
	// File is the requantized temporary file when Quantized is set. The
	// caller owns it and is responsible for deleting it.
	File *basics.LargeRAWFile
}

// QuantizeTo8Bit scans the linear input volume once for its value range
// and a 12-bit histogram. Integer data of at most 32 bits (signed or
// unsigned) whose values all lie in [0,4095] passes through untouched with
// its histogram kept; everything else, floats and 64-bit integers included,
// is mapped linearly onto [0,255] into a uint8 temporary file at tempPath.
func QuantizeTo8Bit(in *basics.LargeRAWFile, inOffset uint64, ctype ComponentType,
	ccount uint64, volumeSize [3]uint64, tempPath string, order binary.ByteOrder) (*QuantizeResult, error) {

	read, _, err := samplerFor(ctype, order)
	if err != nil {
		return nil, err
	}
	values := volumeSize[0] * volumeSize[1] * volumeSize[2] * ccount
	csize := ctype.Size()

	// Pass one: value range, and the histogram for as long as it fits.
	res := &QuantizeResult{Min: math.Inf(1), Max: math.Inf(-1)}
	histo := make([]uint64, histogramBins)
	// floats and 64-bit integers never keep their native representation
	fits := !ctype.IsFloat() && ctype != CTUint64 && ctype != CTInt64
	buf := make([]byte, quantizeChunkVoxels*int(csize))
	for pos := uint64(0); pos < values; {
		n := uint64(quantizeChunkVoxels)
		if values-pos < n {
			n = values - pos
		}
		chunk := buf[:n*csize]
		if err := in.ReadAt(chunk, inOffset+pos*csize); err != nil {
			return nil, err
		}
		for i := uint64(0); i < n; i++ {
			v := read(chunk, int(i))
			if v < res.Min {
				res.Min = v
			}
			if v > res.Max {
				res.Max = v
			}
			if fits {
				if v < 0 || v >= histogramBins || v != math.Trunc(v) {
					fits = false
				} else {
					histo[int(v)]++
				}
			}
		}
		pos += n
	}
	if fits {
		res.Histogram = histo
		return res, nil
	}

	// Pass two: linear map onto [0,255] into a uint8 copy.
	tmp, err := basics.Create(tempPath)
	if err != nil {
		return nil, err
	}
	scale := 0.0
	if res.Max > res.Min {
		scale = 255.0 / (res.Max - res.Min)
	}
	out := make([]byte, quantizeChunkVoxels)
	for pos := uint64(0); pos < values; {
		n := uint64(quantizeChunkVoxels)
		if values-pos < n {
			n = values - pos
		}
		chunk := buf[:n*csize]
		if err := in.ReadAt(chunk, inOffset+pos*csize); err != nil {
			tmp.Delete()
			return nil, err
		}
		for i := uint64(0); i < n; i++ {
			out[i] = uint8(math.Round((read(chunk, int(i)) - res.Min) * scale))
		}
		if err := tmp.WriteAt(out[:n], pos); err != nil {
			tmp.Delete()
			return nil, err
		}
		pos += n
	}
	res.Quantized = true
	res.File = tmp
	return res, nil
}
