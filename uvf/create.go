package uvf

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/BlueBrain/TuvokIO/basics"
	"github.com/BlueBrain/TuvokIO/octree"
)

// DatasetOptions configures FlatDataToBrickedLoD: the conversion knobs plus
// the container-level choices.
type DatasetOptions struct {
	octree.ConversionOptions

	BigEndian bool
	Checksum  ChecksumSemantic
	// Metadata is merged into the key-value block next to the generated
	// dataset UUID and source entries.
	Metadata map[string]string
	// Geometry, when set, is stored as a geometry block.
	Geometry *Geometry
	// OnConverter is invoked with the converter before the conversion
	// starts, so callers can poll Progress or Cancel from another
	// goroutine.
	OnConverter func(*octree.Converter)
}

// FlatDataToBrickedLoD converts a linear raw volume file into a complete
// container at dstPath: the bricked hierarchy as a raster ToC block, the
// per-brick statistics as a max-min block and a key-value metadata block.
// The octree is built in a temporary file next to the destination and
// copied in; on any failure, including cancellation, neither the temporary
// file nor a container remains on disk.
func FlatDataToBrickedLoD(srcPath string, srcOffset uint64,
	ctype octree.ComponentType, ccount uint64, volumeSize [3]uint64, aspect mgl64.Vec3,
	dstPath string, opts DatasetOptions) error {

	in, err := basics.OpenReadOnly(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	convOpts := opts.ConversionOptions
	if opts.BigEndian {
		convOpts.ByteOrder = binary.BigEndian
	} else {
		convOpts.ByteOrder = binary.LittleEndian
	}
	conv := octree.NewConverter(convOpts)
	if opts.OnConverter != nil {
		opts.OnConverter(conv)
	}

	tmpPath := dstPath + ".octree.tmp"
	tmp, err := basics.Create(tmpPath)
	if err != nil {
		return err
	}
	tree, err := conv.Convert(in, srcOffset, ctype, ccount, volumeSize, aspect, tmp, 0)
	if err != nil {
		// the converter already removed the temporary file
		return err
	}
	defer tmp.Delete()

	f, err := Create(dstPath, opts.BigEndian, opts.Checksum)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		f.Close()
		os.Remove(dstPath)
		return err
	}

	if err := f.AddBlockFromFile(BlockTOC, tmp, 0, tree.Size()); err != nil {
		return fail(err)
	}
	order := f.ByteOrder()
	if stats := conv.Stats(); stats != nil {
		if err := f.AddBlock(BlockMaxMin, EncodeMaxMin(stats, order)); err != nil {
			return fail(err)
		}
	}
	kv := map[string]string{
		KVSourceFile:  srcPath,
		KVDatasetUUID: uuid.NewString(),
		KVCreated:     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range opts.Metadata {
		kv[k] = v
	}
	if err := f.AddBlock(BlockKeyValue, EncodeKeyValue(kv, order)); err != nil {
		return fail(err)
	}
	if opts.Geometry != nil {
		if err := f.AddBlock(BlockGeometry, EncodeGeometry(opts.Geometry, order)); err != nil {
			return fail(err)
		}
	}
	if err := f.Finalize(); err != nil {
		return fail(err)
	}
	return f.Close()
}
