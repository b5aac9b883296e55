package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/BlueBrain/TuvokIO/basics"
	"github.com/BlueBrain/TuvokIO/octree"
	"github.com/BlueBrain/TuvokIO/uvf"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	myApp := cli.NewApp()
	myApp.Name = "uvfconvert"
	myApp.Usage = "convert raw volumes into bricked LoD containers"
	myApp.Version = VERSION
	myApp.Commands = []cli.Command{
		{
			Name:      "convert",
			Usage:     "convert a linear raw volume file into a container",
			ArgsUsage: "INPUT.raw OUTPUT.uvf",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "size,s",
					Usage: "volume size in voxels, e.g. 256x256x128",
				},
				cli.StringFlag{
					Name:  "type,t",
					Value: "uint8",
					Usage: "component type: uint8, int8, uint16, int16, uint32, int32, uint64, int64, float32, float64",
				},
				cli.UintFlag{
					Name:  "components,c",
					Value: 1,
					Usage: "components per voxel",
				},
				cli.StringFlag{
					Name:  "aspect",
					Value: "1:1:1",
					Usage: "physical aspect ratio, e.g. 1:1:2.5",
				},
				cli.StringFlag{
					Name:  "brick",
					Value: "128x128x128",
					Usage: "maximum brick size including overlap",
				},
				cli.UintFlag{
					Name:  "overlap",
					Value: 2,
					Usage: "brick overlap in voxels",
				},
				cli.UintFlag{
					Name:  "cache-mb",
					Value: 512,
					Usage: "brick cache budget in MiB",
				},
				cli.StringFlag{
					Name:  "codec",
					Value: "deflate",
					Usage: "per-brick compression: identity, deflate, snappy",
				},
				cli.Uint64Flag{
					Name:  "offset",
					Usage: "bytes to skip at the start of the input file",
				},
				cli.BoolFlag{
					Name:  "quantize",
					Usage: "requantize the input to 8 bit if it exceeds 12 bits",
				},
				cli.BoolFlag{
					Name:  "no-stats",
					Usage: "skip per-brick statistics",
				},
				cli.BoolFlag{
					Name:  "big-endian",
					Usage: "write the container big-endian",
				},
				cli.BoolFlag{
					Name:  "no-checksum",
					Usage: "skip the container checksum",
				},
				cli.BoolFlag{
					Name:  "quiet,q",
					Usage: "suppress progress output",
				},
				cli.BoolFlag{
					Name:  "debug",
					Usage: "verbose logging",
				},
			},
			Action: runConvert,
		},
		{
			Name:      "export",
			Usage:     "export one LoD level of a container as a dense raw file",
			ArgsUsage: "INPUT.uvf OUTPUT.raw",
			Flags: []cli.Flag{
				cli.UintFlag{
					Name:  "lod",
					Usage: "level of detail to export, 0 is native resolution",
				},
			},
			Action: runExport,
		},
		{
			Name:      "info",
			Usage:     "print the header, blocks and metadata of a container",
			ArgsUsage: "INPUT.uvf",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "verify",
					Usage: "recompute and verify the container checksum",
				},
			},
			Action: runInfo,
		},
	}
	if err := myApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConvert(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("convert needs an input and an output path")
	}
	src, dst := c.Args().Get(0), c.Args().Get(1)

	size, err := parseTriple(c.String("size"), "x")
	if err != nil {
		return errors.Wrap(err, "--size")
	}
	brick, err := parseTriple(c.String("brick"), "x")
	if err != nil {
		return errors.Wrap(err, "--brick")
	}
	aspect, err := parseAspect(c.String("aspect"))
	if err != nil {
		return errors.Wrap(err, "--aspect")
	}
	ctype, err := parseComponentType(c.String("type"))
	if err != nil {
		return err
	}
	codec, err := parseCodec(c.String("codec"))
	if err != nil {
		return err
	}

	logger := basics.NewDefaultLogger("uvfconvert", c.Bool("debug"))
	opts := uvf.DatasetOptions{
		ConversionOptions: octree.ConversionOptions{
			MaxBrickSize:   [3]uint32{uint32(brick[0]), uint32(brick[1]), uint32(brick[2])},
			Overlap:        uint32(c.Uint("overlap")),
			CacheBytes:     uint64(c.Uint("cache-mb")) << 20,
			Codec:          codec,
			QuantizeTo8Bit: c.Bool("quantize"),
			SkipStats:      c.Bool("no-stats"),
			Logger:         logger,
		},
		BigEndian: c.Bool("big-endian"),
		Checksum:  uvf.ChecksumMD5,
	}
	if c.Bool("no-checksum") {
		opts.Checksum = uvf.ChecksumNone
	}

	done := make(chan struct{})
	if !c.Bool("quiet") {
		opts.OnConverter = func(conv *octree.Converter) {
			go func() {
				ticker := time.NewTicker(time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						logger.Infof("progress %5.1f%%", conv.Progress()*100)
					}
				}
			}()
		}
	}
	err = uvf.FlatDataToBrickedLoD(src, c.Uint64("offset"), ctype, uint64(c.Uint("components")),
		size, aspect, dst, opts)
	close(done)
	if err != nil {
		return err
	}
	logger.Infof("wrote %s", dst)
	return nil
}

func runExport(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("export needs an input and an output path")
	}
	f, err := uvf.Open(c.Args().Get(0), false)
	if err != nil {
		return err
	}
	defer f.Close()
	block, ok := f.BlockByTag(uvf.BlockTOC)
	if !ok {
		return errors.New("container has no raster ToC block")
	}
	tree, err := f.OpenOctree(block)
	if err != nil {
		return err
	}
	return octree.ExportToRAWFile(tree, c.Args().Get(1), uint32(c.Uint("lod")))
}

func runInfo(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("info needs a container path")
	}
	f, err := uvf.Open(c.Args().Get(0), c.Bool("verify"))
	if err != nil {
		return err
	}
	defer f.Close()

	endian := "little-endian"
	if f.BigEndian() {
		endian = "big-endian"
	}
	fmt.Printf("%s: %d blocks, %s\n", c.Args().Get(0), len(f.Blocks()), endian)
	for i, b := range f.Blocks() {
		fmt.Printf("  block %d: tag %d, %d bytes\n", i, b.Tag, b.Size)
		switch b.Tag {
		case uvf.BlockTOC:
			tree, err := f.OpenOctree(b)
			if err != nil {
				return err
			}
			l := tree.Layout()
			fmt.Printf("    %dx%dx%d %s x%d, %d LoDs, %d bricks (%v, overlap %d)\n",
				l.VolumeSize[0], l.VolumeSize[1], l.VolumeSize[2],
				l.ComponentType, l.ComponentCount, l.LoDCount(), l.TotalBrickCount(),
				l.MaxBrickSize, l.Overlap)
		case uvf.BlockKeyValue:
			payload, err := f.ReadBlock(b)
			if err != nil {
				return err
			}
			kv, err := uvf.DecodeKeyValue(payload, f.ByteOrder())
			if err != nil {
				return err
			}
			for k, v := range kv {
				fmt.Printf("    %s = %s\n", k, v)
			}
		}
	}
	return nil
}

func parseTriple(s, sep string) ([3]uint64, error) {
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return [3]uint64{}, errors.Errorf("%q is not of the form AxBxC", s)
	}
	var t [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil || v == 0 {
			return [3]uint64{}, errors.Errorf("bad dimension %q", p)
		}
		t[i] = v
	}
	return t, nil
}

func parseAspect(s string) (mgl64.Vec3, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return mgl64.Vec3{}, errors.Errorf("%q is not of the form A:B:C", s)
	}
	var a mgl64.Vec3
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v <= 0 {
			return mgl64.Vec3{}, errors.Errorf("bad aspect component %q", p)
		}
		a[i] = v
	}
	return a, nil
}

func parseComponentType(s string) (octree.ComponentType, error) {
	for t := octree.CTUint8; t <= octree.CTFloat64; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown component type %q", s)
}

func parseCodec(s string) (octree.CodecType, error) {
	switch s {
	case "identity", "none":
		return octree.CodecIdentity, nil
	case "deflate":
		return octree.CodecDeflate, nil
	case "snappy":
		return octree.CodecSnappy, nil
	}
	return 0, errors.Errorf("unknown codec %q", s)
}
