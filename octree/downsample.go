package octree

// Downsampling of one LoD level from the level below. Every inner voxel of
// a target brick is the mean of its up-to-eight source voxels at the finer
// level, computed in double precision and truncated back to the component
// type (floats pass through). Source voxels past the finer level's volume
// are simply absent and the mean runs over the remaining 4, 2 or 1 inputs;
// the value distribution near borders is preserved because nothing is ever
// zero-extended.

// downsampleLoD fills the inner regions of every brick of the given level.
// The finer level must be complete, inner and overlap both.
func (c *Converter) downsampleLoD(tree *ExtendedOctree, lod uint32) error {
	cx, cy, cz := c.layout.BrickCount(lod)
	for bz := uint32(0); bz < cz; bz++ {
		for by := uint32(0); by < cy; by++ {
			for bx := uint32(0); bx < cx; bx++ {
				if err := c.checkCancel(); err != nil {
					return err
				}
				if err := c.downsampleBrick(tree, BrickKey{LoD: lod, X: bx, Y: by, Z: bz}); err != nil {
					return err
				}
				c.brickDone()
			}
		}
	}
	return nil
}

// downsampleBrick computes one target brick from its child bricks. The
// children are copied out of the cache first because a cache slot borrow
// dies with the next cache operation.
func (c *Converter) downsampleBrick(tree *ExtendedOctree, key BrickKey) error {
	l := c.layout
	read, write, err := samplerFor(l.ComponentType, tree.ByteOrder())
	if err != nil {
		return err
	}

	srcVol := l.LoDVolume(key.LoD - 1)
	inner := l.InnerBrickSize()
	o := uint64(l.Overlap)
	ccount := int(l.ComponentCount)

	// child buffer b is indexed by the (dx,dy,dz) octant bits
	var have [8]bool
	var childExt [8][3]uint32
	var childStart [8][3]uint64
	for _, ck := range l.ChildCoords(key) {
		bi := (ck.X - 2*key.X) | (ck.Y-2*key.Y)<<1 | (ck.Z-2*key.Z)<<2
		data, err := c.cache.GetBrick(tree, l.LinearIndex(ck))
		if err != nil {
			return err
		}
		copy(c.children[bi][:len(data)], data)
		have[bi] = true
		childExt[bi] = l.BrickExtent(ck)
		childStart[bi] = l.InnerStart(ck)
	}

	ext := l.BrickExtent(key)
	innerExt := l.InnerExtent(key)
	start := l.InnerStart(key)
	target := c.work[:l.BrickBytes(key)]
	clear(target)

	sums := make([]float64, ccount)
	for z := uint64(0); z < uint64(innerExt[2]); z++ {
		for y := uint64(0); y < uint64(innerExt[1]); y++ {
			for x := uint64(0); x < uint64(innerExt[0]); x++ {
				tg := [3]uint64{start[0] + x, start[1] + y, start[2] + z}
				for i := range sums {
					sums[i] = 0
				}
				n := 0
				for d := 0; d < 8; d++ {
					s := [3]uint64{
						2*tg[0] + uint64(d&1),
						2*tg[1] + uint64(d>>1&1),
						2*tg[2] + uint64(d>>2&1),
					}
					if s[0] >= srcVol[0] || s[1] >= srcVol[1] || s[2] >= srcVol[2] {
						continue
					}
					bi := int(s[0]/uint64(inner[0])-uint64(2*key.X)) |
						int(s[1]/uint64(inner[1])-uint64(2*key.Y))<<1 |
						int(s[2]/uint64(inner[2])-uint64(2*key.Z))<<2
					if !have[bi] {
						continue
					}
					ce, cs := childExt[bi], childStart[bi]
					pos := ((s[2]-cs[2]+o)*uint64(ce[1])+s[1]-cs[1]+o)*uint64(ce[0]) + s[0] - cs[0] + o
					base := int(pos) * ccount
					for comp := 0; comp < ccount; comp++ {
						sums[comp] += read(c.children[bi], base+comp)
					}
					n++
				}
				tpos := ((z+o)*uint64(ext[1])+y+o)*uint64(ext[0]) + x + o
				tbase := int(tpos) * ccount
				for comp := 0; comp < ccount; comp++ {
					v := 0.0
					if n > 0 {
						v = sums[comp] / float64(n)
					}
					write(target, tbase+comp, v)
				}
			}
		}
	}
	return c.cache.SetBrick(tree, l.LinearIndex(key), target)
}
