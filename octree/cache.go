package octree

import (
	"math"

	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
)

const invalidBrickIndex = math.MaxUint64

// cacheEntry is a single slot of the brick cache: the decoded brick bytes,
// the 1D index of the brick occupying the slot, a dirty flag for write-back
// and the access stamp driving replacement.
type cacheEntry struct {
	data   []byte
	index  uint64
	dirty  bool
	access uint64
}

// BrickCache is the bounded-RAM write-back cache the converter works
// through. Slot count is the byte budget divided by the largest brick, at
// least one slot. Slots allocate their buffer lazily on first use.
//
// The cache exists only for the duration of a conversion. It owns its
// buffers; GetBrick hands out a borrowed slice that is valid only until the
// next cache operation. The octree store is passed into each operation, not
// stored, so the cache stays strictly subordinate to the converter.
type BrickCache struct {
	layout  *Layout
	entries []cacheEntry
	counter uint64

	// onFlush, when set, observes every brick payload on its way to disk.
	// The converter hooks statistics collection here.
	onFlush func(index uint64, data []byte)
}

// newBrickCache sizes the cache for a conversion with the given byte budget.
func newBrickCache(layout *Layout, memLimit uint64) *BrickCache {
	slots := memLimit / layout.MaxBrickBytes()
	if slots == 0 {
		slots = 1
	}
	entries := make([]cacheEntry, slots)
	for i := range entries {
		entries[i].index = invalidBrickIndex
	}
	return &BrickCache{layout: layout, entries: entries}
}

func (c *BrickCache) find(index uint64) *cacheEntry {
	for i := range c.entries {
		if c.entries[i].index == index {
			return &c.entries[i]
		}
	}
	return nil
}

// victim picks the slot to evict: the clean slot with the smallest access
// stamp, or, when every slot is dirty, the dirty slot with the smallest
// stamp (which the caller must flush first). Ties fall to the lower slot
// index. Unused slots count as clean with stamp zero.
func (c *BrickCache) victim() *cacheEntry {
	var clean, dirty *cacheEntry
	for i := range c.entries {
		e := &c.entries[i]
		if e.index == invalidBrickIndex {
			return e
		}
		if e.dirty {
			if dirty == nil || e.access < dirty.access {
				dirty = e
			}
		} else {
			if clean == nil || e.access < clean.access {
				clean = e
			}
		}
	}
	if clean != nil {
		return clean
	}
	return dirty
}

func (c *BrickCache) flushEntry(tree *ExtendedOctree, e *cacheEntry) error {
	if !e.dirty {
		return nil
	}
	if c.onFlush != nil {
		c.onFlush(e.index, e.data)
	}
	if err := tree.writeRawBrick(e.index, e.data); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// brickSize returns the payload size of brick index in bytes.
func (c *BrickCache) brickSize(index uint64) (uint64, error) {
	key, err := c.layout.KeyFromIndex(index)
	if err != nil {
		return 0, err
	}
	return c.layout.BrickBytes(key), nil
}

// take claims a slot for index, flushing and evicting as needed. The slot's
// buffer is resized to the brick's payload size but not filled.
func (c *BrickCache) take(tree *ExtendedOctree, index uint64) (*cacheEntry, error) {
	size, err := c.brickSize(index)
	if err != nil {
		return nil, err
	}
	e := c.victim()
	if e == nil {
		return nil, errors.Wrap(basics.ErrIO, "brick cache has no slots")
	}
	if err := c.flushEntry(tree, e); err != nil {
		return nil, err
	}
	if uint64(cap(e.data)) < size {
		e.data = make([]byte, c.layout.MaxBrickBytes())
	}
	e.data = e.data[:size]
	e.index = index
	return e, nil
}

// GetBrick returns the decoded bytes of a brick, loading it from the store
// on a miss. The returned slice is borrowed: it is invalidated by the next
// cache operation unless copied.
func (c *BrickCache) GetBrick(tree *ExtendedOctree, index uint64) ([]byte, error) {
	c.counter++
	if e := c.find(index); e != nil {
		e.access = c.counter
		return e.data, nil
	}
	e, err := c.take(tree, index)
	if err != nil {
		return nil, err
	}
	if err := tree.readRawBrick(index, e.data); err != nil {
		e.index = invalidBrickIndex
		return nil, err
	}
	e.dirty = false
	e.access = c.counter
	return e.data, nil
}

// SetBrick stores a brick's bytes in the cache and marks the slot dirty.
// The data is copied; the store is only touched if an eviction is needed.
func (c *BrickCache) SetBrick(tree *ExtendedOctree, index uint64, data []byte) error {
	size, err := c.brickSize(index)
	if err != nil {
		return err
	}
	if uint64(len(data)) != size {
		return errors.Wrapf(basics.ErrCorruptBrick, "brick %d payload is %d bytes, expected %d", index, len(data), size)
	}
	c.counter++
	e := c.find(index)
	if e == nil {
		if e, err = c.take(tree, index); err != nil {
			return err
		}
	}
	copy(e.data, data)
	e.dirty = true
	e.access = c.counter
	return nil
}

// Flush writes every dirty slot back to the store in slot order and marks
// the cache clean. Flushing a brick always completes before its slot can be
// reused.
func (c *BrickCache) Flush(tree *ExtendedOctree) error {
	c.counter++
	for i := range c.entries {
		if err := c.flushEntry(tree, &c.entries[i]); err != nil {
			return err
		}
	}
	return nil
}
