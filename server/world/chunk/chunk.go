// Package chunk implements the storage of chunk columns: paletted sub chunks
// of finished chunks, the flat arrays of chunks still being generated and the
// disk format of both.
package chunk

import (
	"maps"
	"slices"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/stage"
)

// Chunk is a finished chunk column. Chunk is not safe for concurrent use: the
// owner of a Chunk shared between goroutines guards it with a lock.
type Chunk struct {
	pos   cube.ChunkPos
	r     cube.Range
	air   uint32
	props BlockProperties

	sub        []*SubChunk
	heightMaps [HeightMapKinds]*HeightMap

	// BlockTicks and FluidTicks hold the scheduled block and fluid updates
	// of the chunk.
	BlockTicks, FluidTicks *TickQueue
	blockEntities          map[cube.Pos]map[string]any

	status stage.Stage
	dirty  bool
}

// New returns a Chunk at pos filled with air, spanning the Range passed. Every
// sub chunk has biome as its biome.
func New(pos cube.ChunkPos, r cube.Range, air, biome uint32, props BlockProperties) *Chunk {
	c := &Chunk{
		pos:           pos,
		r:             r,
		air:           air,
		props:         props,
		sub:           make([]*SubChunk, r.SubChunks()),
		BlockTicks:    NewTickQueue(),
		FluidTicks:    NewTickQueue(),
		blockEntities: make(map[cube.Pos]map[string]any),
		status:        stage.Full,
	}
	for i := range c.sub {
		c.sub[i] = NewSubChunk(air, biome)
	}
	for i := range c.heightMaps {
		c.heightMaps[i] = NewHeightMap(r.Height())
	}
	return c
}

// Position returns the position of the Chunk.
func (c *Chunk) Position() cube.ChunkPos { return c.pos }

// Range returns the height range of the Chunk.
func (c *Chunk) Range() cube.Range { return c.r }

// Air returns the ID of air in the Chunk.
func (c *Chunk) Air() uint32 { return c.air }

// Status returns the generation stage of the Chunk, which is always
// stage.Full.
func (c *Chunk) Status() stage.Stage { return c.status }

// Dirty checks if the Chunk was changed since it was last saved.
func (c *Chunk) Dirty() bool { return c.dirty }

// MarkDirty marks the Chunk as changed.
func (c *Chunk) MarkDirty() { c.dirty = true }

// MarkSaved clears the dirty flag of the Chunk.
func (c *Chunk) MarkSaved() { c.dirty = false }

// Sub returns the sub chunks of the Chunk, from the bottom up.
func (c *Chunk) Sub() []*SubChunk { return c.sub }

// SubIndex returns the index of the sub chunk holding y.
func (c *Chunk) SubIndex(y int) int {
	return (y - c.r[0]) >> 4
}

// SubChunk returns the sub chunk holding y.
func (c *Chunk) SubChunk(y int) *SubChunk {
	return c.sub[c.SubIndex(y)]
}

// HighestSubChunk returns the index of the highest sub chunk holding a block
// other than air, or -1 if the Chunk holds only air.
func (c *Chunk) HighestSubChunk() int {
	for i := len(c.sub) - 1; i >= 0; i-- {
		if c.sub[i].blocks.NonAirCount(c.air) > 0 {
			return i
		}
	}
	return -1
}

// Block returns the block ID at x, y, z. x and z are relative to the Chunk
// (0-15), y is the world height.
func (c *Chunk) Block(x, y, z int) uint32 {
	if y < c.r[0] || y > c.r[1] {
		return c.air
	}
	return c.SubChunk(y).Block(x, y&15, z)
}

// SetBlock sets the block ID at x, y, z, updates the height maps and marks
// the Chunk dirty. The previous ID is returned.
func (c *Chunk) SetBlock(x, y, z int, id uint32) uint32 {
	if y < c.r[0] || y > c.r[1] {
		return c.air
	}
	prev := c.SubChunk(y).SetBlock(x, y&15, z, id)
	if prev == id {
		return prev
	}
	c.dirty = true
	rel := y - c.r[0]
	for k, h := range c.heightMaps {
		kind := HeightMapKind(k)
		cur := h.At(x, z)
		switch {
		case kind.Matches(c.props, id):
			if rel+1 > cur {
				h.Set(x, z, rel+1)
			}
		case rel+1 == cur:
			h.Set(x, z, c.scanDown(kind, x, y-1, z))
		}
	}
	return prev
}

// scanDown returns the height map value of the highest block matching kind at
// or below y.
func (c *Chunk) scanDown(kind HeightMapKind, x, y, z int) int {
	for ; y >= c.r[0]; y-- {
		sub := c.SubChunk(y)
		if y&15 == 15 && sub.Empty(c.air) {
			y -= 15
			continue
		}
		if kind.Matches(c.props, sub.Block(x, y&15, z)) {
			return y - c.r[0] + 1
		}
	}
	return 0
}

// Biome returns the biome at x, y, z.
func (c *Chunk) Biome(x, y, z int) uint32 {
	y = min(max(y, c.r[0]), c.r[1])
	return c.SubChunk(y).Biome(x, y&15, z)
}

// SetBiome sets the biome of the 4x4x4 cell holding x, y, z.
func (c *Chunk) SetBiome(x, y, z int, biome uint32) {
	if y < c.r[0] || y > c.r[1] {
		return
	}
	c.SubChunk(y).SetBiome(x, y&15, z, biome)
	c.dirty = true
}

// HeightMap returns the height map of the kind passed.
func (c *Chunk) HeightMap(kind HeightMapKind) *HeightMap {
	return c.heightMaps[kind]
}

// Height returns the world height of the highest block in column x, z that
// matches kind, or one below the bottom of the world if there is none.
func (c *Chunk) Height(kind HeightMapKind, x, z int) int {
	return c.r[0] + c.heightMaps[kind].At(x, z) - 1
}

// RecalculateHeightMaps computes every height map from the sub chunks.
func (c *Chunk) RecalculateHeightMaps() {
	top := c.HighestSubChunk()
	for k, h := range c.heightMaps {
		kind := HeightMapKind(k)
		for x := 0; x < 16; x++ {
			for z := 0; z < 16; z++ {
				if top < 0 {
					h.Set(x, z, 0)
					continue
				}
				h.Set(x, z, c.scanDown(kind, x, c.r[0]+top<<4+15, z))
			}
		}
	}
}

// BlockEntity returns the NBT data of the block entity at pos, which is a
// world position.
func (c *Chunk) BlockEntity(pos cube.Pos) (map[string]any, bool) {
	data, ok := c.blockEntities[pos]
	return data, ok
}

// SetBlockEntity sets the block entity data at pos. A nil map removes the
// block entity.
func (c *Chunk) SetBlockEntity(pos cube.Pos, data map[string]any) {
	if data == nil {
		delete(c.blockEntities, pos)
	} else {
		c.blockEntities[pos] = data
	}
	c.dirty = true
}

// BlockEntities returns all block entities of the Chunk.
func (c *Chunk) BlockEntities() map[cube.Pos]map[string]any {
	return c.blockEntities
}

// Clone returns a deep copy of the Chunk. Block entity maps are copied one
// level deep.
func (c *Chunk) Clone() *Chunk {
	cp := *c
	cp.sub = make([]*SubChunk, len(c.sub))
	for i, s := range c.sub {
		cp.sub[i] = s.Clone()
	}
	for i, h := range c.heightMaps {
		cp.heightMaps[i] = h.Clone()
	}
	cp.BlockTicks, cp.FluidTicks = c.BlockTicks.Clone(), c.FluidTicks.Clone()
	cp.blockEntities = make(map[cube.Pos]map[string]any, len(c.blockEntities))
	for pos, data := range c.blockEntities {
		cp.blockEntities[pos] = maps.Clone(data)
	}
	return &cp
}

// Equal checks if two Chunks hold the same position, blocks, biomes and
// scheduled ticks.
func (c *Chunk) Equal(o *Chunk) bool {
	if c.pos != o.pos || c.r != o.r || len(c.sub) != len(o.sub) {
		return false
	}
	for i := range c.sub {
		if !c.sub[i].blocks.Equal(o.sub[i].blocks) || !c.sub[i].biomes.Equal(o.sub[i].biomes) {
			return false
		}
	}
	for i := range c.heightMaps {
		if !slices.Equal(c.heightMaps[i].data, o.heightMaps[i].data) {
			return false
		}
	}
	return slices.EqualFunc(c.BlockTicks.All(), o.BlockTicks.All(), sameTick) &&
		slices.EqualFunc(c.FluidTicks.All(), o.FluidTicks.All(), sameTick)
}

func sameTick(a, b ScheduledTick) bool {
	return a.Pos == b.Pos && a.Block == b.Block && a.Tick == b.Tick && a.Priority == b.Priority
}
