package world

import (
	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/internal/invariant"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/stage"
)

// slot is a chunk lent to a generation task. Exactly one of proto and handle
// is set.
type slot struct {
	pos    cube.ChunkPos
	proto  *chunk.ProtoChunk
	handle *Handle
}

func (s slot) stage() stage.Stage {
	if s.handle != nil {
		return stage.Full
	}
	return s.proto.Stage()
}

// Cache is the square window of chunks a generation stage runs on. It is
// owned by a single generation task at a time and handed back to the
// schedule in full once the task completes. Cache implements
// generator.Region.
type Cache struct {
	center cube.ChunkPos
	radius int
	r      cube.Range
	slots  []slot
}

func newCache(center cube.ChunkPos, radius int, r cube.Range) *Cache {
	size := 2*radius + 1
	return &Cache{center: center, radius: radius, r: r, slots: make([]slot, 0, size*size)}
}

// add adds a chunk to the window. Chunks must be added in the order of
// cube.Square.
func (c *Cache) add(s slot) {
	c.slots = append(c.slots, s)
}

func (c *Cache) centre() *slot {
	return &c.slots[len(c.slots)/2]
}

// Center ...
func (c *Cache) Center() cube.ChunkPos { return c.center }

// Range ...
func (c *Cache) Range() cube.Range { return c.r }

// Contains ...
func (c *Cache) Contains(pos cube.Pos) bool {
	return pos.ChunkPos().Chebyshev(c.center) <= c.radius
}

// slot returns the slot holding the block position passed. It returns nil if
// the position is outside of the window.
func (c *Cache) slot(x, z int) *slot {
	dx, dz := x>>4-int(c.center[0]), z>>4-int(c.center[1])
	if !invariant.Check(max(abs(dx), abs(dz)) <= c.radius, "block %v,%v outside of window %v r=%v", x, z, c.center, c.radius) {
		return nil
	}
	size := 2*c.radius + 1
	return &c.slots[(dx+c.radius)*size+dz+c.radius]
}

// Block ...
func (c *Cache) Block(pos cube.Pos) uint32 {
	s := c.slot(pos[0], pos[2])
	switch {
	case s == nil:
		return 0
	case s.handle != nil:
		return s.handle.Block(pos[0]&15, pos[1], pos[2]&15)
	}
	return s.proto.Block(pos[0]&15, pos[1], pos[2]&15)
}

// SetBlock ...
func (c *Cache) SetBlock(pos cube.Pos, id uint32) {
	s := c.slot(pos[0], pos[2])
	switch {
	case s == nil:
	case s.handle != nil:
		s.handle.SetBlock(pos[0]&15, pos[1], pos[2]&15, id)
	default:
		s.proto.SetBlock(pos[0]&15, pos[1], pos[2]&15, id)
	}
}

// Biome ...
func (c *Cache) Biome(pos cube.Pos) uint32 {
	s := c.slot(pos[0], pos[2])
	switch {
	case s == nil:
		return 0
	case s.handle != nil:
		var b uint32
		s.handle.Read(func(ch *chunk.Chunk) { b = ch.Biome(pos[0]&15, pos[1], pos[2]&15) })
		return b
	}
	return s.proto.Biome(pos[0]&15, pos[1], pos[2]&15)
}

// SetBiome ...
func (c *Cache) SetBiome(pos cube.Pos, biome uint32) {
	s := c.slot(pos[0], pos[2])
	switch {
	case s == nil:
	case s.handle != nil:
		s.handle.Write(func(ch *chunk.Chunk) { ch.SetBiome(pos[0]&15, pos[1], pos[2]&15, biome) })
	default:
		s.proto.SetBiome(pos[0]&15, pos[1], pos[2]&15, biome)
	}
}

// Height ...
func (c *Cache) Height(kind chunk.HeightMapKind, x, z int) int {
	s := c.slot(x, z)
	switch {
	case s == nil:
		return c.r.Min() - 1
	case s.handle != nil:
		var h int
		s.handle.Read(func(ch *chunk.Chunk) { h = ch.Height(kind, x&15, z&15) })
		return h
	}
	return s.proto.Height(kind, x&15, z&15)
}

// AddStructureStart ...
func (c *Cache) AddStructureStart(s chunk.StructureStart) {
	if centre := c.centre(); centre.proto != nil {
		centre.proto.AddStructureStart(s)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
