package chunk

import (
	"maps"
	"slices"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/stage"
)

// StructureStart records a structure that was started in a chunk during
// generation.
type StructureStart struct {
	// Name identifies the kind of structure.
	Name string
	// Pos is the world position the structure was started at.
	Pos cube.Pos
}

// ProtoChunk is a chunk that is being generated. Its blocks and biomes are
// held in flat arrays so that generation can write them without palette
// bookkeeping. A ProtoChunk is not safe for concurrent use: at most one
// generation task holds it at any time.
type ProtoChunk struct {
	pos   cube.ChunkPos
	r     cube.Range
	air   uint32
	props BlockProperties

	blocks  []uint32
	biomes  []uint32
	heights [HeightMapKinds][256]int16

	structures map[string]StructureStart
	stage      stage.Stage
}

// NewProtoChunk returns an empty ProtoChunk at stage.Empty filled with air and
// biome.
func NewProtoChunk(pos cube.ChunkPos, r cube.Range, air, biome uint32, props BlockProperties) *ProtoChunk {
	p := &ProtoChunk{
		pos:        pos,
		r:          r,
		air:        air,
		props:      props,
		blocks:     make([]uint32, 256*r.Height()),
		biomes:     make([]uint32, 16*(r.Height()>>2)),
		structures: make(map[string]StructureStart),
		stage:      stage.Empty,
	}
	if air != 0 {
		for i := range p.blocks {
			p.blocks[i] = air
		}
	}
	if biome != 0 {
		for i := range p.biomes {
			p.biomes[i] = biome
		}
	}
	return p
}

// Position returns the position of the ProtoChunk.
func (p *ProtoChunk) Position() cube.ChunkPos { return p.pos }

// Range returns the height range of the ProtoChunk.
func (p *ProtoChunk) Range() cube.Range { return p.r }

// Air returns the ID of air in the ProtoChunk.
func (p *ProtoChunk) Air() uint32 { return p.air }

// Stage returns the highest stage completed by the ProtoChunk.
func (p *ProtoChunk) Stage() stage.Stage { return p.stage }

// SetStage records s as completed.
func (p *ProtoChunk) SetStage(s stage.Stage) { p.stage = s }

func (p *ProtoChunk) blockIndex(x, y, z int) int {
	return ((y-p.r[0])<<4|z)<<4 | x
}

func (p *ProtoChunk) biomeIndex(x, y, z int) int {
	return ((y-p.r[0])>>2<<2|z>>2)<<2 | x>>2
}

// Block returns the block ID at x, y, z. x and z are relative to the chunk, y
// is the world height.
func (p *ProtoChunk) Block(x, y, z int) uint32 {
	if y < p.r[0] || y > p.r[1] {
		return p.air
	}
	return p.blocks[p.blockIndex(x, y, z)]
}

// SetBlock sets the block ID at x, y, z and returns the previous ID.
func (p *ProtoChunk) SetBlock(x, y, z int, id uint32) uint32 {
	if y < p.r[0] || y > p.r[1] {
		return p.air
	}
	i := p.blockIndex(x, y, z)
	prev := p.blocks[i]
	if prev == id {
		return prev
	}
	p.blocks[i] = id

	rel := int16(y - p.r[0])
	col := z<<4 | x
	for k := range p.heights {
		kind := HeightMapKind(k)
		cur := p.heights[k][col]
		switch {
		case kind.Matches(p.props, id):
			if rel+1 > cur {
				p.heights[k][col] = rel + 1
			}
		case rel+1 == cur:
			p.heights[k][col] = p.scanDown(kind, x, y-1, z)
		}
	}
	return prev
}

func (p *ProtoChunk) scanDown(kind HeightMapKind, x, y, z int) int16 {
	for ; y >= p.r[0]; y-- {
		if kind.Matches(p.props, p.blocks[p.blockIndex(x, y, z)]) {
			return int16(y - p.r[0] + 1)
		}
	}
	return 0
}

// Biome returns the biome at x, y, z.
func (p *ProtoChunk) Biome(x, y, z int) uint32 {
	y = min(max(y, p.r[0]), p.r[1])
	return p.biomes[p.biomeIndex(x, y, z)]
}

// SetBiome sets the biome of the 4x4x4 cell holding x, y, z.
func (p *ProtoChunk) SetBiome(x, y, z int, biome uint32) {
	if y < p.r[0] || y > p.r[1] {
		return
	}
	p.biomes[p.biomeIndex(x, y, z)] = biome
}

// Height returns the world height of the highest block in column x, z that
// matches kind, or one below the bottom of the world if there is none.
func (p *ProtoChunk) Height(kind HeightMapKind, x, z int) int {
	return p.r[0] + int(p.heights[kind][z<<4|x]) - 1
}

// AddStructureStart records a structure started in the ProtoChunk. A start
// with the same name replaces the previous one.
func (p *ProtoChunk) AddStructureStart(s StructureStart) {
	p.structures[s.Name] = s
}

// StructureStarts returns the structures started in the ProtoChunk.
func (p *ProtoChunk) StructureStarts() map[string]StructureStart {
	return maps.Clone(p.structures)
}

// Clone returns a deep copy of the ProtoChunk.
func (p *ProtoChunk) Clone() *ProtoChunk {
	cp := *p
	cp.blocks = slices.Clone(p.blocks)
	cp.biomes = slices.Clone(p.biomes)
	cp.structures = maps.Clone(p.structures)
	return &cp
}

// ToChunk converts a ProtoChunk to a finished Chunk. The sub chunks are filled
// from the flat arrays, sky light is full, block light is empty and the height
// maps are computed from the sub chunks.
func (p *ProtoChunk) ToChunk() *Chunk {
	c := New(p.pos, p.r, p.air, 0, p.props)
	for i, sub := range c.sub {
		sub.blocks = fromCells(16, slices.Clone(p.blocks[i<<12:(i+1)<<12]))
		sub.biomes = fromCells(4, slices.Clone(p.biomes[i<<6:(i+1)<<6]))
	}
	c.RecalculateHeightMaps()
	c.dirty = true
	return c
}

// protoFromSections fills a ProtoChunk from paletted sub chunks.
func protoFromSections(p *ProtoChunk, sub []*SubChunk) {
	for i, s := range sub {
		blocks, biomes := p.blocks[i<<12:(i+1)<<12], p.biomes[i<<6:(i+1)<<6]
		for j := range blocks {
			blocks[j] = s.blocks.At(j&15, j>>8, j>>4&15)
		}
		for j := range biomes {
			biomes[j] = s.biomes.At(j&3, j>>4, j>>2&3)
		}
	}
	for k := range p.heights {
		for col := 0; col < 256; col++ {
			p.heights[k][col] = p.scanDown(HeightMapKind(k), col&15, p.r[1], col>>4)
		}
	}
}

// sections splits the flat arrays of a ProtoChunk into paletted sub chunks.
func (p *ProtoChunk) sections() []*SubChunk {
	sub := make([]*SubChunk, p.r.SubChunks())
	for i := range sub {
		sub[i] = NewSubChunk(p.air, 0)
		sub[i].blocks = fromCells(16, slices.Clone(p.blocks[i<<12:(i+1)<<12]))
		sub[i].biomes = fromCells(4, slices.Clone(p.biomes[i<<6:(i+1)<<6]))
	}
	return sub
}
