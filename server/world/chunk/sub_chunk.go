package chunk

// SubChunk is a 16x16x16 section of a chunk, holding its blocks, its biomes at
// a quarter resolution and its light.
type SubChunk struct {
	blocks     *Container[uint32]
	biomes     *Container[uint32]
	skyLight   *Light
	blockLight *Light
}

// NewSubChunk returns a SubChunk filled with air and biome, with full sky
// light and no block light.
func NewSubChunk(air, biome uint32) *SubChunk {
	return &SubChunk{
		blocks:     NewContainer(16, air),
		biomes:     NewContainer(4, biome),
		skyLight:   NewLight(15),
		blockLight: NewLight(0),
	}
}

// Empty checks if the SubChunk holds only air.
func (sub *SubChunk) Empty(air uint32) bool {
	v, ok := sub.blocks.Homogeneous()
	return ok && v == air
}

// Block returns the block ID at x, y, z, relative to the SubChunk.
func (sub *SubChunk) Block(x, y, z int) uint32 {
	return sub.blocks.At(x, y, z)
}

// SetBlock sets the block ID at x, y, z and returns the previous ID.
func (sub *SubChunk) SetBlock(x, y, z int, id uint32) uint32 {
	return sub.blocks.Set(x, y, z, id)
}

// Biome returns the biome at block x, y, z, relative to the SubChunk.
func (sub *SubChunk) Biome(x, y, z int) uint32 {
	return sub.biomes.At(x>>2, y>>2, z>>2)
}

// SetBiome sets the biome of the 4x4x4 cell holding block x, y, z.
func (sub *SubChunk) SetBiome(x, y, z int, biome uint32) {
	sub.biomes.Set(x>>2, y>>2, z>>2, biome)
}

// Blocks returns the block Container of the SubChunk.
func (sub *SubChunk) Blocks() *Container[uint32] { return sub.blocks }

// Biomes returns the biome Container of the SubChunk.
func (sub *SubChunk) Biomes() *Container[uint32] { return sub.biomes }

// SkyLight returns the sky light of the SubChunk.
func (sub *SubChunk) SkyLight() *Light { return sub.skyLight }

// BlockLight returns the block light of the SubChunk.
func (sub *SubChunk) BlockLight() *Light { return sub.blockLight }

// Clone returns a deep copy of the SubChunk.
func (sub *SubChunk) Clone() *SubChunk {
	return &SubChunk{
		blocks:     sub.blocks.Clone(),
		biomes:     sub.biomes.Clone(),
		skyLight:   sub.skyLight.Clone(),
		blockLight: sub.blockLight.Clone(),
	}
}
