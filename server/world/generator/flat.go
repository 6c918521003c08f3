package generator

import (
	"math/rand/v2"

	"github.com/df-mc/chunkflow/server/block/cube"
)

// Flat is the default generator. It places Layers from the bottom of the world
// up and sets every biome to Biome.
type Flat struct {
	// Biome is the biome of every block.
	Biome uint32
	// Layers are the blocks placed from the bottom of the world upwards.
	Layers []uint32
}

// NewFlat returns a Flat generator with bedrock, two layers of dirt and grass
// on top.
func NewFlat(biome uint32) Flat {
	return Flat{Biome: biome, Layers: []uint32{Bedrock, Dirt, Dirt, Grass}}
}

// PopulateBiomes ...
func (f Flat) PopulateBiomes(r Region) {
	base := r.Center().BlockPos(0)
	for x := 0; x < 16; x += 4 {
		for z := 0; z < 16; z += 4 {
			for y := r.Range().Min(); y <= r.Range().Max(); y += 4 {
				r.SetBiome(base.Add(cube.Pos{x, y, z}), f.Biome)
			}
		}
	}
}

// PopulateNoise ...
func (f Flat) PopulateNoise(r Region) {
	base := r.Center().BlockPos(r.Range().Min())
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			for y, b := range f.Layers {
				if y >= r.Range().Height() {
					break
				}
				r.SetBlock(base.Add(cube.Pos{x, y, z}), b)
			}
		}
	}
}

// BuildSurface ...
func (Flat) BuildSurface(Region) {}

// GenerateFeatures ...
func (Flat) GenerateFeatures(Region, *rand.Rand) {}
