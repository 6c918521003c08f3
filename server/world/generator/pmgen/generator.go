// Package pmgen implements a generator producing hilly terrain with biomes,
// ores and trees. Terrain is shaped by 3D noise smoothed between the
// elevations of neighbouring biomes.
package pmgen

import (
	"math/rand/v2"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generator"
	"github.com/df-mc/chunkflow/server/world/generator/pmgen/biome"
	"github.com/df-mc/chunkflow/server/world/generator/pmgen/populate"
)

const SmoothSize = 2

var gaussianKernel = [5][5]float64{
	{
		1.4715177646858,
		2.141045714076,
		2.4261226388505,
		2.141045714076,
		1.4715177646858,
	},
	{
		2.141045714076,
		3.1152031322856,
		3.5299876103384,
		3.1152031322856,
		2.141045714076,
	},
	{
		2.4261226388505,
		3.5299876103384,
		4,
		3.5299876103384,
		2.4261226388505,
	},
	{
		2.141045714076,
		3.1152031322856,
		3.5299876103384,
		3.1152031322856,
		2.141045714076,
	},
	{
		1.4715177646858,
		2.141045714076,
		2.4261226388505,
		2.141045714076,
		1.4715177646858,
	},
}

// waterHeight is the height up to which empty space below the terrain is
// filled with water.
const waterHeight = 62

// terrainHeight is the height of the noise volume sampled for terrain.
const terrainHeight = 128

// Generator is a generator.Generator. It is safe for concurrent use.
type Generator struct {
	seed     int64
	noise    *noise
	selector *biomeSelector
}

// New returns a Generator for the world seed passed.
func New(seed int64) *Generator {
	noise := newNoise(rand.New(rand.NewPCG(uint64(seed), 0)), 4, 1.0/4, 1.0/32)
	selector := newBiomeSelector(rand.New(rand.NewPCG(uint64(seed), 1)))
	selector.recalculate()
	return &Generator{seed: seed, noise: noise, selector: selector}
}

// PopulateBiomes ...
func (g *Generator) PopulateBiomes(r generator.Region) {
	base := r.Center().BlockPos(0)
	for x := 0; x < 16; x += 4 {
		for z := 0; z < 16; z += 4 {
			id := g.pickBiome(int64(base[0]+x+2), int64(base[2]+z+2)).ID
			for y := r.Range().Min(); y <= r.Range().Max(); y += 4 {
				r.SetBiome(cube.Pos{base[0] + x, y, base[2] + z}, id)
			}
		}
	}
}

// PopulateNoise ...
func (g *Generator) PopulateNoise(r generator.Region) {
	base := r.Center().BlockPos(0)
	rng := r.Range()
	noise := g.noise.fastNoise3D(16, terrainHeight, 16, 4, 8, 4, int64(base[0]), 0, int64(base[2]))

	biomes := make(map[[2]int64]*biome.Biome)
	biomeAt := func(x, z int64) *biome.Biome {
		if b, ok := biomes[[2]int64{x, z}]; ok {
			return b
		}
		b := g.pickBiome(x, z)
		biomes[[2]int64{x, z}] = b
		return b
	}

	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			wx, wz := base[0]+x, base[2]+z
			var minSum, maxSum, weightSum float64
			for sx := -SmoothSize; sx <= SmoothSize; sx++ {
				for sz := -SmoothSize; sz <= SmoothSize; sz++ {
					weight := gaussianKernel[sx+SmoothSize][sz+SmoothSize]
					adjacent := biomeAt(int64(wx+sx), int64(wz+sz))
					minSum += float64(adjacent.MinElevation-1) * weight
					maxSum += float64(adjacent.MaxElevation) * weight
					weightSum += weight
				}
			}
			minSum /= weightSum
			maxSum /= weightSum
			smoothHeight := (maxSum - minSum) / 2

			r.SetBlock(cube.Pos{wx, rng.Min(), wz}, generator.Bedrock)
			for y := rng.Min() + 1; y < min(0, rng.Max()+1); y++ {
				r.SetBlock(cube.Pos{wx, y, wz}, generator.Stone)
			}
			for y := max(0, rng.Min()+1); y < min(terrainHeight, rng.Max()+1); y++ {
				value := noise[x][z][y] - 1.0/smoothHeight*(float64(y)-smoothHeight-minSum)
				if value > 0 {
					r.SetBlock(cube.Pos{wx, y, wz}, generator.Stone)
				} else if y <= waterHeight {
					r.SetBlock(cube.Pos{wx, y, wz}, generator.Water)
				}
			}
		}
	}
}

// BuildSurface ...
func (g *Generator) BuildSurface(r generator.Region) {
	base := r.Center().BlockPos(0)
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			wx, wz := base[0]+x, base[2]+z
			top := r.Height(chunk.OceanFloor, wx, wz)
			if top < r.Range().Min() {
				continue
			}
			cover := biome.ByID(r.Biome(cube.Pos{wx, top, wz})).GroundCover
			for i, id := range cover {
				pos := cube.Pos{wx, top - i, wz}
				if pos.OutOfBounds(r.Range()) || r.Block(pos) != generator.Stone {
					break
				}
				r.SetBlock(pos, id)
			}
		}
	}
}

// GenerateFeatures ...
func (g *Generator) GenerateFeatures(r generator.Region, rnd *rand.Rand) {
	centre := r.Center().BlockPos(0)
	b := g.pickBiome(int64(centre[0]+8), int64(centre[2]+8))

	populate.DefaultOres.Populate(r, rnd)
	for _, p := range b.Populators {
		p.Populate(r, rnd)
	}
}

// pickBiome returns the biome at x, z, jittered by up to one block in both
// directions to roughen biome borders.
func (g *Generator) pickBiome(x, z int64) *biome.Biome {
	hash := x*2345803 ^ z*9236449 ^ g.seed
	hash *= hash + 223
	xNoise := hash >> 20 & 3
	zNoise := hash >> 22 & 3
	if xNoise == 3 {
		xNoise = 1
	}
	if zNoise == 3 {
		zNoise = 1
	}
	return g.selector.pickBiome(x+xNoise-1, z+zNoise-1)
}
