// Package biome holds the biomes of the pmgen generator with their terrain
// elevation, climate, ground cover and feature populators.
package biome

import (
	"github.com/df-mc/chunkflow/server/world/generator"
	"github.com/df-mc/chunkflow/server/world/generator/pmgen/populate"
)

// Biome describes how the terrain of a biome is shaped and decorated.
type Biome struct {
	// ID is the biome ID stored in chunks.
	ID   uint32
	Name string
	// MinElevation and MaxElevation bound the terrain height of the biome
	// before smoothing with neighbouring biomes.
	MinElevation, MaxElevation int
	Temperature, Rainfall      float64
	// GroundCover holds the blocks replacing the top of the terrain, from the
	// top down.
	GroundCover []uint32
	// Populators place the features of the biome.
	Populators []populate.Populator
}

// Biome IDs.
const (
	IDOcean       uint32 = 0
	IDPlains      uint32 = 1
	IDDesert      uint32 = 2
	IDMountains   uint32 = 3
	IDForest      uint32 = 4
	IDTaiga       uint32 = 5
	IDSwamp       uint32 = 6
	IDRiver       uint32 = 7
	IDIcePlains   uint32 = 12
	IDBirchForest uint32 = 27
)

var (
	grassy = []uint32{generator.Grass, generator.Dirt, generator.Dirt, generator.Dirt, generator.Dirt}
	sandy  = []uint32{generator.Sand, generator.Sand, generator.Sandstone, generator.Sandstone, generator.Sandstone}
	snowy  = []uint32{generator.Snow, generator.Grass, generator.Dirt, generator.Dirt, generator.Dirt}
	gravel = []uint32{generator.Gravel, generator.Gravel, generator.Gravel, generator.Gravel, generator.Gravel}
	dirt   = []uint32{generator.Dirt, generator.Dirt, generator.Dirt, generator.Dirt, generator.Dirt}
)

var (
	Ocean = &Biome{ID: IDOcean, Name: "ocean", MinElevation: 46, MaxElevation: 58, Temperature: 0.5, Rainfall: 0.5,
		GroundCover: gravel, Populators: []populate.Populator{populate.TallGrass{Amount: 5}}}
	Plains = &Biome{ID: IDPlains, Name: "plains", MinElevation: 63, MaxElevation: 68, Temperature: 0.8, Rainfall: 0.4,
		GroundCover: grassy, Populators: []populate.Populator{populate.TallGrass{Amount: 12}}}
	Desert = &Biome{ID: IDDesert, Name: "desert", MinElevation: 63, MaxElevation: 74, Temperature: 2, Rainfall: 0,
		GroundCover: sandy}
	Mountains = &Biome{ID: IDMountains, Name: "mountains", MinElevation: 63, MaxElevation: 127, Temperature: 0.4, Rainfall: 0.5,
		GroundCover: grassy, Populators: []populate.Populator{populate.Tree{Type: populate.OakTree{}, BaseAmount: 1}, populate.TallGrass{Amount: 1}}}
	SmallMountains = &Biome{ID: IDMountains, Name: "small_mountains", MinElevation: 63, MaxElevation: 97, Temperature: 0.4, Rainfall: 0.5,
		GroundCover: grassy, Populators: []populate.Populator{populate.Tree{Type: populate.OakTree{}, BaseAmount: 1}, populate.TallGrass{Amount: 1}}}
	Forest = &Biome{ID: IDForest, Name: "forest", MinElevation: 63, MaxElevation: 81, Temperature: 0.7, Rainfall: 0.8,
		GroundCover: grassy, Populators: []populate.Populator{populate.Tree{Type: populate.OakTree{}, BaseAmount: 5}, populate.TallGrass{Amount: 3}}}
	Taiga = &Biome{ID: IDTaiga, Name: "taiga", MinElevation: 63, MaxElevation: 81, Temperature: 0.05, Rainfall: 0.8,
		GroundCover: snowy, Populators: []populate.Populator{populate.Tree{Type: populate.SpruceTree{}, BaseAmount: 10}, populate.TallGrass{Amount: 1}}}
	Swamp = &Biome{ID: IDSwamp, Name: "swamp", MinElevation: 62, MaxElevation: 63, Temperature: 0.8, Rainfall: 0.9,
		GroundCover: grassy}
	River = &Biome{ID: IDRiver, Name: "river", MinElevation: 58, MaxElevation: 62, Temperature: 0.5, Rainfall: 0.7,
		GroundCover: dirt}
	IcePlains = &Biome{ID: IDIcePlains, Name: "ice_plains", MinElevation: 63, MaxElevation: 74, Temperature: 0.05, Rainfall: 0.8,
		GroundCover: snowy}
	BirchForest = &Biome{ID: IDBirchForest, Name: "birch_forest", MinElevation: 60, MaxElevation: 70, Temperature: 0.6, Rainfall: 0.6,
		GroundCover: grassy, Populators: []populate.Populator{populate.Tree{Type: populate.BirchTree{}, BaseAmount: 5}, populate.TallGrass{Amount: 3}}}
)

var byID = map[uint32]*Biome{}

func init() {
	for _, b := range []*Biome{Ocean, Plains, Desert, Mountains, Forest, Taiga, Swamp, River, IcePlains, BirchForest} {
		byID[b.ID] = b
	}
}

// ByID returns the biome with the ID passed. Plains is returned if no such
// biome exists.
func ByID(id uint32) *Biome {
	if b, ok := byID[id]; ok {
		return b
	}
	return Plains
}
