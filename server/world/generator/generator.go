// Package generator defines the content functions called by the generation
// pipeline for every stage and a set of simple generators.
package generator

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/segmentio/fasthash/fnv1a"
)

// Region is a window of chunks around a centre chunk that a generation stage
// works on. Positions are world block positions. Only positions for which
// Contains returns true may be read or written.
type Region interface {
	// Center returns the chunk the stage is running for.
	Center() cube.ChunkPos
	// Range returns the height range of the world.
	Range() cube.Range
	// Contains checks if pos lies within the window.
	Contains(pos cube.Pos) bool
	Block(pos cube.Pos) uint32
	SetBlock(pos cube.Pos, id uint32)
	Biome(pos cube.Pos) uint32
	SetBiome(pos cube.Pos, biome uint32)
	// Height returns the world height of the highest block matching kind in
	// the column at x, z.
	Height(kind chunk.HeightMapKind, x, z int) int
	// AddStructureStart records a structure started in the centre chunk.
	AddStructureStart(s chunk.StructureStart)
}

// Generator generates the content of chunks. Each method is called once per
// chunk, in order, when the chunk reaches the corresponding stage. Methods
// may be called concurrently for different chunks and must only use the
// Region passed to access chunk data.
type Generator interface {
	// PopulateBiomes sets the biomes of the centre chunk.
	PopulateBiomes(r Region)
	// PopulateNoise places the base terrain of the centre chunk.
	PopulateNoise(r Region)
	// BuildSurface replaces the top layers of the terrain of the centre chunk.
	BuildSurface(r Region)
	// GenerateFeatures places features and structures. The Region spans the
	// centre chunk and its direct neighbours, which may be written to as well.
	// rnd is seeded by the world seed and the centre chunk position.
	GenerateFeatures(r Region, rnd *rand.Rand)
}

// NopGenerator is a Generator that leaves chunks empty.
type NopGenerator struct{}

func (NopGenerator) PopulateBiomes(Region)               {}
func (NopGenerator) PopulateNoise(Region)                {}
func (NopGenerator) BuildSurface(Region)                 {}
func (NopGenerator) GenerateFeatures(Region, *rand.Rand) {}

// Random returns a random source seeded by the world seed, a chunk position
// and a salt that distinguishes different uses within one chunk.
func Random(seed int64, pos cube.ChunkPos, salt uint64) *rand.Rand {
	var b [24]byte
	binary.LittleEndian.PutUint64(b[:], uint64(seed))
	binary.LittleEndian.PutUint64(b[8:], uint64(pos.Key()))
	binary.LittleEndian.PutUint64(b[16:], salt)
	h := xxhash.Sum64(b[:])
	return rand.New(rand.NewPCG(h, h^0x9e3779b97f4a7c15))
}

// Salt returns a salt for Random derived from name.
func Salt(name string) uint64 {
	return fnv1a.HashString64(name)
}
