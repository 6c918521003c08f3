package pmgen

import (
	"testing"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generator"
	"github.com/df-mc/chunkflow/server/world/generator/pmgen/biome"
)

var testRange = cube.Range{-16, 143}

// testRegion is a generator.Region over a square of ProtoChunks.
type testRegion struct {
	t      *testing.T
	center cube.ChunkPos
	radius int
	chunks map[cube.ChunkPos]*chunk.ProtoChunk
}

func newTestRegion(t *testing.T, center cube.ChunkPos, radius int, chunks map[cube.ChunkPos]*chunk.ProtoChunk) *testRegion {
	for x := -radius; x <= radius; x++ {
		for z := -radius; z <= radius; z++ {
			pos := center.Add(int32(x), int32(z))
			if _, ok := chunks[pos]; !ok {
				chunks[pos] = chunk.NewProtoChunk(pos, testRange, generator.Air, 0, generator.Properties{})
			}
		}
	}
	return &testRegion{t: t, center: center, radius: radius, chunks: chunks}
}

func (r *testRegion) proto(pos cube.Pos) *chunk.ProtoChunk {
	if !r.Contains(pos) {
		r.t.Fatalf("access to %v outside of region around %v", pos, r.center)
	}
	return r.chunks[pos.ChunkPos()]
}

func (r *testRegion) Center() cube.ChunkPos { return r.center }
func (r *testRegion) Range() cube.Range     { return testRange }
func (r *testRegion) Contains(pos cube.Pos) bool {
	return pos.ChunkPos().Chebyshev(r.center) <= r.radius
}
func (r *testRegion) Block(pos cube.Pos) uint32 {
	return r.proto(pos).Block(pos[0]&15, pos[1], pos[2]&15)
}
func (r *testRegion) SetBlock(pos cube.Pos, id uint32) {
	r.proto(pos).SetBlock(pos[0]&15, pos[1], pos[2]&15, id)
}
func (r *testRegion) Biome(pos cube.Pos) uint32 {
	return r.proto(pos).Biome(pos[0]&15, pos[1], pos[2]&15)
}
func (r *testRegion) SetBiome(pos cube.Pos, b uint32) {
	r.proto(pos).SetBiome(pos[0]&15, pos[1], pos[2]&15, b)
}
func (r *testRegion) Height(kind chunk.HeightMapKind, x, z int) int {
	return r.proto(cube.Pos{x, 0, z}).Height(kind, x&15, z&15)
}
func (r *testRegion) AddStructureStart(s chunk.StructureStart) {
	r.chunks[r.center].AddStructureStart(s)
}

// generate runs every stage for the chunk at pos, running the earlier stages
// for its neighbours first where the later stages need them.
func generate(t *testing.T, g *Generator, pos cube.ChunkPos) map[cube.ChunkPos]*chunk.ProtoChunk {
	chunks := make(map[cube.ChunkPos]*chunk.ProtoChunk)
	for x := int32(-1); x <= 1; x++ {
		for z := int32(-1); z <= 1; z++ {
			r := newTestRegion(t, pos.Add(x, z), 0, chunks)
			g.PopulateBiomes(r)
			g.PopulateNoise(r)
			g.BuildSurface(r)
		}
	}
	g.GenerateFeatures(newTestRegion(t, pos, 1, chunks), generator.Random(g.seed, pos, 0))
	return chunks
}

func TestGeneratorDeterministic(t *testing.T) {
	pos := cube.ChunkPos{3, -7}
	a, b := generate(t, New(42), pos), generate(t, New(42), pos)
	for p, pa := range a {
		pb := b[p]
		for x := 0; x < 16; x++ {
			for z := 0; z < 16; z++ {
				for y := testRange.Min(); y <= testRange.Max(); y++ {
					if pa.Block(x, y, z) != pb.Block(x, y, z) {
						t.Fatalf("chunk %v differs at %v %v %v: %v != %v", p, x, y, z, pa.Block(x, y, z), pb.Block(x, y, z))
					}
				}
			}
		}
	}
}

func TestGeneratorTerrain(t *testing.T) {
	g := New(1234)
	pos := cube.ChunkPos{0, 0}
	chunks := make(map[cube.ChunkPos]*chunk.ProtoChunk)
	r := newTestRegion(t, pos, 0, chunks)
	g.PopulateBiomes(r)
	g.PopulateNoise(r)
	p := chunks[pos]

	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			if b := p.Block(x, testRange.Min(), z); b != generator.Bedrock {
				t.Fatalf("expected bedrock at bottom of %v %v, got %v", x, z, b)
			}
			for y := testRange.Min() + 1; y <= waterHeight; y++ {
				if b := p.Block(x, y, z); b != generator.Stone && b != generator.Water {
					t.Fatalf("expected stone or water at %v %v %v, got %v", x, y, z, b)
				}
			}
			for y := terrainHeight; y <= testRange.Max(); y++ {
				if b := p.Block(x, y, z); b != generator.Air {
					t.Fatalf("expected air above terrain at %v %v %v, got %v", x, y, z, b)
				}
			}
		}
	}

	g.BuildSurface(r)
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			top := p.Height(chunk.OceanFloor, x, z)
			cover := biome.ByID(p.Biome(x, top, z)).GroundCover
			if b := p.Block(x, top, z); b != cover[0] {
				t.Fatalf("expected ground cover %v at top of %v %v, got %v", cover[0], x, z, b)
			}
		}
	}
}

func TestGeneratorFeaturesStayInRegion(t *testing.T) {
	g := New(99)
	// testRegion fails the test on any access outside of the 3x3 window.
	for _, pos := range []cube.ChunkPos{{0, 0}, {5, 5}, {-12, 8}, {20, -31}} {
		generate(t, g, pos)
	}
}

func TestPickBiomeJitter(t *testing.T) {
	g := New(7)
	for x := int64(-64); x < 64; x += 7 {
		for z := int64(-64); z < 64; z += 5 {
			if g.pickBiome(x, z) == nil {
				t.Fatalf("no biome at %v %v", x, z)
			}
		}
	}
}
