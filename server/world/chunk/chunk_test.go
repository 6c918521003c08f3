package chunk

import (
	"errors"
	"testing"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/stage"
)

type testProps struct{}

func (testProps) Air(id uint32) bool    { return id == 0 }
func (testProps) Fluid(id uint32) bool  { return id == 9 }
func (testProps) Leaves(id uint32) bool { return id == 18 }

var testRange = cube.Range{-16, 47}

func TestChunkHeightMaps(t *testing.T) {
	c := New(cube.ChunkPos{1, 2}, testRange, 0, 1, testProps{})
	if h := c.Height(WorldSurface, 3, 4); h != testRange.Min()-1 {
		t.Fatalf("height of empty column = %v", h)
	}
	c.SetBlock(3, 10, 4, 1)
	c.SetBlock(3, 12, 4, 9)
	c.SetBlock(3, 14, 4, 18)

	want := map[HeightMapKind]int{WorldSurface: 14, OceanFloor: 14, MotionBlocking: 14, MotionBlockingNoLeaves: 12}
	for kind, y := range want {
		if h := c.Height(kind, 3, 4); h != y {
			t.Errorf("%v height = %v, want %v", kind, h, y)
		}
	}
	c.SetBlock(3, 14, 4, 0)
	want = map[HeightMapKind]int{WorldSurface: 12, OceanFloor: 10, MotionBlocking: 12, MotionBlockingNoLeaves: 12}
	for kind, y := range want {
		if h := c.Height(kind, 3, 4); h != y {
			t.Errorf("after removal: %v height = %v, want %v", kind, h, y)
		}
	}
	if !c.Dirty() {
		t.Fatalf("chunk should be dirty after SetBlock")
	}

	cp := c.Clone()
	cp.RecalculateHeightMaps()
	if !cp.Equal(c) {
		t.Fatalf("recalculated height maps differ from incremental ones")
	}
}

func TestProtoChunkToChunk(t *testing.T) {
	pos := cube.ChunkPos{-3, 7}
	p := NewProtoChunk(pos, testRange, 0, 2, testProps{})
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			for y := testRange.Min(); y < 5+x; y++ {
				p.SetBlock(x, y, z, 1)
			}
			p.SetBiome(x, 40, z, 3)
		}
	}
	p.SetBlock(0, 30, 0, 18)
	p.SetStage(stage.Features)

	c := p.ToChunk()
	if c.Position() != pos || c.Status() != stage.Full {
		t.Fatalf("converted chunk at %v with status %v", c.Position(), c.Status())
	}
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			for y := testRange.Min(); y <= testRange.Max(); y++ {
				if a, b := p.Block(x, y, z), c.Block(x, y, z); a != b {
					t.Fatalf("block at %v %v %v: proto %v, chunk %v", x, y, z, a, b)
				}
				if a, b := p.Biome(x, y, z), c.Biome(x, y, z); a != b {
					t.Fatalf("biome at %v %v %v: proto %v, chunk %v", x, y, z, a, b)
				}
			}
			for k := 0; k < HeightMapKinds; k++ {
				kind := HeightMapKind(k)
				if a, b := p.Height(kind, x, z), c.Height(kind, x, z); a != b {
					t.Fatalf("%v height at %v %v: proto %v, chunk %v", kind, x, z, a, b)
				}
			}
		}
	}
	if v, ok := c.Sub()[len(c.Sub())-1].Blocks().Homogeneous(); !ok || v != 0 {
		t.Fatalf("top sub chunk should be homogeneous air")
	}
	if l, ok := c.Sub()[0].SkyLight().Uniform(); !ok || l != 15 {
		t.Fatalf("sky light should be full")
	}
	if l, ok := c.Sub()[0].BlockLight().Uniform(); !ok || l != 0 {
		t.Fatalf("block light should be empty")
	}
}

func TestChunkDiskRoundTrip(t *testing.T) {
	pos := cube.ChunkPos{5, -9}
	c := New(pos, testRange, 0, 1, testProps{})
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			c.SetBlock(x, -16, z, 7)
			c.SetBlock(x, (x*z)%30, z, uint32(1+(x+z)%5))
		}
	}
	c.SetBiome(0, 0, 0, 4)
	c.BlockTicks.Schedule(cube.Pos{80, 3, -144}, 3, 100, 5, 0)
	c.FluidTicks.Schedule(cube.Pos{81, 3, -144}, 9, 100, 2, 1)
	c.SetBlockEntity(cube.Pos{80, 3, -144}, map[string]any{"id": "Chest"})
	c.Sub()[1].SkyLight().Set(1, 1, 1, 3)

	b, err := Encode(c)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Decode(pos, testRange, testProps{}, b)
	if err != nil {
		t.Fatal(err)
	}
	if d.Proto != nil || d.Chunk == nil || d.Stage() != stage.Full {
		t.Fatalf("expected a finished chunk, got %+v", d)
	}
	if !d.Chunk.Equal(c) {
		t.Fatalf("chunk changed in round trip")
	}
	if data, ok := d.Chunk.BlockEntity(cube.Pos{80, 3, -144}); !ok || data["id"] != "Chest" {
		t.Fatalf("block entity lost: %v", data)
	}
	if l := d.Chunk.Sub()[1].SkyLight().At(1, 1, 1); l != 3 {
		t.Fatalf("sky light = %v, want 3", l)
	}

	if _, err := Decode(pos.Add(1, 0), testRange, testProps{}, b); !errors.Is(err, ErrPositionMismatch) {
		t.Fatalf("expected position mismatch, got %v", err)
	}
	if _, err := Decode(pos, cube.Range{0, 63}, testProps{}, b); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected range mismatch error, got %v", err)
	}
	if _, err := Decode(pos, testRange, testProps{}, b[:len(b)/2]); err == nil {
		t.Fatalf("expected error for truncated data")
	}
}

func TestProtoChunkDiskRoundTrip(t *testing.T) {
	pos := cube.ChunkPos{0, 1}
	p := NewProtoChunk(pos, testRange, 0, 1, testProps{})
	p.SetBlock(3, 3, 3, 5)
	p.SetBlock(15, 47, 15, 6)
	p.SetBiome(8, 8, 8, 2)
	p.AddStructureStart(StructureStart{Name: "village", Pos: cube.Pos{3, 3, 19}})
	p.SetStage(stage.Surface)

	b, err := EncodeProto(p)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Decode(pos, testRange, testProps{}, b)
	if err != nil {
		t.Fatal(err)
	}
	if d.Proto == nil || d.Proto.Stage() != stage.Surface {
		t.Fatalf("expected proto chunk at surface, got %+v", d)
	}
	got := d.Proto
	for i := range p.blocks {
		if p.blocks[i] != got.blocks[i] {
			t.Fatalf("block %v: %v != %v", i, p.blocks[i], got.blocks[i])
		}
	}
	for i := range p.biomes {
		if p.biomes[i] != got.biomes[i] {
			t.Fatalf("biome %v: %v != %v", i, p.biomes[i], got.biomes[i])
		}
	}
	if got.heights != p.heights {
		t.Fatalf("height maps differ")
	}
	if s := got.StructureStarts()["village"]; s.Pos != (cube.Pos{3, 3, 19}) {
		t.Fatalf("structure start lost: %+v", s)
	}
}

func TestTickQueue(t *testing.T) {
	q := NewTickQueue()
	pos := cube.Pos{1, 2, 3}
	if !q.Schedule(pos, 4, 10, 5, 0) {
		t.Fatalf("first tick not scheduled")
	}
	if q.Schedule(pos, 4, 10, 3, 0) {
		t.Fatalf("earlier tick for same block scheduled")
	}
	if !q.Schedule(pos, 5, 10, 3, 1) {
		t.Fatalf("tick for other block not scheduled")
	}
	if q.Schedule(pos, 5, 10, 3, -1) {
		t.Fatalf("second tick at the same time for the same block scheduled")
	}
	q.Schedule(cube.Pos{0, 0, 0}, 4, 10, 0, 0)

	due := q.Due(13)
	if len(due) != 2 || due[0].Tick != 11 || due[1].Tick != 13 || due[1].Block != 5 {
		t.Fatalf("unexpected due ticks %+v", due)
	}
	if q.Len() != 1 {
		t.Fatalf("queue holds %v ticks, want 1", q.Len())
	}
	if !q.Schedule(pos, 5, 13, 1, 0) {
		t.Fatalf("tick after processed one not scheduled")
	}
}

func TestTickQueueDistinctKeys(t *testing.T) {
	q := NewTickQueue()
	n := 0
	for x := range 16 {
		for y := range 16 {
			for z := range 16 {
				for block := range uint32(4) {
					pos := cube.Pos{x - 8, y - 64, z + 300}
					if !q.Schedule(pos, block, 0, 1, 0) {
						t.Fatalf("tick for block %v at %v not scheduled", block, pos)
					}
					n++
				}
			}
		}
	}
	if q.Len() != n {
		t.Fatalf("queue holds %v ticks, want %v", q.Len(), n)
	}
	c := q.Clone()
	if c.Schedule(cube.Pos{-8, -64, 300}, 3, 0, 1, 0) {
		t.Fatalf("clone scheduled a tick that was already scheduled")
	}
	if !c.Schedule(cube.Pos{-8, -64, 300}, 4, 0, 1, 0) {
		t.Fatalf("clone did not schedule a tick for a new block")
	}
	if q.Len() != n {
		t.Fatalf("scheduling on a clone changed the original queue")
	}
}
