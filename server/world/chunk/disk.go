package chunk

import (
	"errors"
	"fmt"
	"maps"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/stage"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// ErrPositionMismatch is returned by Decode if the data decoded belongs to a
// different chunk than the one requested.
var ErrPositionMismatch = errors.New("chunk position mismatch")

// diskChunk is the NBT layout of a saved chunk. IDs are stored as int64 so
// that the full uint32 range survives the signed NBT types.
type diskChunk struct {
	XPos          int32            `nbt:"xPos"`
	ZPos          int32            `nbt:"zPos"`
	MinY          int32            `nbt:"MinY"`
	Height        int32            `nbt:"Height"`
	Status        string           `nbt:"Status"`
	Air           int64            `nbt:"Air"`
	Sections      []diskSection    `nbt:"sections"`
	Heightmaps    diskHeightMaps   `nbt:"Heightmaps"`
	BlockTicks    []diskTick       `nbt:"block_ticks"`
	FluidTicks    []diskTick       `nbt:"fluid_ticks"`
	BlockEntities []map[string]any `nbt:"block_entities"`
	Structures    []diskStructure  `nbt:"structures"`
}

type diskSection struct {
	Y            int32   `nbt:"Y"`
	BlockPalette []int64 `nbt:"block_palette"`
	BlockData    []int64 `nbt:"block_data"`
	BiomePalette []int64 `nbt:"biome_palette"`
	BiomeData    []int64 `nbt:"biome_data"`
	SkyLevel     uint8   `nbt:"SkyLevel"`
	SkyLight     []byte  `nbt:"SkyLight"`
	BlockLevel   uint8   `nbt:"BlockLevel"`
	BlockLight   []byte  `nbt:"BlockLight"`
}

type diskHeightMaps struct {
	WorldSurface           []int64 `nbt:"WORLD_SURFACE"`
	OceanFloor             []int64 `nbt:"OCEAN_FLOOR"`
	MotionBlocking         []int64 `nbt:"MOTION_BLOCKING"`
	MotionBlockingNoLeaves []int64 `nbt:"MOTION_BLOCKING_NO_LEAVES"`
}

func (d *diskHeightMaps) kinds() [HeightMapKinds]*[]int64 {
	return [HeightMapKinds]*[]int64{&d.WorldSurface, &d.OceanFloor, &d.MotionBlocking, &d.MotionBlockingNoLeaves}
}

type diskTick struct {
	X        int32 `nbt:"x"`
	Y        int32 `nbt:"y"`
	Z        int32 `nbt:"z"`
	Block    int64 `nbt:"i"`
	Tick     int64 `nbt:"t"`
	Priority int32 `nbt:"p"`
}

type diskStructure struct {
	Name string `nbt:"id"`
	X    int32  `nbt:"x"`
	Y    int32  `nbt:"y"`
	Z    int32  `nbt:"z"`
}

// Decoded is a chunk read from disk. Exactly one of Chunk and Proto is set.
type Decoded struct {
	Chunk *Chunk
	Proto *ProtoChunk
	// Repaired is the amount of cells that referenced a palette index out of
	// range and were replaced.
	Repaired int
}

// Stage returns the stage of the decoded chunk.
func (d Decoded) Stage() stage.Stage {
	if d.Chunk != nil {
		return stage.Full
	}
	return d.Proto.Stage()
}

// Encode encodes a finished Chunk to its disk format.
func Encode(c *Chunk) ([]byte, error) {
	d := diskChunk{
		XPos:   c.pos[0],
		ZPos:   c.pos[1],
		MinY:   int32(c.r[0]),
		Height: int32(c.r.Height()),
		Status: stage.Full.String(),
		Air:    int64(c.air),
	}
	d.Sections = encodeSections(c.sub)
	for k, words := range d.Heightmaps.kinds() {
		*words = toInt64(c.heightMaps[k].Words())
	}
	d.BlockTicks = encodeTicks(c.BlockTicks)
	d.FluidTicks = encodeTicks(c.FluidTicks)
	d.BlockEntities = make([]map[string]any, 0, len(c.blockEntities))
	for pos, data := range c.blockEntities {
		m := maps.Clone(data)
		m["x"], m["y"], m["z"] = int32(pos[0]), int32(pos[1]), int32(pos[2])
		d.BlockEntities = append(d.BlockEntities, m)
	}
	b, err := nbt.MarshalEncoding(d, nbt.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode chunk %v: %w", c.pos, err)
	}
	return b, nil
}

// EncodeProto encodes a ProtoChunk to its disk format.
func EncodeProto(p *ProtoChunk) ([]byte, error) {
	d := diskChunk{
		XPos:   p.pos[0],
		ZPos:   p.pos[1],
		MinY:   int32(p.r[0]),
		Height: int32(p.r.Height()),
		Status: p.stage.String(),
		Air:    int64(p.air),
	}
	d.Sections = encodeSections(p.sections())
	for k, words := range d.Heightmaps.kinds() {
		h := NewHeightMap(p.r.Height())
		for col, v := range p.heights[k] {
			h.Set(col&15, col>>4, int(v))
		}
		*words = toInt64(h.Words())
	}
	for _, s := range p.structures {
		d.Structures = append(d.Structures, diskStructure{Name: s.Name, X: int32(s.Pos[0]), Y: int32(s.Pos[1]), Z: int32(s.Pos[2])})
	}
	b, err := nbt.MarshalEncoding(d, nbt.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode proto chunk %v: %w", p.pos, err)
	}
	return b, nil
}

// Decode decodes a chunk previously encoded using Encode or EncodeProto. The
// chunk must be at pos and span r.
func Decode(pos cube.ChunkPos, r cube.Range, props BlockProperties, b []byte) (Decoded, error) {
	var d diskChunk
	if err := nbt.UnmarshalEncoding(b, &d, nbt.LittleEndian); err != nil {
		return Decoded{}, fmt.Errorf("decode chunk %v: %w: %w", pos, ErrCorrupt, err)
	}
	if (cube.ChunkPos{d.XPos, d.ZPos}) != pos {
		return Decoded{}, fmt.Errorf("decode chunk %v: %w: found %v", pos, ErrPositionMismatch, cube.ChunkPos{d.XPos, d.ZPos})
	}
	if int(d.MinY) != r[0] || int(d.Height) != r.Height() {
		return Decoded{}, fmt.Errorf("decode chunk %v: %w: range [%v, %v) does not match %v", pos, ErrCorrupt, d.MinY, d.MinY+d.Height, r)
	}
	s, ok := parseStage(d.Status)
	if !ok {
		return Decoded{}, fmt.Errorf("decode chunk %v: %w: unknown status %q", pos, ErrCorrupt, d.Status)
	}
	air := uint32(d.Air)
	sub, repaired, err := decodeSections(d.Sections, r, air)
	if err != nil {
		return Decoded{}, fmt.Errorf("decode chunk %v: %w", pos, err)
	}

	if s != stage.Full {
		p := NewProtoChunk(pos, r, air, 0, props)
		protoFromSections(p, sub)
		p.stage = s
		for _, st := range d.Structures {
			p.AddStructureStart(StructureStart{Name: st.Name, Pos: cube.Pos{int(st.X), int(st.Y), int(st.Z)}})
		}
		return Decoded{Proto: p, Repaired: repaired}, nil
	}

	c := New(pos, r, air, 0, props)
	c.sub = sub
	for k, words := range d.Heightmaps.kinds() {
		h, err := HeightMapFromWords(r.Height(), toUint64(*words))
		if err != nil {
			// Height maps can always be rebuilt from the blocks.
			c.RecalculateHeightMaps()
			break
		}
		c.heightMaps[k] = h
	}
	c.BlockTicks.Add(decodeTicks(d.BlockTicks))
	c.FluidTicks.Add(decodeTicks(d.FluidTicks))
	for _, m := range d.BlockEntities {
		x, _ := m["x"].(int32)
		y, _ := m["y"].(int32)
		z, _ := m["z"].(int32)
		delete(m, "x")
		delete(m, "y")
		delete(m, "z")
		c.blockEntities[cube.Pos{int(x), int(y), int(z)}] = m
	}
	return Decoded{Chunk: c, Repaired: repaired}, nil
}

func parseStage(name string) (stage.Stage, bool) {
	for _, s := range stage.All() {
		if s.String() == name {
			return s, true
		}
	}
	return stage.None, false
}

func encodeSections(sub []*SubChunk) []diskSection {
	sections := make([]diskSection, 0, len(sub))
	for i, s := range sub {
		blocks := s.blocks.Encode(DiskBlockEncoding)
		biomes := s.biomes.Encode(DiskBiomeEncoding)
		d := diskSection{
			Y:            int32(i),
			BlockPalette: toInt64(blocks.Palette),
			BlockData:    toInt64(blocks.Data),
			BiomePalette: toInt64(biomes.Palette),
			BiomeData:    toInt64(biomes.Data),
			SkyLight:     s.skyLight.Bytes(),
			BlockLight:   s.blockLight.Bytes(),
		}
		d.SkyLevel, _ = s.skyLight.Uniform()
		d.BlockLevel, _ = s.blockLight.Uniform()
		sections = append(sections, d)
	}
	return sections
}

func decodeSections(sections []diskSection, r cube.Range, air uint32) ([]*SubChunk, int, error) {
	sub := make([]*SubChunk, r.SubChunks())
	for i := range sub {
		sub[i] = NewSubChunk(air, 0)
	}
	repaired := 0
	for _, d := range sections {
		if d.Y < 0 || int(d.Y) >= len(sub) {
			return nil, 0, fmt.Errorf("%w: section %v out of range", ErrCorrupt, d.Y)
		}
		blocks, n, err := DecodeContainer(16, Encoded[uint32]{Palette: toUint32(d.BlockPalette), Data: toUint64(d.BlockData)}, DiskBlockEncoding)
		if err != nil {
			return nil, 0, fmt.Errorf("section %v blocks: %w", d.Y, err)
		}
		repaired += n
		biomes, n, err := DecodeContainer(4, Encoded[uint32]{Palette: toUint32(d.BiomePalette), Data: toUint64(d.BiomeData)}, DiskBiomeEncoding)
		if err != nil {
			return nil, 0, fmt.Errorf("section %v biomes: %w", d.Y, err)
		}
		repaired += n
		sub[d.Y] = &SubChunk{
			blocks:     blocks,
			biomes:     biomes,
			skyLight:   LightFromBytes(d.SkyLight, d.SkyLevel),
			blockLight: LightFromBytes(d.BlockLight, d.BlockLevel),
		}
	}
	return sub, repaired, nil
}

func encodeTicks(q *TickQueue) []diskTick {
	all := q.All()
	ticks := make([]diskTick, 0, len(all))
	for _, t := range all {
		ticks = append(ticks, diskTick{X: int32(t.Pos[0]), Y: int32(t.Pos[1]), Z: int32(t.Pos[2]), Block: int64(t.Block), Tick: t.Tick, Priority: t.Priority})
	}
	return ticks
}

func decodeTicks(ticks []diskTick) []ScheduledTick {
	s := make([]ScheduledTick, 0, len(ticks))
	for _, t := range ticks {
		s = append(s, ScheduledTick{Pos: cube.Pos{int(t.X), int(t.Y), int(t.Z)}, Block: uint32(t.Block), Tick: t.Tick, Priority: t.Priority})
	}
	return s
}

func toInt64[T uint32 | uint64](s []T) []int64 {
	if s == nil {
		return nil
	}
	out := make([]int64, len(s))
	for i, v := range s {
		out[i] = int64(v)
	}
	return out
}

func toUint64(s []int64) []uint64 {
	if s == nil {
		return nil
	}
	out := make([]uint64, len(s))
	for i, v := range s {
		out[i] = uint64(v)
	}
	return out
}

func toUint32(s []int64) []uint32 {
	out := make([]uint32, len(s))
	for i, v := range s {
		out[i] = uint32(v)
	}
	return out
}
