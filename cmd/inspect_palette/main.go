// Command inspect_palette prints the block and biome palettes of every
// section of a chunk stored in a LevelDB world.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generator"
	"github.com/df-mc/chunkflow/server/world/mcdb"
)

func main() {
	var (
		dir  = flag.String("world", "world", "folder of the LevelDB world")
		x    = flag.Int("x", 0, "chunk X")
		z    = flag.Int("z", 0, "chunk Z")
		minY = flag.Int("miny", -64, "lowest Y of the world")
		maxY = flag.Int("maxy", 319, "highest Y of the world")
	)
	flag.Parse()

	db, err := mcdb.Config{ReadOnly: true}.Open(*dir)
	if err != nil {
		fail(err)
	}
	defer db.Close()

	pos := cube.ChunkPos{int32(*x), int32(*z)}
	for res := range db.Fetch([]cube.ChunkPos{pos}) {
		if res.Err != nil {
			fail(res.Err)
		}
		if res.Missing() {
			fail(fmt.Errorf("chunk %v does not exist", pos))
		}
		d, err := chunk.Decode(pos, cube.Range{*minY, *maxY}, generator.Properties{}, res.Data)
		if err != nil {
			fail(err)
		}
		describe(pos, d)
	}
}

func describe(pos cube.ChunkPos, d chunk.Decoded) {
	fmt.Printf("chunk %v: stage %v, repaired cells %v\n", pos, d.Stage(), d.Repaired)
	if d.Chunk == nil {
		fmt.Println("chunk is not finished, sections are stored as flat arrays")
		return
	}
	r := d.Chunk.Range()
	for i, sub := range d.Chunk.Sub() {
		if sub.Empty(d.Chunk.Air()) {
			continue
		}
		blocks, biomes := sub.Blocks(), sub.Biomes()
		fmt.Printf("section %v (y=%v):\n", i, r.Min()+i<<4)
		fmt.Printf("  blocks: %v bits, palette %v\n", blocks.BitsPerEntry(), blocks.Palette())
		fmt.Printf("  biomes: %v bits, palette %v\n", biomes.BitsPerEntry(), biomes.Palette())
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
