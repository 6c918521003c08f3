package generator

import (
	"testing"

	"github.com/df-mc/chunkflow/server/block/cube"
)

func TestRandomSalts(t *testing.T) {
	pos := cube.ChunkPos{4, -9}
	if Salt("features") != Salt("features") {
		t.Fatalf("Salt is not stable for equal names")
	}
	if Salt("features") == Salt("surface") {
		t.Fatalf("Salt returned equal salts for different names")
	}
	a, b := Random(7, pos, Salt("features")), Random(7, pos, Salt("features"))
	for range 8 {
		if a.Uint64() != b.Uint64() {
			t.Fatalf("equal seed, position and salt produced different streams")
		}
	}
	c, d := Random(7, pos, Salt("features")), Random(7, pos, Salt("surface"))
	if c.Uint64() == d.Uint64() && c.Uint64() == d.Uint64() {
		t.Fatalf("different salts produced the same stream")
	}
}
