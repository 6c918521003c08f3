package chunk

import (
	"math/rand/v2"
	"testing"

	"github.com/df-mc/chunkflow/server/internal/invariant"
)

func randomContainer(r *rand.Rand, dim, alphabet int) *Container[uint32] {
	c := NewContainer[uint32](dim, 0)
	for x := 0; x < dim; x++ {
		for y := 0; y < dim; y++ {
			for z := 0; z < dim; z++ {
				c.Set(x, y, z, uint32(r.IntN(alphabet)))
			}
		}
	}
	return c
}

func checkCounts(t *testing.T, c *Container[uint32]) {
	t.Helper()
	if _, ok := c.Homogeneous(); ok {
		if c.palette != nil || c.counts != nil {
			t.Fatalf("homogeneous container holds palette %v", c.palette)
		}
		return
	}
	if len(c.palette) != len(c.counts) || len(c.palette) < 2 {
		t.Fatalf("palette length %v, counts length %v", len(c.palette), len(c.counts))
	}
	sum := 0
	for i, v := range c.palette {
		n := 0
		for _, cell := range c.cells {
			if cell == v {
				n++
			}
		}
		if n != int(c.counts[i]) {
			t.Fatalf("value %v counted %v times, found %v", v, c.counts[i], n)
		}
		sum += n
	}
	if sum != c.Len() {
		t.Fatalf("counts sum to %v, want %v", sum, c.Len())
	}
}

func TestContainerPaletteRoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, alphabet := range []int{1, 2, 3, 7, 16, 17, 300} {
		c := randomContainer(r, 16, alphabet)
		checkCounts(t, c)
		need := c.BitsPerEntry()
		for n := need; n <= 16; n++ {
			palette, data := c.PaletteAndPackedData(n)
			got, repaired, err := ContainerFromPaletteAndPackedData(16, palette, data, n)
			if err != nil {
				t.Fatalf("alphabet %v bits %v: %v", alphabet, n, err)
			}
			if repaired != 0 {
				t.Fatalf("alphabet %v bits %v: %v cells repaired", alphabet, n, repaired)
			}
			if !got.Equal(c) {
				t.Fatalf("alphabet %v bits %v: container changed in round trip", alphabet, n)
			}
			checkCounts(t, got)
		}
	}
}

func TestContainerEveryCellUnique(t *testing.T) {
	c := NewContainer[uint32](16, 0)
	i := uint32(0)
	for y := 0; y < 16; y++ {
		for z := 0; z < 16; z++ {
			for x := 0; x < 16; x++ {
				c.Set(x, y, z, i)
				i++
			}
		}
	}
	if n := c.BitsPerEntry(); n != 12 {
		t.Fatalf("BitsPerEntry() = %v, want 12", n)
	}
	for _, e := range []Encoding{DiskBlockEncoding, NetworkBlockEncoding} {
		enc := c.Encode(e)
		got, _, err := DecodeContainer(16, enc, e)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Equal(c) {
			t.Fatalf("container changed in round trip with %+v", e)
		}
	}
	if enc := c.Encode(NetworkBlockEncoding); enc.Palette != nil || enc.Bits != 15 {
		t.Fatalf("expected direct network encoding, got %v bits with palette of %v", enc.Bits, len(enc.Palette))
	}
}

func TestContainerDirectEncodingHighIDs(t *testing.T) {
	c := NewContainer[uint32](16, 40000)
	for i := range 300 {
		c.Set(i&15, i>>8, (i>>4)&15, 40000+uint32(i))
	}
	c.Set(15, 15, 15, 1<<31)

	enc := c.Encode(NetworkBlockEncoding)
	if enc.Palette != nil {
		t.Fatalf("expected direct network encoding, got palette of %v", len(enc.Palette))
	}
	if enc.Bits != 32 {
		t.Fatalf("direct encoding uses %v bits, want 32", enc.Bits)
	}
	got, _, err := DecodeContainer(16, enc, NetworkBlockEncoding)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v := got.At(0, 0, 0); v != 40000 {
		t.Fatalf("cell (0, 0, 0) = %v, want 40000", v)
	}
	if !got.Equal(c) {
		t.Fatalf("container changed in round trip")
	}
}

func TestContainerHomogeneousEncoding(t *testing.T) {
	c := NewContainer[uint32](16, 9)
	palette, data := c.PaletteAndPackedData(4)
	if len(palette) != 1 || palette[0] != 9 || data != nil {
		t.Fatalf("unexpected homogeneous encoding %v %v", palette, data)
	}
	got, _, err := ContainerFromPaletteAndPackedData(16, palette, data, 4)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := got.Homogeneous(); !ok || v != 9 {
		t.Fatalf("decoded container not homogeneous 9: %v %v", v, ok)
	}
	if _, _, err := ContainerFromPaletteAndPackedData[uint32](16, nil, nil, 4); err == nil {
		t.Fatalf("expected error for empty palette")
	}
}

func TestContainerTransitions(t *testing.T) {
	c := NewContainer[uint32](16, 0)
	if prev := c.Set(1, 2, 3, 0); prev != 0 {
		t.Fatalf("Set returned %v", prev)
	}
	if _, ok := c.Homogeneous(); !ok {
		t.Fatalf("setting a cell to its value changed representation")
	}

	if prev := c.Set(1, 2, 3, 5); prev != 0 {
		t.Fatalf("Set returned %v, want 0", prev)
	}
	if _, ok := c.Homogeneous(); ok {
		t.Fatalf("expected heterogeneous container after second value")
	}
	checkCounts(t, c)
	if n := c.NonAirCount(0); n != 1 {
		t.Fatalf("NonAirCount() = %v, want 1", n)
	}
	c.Set(4, 4, 4, 5)
	c.Set(4, 4, 4, 5)
	if n := c.NonAirCount(0); n != 2 {
		t.Fatalf("NonAirCount() = %v, want 2", n)
	}
	if n := c.BitsPerEntry(); n != 1 {
		t.Fatalf("BitsPerEntry() = %v, want 1", n)
	}

	c.Set(1, 2, 3, 0)
	if prev := c.Set(4, 4, 4, 0); prev != 5 {
		t.Fatalf("Set returned %v, want 5", prev)
	}
	if v, ok := c.Homogeneous(); !ok || v != 0 {
		t.Fatalf("expected collapse to homogeneous 0, got %v %v", v, ok)
	}
	if n := c.NonAirCount(0); n != 0 {
		t.Fatalf("NonAirCount() = %v, want 0", n)
	}
}

func TestContainerNonAirCountBruteForce(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 9))
	for round := 0; round < 10; round++ {
		c := NewContainer[uint32](16, 0)
		c.Set(r.IntN(16), r.IntN(16), r.IntN(16), 1+uint32(r.IntN(4)))
		for i := 0; i < r.IntN(500); i++ {
			c.Set(r.IntN(16), r.IntN(16), r.IntN(16), uint32(r.IntN(4)))
		}
		want := 0
		for x := 0; x < 16; x++ {
			for y := 0; y < 16; y++ {
				for z := 0; z < 16; z++ {
					if c.At(x, y, z) != 0 {
						want++
					}
				}
			}
		}
		if got := c.NonAirCount(0); got != want {
			t.Fatalf("NonAirCount() = %v, brute force %v", got, want)
		}
		checkCounts(t, c)
	}
}

func TestContainerBiomeEncodingFloor(t *testing.T) {
	c := NewContainer[uint32](4, 1)
	c.Set(0, 0, 0, 2)
	enc := c.Encode(DiskBiomeEncoding)
	if enc.Bits != 1 || len(enc.Data) != 1 {
		t.Fatalf("biome container encoded with %v bits in %v words", enc.Bits, len(enc.Data))
	}
	blocks := NewContainer[uint32](16, 1)
	blocks.Set(0, 0, 0, 2)
	if enc := blocks.Encode(DiskBlockEncoding); enc.Bits != 4 || len(enc.Data) != 256 {
		t.Fatalf("block container encoded with %v bits in %v words", enc.Bits, len(enc.Data))
	}
}

func TestContainerRepairsOutOfRangeIndex(t *testing.T) {
	if invariant.Enabled {
		t.Skip("out of range indices panic in debug builds")
	}
	c := NewContainer[uint32](4, 1)
	c.Set(0, 0, 0, 2)
	palette, data := c.PaletteAndPackedData(4)
	// Point the first cell at index 3 of a two-entry palette.
	data[0] = data[0]&^0xf | 3
	got, repaired, err := ContainerFromPaletteAndPackedData(4, palette, data, 4)
	if err != nil {
		t.Fatal(err)
	}
	if repaired != 1 {
		t.Fatalf("repaired %v cells, want 1", repaired)
	}
	if got.At(0, 0, 0) != palette[0] {
		t.Fatalf("repaired cell holds %v, want %v", got.At(0, 0, 0), palette[0])
	}
	if _, _, err := ContainerFromPaletteAndPackedData(4, palette, data[:0], 4); err == nil {
		t.Fatalf("expected error for truncated data")
	}
}
