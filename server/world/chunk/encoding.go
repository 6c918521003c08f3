package chunk

import (
	"errors"
	"fmt"
	"math/bits"
	"slices"

	"github.com/df-mc/chunkflow/server/internal/invariant"
	"golang.org/x/exp/constraints"
)

// ErrCorrupt is returned when serialised chunk data cannot be decoded.
var ErrCorrupt = errors.New("corrupt chunk data")

// Encoding is the bit width policy used to serialise a Container. Disk and
// network serialisation use different policies.
type Encoding struct {
	// MinBits is the lowest amount of bits per entry used for a Container
	// that holds more than one distinct value.
	MinBits int
	// MaxBits is the highest amount of bits per entry with which a palette is
	// still written. Containers needing more are written directly, without a
	// palette, using DirectBits per entry, or more if the largest value in
	// the Container does not fit. A MaxBits of 0 means a palette is always
	// written.
	MaxBits    int
	DirectBits int
}

var (
	// DiskBlockEncoding is used for blocks stored on disk.
	DiskBlockEncoding = Encoding{MinBits: 4}
	// DiskBiomeEncoding is used for biomes stored on disk.
	DiskBiomeEncoding = Encoding{MinBits: 0}
	// NetworkBlockEncoding is used for blocks sent to clients.
	NetworkBlockEncoding = Encoding{MinBits: 4, MaxBits: 8, DirectBits: 15}
	// NetworkBiomeEncoding is used for biomes sent to clients.
	NetworkBiomeEncoding = Encoding{MinBits: 1, MaxBits: 3, DirectBits: 6}
)

// Encoded is a serialised Container. A nil Palette means the Data holds
// values directly instead of palette indices.
type Encoded[V constraints.Unsigned] struct {
	Bits    int
	Palette []V
	Data    []uint64
}

// Encode serialises the Container following the policy passed.
func (c *Container[V]) Encode(e Encoding) Encoded[V] {
	if v, ok := c.Homogeneous(); ok {
		return Encoded[V]{Palette: []V{v}}
	}
	n := max(c.BitsPerEntry(), e.MinBits)
	if e.MaxBits > 0 && n > e.MaxBits {
		direct := max(e.DirectBits, bits.Len64(uint64(slices.Max(c.palette))))
		return Encoded[V]{Bits: direct, Data: pack(c.cells, direct, func(v V) uint64 { return uint64(v) })}
	}
	palette, data := c.PaletteAndPackedData(n)
	return Encoded[V]{Bits: n, Palette: palette, Data: data}
}

// PaletteAndPackedData returns the distinct values of the Container and the
// index of every cell into them, packed with n bits per cell into 64-bit
// words. Cells never span two words. n is raised to BitsPerEntry if lower. A
// Container holding one value returns that value and no data.
func (c *Container[V]) PaletteAndPackedData(n int) ([]V, []uint64) {
	if v, ok := c.Homogeneous(); ok {
		return []V{v}, nil
	}
	n = max(n, c.BitsPerEntry())
	palette := slices.Clone(c.palette)
	index := make(map[V]uint64, len(palette))
	for i, v := range palette {
		index[v] = uint64(i)
	}
	return palette, pack(c.cells, n, func(v V) uint64 { return index[v] })
}

// DecodeContainer decodes an Encoded produced by Container.Encode with the
// same Encoding. The amount of cells that referenced a palette index out of
// range, and were set to the first palette value, is returned.
func DecodeContainer[V constraints.Unsigned](dim int, enc Encoded[V], e Encoding) (*Container[V], int, error) {
	if enc.Palette == nil {
		if enc.Bits <= 0 || enc.Bits > 64 {
			return nil, 0, fmt.Errorf("decode direct container: %w: %v bits per entry", ErrCorrupt, enc.Bits)
		}
		cells, err := unpack(enc.Data, dim*dim*dim, enc.Bits, func(v uint64) (V, bool) { return V(v), true })
		if err != nil {
			return nil, 0, err
		}
		return fromCells(dim, cells), 0, nil
	}
	return ContainerFromPaletteAndPackedData(dim, enc.Palette, enc.Data, e.MinBits)
}

// ContainerFromPaletteAndPackedData is the inverse of
// Container.PaletteAndPackedData. The width of every cell is the larger of
// minBits and the lowest width able to index the palette. Cells indexing
// outside the palette are set to the first palette value and counted in the
// int returned.
func ContainerFromPaletteAndPackedData[V constraints.Unsigned](dim int, palette []V, data []uint64, minBits int) (*Container[V], int, error) {
	if len(palette) == 0 {
		return nil, 0, fmt.Errorf("decode container: %w: empty palette", ErrCorrupt)
	}
	if len(palette) == 1 && len(data) == 0 {
		return NewContainer(dim, palette[0]), 0, nil
	}
	n := max(bits.Len(uint(len(palette)-1)), minBits)
	if n == 0 {
		return NewContainer(dim, palette[0]), 0, nil
	}
	repaired := 0
	cells, err := unpack(data, dim*dim*dim, n, func(i uint64) (V, bool) {
		if !invariant.Check(i < uint64(len(palette)), "palette index %v out of range for palette of length %v", i, len(palette)) {
			repaired++
			return palette[0], false
		}
		return palette[i], true
	})
	if err != nil {
		return nil, 0, err
	}
	return fromCells(dim, cells), repaired, nil
}

// wordsFor returns the amount of 64-bit words needed to hold cells values of
// n bits each.
func wordsFor(cells, n int) int {
	perWord := 64 / n
	return (cells + perWord - 1) / perWord
}

func pack[V constraints.Unsigned](cells []V, n int, f func(V) uint64) []uint64 {
	perWord := 64 / n
	mask := uint64(1)<<n - 1
	if n == 64 {
		mask = ^uint64(0)
	}
	data := make([]uint64, wordsFor(len(cells), n))
	for i, v := range cells {
		data[i/perWord] |= (f(v) & mask) << ((i % perWord) * n)
	}
	return data
}

func unpack[V constraints.Unsigned](data []uint64, cells, n int, f func(uint64) (V, bool)) ([]V, error) {
	if want := wordsFor(cells, n); len(data) < want {
		return nil, fmt.Errorf("unpack container: %w: %v words for %v cells of %v bits, need %v", ErrCorrupt, len(data), cells, n, want)
	}
	perWord := 64 / n
	mask := uint64(1)<<n - 1
	if n == 64 {
		mask = ^uint64(0)
	}
	out := make([]V, cells)
	for i := range out {
		out[i], _ = f((data[i/perWord] >> ((i % perWord) * n)) & mask)
	}
	return out, nil
}
