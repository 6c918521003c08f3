package chunk

import (
	"fmt"
	"math/bits"
	"slices"
)

// BlockProperties classifies block IDs for the purpose of height maps.
type BlockProperties interface {
	// Air checks if id is an air block.
	Air(id uint32) bool
	// Fluid checks if id is a fluid block, such as water.
	Fluid(id uint32) bool
	// Leaves checks if id is a leaves block.
	Leaves(id uint32) bool
}

// AirProperties is a BlockProperties for which only the ID it holds is air
// and every other ID is solid.
type AirProperties uint32

func (a AirProperties) Air(id uint32) bool { return id == uint32(a) }
func (AirProperties) Fluid(uint32) bool    { return false }
func (AirProperties) Leaves(uint32) bool   { return false }

// HeightMapKind is a kind of height map kept for a chunk.
type HeightMapKind uint8

const (
	// WorldSurface holds the highest non-air block.
	WorldSurface HeightMapKind = iota
	// OceanFloor holds the highest block that is neither air nor fluid.
	OceanFloor
	// MotionBlocking holds the highest block that is solid or fluid.
	MotionBlocking
	// MotionBlockingNoLeaves is MotionBlocking, ignoring leaves.
	MotionBlockingNoLeaves
)

// HeightMapKinds is the amount of HeightMapKind values.
const HeightMapKinds = 4

// String returns the name of the kind as used in saved chunks.
func (k HeightMapKind) String() string {
	switch k {
	case WorldSurface:
		return "WORLD_SURFACE"
	case OceanFloor:
		return "OCEAN_FLOOR"
	case MotionBlocking:
		return "MOTION_BLOCKING"
	case MotionBlockingNoLeaves:
		return "MOTION_BLOCKING_NO_LEAVES"
	}
	return fmt.Sprintf("HeightMapKind(%d)", uint8(k))
}

// Matches checks if a block counts towards the height map kind.
func (k HeightMapKind) Matches(p BlockProperties, id uint32) bool {
	if p.Air(id) {
		return false
	}
	switch k {
	case OceanFloor:
		return !p.Fluid(id)
	case MotionBlockingNoLeaves:
		return !p.Leaves(id)
	}
	return true
}

// HeightMap holds, for every column of a chunk, one more than the height of
// the highest matching block above the bottom of the world, or 0 if the
// column holds no matching block. Values are bit-packed using the lowest
// amount of bits able to hold the world height, which is 9 for a world 384
// blocks high.
type HeightMap struct {
	bits int
	data []uint64
}

// NewHeightMap returns an empty HeightMap for a world height blocks high.
func NewHeightMap(height int) *HeightMap {
	n := bits.Len(uint(height))
	return &HeightMap{bits: n, data: make([]uint64, wordsFor(256, n))}
}

// HeightMapFromWords returns a HeightMap from the words returned by
// HeightMap.Words for a world of the same height.
func HeightMapFromWords(height int, words []uint64) (*HeightMap, error) {
	h := NewHeightMap(height)
	if len(words) != len(h.data) {
		return nil, fmt.Errorf("decode height map: %w: %v words, need %v", ErrCorrupt, len(words), len(h.data))
	}
	copy(h.data, words)
	return h, nil
}

// At returns the value of column x, z.
func (h *HeightMap) At(x, z int) int {
	i := z<<4 | x
	perWord := 64 / h.bits
	return int(h.data[i/perWord] >> ((i % perWord) * h.bits) & (1<<h.bits - 1))
}

// Set sets the value of column x, z.
func (h *HeightMap) Set(x, z, v int) {
	i := z<<4 | x
	perWord := 64 / h.bits
	shift := (i % perWord) * h.bits
	mask := uint64(1<<h.bits-1) << shift
	h.data[i/perWord] = h.data[i/perWord]&^mask | uint64(v)<<shift&mask
}

// Words returns the packed values.
func (h *HeightMap) Words() []uint64 {
	return h.data
}

// Clone ...
func (h *HeightMap) Clone() *HeightMap {
	return &HeightMap{bits: h.bits, data: slices.Clone(h.data)}
}
