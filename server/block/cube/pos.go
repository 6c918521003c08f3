package cube

import (
	"cmp"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Pos holds the position of a block. The position is represented of an array
// with an x, y and z value, where the y value may be negative.
type Pos [3]int

// String converts the Pos to a string in the format (1,2,3) and returns it.
func (p Pos) String() string {
	return fmt.Sprintf("(%v,%v,%v)", p[0], p[1], p[2])
}

// X returns the X coordinate of the block position.
func (p Pos) X() int { return p[0] }

// Y returns the Y coordinate of the block position.
func (p Pos) Y() int { return p[1] }

// Z returns the Z coordinate of the block position.
func (p Pos) Z() int { return p[2] }

// OutOfBounds checks if the Y value is either bigger than r[1] or smaller than
// r[0].
func (p Pos) OutOfBounds(r Range) bool {
	y := p[1]
	return y > r[1] || y < r[0]
}

// Add adds two block positions together and returns a new one with the
// combined values.
func (p Pos) Add(pos Pos) Pos {
	return Pos{p[0] + pos[0], p[1] + pos[1], p[2] + pos[2]}
}

// ChunkPos returns the position of the chunk column the block position is
// in.
func (p Pos) ChunkPos() ChunkPos {
	return ChunkPos{int32(p[0] >> 4), int32(p[2] >> 4)}
}

// Vec3 returns a vec3 holding the same coordinates as the block position.
func (p Pos) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{float64(p[0]), float64(p[1]), float64(p[2])}
}

// PosFromVec3 returns a block position by a Vec3, rounding the values down
// adequately.
func PosFromVec3(vec3 mgl64.Vec3) Pos {
	return Pos{int(math.Floor(vec3[0])), int(math.Floor(vec3[1])), int(math.Floor(vec3[2]))}
}

// ChunkPos holds the position of a chunk column: a 16x16 footprint spanning
// the full height of the world. The type is a pair of signed 32-bit integers
// (x, z).
type ChunkPos [2]int32

// String implements fmt.Stringer and returns (x, z).
func (p ChunkPos) String() string {
	return fmt.Sprintf("(%v, %v)", p[0], p[1])
}

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 { return p[0] }

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 { return p[1] }

// Add returns the chunk position offset by dx and dz.
func (p ChunkPos) Add(dx, dz int32) ChunkPos {
	return ChunkPos{p[0] + dx, p[1] + dz}
}

// Chebyshev returns the Chebyshev distance between two chunk positions:
// max(|dx|, |dz|).
func (p ChunkPos) Chebyshev(o ChunkPos) int {
	return max(abs(int(p[0])-int(o[0])), abs(int(p[1])-int(o[1])))
}

// BlockPos returns the block position of the lowest north-west corner of the
// chunk at height y.
func (p ChunkPos) BlockPos(y int) Pos {
	return Pos{int(p[0]) << 4, y, int(p[1]) << 4}
}

// Key packs the chunk position into a single int64, x in the high 32 bits and
// z in the low 32 bits.
func (p ChunkPos) Key() int64 {
	return int64(p[0])<<32 | int64(uint32(p[1]))
}

// ChunkPosFromKey is the inverse of ChunkPos.Key.
func ChunkPosFromKey(k int64) ChunkPos {
	return ChunkPos{int32(k >> 32), int32(uint32(k))}
}

// ChunkPosFromVec3 returns the chunk position that the Vec3 passed is in.
func ChunkPosFromVec3(vec3 mgl64.Vec3) ChunkPos {
	return ChunkPos{int32(math.Floor(vec3[0])) >> 4, int32(math.Floor(vec3[2])) >> 4}
}

// Less orders chunk positions lexicographically. It is only used for stable
// debug output.
func (p ChunkPos) Less(o ChunkPos) bool {
	return p.Compare(o) < 0
}

// Compare compares p to o lexicographically, returning -1, 0 or 1.
func (p ChunkPos) Compare(o ChunkPos) int {
	switch {
	case p[0] != o[0]:
		return cmp.Compare(p[0], o[0])
	default:
		return cmp.Compare(p[1], o[1])
	}
}

// Square calls f for every chunk position within Chebyshev distance r of
// centre, including centre itself.
func Square(centre ChunkPos, r int, f func(pos ChunkPos)) {
	for dx := -r; dx <= r; dx++ {
		for dz := -r; dz <= r; dz++ {
			f(centre.Add(int32(dx), int32(dz)))
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
