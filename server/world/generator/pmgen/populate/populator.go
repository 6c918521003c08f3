// Package populate implements the features placed by the pmgen generator in
// the Features stage.
package populate

import (
	"math/rand/v2"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/generator"
)

// Populator places a feature in the centre chunk of a Region. Features may
// extend into the neighbouring chunks held by the Region.
type Populator interface {
	Populate(r generator.Region, rnd *rand.Rand)
}

// between returns a random number in the closed range [lo, hi].
func between(rnd *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rnd.IntN(hi-lo+1)
}

// column returns a random block column in the centre chunk of r.
func column(r generator.Region, rnd *rand.Rand) (x, z int) {
	base := r.Center().BlockPos(0)
	return base[0] + rnd.IntN(16), base[2] + rnd.IntN(16)
}

// setIf sets the block at pos to id if pos is held by r and the block there
// may be replaced.
func setIf(r generator.Region, pos cube.Pos, id uint32, replace func(uint32) bool) {
	if !r.Contains(pos) || pos.OutOfBounds(r.Range()) {
		return
	}
	if replace(r.Block(pos)) {
		r.SetBlock(pos, id)
	}
}
