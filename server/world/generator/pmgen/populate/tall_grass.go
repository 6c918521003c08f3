package populate

import (
	"math/rand/v2"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generator"
)

// TallGrass places short grass on grass blocks.
type TallGrass struct {
	Amount int
}

// Populate ...
func (t TallGrass) Populate(r generator.Region, rnd *rand.Rand) {
	amount := rnd.IntN(2) + t.Amount
	for i := 0; i < amount; i++ {
		x, z := column(r, rnd)
		y := r.Height(chunk.WorldSurface, x, z)
		ground := cube.Pos{x, y, z}
		if ground.OutOfBounds(r.Range()) || r.Block(ground) != generator.Grass {
			continue
		}
		setIf(r, ground.Add(cube.Pos{0, 1}), generator.ShortGrass, func(id uint32) bool { return id == generator.Air })
	}
}
