package populate

import (
	"math/rand/v2"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generator"
)

// Tree places trees of a TreeType on dirt and grass.
type Tree struct {
	BaseAmount int
	Type       TreeType
}

// Populate ...
func (t Tree) Populate(r generator.Region, rnd *rand.Rand) {
	amount := rnd.IntN(2) + t.BaseAmount
	for i := 0; i < amount; i++ {
		x, z := column(r, rnd)
		y := r.Height(chunk.MotionBlockingNoLeaves, x, z)
		ground := cube.Pos{x, y, z}
		if ground.OutOfBounds(r.Range()) {
			continue
		}
		if b := r.Block(ground); b != generator.Dirt && b != generator.Grass {
			continue
		}
		treeType := t.Type
		if birch, ok := treeType.(BirchTree); ok && rnd.IntN(39) == 0 {
			birch.Super = true
			treeType = birch
		}
		treeType.Grow(r, ground.Add(cube.Pos{0, 1}), rnd)
	}
}

// TreeType grows a single tree with its trunk starting at pos.
type TreeType interface {
	Grow(r generator.Region, pos cube.Pos, rnd *rand.Rand)
}

// SpruceTree is a tall conical tree.
type SpruceTree struct{}

// Grow ...
func (SpruceTree) Grow(r generator.Region, pos cube.Pos, rnd *rand.Rand) {
	if !canGrow(r, pos, 10) {
		return
	}
	height := rnd.IntN(4) + 6
	topSize := height - (1 + rnd.IntN(2))
	lr := 2 + rnd.IntN(2)

	trunk(r, pos, generator.SpruceLog, height-rnd.IntN(3))

	radius := rnd.IntN(2)
	minR, maxR := 0, 1
	for y := 0; y <= topSize; y++ {
		yy := pos[1] + height - y
		for x := pos[0] - radius; x <= pos[0]+radius; x++ {
			for z := pos[2] - radius; z <= pos[2]+radius; z++ {
				if abs(x-pos[0]) == radius && abs(z-pos[2]) == radius && radius > 0 {
					continue
				}
				setIf(r, cube.Pos{x, yy, z}, generator.SpruceLeaves, notSolid)
			}
		}
		if radius >= maxR {
			radius, minR = minR, 1
			maxR = min(maxR+1, lr)
		} else {
			radius++
		}
	}
}

// OakTree is a small round tree.
type OakTree struct{}

// Grow ...
func (OakTree) Grow(r generator.Region, pos cube.Pos, rnd *rand.Rand) {
	if !canGrow(r, pos, 7) {
		return
	}
	height := rnd.IntN(3) + 4
	basicTop(r, pos, rnd, generator.OakLeaves, height)
	trunk(r, pos, generator.OakLog, height-1)
}

// BirchTree is a round tree with a taller trunk. Super birch trees are five
// blocks taller still.
type BirchTree struct {
	Super bool
}

// Grow ...
func (b BirchTree) Grow(r generator.Region, pos cube.Pos, rnd *rand.Rand) {
	if !canGrow(r, pos, 7) {
		return
	}
	height := rnd.IntN(3) + 5
	if b.Super {
		height += 5
	}
	basicTop(r, pos, rnd, generator.BirchLeaves, height)
	trunk(r, pos, generator.BirchLog, height-1)
}

func basicTop(r generator.Region, pos cube.Pos, rnd *rand.Rand, leaves uint32, height int) {
	top := pos[1] + height
	for yy := top - 3; yy <= top; yy++ {
		yOff := yy - top
		mid := 1 - yOff/2
		for xx := pos[0] - mid; xx <= pos[0]+mid; xx++ {
			for zz := pos[2] - mid; zz <= pos[2]+mid; zz++ {
				if abs(xx-pos[0]) == mid && abs(zz-pos[2]) == mid && (yOff == 0 || rnd.IntN(2) == 0) {
					continue
				}
				setIf(r, cube.Pos{xx, yy, zz}, leaves, notSolid)
			}
		}
	}
}

func trunk(r generator.Region, pos cube.Pos, log uint32, height int) {
	setIf(r, pos.Add(cube.Pos{0, -1}), generator.Dirt, func(uint32) bool { return true })
	for y := 0; y < height; y++ {
		setIf(r, pos.Add(cube.Pos{0, y}), log, overridable)
	}
}

// canGrow checks if the space a tree of the height passed takes up is free.
// Blocks outside the Region are treated as free.
func canGrow(r generator.Region, pos cube.Pos, height int) bool {
	radius := 0
	for yy := 0; yy < height+3; yy++ {
		if yy == 1 || yy == height {
			radius++
		}
		for xx := -radius; xx <= radius; xx++ {
			for zz := -radius; zz <= radius; zz++ {
				p := pos.Add(cube.Pos{xx, yy, zz})
				if !r.Contains(p) || p.OutOfBounds(r.Range()) {
					continue
				}
				if !overridable(r.Block(p)) {
					return false
				}
			}
		}
	}
	return true
}

func overridable(id uint32) bool {
	switch id {
	case generator.Air, generator.OakLeaves, generator.SpruceLeaves, generator.BirchLeaves:
		return true
	}
	return false
}

func notSolid(id uint32) bool { return !generator.Solid(id) }

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
