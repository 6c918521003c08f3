package populate

import (
	"math"
	"math/rand/v2"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/generator"
	"github.com/go-gl/mathgl/mgl64"
)

// Ore places clusters of ore in the stone of a chunk.
type Ore struct {
	Types []OreType
}

// Populate ...
func (o Ore) Populate(r generator.Region, rnd *rand.Rand) {
	for _, ore := range o.Types {
		for i := 0; i < ore.ClusterCount; i++ {
			x, z := column(r, rnd)
			pos := cube.Pos{x, between(rnd, ore.MinHeight, ore.MaxHeight), z}
			if r.Contains(pos) && !pos.OutOfBounds(r.Range()) && r.Block(pos) == ore.Replaces {
				ore.Place(r, pos, rnd)
			}
		}
	}
}

// OreType is a kind of ore placed by Ore.
type OreType struct {
	Material, Replaces        uint32
	ClusterCount, ClusterSize int
	MinHeight, MaxHeight      int
}

// Place places a single ellipsoid cluster of the ore starting at pos. Blocks
// outside the Region are skipped.
func (o OreType) Place(r generator.Region, pos cube.Pos, rnd *rand.Rand) {
	size := float64(o.ClusterSize)
	vec := pos.Vec3()
	angle := rnd.Float64() * math.Pi
	offset := mgl64.Vec2{math.Cos(angle), math.Sin(angle)}.Mul(size / 8)

	from := mgl64.Vec3{vec[0] + offset[0], vec[1] + float64(rnd.IntN(3)) + 2, vec[2] + offset[1]}
	to := mgl64.Vec3{vec[0] - offset[0], vec[1] + float64(rnd.IntN(3)) + 2, vec[2] - offset[1]}

	replace := func(id uint32) bool { return id == o.Replaces }
	for i := 0.0; i <= size; i++ {
		seed := from.Add(to.Sub(from).Mul(i / size))
		radius := ((math.Sin(i*(math.Pi/size))+1)*rnd.Float64()*size/16 + 1) / 2

		for xx := math.Floor(seed[0] - radius); xx <= seed[0]+radius; xx++ {
			dx := (xx + 0.5 - seed[0]) / radius
			if dx*dx >= 1 {
				continue
			}
			for yy := math.Floor(seed[1] - radius); yy <= seed[1]+radius; yy++ {
				dy := (yy + 0.5 - seed[1]) / radius
				if dx*dx+dy*dy >= 1 {
					continue
				}
				for zz := math.Floor(seed[2] - radius); zz <= seed[2]+radius; zz++ {
					dz := (zz + 0.5 - seed[2]) / radius
					if dx*dx+dy*dy+dz*dz < 1 {
						setIf(r, cube.PosFromVec3(mgl64.Vec3{xx, yy, zz}), o.Material, replace)
					}
				}
			}
		}
	}
}

// DefaultOres are the ores placed in every chunk.
var DefaultOres = Ore{Types: []OreType{
	{generator.CoalOre, generator.Stone, 20, 16, 0, 128},
	{generator.IronOre, generator.Stone, 20, 8, 0, 64},
	{generator.LapisOre, generator.Stone, 1, 6, 0, 32},
	{generator.GoldOre, generator.Stone, 2, 8, 0, 32},
	{generator.DiamondOre, generator.Stone, 1, 7, 0, 16},
	{generator.Dirt, generator.Stone, 20, 32, 0, 128},
	{generator.Gravel, generator.Stone, 10, 16, 0, 128},
}}
