package pmgen

import (
	"math/rand/v2"

	"github.com/df-mc/chunkflow/server/world/generator/pmgen/biome"
)

// biomeSelector picks a biome for a column from temperature and rainfall
// noise. Lookups are precomputed on a 64x64 grid.
type biomeSelector struct {
	temperature *noise
	rainfall    *noise
	table       [64 * 64]*biome.Biome
}

func newBiomeSelector(r *rand.Rand) *biomeSelector {
	return &biomeSelector{
		temperature: newNoise(r, 2, 1.0/16, 1.0/512),
		rainfall:    newNoise(r, 2, 1.0/16, 1.0/512),
	}
}

func (s *biomeSelector) recalculate() {
	for i := 0; i < 64; i++ {
		for j := 0; j < 64; j++ {
			s.table[i+(j<<6)] = lookup(float64(i)/63, float64(j)/63)
		}
	}
}

func (s *biomeSelector) pickBiome(x, z int64) *biome.Biome {
	temperature := int((s.temperature.noise2D(float64(x), float64(z))+1)/2*63) & 63
	rainfall := int((s.rainfall.noise2D(float64(x), float64(z))+1)/2*63) & 63
	return s.table[temperature+(rainfall<<6)]
}

func lookup(temperature, rainfall float64) *biome.Biome {
	switch {
	case rainfall < 0.25:
		if temperature < 0.7 {
			return biome.Ocean
		} else if temperature < 0.85 {
			return biome.River
		}
		return biome.Swamp
	case rainfall < 0.6:
		if temperature < 0.25 {
			return biome.IcePlains
		} else if temperature < 0.75 {
			return biome.Plains
		}
		return biome.Desert
	case rainfall < 0.8:
		if temperature < 0.25 {
			return biome.Taiga
		} else if temperature < 0.75 {
			return biome.Forest
		}
		return biome.BirchForest
	default:
		if temperature < 0.2 {
			return biome.Mountains
		} else if temperature < 0.4 {
			return biome.SmallMountains
		}
		return biome.River
	}
}
