package generator

// Block IDs used by the generators in this package and its subpackages.
const (
	Air uint32 = iota
	Stone
	Grass
	Dirt
	Bedrock
	Water
	Sand
	Sandstone
	Gravel
	Clay
	Snow
	Ice
	OakLog
	OakLeaves
	SpruceLog
	SpruceLeaves
	BirchLog
	BirchLeaves
	ShortGrass
	CoalOre
	IronOre
	GoldOre
	LapisOre
	DiamondOre
	Cobblestone
)

// Properties classifies the block IDs of this package. It implements
// chunk.BlockProperties.
type Properties struct{}

// Air ...
func (Properties) Air(id uint32) bool { return id == Air }

// Fluid ...
func (Properties) Fluid(id uint32) bool { return id == Water }

// Leaves ...
func (Properties) Leaves(id uint32) bool {
	return id == OakLeaves || id == SpruceLeaves || id == BirchLeaves
}

// Solid checks if a block occupies its full space. Plants, leaves, fluids and
// air are not solid.
func Solid(id uint32) bool {
	switch id {
	case Air, Water, ShortGrass, OakLeaves, SpruceLeaves, BirchLeaves:
		return false
	}
	return true
}
