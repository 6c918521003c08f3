package chunk

import (
	"math/bits"
	"slices"

	"golang.org/x/exp/constraints"
)

// Container is a cube of dim*dim*dim values, such as the block IDs of a sub
// chunk or its biomes. A Container that holds one distinct value stores only
// that value. Once a second value is set, every cell is stored along with a
// palette of the distinct values present and the amount of cells holding
// each of them.
type Container[V constraints.Unsigned] struct {
	dim int
	// value is the value of every cell if cells is nil.
	value V

	cells   []V
	palette []V
	counts  []uint16
}

// NewContainer returns a Container of dim*dim*dim cells all holding v.
func NewContainer[V constraints.Unsigned](dim int, v V) *Container[V] {
	return &Container[V]{dim: dim, value: v}
}

// Dim returns the length of one side of the Container.
func (c *Container[V]) Dim() int {
	return c.dim
}

// Len returns the amount of cells in the Container.
func (c *Container[V]) Len() int {
	return c.dim * c.dim * c.dim
}

// Homogeneous returns the value of every cell in the Container and true if
// all cells hold the same value.
func (c *Container[V]) Homogeneous() (V, bool) {
	return c.value, c.cells == nil
}

func (c *Container[V]) index(x, y, z int) int {
	return (y*c.dim+z)*c.dim + x
}

// At returns the value at x, y, z.
func (c *Container[V]) At(x, y, z int) V {
	if c.cells == nil {
		return c.value
	}
	return c.cells[c.index(x, y, z)]
}

// Set sets the value at x, y, z to v and returns the value previously found
// there.
func (c *Container[V]) Set(x, y, z int, v V) V {
	if c.cells == nil {
		if v == c.value {
			return v
		}
		n := c.Len()
		c.cells = make([]V, n)
		for i := range c.cells {
			c.cells[i] = c.value
		}
		c.palette = []V{c.value, v}
		c.counts = []uint16{uint16(n - 1), 1}
		c.cells[c.index(x, y, z)] = v
		return c.value
	}
	i := c.index(x, y, z)
	old := c.cells[i]
	if old == v {
		return old
	}
	c.cells[i] = v

	oi := slices.Index(c.palette, old)
	if c.counts[oi]--; c.counts[oi] == 0 {
		last := len(c.palette) - 1
		c.palette[oi], c.counts[oi] = c.palette[last], c.counts[last]
		c.palette, c.counts = c.palette[:last], c.counts[:last]
	}
	if ni := slices.Index(c.palette, v); ni >= 0 {
		c.counts[ni]++
	} else {
		c.palette = append(c.palette, v)
		c.counts = append(c.counts, 1)
	}
	if len(c.palette) == 1 {
		c.Fill(v)
	}
	return old
}

// Fill sets every cell of the Container to v.
func (c *Container[V]) Fill(v V) {
	c.value = v
	c.cells, c.palette, c.counts = nil, nil, nil
}

// Palette returns the distinct values in the Container. The order is not
// stable across calls to Set.
func (c *Container[V]) Palette() []V {
	if c.cells == nil {
		return []V{c.value}
	}
	return slices.Clone(c.palette)
}

// Count returns the amount of cells holding v.
func (c *Container[V]) Count(v V) int {
	if c.cells == nil {
		if v == c.value {
			return c.Len()
		}
		return 0
	}
	if i := slices.Index(c.palette, v); i >= 0 {
		return int(c.counts[i])
	}
	return 0
}

// NonAirCount returns the amount of cells not holding air.
func (c *Container[V]) NonAirCount(air V) int {
	return c.Len() - c.Count(air)
}

// BitsPerEntry returns the lowest amount of bits able to index every distinct
// value in the Container. It is 0 if the Container holds one value.
func (c *Container[V]) BitsPerEntry() int {
	if c.cells == nil {
		return 0
	}
	return bits.Len(uint(len(c.palette) - 1))
}

// Clone returns a deep copy of the Container.
func (c *Container[V]) Clone() *Container[V] {
	return &Container[V]{
		dim:     c.dim,
		value:   c.value,
		cells:   slices.Clone(c.cells),
		palette: slices.Clone(c.palette),
		counts:  slices.Clone(c.counts),
	}
}

// Equal checks if two Containers hold the same value in every cell.
func (c *Container[V]) Equal(o *Container[V]) bool {
	if c.dim != o.dim {
		return false
	}
	v, ok := c.Homogeneous()
	ov, ook := o.Homogeneous()
	if ok || ook {
		return ok == ook && v == ov
	}
	return slices.Equal(c.cells, o.cells)
}

// fromCells builds a Container from a slice holding every cell, rebuilding the
// palette and counts. The slice is retained.
func fromCells[V constraints.Unsigned](dim int, cells []V) *Container[V] {
	c := &Container[V]{dim: dim}
	index := make(map[V]int, 16)
	for _, v := range cells {
		if i, ok := index[v]; ok {
			c.counts[i]++
			continue
		}
		index[v] = len(c.palette)
		c.palette = append(c.palette, v)
		c.counts = append(c.counts, 1)
	}
	switch len(c.palette) {
	case 0:
		return c
	case 1:
		c.Fill(c.palette[0])
	default:
		c.cells = cells
	}
	return c
}
