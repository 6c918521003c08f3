package pmgen

import (
	"math"
	"math/rand/v2"
)

// noise is seeded octave value noise. Every octave doubles the frequency of
// the previous one, scaled by expansion, and contributes persistence times the
// amplitude of the previous one.
type noise struct {
	perm        [512]uint8
	octaves     int
	persistence float64
	expansion   float64
}

func newNoise(r *rand.Rand, octaves int, persistence, expansion float64) *noise {
	n := &noise{octaves: octaves, persistence: persistence, expansion: expansion}
	p := r.Perm(256)
	for i := range 256 {
		n.perm[i] = uint8(p[i])
		n.perm[i+256] = uint8(p[i])
	}
	return n
}

func (n *noise) lattice(x, y, z int) float64 {
	h := n.perm[(int(n.perm[(int(n.perm[x&255])+y)&255])+z)&255]
	return float64(h)/127.5 - 1
}

func fade(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func (n *noise) value3D(x, y, z float64) float64 {
	fx, fy, fz := math.Floor(x), math.Floor(y), math.Floor(z)
	ix, iy, iz := int(fx), int(fy), int(fz)
	tx, ty, tz := fade(x-fx), fade(y-fy), fade(z-fz)

	c00 := lerp(n.lattice(ix, iy, iz), n.lattice(ix+1, iy, iz), tx)
	c10 := lerp(n.lattice(ix, iy+1, iz), n.lattice(ix+1, iy+1, iz), tx)
	c01 := lerp(n.lattice(ix, iy, iz+1), n.lattice(ix+1, iy, iz+1), tx)
	c11 := lerp(n.lattice(ix, iy+1, iz+1), n.lattice(ix+1, iy+1, iz+1), tx)
	return lerp(lerp(c00, c10, ty), lerp(c01, c11, ty), tz)
}

// noise3D returns the sum of all octaves at x, y, z, normalised to [-1, 1].
func (n *noise) noise3D(x, y, z float64) float64 {
	var sum, amp, total float64 = 0, 1, 0
	freq := 1.0
	x, y, z = x*n.expansion, y*n.expansion, z*n.expansion
	for range n.octaves {
		sum += n.value3D(x*freq, y*freq, z*freq) * amp
		total += amp
		freq *= 2
		amp *= n.persistence
	}
	return sum / total
}

// noise2D returns noise3D at y = 0.
func (n *noise) noise2D(x, z float64) float64 {
	return n.noise3D(x, 0, z)
}

// fastNoise3D samples noise3D every xStep, yStep and zStep blocks of a
// xSize*ySize*zSize area starting at x, y, z and fills the blocks in between
// by trilinear interpolation. The result is indexed [x][z][y].
func (n *noise) fastNoise3D(xSize, ySize, zSize, xStep, yStep, zStep int, x, y, z int64) [][][]float64 {
	out := make([][][]float64, xSize+1)
	for xx := range out {
		out[xx] = make([][]float64, zSize+1)
		for zz := range out[xx] {
			out[xx][zz] = make([]float64, ySize+1)
		}
	}
	for xx := 0; xx <= xSize; xx += xStep {
		for zz := 0; zz <= zSize; zz += zStep {
			for yy := 0; yy <= ySize; yy += yStep {
				out[xx][zz][yy] = n.noise3D(float64(x+int64(xx)), float64(y+int64(yy)), float64(z+int64(zz)))
			}
		}
	}
	for xx := 0; xx < xSize; xx++ {
		for zz := 0; zz < zSize; zz++ {
			for yy := 0; yy < ySize; yy++ {
				if xx%xStep == 0 && zz%zStep == 0 && yy%yStep == 0 {
					continue
				}
				nx, nz, ny := xx/xStep*xStep, zz/zStep*zStep, yy/yStep*yStep
				dx, dz, dy := float64(xx-nx)/float64(xStep), float64(zz-nz)/float64(zStep), float64(yy-ny)/float64(yStep)

				c00 := lerp(out[nx][nz][ny], out[nx+xStep][nz][ny], dx)
				c01 := lerp(out[nx][nz+zStep][ny], out[nx+xStep][nz+zStep][ny], dx)
				c10 := lerp(out[nx][nz][ny+yStep], out[nx+xStep][nz][ny+yStep], dx)
				c11 := lerp(out[nx][nz+zStep][ny+yStep], out[nx+xStep][nz+zStep][ny+yStep], dx)
				out[xx][zz][yy] = lerp(lerp(c00, c01, dz), lerp(c10, c11, dz), dy)
			}
		}
	}
	return out
}
