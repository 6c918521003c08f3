package chunk

import "slices"

// Light holds a light level from 0 to 15 for every block in a sub chunk. A
// Light with the same level everywhere does not allocate.
type Light struct {
	uniform uint8
	// nibbles holds two levels per byte when the levels differ.
	nibbles []byte
}

// NewLight returns a Light holding level in every block.
func NewLight(level uint8) *Light {
	return &Light{uniform: level & 0xf}
}

// LightFromBytes returns a Light from 2048 bytes of nibbles as returned by
// Light.Bytes. A nil or empty slice results in a uniform Light of level.
func LightFromBytes(b []byte, level uint8) *Light {
	if len(b) != 2048 {
		return NewLight(level)
	}
	return &Light{nibbles: slices.Clone(b)}
}

func lightIndex(x, y, z int) int {
	return (y<<8 | z<<4 | x) >> 1
}

// At returns the light level at x, y, z.
func (l *Light) At(x, y, z int) uint8 {
	if l.nibbles == nil {
		return l.uniform
	}
	b := l.nibbles[lightIndex(x, y, z)]
	if x&1 == 1 {
		return b >> 4
	}
	return b & 0xf
}

// Set sets the light level at x, y, z.
func (l *Light) Set(x, y, z int, level uint8) {
	level &= 0xf
	if l.nibbles == nil {
		if level == l.uniform {
			return
		}
		l.nibbles = make([]byte, 2048)
		for i := range l.nibbles {
			l.nibbles[i] = l.uniform | l.uniform<<4
		}
	}
	i := lightIndex(x, y, z)
	if x&1 == 1 {
		l.nibbles[i] = l.nibbles[i]&0x0f | level<<4
	} else {
		l.nibbles[i] = l.nibbles[i]&0xf0 | level
	}
}

// Uniform returns the level of every block and true if all blocks have the
// same level.
func (l *Light) Uniform() (uint8, bool) {
	return l.uniform, l.nibbles == nil
}

// Bytes returns the nibbles of a non-uniform Light, or nil.
func (l *Light) Bytes() []byte {
	return l.nibbles
}

// Clone ...
func (l *Light) Clone() *Light {
	return &Light{uniform: l.uniform, nibbles: slices.Clone(l.nibbles)}
}
