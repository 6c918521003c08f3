// Package stage defines the ordered generation stages a chunk passes through
// and the neighbour dependencies of each stage.
package stage

import (
	"fmt"

	"github.com/df-mc/chunkflow/server/world/ticket"
)

// Stage is a step of the generation pipeline. Stages are ordered: a chunk at
// a Stage has completed every lower Stage.
type Stage int8

const (
	// None means that not even Empty is required.
	None Stage = iota - 1
	// Empty is a chunk that exists but holds no generated data. It is produced
	// by reading a chunk from disk or creating a fresh one.
	Empty
	Biomes
	Noise
	Surface
	// Features places features and structures, which may reach into
	// neighbouring chunks.
	Features
	// Full is a finished chunk.
	Full
)

// Count is the amount of stages from Empty up to and including Full.
const Count = int(Full) + 1

// All returns every Stage from Empty to Full in order.
func All() []Stage {
	return []Stage{Empty, Biomes, Noise, Surface, Features, Full}
}

var dependencies = [Count][]Stage{
	Empty:    nil,
	Biomes:   {Empty},
	Noise:    {Biomes},
	Surface:  {Noise},
	Features: {Surface, Surface},
	Full:     {Features, Features, Surface},
}

var names = [Count]string{"empty", "biomes", "noise", "surface", "features", "full"}

// String ...
func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int8(s))
	}
	return names[s]
}

// Valid checks if s is one of Empty through Full.
func (s Stage) Valid() bool {
	return s >= Empty && s <= Full
}

// Dependencies returns the minimum stage the chunks in each ring around a
// chunk must have reached before s may run on it. Index 0 is the chunk
// itself.
func (s Stage) Dependencies() []Stage {
	if !s.Valid() {
		return nil
	}
	return dependencies[s]
}

// Dependency returns the minimum stage a chunk at Chebyshev distance ring
// must have reached for s to run, or None if the ring is outside of the read
// radius of s.
func (s Stage) Dependency(ring int) Stage {
	deps := s.Dependencies()
	if ring < 0 || ring >= len(deps) {
		return None
	}
	return deps[ring]
}

// Radius returns the read radius of s: the amount of rings of neighbours that
// must reach a dependency stage before s may run.
func (s Stage) Radius() int {
	return max(len(s.Dependencies())-1, 0)
}

// WriteRadius returns the amount of rings of neighbours that s may modify.
func (s Stage) WriteRadius() int {
	if s == Features {
		return 1
	}
	return 0
}

// Next returns the stage following s.
func (s Stage) Next() Stage {
	if s >= Full {
		return Full
	}
	return s + 1
}

// FromLevel returns the highest Stage required of a chunk with the level
// passed.
func FromLevel(l ticket.Level) Stage {
	switch {
	case l <= ticket.FullLevel:
		return Full
	case l == ticket.FullLevel+1:
		return Features
	case l == ticket.FullLevel+2:
		return Surface
	default:
		return None
	}
}
