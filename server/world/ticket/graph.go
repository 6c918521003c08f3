package ticket

import (
	"container/heap"
	"maps"
	"slices"
	"sync"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/internal/invariant"
)

// Graph maintains the level of every chunk position reachable by a set of
// tickets. The level of a position is the lowest value of ticket level plus
// the Chebyshev distance from the ticket origin over all tickets, and it is
// absent if that value is MaxLevel or higher. A Graph is safe for concurrent
// use.
type Graph struct {
	mu sync.Mutex

	levels  map[cube.ChunkPos]Level
	tickets map[cube.ChunkPos][]Level
	forced  map[cube.ChunkPos]int

	increase, decrease levelHeap

	dirty, priorityDirty bool
	ch                   *LevelChannel
}

// NewGraph returns an empty Graph. Every change to the Graph is published to
// ch, which may be nil.
func NewGraph(ch *LevelChannel) *Graph {
	return &Graph{
		levels:  make(map[cube.ChunkPos]Level),
		tickets: make(map[cube.ChunkPos][]Level),
		forced:  make(map[cube.ChunkPos]int),
		ch:      ch,
	}
}

// Level returns the current level of pos, or MaxLevel if no ticket reaches
// it.
func (g *Graph) Level(pos cube.ChunkPos) Level {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level(pos)
}

// Len returns the amount of positions with a level below MaxLevel.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.levels)
}

// Levels returns a copy of the level of every position below MaxLevel.
func (g *Graph) Levels() map[cube.ChunkPos]Level {
	g.mu.Lock()
	defer g.mu.Unlock()
	return maps.Clone(g.levels)
}

// HighPriority returns the origins of all force tickets, sorted.
func (g *Graph) HighPriority() []cube.ChunkPos {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.highPriority()
}

// AddTicket adds a ticket with a level at origin. Multiple tickets with the
// same level may exist at one origin.
func (g *Graph) AddTicket(origin cube.ChunkPos, level Level) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addTicket(origin, level)
	g.publish()
}

// RemoveTicket removes one ticket with the level passed from origin. False is
// returned if no such ticket existed.
func (g *Graph) RemoveTicket(origin cube.ChunkPos, level Level) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ok := g.removeTicket(origin, level)
	g.publish()
	return ok
}

// AddForceTicket adds a ticket at FullLevel to pos and marks it as high
// priority.
func (g *Graph) AddForceTicket(pos cube.ChunkPos) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addTicket(pos, FullLevel)
	if g.forced[pos]++; g.forced[pos] == 1 {
		g.priorityDirty = true
	}
	g.publish()
}

// RemoveForceTicket removes a ticket added using AddForceTicket. False is
// returned if pos had no force ticket.
func (g *Graph) RemoveForceTicket(pos cube.ChunkPos) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.forced[pos]
	if !ok {
		return false
	}
	if n == 1 {
		delete(g.forced, pos)
		g.priorityDirty = true
	} else {
		g.forced[pos] = n - 1
	}
	g.removeTicket(pos, FullLevel)
	g.publish()
	return true
}

func (g *Graph) level(pos cube.ChunkPos) Level {
	if l, ok := g.levels[pos]; ok {
		return l
	}
	return MaxLevel
}

func (g *Graph) set(pos cube.ChunkPos, l Level) {
	if l >= MaxLevel {
		delete(g.levels, pos)
	} else {
		g.levels[pos] = l
	}
	g.dirty = true
}

// ticketLevel returns the lowest level of all tickets at origin.
func (g *Graph) ticketLevel(origin cube.ChunkPos) Level {
	if l := g.tickets[origin]; len(l) > 0 {
		return l[0]
	}
	return MaxLevel
}

func (g *Graph) addTicket(origin cube.ChunkPos, level Level) {
	g.checkIdle()
	l := g.tickets[origin]
	i, _ := slices.BinarySearch(l, level)
	g.tickets[origin] = slices.Insert(l, i, level)

	if level < g.level(origin) {
		g.set(origin, level)
		heap.Push(&g.increase, node{pos: origin, level: level})
	}
	g.propagateIncrease()
	g.verify()
}

func (g *Graph) removeTicket(origin cube.ChunkPos, level Level) bool {
	g.checkIdle()
	l := g.tickets[origin]
	i, found := slices.BinarySearch(l, level)
	if !found {
		return false
	}
	l = slices.Delete(l, i, i+1)
	if len(l) == 0 {
		delete(g.tickets, origin)
	} else {
		g.tickets[origin] = l
	}
	if level != g.level(origin) || g.ticketLevel(origin) <= level {
		// The ticket did not support the level at its origin on its own.
		return true
	}
	g.set(origin, MaxLevel)
	heap.Push(&g.decrease, node{pos: origin, level: level})
	g.propagateDecrease()

	// Any remaining ticket close enough to the removed one may now be the
	// nearest support for a cleared position.
	reach := level.Reach()
	for o := range g.tickets {
		if o.Chebyshev(origin) > reach {
			continue
		}
		tl := g.ticketLevel(o)
		if tl < g.level(o) {
			g.set(o, tl)
		}
		if l := g.level(o); l < MaxLevel {
			heap.Push(&g.increase, node{pos: o, level: l})
		}
	}
	g.propagateIncrease()
	g.verify()
	return true
}

// propagateIncrease lowers the level of neighbours of every node in the
// increase heap until no level can be lowered further.
func (g *Graph) propagateIncrease() {
	for g.increase.Len() > 0 {
		n := heap.Pop(&g.increase).(node)
		if g.level(n.pos) != n.level {
			// Stale entry: the position was lowered or cleared after it was
			// pushed.
			continue
		}
		next := n.level + 1
		if next >= MaxLevel {
			continue
		}
		g.neighbours(n.pos, func(nb cube.ChunkPos) {
			if g.level(nb) > next {
				g.set(nb, next)
				heap.Push(&g.increase, node{pos: nb, level: next})
			}
		})
	}
}

// propagateDecrease clears every position that was only supported through a
// node in the decrease heap. Neighbours with another support are pushed onto
// the increase heap so that they refill the cleared positions.
func (g *Graph) propagateDecrease() {
	for g.decrease.Len() > 0 {
		n := heap.Pop(&g.decrease).(node)
		g.neighbours(n.pos, func(nb cube.ChunkPos) {
			l, ok := g.levels[nb]
			if !ok {
				return
			}
			switch {
			case l == n.level+1:
				g.set(nb, MaxLevel)
				heap.Push(&g.decrease, node{pos: nb, level: l})
			case l <= n.level:
				heap.Push(&g.increase, node{pos: nb, level: l})
			}
		})
	}
}

func (g *Graph) neighbours(pos cube.ChunkPos, f func(nb cube.ChunkPos)) {
	for dx := int32(-1); dx <= 1; dx++ {
		for dz := int32(-1); dz <= 1; dz++ {
			if dx != 0 || dz != 0 {
				f(pos.Add(dx, dz))
			}
		}
	}
}

func (g *Graph) highPriority() []cube.ChunkPos {
	s := slices.Collect(maps.Keys(g.forced))
	slices.SortFunc(s, func(a, b cube.ChunkPos) int {
		if a.Less(b) {
			return -1
		} else if b.Less(a) {
			return 1
		}
		return 0
	})
	return s
}

// publish sends a Snapshot of the parts of the Graph that changed to the
// LevelChannel.
func (g *Graph) publish() {
	if !g.dirty && !g.priorityDirty {
		return
	}
	var s Snapshot
	if g.dirty {
		s.Levels, s.HasLevels = maps.Clone(g.levels), true
	}
	if g.priorityDirty {
		s.HighPriority, s.HasPriority = g.highPriority(), true
	}
	g.dirty, g.priorityDirty = false, false
	if g.ch != nil {
		g.ch.Send(s)
	}
}

func (g *Graph) checkIdle() {
	if !invariant.Check(g.increase.Len() == 0 && g.decrease.Len() == 0, "ticket graph update heaps not empty: increase=%v decrease=%v", g.increase.Len(), g.decrease.Len()) {
		g.increase, g.decrease = g.increase[:0], g.decrease[:0]
	}
}

// verify compares the levels against a derivation from scratch in builds
// with invariant checks enabled.
func (g *Graph) verify() {
	if !invariant.Enabled {
		return
	}
	want := derive(g.tickets)
	invariant.Check(maps.Equal(want, g.levels), "ticket graph levels diverged from derivation: have %v positions, want %v", len(g.levels), len(want))
}

// derive computes the level of every position from the tickets passed
// without any incremental state.
func derive(tickets map[cube.ChunkPos][]Level) map[cube.ChunkPos]Level {
	levels := make(map[cube.ChunkPos]Level)
	for origin, l := range tickets {
		if len(l) == 0 || l[0] >= MaxLevel {
			continue
		}
		tl := l[0]
		cube.Square(origin, tl.Reach(), func(pos cube.ChunkPos) {
			v := tl + Level(pos.Chebyshev(origin))
			if cur, ok := levels[pos]; !ok || v < cur {
				levels[pos] = v
			}
		})
	}
	return levels
}
