package chunk

import (
	"cmp"
	"maps"
	"slices"

	"github.com/df-mc/chunkflow/server/block/cube"
)

// ScheduledTick is a block or fluid update scheduled to run at a specific
// world tick.
type ScheduledTick struct {
	Pos cube.Pos
	// Block is the ID of the block the tick was scheduled for. The tick is
	// only meaningful while this block is still at Pos.
	Block uint32
	// Tick is the world tick at which the update runs.
	Tick int64
	// Priority orders ticks scheduled for the same world tick. Lower values
	// run first.
	Priority int32

	seq uint64
}

// TickQueue holds the scheduled block or fluid ticks of a chunk. A tick is
// only scheduled if no tick for the same position and block is already
// scheduled at the same or a later time.
type TickQueue struct {
	ticks    []ScheduledTick
	furthest map[tickKey]int64
	seq      uint64
}

// tickKey identifies the ticks scheduled for one block at one position.
type tickKey struct {
	pos   cube.Pos
	block uint32
}

// NewTickQueue returns an empty TickQueue.
func NewTickQueue() *TickQueue {
	return &TickQueue{furthest: make(map[tickKey]int64)}
}

// Schedule schedules a tick for block at pos at world tick currentTick+delay.
// A delay lower than 1 is raised to 1. False is returned if an equal or later
// tick was already scheduled.
func (q *TickQueue) Schedule(pos cube.Pos, block uint32, currentTick, delay int64, priority int32) bool {
	t := currentTick + max(delay, 1)
	index := tickKey{pos: pos, block: block}
	if existing, ok := q.furthest[index]; ok && existing >= t {
		return false
	}
	q.furthest[index] = t
	q.seq++
	q.ticks = append(q.ticks, ScheduledTick{Pos: pos, Block: block, Tick: t, Priority: priority, seq: q.seq})
	return true
}

// Due removes every tick scheduled at or before tick from the queue and
// returns them ordered by tick, priority and the order they were scheduled
// in.
func (q *TickQueue) Due(tick int64) []ScheduledTick {
	var due []ScheduledTick
	q.ticks = slices.DeleteFunc(q.ticks, func(t ScheduledTick) bool {
		if t.Tick <= tick {
			due = append(due, t)
			return true
		}
		return false
	})
	maps.DeleteFunc(q.furthest, func(_ tickKey, t int64) bool {
		return t <= tick
	})
	slices.SortFunc(due, compareTicks)
	return due
}

// All returns every scheduled tick, ordered like Due.
func (q *TickQueue) All() []ScheduledTick {
	s := slices.Clone(q.ticks)
	slices.SortFunc(s, compareTicks)
	return s
}

// Len returns the amount of scheduled ticks.
func (q *TickQueue) Len() int {
	return len(q.ticks)
}

// Add adds ticks loaded from disk to the queue.
func (q *TickQueue) Add(ticks []ScheduledTick) {
	for _, t := range ticks {
		index := tickKey{pos: t.Pos, block: t.Block}
		q.furthest[index] = max(q.furthest[index], t.Tick)
		q.seq++
		t.seq = q.seq
		q.ticks = append(q.ticks, t)
	}
}

// Clone ...
func (q *TickQueue) Clone() *TickQueue {
	return &TickQueue{ticks: slices.Clone(q.ticks), furthest: maps.Clone(q.furthest), seq: q.seq}
}

func compareTicks(a, b ScheduledTick) int {
	return cmp.Or(cmp.Compare(a.Tick, b.Tick), cmp.Compare(a.Priority, b.Priority), cmp.Compare(a.seq, b.seq))
}
