package ticket

// Level is a chunk priority level. Lower levels are closer to an interest
// source and therefore more important. A position without a level is
// implicitly at MaxLevel.
type Level int8

const (
	// FullLevel is the highest level at which a chunk is fully generated and
	// simulated.
	FullLevel Level = 43
	// MaxLevel is the level of a chunk that no ticket reaches. Chunks at
	// MaxLevel are not kept in memory.
	MaxLevel Level = 46
)

// ViewLevel returns the ticket level for a view distance in chunks, so that
// chunks within viewDistance-1 of the ticket origin are at FullLevel or lower.
func ViewLevel(viewDistance int) Level {
	l := int(FullLevel) + 1 - viewDistance
	return Level(min(max(l, 0), int(MaxLevel)))
}

// Reach returns the amount of rings around a ticket origin that a ticket with
// this level gives a level lower than MaxLevel.
func (l Level) Reach() int {
	return int(MaxLevel) - int(l) - 1
}
