package ticket

import (
	"sync"

	"github.com/df-mc/chunkflow/server/block/cube"
)

// Snapshot is a copy of the state of a Graph at the moment it changed.
type Snapshot struct {
	// Levels holds the level of every position below MaxLevel. It is only
	// valid if HasLevels is true.
	Levels    map[cube.ChunkPos]Level
	HasLevels bool
	// HighPriority holds the origins of all force tickets. It is only valid
	// if HasPriority is true.
	HighPriority []cube.ChunkPos
	HasPriority  bool
}

// LevelChannel is a single-slot mailbox carrying the latest Snapshot of a
// Graph to its consumer. Sending never blocks: a Snapshot that was not yet
// received is replaced by the newer parts of the next one.
type LevelChannel struct {
	mu      sync.Mutex
	pending Snapshot
	signal  chan struct{}
}

// NewLevelChannel returns an empty LevelChannel.
func NewLevelChannel() *LevelChannel {
	return &LevelChannel{signal: make(chan struct{}, 1)}
}

// Send stores s in the mailbox and wakes up the receiver.
func (ch *LevelChannel) Send(s Snapshot) {
	ch.mu.Lock()
	if s.HasLevels {
		ch.pending.Levels, ch.pending.HasLevels = s.Levels, true
	}
	if s.HasPriority {
		ch.pending.HighPriority, ch.pending.HasPriority = s.HighPriority, true
	}
	ch.mu.Unlock()

	select {
	case ch.signal <- struct{}{}:
	default:
	}
}

// C returns a channel that receives a value whenever a Snapshot was sent.
func (ch *LevelChannel) C() <-chan struct{} {
	return ch.signal
}

// Receive takes the pending Snapshot out of the mailbox. It returns false if
// nothing was sent since the last call.
func (ch *LevelChannel) Receive() (Snapshot, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	s := ch.pending
	ch.pending = Snapshot{}
	return s, s.HasLevels || s.HasPriority
}
