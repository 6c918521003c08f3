package world

import (
	"sync"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/stage"
)

// Handler handles events that are called by a World. Implementations of
// Handler may be used to listen to specific events such as a chunk finishing
// a stage. Handler methods are called from the goroutine running the
// schedule of the World and must not block.
type Handler interface {
	// HandleStage handles a chunk completing a stage, or being read from the
	// Provider at a stage.
	HandleStage(pos cube.ChunkPos, s stage.Stage)
	// HandleUnload handles a chunk being written and removed from memory.
	HandleUnload(pos cube.ChunkPos)
	// HandleTick handles the scheduled block and fluid ticks of a chunk that
	// are due. It is called from the tick goroutine of the World.
	HandleTick(pos cube.ChunkPos, block, fluid []chunk.ScheduledTick)
	// HandleClose handles the World being closed.
	HandleClose()
}

// NopHandler implements the Handler interface but does not execute any code
// when an event is called.
type NopHandler struct{}

func (NopHandler) HandleStage(cube.ChunkPos, stage.Stage)                                 {}
func (NopHandler) HandleUnload(cube.ChunkPos)                                             {}
func (NopHandler) HandleTick(cube.ChunkPos, []chunk.ScheduledTick, []chunk.ScheduledTick) {}
func (NopHandler) HandleClose()                                                           {}

// listeners fans out chunks becoming available. One-shot listeners wait for
// a single position to become a finished chunk. Persistent listeners are
// called for every stage completion.
type listeners struct {
	mu         sync.Mutex
	once       map[cube.ChunkPos][]chan *Handle
	persistent map[int]func(pos cube.ChunkPos, s stage.Stage)
	nextID     int
	closed     bool
}

func newListeners() *listeners {
	return &listeners{
		once:       make(map[cube.ChunkPos][]chan *Handle),
		persistent: make(map[int]func(cube.ChunkPos, stage.Stage)),
	}
}

// await returns a channel that receives the Handle of the chunk at pos once
// it is finished. The channel is closed without a value if the World closes
// first.
func (l *listeners) await(pos cube.ChunkPos) <-chan *Handle {
	ch := make(chan *Handle, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		close(ch)
		return ch
	}
	l.once[pos] = append(l.once[pos], ch)
	return ch
}

// subscribe adds a persistent listener and returns a function removing it.
func (l *listeners) subscribe(f func(pos cube.ChunkPos, s stage.Stage)) (cancel func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.persistent[id] = f
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.persistent, id)
		l.mu.Unlock()
	}
}

// notify calls the listeners of pos for a completed stage. h is the Handle of
// the chunk if s is stage.Full.
func (l *listeners) notify(pos cube.ChunkPos, s stage.Stage, h *Handle) {
	l.mu.Lock()
	var waiting []chan *Handle
	if s == stage.Full && h != nil {
		waiting = l.once[pos]
		delete(l.once, pos)
	}
	persistent := make([]func(cube.ChunkPos, stage.Stage), 0, len(l.persistent))
	for _, f := range l.persistent {
		persistent = append(persistent, f)
	}
	l.mu.Unlock()

	for _, ch := range waiting {
		ch <- h
		close(ch)
	}
	for _, f := range persistent {
		f(pos, s)
	}
}

// close closes every one-shot listener still waiting.
func (l *listeners) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for pos, waiting := range l.once {
		for _, ch := range waiting {
			close(ch)
		}
		delete(l.once, pos)
	}
}
