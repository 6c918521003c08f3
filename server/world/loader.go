package world

import (
	"sync"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Loader keeps the chunks around a moving position loaded, such as those
// around a player. It holds a single ticket at the chunk it is in. A Loader
// is safe for concurrent use.
type Loader struct {
	id uuid.UUID
	w  *World

	mu     sync.Mutex
	pos    cube.ChunkPos
	level  ticket.Level
	placed bool
	closed bool
}

// NewLoader returns a Loader for the World passed. Chunks within
// viewDistance-1 of the Loader are loaded as finished chunks. If viewDistance
// is 0 or lower, the ViewDistance of the World is used. The Loader does not
// load anything until Move is called.
func NewLoader(w *World, viewDistance int) *Loader {
	if viewDistance <= 0 {
		viewDistance = w.conf.ViewDistance
	}
	l := &Loader{id: uuid.New(), w: w, level: ticket.ViewLevel(viewDistance)}
	w.loaders.Store(l.id, l)
	return l
}

// ID returns the unique ID of the Loader. The Loader may be looked up by its
// ID using World.Loader until it is closed.
func (l *Loader) ID() uuid.UUID {
	return l.id
}

// Position returns the chunk the Loader is in and false if Move was not yet
// called.
func (l *Loader) Position() (cube.ChunkPos, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos, l.placed
}

// Move moves the Loader to pos. The ticket at the new chunk is added before
// the old one is removed so that chunks in view of both are not unloaded.
func (l *Loader) Move(pos mgl64.Vec3) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	chunkPos := cube.ChunkPosFromVec3(pos)
	if l.placed && chunkPos == l.pos {
		return
	}
	l.w.AddTicket(chunkPos, l.level)
	if l.placed {
		l.w.RemoveTicket(l.pos, l.level)
	}
	l.pos, l.placed = chunkPos, true
}

// ChangeViewDistance changes the view distance of the Loader.
func (l *Loader) ChangeViewDistance(viewDistance int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	level := ticket.ViewLevel(viewDistance)
	if l.closed || level == l.level {
		return
	}
	if l.placed {
		l.w.AddTicket(l.pos, level)
		l.w.RemoveTicket(l.pos, l.level)
	}
	l.level = level
}

// Close removes the ticket of the Loader. The Loader cannot be used after
// calling Close.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.w.loaders.Delete(l.id)
	if l.placed {
		l.w.RemoveTicket(l.pos, l.level)
	}
	return nil
}
