package world

import (
	"sync"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/ticket"
)

// Handle is a shared reference to a finished chunk held in memory by a
// World. All access to the chunk goes through the lock of the Handle, so a
// Handle may be used from any goroutine.
//
// Handles returned by World.Chunk hold a reference to the chunk. While any
// reference is held, the chunk holds a ticket at ticket.FullLevel, which keeps
// it loaded. Release must be called once the Handle is no longer used.
type Handle struct {
	mu sync.RWMutex
	c  *chunk.Chunk

	pos     cube.ChunkPos
	tickets *ticket.Graph

	refMu sync.Mutex
	refs  int
}

func newHandle(c *chunk.Chunk, tickets *ticket.Graph) *Handle {
	return &Handle{c: c, pos: c.Position(), tickets: tickets}
}

// Position returns the position of the chunk.
func (h *Handle) Position() cube.ChunkPos {
	return h.pos
}

// Block returns the block ID at x, y, z in the chunk. x and z are relative to
// the chunk.
func (h *Handle) Block(x, y, z int) uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.c.Block(x, y, z)
}

// SetBlock sets the block ID at x, y, z in the chunk and returns the previous
// ID.
func (h *Handle) SetBlock(x, y, z int, id uint32) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.c.SetBlock(x, y, z, id)
	if prev != id {
		h.c.MarkDirty()
	}
	return prev
}

// Read calls f with the chunk while holding a read lock. f must not modify
// the chunk or keep it after returning.
func (h *Handle) Read(f func(c *chunk.Chunk)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f(h.c)
}

// Write calls f with the chunk while holding the write lock and marks the
// chunk as modified.
func (h *Handle) Write(f func(c *chunk.Chunk)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f(h.c)
	h.c.MarkDirty()
}

// Release releases a reference to the chunk obtained through World.Chunk.
// Once the last reference is released, the chunk may be unloaded.
func (h *Handle) Release() {
	h.refMu.Lock()
	defer h.refMu.Unlock()
	if h.refs == 0 {
		panic("world: Handle released more often than acquired")
	}
	if h.refs--; h.refs == 0 && h.tickets != nil {
		h.tickets.RemoveTicket(h.pos, ticket.FullLevel)
	}
}

// acquire takes a reference to the chunk. The first reference adds the
// ticket that keeps the chunk loaded.
func (h *Handle) acquire() *Handle {
	h.refMu.Lock()
	defer h.refMu.Unlock()
	if h.refs++; h.refs == 1 && h.tickets != nil {
		h.tickets.AddTicket(h.pos, ticket.FullLevel)
	}
	return h
}

// references returns the amount of references obtained through World.Chunk
// that are still held.
func (h *Handle) references() int {
	h.refMu.Lock()
	defer h.refMu.Unlock()
	return h.refs
}

// referenced checks if any reference obtained through World.Chunk is still
// held.
func (h *Handle) referenced() bool {
	return h.references() > 0
}

// encode encodes the chunk and marks it saved. It returns nil data if the
// chunk was not modified since the last save and force is false.
func (h *Handle) encode(force bool) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !force && !h.c.Dirty() {
		return nil, nil
	}
	b, err := chunk.Encode(h.c)
	if err != nil {
		return nil, err
	}
	h.c.MarkSaved()
	return b, nil
}

// markUnsaved marks the chunk as modified again after writing it failed.
func (h *Handle) markUnsaved() {
	h.mu.Lock()
	h.c.MarkDirty()
	h.mu.Unlock()
}
