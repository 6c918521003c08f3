package world

import (
	"context"
	"errors"
	"iter"
	"math"
	"sync"
	"sync/atomic"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/stage"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"github.com/google/uuid"
)

var (
	// ErrClosed is returned by methods of a World that was closed.
	ErrClosed = errors.New("world: closed")
	// ErrNotLoaded is returned when accessing a chunk that is not loaded as a
	// finished chunk.
	ErrNotLoaded = errors.New("world: chunk not loaded")
)

// World holds the chunks of a single dimension. It loads, generates, saves
// and unloads chunks based on the tickets added to it. World is safe for
// concurrent use.
type World struct {
	conf    Config
	tickets *ticket.Graph
	sched   *schedule

	// chunks holds a *Handle for every finished chunk in memory that is
	// reached by a ticket. It is only written by the schedule.
	chunks sync.Map
	// loaders holds every Loader that is not closed, keyed by its ID.
	loaders sync.Map

	futuresMu sync.Mutex
	futures   map[cube.ChunkPos]*future
	closed    bool

	lsn     *listeners
	metrics *metrics
	handler atomic.Pointer[Handler]

	tick atomic.Int64
	tps  atomic.Uint64

	closing chan struct{}
	running sync.WaitGroup
	o       sync.Once
}

// future is a pending World.Chunk call shared by every caller waiting for the
// same chunk.
type future struct {
	done    chan struct{}
	h       *Handle
	waiters int
}

// Range returns the height range of the World.
func (w *World) Range() cube.Range {
	return w.conf.Range
}

// Handle changes the current Handler of the World. If h is nil, the Handler
// is reset to NopHandler.
func (w *World) Handle(h Handler) {
	if h == nil {
		h = NopHandler{}
	}
	w.handler.Store(&h)
}

// Handler returns the Handler of the World.
func (w *World) Handler() Handler {
	return *w.handler.Load()
}

// Subscribe calls f every time a chunk completes a stage, is read from the
// Provider or becomes available again before being unloaded. f is called on
// the goroutine of the schedule and must not block. The function returned
// removes the subscription.
func (w *World) Subscribe(f func(pos cube.ChunkPos, s stage.Stage)) (cancel func()) {
	return w.lsn.subscribe(f)
}

// Await returns a channel that receives the Handle of the chunk at pos once
// it becomes a finished chunk. Await does not add a ticket, so the chunk is
// only loaded if a ticket reaches it. The Handle received holds no reference
// to the chunk. The channel is closed without a value if the World is closed
// first.
func (w *World) Await(pos cube.ChunkPos) <-chan *Handle {
	return w.lsn.await(pos)
}

// Chunk returns the finished chunk at pos, loading or generating it if
// needed. The chunk stays loaded, and so reachable through methods such as
// Block and SetBlock, until Handle.Release is called on the Handle returned. Concurrent calls for the same position share the work.
func (w *World) Chunk(ctx context.Context, pos cube.ChunkPos) (*Handle, error) {
	if h, ok := w.acquireLoaded(pos); ok {
		return h, nil
	}
	w.futuresMu.Lock()
	if w.closed {
		w.futuresMu.Unlock()
		return nil, ErrClosed
	}
	f, ok := w.futures[pos]
	if !ok {
		f = &future{done: make(chan struct{})}
		w.futures[pos] = f
		w.tickets.AddTicket(pos, ticket.FullLevel)
	}
	f.waiters++
	w.futuresMu.Unlock()

	if !ok {
		// The chunk may have been loaded before the future was registered.
		w.sched.exec(lookupCommand{pos: pos})
	}

	select {
	case <-f.done:
		if f.h == nil {
			return nil, ErrClosed
		}
		return f.h, nil
	case <-ctx.Done():
	}

	w.futuresMu.Lock()
	defer w.futuresMu.Unlock()
	select {
	case <-f.done:
		// Resolved while cancelling: a reference was already taken for this
		// caller.
		if f.h != nil {
			f.h.Release()
		}
		return nil, ctx.Err()
	default:
	}
	if f.waiters--; f.waiters == 0 {
		delete(w.futures, pos)
		w.tickets.RemoveTicket(pos, ticket.FullLevel)
	}
	return nil, ctx.Err()
}

// resolve completes the future for pos, if any, with h. It takes a reference
// for every caller waiting. resolve is only called by the schedule.
func (w *World) resolve(pos cube.ChunkPos, h *Handle) {
	w.futuresMu.Lock()
	defer w.futuresMu.Unlock()
	f, ok := w.futures[pos]
	if !ok {
		return
	}
	delete(w.futures, pos)
	for range f.waiters {
		h.acquire()
	}
	f.h = h
	close(f.done)
	// The references taken above hold their own ticket from here on.
	w.tickets.RemoveTicket(pos, ticket.FullLevel)
}

// acquireLoaded returns the Handle of the chunk at pos with a reference taken
// if it is loaded.
func (w *World) acquireLoaded(pos cube.ChunkPos) (*Handle, bool) {
	h, ok := w.loadedHandle(pos)
	if !ok {
		return nil, false
	}
	h.acquire()
	// Chunks are removed from the map before they are unloaded, so a Handle
	// still present after the reference was taken cannot be unloaded.
	if cur, ok := w.loadedHandle(pos); !ok || cur != h {
		h.Release()
		return nil, false
	}
	return h, true
}

func (w *World) loadedHandle(pos cube.ChunkPos) (*Handle, bool) {
	v, ok := w.chunks.Load(pos)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// Loaded checks if the chunk at pos is loaded as a finished chunk.
func (w *World) Loaded(pos cube.ChunkPos) bool {
	_, ok := w.loadedHandle(pos)
	return ok
}

// Block returns the block ID at pos. ErrNotLoaded is returned if the chunk of
// pos is not loaded. Positions outside the Range of the World hold air.
func (w *World) Block(pos cube.Pos) (uint32, error) {
	h, ok := w.loadedHandle(pos.ChunkPos())
	if !ok {
		return 0, ErrNotLoaded
	}
	return h.Block(pos[0]&15, pos[1], pos[2]&15), nil
}

// SetBlock sets the block ID at pos and returns the ID previously there.
// ErrNotLoaded is returned if the chunk of pos is not loaded. Positions
// outside the Range of the World are ignored.
func (w *World) SetBlock(pos cube.Pos, id uint32) (uint32, error) {
	h, ok := w.loadedHandle(pos.ChunkPos())
	if !ok {
		return 0, ErrNotLoaded
	}
	return h.SetBlock(pos[0]&15, pos[1], pos[2]&15, id), nil
}

// Biome returns the biome ID at pos. ErrNotLoaded is returned if the chunk of
// pos is not loaded.
func (w *World) Biome(pos cube.Pos) (uint32, error) {
	h, ok := w.loadedHandle(pos.ChunkPos())
	if !ok {
		return 0, ErrNotLoaded
	}
	var b uint32
	h.Read(func(c *chunk.Chunk) {
		b = c.Biome(pos[0]&15, pos[1], pos[2]&15)
	})
	return b, nil
}

// ScheduleBlockTick schedules a tick for block at pos, delay ticks from now.
// False is returned if an equal or later tick was already scheduled.
func (w *World) ScheduleBlockTick(pos cube.Pos, block uint32, delay int64, priority int32) (bool, error) {
	return w.scheduleTick(pos, block, delay, priority, false)
}

// ScheduleFluidTick schedules a fluid tick for block at pos, delay ticks from
// now. False is returned if an equal or later tick was already scheduled.
func (w *World) ScheduleFluidTick(pos cube.Pos, block uint32, delay int64, priority int32) (bool, error) {
	return w.scheduleTick(pos, block, delay, priority, true)
}

func (w *World) scheduleTick(pos cube.Pos, block uint32, delay int64, priority int32, fluid bool) (bool, error) {
	h, ok := w.loadedHandle(pos.ChunkPos())
	if !ok {
		return false, ErrNotLoaded
	}
	var scheduled bool
	h.Write(func(c *chunk.Chunk) {
		q := c.BlockTicks
		if fluid {
			q = c.FluidTicks
		}
		scheduled = q.Schedule(pos, block, w.CurrentTick(), delay, priority)
	})
	return scheduled, nil
}

// CurrentTick returns the current tick of the World.
func (w *World) CurrentTick() int64 {
	return w.tick.Load()
}

// TPS returns the average amount of ticks per second measured over the last
// ticks of the World.
func (w *World) TPS() float64 {
	return math.Float64frombits(w.tps.Load())
}

// AddTicket adds a ticket with a level at origin. Chunks within reach of the
// ticket are loaded and generated up to the stage their level allows.
func (w *World) AddTicket(origin cube.ChunkPos, level ticket.Level) {
	w.tickets.AddTicket(origin, level)
}

// RemoveTicket removes a ticket previously added with AddTicket. False is
// returned if no such ticket existed.
func (w *World) RemoveTicket(origin cube.ChunkPos, level ticket.Level) bool {
	return w.tickets.RemoveTicket(origin, level)
}

// AddForceTicket adds a ticket at ticket.FullLevel to pos. The work needed to
// finish pos is handed out before any other work.
func (w *World) AddForceTicket(pos cube.ChunkPos) {
	w.tickets.AddForceTicket(pos)
}

// RemoveForceTicket removes a ticket added with AddForceTicket.
func (w *World) RemoveForceTicket(pos cube.ChunkPos) bool {
	return w.tickets.RemoveForceTicket(pos)
}

// Level returns the current ticket level of pos.
func (w *World) Level(pos cube.ChunkPos) ticket.Level {
	return w.tickets.Level(pos)
}

// Save writes every chunk in memory to the Provider and blocks until all
// writes finished.
func (w *World) Save() {
	done := make(chan struct{})
	if w.sched.exec(saveCommand{done: done}) {
		<-done
	}
}

// Unload writes and removes every chunk no longer reached by a ticket and not
// referenced, and blocks until all writes finished.
func (w *World) Unload() {
	done := make(chan struct{})
	if w.sched.exec(unloadCommand{done: done}) {
		<-done
	}
}

// Stats returns the current Stats of the World.
func (w *World) Stats() Stats {
	s := w.metrics.snapshot()
	w.loaders.Range(func(any, any) bool {
		s.Loaders++
		return true
	})
	return s
}

// Loader returns the Loader with the ID passed if it was created for the
// World and is not closed.
func (w *World) Loader(id uuid.UUID) (*Loader, bool) {
	l, ok := w.loaders.Load(id)
	if !ok {
		return nil, false
	}
	return l.(*Loader), true
}

// Loaders returns every Loader of the World that is not closed.
func (w *World) Loaders() iter.Seq[*Loader] {
	return func(yield func(*Loader) bool) {
		w.loaders.Range(func(_, l any) bool {
			return yield(l.(*Loader))
		})
	}
}

// Close stops the World, writes every chunk in memory to the Provider and
// closes the Provider. Calls to Chunk still waiting return ErrClosed.
func (w *World) Close() error {
	w.o.Do(w.close)
	return nil
}

func (w *World) close() {
	// Let user code run anything that needs to be finished before closing.
	w.Handler().HandleClose()
	w.Handle(NopHandler{})

	close(w.closing)
	w.running.Wait()

	c := &closeCommand{done: make(chan struct{})}
	if w.sched.exec(c) {
		<-c.done
	}
	<-w.sched.done

	w.futuresMu.Lock()
	w.closed = true
	for pos, f := range w.futures {
		delete(w.futures, pos)
		close(f.done)
	}
	w.futuresMu.Unlock()
	w.lsn.close()

	w.conf.Log.Debug("Closing provider...")
	if err := w.conf.Provider.Close(); err != nil {
		w.conf.Log.Error("close world provider: " + err.Error())
	}
}

// lookupCommand resolves the future for a chunk that was already loaded when
// the future was registered.
type lookupCommand struct{ pos cube.ChunkPos }

func (c lookupCommand) execute(s *schedule) {
	if h, ok := s.w.loadedHandle(c.pos); ok {
		s.w.resolve(c.pos, h)
	}
}
