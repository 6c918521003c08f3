package world

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/internal/invariant"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generator"
	"github.com/df-mc/chunkflow/server/world/generator/pmgen"
	"github.com/df-mc/chunkflow/server/world/stage"
	"github.com/df-mc/chunkflow/server/world/ticket"
)

var testRange = cube.Range{0, 31}

// newTestWorld returns a World with a small height range that does not tick,
// save or unload on its own.
func newTestWorld(t *testing.T, conf Config) *World {
	t.Helper()
	if conf.Range == (cube.Range{}) {
		conf.Range = testRange
	}
	if conf.GeneratorWorkers == 0 {
		conf.GeneratorWorkers = 4
	}
	if conf.TickInterval == 0 {
		conf.TickInterval = -1
	}
	conf.SaveInterval = -1
	conf.UnloadInterval = time.Hour
	w := conf.New()
	t.Cleanup(func() {
		if err := w.Close(); err != nil {
			t.Fatalf("failed closing world: %v", err)
		}
	})
	return w
}

// inspect runs f on the goroutine of the schedule of w.
func inspect(t *testing.T, w *World, f func(s *schedule)) {
	t.Helper()
	done := make(chan struct{})
	if !w.sched.exec(inspectCommand{f: f, done: done}) {
		t.Fatalf("schedule already stopped")
	}
	<-done
}

func await(t *testing.T, ch <-chan *Handle) *Handle {
	t.Helper()
	select {
	case h, ok := <-ch:
		if !ok {
			t.Fatalf("world closed while waiting for chunk")
		}
		return h
	case <-time.After(10 * time.Second):
		t.Fatalf("chunk was never loaded")
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %v", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorldLoadsAndUnloadsChunk(t *testing.T) {
	prov := NewMemoryProvider()
	w := newTestWorld(t, Config{Provider: prov})
	origin := cube.ChunkPos{0, 0}

	ch := w.Await(origin)
	w.AddTicket(origin, ticket.FullLevel)
	h := await(t, ch)
	if h.Position() != origin {
		t.Fatalf("handle position = %v, want %v", h.Position(), origin)
	}
	h.Read(func(c *chunk.Chunk) {
		if c.Position() != origin {
			t.Errorf("chunk position = %v, want %v", c.Position(), origin)
		}
		if c.Status() != stage.Full {
			t.Errorf("chunk status = %v, want full", c.Status())
		}
		if b := c.Block(0, 3, 0); b != generator.Grass {
			t.Errorf("block at y=3 = %v, want grass", b)
		}
	})

	if !w.RemoveTicket(origin, ticket.FullLevel) {
		t.Fatalf("expected ticket to be removed")
	}
	w.Unload()

	if w.Loaded(origin) {
		t.Fatalf("chunk still loaded after unloading")
	}
	inspect(t, w, func(s *schedule) {
		if len(s.protos) != 0 || len(s.unloading) != 0 || len(s.marks) != 0 || len(s.occupied) != 0 {
			t.Errorf("schedule still holds chunks: %v protos, %v unloading, %v marks, %v occupied", len(s.protos), len(s.unloading), len(s.marks), len(s.occupied))
		}
		if s.loaded != 0 {
			t.Errorf("schedule counts %v loaded chunks, want 0", s.loaded)
		}
	})
	if !prov.Has(origin) {
		t.Fatalf("chunk %v was not written to the provider", origin)
	}
	for res := range prov.Fetch([]cube.ChunkPos{origin}) {
		d, err := chunk.Decode(origin, testRange, chunk.AirProperties(0), res.Data)
		if err != nil {
			t.Fatalf("decode written chunk: %v", err)
		}
		if d.Chunk == nil || d.Chunk.Position() != origin {
			t.Fatalf("written chunk is not a finished chunk at %v", origin)
		}
	}
	// The neighbours only reached earlier stages and are stored as such.
	for res := range prov.Fetch([]cube.ChunkPos{{1, 0}, {2, 2}}) {
		d, err := chunk.Decode(res.Pos, testRange, chunk.AirProperties(0), res.Data)
		if err != nil {
			t.Fatalf("decode written chunk %v: %v", res.Pos, err)
		}
		want := stage.FromLevel(ticket.FullLevel + ticket.Level(res.Pos.Chebyshev(origin)))
		if d.Stage() != want {
			t.Errorf("chunk %v written at stage %v, want %v", res.Pos, d.Stage(), want)
		}
	}
}

// TestWorldDispatchOrder checks that no generation task is handed out before
// its dependencies completed and that running tasks never share a chunk.
func TestWorldDispatchOrder(t *testing.T) {
	w := newTestWorld(t, Config{GeneratorWorkers: 8})

	var mu sync.Mutex
	running := make(map[cube.ChunkPos]entry)
	inspect(t, w, func(s *schedule) {
		s.dispatched = func(s *schedule, e entry, window []cube.ChunkPos) {
			cube.Square(e.pos, e.stage.Radius(), func(pos cube.ChunkPos) {
				ring := pos.Chebyshev(e.pos)
				m, ok := s.marks[pos]
				if !ok || m.done < e.stage.Dependency(ring) {
					t.Errorf("%v dispatched for %v before %v reached %v", e.stage, e.pos, pos, e.stage.Dependency(ring))
				}
			})
			mu.Lock()
			defer mu.Unlock()
			for _, pos := range window {
				if other, ok := running[pos]; ok {
					t.Errorf("%v of %v overlaps running %v of %v at %v", e.stage, e.pos, other.stage, other.pos, pos)
				}
				running[pos] = e
			}
		}
		s.completed = func(s *schedule, e entry, window []cube.ChunkPos) {
			mu.Lock()
			defer mu.Unlock()
			for _, pos := range window {
				delete(running, pos)
			}
		}
	})

	// Tickets are added far apart from each other and in an order unrelated to
	// their positions.
	r := rand.New(rand.NewPCG(1, 2))
	origins := []cube.ChunkPos{{0, 0}, {3, 1}, {-4, 2}, {1, -5}, {6, 6}}
	r.Shuffle(len(origins), func(i, j int) { origins[i], origins[j] = origins[j], origins[i] })
	for i, origin := range origins {
		if i%2 == 0 {
			w.AddForceTicket(origin)
			continue
		}
		w.AddTicket(origin, ticket.FullLevel-1)
	}

	levels := w.tickets.Levels()
	waitFor(t, "every chunk to be generated", func() bool {
		for pos, l := range levels {
			if stage.FromLevel(l) == stage.Full && !w.Loaded(pos) {
				return false
			}
		}
		return true
	})
	inspect(t, w, func(s *schedule) {
		for pos, l := range levels {
			m, ok := s.marks[pos]
			if !ok || m.done < stage.FromLevel(l) {
				t.Errorf("chunk %v at level %v did not reach %v", pos, l, stage.FromLevel(l))
			}
		}
	})
}

func TestWorldResurrectsUnloadingChunk(t *testing.T) {
	prov := NewMemoryProvider()
	w := newTestWorld(t, Config{Provider: prov})
	origin := cube.ChunkPos{2, -3}

	ch := w.Await(origin)
	w.AddTicket(origin, ticket.FullLevel)
	h := await(t, ch)

	w.RemoveTicket(origin, ticket.FullLevel)
	inspect(t, w, func(s *schedule) {
		if u, ok := s.unloading[origin]; !ok || u.handle != h {
			t.Errorf("chunk %v not waiting to be unloaded", origin)
		}
	})

	ch = w.Await(origin)
	w.AddTicket(origin, ticket.FullLevel)
	if again := await(t, ch); again != h {
		t.Fatalf("resurrected handle differs from the handle unloaded")
	}
	inspect(t, w, func(s *schedule) {
		if _, ok := s.unloading[origin]; ok {
			t.Errorf("chunk %v still waiting to be unloaded", origin)
		}
	})
	if cur, ok := w.loadedHandle(origin); !ok || cur != h {
		t.Fatalf("resurrected chunk is not the chunk that was unloaded")
	}
	if n := prov.Stores(origin); n != 0 {
		t.Fatalf("chunk was written %v times, want 0", n)
	}
}

func TestWorldRefetchesWrittenChunk(t *testing.T) {
	prov := NewMemoryProvider()
	w := newTestWorld(t, Config{Provider: prov})
	origin := cube.ChunkPos{0, 0}
	pos := cube.Pos{5, 10, 7}

	ch := w.Await(origin)
	w.AddTicket(origin, ticket.FullLevel)
	h := await(t, ch)
	if _, err := w.SetBlock(pos, generator.Stone); err != nil {
		t.Fatalf("set block: %v", err)
	}
	if _, err := w.ScheduleBlockTick(pos, generator.Stone, 100, 0); err != nil {
		t.Fatalf("schedule tick: %v", err)
	}

	w.RemoveTicket(origin, ticket.FullLevel)
	w.Unload()
	if !prov.Has(origin) {
		t.Fatalf("chunk was not written")
	}
	before := w.Stats().Reads

	ch = w.Await(origin)
	w.AddTicket(origin, ticket.FullLevel)
	again := await(t, ch)
	if again == h {
		t.Fatalf("chunk was resurrected instead of read again")
	}
	if b, err := w.Block(pos); err != nil || b != generator.Stone {
		t.Fatalf("block after reading = %v, %v, want stone", b, err)
	}
	again.Read(func(c *chunk.Chunk) {
		if n := c.BlockTicks.Len(); n != 1 {
			t.Errorf("chunk holds %v block ticks after reading, want 1", n)
		}
	})
	if after := w.Stats().Reads; after <= before {
		t.Fatalf("chunk was not read from the provider")
	}
}

func TestWorldChunkSharesWork(t *testing.T) {
	w := newTestWorld(t, Config{})
	pos := cube.ChunkPos{4, 4}

	const callers = 8
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			h, err := w.Chunk(ctx, pos)
			if err != nil {
				t.Errorf("get chunk: %v", err)
				return
			}
			handles[i] = h
		}()
	}
	wg.Wait()
	if t.Failed() {
		return
	}
	for _, h := range handles[1:] {
		if h != handles[0] {
			t.Fatalf("concurrent calls returned different handles")
		}
	}
	if n := handles[0].references(); n != callers {
		t.Fatalf("handle holds %v references, want %v", n, callers)
	}
	if st := w.Stats().Stages[stage.Full]; st != 1 {
		t.Fatalf("chunk finished %v times, want 1", st)
	}
	// A single ticket keeps the chunk loaded while references are held.
	if l := w.Level(pos); l != ticket.FullLevel {
		t.Fatalf("level while referenced = %v, want FullLevel", l)
	}
	for _, h := range handles[1:] {
		h.Release()
	}
	if l := w.Level(pos); l != ticket.FullLevel {
		t.Fatalf("level with one reference left = %v, want FullLevel", l)
	}
	handles[0].Release()
	if handles[0].referenced() {
		t.Fatalf("handle still referenced after releasing")
	}
	if l := w.Level(pos); l != ticket.MaxLevel {
		t.Fatalf("level after releasing = %v, want MaxLevel", l)
	}
}

func TestWorldChunkStaysLoadedWhileHeld(t *testing.T) {
	w := newTestWorld(t, Config{})
	pos := cube.ChunkPos{3, 3}
	block := cube.Pos{48, 3, 50}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h, err := w.Chunk(ctx, pos)
	if err != nil {
		t.Fatalf("get chunk: %v", err)
	}
	// Let the schedule apply every ticket change made while loading.
	inspect(t, w, func(*schedule) {})

	if !w.Loaded(pos) {
		t.Fatalf("chunk returned by Chunk is not loaded")
	}
	prev, err := w.Block(block)
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	got, err := w.SetBlock(block, generator.Sand)
	if err != nil {
		t.Fatalf("set block: %v", err)
	}
	if got != prev {
		t.Fatalf("set block returned previous ID %v, want %v", got, prev)
	}
	if got, err = w.SetBlock(block, generator.Gravel); err != nil || got != generator.Sand {
		t.Fatalf("set block returned previous ID %v, %v, want sand", got, err)
	}
	if _, err := w.ScheduleBlockTick(block, generator.Gravel, 1, 0); err != nil {
		t.Fatalf("schedule tick: %v", err)
	}

	w.Unload()
	if !w.Loaded(pos) {
		t.Fatalf("held chunk was unloaded")
	}
	h.Release()
	w.Unload()
	if w.Loaded(pos) {
		t.Fatalf("chunk still loaded after releasing the last reference")
	}
}

func TestWorldChunkCancelled(t *testing.T) {
	w := newTestWorld(t, Config{})
	pos := cube.ChunkPos{-9, 3}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Chunk(ctx, pos); !errors.Is(err, context.Canceled) {
		t.Fatalf("get chunk with cancelled context: %v, want context.Canceled", err)
	}
	if l := w.Level(pos); l != ticket.MaxLevel {
		t.Fatalf("level after cancelling = %v, want MaxLevel", l)
	}
}

func TestWorldKeepsReferencedChunk(t *testing.T) {
	prov := NewMemoryProvider()
	w := newTestWorld(t, Config{Provider: prov})
	unloaded := make(chan cube.ChunkPos, 64)
	w.Handle(unloadHandler{ch: unloaded})
	pos := cube.ChunkPos{1, 1}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h, err := w.Chunk(ctx, pos)
	if err != nil {
		t.Fatalf("get chunk: %v", err)
	}

	w.Unload()
	inspect(t, w, func(s *schedule) {
		if _, ok := s.unloading[pos]; ok {
			t.Errorf("referenced chunk %v is waiting to be unloaded", pos)
		}
	})
	if cur, ok := w.loadedHandle(pos); !ok || cur != h {
		t.Fatalf("referenced chunk %v is not loaded", pos)
	}
	if prov.Has(pos) {
		t.Fatalf("referenced chunk %v was written", pos)
	}

	h.Release()
	w.Unload()
	inspect(t, w, func(s *schedule) {
		if _, ok := s.unloading[pos]; ok {
			t.Errorf("chunk %v not unloaded after releasing", pos)
		}
	})
	if !prov.Has(pos) {
		t.Fatalf("chunk %v was not written", pos)
	}
	found := false
	for len(unloaded) > 0 {
		if <-unloaded == pos {
			found = true
		}
	}
	if !found {
		t.Fatalf("handler was not notified of unloading %v", pos)
	}
}

type unloadHandler struct {
	NopHandler
	ch chan cube.ChunkPos
}

func (h unloadHandler) HandleUnload(pos cube.ChunkPos) {
	select {
	case h.ch <- pos:
	default:
	}
}

func TestWorldCloseSavesChunks(t *testing.T) {
	prov := NewMemoryProvider()
	w := Config{Provider: prov, Range: testRange, TickInterval: -1}.New()
	origin := cube.ChunkPos{0, 0}

	ch := w.Await(origin)
	w.AddTicket(origin, ticket.FullLevel)
	await(t, ch)

	if err := w.Close(); err != nil {
		t.Fatalf("close world: %v", err)
	}
	cube.Square(origin, 2, func(pos cube.ChunkPos) {
		if !prov.Has(pos) {
			t.Errorf("chunk %v not saved on close", pos)
		}
	})
	if _, err := w.Chunk(context.Background(), origin); !errors.Is(err, ErrClosed) {
		t.Fatalf("get chunk after close: %v, want ErrClosed", err)
	}
	if _, ok := <-w.Await(origin); ok {
		t.Fatalf("await after close received a chunk")
	}
}

func TestWorldReadOnly(t *testing.T) {
	prov := NewMemoryProvider()
	w := newTestWorld(t, Config{Provider: prov, ReadOnly: true})
	origin := cube.ChunkPos{0, 0}

	ch := w.Await(origin)
	w.AddTicket(origin, ticket.FullLevel)
	await(t, ch)
	w.Save()
	w.RemoveTicket(origin, ticket.FullLevel)
	w.Unload()

	if w.Loaded(origin) {
		t.Fatalf("chunk still loaded after unloading")
	}
	if prov.Has(origin) || w.Stats().Writes != 0 {
		t.Fatalf("read-only world wrote chunks")
	}
}

func TestWorldReadErrorGeneratesChunk(t *testing.T) {
	prov := NewMemoryProvider()
	origin := cube.ChunkPos{0, 0}
	if err := prov.Store([]Record{{Pos: origin, Data: []byte("not a chunk")}}); err != nil {
		t.Fatalf("store: %v", err)
	}
	w := newTestWorld(t, Config{Provider: prov})

	ch := w.Await(origin)
	w.AddTicket(origin, ticket.FullLevel)
	h := await(t, ch)
	if b := h.Block(0, 0, 0); b != generator.Bedrock {
		t.Fatalf("block at bottom = %v, want bedrock", b)
	}
	if n := w.Stats().ReadErrors; n != 1 {
		t.Fatalf("read errors = %v, want 1", n)
	}
}

type panicGenerator struct {
	generator.Flat
}

func (panicGenerator) PopulateNoise(generator.Region) {
	panic("noise exploded")
}

func TestWorldRecoversGeneratorPanic(t *testing.T) {
	if invariant.Enabled {
		t.Skip("panics are not recovered in debug builds")
	}
	w := newTestWorld(t, Config{Generator: panicGenerator{Flat: generator.NewFlat(0)}})
	origin := cube.ChunkPos{0, 0}

	ch := w.Await(origin)
	w.AddTicket(origin, ticket.FullLevel)
	h := await(t, ch)
	if b := h.Block(0, 0, 0); b != 0 {
		t.Fatalf("block at bottom = %v, want air", b)
	}
	if n := w.Stats().Panics; n == 0 {
		t.Fatalf("panics were not counted")
	}
}

type tickHandler struct {
	NopHandler
	ch chan []chunk.ScheduledTick
}

func (h tickHandler) HandleTick(_ cube.ChunkPos, block, _ []chunk.ScheduledTick) {
	select {
	case h.ch <- block:
	default:
	}
}

func TestWorldRunsScheduledTicks(t *testing.T) {
	w := newTestWorld(t, Config{TickInterval: time.Millisecond})
	ticks := make(chan []chunk.ScheduledTick, 1)
	w.Handle(tickHandler{ch: ticks})
	origin := cube.ChunkPos{0, 0}

	ch := w.Await(origin)
	w.AddTicket(origin, ticket.FullLevel)
	await(t, ch)

	pos := cube.Pos{3, 3, 3}
	if ok, err := w.ScheduleBlockTick(pos, generator.Grass, 5, 0); err != nil || !ok {
		t.Fatalf("schedule tick: %v, %v", ok, err)
	}
	if ok, _ := w.ScheduleBlockTick(pos, generator.Grass, 2, 0); ok {
		t.Fatalf("earlier tick for the same block was scheduled")
	}
	select {
	case due := <-ticks:
		if len(due) != 1 || due[0].Pos != pos || due[0].Block != generator.Grass {
			t.Fatalf("unexpected ticks %v", due)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("scheduled tick never ran")
	}
}

func TestConfigRejectsUnalignedRange(t *testing.T) {
	for _, r := range []cube.Range{{-8, 311}, {0, 30}, {16, 15}} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("world created with height range %v", r)
				}
			}()
			w := Config{Range: r, TickInterval: -1, SaveInterval: -1}.New()
			_ = w.Close()
		}()
	}
}

func TestWorldNotLoaded(t *testing.T) {
	w := newTestWorld(t, Config{})
	if _, err := w.Block(cube.Pos{100, 0, 100}); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("block of unloaded chunk: %v, want ErrNotLoaded", err)
	}
	if _, err := w.SetBlock(cube.Pos{100, 0, 100}, 1); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("set block of unloaded chunk: %v, want ErrNotLoaded", err)
	}
}

func TestWorldSubscribe(t *testing.T) {
	w := newTestWorld(t, Config{})
	var (
		mu   sync.Mutex
		seen = make(map[stage.Stage]bool)
	)
	cancel := w.Subscribe(func(pos cube.ChunkPos, s stage.Stage) {
		if pos != (cube.ChunkPos{}) {
			return
		}
		mu.Lock()
		seen[s] = true
		mu.Unlock()
	})
	defer cancel()

	ch := w.Await(cube.ChunkPos{})
	w.AddTicket(cube.ChunkPos{}, ticket.FullLevel)
	await(t, ch)

	mu.Lock()
	defer mu.Unlock()
	for _, s := range stage.All() {
		if !seen[s] {
			t.Errorf("no notification for stage %v", s)
		}
	}
}

func TestWorldWatchesLoadedChunks(t *testing.T) {
	prov := NewMemoryProvider()
	w := newTestWorld(t, Config{Provider: prov})
	origin := cube.ChunkPos{0, 0}

	w.AddTicket(origin, ticket.FullLevel)
	inspect(t, w, func(*schedule) {})
	if n := len(prov.Watched()); n != 25 {
		t.Fatalf("%v chunks watched, want 25", n)
	}
	w.RemoveTicket(origin, ticket.FullLevel)
	inspect(t, w, func(*schedule) {})
	if n := len(prov.Watched()); n != 0 {
		t.Fatalf("%v chunks watched after removing ticket, want 0", n)
	}
}

func TestWorldGeneratesTerrain(t *testing.T) {
	w := newTestWorld(t, Config{
		Generator:  pmgen.New(42),
		Properties: generator.Properties{},
		Range:      cube.Range{-16, 143},
	})
	origin := cube.ChunkPos{0, 0}

	ch := w.Await(origin)
	w.AddForceTicket(origin)
	h := await(t, ch)

	h.Read(func(c *chunk.Chunk) {
		if b := c.Block(0, -16, 0); b != generator.Bedrock {
			t.Errorf("block at bottom = %v, want bedrock", b)
		}
		if c.Height(chunk.WorldSurface, 8, 8) < 0 {
			t.Errorf("column 8, 8 holds no blocks")
		}
	})
}
