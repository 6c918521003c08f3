package world

import (
	"errors"
	"sync"

	"github.com/brentp/intintmap"
	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/internal/taskguard"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generator"
	"github.com/df-mc/chunkflow/server/world/stage"
)

// readTask fetches chunks from the Provider.
type readTask struct {
	positions []cube.ChunkPos
}

// readResult is a chunk produced by a read task. Exactly one of handle and
// proto is set. fresh is true for chunks that were created because they did
// not exist or could not be read.
type readResult struct {
	pos    cube.ChunkPos
	handle *Handle
	proto  *chunk.ProtoChunk
	fresh  bool
}

// genTask runs a single stage on the chunks lent to cache.
type genTask struct {
	entry entry
	cache *Cache
}

// writeRecord is a chunk to be written. Exactly one of handle and proto is
// set. unload is set for chunks of the unload set.
type writeRecord struct {
	pos    cube.ChunkPos
	handle *Handle
	proto  *chunk.ProtoChunk
	unload *unloadEntry
}

// writeTask stores a batch of chunks to the Provider.
type writeTask struct {
	records []writeRecord
	batch   *writeBatch
}

// writeBatch tracks the tasks of a single call to schedule.write. It is only
// used on the schedule goroutine.
type writeBatch struct {
	remaining int
	done      func()
}

func (b *writeBatch) finish() {
	if b.remaining--; b.remaining == 0 && b.done != nil {
		b.done()
	}
}

// completion is the result of a task, applied on the arbiter goroutine.
type completion interface {
	apply(s *schedule)
}

type readCompletion struct{ results []readResult }

func (c readCompletion) apply(s *schedule) { s.applyRead(c.results) }

type genCompletion struct {
	task   genTask
	handle *Handle
}

func (c genCompletion) apply(s *schedule) { s.applyStage(c.task, c.handle) }

type writeCompletion struct {
	task   writeTask
	failed map[cube.ChunkPos]bool
}

func (c writeCompletion) apply(s *schedule) { s.applyWrite(c.task, c.failed) }

// inbox is an unbounded queue of completions. Workers never block pushing to
// it.
type inbox struct {
	mu     sync.Mutex
	items  []completion
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

func (in *inbox) push(c completion) {
	in.mu.Lock()
	in.items = append(in.items, c)
	in.mu.Unlock()
	select {
	case in.signal <- struct{}{}:
	default:
	}
}

func (in *inbox) drain() []completion {
	in.mu.Lock()
	defer in.mu.Unlock()
	items := in.items
	in.items = nil
	return items
}

// exclusion counts the writes running for every chunk so that a chunk is not
// read while it is being written.
type exclusion struct {
	mu      sync.Mutex
	cond    *sync.Cond
	writers *intintmap.Map
}

func newExclusion() *exclusion {
	e := &exclusion{writers: intintmap.New(64, 0.6)}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *exclusion) add(pos cube.ChunkPos) {
	e.mu.Lock()
	n, _ := e.writers.Get(pos.Key())
	e.writers.Put(pos.Key(), n+1)
	e.mu.Unlock()
}

func (e *exclusion) done(pos cube.ChunkPos) {
	e.mu.Lock()
	if n, _ := e.writers.Get(pos.Key()); n > 1 {
		e.writers.Put(pos.Key(), n-1)
	} else {
		e.writers.Del(pos.Key())
	}
	e.mu.Unlock()
	e.cond.Broadcast()
}

// wait blocks until no write is running for pos.
func (e *exclusion) wait(pos cube.ChunkPos) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if n, ok := e.writers.Get(pos.Key()); !ok || n == 0 {
			return
		}
		e.cond.Wait()
	}
}

func (s *schedule) readWorker() {
	defer s.workers.Done()
	for t := range s.reads {
		for _, pos := range t.positions {
			s.excl.wait(pos)
		}
		results := make([]readResult, 0, len(t.positions))
		for res := range s.conf.Provider.Fetch(t.positions) {
			results = append(results, s.decode(res))
		}
		s.inbox.push(readCompletion{results: results})
	}
}

// decode turns a fetched chunk into a readResult. Chunks that are missing or
// cannot be decoded are replaced by a new chunk.
func (s *schedule) decode(res FetchResult) readResult {
	pos := res.Pos
	var (
		d   chunk.Decoded
		err = res.Err
	)
	if err == nil && !res.Missing() {
		d, err = chunk.Decode(pos, s.conf.Range, s.conf.Properties, res.Data)
	}
	s.w.metrics.read(res.Missing(), err, d.Repaired)
	switch {
	case err != nil:
		if errors.Is(err, chunk.ErrPositionMismatch) {
			s.log.Warn("read chunk: "+err.Error()+", generating new chunk", "X", pos[0], "Z", pos[1])
		} else {
			s.log.Warn("read chunk: "+err.Error(), "X", pos[0], "Z", pos[1])
		}
	case res.Missing():
	default:
		if d.Repaired > 0 {
			s.log.Warn("read chunk: repaired invalid palette indices", "X", pos[0], "Z", pos[1], "cells", d.Repaired)
		}
		if d.Chunk != nil {
			return readResult{pos: pos, handle: newHandle(d.Chunk, s.w.tickets)}
		}
		return readResult{pos: pos, proto: d.Proto}
	}
	return readResult{pos: pos, proto: chunk.NewProtoChunk(pos, s.conf.Range, s.conf.Air, s.conf.Biome, s.conf.Properties), fresh: true}
}

func (s *schedule) genWorker() {
	defer s.workers.Done()
	for t := range s.gens {
		s.inbox.push(s.runStage(t))
	}
}

// runStage runs the generation content of a stage on the window of a task.
// A panic in the content is logged and the stage is still recorded, so that
// the chunk does not hold back the chunks around it.
func (s *schedule) runStage(t genTask) genCompletion {
	centre := t.cache.centre()
	if t.entry.stage == stage.Full {
		return genCompletion{task: t, handle: newHandle(centre.proto.ToChunk(), s.w.tickets)}
	}
	g := s.conf.Generator
	err := taskguard.Run(func() {
		switch t.entry.stage {
		case stage.Biomes:
			g.PopulateBiomes(t.cache)
		case stage.Noise:
			g.PopulateNoise(t.cache)
		case stage.Surface:
			g.BuildSurface(t.cache)
		case stage.Features:
			g.GenerateFeatures(t.cache, generator.Random(s.conf.Seed, t.entry.pos, generator.Salt(t.entry.stage.String())))
		}
	})
	if err != nil {
		var perr *taskguard.PanicError
		if errors.As(err, &perr) {
			s.log.Error("generate chunk: "+err.Error(), "X", t.entry.pos[0], "Z", t.entry.pos[1], "stage", t.entry.stage, "stack", string(perr.Stack))
		}
		s.w.metrics.panicked()
	}
	centre.proto.SetStage(t.entry.stage)
	return genCompletion{task: t}
}

func (s *schedule) writeWorker() {
	defer s.workers.Done()
	for t := range s.writes {
		s.inbox.push(s.store(t))
	}
}

// store encodes and writes the records of a task. Records that could not be
// encoded or written are reported as failed.
func (s *schedule) store(t writeTask) writeCompletion {
	var (
		failed  map[cube.ChunkPos]bool
		records = make([]Record, 0, len(t.records))
		written = make([]writeRecord, 0, len(t.records))
	)
	fail := func(pos cube.ChunkPos) {
		if failed == nil {
			failed = make(map[cube.ChunkPos]bool)
		}
		failed[pos] = true
	}
	for _, rec := range t.records {
		var (
			data []byte
			err  error
		)
		if rec.proto != nil {
			data, err = chunk.EncodeProto(rec.proto)
		} else {
			data, err = rec.handle.encode(false)
		}
		if err != nil {
			s.log.Error("save chunk: "+err.Error(), "X", rec.pos[0], "Z", rec.pos[1])
			fail(rec.pos)
			continue
		}
		if data != nil {
			records = append(records, Record{Pos: rec.pos, Data: data})
			written = append(written, rec)
		}
	}
	if len(records) > 0 {
		err := s.conf.Provider.Store(records)
		s.w.metrics.wrote(len(records), err)
		if err != nil {
			s.log.Error("save chunks: "+err.Error(), "count", len(records))
			for _, rec := range written {
				if rec.handle != nil {
					rec.handle.markUnsaved()
				}
				fail(rec.pos)
			}
		}
	}
	for _, rec := range t.records {
		s.excl.done(rec.pos)
	}
	return writeCompletion{task: t, failed: failed}
}

// command is an instruction run on the arbiter goroutine.
type command interface {
	execute(s *schedule)
}

type saveCommand struct{ done chan struct{} }

func (c saveCommand) execute(s *schedule) {
	s.saveAll(func() { close(c.done) })
}

type unloadCommand struct{ done chan struct{} }

func (c unloadCommand) execute(s *schedule) {
	s.unload(func() { close(c.done) })
}

type closeCommand struct{ done chan struct{} }

func (c *closeCommand) execute(s *schedule) {
	if s.closing == nil {
		s.closing = c
	}
}

// inspectCommand runs f with the state of the schedule.
type inspectCommand struct {
	f    func(s *schedule)
	done chan struct{}
}

func (c inspectCommand) execute(s *schedule) {
	c.f(s)
	close(c.done)
}
