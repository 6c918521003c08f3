package world

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/internal/invariant"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/stage"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"golang.org/x/time/rate"
)

const (
	// readBatchSize is the maximum amount of chunks fetched by a single read
	// task.
	readBatchSize = 16
	// writeBatchSize is the maximum amount of chunks stored by a single write
	// task.
	writeBatchSize = 64
	// priorityOffset is subtracted from the sort key of work needed by a
	// force ticket.
	priorityOffset = 1 << 12
)

// entry is a stage task waiting in the queue of a schedule.
type entry struct {
	pos   cube.ChunkPos
	key   int
	stage stage.Stage
}

// taskMark tracks the stages queued or running for a chunk and the highest
// stage it completed.
type taskMark struct {
	pending uint8
	done    stage.Stage
}

func (m *taskMark) isPending(s stage.Stage) bool { return m.pending&(1<<s) != 0 }
func (m *taskMark) setPending(s stage.Stage)     { m.pending |= 1 << s }
func (m *taskMark) clearPending(s stage.Stage)   { m.pending &^= 1 << s }

// unloadEntry is a chunk no longer reached by any ticket that is waiting to
// be written. Exactly one of handle and proto is set.
type unloadEntry struct {
	handle  *Handle
	proto   *chunk.ProtoChunk
	writing bool
}

func (u *unloadEntry) stage() stage.Stage {
	if u.handle != nil {
		return stage.Full
	}
	return u.proto.Stage()
}

// schedule is the arbiter of a World. A single goroutine owns all of its
// state: it turns level changes into stage tasks, hands them to the read,
// generation and write workers and applies their results.
type schedule struct {
	w    *World
	conf Config
	log  *slog.Logger

	levelCh  *ticket.LevelChannel
	levels   map[cube.ChunkPos]ticket.Level
	priority []cube.ChunkPos

	queue     []entry
	protos    map[cube.ChunkPos]*chunk.ProtoChunk
	unloading map[cube.ChunkPos]*unloadEntry
	occupied  map[cube.ChunkPos]struct{}
	marks     map[cube.ChunkPos]*taskMark
	loaded    int

	reads  chan readTask
	gens   chan genTask
	writes chan writeTask
	inbox  *inbox
	cmds   chan command

	excl     *exclusion
	limiter  *rate.Limiter
	inflight int

	closing *closeCommand
	saved   bool

	workers sync.WaitGroup
	done    chan struct{}

	// dispatched and completed are called for every generation task handed
	// out and applied. They are only set by tests.
	dispatched func(s *schedule, e entry, window []cube.ChunkPos)
	completed  func(s *schedule, e entry, window []cube.ChunkPos)
}

func newSchedule(w *World, levels *ticket.LevelChannel, limiter *rate.Limiter) *schedule {
	conf := w.conf
	return &schedule{
		w:         w,
		conf:      conf,
		log:       conf.Log,
		levelCh:   levels,
		levels:    make(map[cube.ChunkPos]ticket.Level),
		protos:    make(map[cube.ChunkPos]*chunk.ProtoChunk),
		unloading: make(map[cube.ChunkPos]*unloadEntry),
		occupied:  make(map[cube.ChunkPos]struct{}),
		marks:     make(map[cube.ChunkPos]*taskMark),
		reads:     make(chan readTask, conf.QueueSize),
		gens:      make(chan genTask, conf.QueueSize),
		writes:    make(chan writeTask, conf.QueueSize),
		inbox:     newInbox(),
		cmds:      make(chan command),
		excl:      newExclusion(),
		limiter:   limiter,
		done:      make(chan struct{}),
	}
}

// start starts the workers and the arbiter goroutine.
func (s *schedule) start() {
	for range s.conf.ReadWorkers {
		s.workers.Add(1)
		go s.readWorker()
	}
	for range s.conf.GeneratorWorkers {
		s.workers.Add(1)
		go s.genWorker()
	}
	for range s.conf.WriteWorkers {
		s.workers.Add(1)
		go s.writeWorker()
	}
	go s.run()
}

// exec runs cmd on the arbiter goroutine. It returns false if the schedule
// already stopped.
func (s *schedule) exec(cmd command) bool {
	select {
	case s.cmds <- cmd:
		return true
	case <-s.done:
		return false
	}
}

func (s *schedule) run() {
	defer close(s.done)

	save := &time.Ticker{C: make(<-chan time.Time)}
	if s.conf.SaveInterval > 0 {
		save = time.NewTicker(s.conf.SaveInterval)
		defer save.Stop()
	}
	unload := time.NewTicker(s.conf.UnloadInterval)
	defer unload.Stop()

	for {
		for _, c := range s.inbox.drain() {
			s.inflight--
			c.apply(s)
		}
		if snap, ok := s.levelCh.Receive(); ok {
			s.applySnapshot(snap)
		}
		if s.closing != nil {
			if s.shutdown() {
				return
			}
		} else {
			s.dispatch()
		}
		s.w.metrics.gauges(s.loaded, len(s.protos), len(s.unloading), len(s.queue), len(s.occupied))

		select {
		case <-s.inbox.signal:
		case <-s.levelCh.C():
		case cmd := <-s.cmds:
			// Commands observe every ticket change made before they were sent.
			if snap, ok := s.levelCh.Receive(); ok {
				s.applySnapshot(snap)
			}
			cmd.execute(s)
		case <-unload.C:
			if s.closing == nil {
				s.unload(nil)
			}
		case <-save.C:
			if s.closing == nil {
				s.saveAll(nil)
			}
		}
	}
}

// shutdown drives the schedule to a stop once closing. It waits for running
// tasks, writes every chunk once and stops the workers. It returns true when
// the schedule is done.
func (s *schedule) shutdown() bool {
	if s.inflight > 0 {
		return false
	}
	if !s.saved {
		s.saved = true
		s.saveAll(nil)
		if s.inflight > 0 {
			return false
		}
	}
	close(s.reads)
	close(s.gens)
	close(s.writes)
	s.workers.Wait()
	close(s.closing.done)
	return true
}

// applySnapshot applies a new set of levels published by the ticket graph.
func (s *schedule) applySnapshot(snap ticket.Snapshot) {
	if snap.HasPriority {
		s.priority = snap.HighPriority
	}
	if snap.HasLevels {
		s.applyLevels(snap.Levels)
	}
	for i := range s.queue {
		s.queue[i].key = s.sortKey(s.queue[i].pos, s.queue[i].stage)
	}
	slices.SortStableFunc(s.queue, func(a, b entry) int { return a.key - b.key })
}

// applyLevels diffs the levels passed against the current ones. Chunks that
// are no longer reached are moved to the unload set, chunks that need a
// higher stage than before get tasks for every stage up to it.
func (s *schedule) applyLevels(next map[cube.ChunkPos]ticket.Level) {
	for pos := range s.levels {
		if _, ok := next[pos]; !ok {
			s.conf.Provider.Unwatch(pos)
			s.release(pos)
		}
	}
	old := s.levels
	s.levels = next
	for pos, l := range next {
		prev, ok := old[pos]
		oldRequired := stage.None
		if ok {
			oldRequired = stage.FromLevel(prev)
		} else {
			s.conf.Provider.Watch(pos)
			s.resurrect(pos)
		}
		required := stage.FromLevel(l)
		if required <= oldRequired {
			continue
		}
		m := s.mark(pos)
		for st := oldRequired + 1; st <= required; st++ {
			if m.isPending(st) || m.done >= st {
				continue
			}
			m.setPending(st)
			s.queue = append(s.queue, entry{pos: pos, stage: st})
		}
	}
}

// sortKey returns the key that orders a stage task in the queue. Lower levels
// come first, then lower stages. Tasks that a force ticket depends on come
// before all other tasks.
func (s *schedule) sortKey(pos cube.ChunkPos, st stage.Stage) int {
	key := int(s.levels[pos])*16 + int(st)
	for _, origin := range s.priority {
		d := pos.Chebyshev(origin)
		needed := stage.Full
		if d > 0 {
			needed = stage.Full.Dependency(d)
		}
		if st <= needed {
			return key - priorityOffset
		}
	}
	return key
}

func (s *schedule) mark(pos cube.ChunkPos) *taskMark {
	m, ok := s.marks[pos]
	if !ok {
		m = &taskMark{done: stage.None}
		s.marks[pos] = m
	}
	return m
}

// release moves the chunk at pos to the unload set. Chunks lent to a task are
// moved once the task completes.
func (s *schedule) release(pos cube.ChunkPos) {
	if _, ok := s.occupied[pos]; ok {
		return
	}
	delete(s.marks, pos)
	if p, ok := s.protos[pos]; ok {
		delete(s.protos, pos)
		s.unloading[pos] = &unloadEntry{proto: p}
		return
	}
	if h, ok := s.w.loadedHandle(pos); ok {
		s.w.chunks.Delete(pos)
		s.loaded--
		s.unloading[pos] = &unloadEntry{handle: h}
	}
}

// resurrect moves a chunk waiting to be unloaded back into memory. A write
// still running for it is ignored once it completes.
func (s *schedule) resurrect(pos cube.ChunkPos) {
	u, ok := s.unloading[pos]
	if !ok {
		return
	}
	delete(s.unloading, pos)
	if u.handle != nil {
		s.w.chunks.Store(pos, u.handle)
		s.loaded++
		s.w.lsn.notify(pos, stage.Full, u.handle)
		s.w.resolve(pos, u.handle)
	} else {
		s.protos[pos] = u.proto
	}
	s.mark(pos).done = u.stage()
}

// dispatch scans the queue front to back and hands out every task whose
// dependencies are met. Tasks no longer needed are dropped.
func (s *schedule) dispatch() {
	var (
		batch    []cube.ChunkPos
		readFull bool
		genFull  bool
	)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.reads <- readTask{positions: batch}
		s.inflight++
		batch = nil
	}

	kept := s.queue[:0]
	for _, e := range s.queue {
		l, ok := s.levels[e.pos]
		m := s.marks[e.pos]
		if !ok || m == nil || e.stage > stage.FromLevel(l) || m.done >= e.stage {
			if m != nil {
				m.clearPending(e.stage)
			}
			continue
		}
		if e.stage == stage.Empty {
			if _, busy := s.occupied[e.pos]; busy || readFull {
				kept = append(kept, e)
				continue
			}
			if len(batch) == 0 && len(s.reads) == cap(s.reads) {
				readFull = true
				s.saturated("read")
				kept = append(kept, e)
				continue
			}
			s.occupied[e.pos] = struct{}{}
			batch = append(batch, e.pos)
			if len(batch) == readBatchSize {
				flush()
			}
			continue
		}
		if genFull || !s.ready(e) {
			kept = append(kept, e)
			continue
		}
		if len(s.gens) == cap(s.gens) {
			genFull = true
			s.saturated("generator")
			kept = append(kept, e)
			continue
		}
		cache, ok := s.borrow(e)
		if !ok {
			kept = append(kept, e)
			continue
		}
		s.gens <- genTask{entry: e, cache: cache}
		s.inflight++
	}
	flush()
	clear(s.queue[len(kept):])
	s.queue = kept
}

// ready checks if every chunk in the read radius of the task has reached the
// stage it depends on and if no chunk in the write radius is lent out.
func (s *schedule) ready(e entry) bool {
	ok := true
	cube.Square(e.pos, e.stage.Radius(), func(pos cube.ChunkPos) {
		m, found := s.marks[pos]
		if !ok || !found || m.done < e.stage.Dependency(pos.Chebyshev(e.pos)) {
			ok = false
		}
	})
	cube.Square(e.pos, e.stage.WriteRadius(), func(pos cube.ChunkPos) {
		if _, busy := s.occupied[pos]; busy {
			ok = false
		}
	})
	return ok
}

// borrow lends the chunks in the write radius of the task to a Cache and
// marks them as occupied.
func (s *schedule) borrow(e entry) (*Cache, bool) {
	radius := e.stage.WriteRadius()
	cache := newCache(e.pos, radius, s.conf.Range)
	ok := true
	cube.Square(e.pos, radius, func(pos cube.ChunkPos) {
		if p, found := s.protos[pos]; found {
			cache.add(slot{pos: pos, proto: p})
		} else if h, found := s.w.loadedHandle(pos); found {
			cache.add(slot{pos: pos, handle: h})
		} else {
			ok = invariant.Check(false, "chunk %v missing from window of %v at stage %v", pos, e.pos, e.stage)
		}
	})
	if !ok || !invariant.Check(cache.centre().proto != nil, "stage %v dispatched for finished chunk %v", e.stage, e.pos) {
		return nil, false
	}
	window := make([]cube.ChunkPos, 0, len(cache.slots))
	for _, sl := range cache.slots {
		s.occupied[sl.pos] = struct{}{}
		window = append(window, sl.pos)
	}
	if s.dispatched != nil {
		s.dispatched(s, e, window)
	}
	return cache, true
}

func (s *schedule) saturated(pool string) {
	n := s.w.metrics.saturated()
	if s.limiter.Allow() {
		s.log.Warn("world "+pool+" queue saturated: chunk work backlog detected.", "saturations", n, "queue_size", s.conf.QueueSize, "queued_tasks", len(s.queue))
	}
}

// applyRead stores the chunks read by a read task.
func (s *schedule) applyRead(results []readResult) {
	for _, r := range results {
		delete(s.occupied, r.pos)
		m := s.marks[r.pos]
		if m != nil {
			m.clearPending(stage.Empty)
		}
		if _, wanted := s.levels[r.pos]; !wanted || m == nil {
			delete(s.marks, r.pos)
			if !r.fresh {
				s.unloading[r.pos] = &unloadEntry{handle: r.handle, proto: r.proto}
			}
			continue
		}
		st := stage.Full
		if r.handle != nil {
			s.w.chunks.Store(r.pos, r.handle)
			s.loaded++
		} else {
			s.protos[r.pos] = r.proto
			st = r.proto.Stage()
		}
		m.done = st
		s.w.metrics.completed(stage.Empty)
		s.notify(r.pos, st, r.handle)
	}
}

// applyStage returns the chunks of a finished generation task.
func (s *schedule) applyStage(t genTask, h *Handle) {
	window := make([]cube.ChunkPos, 0, len(t.cache.slots))
	for _, sl := range t.cache.slots {
		delete(s.occupied, sl.pos)
		window = append(window, sl.pos)
	}
	if s.completed != nil {
		s.completed(s, t.entry, window)
	}
	pos := t.entry.pos
	if h != nil {
		delete(s.protos, pos)
		s.w.chunks.Store(pos, h)
		s.loaded++
	}
	if m, ok := s.marks[pos]; ok {
		m.clearPending(t.entry.stage)
		m.done = t.entry.stage
	}
	s.w.metrics.completed(t.entry.stage)
	s.notify(pos, t.entry.stage, h)

	for _, p := range window {
		if _, wanted := s.levels[p]; !wanted {
			s.release(p)
		}
	}
}

func (s *schedule) notify(pos cube.ChunkPos, st stage.Stage, h *Handle) {
	s.w.Handler().HandleStage(pos, st)
	s.w.lsn.notify(pos, st, h)
	if h != nil {
		s.w.resolve(pos, h)
	}
}

// unload writes every chunk in the unload set that is not referenced any
// longer. done, if not nil, is called once every write finished.
func (s *schedule) unload(done func()) {
	var records []writeRecord
	for pos, u := range s.unloading {
		if u.writing {
			continue
		}
		if u.handle != nil && u.handle.referenced() {
			s.log.Debug("unload chunk: still referenced, retrying later", "X", pos[0], "Z", pos[1])
			continue
		}
		if s.conf.ReadOnly {
			s.finishUnload(pos, u)
			continue
		}
		rec := writeRecord{pos: pos, unload: u}
		if u.proto != nil {
			rec.proto = u.proto.Clone()
		} else {
			rec.handle = u.handle
		}
		u.writing = true
		records = append(records, rec)
	}
	s.write(records, false, done)
}

// saveAll writes every chunk in memory that is not lent to a task. Chunks
// waiting to be unloaded are removed once written.
func (s *schedule) saveAll(done func()) {
	if s.conf.ReadOnly {
		if done != nil {
			done()
		}
		return
	}
	var records []writeRecord
	for pos, u := range s.unloading {
		if u.writing || (u.handle != nil && u.handle.referenced()) {
			continue
		}
		rec := writeRecord{pos: pos, unload: u, handle: u.handle}
		if u.proto != nil {
			rec.proto = u.proto.Clone()
		}
		u.writing = true
		records = append(records, rec)
	}
	for pos, p := range s.protos {
		if _, busy := s.occupied[pos]; !busy {
			records = append(records, writeRecord{pos: pos, proto: p.Clone()})
		}
	}
	s.w.chunks.Range(func(key, value any) bool {
		records = append(records, writeRecord{pos: key.(cube.ChunkPos), handle: value.(*Handle)})
		return true
	})
	s.write(records, true, done)
}

// write hands records to the write workers in batches. Reads of the chunks
// written block until the writes complete. done, if not nil, is called on the
// schedule goroutine once every batch was applied.
func (s *schedule) write(records []writeRecord, block bool, done func()) {
	b := &writeBatch{done: done}
	for recs := range slices.Chunk(records, writeBatchSize) {
		for _, rec := range recs {
			s.excl.add(rec.pos)
		}
		task := writeTask{records: recs, batch: b}
		if !block {
			select {
			case s.writes <- task:
			default:
				// Stalled: the chunks stay in the unload set for the next sweep.
				s.saturated("write")
				for _, rec := range recs {
					s.excl.done(rec.pos)
					if rec.unload != nil {
						rec.unload.writing = false
					}
				}
				continue
			}
		} else {
			s.writes <- task
		}
		b.remaining++
		s.inflight++
	}
	if b.remaining == 0 && done != nil {
		done()
	}
}

// applyWrite removes the chunks of the unload set that were written, unless
// they were brought back in the meantime.
func (s *schedule) applyWrite(t writeTask, failed map[cube.ChunkPos]bool) {
	defer t.batch.finish()
	for _, rec := range t.records {
		if rec.unload == nil {
			continue
		}
		u, ok := s.unloading[rec.pos]
		if !ok || u != rec.unload {
			continue
		}
		if failed[rec.pos] {
			u.writing = false
			continue
		}
		s.finishUnload(rec.pos, u)
	}
}

func (s *schedule) finishUnload(pos cube.ChunkPos, u *unloadEntry) {
	delete(s.unloading, pos)
	s.w.Handler().HandleUnload(pos)
}
