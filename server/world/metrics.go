package world

import (
	"sync"

	"github.com/df-mc/chunkflow/server/world/stage"
)

// Stats holds counters describing the chunks of a World and the work done on
// them.
type Stats struct {
	// Loaded, Proto and Unloading are the amount of finished chunks, chunks
	// being generated and chunks waiting to be written and removed.
	Loaded, Proto, Unloading int
	// Queued is the amount of stage tasks waiting to be handed out. Occupied
	// is the amount of chunks lent to running tasks.
	Queued, Occupied int
	// Loaders is the amount of Loaders that are not closed.
	Loaders int

	// Reads counts chunks read from the Provider, Misses the chunks that did
	// not exist and ReadErrors the chunks that could not be read or decoded.
	Reads, Misses, ReadErrors uint64
	// Repaired counts block and biome cells with invalid palette indices
	// replaced while decoding.
	Repaired uint64
	// Writes and WriteErrors count chunks written to the Provider.
	Writes, WriteErrors uint64
	// Stages counts the completions of every stage.
	Stages [stage.Count]uint64
	// Panics counts generation tasks that panicked.
	Panics uint64
	// Saturated counts the times a worker queue was full when work was
	// ready to be handed out.
	Saturated uint64
}

// metrics collects Stats. The methods of a nil *metrics are no-ops.
type metrics struct {
	mu sync.Mutex
	s  Stats
}

func newMetrics() *metrics {
	return &metrics{}
}

func (m *metrics) update(f func(s *Stats)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	f(&m.s)
	m.mu.Unlock()
}

func (m *metrics) read(missing bool, err error, repaired int) {
	m.update(func(s *Stats) {
		switch {
		case err != nil:
			s.ReadErrors++
		case missing:
			s.Misses++
		default:
			s.Reads++
		}
		s.Repaired += uint64(repaired)
	})
}

func (m *metrics) wrote(n int, err error) {
	m.update(func(s *Stats) {
		if err != nil {
			s.WriteErrors += uint64(n)
			return
		}
		s.Writes += uint64(n)
	})
}

func (m *metrics) completed(st stage.Stage) {
	if !st.Valid() {
		return
	}
	m.update(func(s *Stats) { s.Stages[st]++ })
}

func (m *metrics) panicked() {
	m.update(func(s *Stats) { s.Panics++ })
}

func (m *metrics) saturated() uint64 {
	var n uint64
	m.update(func(s *Stats) {
		s.Saturated++
		n = s.Saturated
	})
	return n
}

func (m *metrics) gauges(loaded, proto, unloading, queued, occupied int) {
	m.update(func(s *Stats) {
		s.Loaded, s.Proto, s.Unloading, s.Queued, s.Occupied = loaded, proto, unloading, queued, occupied
	})
}

func (m *metrics) snapshot() Stats {
	if m == nil {
		return Stats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}
