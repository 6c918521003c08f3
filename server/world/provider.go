package world

import (
	"io"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/df-mc/chunkflow/server/block/cube"
)

// Provider represents a value that may provide world data to a World value.
// It stores the encoded data of chunks. Implementations are called from
// several goroutines at once and must be safe for concurrent use.
type Provider interface {
	io.Closer
	// Fetch looks up the chunks at the positions passed. Exactly one
	// FetchResult is yielded for every position. A FetchResult with neither
	// Data nor Err set means that the chunk does not exist.
	Fetch(positions []cube.ChunkPos) iter.Seq[FetchResult]
	// Store writes the records passed. Records with a nil Data slice remove
	// the chunk.
	Store(records []Record) error
	// Watch is called when a chunk at pos becomes wanted by the World. It may
	// be used to keep resources for the chunk open while it is in use.
	Watch(pos cube.ChunkPos)
	// Unwatch is called once a chunk watched earlier is no longer wanted.
	Unwatch(pos cube.ChunkPos)
}

// FetchResult is the result of fetching a single chunk.
type FetchResult struct {
	Pos  cube.ChunkPos
	Data []byte
	Err  error
}

// Missing checks if the chunk fetched does not exist.
func (r FetchResult) Missing() bool {
	return r.Data == nil && r.Err == nil
}

// Record is an encoded chunk to be stored by a Provider.
type Record struct {
	Pos  cube.ChunkPos
	Data []byte
}

// NopProvider implements a Provider that does not perform any disk I/O. It
// reports every chunk as missing and discards writes.
type NopProvider struct{}

func (NopProvider) Fetch(positions []cube.ChunkPos) iter.Seq[FetchResult] {
	return func(yield func(FetchResult) bool) {
		for _, pos := range positions {
			if !yield(FetchResult{Pos: pos}) {
				return
			}
		}
	}
}

func (NopProvider) Store([]Record) error  { return nil }
func (NopProvider) Watch(cube.ChunkPos)   {}
func (NopProvider) Unwatch(cube.ChunkPos) {}
func (NopProvider) Close() error          { return nil }

// MemoryProvider is a Provider that keeps chunks in memory. It is mostly
// useful for tests, as it counts the amount of times each chunk was stored
// and how often chunks are watched.
type MemoryProvider struct {
	mu      sync.Mutex
	data    map[cube.ChunkPos][]byte
	stores  map[cube.ChunkPos]int
	watched map[cube.ChunkPos]int
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		data:    make(map[cube.ChunkPos][]byte),
		stores:  make(map[cube.ChunkPos]int),
		watched: make(map[cube.ChunkPos]int),
	}
}

// Fetch ...
func (m *MemoryProvider) Fetch(positions []cube.ChunkPos) iter.Seq[FetchResult] {
	return func(yield func(FetchResult) bool) {
		for _, pos := range positions {
			m.mu.Lock()
			data := m.data[pos]
			m.mu.Unlock()
			if !yield(FetchResult{Pos: pos, Data: slices.Clone(data)}) {
				return
			}
		}
	}
}

// Store ...
func (m *MemoryProvider) Store(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.stores[r.Pos]++
		if r.Data == nil {
			delete(m.data, r.Pos)
			continue
		}
		m.data[r.Pos] = slices.Clone(r.Data)
	}
	return nil
}

// Watch ...
func (m *MemoryProvider) Watch(pos cube.ChunkPos) {
	m.mu.Lock()
	m.watched[pos]++
	m.mu.Unlock()
}

// Unwatch ...
func (m *MemoryProvider) Unwatch(pos cube.ChunkPos) {
	m.mu.Lock()
	if m.watched[pos]--; m.watched[pos] <= 0 {
		delete(m.watched, pos)
	}
	m.mu.Unlock()
}

// Has checks if a chunk is stored at pos.
func (m *MemoryProvider) Has(pos cube.ChunkPos) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[pos]
	return ok
}

// Stores returns how often the chunk at pos was written.
func (m *MemoryProvider) Stores(pos cube.ChunkPos) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[pos]
}

// Watched returns the positions currently watched.
func (m *MemoryProvider) Watched() []cube.ChunkPos {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.SortedFunc(maps.Keys(m.watched), cube.ChunkPos.Compare)
}

// Close ...
func (m *MemoryProvider) Close() error { return nil }
