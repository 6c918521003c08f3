// Package anvil implements a world.Provider storing chunks in region files.
// Every region file holds a square of 32x32 chunks and is named r.X.Z.mca
// after the region coordinates. Chunks are zlib compressed.
package anvil

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world"
)

// ErrReadOnly is returned by Provider.Store if the Provider was opened
// read-only.
var ErrReadOnly = errors.New("anvil: provider is read-only")

// Config holds the settings of a Provider.
type Config struct {
	// Log is the Logger used to report errors when closing region files. If
	// nil, slog.Default() is used.
	Log *slog.Logger
	// ReadOnly opens region files read-only. Store returns ErrReadOnly.
	ReadOnly bool
}

// Open opens a Provider storing region files in dir. The directory is
// created if it does not exist and the Provider is not read-only.
func (conf Config) Open(dir string) (*Provider, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if !conf.ReadOnly {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return nil, fmt.Errorf("open anvil provider: %w", err)
		}
	}
	return &Provider{conf: conf, dir: dir, regions: make(map[regionPos]*regionRef)}, nil
}

// Open opens a Provider in dir using the default Config.
func Open(dir string) (*Provider, error) {
	var conf Config
	return conf.Open(dir)
}

type regionPos [2]int32

func regionOf(pos cube.ChunkPos) regionPos {
	return regionPos{pos[0] >> 5, pos[1] >> 5}
}

// regionRef is a region file that is kept open while its chunks are watched
// or while a Fetch or Store uses it.
type regionRef struct {
	r    *region
	refs int
}

// Provider implements world.Provider using region files. Region files of
// watched chunks are kept open until the last chunk in them is unwatched.
// Other region files are opened for the duration of a Fetch or Store only.
type Provider struct {
	conf Config
	dir  string

	mu      sync.Mutex
	regions map[regionPos]*regionRef
	closed  bool
}

func (p *Provider) path(rp regionPos) string {
	return filepath.Join(p.dir, fmt.Sprintf("r.%d.%d.mca", rp[0], rp[1]))
}

// acquire returns the open region at rp, opening it if needed. If create is
// false and the region file does not exist, acquire returns nil without an
// error. A region returned must be released.
func (p *Provider) acquire(rp regionPos, create bool) (*region, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, world.ErrClosed
	}
	ref, ok := p.regions[rp]
	if !ok {
		ref = &regionRef{}
		p.regions[rp] = ref
	}
	if ref.r == nil {
		r, err := openRegion(p.path(rp), create, p.conf.ReadOnly)
		if err != nil {
			if ref.refs == 0 {
				delete(p.regions, rp)
			}
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, err
		}
		ref.r = r
	}
	ref.refs++
	return ref.r, nil
}

// release drops a reference to the region at rp, closing it if it was the
// last one.
func (p *Provider) release(rp regionPos) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref, ok := p.regions[rp]
	if !ok {
		return
	}
	if ref.refs--; ref.refs > 0 {
		return
	}
	delete(p.regions, rp)
	if ref.r != nil {
		if err := ref.r.close(); err != nil {
			p.conf.Log.Error("close region: "+err.Error(), "X", rp[0], "Z", rp[1])
		}
	}
}

// Fetch ...
func (p *Provider) Fetch(positions []cube.ChunkPos) iter.Seq[world.FetchResult] {
	return func(yield func(world.FetchResult) bool) {
		for _, pos := range positions {
			data, err := p.load(pos)
			if !yield(world.FetchResult{Pos: pos, Data: data, Err: err}) {
				return
			}
		}
	}
}

func (p *Provider) load(pos cube.ChunkPos) ([]byte, error) {
	rp := regionOf(pos)
	r, err := p.acquire(rp, false)
	if err != nil {
		return nil, fmt.Errorf("read chunk %v: %w", pos, err)
	} else if r == nil {
		return nil, nil
	}
	defer p.release(rp)
	data, err := r.read(chunkIndex(pos))
	if err != nil {
		return nil, fmt.Errorf("read chunk %v: %w", pos, err)
	}
	return data, nil
}

// Store ...
func (p *Provider) Store(records []world.Record) error {
	if p.conf.ReadOnly {
		return ErrReadOnly
	}
	var errs []error
	for _, rec := range records {
		rp := regionOf(rec.Pos)
		r, err := p.acquire(rp, rec.Data != nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("write chunk %v: %w", rec.Pos, err))
			continue
		} else if r == nil {
			// Removing a chunk from a region that does not exist.
			continue
		}
		if err := r.write(chunkIndex(rec.Pos), rec.Data); err != nil {
			errs = append(errs, fmt.Errorf("write chunk %v: %w", rec.Pos, err))
		}
		p.release(rp)
	}
	return errors.Join(errs...)
}

// Watch keeps the region file of pos open until Unwatch is called for every
// watched chunk in it. Region files that do not yet exist are opened when
// first used.
func (p *Provider) Watch(pos cube.ChunkPos) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	rp := regionOf(pos)
	ref, ok := p.regions[rp]
	if !ok {
		ref = &regionRef{}
		p.regions[rp] = ref
	}
	ref.refs++
}

// Unwatch ...
func (p *Provider) Unwatch(pos cube.ChunkPos) {
	p.release(regionOf(pos))
}

// OpenRegions returns the amount of regions currently held by the Provider.
func (p *Provider) OpenRegions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regions)
}

// Close closes all open region files. Close is idempotent.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for rp, ref := range p.regions {
		if ref.r != nil {
			errs = append(errs, ref.r.close())
		}
		delete(p.regions, rp)
	}
	return errors.Join(errs...)
}

func chunkIndex(pos cube.ChunkPos) int {
	return int(pos[0]&31) + int(pos[1]&31)*32
}
