package world

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generator"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"golang.org/x/time/rate"
)

// Config may be used to create a new World. It holds a variety of fields that
// influence the World.
type Config struct {
	// Log is the Logger used to log errors and debug information. If left
	// nil, Log is set to slog.Default().
	Log *slog.Logger
	// Provider is the Provider implementation used to read and write chunks.
	// If left empty, the World will use NopProvider and chunks will not be
	// persisted.
	Provider Provider
	// ReadOnly specifies if the World should be read-only, meaning no new
	// data will be written to the Provider.
	ReadOnly bool
	// Generator is the generator.Generator used to generate chunks that are
	// not found in the Provider. If left empty, a flat generator is used.
	Generator generator.Generator
	// Seed is the world seed passed to generation content through the random
	// source of the Features stage.
	Seed int64
	// Range is the height range of the World. It defaults to [-64, 319].
	Range cube.Range
	// Air and Biome are the block and biome IDs that new chunks are filled
	// with. Properties classifies block IDs for height maps. If nil, only Air
	// is treated as empty.
	Air, Biome uint32
	Properties chunk.BlockProperties
	// ReadWorkers and WriteWorkers are the amount of goroutines reading and
	// writing chunks from and to the Provider. Both default to 2.
	ReadWorkers, WriteWorkers int
	// GeneratorWorkers controls the number of workers running generation
	// stages. If set to 0 or lower, the worker count will be derived from the
	// host's available CPUs.
	GeneratorWorkers int
	// QueueSize limits how many tasks may wait for each pool of workers. If
	// the limit is reached, the World stops handing out work until a worker
	// becomes available. If set to 0 or lower, a size proportional to the
	// worker count is chosen.
	QueueSize int
	// SaveInterval is the interval at which every chunk in memory is saved.
	// It defaults to 5 minutes. A negative value disables autosaving.
	SaveInterval time.Duration
	// UnloadInterval is the interval at which chunks no longer reached by any
	// ticket are written and removed from memory. It defaults to 2 seconds.
	UnloadInterval time.Duration
	// TickInterval is the interval at which the current tick of the World is
	// advanced and scheduled ticks are handed to the Handler. It defaults to
	// 50ms. A negative value disables ticking.
	TickInterval time.Duration
	// ViewDistance is the view distance in chunks of Loaders that do not set
	// their own. It defaults to 8.
	ViewDistance int
}

// New creates a new World using the Config conf. The World returned will
// start running right away and must be closed using World.Close.
func (conf Config) New() *World {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Provider == nil {
		conf.Provider = NopProvider{}
	}
	if conf.Generator == nil {
		conf.Generator = generator.NewFlat(conf.Biome)
	}
	if conf.Range == (cube.Range{}) {
		conf.Range = cube.Range{-64, 319}
	}
	if conf.Range.Min()&15 != 0 || (conf.Range.Max()+1)&15 != 0 || conf.Range.Max() < conf.Range.Min() {
		panic(fmt.Sprintf("world: height range %v is not aligned to sub chunks", conf.Range))
	}
	if conf.Properties == nil {
		conf.Properties = chunk.AirProperties(conf.Air)
	}
	if conf.ReadWorkers <= 0 {
		conf.ReadWorkers = 2
	}
	if conf.WriteWorkers <= 0 {
		conf.WriteWorkers = 2
	}
	if conf.GeneratorWorkers <= 0 {
		conf.GeneratorWorkers = max(runtime.NumCPU()-1, 1)
	}
	if conf.QueueSize <= 0 {
		conf.QueueSize = 4 * max(conf.GeneratorWorkers, conf.ReadWorkers)
	}
	if conf.SaveInterval == 0 {
		conf.SaveInterval = time.Minute * 5
	}
	if conf.UnloadInterval <= 0 {
		conf.UnloadInterval = time.Second * 2
	}
	if conf.TickInterval == 0 {
		conf.TickInterval = time.Second / 20
	}
	if conf.ViewDistance <= 0 {
		conf.ViewDistance = 8
	}

	levels := ticket.NewLevelChannel()
	w := &World{
		conf:    conf,
		tickets: ticket.NewGraph(levels),
		closing: make(chan struct{}),
		futures: make(map[cube.ChunkPos]*future),
		lsn:     newListeners(),
		metrics: newMetrics(),
	}
	h := Handler(NopHandler{})
	w.handler.Store(&h)
	w.sched = newSchedule(w, levels, rate.NewLimiter(rate.Every(time.Minute), 1))
	w.sched.start()
	if conf.TickInterval > 0 {
		w.running.Add(1)
		go ticker{interval: conf.TickInterval}.tickLoop(w)
	}
	return w
}
