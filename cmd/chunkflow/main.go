// Command chunkflow generates the chunks in a square around a position and
// stores them in the world configured.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/df-mc/chunkflow/server"
	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/console"
	"github.com/df-mc/chunkflow/server/world"
	"github.com/df-mc/chunkflow/server/world/stage"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func main() {
	var (
		configPath = flag.String("config", "config.toml", "path of the TOML or YAML configuration file")
		radius     = flag.Int("radius", 8, "radius in chunks of the square to generate")
		x          = flag.Int("x", 0, "chunk X of the centre of the square")
		z          = flag.Int("z", 0, "chunk Z of the centre of the square")
		timeout    = flag.Duration("timeout", 0, "maximum duration of the generation, 0 for none")
		interact   = flag.Bool("console", false, "read commands from stdin after generating")
	)
	flag.Parse()

	uc, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	lvl, err := uc.LogLevel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	conf, err := uc.Config(log)
	if err != nil {
		log.Error("load config: " + err.Error())
		os.Exit(1)
	}
	w := conf.New()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx := sigCtx
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	centre := cube.ChunkPos{int32(*x), int32(*z)}
	start := time.Now()
	n, err := generate(ctx, w, centre, *radius)
	elapsed := time.Since(start)
	if err != nil {
		log.Warn("generation interrupted: "+err.Error(), "done", n)
	}

	w.Save()
	printStats(w.Stats(), n, elapsed)
	if *interact {
		console.New(w, log).Run(sigCtx)
	}
	if err := w.Close(); err != nil {
		log.Error("close world: " + err.Error())
		os.Exit(1)
	}
}

// generate force-loads every chunk within radius of centre and waits until
// all of them are finished. It returns the amount of finished chunks.
func generate(ctx context.Context, w *world.World, centre cube.ChunkPos, radius int) (int, error) {
	var positions []cube.ChunkPos
	for dx := -radius; dx <= radius; dx++ {
		for dz := -radius; dz <= radius; dz++ {
			positions = append(positions, cube.ChunkPos{centre[0] + int32(dx), centre[1] + int32(dz)})
		}
	}
	for _, pos := range positions {
		w.AddForceTicket(pos)
	}
	defer func() {
		for _, pos := range positions {
			w.RemoveForceTicket(pos)
		}
	}()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		finished int
		firstErr error
	)
	sem := make(chan struct{}, 64)
	for _, pos := range positions {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			h, err := w.Chunk(ctx, pos)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			h.Release()
			finished++
		}()
	}
	wg.Wait()
	return finished, firstErr
}

func printStats(s world.Stats, n int, elapsed time.Duration) {
	p := message.NewPrinter(language.English)
	p.Printf("Generated %d chunks in %v (%.1f chunks/s).\n", n, elapsed.Round(time.Millisecond), float64(n)/max(elapsed.Seconds(), 1e-9))
	p.Printf("Reads: %d (missing %d, errors %d, repaired cells %d)\n", s.Reads, s.Misses, s.ReadErrors, s.Repaired)
	p.Printf("Writes: %d (errors %d)\n", s.Writes, s.WriteErrors)
	for _, st := range stage.All() {
		p.Printf("  %-10v %d\n", st, s.Stages[st])
	}
	p.Printf("Panics: %d, saturated queues: %d\n", s.Panics, s.Saturated)
}
