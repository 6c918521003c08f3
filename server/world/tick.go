package world

import (
	"math"
	"time"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world/chunk"
)

// ticker implements World ticking methods.
type ticker struct {
	interval time.Duration
}

const (
	tpsSampleSize       = 20
	tpsWarningThreshold = 19.0
)

// tickLoop advances the current tick of the World every interval and hands
// the scheduled ticks that are due to the Handler.
func (t ticker) tickLoop(w *World) {
	defer w.running.Done()

	tc := time.NewTicker(t.interval)
	defer tc.Stop()
	lastTick := time.Now()
	target := 1.0 / t.interval.Seconds()
	var (
		durationSum time.Duration
		ticksCount  int
		warned      bool
	)
	for {
		select {
		case <-tc.C:
			tickStart := time.Now()
			duration := tickStart.Sub(lastTick)
			lastTick = tickStart
			if duration > 0 {
				durationSum += duration
				ticksCount++
				if ticksCount >= tpsSampleSize {
					tps := 1.0 / (durationSum / time.Duration(ticksCount)).Seconds()
					w.tps.Store(math.Float64bits(tps))
					if tps < min(tpsWarningThreshold, target*0.95) {
						if !warned {
							w.conf.Log.Warn("TPS dropped below threshold.", "tps", tps)
							warned = true
						}
					} else {
						warned = false
					}
					durationSum, ticksCount = 0, 0
				}
			}
			t.tick(w)
		case <-w.closing:
			return
		}
	}
}

// tick advances the current tick and runs the scheduled ticks of every loaded
// chunk that are due.
func (t ticker) tick(w *World) {
	tick := w.tick.Add(1)
	h := w.Handler()
	w.chunks.Range(func(key, value any) bool {
		pos, handle := key.(cube.ChunkPos), value.(*Handle)
		block, fluid := handle.dueTicks(tick)
		if len(block) > 0 || len(fluid) > 0 {
			h.HandleTick(pos, block, fluid)
		}
		return true
	})
}

// dueTicks removes and returns the scheduled block and fluid ticks of the
// chunk due at tick.
func (h *Handle) dueTicks(tick int64) (block, fluid []chunk.ScheduledTick) {
	h.mu.Lock()
	defer h.mu.Unlock()
	block, fluid = h.c.BlockTicks.Due(tick), h.c.FluidTicks.Due(tick)
	if len(block) > 0 || len(fluid) > 0 {
		h.c.MarkDirty()
	}
	return block, fluid
}
