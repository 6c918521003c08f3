package ticket

import "github.com/df-mc/chunkflow/server/block/cube"

type node struct {
	pos   cube.ChunkPos
	level Level
}

// levelHeap is a min-heap of nodes ordered by level, used by container/heap.
type levelHeap []node

func (h levelHeap) Len() int           { return len(h) }
func (h levelHeap) Less(i, j int) bool { return h[i].level < h[j].level }
func (h levelHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *levelHeap) Push(x any)        { *h = append(*h, x.(node)) }
func (h *levelHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}
