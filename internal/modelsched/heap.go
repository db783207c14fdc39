package modelsched

import (
	"container/heap"
	"encoding/json"
)

type entry struct {
	epoch   float64
	payload json.RawMessage
	seq     uint64 // submission order; breaks epoch ties
}

// entryHeap is a min-heap on (epoch, seq).
type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].epoch != h[j].epoch {
		return h[i].epoch < h[j].epoch
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

func (h *entryHeap) push(e entry) { heap.Push(h, e) }

func (h *entryHeap) pop() entry { return heap.Pop(h).(entry) }
