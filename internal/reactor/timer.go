package reactor

import (
	"sync/atomic"
	"time"
)

// TimerID identifies a scheduled timer. Ids are monotonic and never reused.
type TimerID uint64

type timer struct {
	id        TimerID
	when      time.Time
	period    time.Duration
	repeating bool
	task      Task
	// canceled is checked right before the task runs, so cancelling a timer
	// that already expired in the current iteration still takes effect.
	canceled atomic.Bool
	// index of the timer in the heap, -1 once popped.
	index int
}

// timerHeap is a min-heap ordered by expiry. It implements heap.Interface.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]

	return t
}
