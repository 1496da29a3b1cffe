package engine

import (
	"sync/atomic"
	"time"
)

const latencyWindow = 100

// latencyRing keeps the last latencyWindow registration-to-correlation
// latencies of one modality. Writers never block each other.
type latencyRing struct {
	slots [latencyWindow]atomic.Int64
	next  atomic.Uint64
}

func (r *latencyRing) record(d time.Duration) {
	i := r.next.Add(1) - 1
	r.slots[i%latencyWindow].Store(int64(d))
}

// average returns the mean of the filled slots in nanoseconds.
func (r *latencyRing) average() float64 {
	n := r.next.Load()
	if n == 0 {
		return 0
	}
	if n > latencyWindow {
		n = latencyWindow
	}
	var sum int64
	for i := uint64(0); i < n; i++ {
		sum += r.slots[i].Load()
	}
	return float64(sum) / float64(n)
}
