package engine

import "sync/atomic"

// Sequence is a per-modality sample counter.
//
// Producers that do not supply their own sequence number (video frames,
// bio-signal samples) are stamped from the modality's Sequence. The counter
// starts at 0 and the first Next returns 1.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	n atomic.Uint64
}

// NewSequenceAt creates a counter whose next value is start+1.
func NewSequenceAt(start uint64) *Sequence {
	s := &Sequence{}
	s.n.Store(start)
	return s
}

// Next returns the next sequence number.
// Calls are linearizable: each call returns a unique, increasing value.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the last issued number without incrementing.
func (s *Sequence) Current() uint64 {
	return s.n.Load()
}
