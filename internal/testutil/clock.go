package testutil

import (
	"sync"
	"time"
)

// ManualSource is a settable hardware clock for tests.
//
// Unlike the real hardware source, ManualSource only moves when told to, and
// can be made to fail so tests can drive the master clock's degraded mode.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualSource struct {
	mu  sync.Mutex
	now int64
	err error
}

// NewManualSource creates a source reading start nanoseconds.
func NewManualSource(start int64) *ManualSource {
	return &ManualSource{now: start}
}

// Now implements clock.Source.
func (s *ManualSource) Now() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.now, nil
}

// Set moves the source to an absolute reading, forwards or backwards.
func (s *ManualSource) Set(ns int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = ns
}

// Advance moves the source forward by d and returns the new reading.
func (s *ManualSource) Advance(d time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += int64(d)
	return s.now
}

// Fail makes every subsequent Now call return err. Pass nil to recover.
func (s *ManualSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
