// Package clock provides the process master clock.
//
// MasterClock is the single authoritative monotonic nanosecond time source for
// every capture producer and consumer in the process. It is an explicit service
// instance: construct one at startup and hand it to whoever needs time. Tests
// construct their own isolated clock around a manual Source.
//
// Jitter suppression: a fresh hardware reading only replaces the reference
// when it differs from the current reference by more than the drift threshold
// (default 1ms). Readings that would move the reference backwards by more than
// the threshold are rejected, so no reader ever observes time running backwards.
//
// Thread-safety: all methods are safe for concurrent use. The reference is an
// atomic value updated by compare-and-swap; nothing blocks.
package clock

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/capsync/internal/model"
)

// DefaultDriftThreshold is the minimum hardware/reference difference that
// causes the reference to move.
const DefaultDriftThreshold = int64(time.Millisecond)

// significantCorrection triggers a warning when a single correction is this large.
const significantCorrection = int64(10 * time.Millisecond)

// Source is a hardware monotonic clock.
type Source interface {
	Now() (int64, error)
}

// MasterClock is the corrected, monotonic process time reference.
type MasterClock struct {
	src       Source
	threshold int64
	logger    *slog.Logger

	initOnce sync.Once
	ref      atomic.Int64
	initRef  atomic.Int64

	degraded     atomic.Bool
	fallbackMu   sync.Mutex
	fallbackBase int64
	fallbackAt   time.Time

	corrections atomic.Uint64
	rejected    atomic.Uint64
}

// Option configures a MasterClock.
type Option func(*MasterClock)

// WithDriftThreshold overrides DefaultDriftThreshold.
func WithDriftThreshold(ns int64) Option {
	return func(c *MasterClock) {
		if ns >= 0 {
			c.threshold = ns
		}
	}
}

// WithLogger sets the logger used for degraded-mode and correction warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *MasterClock) {
		c.logger = logger
	}
}

// New creates a master clock over src. A nil src selects HardwareSource().
// The clock seeds itself lazily on first use; call Initialize to seed eagerly.
func New(src Source, opts ...Option) *MasterClock {
	if src == nil {
		src = HardwareSource()
	}
	c := &MasterClock{
		src:       src,
		threshold: DefaultDriftThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize seeds the reference from the hardware source and returns it.
// Idempotent: later calls return the original seed. If the hardware clock is
// unavailable the clock switches to a process-relative counter and logs a
// degraded-mode warning; it never fails.
func (c *MasterClock) Initialize() model.Timestamp {
	c.initOnce.Do(func() {
		raw, err := c.src.Now()
		if err != nil {
			c.logger.Warn("clock: hardware source unavailable, using process-relative counter",
				"error", err)
			c.enterDegraded(0)
			raw = c.fallbackNow()
		}
		c.ref.Store(raw)
		c.initRef.Store(raw)
		c.logger.Debug("clock: master reference initialized", "reference_ns", raw)
	})
	return model.Timestamp(c.initRef.Load())
}

// Now returns the current corrected monotonic time.
func (c *MasterClock) Now() model.Timestamp {
	c.Initialize()
	c.UpdateFromHardware(c.read())
	return model.Timestamp(c.ref.Load())
}

// Refresh pulls a fresh hardware reading into the reference. Intended for the
// periodic maintenance task.
func (c *MasterClock) Refresh() {
	c.Initialize()
	c.UpdateFromHardware(c.read())
}

// UpdateFromHardware commits raw as the new reference when it is more than the
// drift threshold ahead of the current reference. Backward readings beyond the
// threshold are counted and dropped. Reports whether the reference moved.
func (c *MasterClock) UpdateFromHardware(raw int64) bool {
	c.Initialize()
	for {
		cur := c.ref.Load()
		diff := raw - cur
		if diff <= c.threshold && diff >= -c.threshold {
			return false
		}
		if diff < 0 {
			c.rejected.Add(1)
			c.logger.Debug("clock: rejected backward hardware reading",
				"reference_ns", cur, "raw_ns", raw)
			return false
		}
		if c.ref.CompareAndSwap(cur, raw) {
			c.corrections.Add(1)
			if diff > significantCorrection {
				c.logger.Warn("clock: significant drift corrected",
					"drift_ms", float64(diff)/float64(time.Millisecond))
			}
			return true
		}
	}
}

// Reference returns the initial seed of this run.
func (c *MasterClock) Reference() model.Timestamp {
	return c.Initialize()
}

// Uptime is the corrected time elapsed since Initialize.
func (c *MasterClock) Uptime() time.Duration {
	ref := c.Initialize()
	return time.Duration(c.Now().Sub(ref))
}

// Threshold returns the jitter-suppression threshold in nanoseconds.
func (c *MasterClock) Threshold() int64 {
	return c.threshold
}

// Stats is a point-in-time view of clock health.
type Stats struct {
	Reference        model.Timestamp `json:"reference_ns"`
	Current          model.Timestamp `json:"current_ns"`
	Corrections      uint64          `json:"corrections"`
	RejectedBackward uint64          `json:"rejected_backward"`
	Degraded         bool            `json:"degraded"`
}

// Stats returns a snapshot of the clock's counters.
func (c *MasterClock) Stats() Stats {
	ref := c.Initialize()
	return Stats{
		Reference:        ref,
		Current:          model.Timestamp(c.ref.Load()),
		Corrections:      c.corrections.Load(),
		RejectedBackward: c.rejected.Load(),
		Degraded:         c.degraded.Load(),
	}
}

// Degraded reports whether the clock fell back to the process counter.
func (c *MasterClock) Degraded() bool {
	return c.degraded.Load()
}

func (c *MasterClock) read() int64 {
	if c.degraded.Load() {
		return c.fallbackNow()
	}
	raw, err := c.src.Now()
	if err != nil {
		c.logger.Warn("clock: hardware read failed, switching to process-relative counter",
			"error", err)
		c.enterDegraded(c.ref.Load())
		return c.fallbackNow()
	}
	return raw
}

// enterDegraded anchors the fallback counter at base so that the switch does
// not move the reference backwards.
func (c *MasterClock) enterDegraded(base int64) {
	c.fallbackMu.Lock()
	defer c.fallbackMu.Unlock()
	if c.degraded.Load() {
		return
	}
	c.fallbackBase = base
	c.fallbackAt = time.Now()
	c.degraded.Store(true)
}

func (c *MasterClock) fallbackNow() int64 {
	c.fallbackMu.Lock()
	defer c.fallbackMu.Unlock()
	return c.fallbackBase + int64(time.Since(c.fallbackAt))
}
