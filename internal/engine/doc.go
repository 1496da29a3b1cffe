// Package engine implements per-modality frame registration and temporal
// correlation for multi-sensor capture.
//
// ARCHITECTURE:
//
// Registration path (producer goroutines):
// Each capture producer calls Register* on its own goroutine. A call stamps
// the sample (hardware timestamp or MasterClock.Now), inserts it into the
// modality's FrameLog, and submits a correlation task to the shared
// correlation pool. Insert is O(1) and submission never blocks; a full pool
// drops the correlation and counts a dropped frame.
//
// Correlation path (pool workers):
// A task scans the partner log for the nearest record within the correlation
// window (ties go to the earliest-inserted record). Video and raw frames are
// partners of each other; bio-signal samples are matched to the nearest video
// frame within the narrower bio window. A discovered pair is keyed by
// (video timestamp, raw timestamp) and counted once, whichever side found it,
// so registration order never changes the pairing decision.
//
// Maintenance path (maintenance pool):
// Prune drops records older than the buffer horizon. Records referenced by an
// in-flight correlation task are kept until the task finishes.
//
// Statistics are atomics updated under a shared read lock; only the Metrics
// snapshot takes the write lock. No producer call ever returns an error.
package engine
