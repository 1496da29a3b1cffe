package engine

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/capsync/internal/model"
)

type logEntry struct {
	rec   model.FrameRecord
	order uint64
}

// FrameLog is the append-only registration log of one modality, keyed by
// timestamp.
//
// Insert is O(1) and lock-free. Re-inserting under an existing timestamp
// replaces the record; producers only do that to correct a sample.
type FrameLog struct {
	modality model.Modality
	entries  sync.Map // model.Timestamp -> *logEntry
	order    atomic.Uint64
	size     atomic.Int64
}

// NewFrameLog creates an empty log for m.
func NewFrameLog(m model.Modality) *FrameLog {
	return &FrameLog{modality: m}
}

// Modality returns the modality this log holds.
func (l *FrameLog) Modality() model.Modality {
	return l.modality
}

// Insert stores rec under its timestamp.
func (l *FrameLog) Insert(rec model.FrameRecord) {
	e := &logEntry{rec: rec, order: l.order.Add(1)}
	if _, loaded := l.entries.Swap(rec.Timestamp, e); !loaded {
		l.size.Add(1)
	}
}

// Get returns the record stored under ts.
func (l *FrameLog) Get(ts model.Timestamp) (model.FrameRecord, bool) {
	v, ok := l.entries.Load(ts)
	if !ok {
		return model.FrameRecord{}, false
	}
	return v.(*logEntry).rec, true
}

// Nearest returns the record closest to ts within ±windowNs, inclusive.
// Among equally close records the earliest inserted wins.
func (l *FrameLog) Nearest(ts model.Timestamp, windowNs int64) (model.FrameRecord, uint64, bool) {
	var (
		best      *logEntry
		bestDrift uint64
	)
	limit := uint64(windowNs)
	l.entries.Range(func(_, v any) bool {
		e := v.(*logEntry)
		d := model.Drift(ts, e.rec.Timestamp)
		if d > limit {
			return true
		}
		if best == nil || d < bestDrift || (d == bestDrift && e.order < best.order) {
			best, bestDrift = e, d
		}
		return true
	})
	if best == nil {
		return model.FrameRecord{}, 0, false
	}
	return best.rec, bestDrift, true
}

// Prune removes records with timestamps strictly before cutoff and returns
// how many were removed.
func (l *FrameLog) Prune(cutoff model.Timestamp) int {
	removed := 0
	l.entries.Range(func(k, _ any) bool {
		if k.(model.Timestamp) < cutoff {
			if _, ok := l.entries.LoadAndDelete(k); ok {
				l.size.Add(-1)
				removed++
			}
		}
		return true
	})
	return removed
}

// Len returns the number of buffered records.
func (l *FrameLog) Len() int {
	return int(l.size.Load())
}

// Records returns the buffered records in timestamp order.
func (l *FrameLog) Records() []model.FrameRecord {
	var out []model.FrameRecord
	l.entries.Range(func(_, v any) bool {
		out = append(out, v.(*logEntry).rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
