package engine

import (
	"sync"

	"github.com/roach88/capsync/internal/model"
)

// pairKey identifies a video/raw pair independent of which side found it.
type pairKey struct {
	video model.Timestamp
	raw   model.Timestamp
}

// pairLedger remembers which pairs have been counted.
//
// Correlation runs from both sides: a video registration searches the raw log
// and a raw registration searches the video log. When both records are
// inserted before either task runs, both tasks find each other. The ledger
// makes the second discovery a no-op so each pair is counted exactly once.
//
// Thread-safe: all methods may be called concurrently.
type pairLedger struct {
	mu    sync.Mutex
	pairs map[pairKey]struct{}
}

func newPairLedger() *pairLedger {
	return &pairLedger{pairs: make(map[pairKey]struct{})}
}

// claim records k and reports whether this call was the first to do so.
func (l *pairLedger) claim(k pairKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.pairs[k]; seen {
		return false
	}
	l.pairs[k] = struct{}{}
	return true
}

// prune forgets pairs whose records are both older than cutoff.
func (l *pairLedger) prune(cutoff model.Timestamp) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k := range l.pairs {
		if k.video < cutoff && k.raw < cutoff {
			delete(l.pairs, k)
			removed++
		}
	}
	return removed
}

func (l *pairLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pairs)
}
