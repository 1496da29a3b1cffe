package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/capsync/internal/model"
)

// WatchActive returns a feed of the active-session list. The current list is
// delivered immediately, then again after every committed write through this
// Store that could change it. With a watch interval configured the list is
// also re-polled, picking up writes from other processes.
//
// The channel holds at most one snapshot: a slow reader only ever sees the
// latest list. It is closed when ctx is cancelled.
func (s *Store) WatchActive(ctx context.Context) <-chan []model.SessionState {
	out := make(chan []model.SessionState, 1)
	signal := make(chan struct{}, 1)
	signal <- struct{}{}

	s.watchMu.Lock()
	s.watchers[signal] = struct{}{}
	s.watchMu.Unlock()

	go func() {
		defer close(out)
		defer s.unwatch(signal)

		var tick <-chan time.Time
		if s.watchInterval > 0 {
			ticker := time.NewTicker(s.watchInterval)
			defer ticker.Stop()
			tick = ticker.C
		}

		last := ""
		sent := false
		for {
			polled := false
			select {
			case <-ctx.Done():
				return
			case <-signal:
			case <-tick:
				polled = true
			}

			active, err := s.ActiveSessions(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("store: watch active sessions", "error", err)
				continue
			}

			fp := fingerprint(active)
			if polled && sent && fp == last {
				continue
			}
			last, sent = fp, true

			// Replace an unread snapshot with the newer one.
			select {
			case <-out:
			default:
			}
			select {
			case out <- active:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *Store) unwatch(signal chan struct{}) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	delete(s.watchers, signal)
}

// notifyWatchers wakes every WatchActive subscriber without blocking.
func (s *Store) notifyWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func fingerprint(sessions []model.SessionState) string {
	var b strings.Builder
	for _, st := range sessions {
		b.WriteString(st.SessionID)
		b.WriteByte(':')
		b.WriteString(string(st.RecordingState))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(st.UpdatedAt, 10))
		b.WriteByte(';')
	}
	return b.String()
}
