package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/capsync/internal/model"
)

// testNowMs is the fixed wall clock used by createTestStore.
const testNowMs = int64(1_700_000_000_000)

// createTestStore creates a new store in a temp directory with a fixed
// wall clock.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithWallClock(func() time.Time { return time.UnixMilli(testNowMs) }),
	}
	s, err := Open(path, append(base, opts...)...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession creates a session with minimal required fields.
func createTestSession(id string, state model.RecordingState, createdAt int64) model.SessionState {
	return model.SessionState{
		SessionID:      id,
		RecordingState: state,
		CreatedAt:      createdAt,
		StartTime:      createdAt,
		VideoEnabled:   true,
		RawEnabled:     true,
	}
}
