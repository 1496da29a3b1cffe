package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/store"
	"github.com/roach88/capsync/internal/testutil"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func newController(t *testing.T, ids ...string) (*Controller, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "capsync.db"), store.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := New(st,
		WithLogger(logger),
		WithIDGenerator(testutil.NewFixedIDGenerator(ids...)),
		WithWallClock(func() time.Time { return testNow }),
	)
	return c, st
}

func TestController_FullLifecycle(t *testing.T) {
	c, st := newController(t, "s1")
	ctx := context.Background()

	begun, err := c.Begin(ctx, Options{Video: true, Raw: true, BioSignal: true})
	require.NoError(t, err)
	assert.Equal(t, "s1", begun.SessionID)
	assert.Equal(t, model.StateStarting, begun.RecordingState)
	assert.Equal(t, testNow.UnixMilli(), begun.CreatedAt)
	assert.Equal(t, "s1", c.Active())

	_, err = c.MarkRecording(ctx)
	require.NoError(t, err)

	devices := []model.DeviceState{{DeviceID: "shimmer-1", DeviceType: "GSR", Connected: true, BatteryLevel: 50, Status: "streaming"}}
	_, err = c.UpdateDeviceStates(ctx, devices)
	require.NoError(t, err)

	done, err := c.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, done.RecordingState)
	assert.Equal(t, testNow.UnixMilli(), done.EndTime)
	assert.Empty(t, c.Active())

	persisted, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, persisted.RecordingState)
	assert.Equal(t, devices, persisted.DeviceStates)
	assert.True(t, persisted.BioSignalEnabled)
}

func TestController_SingleActive(t *testing.T) {
	c, _ := newController(t, "s1", "s2", "s3")
	ctx := context.Background()

	_, err := c.Begin(ctx, Options{Video: true})
	require.NoError(t, err)

	_, err = c.Begin(ctx, Options{Video: true})
	assert.ErrorIs(t, err, ErrSessionActive)

	_, err = c.Fail(ctx, "camera disconnected")
	require.NoError(t, err)

	next, err := c.Begin(ctx, Options{Video: true})
	require.NoError(t, err)
	assert.Equal(t, "s3", next.SessionID)
}

func TestController_ConcurrentBegin(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Begin(ctx, Options{Raw: true})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrSessionActive)
	}
	assert.Equal(t, 1, wins)
}

func TestController_NoActiveSession(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()

	_, err := c.MarkRecording(ctx)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = c.Stop(ctx)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = c.Fail(ctx, "x")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestController_IllegalTransitionKeepsSlot(t *testing.T) {
	c, _ := newController(t, "s1")
	ctx := context.Background()

	_, err := c.Begin(ctx, Options{})
	require.NoError(t, err)

	// Starting -> Stopping is not an edge of the state machine.
	_, err = c.Stop(ctx)
	assert.ErrorIs(t, err, store.ErrIllegalTransition)
	assert.Equal(t, "s1", c.Active())
}

type rejectingStore struct{ Store }

func (rejectingStore) InsertSession(context.Context, model.SessionState) error {
	return errors.New("disk full")
}

func TestController_BeginInsertFailureReleasesSlot(t *testing.T) {
	c := New(rejectingStore{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := c.Begin(context.Background(), Options{})
	require.Error(t, err)
	assert.Empty(t, c.Active())
}
