package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsync/internal/config"
	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/session"
	"github.com/roach88/capsync/internal/testutil"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.DBPath = filepath.Join(dir, "capsync.db")
	cfg.ArtifactsRoot = filepath.Join(dir, "recordings")
	cfg.RetentionDays = 0
	return cfg
}

func newRuntime(t *testing.T, cfg config.Config, opts ...Option) (*Runtime, *testutil.ManualSource) {
	t.Helper()
	src := testutil.NewManualSource(int64(5 * time.Second))
	opts = append([]Option{
		WithClockSource(src),
		WithIDGenerator(testutil.NewFixedIDGenerator("rt-1", "rt-2")),
	}, opts...)
	rt, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })
	return rt, src
}

func TestRuntime_StartRecoversCrashedSessions(t *testing.T) {
	cfg := testConfig(t)
	rt, _ := newRuntime(t, cfg)
	ctx := context.Background()

	require.NoError(t, rt.Store.InsertSession(ctx, model.SessionState{
		SessionID:      "crashed",
		RecordingState: model.StateRecording,
		CreatedAt:      1,
	}))

	report, err := rt.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"crashed"}, report.Recovered)

	got, err := rt.Store.GetSession(ctx, "crashed")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, got.RecordingState)

	_, err = rt.Start(ctx)
	assert.Error(t, err, "second start is rejected")
}

func TestRuntime_CorrelatesThroughSharedClock(t *testing.T) {
	var (
		mu      sync.Mutex
		results []model.CorrelationResult
	)
	rt, src := newRuntime(t, testConfig(t), WithResultHandler(func(r model.CorrelationResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}))
	ctx := context.Background()
	_, err := rt.Start(ctx)
	require.NoError(t, err)

	src.Advance(10 * time.Millisecond)
	video := rt.Engine.RegisterVideoFrame(1_000)
	raw := rt.Engine.RegisterRawFrame(0, 0)
	assert.Equal(t, video, raw, "both stamped from the same master clock")

	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, rt.Correlation.Quiesce(qctx))

	m := rt.Engine.Metrics()
	assert.Equal(t, uint64(1), m.PairCount)
	assert.Equal(t, uint64(0), m.MaxDriftNs)
	mu.Lock()
	assert.Len(t, results, 1)
	mu.Unlock()

	assert.True(t, rt.Registry.Register("cam-0", model.ComponentVideoRecorder))
	res, err := rt.Registry.Synchronize("cam-0", video)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRuntime_SessionLifecycle(t *testing.T) {
	rt, _ := newRuntime(t, testConfig(t))
	ctx := context.Background()

	st, err := rt.Sessions.Begin(ctx, session.Options{Video: true, Raw: true})
	require.NoError(t, err)
	assert.Equal(t, "rt-1", st.SessionID)

	active, err := rt.Store.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = rt.Sessions.MarkRecording(ctx)
	require.NoError(t, err)
	_, err = rt.Sessions.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, rt.Recovery.Detect(ctx))
}

func TestRuntime_ShutdownIdempotentAndRejectsFrames(t *testing.T) {
	rt, _ := newRuntime(t, testConfig(t))
	ctx := context.Background()
	_, err := rt.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, rt.Shutdown(ctx))
	require.NoError(t, rt.Shutdown(ctx))

	rt.Engine.RegisterVideoFrame(0)
	assert.Equal(t, uint64(1), rt.Engine.Metrics().DroppedFrames, "closed pool counts the frame as dropped")
	assert.Error(t, rt.Store.Ping(ctx), "store closed last")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.CorrelationWorkers = 0
	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
