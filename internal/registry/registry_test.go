package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsync/internal/clock"
	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/testutil"
	"github.com/roach88/capsync/internal/workers"
)

const testStart = int64(10 * time.Second)

type fixture struct {
	src   *testutil.ManualSource
	local *testutil.ManualSource
	reg   *Registry
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		src:   testutil.NewManualSource(testStart),
		local: testutil.NewManualSource(testStart),
	}
	clk := clock.New(f.src, clock.WithLogger(discardLogger()))
	f.reg = New(clk, cfg, WithLogger(discardLogger()), WithLocalSource(f.local))
	return f
}

func ts(ns int64) model.Timestamp {
	return model.Timestamp(ns)
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	assert.True(t, f.reg.Register("cam", model.ComponentVideoRecorder))
	assert.True(t, f.reg.Register("gsr", model.ComponentBioSignalSensor))
	assert.Equal(t, 2, f.reg.Len())

	assert.False(t, f.reg.Register("", model.ComponentSystem))
	assert.Equal(t, 2, f.reg.Len())

	assert.True(t, f.reg.Unregister("cam"))
	assert.False(t, f.reg.Unregister("cam"))
	assert.Equal(t, 1, f.reg.Len())

	_, ok := f.reg.Info("cam")
	assert.False(t, ok)
}

func TestRegistry_SynchronizeErrors(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.reg.Synchronize("ghost", ts(testStart))
	assert.ErrorIs(t, err, ErrNotRegistered)

	_, err = f.reg.Synchronize("", ts(testStart))
	assert.ErrorIs(t, err, ErrEmptyComponentID)
}

func TestRegistry_SynchronizeClassification(t *testing.T) {
	tests := []struct {
		name        string
		offset      int64
		wantSuccess bool
		wantWithin  bool
	}{
		{"exact", 0, true, true},
		{"within soft threshold", -500_000, true, true},
		{"at soft threshold", int64(time.Millisecond), true, true},
		{"between soft and hard", 3_000_000, true, false},
		{"at hard ceiling", -int64(5 * time.Millisecond), true, false},
		{"beyond hard ceiling", 6_000_000, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			require.True(t, f.reg.Register("cam", model.ComponentVideoRecorder))

			res, err := f.reg.Synchronize("cam", ts(testStart+tt.offset))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantWithin, res.WithinTolerance)
			assert.Equal(t, model.Drift(ts(testStart+tt.offset), ts(testStart)), res.DriftNs)
			assert.Equal(t, ts(testStart), res.CorrectedTimestamp)
		})
	}
}

func TestRegistry_FailedSyncStillRecorded(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.reg.Register("cam", model.ComponentVideoRecorder))

	res, err := f.reg.Synchronize("cam", ts(testStart+50_000_000))
	require.NoError(t, err, "drift beyond the ceiling is a result, not an error")
	assert.False(t, res.Success)

	info, ok := f.reg.Info("cam")
	require.True(t, ok)
	assert.Equal(t, uint64(1), info.SyncCount)
	assert.Equal(t, uint64(50_000_000), info.MaxDrift)
}

func TestRegistry_RunningStatistics(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.reg.Register("cam", model.ComponentVideoRecorder))

	_, _ = f.reg.Synchronize("cam", ts(testStart-1_000_000))
	_, _ = f.reg.Synchronize("cam", ts(testStart+3_000_000))

	info, ok := f.reg.Info("cam")
	require.True(t, ok)
	assert.Equal(t, uint64(2), info.SyncCount)
	assert.Equal(t, uint64(4_000_000), info.TotalDrift)
	assert.Equal(t, uint64(3_000_000), info.MaxDrift)
	assert.Equal(t, float64(2_000_000), info.AvgDrift)
	assert.Equal(t, ts(testStart), info.LastSyncTime)
	assert.Equal(t, model.ComponentVideoRecorder, info.ComponentType)
}

func TestRegistry_ReRegisterResets(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.reg.Register("cam", model.ComponentVideoRecorder))
	_, _ = f.reg.Synchronize("cam", ts(testStart+2_000_000))

	require.True(t, f.reg.Register("cam", model.ComponentRawCapture))
	info, ok := f.reg.Info("cam")
	require.True(t, ok)
	assert.Equal(t, uint64(0), info.SyncCount)
	assert.Equal(t, model.ComponentRawCapture, info.ComponentType)
	assert.Equal(t, 1, f.reg.Len())
}

func TestRegistry_HealthCheckFlagsStaleAndDrifting(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.reg.Register("quiet", model.ComponentThermalImaging))
	require.True(t, f.reg.Register("drifty", model.ComponentRawCapture))
	require.True(t, f.reg.Register("good", model.ComponentVideoRecorder))

	f.src.Advance(6 * time.Second)
	now := testStart + int64(6*time.Second)
	_, _ = f.reg.Synchronize("drifty", ts(now+3_000_000))
	_, _ = f.reg.Synchronize("good", ts(now+100_000))

	report := f.reg.HealthCheck()
	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Unhealthy, 2)

	issues := map[string]Issue{}
	for _, h := range report.Unhealthy {
		issues[h.ComponentID] = h.Issue
	}
	assert.Equal(t, IssueStale, issues["quiet"])
	assert.Equal(t, IssueDrift, issues["drifty"])

	stats := f.reg.Statistics()
	healthy := map[string]bool{}
	for _, c := range stats.Components {
		healthy[c.ComponentID] = c.Healthy
	}
	assert.False(t, healthy["quiet"])
	assert.False(t, healthy["drifty"])
	assert.True(t, healthy["good"])

	_, _ = f.reg.Synchronize("quiet", ts(now))
	report = f.reg.HealthCheck()
	require.Len(t, report.Unhealthy, 1)
	assert.Equal(t, "drifty", report.Unhealthy[0].ComponentID)
}

func TestRegistry_EvictIdle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.reg.Register("old", model.ComponentSystem))
	f.src.Advance(20 * time.Second)
	require.True(t, f.reg.Register("new", model.ComponentSystem))

	f.src.Advance(11 * time.Second)
	evicted := f.reg.EvictIdle()
	assert.Equal(t, []string{"old"}, evicted)
	assert.Equal(t, 1, f.reg.Len())

	_, err := f.reg.Synchronize("old", ts(testStart))
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistry_ForceSynchronizeAll(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.reg.Register("a", model.ComponentVideoRecorder))
	require.True(t, f.reg.Register("b", model.ComponentRawCapture))
	f.local.Set(testStart + 2_000_000)

	results := f.reg.ForceSynchronizeAll()
	require.Len(t, results, 2)
	for id, res := range results {
		assert.Equal(t, uint64(2_000_000), res.DriftNs, id)
		assert.True(t, res.Success, id)
		assert.False(t, res.WithinTolerance, id)
	}
}

func TestRegistry_ComponentTimestamp(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.reg.Register("ui", model.ComponentUserInterface))
	f.local.Set(testStart + 200_000)

	assert.Equal(t, ts(testStart), f.reg.ComponentTimestamp("ui"))
	info, _ := f.reg.Info("ui")
	assert.Equal(t, uint64(1), info.SyncCount)

	assert.Equal(t, ts(testStart), f.reg.ComponentTimestamp("unknown"))
}

func TestRegistry_StatisticsAndGrade(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.reg.Register("b", model.ComponentRawCapture))
	require.True(t, f.reg.Register("a", model.ComponentVideoRecorder))

	empty := f.reg.Statistics()
	assert.Equal(t, GradeExcellent, empty.Grade)
	assert.Equal(t, uint64(0), empty.TotalSyncOperations)

	_, _ = f.reg.Synchronize("a", ts(testStart+500_000))
	_, _ = f.reg.Synchronize("b", ts(testStart+1_500_000))

	s := f.reg.Statistics()
	assert.Equal(t, uint64(2), s.TotalSyncOperations)
	assert.Equal(t, float64(1_000_000), s.AvgDriftNs)
	assert.Equal(t, uint64(1_500_000), s.MaxSkewNs)
	assert.Equal(t, GradeGood, s.Grade)
	require.Len(t, s.Components, 2)
	assert.Equal(t, "a", s.Components[0].ComponentID)
	assert.Equal(t, "b", s.Components[1].ComponentID)
}

func TestGrade(t *testing.T) {
	ms := float64(time.Millisecond)
	tests := []struct {
		avg  float64
		max  uint64
		want HealthGrade
	}{
		{0, 0, GradeExcellent},
		{0.9 * ms, 4_900_000, GradeExcellent},
		{0.9 * ms, 5_000_000, GradeGood},
		{1.5 * ms, 9_000_000, GradeGood},
		{3 * ms, 9_000_000, GradeAcceptable},
		{1 * ms, 15_000_000, GradeAcceptable},
		{5 * ms, 1_000_000, GradePoor},
		{1 * ms, 20_000_000, GradePoor},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Grade(tt.avg, tt.max), "avg=%v max=%v", tt.avg, tt.max)
	}
}

func TestRegistry_ConcurrentSynchronize(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.reg.Register("shared", model.ComponentSystem))

	const goroutines, calls = 8, 100
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				_, err := f.reg.Synchronize("shared", ts(testStart+int64(g*1_000)))
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	info, _ := f.reg.Info("shared")
	assert.Equal(t, uint64(goroutines*calls), info.SyncCount)
	assert.Equal(t, uint64(7_000), info.MaxDrift)
	assert.Equal(t, uint64(goroutines*calls), f.reg.Statistics().TotalSyncOperations)
}

func TestRegistry_StartEvictsOnMaintenancePool(t *testing.T) {
	f := newFixture(t, Config{HealthInterval: time.Millisecond, EvictionInterval: time.Millisecond})
	maint := workers.New(workers.Config{Name: "maintenance", Workers: 1}, discardLogger())
	t.Cleanup(func() { _ = maint.Shutdown(context.Background()) })

	require.True(t, f.reg.Register("cam", model.ComponentVideoRecorder))
	f.src.Advance(time.Minute)
	f.reg.Start(maint)

	require.Eventually(t, func() bool { return f.reg.Len() == 0 }, 2*time.Second, time.Millisecond)
}

func TestRegistry_RegisterMetricsOnNoopProvider(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	assert.NotPanics(t, f.reg.RegisterMetrics)
}
