package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New(cfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := newTestPool(t, Config{Name: "test", Workers: 4, QueueSize: 64})

	var ran atomic.Int64
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(func(context.Context) { ran.Add(1) }))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Quiesce(ctx))

	assert.Equal(t, int64(50), ran.Load())
	stats := p.Stats()
	assert.Equal(t, uint64(50), stats.Completed)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, 4, stats.Workers)
}

func TestPool_SubmitNeverBlocksWhenFull(t *testing.T) {
	p := newTestPool(t, Config{Name: "full", Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, p.Submit(func(context.Context) {}), "one slot in the queue")

	done := make(chan error, 1)
	go func() { done <- p.Submit(func(context.Context) {}) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
	assert.Equal(t, uint64(1), p.Stats().Rejected)
	close(release)
}

func TestPool_SubmitAfterShutdownRejected(t *testing.T) {
	p := New(Config{Name: "closed", Workers: 2}, nil)
	require.NoError(t, p.Shutdown(context.Background()))

	err := p.Submit(func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, p.Shutdown(context.Background()), "Shutdown is idempotent")
}

func TestPool_ShutdownDrainsQueuedWork(t *testing.T) {
	p := New(Config{Name: "drain", Workers: 1, QueueSize: 16}, nil)

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(context.Context) {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	assert.Equal(t, int64(10), ran.Load())
}

func TestPool_ShutdownForcedAfterGracePeriod(t *testing.T) {
	p := New(Config{Name: "stuck", Workers: 1, QueueSize: 4}, nil)

	cancelled := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	assert.ErrorIs(t, err, ErrForcedShutdown)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled on forced shutdown")
	}
}

func TestPool_PanicIsContained(t *testing.T) {
	p := newTestPool(t, Config{Name: "panic", Workers: 1})

	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))
	var ran atomic.Bool
	require.NoError(t, p.Submit(func(context.Context) { ran.Store(true) }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Quiesce(ctx))

	assert.True(t, ran.Load(), "worker survives a panicking task")
	assert.Equal(t, uint64(1), p.Stats().Panics)
}

func TestPool_EveryRunsPeriodically(t *testing.T) {
	p := newTestPool(t, Config{Name: "ticker", Workers: 1})

	var mu sync.Mutex
	count := 0
	p.Every(2*time.Millisecond, "tick", func(context.Context) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	}, 2*time.Second, time.Millisecond)
}

func TestPool_EveryStopsOnShutdown(t *testing.T) {
	p := New(Config{Name: "ticker-stop", Workers: 1}, nil)

	var count atomic.Int64
	p.Every(time.Millisecond, "tick", func(context.Context) { count.Add(1) })
	require.Eventually(t, func() bool { return count.Load() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, p.Shutdown(context.Background()))
	after := count.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, count.Load())
}

func TestPool_QuiesceHonoursContext(t *testing.T) {
	p := newTestPool(t, Config{Name: "slow", Workers: 1})

	release := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Quiesce(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	close(release)
}

func TestPool_RegisterMetricsOnNoopProvider(t *testing.T) {
	p := newTestPool(t, Config{Name: "metrics", Workers: 1})
	assert.NotPanics(t, p.RegisterMetrics)
}
