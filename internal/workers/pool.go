// Package workers provides the shared, explicitly-owned goroutine pools used by
// the synchronization engine and its maintenance tasks.
//
// A Pool runs a fixed number of workers draining a bounded task queue. Submit
// never blocks: when the queue is full the task is rejected and counted, so
// producer goroutines are never stalled by background work.
//
// Shutdown order is the owner's responsibility. Shutdown stops periodic
// schedules, rejects new work, drains queued and in-flight tasks, and cancels
// the task context if the grace period (the ctx passed to Shutdown) expires.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/capsync/internal/telemetry"
)

var (
	// ErrPoolClosed is returned by Submit after Shutdown has started.
	ErrPoolClosed = errors.New("workers: pool closed")

	// ErrQueueFull is returned by Submit when the task queue is at capacity.
	ErrQueueFull = errors.New("workers: queue full")

	// ErrForcedShutdown is returned by Shutdown when the grace period elapsed
	// before the pool drained.
	ErrForcedShutdown = errors.New("workers: forced shutdown after grace period")
)

// Task is a unit of background work. ctx is cancelled on forced shutdown.
type Task func(ctx context.Context)

// Config sizes a pool.
type Config struct {
	Name      string
	Workers   int
	QueueSize int
}

// Pool is a bounded worker pool.
type Pool struct {
	name    string
	workers int
	logger  *slog.Logger

	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.RWMutex // guards closed against sends on tasks
	closed   bool
	stopOnce sync.Once
	stopTick chan struct{}
	tickWG   sync.WaitGroup

	pending   atomic.Int64
	completed atomic.Uint64
	rejected  atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// New starts a pool with cfg.Workers goroutines.
func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:     cfg.Name,
		workers:  cfg.Workers,
		logger:   logger,
		tasks:    make(chan Task, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		group:    &errgroup.Group{},
		stopTick: make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.group.Go(func() error {
			p.work()
			return nil
		})
	}
	return p
}

// Name returns the pool's name.
func (p *Pool) Name() string {
	return p.name
}

// Submit enqueues t without blocking.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		return ErrPoolClosed
	}

	p.pending.Add(1)
	select {
	case p.tasks <- t:
		return nil
	default:
		p.pending.Add(-1)
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Every submits t to the pool once per interval until Shutdown. Ticks that
// find the queue full are skipped.
func (p *Pool) Every(interval time.Duration, name string, t Task) {
	if interval <= 0 {
		return
	}
	p.tickWG.Add(1)
	go func() {
		defer p.tickWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopTick:
				return
			case <-ticker.C:
				if err := p.Submit(t); err != nil && !errors.Is(err, ErrPoolClosed) {
					p.logger.Debug("workers: periodic task skipped",
						"pool", p.name, "task", name, "error", err)
				}
			}
		}
	}()
}

func (p *Pool) work() {
	for t := range p.tasks {
		if p.ctx.Err() != nil {
			p.dropped.Add(1)
			p.pending.Add(-1)
			continue
		}
		p.run(t)
	}
}

func (p *Pool) run(t Task) {
	defer p.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("workers: task panicked", "pool", p.name, "panic", fmt.Sprint(r))
		}
	}()
	t(p.ctx)
	p.completed.Add(1)
}

// Quiesce waits until every queued and running task has finished, or ctx ends.
// New submissions during the wait extend it.
func (p *Pool) Quiesce(ctx context.Context) error {
	if p.pending.Load() == 0 {
		return nil
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p.pending.Load() == 0 {
				return nil
			}
		}
	}
}

// Shutdown drains the pool. If ctx expires first the task context is
// cancelled, queued tasks are dropped, and ErrForcedShutdown is returned.
// Safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopTick)
		p.tickWG.Wait()

		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("workers: grace period elapsed, forcing shutdown",
			"pool", p.name, "pending", p.pending.Load())
		return ErrForcedShutdown
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Pending   int64  `json:"pending"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Dropped   uint64 `json:"dropped"`
	Panics    uint64 `json:"panics"`
}

// Stats returns the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Pending:   p.pending.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Dropped:   p.dropped.Load(),
		Panics:    p.panics.Load(),
	}
}

// Pending returns queued plus running tasks.
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

// RegisterMetrics registers observable gauges for queue depth and rejections.
// Call after telemetry.Init.
func (p *Pool) RegisterMetrics() {
	meter := telemetry.Meter("capsync/workers")
	attrs := metric.WithAttributes(attribute.String("pool", p.name))

	_, _ = meter.Int64ObservableGauge("capsync.workers.pending",
		metric.WithDescription("Queued plus running tasks"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(p.pending.Load(), attrs)
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("capsync.workers.rejected_total",
		metric.WithDescription("Tasks rejected because the pool was full or closed"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(p.rejected.Load()), attrs)
			return nil
		}),
	)
}
