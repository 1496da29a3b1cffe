// Package app wires the capsync services into one Runtime and owns their
// start and shutdown order.
//
// A Runtime holds exactly one master clock, one correlation pool, one
// maintenance pool and one store. The correlation engine and component
// registry share the clock; all periodic housekeeping runs on the single
// maintenance worker so it never competes with correlation for workers.
//
// Shutdown order:
//
//  1. correlation pool: drain in-flight correlation, reject new frames
//  2. maintenance pool: stop prune, health, eviction and clock refresh
//  3. store: close the database
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/capsync/internal/clock"
	"github.com/roach88/capsync/internal/config"
	"github.com/roach88/capsync/internal/engine"
	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/recovery"
	"github.com/roach88/capsync/internal/registry"
	"github.com/roach88/capsync/internal/session"
	"github.com/roach88/capsync/internal/store"
	"github.com/roach88/capsync/internal/workers"
)

// maintenanceQueue bounds the maintenance backlog; periodic ticks that find
// it full are skipped.
const maintenanceQueue = 64

// Option configures a Runtime.
type Option func(*options)

type options struct {
	source  clock.Source
	ids     model.IDGenerator
	handler engine.ResultHandler
}

// WithClockSource replaces the hardware clock source.
func WithClockSource(src clock.Source) Option {
	return func(o *options) { o.source = src }
}

// WithIDGenerator sets the session ID source for the engine and controller.
func WithIDGenerator(ids model.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// WithResultHandler receives every correlation result.
func WithResultHandler(fn engine.ResultHandler) Option {
	return func(o *options) { o.handler = fn }
}

// Runtime is the assembled capsync process.
type Runtime struct {
	Config config.Config
	Logger *slog.Logger

	Clock       *clock.MasterClock
	Correlation *workers.Pool
	Maintenance *workers.Pool
	Engine      *engine.Engine
	Registry    *registry.Registry
	Store       *store.Store
	Recovery    *recovery.Coordinator
	Sessions    *session.Controller

	started      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds every service. Nothing runs until Start.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{source: clock.HardwareSource(), ids: model.UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(cfg.DBPath,
		store.WithLogger(logger),
		store.WithWatchInterval(cfg.WatchInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", engine.NewInitializationFailure("open store", err))
	}

	clk := clock.New(o.source,
		clock.WithDriftThreshold(int64(cfg.ClockDriftThreshold)),
		clock.WithLogger(logger),
	)

	corr := workers.New(workers.Config{
		Name:      "correlation",
		Workers:   cfg.CorrelationWorkers,
		QueueSize: cfg.CorrelationQueueSize,
	}, logger)
	maint := workers.New(workers.Config{
		Name:      "maintenance",
		Workers:   1,
		QueueSize: maintenanceQueue,
	}, logger)

	engOpts := []engine.Option{engine.WithLogger(logger), engine.WithIDGenerator(o.ids)}
	if o.handler != nil {
		engOpts = append(engOpts, engine.WithResultHandler(o.handler))
	}

	return &Runtime{
		Config:      cfg,
		Logger:      logger,
		Clock:       clk,
		Correlation: corr,
		Maintenance: maint,
		Engine:      engine.New(clk, corr, cfg.Engine(), engOpts...),
		Registry:    registry.New(clk, cfg.Registry(), registry.WithLogger(logger), registry.WithLocalSource(o.source)),
		Store:       st,
		Recovery:    recovery.New(st, cfg.Recovery(), recovery.WithLogger(logger)),
		Sessions:    session.New(st, session.WithLogger(logger), session.WithIDGenerator(o.ids)),
	}, nil
}

// Start runs startup crash recovery, then schedules maintenance and
// registers metrics. Recovery errors are logged, not returned; only a
// second Start fails.
func (r *Runtime) Start(ctx context.Context) (recovery.Report, error) {
	if !r.started.CompareAndSwap(false, true) {
		return recovery.Report{}, errors.New("runtime: already started")
	}

	report, err := r.Recovery.RunStartup(ctx, r.Config.RetentionDays)
	if err != nil {
		r.Logger.Error("runtime: startup recovery", "error", err)
	}

	r.Maintenance.Every(r.Config.ClockRefreshInterval, "clock.refresh", func(context.Context) {
		r.Clock.Refresh()
	})
	r.Engine.Start(r.Maintenance)
	r.Registry.Start(r.Maintenance)

	r.Engine.RegisterMetrics()
	r.Registry.RegisterMetrics()
	r.Correlation.RegisterMetrics()
	r.Maintenance.RegisterMetrics()

	r.Logger.Info("runtime: started",
		"correlation_workers", r.Config.CorrelationWorkers,
		"recovered", len(report.Recovered),
		"clock_degraded", r.Clock.Degraded(),
	)
	return report, nil
}

// Shutdown stops the pools in order, each within the configured grace
// period, then closes the store. Forced shutdowns are reported in the
// returned error but do not stop the sequence. Safe to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		var errs []error
		for _, p := range []*workers.Pool{r.Correlation, r.Maintenance} {
			pctx, cancel := context.WithTimeout(ctx, r.Config.ShutdownGrace)
			if err := p.Shutdown(pctx); err != nil {
				errs = append(errs, fmt.Errorf("%s pool: %w", p.Name(), err))
			}
			cancel()
		}
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		r.shutdownErr = errors.Join(errs...)
		r.Logger.Info("runtime: stopped", "clean", r.shutdownErr == nil)
	})
	return r.shutdownErr
}
