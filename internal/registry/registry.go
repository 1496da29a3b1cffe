// Package registry reconciles arbitrary named components against the master
// clock.
//
// A component registers once, then periodically reports its local timestamp
// through Synchronize. Each call measures the drift against MasterClock.Now,
// updates the component's running statistics, and returns the corrected
// timestamp. Drift beyond the skew ceiling is reported as Success=false; the
// call itself never fails for that reason.
//
// Housekeeping (health checks and idle eviction) runs on the shared
// maintenance pool via Start. Per-component statistics are atomics; the
// aggregate Statistics snapshot is the only operation that takes a write lock.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/capsync/internal/clock"
	"github.com/roach88/capsync/internal/engine"
	"github.com/roach88/capsync/internal/model"
)

var (
	// ErrNotRegistered is returned for operations on unknown component IDs.
	ErrNotRegistered = errors.New("registry: component not registered")

	// ErrEmptyComponentID is returned when a component ID is empty.
	ErrEmptyComponentID = errors.New("registry: empty component id")
)

const (
	DefaultDriftThreshold   = time.Millisecond
	DefaultMaxSkew          = 5 * time.Millisecond
	DefaultHealthInterval   = 100 * time.Millisecond
	DefaultLivenessWindow   = 5 * time.Second
	DefaultIdleHorizon      = 30 * time.Second
	DefaultEvictionInterval = 10 * time.Second
)

// Config tunes tolerances and housekeeping.
type Config struct {
	// DriftThreshold is the soft tolerance: within it a sync is
	// WithinTolerance, and an average above it marks the component unhealthy.
	DriftThreshold time.Duration

	// MaxSkew is the hard ceiling above which Synchronize reports failure.
	MaxSkew time.Duration

	HealthInterval   time.Duration
	LivenessWindow   time.Duration
	IdleHorizon      time.Duration
	EvictionInterval time.Duration
}

// DefaultConfig returns the default tolerances.
func DefaultConfig() Config {
	return Config{
		DriftThreshold:   DefaultDriftThreshold,
		MaxSkew:          DefaultMaxSkew,
		HealthInterval:   DefaultHealthInterval,
		LivenessWindow:   DefaultLivenessWindow,
		IdleHorizon:      DefaultIdleHorizon,
		EvictionInterval: DefaultEvictionInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = d.DriftThreshold
	}
	if c.MaxSkew <= 0 {
		c.MaxSkew = d.MaxSkew
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = d.LivenessWindow
	}
	if c.IdleHorizon <= 0 {
		c.IdleHorizon = d.IdleHorizon
	}
	if c.EvictionInterval <= 0 {
		c.EvictionInterval = d.EvictionInterval
	}
	return c
}

type component struct {
	id           string
	typ          model.ComponentType
	registeredAt model.Timestamp

	lastSync   atomic.Int64
	syncCount  atomic.Uint64
	totalDrift atomic.Uint64
	maxDrift   atomic.Uint64
	unhealthy  atomic.Bool
}

func (c *component) info() model.ComponentSyncInfo {
	info := model.ComponentSyncInfo{
		ComponentID:   c.id,
		ComponentType: c.typ,
		LastSyncTime:  model.Timestamp(c.lastSync.Load()),
		SyncCount:     c.syncCount.Load(),
		TotalDrift:    c.totalDrift.Load(),
		MaxDrift:      c.maxDrift.Load(),
	}
	if info.SyncCount > 0 {
		info.AvgDrift = float64(info.TotalDrift) / float64(info.SyncCount)
	}
	return info
}

// lastSeen is the last sync time, or the registration time if the component
// never synchronized.
func (c *component) lastSeen() model.Timestamp {
	if ts := c.lastSync.Load(); ts != 0 {
		return model.Timestamp(ts)
	}
	return c.registeredAt
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithLocalSource sets the source of component-local readings used by
// ForceSynchronizeAll and ComponentTimestamp. The default is the hardware
// clock read without correction.
func WithLocalSource(src clock.Source) Option {
	return func(r *Registry) { r.local = src }
}

// Registry tracks component clocks.
type Registry struct {
	clock  *clock.MasterClock
	local  clock.Source
	cfg    Config
	logger *slog.Logger

	components sync.Map // string -> *component
	count      atomic.Int64

	statsMu    sync.RWMutex
	totalOps   atomic.Uint64
	totalDrift atomic.Uint64
	maxSkew    atomic.Uint64
}

// New creates a registry on clk.
func New(clk *clock.MasterClock, cfg Config, opts ...Option) *Registry {
	r := &Registry{
		clock:  clk,
		local:  clock.HardwareSource(),
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	clk.Initialize()
	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// Start schedules the health check and idle eviction on the maintenance pool.
func (r *Registry) Start(maint engine.Periodic) {
	maint.Every(r.cfg.HealthInterval, "registry.health", func(context.Context) {
		r.HealthCheck()
	})
	maint.Every(r.cfg.EvictionInterval, "registry.evict", func(context.Context) {
		r.EvictIdle()
	})
}

// Register starts tracking id. Registering an existing id resets its
// statistics. Returns false only for an empty id.
func (r *Registry) Register(id string, typ model.ComponentType) bool {
	if id == "" {
		r.logger.Warn("registry: refusing component with empty id", "component_type", typ.String())
		return false
	}
	c := &component{id: id, typ: typ, registeredAt: r.clock.Now()}
	if _, loaded := r.components.Swap(id, c); !loaded {
		r.count.Add(1)
	}
	r.logger.Debug("registry: component registered", "component_id", id, "component_type", typ.String())
	return true
}

// Unregister stops tracking id. Reports whether it was registered.
func (r *Registry) Unregister(id string) bool {
	if _, ok := r.components.LoadAndDelete(id); ok {
		r.count.Add(-1)
		r.logger.Debug("registry: component unregistered", "component_id", id)
		return true
	}
	return false
}

// Synchronize reconciles a component's local timestamp against the master
// clock. The attempt is recorded even when the drift exceeds the skew
// ceiling; in that case Success is false and the error is nil.
func (r *Registry) Synchronize(id string, local model.Timestamp) (model.SyncResult, error) {
	if id == "" {
		return model.SyncResult{}, ErrEmptyComponentID
	}
	v, ok := r.components.Load(id)
	if !ok {
		return model.SyncResult{}, fmt.Errorf("synchronize %q: %w", id, ErrNotRegistered)
	}
	c := v.(*component)

	now := r.clock.Now()
	drift := model.Drift(local, now)

	r.statsMu.RLock()
	c.lastSync.Store(int64(now))
	c.syncCount.Add(1)
	c.totalDrift.Add(drift)
	storeMax(&c.maxDrift, drift)
	r.totalOps.Add(1)
	r.totalDrift.Add(drift)
	storeMax(&r.maxSkew, drift)
	r.statsMu.RUnlock()

	res := model.SyncResult{
		Success:            drift <= uint64(r.cfg.MaxSkew),
		CorrectedTimestamp: now,
		DriftNs:            drift,
		WithinTolerance:    drift <= uint64(r.cfg.DriftThreshold),
	}
	if !res.Success {
		r.logger.Warn("registry: component clock diverged",
			"error", engine.NewDriftExceeded(id, drift, uint64(r.cfg.MaxSkew)))
	}
	return res, nil
}

// ComponentTimestamp synchronizes id against a fresh local reading and
// returns the corrected timestamp. Unknown components get the master time.
func (r *Registry) ComponentTimestamp(id string) model.Timestamp {
	local, err := r.local.Now()
	if err != nil {
		return r.clock.Now()
	}
	res, err := r.Synchronize(id, model.Timestamp(local))
	if err != nil {
		return r.clock.Now()
	}
	return res.CorrectedTimestamp
}

// ForceSynchronizeAll synchronizes every component against a fresh local
// reading.
func (r *Registry) ForceSynchronizeAll() map[string]model.SyncResult {
	out := make(map[string]model.SyncResult)
	r.components.Range(func(k, _ any) bool {
		id := k.(string)
		local, err := r.local.Now()
		if err != nil {
			r.logger.Warn("registry: local clock unavailable", "component_id", id, "error", err)
			return true
		}
		if res, err := r.Synchronize(id, model.Timestamp(local)); err == nil {
			out[id] = res
		}
		return true
	})
	r.logger.Info("registry: forced synchronization", "components", len(out))
	return out
}

// Info returns a copy of one component's statistics.
func (r *Registry) Info(id string) (model.ComponentSyncInfo, bool) {
	v, ok := r.components.Load(id)
	if !ok {
		return model.ComponentSyncInfo{}, false
	}
	return v.(*component).info(), true
}

// Components returns every component's statistics ordered by id.
func (r *Registry) Components() []model.ComponentSyncInfo {
	var out []model.ComponentSyncInfo
	r.components.Range(func(_, v any) bool {
		out = append(out, v.(*component).info())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ComponentID < out[j].ComponentID })
	return out
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

func storeMax(v *atomic.Uint64, n uint64) {
	for {
		cur := v.Load()
		if n <= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}
