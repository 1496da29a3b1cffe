package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/capsync/internal/clock"
	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/workers"
)

// Defaults for a 30 fps capture.
const (
	DefaultFramePeriod          = 33_333_333 * time.Nanosecond
	DefaultCorrelationWindow    = DefaultFramePeriod
	DefaultMaxTemporalDrift     = 16_666_666 * time.Nanosecond
	DefaultBioCorrelationWindow = 8_333_333 * time.Nanosecond
	DefaultBufferFrames         = 512
	DefaultPruneInterval        = 3 * time.Second
	DefaultQueueWarnDepth       = 8
)

// Config tunes correlation and buffering.
type Config struct {
	// CorrelationWindow bounds video/raw pairing.
	CorrelationWindow time.Duration

	// MaxTemporalDrift is the tolerance used for quality tiers and the
	// within-tolerance flag.
	MaxTemporalDrift time.Duration

	// BioCorrelationWindow bounds bio-signal to video matching.
	BioCorrelationWindow time.Duration

	// FramePeriod and BufferFrames define the buffer horizon.
	FramePeriod  time.Duration
	BufferFrames int

	PruneInterval time.Duration

	// QueueWarnDepth logs a warning when the correlation backlog exceeds it.
	QueueWarnDepth int64
}

// DefaultConfig returns the 30 fps defaults.
func DefaultConfig() Config {
	return Config{
		CorrelationWindow:    DefaultCorrelationWindow,
		MaxTemporalDrift:     DefaultMaxTemporalDrift,
		BioCorrelationWindow: DefaultBioCorrelationWindow,
		FramePeriod:          DefaultFramePeriod,
		BufferFrames:         DefaultBufferFrames,
		PruneInterval:        DefaultPruneInterval,
		QueueWarnDepth:       DefaultQueueWarnDepth,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CorrelationWindow <= 0 {
		c.CorrelationWindow = d.CorrelationWindow
	}
	if c.MaxTemporalDrift <= 0 {
		c.MaxTemporalDrift = d.MaxTemporalDrift
	}
	if c.BioCorrelationWindow <= 0 {
		c.BioCorrelationWindow = d.BioCorrelationWindow
	}
	if c.FramePeriod <= 0 {
		c.FramePeriod = d.FramePeriod
	}
	if c.BufferFrames <= 0 {
		c.BufferFrames = d.BufferFrames
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = d.PruneInterval
	}
	if c.QueueWarnDepth <= 0 {
		c.QueueWarnDepth = d.QueueWarnDepth
	}
	return c
}

// Horizon is how far back records are buffered.
func (c Config) Horizon() time.Duration {
	return c.FramePeriod * time.Duration(c.BufferFrames)
}

// Scheduler runs correlation tasks. *workers.Pool implements it.
type Scheduler interface {
	Submit(t workers.Task) error
	Pending() int64
}

// Periodic runs maintenance on an interval. *workers.Pool implements it.
type Periodic interface {
	Every(interval time.Duration, name string, t workers.Task)
}

var (
	_ Scheduler = (*workers.Pool)(nil)
	_ Periodic  = (*workers.Pool)(nil)
)

// ResultHandler receives every counted correlation. It runs on a pool worker
// and must not block.
type ResultHandler func(model.CorrelationResult)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithResultHandler subscribes fn to correlation results.
func WithResultHandler(fn ResultHandler) Option {
	return func(e *Engine) { e.onResult = fn }
}

// WithIDGenerator sets the generator for capture session IDs.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithWallClock overrides the wall clock used for capture start times.
func WithWallClock(now func() time.Time) Option {
	return func(e *Engine) { e.wall = now }
}

// CaptureSessionInfo describes a capture started with StartCapture.
type CaptureSessionInfo struct {
	SessionID   string          `json:"session_id"`
	StartTimeNs model.Timestamp `json:"start_time_ns"`
	StartTimeMs int64           `json:"start_time_ms"`
}

// Engine registers samples from every modality and correlates them.
type Engine struct {
	clock  *clock.MasterClock
	pool   Scheduler
	cfg    Config
	logger *slog.Logger

	onResult ResultHandler
	ids      model.IDGenerator
	wall     func() time.Time

	logs   map[model.Modality]*FrameLog
	seqs   map[model.Modality]*Sequence
	stamps map[model.Modality]*atomic.Int64 // last master-clock stamp
	counts map[model.Modality]*atomic.Uint64
	lat    map[model.Modality]*latencyRing
	pairs  *pairLedger

	capture atomic.Pointer[CaptureSessionInfo]

	inflight sync.Map // uint64 task id -> model.Timestamp
	taskSeq  atomic.Uint64

	// metricsMu is held shared by statistic updates and exclusively by the
	// Metrics snapshot. The registration path never takes it.
	metricsMu  sync.RWMutex
	pairCount  atomic.Uint64
	totalDrift atomic.Uint64
	maxDrift   atomic.Uint64
	bioSynced  atomic.Uint64
	misses     atomic.Uint64
	dropped    atomic.Uint64
	pruned     atomic.Uint64
	congested  atomic.Bool
}

// New creates an engine. clk and pool are shared services owned by the caller.
func New(clk *clock.MasterClock, pool Scheduler, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		clock:  clk,
		pool:   pool,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		ids:    model.UUIDv7Generator{},
		wall:   time.Now,
		logs:   make(map[model.Modality]*FrameLog, len(model.Modalities)),
		seqs:   make(map[model.Modality]*Sequence, len(model.Modalities)),
		stamps: make(map[model.Modality]*atomic.Int64, len(model.Modalities)),
		counts: make(map[model.Modality]*atomic.Uint64, len(model.Modalities)),
		lat:    make(map[model.Modality]*latencyRing, len(model.Modalities)),
		pairs:  newPairLedger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, m := range model.Modalities {
		e.logs[m] = NewFrameLog(m)
		e.seqs[m] = &Sequence{}
		e.stamps[m] = &atomic.Int64{}
		e.counts[m] = &atomic.Uint64{}
		e.lat[m] = &latencyRing{}
	}
	ref := clk.Initialize()
	e.capture.Store(&CaptureSessionInfo{StartTimeNs: ref, StartTimeMs: e.wall().UnixMilli()})
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Start schedules the periodic prune on the maintenance pool.
func (e *Engine) Start(maint Periodic) {
	maint.Every(e.cfg.PruneInterval, "engine.prune", func(ctx context.Context) {
		e.Prune()
	})
}

// StartCapture begins a capture session: the duration baseline and the
// relative-timestamp reference move to now.
func (e *Engine) StartCapture() CaptureSessionInfo {
	info := &CaptureSessionInfo{
		SessionID:   e.ids.Generate(),
		StartTimeNs: e.clock.Now(),
		StartTimeMs: e.wall().UnixMilli(),
	}
	e.capture.Store(info)
	e.logger.Info("engine: capture started",
		"session_id", info.SessionID, "start_ns", int64(info.StartTimeNs))
	return *info
}

// Capture returns the current capture session.
func (e *Engine) Capture() CaptureSessionInfo {
	return *e.capture.Load()
}

// RegisterVideoFrame records a video frame stamped with the master clock.
func (e *Engine) RegisterVideoFrame(presentationTimeUs int64) model.Timestamp {
	return e.Register(model.ModalityVideo, 0, e.seqs[model.ModalityVideo].Next(), model.FrameMeta{
		PresentationTimeUs: presentationTimeUs,
	})
}

// RegisterRawFrame records a raw still frame. imageTimestamp is the sensor's
// hardware timestamp; zero means the producer has none and the master clock
// is used. A negative frameIndex is dropped and counted; the return is 0.
func (e *Engine) RegisterRawFrame(imageTimestamp int64, frameIndex int) model.Timestamp {
	if frameIndex < 0 {
		e.dropped.Add(1)
		e.logger.Warn("engine: raw frame with negative index dropped", "frame_index", frameIndex)
		return 0
	}
	return e.Register(model.ModalityRawFrame, model.Timestamp(imageTimestamp), uint64(frameIndex), model.FrameMeta{
		FrameIndex:    frameIndex,
		CaptureTimeMs: e.wall().UnixMilli(),
	})
}

// RegisterBioSignalSample records a bio-signal reading stamped with the
// master clock. originalTimestamp is the sensor's own timestamp, kept as
// metadata only.
func (e *Engine) RegisterBioSignalSample(value, auxValue float64, originalTimestamp int64) model.Timestamp {
	return e.Register(model.ModalityBioSignal, 0, e.seqs[model.ModalityBioSignal].Next(), model.FrameMeta{
		Value:             value,
		AuxValue:          auxValue,
		OriginalTimestamp: originalTimestamp,
	})
}

// Stamp returns a master-clock timestamp for a sample of modality m.
// The clock only moves in steps of its drift threshold, so stamps within a
// modality are made strictly increasing: a reading at or behind the last
// stamp becomes last+1.
func (e *Engine) Stamp(m model.Modality) model.Timestamp {
	now := int64(e.clock.Now())
	last, ok := e.stamps[m]
	if !ok {
		return model.Timestamp(now)
	}
	for {
		prev := last.Load()
		next := now
		if next <= prev {
			next = prev + 1
		}
		if last.CompareAndSwap(prev, next) {
			return model.Timestamp(next)
		}
	}
}

// Register records a sample and schedules its correlation. A non-positive ts
// is replaced by Stamp(m). Returns the timestamp key used. Never blocks.
func (e *Engine) Register(m model.Modality, ts model.Timestamp, seq uint64, meta model.FrameMeta) model.Timestamp {
	if ts <= 0 {
		ts = e.Stamp(m)
	}
	log, ok := e.logs[m]
	if !ok {
		e.dropped.Add(1)
		e.logger.Warn("engine: sample with unknown modality dropped", "modality", int(m))
		return ts
	}
	rec := model.FrameRecord{
		Modality:   m,
		Timestamp:  ts,
		Sequence:   seq,
		RelativeNs: int64(ts) - int64(e.capture.Load().StartTimeNs),
		Meta:       meta,
	}
	log.Insert(rec)
	e.counts[m].Add(1)
	e.schedule(rec)
	return ts
}

func (e *Engine) schedule(rec model.FrameRecord) {
	id := e.taskSeq.Add(1)
	e.inflight.Store(id, rec.Timestamp)
	enqueued := time.Now()

	err := e.pool.Submit(func(context.Context) {
		defer e.inflight.Delete(id)
		if err := e.correlate(rec); err != nil {
			e.countFailure(err)
		}
		e.lat[rec.Modality].record(time.Since(enqueued))
	})
	if err != nil {
		e.inflight.Delete(id)
		e.dropped.Add(1)
		e.logger.Warn("engine: correlation task rejected",
			"modality", rec.Modality.String(), "sequence", rec.Sequence, "error", err)
		return
	}

	depth := e.pool.Pending()
	if depth > e.cfg.QueueWarnDepth {
		if e.congested.CompareAndSwap(false, true) {
			e.logger.Warn("engine: correlation backlog high",
				"queue_depth", depth, "warn_depth", e.cfg.QueueWarnDepth)
		}
	} else {
		e.congested.Store(false)
	}
}

func (e *Engine) countFailure(err error) {
	if IsCorrelationMiss(err) {
		e.misses.Add(1)
		return
	}
	e.dropped.Add(1)
	e.logger.Warn("engine: correlation failed", "error", err)
}

// correlate finds rec's partner and records the pair. A panic inside the
// step is converted into a correlation fault.
func (e *Engine) correlate(rec model.FrameRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewCorrelationFault(rec, r)
		}
	}()

	switch rec.Modality {
	case model.ModalityVideo:
		window := int64(e.cfg.CorrelationWindow)
		raw, _, ok := e.logs[model.ModalityRawFrame].Nearest(rec.Timestamp, window)
		if !ok {
			return NewCorrelationMiss(rec, window)
		}
		e.recordPair(rec, raw)

	case model.ModalityRawFrame:
		window := int64(e.cfg.CorrelationWindow)
		video, _, ok := e.logs[model.ModalityVideo].Nearest(rec.Timestamp, window)
		if !ok {
			return NewCorrelationMiss(rec, window)
		}
		e.recordPair(video, rec)

	case model.ModalityBioSignal:
		window := int64(e.cfg.BioCorrelationWindow)
		video, drift, ok := e.logs[model.ModalityVideo].Nearest(rec.Timestamp, window)
		if !ok {
			return NewCorrelationMiss(rec, window)
		}
		e.bioSynced.Add(1)
		e.emit(model.CorrelationResult{
			Left:    video,
			Right:   rec,
			DriftNs: drift,
			Quality: model.ClassifyDrift(drift, uint64(e.cfg.MaxTemporalDrift)),
		})
	}
	return nil
}

func (e *Engine) recordPair(video, raw model.FrameRecord) {
	if !e.pairs.claim(pairKey{video: video.Timestamp, raw: raw.Timestamp}) {
		return
	}
	drift := model.Drift(video.Timestamp, raw.Timestamp)

	e.metricsMu.RLock()
	e.pairCount.Add(1)
	e.totalDrift.Add(drift)
	for {
		cur := e.maxDrift.Load()
		if drift <= cur || e.maxDrift.CompareAndSwap(cur, drift) {
			break
		}
	}
	e.metricsMu.RUnlock()

	e.emit(model.CorrelationResult{
		Left:    video,
		Right:   raw,
		DriftNs: drift,
		Quality: model.ClassifyDrift(drift, uint64(e.cfg.MaxTemporalDrift)),
	})
}

func (e *Engine) emit(res model.CorrelationResult) {
	if e.onResult != nil {
		e.onResult(res)
	}
}

// Prune drops records older than the buffer horizon, keeping anything an
// in-flight correlation task may still scan. Returns the number removed.
func (e *Engine) Prune() int {
	now := e.clock.Now()
	cutoff := now - model.Timestamp(e.cfg.Horizon())

	reach := e.cfg.CorrelationWindow
	if e.cfg.BioCorrelationWindow > reach {
		reach = e.cfg.BioCorrelationWindow
	}
	e.inflight.Range(func(_, v any) bool {
		if guard := v.(model.Timestamp) - model.Timestamp(reach); guard < cutoff {
			cutoff = guard
		}
		return true
	})

	removed := 0
	for _, m := range model.Modalities {
		removed += e.logs[m].Prune(cutoff)
	}
	e.pairs.prune(cutoff)
	if removed > 0 {
		e.pruned.Add(uint64(removed))
		e.logger.Debug("engine: pruned old records", "removed", removed, "cutoff_ns", int64(cutoff))
	}
	return removed
}

// Log returns the registration log of m.
func (e *Engine) Log(m model.Modality) *FrameLog {
	return e.logs[m]
}
