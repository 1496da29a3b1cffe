package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/telemetry"
)

// Metrics is a consistent snapshot of synchronization statistics.
type Metrics struct {
	SessionID  string            `json:"session_id,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	Counts     map[string]uint64 `json:"counts"`
	Buffered   map[string]int    `json:"buffered"`

	PairCount           uint64  `json:"pair_count"`
	AvgDriftNs          float64 `json:"avg_drift_ns"`
	MaxDriftNs          uint64  `json:"max_drift_ns"`
	SyncAccuracyPercent float64 `json:"sync_accuracy_percent"`
	WithinTolerance     bool    `json:"within_tolerance"`

	BioSamplesSynced  uint64 `json:"bio_samples_synced"`
	CorrelationMisses uint64 `json:"correlation_misses"`
	DroppedFrames     uint64 `json:"dropped_frames"`
	PrunedRecords     uint64 `json:"pruned_records"`
	QueueDepth        int64  `json:"queue_depth"`

	// AvgProcessingNs is the mean registration-to-correlation latency over
	// the last 100 samples of each modality.
	AvgProcessingNs map[string]float64 `json:"avg_processing_ns"`
}

// Metrics returns the current statistics. The snapshot excludes concurrent
// statistic updates, so PairCount, AvgDriftNs and MaxDriftNs agree.
func (e *Engine) Metrics() Metrics {
	e.metricsMu.Lock()
	pairs := e.pairCount.Load()
	total := e.totalDrift.Load()
	maxDrift := e.maxDrift.Load()
	e.metricsMu.Unlock()

	capture := e.capture.Load()
	m := Metrics{
		SessionID:         capture.SessionID,
		DurationMs:        e.clock.Now().Sub(capture.StartTimeNs) / int64(time.Millisecond),
		Counts:            make(map[string]uint64, len(model.Modalities)),
		Buffered:          make(map[string]int, len(model.Modalities)),
		AvgProcessingNs:   make(map[string]float64, len(model.Modalities)),
		PairCount:         pairs,
		MaxDriftNs:        maxDrift,
		WithinTolerance:   maxDrift <= uint64(e.cfg.MaxTemporalDrift),
		BioSamplesSynced:  e.bioSynced.Load(),
		CorrelationMisses: e.misses.Load(),
		DroppedFrames:     e.dropped.Load(),
		PrunedRecords:     e.pruned.Load(),
		QueueDepth:        e.pool.Pending(),
	}
	if pairs > 0 {
		m.AvgDriftNs = float64(total) / float64(pairs)
	}
	for _, mod := range model.Modalities {
		name := mod.String()
		m.Counts[name] = e.counts[mod].Load()
		m.Buffered[name] = e.logs[mod].Len()
		m.AvgProcessingNs[name] = e.lat[mod].average()
	}
	frames := m.Counts[model.ModalityVideo.String()] + m.Counts[model.ModalityRawFrame.String()]
	if frames > 0 {
		m.SyncAccuracyPercent = float64(pairs) / float64(frames) * 100
	}
	return m
}

// RegisterMetrics exports pair, drift and drop counters as observable gauges.
// Call after telemetry.Init.
func (e *Engine) RegisterMetrics() {
	meter := telemetry.Meter("capsync/engine")

	_, _ = meter.Int64ObservableGauge("capsync.engine.pairs",
		metric.WithDescription("Correlated video/raw pairs"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(e.pairCount.Load()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("capsync.engine.max_drift_ns",
		metric.WithDescription("Largest correlated drift"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(e.maxDrift.Load()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("capsync.engine.dropped_frames",
		metric.WithDescription("Samples whose correlation was rejected or failed"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(e.dropped.Load()))
			return nil
		}),
	)
}
