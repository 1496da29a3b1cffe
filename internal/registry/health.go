package registry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/telemetry"
)

// HealthGrade summarises registry-wide drift.
type HealthGrade string

const (
	GradeExcellent  HealthGrade = "EXCELLENT"
	GradeGood       HealthGrade = "GOOD"
	GradeAcceptable HealthGrade = "ACCEPTABLE"
	GradePoor       HealthGrade = "POOR"
)

// Grade maps average and maximum drift onto a HealthGrade.
func Grade(avgDriftNs float64, maxDriftNs uint64) HealthGrade {
	avg := time.Duration(avgDriftNs)
	peak := time.Duration(maxDriftNs)
	switch {
	case avg < time.Millisecond && peak < 5*time.Millisecond:
		return GradeExcellent
	case avg < 2*time.Millisecond && peak < 10*time.Millisecond:
		return GradeGood
	case avg < 5*time.Millisecond && peak < 20*time.Millisecond:
		return GradeAcceptable
	default:
		return GradePoor
	}
}

// Issue names why a component is unhealthy.
type Issue string

const (
	IssueStale Issue = "stale"
	IssueDrift Issue = "drift"
)

// ComponentHealth is one unhealthy component found by HealthCheck.
type ComponentHealth struct {
	ComponentID string  `json:"component_id"`
	Issue       Issue   `json:"issue"`
	SilentMs    int64   `json:"silent_ms"`
	AvgDriftNs  float64 `json:"avg_drift_ns"`
}

// HealthReport is the outcome of one health check.
type HealthReport struct {
	Checked   int               `json:"checked"`
	Unhealthy []ComponentHealth `json:"unhealthy"`
}

// HealthCheck flags components that have not synchronized within the
// liveness window or whose average drift exceeds the soft threshold.
// A component that recovers is logged once and cleared.
func (r *Registry) HealthCheck() HealthReport {
	now := r.clock.Now()
	liveness := int64(r.cfg.LivenessWindow)
	threshold := float64(r.cfg.DriftThreshold)

	var report HealthReport
	r.components.Range(func(_, v any) bool {
		c := v.(*component)
		report.Checked++

		info := c.info()
		silent := now.Sub(c.lastSeen())

		var issue Issue
		switch {
		case silent > liveness:
			issue = IssueStale
		case info.AvgDrift > threshold:
			issue = IssueDrift
		}

		if issue == "" {
			if c.unhealthy.CompareAndSwap(true, false) {
				r.logger.Info("registry: component healthy again", "component_id", c.id)
			}
			return true
		}

		report.Unhealthy = append(report.Unhealthy, ComponentHealth{
			ComponentID: c.id,
			Issue:       issue,
			SilentMs:    silent / int64(time.Millisecond),
			AvgDriftNs:  info.AvgDrift,
		})
		if c.unhealthy.CompareAndSwap(false, true) {
			r.logger.Warn("registry: component unhealthy",
				"component_id", c.id, "issue", string(issue),
				"silent_ms", silent/int64(time.Millisecond), "avg_drift_ns", info.AvgDrift)
		}
		return true
	})
	return report
}

// EvictIdle unregisters components silent beyond the idle horizon and
// returns their ids.
func (r *Registry) EvictIdle() []string {
	now := r.clock.Now()
	horizon := int64(r.cfg.IdleHorizon)

	var evicted []string
	r.components.Range(func(k, v any) bool {
		c := v.(*component)
		if now.Sub(c.lastSeen()) > horizon {
			if r.components.CompareAndDelete(k, v) {
				r.count.Add(-1)
				evicted = append(evicted, c.id)
			}
		}
		return true
	})
	if len(evicted) > 0 {
		r.logger.Info("registry: evicted idle components", "components", evicted)
	}
	return evicted
}

// ComponentStats is a component's statistics plus its last health verdict.
type ComponentStats struct {
	model.ComponentSyncInfo
	Healthy bool `json:"healthy"`
}

// Statistics is the registry-wide snapshot.
type Statistics struct {
	UptimeMs            int64            `json:"uptime_ms"`
	TotalSyncOperations uint64           `json:"total_sync_operations"`
	AvgDriftNs          float64          `json:"avg_drift_ns"`
	MaxSkewNs           uint64           `json:"max_skew_ns"`
	Components          []ComponentStats `json:"components"`
	Grade               HealthGrade      `json:"grade"`
}

// Statistics returns a consistent registry-wide snapshot.
func (r *Registry) Statistics() Statistics {
	r.statsMu.Lock()
	ops := r.totalOps.Load()
	total := r.totalDrift.Load()
	maxSkew := r.maxSkew.Load()
	var comps []ComponentStats
	for _, info := range r.Components() {
		healthy := true
		if v, ok := r.components.Load(info.ComponentID); ok {
			healthy = !v.(*component).unhealthy.Load()
		}
		comps = append(comps, ComponentStats{ComponentSyncInfo: info, Healthy: healthy})
	}
	r.statsMu.Unlock()

	s := Statistics{
		UptimeMs:            r.clock.Uptime().Milliseconds(),
		TotalSyncOperations: ops,
		MaxSkewNs:           maxSkew,
		Components:          comps,
	}
	if ops > 0 {
		s.AvgDriftNs = float64(total) / float64(ops)
	}
	s.Grade = Grade(s.AvgDriftNs, s.MaxSkewNs)
	return s
}

// RegisterMetrics exports component and sync counts as observable gauges.
// Call after telemetry.Init.
func (r *Registry) RegisterMetrics() {
	meter := telemetry.Meter("capsync/registry")

	_, _ = meter.Int64ObservableGauge("capsync.registry.components",
		metric.WithDescription("Registered components"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.count.Load())
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("capsync.registry.sync_operations",
		metric.WithDescription("Synchronize calls since start"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.totalOps.Load()))
			return nil
		}),
	)
}
