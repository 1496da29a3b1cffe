// Package recovery repairs state left behind by a process that died while
// recording.
//
// A session can only be Starting or Recording while its capture loop is
// alive, so any such row found at startup belongs to a crashed run. The
// Coordinator fails those sessions, deletes the partial artifacts they left
// on disk, and prunes old terminal sessions. Every step is best-effort: one
// session's failure is logged and the sweep continues. Re-running recovery
// is safe.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/capsync/internal/engine"
	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/telemetry"
)

// CrashMessage is written to ErrorMessage of every recovered session.
const CrashMessage = "Session interrupted by application crash"

// DefaultMinArtifactBytes is the smallest media file considered complete.
const DefaultMinArtifactBytes = 1024

// SessionStore is the persistence surface recovery needs. *store.Store
// implements it.
type SessionStore interface {
	ActiveSessions(ctx context.Context) ([]model.SessionState, error)
	GetSession(ctx context.Context, id string) (model.SessionState, error)
	UpdateSession(ctx context.Context, st model.SessionState) error
	DeleteOlderThan(ctx context.Context, cutoffMs int64, terminalOnly bool) (int64, error)
}

// Config tunes the Coordinator.
type Config struct {
	// ArtifactsRoot holds one directory per session ID. Empty disables file
	// cleanup.
	ArtifactsRoot string
	// MinArtifactBytes is the size below which a media file is corrupt.
	MinArtifactBytes int64
	// TempSuffixes mark files that were never finalized.
	TempSuffixes []string
	// MediaExtensions are subject to the minimum size check.
	MediaExtensions []string
}

// DefaultConfig returns the standard heuristics rooted at artifactsRoot.
func DefaultConfig(artifactsRoot string) Config {
	return Config{
		ArtifactsRoot:    artifactsRoot,
		MinArtifactBytes: DefaultMinArtifactBytes,
		TempSuffixes:     []string{".tmp", ".temp", ".part"},
		MediaExtensions:  []string{".mp4", ".mov", ".mkv", ".dng", ".raw", ".jpg", ".jpeg"},
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithWallClock overrides the wall clock used for EndTime and retention.
func WithWallClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator runs crash detection, per-session recovery and artifact
// cleanup.
type Coordinator struct {
	store  SessionStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	recovered    atomic.Uint64
	filesDeleted atomic.Uint64
	failures     atomic.Uint64

	recoveredCounter metric.Int64Counter
	deletedCounter   metric.Int64Counter
}

// New creates a Coordinator over st.
func New(st SessionStore, cfg Config, opts ...Option) *Coordinator {
	if cfg.MinArtifactBytes <= 0 {
		cfg.MinArtifactBytes = DefaultMinArtifactBytes
	}
	def := DefaultConfig(cfg.ArtifactsRoot)
	if cfg.TempSuffixes == nil {
		cfg.TempSuffixes = def.TempSuffixes
	}
	if cfg.MediaExtensions == nil {
		cfg.MediaExtensions = def.MediaExtensions
	}

	c := &Coordinator{
		store:  st,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	meter := telemetry.Meter("capsync/recovery")
	c.recoveredCounter, _ = meter.Int64Counter("capsync.recovery.sessions_recovered",
		metric.WithDescription("Sessions transitioned to FAILED by crash recovery"))
	c.deletedCounter, _ = meter.Int64Counter("capsync.recovery.files_deleted",
		metric.WithDescription("Corrupt or temporary artifacts removed"))
	return c
}

// Detect reports whether any session was left active by a previous run.
// A store error is logged and reported as no crash.
func (c *Coordinator) Detect(ctx context.Context) bool {
	active, err := c.store.ActiveSessions(ctx)
	if err != nil {
		c.logger.Error("recovery: detect",
			"error", engine.NewPersistenceFailure("load active sessions", err))
		return false
	}
	if len(active) == 0 {
		return false
	}
	c.logger.Warn("recovery: crash detected", "error", engine.NewCrashDetected(sessionIDs(active)))
	return true
}

// RecoverSession fails one session and removes its partial artifacts.
// A session that is already terminal is left unchanged.
func (c *Coordinator) RecoverSession(ctx context.Context, sessionID string) error {
	st, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		c.failures.Add(1)
		return fmt.Errorf("recover session %s: %w", sessionID,
			engine.NewPersistenceFailure("load session", err))
	}

	switch st.RecordingState {
	case model.StateFailed:
		c.logger.Info("recovery: session already failed", "session_id", sessionID)
	case model.StateCompleted:
		c.logger.Info("recovery: session completed normally, skipping", "session_id", sessionID)
		return nil
	default:
		from := st.RecordingState
		st.RecordingState = model.StateFailed
		st.ErrorOccurred = true
		st.ErrorMessage = CrashMessage
		if st.EndTime == 0 {
			st.EndTime = c.now().UnixMilli()
		}
		if err := c.store.UpdateSession(ctx, st); err != nil {
			c.failures.Add(1)
			return fmt.Errorf("recover session %s: %w", sessionID,
				engine.NewPersistenceFailure("update session", err))
		}
		c.recovered.Add(1)
		c.recoveredCounter.Add(ctx, 1)
		c.logger.Info("recovery: session failed", "session_id", sessionID, "from", from)
	}

	if _, err := c.CleanupCorruptedData(ctx, sessionID); err != nil {
		c.logger.Warn("recovery: cleanup", "session_id", sessionID, "error", err)
	}
	return nil
}

// Report summarises one RecoverAll or RunStartup pass.
type Report struct {
	CrashDetected  bool     `json:"crash_detected"`
	Recovered      []string `json:"recovered"`
	Failed         []string `json:"failed,omitempty"`
	FilesDeleted   int      `json:"files_deleted"`
	SessionsPruned int64    `json:"sessions_pruned"`
	DurationMs     int64    `json:"duration_ms"`
}

// RecoverAll recovers every active session, then runs a global cleanup pass.
func (c *Coordinator) RecoverAll(ctx context.Context) Report {
	start := c.now()
	var report Report

	active, err := c.store.ActiveSessions(ctx)
	if err != nil {
		c.logger.Error("recovery: load active sessions",
			"error", engine.NewPersistenceFailure("load active sessions", err))
	}
	report.CrashDetected = len(active) > 0

	before := c.filesDeleted.Load()
	for _, st := range active {
		if ctx.Err() != nil {
			break
		}
		if err := c.RecoverSession(ctx, st.SessionID); err != nil {
			c.logger.Error("recovery: session", "session_id", st.SessionID, "error", err)
			report.Failed = append(report.Failed, st.SessionID)
			continue
		}
		report.Recovered = append(report.Recovered, st.SessionID)
	}

	if _, err := c.CleanupCorruptedData(ctx, ""); err != nil {
		c.logger.Warn("recovery: global cleanup", "error", err)
	}
	report.FilesDeleted = int(c.filesDeleted.Load() - before)
	report.DurationMs = c.now().Sub(start).Milliseconds()

	c.logger.Info("recovery: complete",
		"recovered", len(report.Recovered),
		"failed", len(report.Failed),
		"files_deleted", report.FilesDeleted,
	)
	return report
}

// CleanupOldSessions deletes terminal sessions created more than
// retentionDays ago. Returns the number of rows removed.
func (c *Coordinator) CleanupOldSessions(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("cleanup old sessions: retention must be positive, got %d", retentionDays)
	}
	cutoff := c.now().Add(-time.Duration(retentionDays) * 24 * time.Hour).UnixMilli()
	n, err := c.store.DeleteOlderThan(ctx, cutoff, true)
	if err != nil {
		return 0, fmt.Errorf("cleanup old sessions: %w",
			engine.NewPersistenceFailure("delete old sessions", err))
	}
	if n > 0 {
		c.logger.Info("recovery: pruned old sessions", "count", n, "retention_days", retentionDays)
	}
	return n, nil
}

// RunStartup is the application start hook: detect, recover everything
// found, then apply retention. It does not fail on partial errors; the
// returned error only reports a retention failure.
func (c *Coordinator) RunStartup(ctx context.Context, retentionDays int) (Report, error) {
	var report Report
	if c.Detect(ctx) {
		report = c.RecoverAll(ctx)
	}

	if retentionDays <= 0 {
		return report, nil
	}
	n, err := c.CleanupOldSessions(ctx, retentionDays)
	report.SessionsPruned = n
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("recovery: retention", "error", err)
	}
	return report, err
}

// Stats are lifetime counters for this Coordinator.
type Stats struct {
	Recovered    uint64 `json:"recovered"`
	FilesDeleted uint64 `json:"files_deleted"`
	Failures     uint64 `json:"failures"`
}

// Stats returns lifetime counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Recovered:    c.recovered.Load(),
		FilesDeleted: c.filesDeleted.Load(),
		Failures:     c.failures.Load(),
	}
}

func sessionIDs(sessions []model.SessionState) []string {
	ids := make([]string, len(sessions))
	for i, st := range sessions {
		ids[i] = st.SessionID
	}
	return ids
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
