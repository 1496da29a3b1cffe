package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/capsync/internal/clock"
	"github.com/roach88/capsync/internal/engine"
	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/recovery"
	"github.com/roach88/capsync/internal/registry"
	"github.com/roach88/capsync/internal/session"
	"github.com/roach88/capsync/internal/store"
	"github.com/roach88/capsync/internal/testutil"
	"github.com/roach88/capsync/internal/workers"
)

// WallClock is the fixed wall-clock time seen by the store, the session
// controller and recovery during a scenario.
var WallClock = time.UnixMilli(1_700_000_000_000)

// inlineScheduler runs each correlation task on the registering goroutine.
type inlineScheduler struct{}

func (inlineScheduler) Submit(t workers.Task) error {
	t(context.Background())
	return nil
}

func (inlineScheduler) Pending() int64 { return 0 }

// Harness holds the services for one scenario run.
type Harness struct {
	src      *testutil.ManualSource
	clock    *clock.MasterClock
	engine   *engine.Engine
	registry *registry.Registry
	store    *store.Store
	sessions *session.Controller
	recovery *recovery.Coordinator
	ids      *testutil.FixedIDGenerator
	logger   *slog.Logger

	start  int64
	seqs   map[model.Modality]uint64
	result *Result
}

// Run executes a scenario in a fresh in-memory store and returns the
// result. An error means the scenario could not be run at all; assertion
// failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wall := func() time.Time { return WallClock }

	st, err := store.Open(":memory:", store.WithLogger(logger), store.WithWallClock(wall))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	start := scenario.StartNs
	if start == 0 {
		start = DefaultStartNs
	}
	src := testutil.NewManualSource(start)
	clk := clock.New(src, clock.WithLogger(logger))

	h := &Harness{
		src:    src,
		clock:  clk,
		store:  st,
		ids:    testutil.NewFixedIDGenerator(),
		logger: logger,
		start:  start,
		seqs:   make(map[model.Modality]uint64),
		result: NewResult(),
	}

	engCfg := engine.DefaultConfig()
	regCfg := registry.DefaultConfig()
	c := scenario.Config
	if c.CorrelationWindow > 0 {
		engCfg.CorrelationWindow = time.Duration(c.CorrelationWindow)
	}
	if c.MaxTemporalDrift > 0 {
		engCfg.MaxTemporalDrift = time.Duration(c.MaxTemporalDrift)
	}
	if c.BioWindow > 0 {
		engCfg.BioCorrelationWindow = time.Duration(c.BioWindow)
	}
	if c.DriftThreshold > 0 {
		regCfg.DriftThreshold = time.Duration(c.DriftThreshold)
	}
	if c.MaxSkew > 0 {
		regCfg.MaxSkew = time.Duration(c.MaxSkew)
	}

	h.engine = engine.New(clk, inlineScheduler{}, engCfg,
		engine.WithLogger(logger),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator("capture-1")),
		engine.WithWallClock(wall),
		engine.WithResultHandler(h.onResult),
	)
	h.registry = registry.New(clk, regCfg, registry.WithLogger(logger), registry.WithLocalSource(src))
	h.sessions = h.newController()
	h.recovery = recovery.New(st, recovery.Config{}, recovery.WithLogger(logger), recovery.WithWallClock(wall))

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	h.result.Metrics = h.snapshot()
	for _, msg := range EvaluateAssertions(ctx, h.result, scenario.Assertions, st) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) newController() *session.Controller {
	return session.New(h.store,
		session.WithLogger(h.logger),
		session.WithIDGenerator(h.ids),
		session.WithWallClock(func() time.Time { return WallClock }),
	)
}

// rel converts a master timestamp to scenario-relative nanoseconds.
func (h *Harness) rel(ts model.Timestamp) int64 {
	return int64(ts) - h.start
}

func (h *Harness) onResult(r model.CorrelationResult) {
	h.result.addEvent(EventPair, map[string]any{
		"video_ts":       h.rel(r.Left.Timestamp),
		"other_ts":       h.rel(r.Right.Timestamp),
		"other_modality": r.Right.Modality.String(),
		"drift_ns":       r.DriftNs,
		"quality":        r.Quality.String(),
	})
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Frame != nil:
		return h.frame(step.Frame)

	case step.Advance != 0:
		h.src.Advance(time.Duration(step.Advance))
		now := h.clock.Now()
		h.result.addEvent(EventAdvance, map[string]any{
			"by_ns":  int64(step.Advance),
			"now_ns": h.rel(now),
		})

	case step.Register != nil:
		typ, err := model.ParseComponentType(step.Register.Type)
		if err != nil {
			return err
		}
		ok := h.registry.Register(step.Register.Component, typ)
		h.result.addEvent(EventRegister, map[string]any{
			"component": step.Register.Component,
			"type":      typ.String(),
			"ok":        ok,
		})

	case step.Sync != nil:
		local := h.clock.Now() + model.Timestamp(step.Sync.Offset)
		res, err := h.registry.Synchronize(step.Sync.Component, local)
		data := map[string]any{"component": step.Sync.Component}
		if err != nil {
			data["error"] = err.Error()
		} else {
			data["drift_ns"] = res.DriftNs
			data["success"] = res.Success
			data["within_tolerance"] = res.WithinTolerance
		}
		h.result.addEvent(EventSync, data)

	case step.Session != "":
		h.session(ctx, step.Session)

	case step.Crash:
		// The live controller is lost; its session row stays active.
		h.sessions = h.newController()
		h.result.addEvent(EventCrash, nil)

	case step.Recover:
		report := h.recovery.RecoverAll(ctx)
		h.result.addEvent(EventRecover, map[string]any{
			"crash_detected": report.CrashDetected,
			"recovered":      nonNil(report.Recovered),
			"failed":         nonNil(report.Failed),
		})

	default:
		return fmt.Errorf("empty step")
	}
	return nil
}

func (h *Harness) frame(f *FrameStep) error {
	m, err := model.ParseModality(f.Modality)
	if err != nil {
		return err
	}

	var ts model.Timestamp
	if f.Ts != nil {
		ts = model.Timestamp(h.start + *f.Ts)
	} else {
		ts = h.engine.Stamp(m)
	}
	seq := h.seqs[m]
	if f.Index != nil {
		seq = uint64(*f.Index)
	}
	h.seqs[m] = seq + 1

	meta := model.FrameMeta{}
	switch m {
	case model.ModalityRawFrame:
		meta.FrameIndex = int(seq)
	case model.ModalityBioSignal:
		meta.Value = f.Value
	}

	// Logged before registering: correlation runs inline and may append
	// a pair event.
	h.result.addEvent(EventFrame, map[string]any{
		"modality": m.String(),
		"ts":       h.rel(ts),
		"seq":      seq,
	})
	h.engine.Register(m, ts, seq, meta)
	return nil
}

func (h *Harness) session(ctx context.Context, action string) {
	var (
		st  model.SessionState
		err error
	)
	switch action {
	case SessionBegin:
		st, err = h.sessions.Begin(ctx, session.Options{Video: true, Raw: true, BioSignal: true})
	case SessionRecording:
		st, err = h.sessions.MarkRecording(ctx)
	case SessionStop:
		st, err = h.sessions.Stop(ctx)
	case SessionFail:
		st, err = h.sessions.Fail(ctx, "failed by scenario")
	}

	data := map[string]any{"action": action}
	if err != nil {
		data["error"] = err.Error()
	} else {
		data["session_id"] = st.SessionID
		data["state"] = string(st.RecordingState)
	}
	h.result.addEvent(EventSession, data)
}

func (h *Harness) snapshot() MetricsSnapshot {
	m := h.engine.Metrics()
	return MetricsSnapshot{
		Counts:              m.Counts,
		PairCount:           m.PairCount,
		AvgDriftNs:          m.AvgDriftNs,
		MaxDriftNs:          m.MaxDriftNs,
		SyncAccuracyPercent: m.SyncAccuracyPercent,
		WithinTolerance:     m.WithinTolerance,
		BioSamplesSynced:    m.BioSamplesSynced,
		CorrelationMisses:   m.CorrelationMisses,
		DroppedFrames:       m.DroppedFrames,
		DurationMs:          m.DurationMs,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
