package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/store"
)

// SessionReader is the store surface used by session assertions.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (model.SessionState, error)
	ActiveSessions(ctx context.Context) ([]model.SessionState, error)
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, st SessionReader) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(ctx, result, a, st); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func evaluate(ctx context.Context, result *Result, a Assertion, st SessionReader) error {
	switch a.Type {
	case AssertPairCount:
		return assertPairCount(result, a.Count)
	case AssertPaired:
		return assertPaired(result, a)
	case AssertNotPaired:
		if ev, ok := findPair(result, *a.Video, *a.Other); ok {
			return fmt.Errorf("expected no pair, found %v", ev.Data)
		}
		return nil
	case AssertMetric:
		return assertMetric(result.Metrics, a.Field, a.Expect)
	case AssertSync:
		return assertSync(result, a)
	case AssertSessionState:
		return assertSessionState(ctx, st, a.Session, a.State)
	case AssertActiveSessions:
		active, err := st.ActiveSessions(ctx)
		if err != nil {
			return err
		}
		if len(active) != a.Count {
			return fmt.Errorf("expected %d active session(s), got %d", a.Count, len(active))
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertPairCount counts video/raw pairs only; bio matches are reported
// through bio_samples_synced.
func assertPairCount(result *Result, want int) error {
	got := 0
	for _, ev := range result.Events(EventPair) {
		if ev.Data["other_modality"] == model.ModalityRawFrame.String() {
			got++
		}
	}
	if got != want {
		return fmt.Errorf("expected %d pair(s), got %d", want, got)
	}
	return nil
}

func findPair(result *Result, video, other int64) (TraceEvent, bool) {
	for _, ev := range result.Events(EventPair) {
		if ev.Data["video_ts"] == video && ev.Data["other_ts"] == other {
			return ev, true
		}
	}
	return TraceEvent{}, false
}

func assertPaired(result *Result, a Assertion) error {
	ev, ok := findPair(result, *a.Video, *a.Other)
	if !ok {
		return fmt.Errorf("no pair between video %d and %d", *a.Video, *a.Other)
	}
	if a.Quality != "" && ev.Data["quality"] != a.Quality {
		return fmt.Errorf("quality: expected %s, got %v", a.Quality, ev.Data["quality"])
	}
	if a.DriftNs != nil && ev.Data["drift_ns"] != *a.DriftNs {
		return fmt.Errorf("drift_ns: expected %d, got %v", *a.DriftNs, ev.Data["drift_ns"])
	}
	return nil
}

// assertMetric compares one metrics field, addressed by its JSON name.
// Nested maps use dots: "counts.video".
func assertMetric(m MetricsSnapshot, field string, expect any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var got any = fields
	for _, part := range strings.Split(field, ".") {
		obj, ok := got.(map[string]any)
		if !ok {
			return fmt.Errorf("unknown metric %q", field)
		}
		if got, ok = obj[part]; !ok {
			return fmt.Errorf("unknown metric %q", field)
		}
	}
	if !valuesEqual(got, expect) {
		return fmt.Errorf("%s: expected %v, got %v", field, expect, got)
	}
	return nil
}

// valuesEqual compares YAML and JSON scalars, treating all numbers as
// float64.
func valuesEqual(got, want any) bool {
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	if gok && wok {
		return gf == wf
	}
	return got == want
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func assertSync(result *Result, a Assertion) error {
	var last *TraceEvent
	for _, ev := range result.Events(EventSync) {
		if ev.Data["component"] == a.Component {
			last = &ev
		}
	}
	if last == nil {
		return fmt.Errorf("component %s was never synchronized", a.Component)
	}
	if msg, ok := last.Data["error"]; ok {
		return fmt.Errorf("last sync of %s failed: %v", a.Component, msg)
	}
	if a.Success != nil && last.Data["success"] != *a.Success {
		return fmt.Errorf("success: expected %v, got %v", *a.Success, last.Data["success"])
	}
	if a.WithinTolerance != nil && last.Data["within_tolerance"] != *a.WithinTolerance {
		return fmt.Errorf("within_tolerance: expected %v, got %v", *a.WithinTolerance, last.Data["within_tolerance"])
	}
	if a.DriftNs != nil && last.Data["drift_ns"] != *a.DriftNs {
		return fmt.Errorf("drift_ns: expected %d, got %v", *a.DriftNs, last.Data["drift_ns"])
	}
	return nil
}

func assertSessionState(ctx context.Context, st SessionReader, id, want string) error {
	got, err := st.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return err
	}
	if string(got.RecordingState) != want {
		return fmt.Errorf("session %s: expected %s, got %s", id, want, got.RecordingState)
	}
	return nil
}
