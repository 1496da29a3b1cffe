package harness

// TraceEvent is one entry of a scenario trace. Data keys are sorted when
// marshalled, so traces compare byte-for-byte.
type TraceEvent struct {
	Seq  int            `json:"seq"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Trace event types.
const (
	EventFrame    = "frame"
	EventPair     = "pair"
	EventAdvance  = "advance"
	EventRegister = "register"
	EventSync     = "sync"
	EventSession  = "session"
	EventCrash    = "crash"
	EventRecover  = "recover"
)

// MetricsSnapshot is the deterministic subset of engine metrics captured at
// the end of a scenario.
type MetricsSnapshot struct {
	Counts              map[string]uint64 `json:"counts"`
	PairCount           uint64            `json:"pair_count"`
	AvgDriftNs          float64           `json:"avg_drift_ns"`
	MaxDriftNs          uint64            `json:"max_drift_ns"`
	SyncAccuracyPercent float64           `json:"sync_accuracy_percent"`
	WithinTolerance     bool              `json:"within_tolerance"`
	BioSamplesSynced    uint64            `json:"bio_samples_synced"`
	CorrelationMisses   uint64            `json:"correlation_misses"`
	DroppedFrames       uint64            `json:"dropped_frames"`
	DurationMs          int64             `json:"duration_ms"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every step and every correlation result in order.
	Trace []TraceEvent `json:"trace"`

	Metrics MetricsSnapshot `json:"metrics"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addEvent appends an event with the next sequence number.
func (r *Result) addEvent(typ string, data map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{Seq: len(r.Trace), Type: typ, Data: data})
}

// Events returns the trace events of one type.
func (r *Result) Events(typ string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
