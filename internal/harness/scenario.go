package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/capsync/internal/model"
)

// Scenario is one scripted timeline with assertions on its outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// StartNs is the hardware clock reading when the scenario begins.
	// Defaults to DefaultStartNs.
	StartNs int64 `yaml:"start_ns,omitempty"`

	// Config overrides engine and registry tolerances.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after every step has run.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultStartNs is the default hardware clock reading at scenario start.
const DefaultStartNs = int64(10 * time.Second)

// ScenarioConfig overrides tolerances. Zero fields keep the defaults.
type ScenarioConfig struct {
	CorrelationWindow Duration `yaml:"correlation_window,omitempty"`
	MaxTemporalDrift  Duration `yaml:"max_temporal_drift,omitempty"`
	BioWindow         Duration `yaml:"bio_window,omitempty"`
	DriftThreshold    Duration `yaml:"drift_threshold,omitempty"`
	MaxSkew           Duration `yaml:"max_skew,omitempty"`
}

// Step is one timeline action. Exactly one field must be set.
type Step struct {
	Frame    *FrameStep     `yaml:"frame,omitempty"`
	Advance  Duration       `yaml:"advance,omitempty"`
	Register *ComponentStep `yaml:"register,omitempty"`
	Sync     *SyncStep      `yaml:"sync,omitempty"`
	Session  string         `yaml:"session,omitempty"`
	Crash    bool           `yaml:"crash,omitempty"`
	Recover  bool           `yaml:"recover,omitempty"`
}

// FrameStep registers one sample.
type FrameStep struct {
	Modality string `yaml:"modality"`
	// Ts is relative to the scenario start. Nil means stamp with the clock.
	Ts    *int64  `yaml:"ts,omitempty"`
	Index *int    `yaml:"index,omitempty"`
	Value float64 `yaml:"value,omitempty"`
}

// ComponentStep registers a component with the registry.
type ComponentStep struct {
	Component string `yaml:"component"`
	Type      string `yaml:"type"`
}

// SyncStep synchronizes a component whose local clock reads the master
// clock plus Offset.
type SyncStep struct {
	Component string   `yaml:"component"`
	Offset    Duration `yaml:"offset,omitempty"`
}

// Session actions.
const (
	SessionBegin     = "begin"
	SessionRecording = "recording"
	SessionStop      = "stop"
	SessionFail      = "fail"
)

// Assertion checks one aspect of the outcome.
type Assertion struct {
	Type string `yaml:"type"`

	// pair_count, active_sessions
	Count int `yaml:"count,omitempty"`

	// paired, not_paired: relative timestamps.
	Video   *int64  `yaml:"video,omitempty"`
	Other   *int64  `yaml:"other,omitempty"`
	Quality string  `yaml:"quality,omitempty"`
	DriftNs *uint64 `yaml:"drift_ns,omitempty"`

	// metric
	Field  string `yaml:"field,omitempty"`
	Expect any    `yaml:"expect,omitempty"`

	// sync
	Component       string `yaml:"component,omitempty"`
	Success         *bool  `yaml:"success,omitempty"`
	WithinTolerance *bool  `yaml:"within_tolerance,omitempty"`

	// session_state
	Session string `yaml:"session,omitempty"`
	State   string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertPairCount      = "pair_count"
	AssertPaired         = "paired"
	AssertNotPaired      = "not_paired"
	AssertMetric         = "metric"
	AssertSync           = "sync"
	AssertSessionState   = "session_state"
	AssertActiveSessions = "active_sessions"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses "10ms"-style strings. Bare integers are nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var ns int64
	if err := node.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string or integer", node.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.StartNs == 0 {
		scenario.StartNs = DefaultStartNs
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.StartNs < 0 {
		return fmt.Errorf("start_ns must not be negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	set := 0
	if st.Frame != nil {
		set++
		if _, err := model.ParseModality(st.Frame.Modality); err != nil {
			return fmt.Errorf("steps[%d].frame: %w", index, err)
		}
		if st.Frame.Ts != nil && *st.Frame.Ts < 0 {
			return fmt.Errorf("steps[%d].frame: ts must not be negative", index)
		}
	}
	if st.Advance != 0 {
		set++
		if st.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
	}
	if st.Register != nil {
		set++
		if st.Register.Component == "" {
			return fmt.Errorf("steps[%d].register: component is required", index)
		}
		if _, err := model.ParseComponentType(st.Register.Type); err != nil {
			return fmt.Errorf("steps[%d].register: %w", index, err)
		}
	}
	if st.Sync != nil {
		set++
		if st.Sync.Component == "" {
			return fmt.Errorf("steps[%d].sync: component is required", index)
		}
	}
	if st.Session != "" {
		set++
		switch st.Session {
		case SessionBegin, SessionRecording, SessionStop, SessionFail:
		default:
			return fmt.Errorf("steps[%d]: unknown session action %q", index, st.Session)
		}
	}
	if st.Crash {
		set++
	}
	if st.Recover {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, set)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertPairCount, AssertActiveSessions:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertPaired, AssertNotPaired:
		if a.Video == nil || a.Other == nil {
			return fmt.Errorf("assertions[%d]: video and other are required for %s", index, a.Type)
		}
	case AssertMetric:
		if a.Field == "" || a.Expect == nil {
			return fmt.Errorf("assertions[%d]: field and expect are required for metric", index)
		}
	case AssertSync:
		if a.Component == "" {
			return fmt.Errorf("assertions[%d]: component is required for sync", index)
		}
	case AssertSessionState:
		if a.Session == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: session and state are required for session_state", index)
		}
		if _, err := model.ParseRecordingState(a.State); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
