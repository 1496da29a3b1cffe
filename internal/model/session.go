package model

import "fmt"

// RecordingState is the lifecycle state of a recording session.
type RecordingState string

const (
	StateIdle      RecordingState = "IDLE"
	StateStarting  RecordingState = "STARTING"
	StateRecording RecordingState = "RECORDING"
	StateStopping  RecordingState = "STOPPING"
	StateCompleted RecordingState = "COMPLETED"
	StateFailed    RecordingState = "FAILED"
)

// allowedTransitions is the session state machine. Failed is reachable from
// every non-terminal state; terminal states have no outgoing edges.
var allowedTransitions = map[RecordingState]map[RecordingState]struct{}{
	StateIdle: {
		StateStarting: {},
		StateFailed:   {},
	},
	StateStarting: {
		StateRecording: {},
		StateFailed:    {},
	},
	StateRecording: {
		StateStopping: {},
		StateFailed:   {},
	},
	StateStopping: {
		StateCompleted: {},
		StateFailed:    {},
	},
}

// Valid reports whether s is one of the known states.
func (s RecordingState) Valid() bool {
	switch s {
	case StateIdle, StateStarting, StateRecording, StateStopping, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s RecordingState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Active reports whether a session in state s implies a live recording loop.
func (s RecordingState) Active() bool {
	return s == StateStarting || s == StateRecording
}

// CanTransitionTo reports whether s -> next is legal. Staying in the same
// state is always legal so that rewriting a row without a state change works.
func (s RecordingState) CanTransitionTo(next RecordingState) bool {
	if s == next {
		return s.Valid()
	}
	_, ok := allowedTransitions[s][next]
	return ok
}

// ParseRecordingState validates a persisted state string.
func ParseRecordingState(v string) (RecordingState, error) {
	s := RecordingState(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown recording state %q", v)
	}
	return s, nil
}

// DeviceState is a snapshot of one sensor inside a session. It is embedded in
// SessionState and is not separately addressable.
type DeviceState struct {
	DeviceID     string `json:"device_id"`
	DeviceType   string `json:"device_type"`
	Connected    bool   `json:"connected"`
	BatteryLevel int    `json:"battery_level"`
	Status       string `json:"status"`
}

// SessionState is the durable lifecycle record of one recording session.
// Wall-clock fields are Unix milliseconds; zero means unset.
type SessionState struct {
	SessionID      string         `json:"session_id"`
	RecordingState RecordingState `json:"recording_state"`
	DeviceStates   []DeviceState  `json:"device_states"`

	CreatedAt int64 `json:"created_at"`
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time,omitempty"`
	UpdatedAt int64 `json:"updated_at"`

	VideoEnabled     bool `json:"video_enabled"`
	RawEnabled       bool `json:"raw_enabled"`
	BioSignalEnabled bool `json:"bio_signal_enabled"`

	ErrorOccurred bool   `json:"error_occurred"`
	ErrorMessage  string `json:"error_message,omitempty"`

	// UndecodedDevices holds the stored device_states text when it could
	// not be decoded. DeviceStates is empty in that case, and writes keep
	// the original text while DeviceStates stays empty.
	UndecodedDevices string `json:"undecoded_devices,omitempty"`
}

// SensorDevice is the long-lived connection/configuration snapshot of a
// paired wearable sensor.
type SensorDevice struct {
	Address         string   `json:"address"`
	Name            string   `json:"name"`
	ConnectionType  string   `json:"connection_type"`
	Connected       bool     `json:"connected"`
	LastConnectedAt int64    `json:"last_connected_at"`
	EnabledSensors  []string `json:"enabled_sensors"`
	SamplingRate    float64  `json:"sampling_rate"`
	GSRRange        int      `json:"gsr_range"`
	BatteryLevel    int      `json:"battery_level"`
	FirmwareVersion string   `json:"firmware_version,omitempty"`
	AutoReconnect   bool     `json:"auto_reconnect"`
	PreferredOrder  int      `json:"preferred_order"`
	LastUpdated     int64    `json:"last_updated"`
}

// ConnectionHistory is one row of the append-only pairing audit log.
type ConnectionHistory struct {
	ID            int64  `json:"id"`
	DeviceAddress string `json:"device_address"`
	Action        string `json:"action"`
	Success       bool   `json:"success"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	DurationMs    int64  `json:"duration_ms"`
}
