package model

import "fmt"

// ComponentType classifies a subsystem tracked by the component registry.
type ComponentType int

const (
	ComponentVideoRecorder ComponentType = iota + 1
	ComponentRawCapture
	ComponentBioSignalSensor
	ComponentThermalImaging
	ComponentSystem
	ComponentUserInterface
)

var componentTypeNames = map[ComponentType]string{
	ComponentVideoRecorder:   "video_recorder",
	ComponentRawCapture:      "raw_capture",
	ComponentBioSignalSensor: "bio_signal_sensor",
	ComponentThermalImaging:  "thermal_imaging",
	ComponentSystem:          "system_component",
	ComponentUserInterface:   "user_interface",
}

func (c ComponentType) String() string {
	if name, ok := componentTypeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("component(%d)", int(c))
}

// ParseComponentType is the inverse of ComponentType.String.
func ParseComponentType(name string) (ComponentType, error) {
	for c, n := range componentTypeNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown component type %q", name)
}

// ComponentSyncInfo is a point-in-time copy of one component's
// synchronization statistics.
type ComponentSyncInfo struct {
	ComponentID   string        `json:"component_id"`
	ComponentType ComponentType `json:"component_type"`
	LastSyncTime  Timestamp     `json:"last_sync_time"`
	SyncCount     uint64        `json:"sync_count"`
	TotalDrift    uint64        `json:"total_drift"`
	MaxDrift      uint64        `json:"max_drift"`
	AvgDrift      float64       `json:"avg_drift"`
}

// SyncResult is returned by every synchronize call.
//
// Success is false when the drift exceeds the hard skew ceiling; the attempt is
// still recorded in the component's statistics.
type SyncResult struct {
	Success            bool      `json:"success"`
	CorrectedTimestamp Timestamp `json:"corrected_timestamp"`
	DriftNs            uint64    `json:"drift_ns"`
	WithinTolerance    bool      `json:"within_tolerance"`
}
