package model

import "fmt"

// Timestamp is a signed nanosecond reading from the process master clock.
// Ordering is meaningful only within one continuous run.
type Timestamp int64

// Nanos returns the raw nanosecond value.
func (t Timestamp) Nanos() int64 {
	return int64(t)
}

// Sub returns t - u in nanoseconds.
func (t Timestamp) Sub(u Timestamp) int64 {
	return int64(t) - int64(u)
}

// Drift returns the absolute difference between two timestamps.
func Drift(a, b Timestamp) uint64 {
	if a >= b {
		return uint64(a - b)
	}
	return uint64(b - a)
}

// Modality identifies the capture stream a sample came from.
type Modality int

const (
	// ModalityVideo is the encoded video stream.
	ModalityVideo Modality = iota + 1
	// ModalityRawFrame is the high-resolution still / raw-frame stream.
	ModalityRawFrame
	// ModalityBioSignal is the wearable galvanic-skin-response sensor.
	ModalityBioSignal
)

// Modalities lists every modality in reporting order.
var Modalities = []Modality{ModalityVideo, ModalityRawFrame, ModalityBioSignal}

func (m Modality) String() string {
	switch m {
	case ModalityVideo:
		return "video"
	case ModalityRawFrame:
		return "raw_frame"
	case ModalityBioSignal:
		return "bio_signal"
	default:
		return fmt.Sprintf("modality(%d)", int(m))
	}
}

// ParseModality is the inverse of Modality.String.
func ParseModality(s string) (Modality, error) {
	for _, m := range Modalities {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown modality %q", s)
}
