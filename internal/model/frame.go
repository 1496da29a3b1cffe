package model

// FrameMeta carries the producer-supplied details of a sample.
// Only the fields relevant to the record's modality are populated.
type FrameMeta struct {
	PresentationTimeUs int64   `json:"presentation_time_us,omitempty"`
	FrameIndex         int     `json:"frame_index,omitempty"`
	CaptureTimeMs      int64   `json:"capture_time_ms,omitempty"`
	Value              float64 `json:"value,omitempty"`
	AuxValue           float64 `json:"aux_value,omitempty"`
	OriginalTimestamp  int64   `json:"original_timestamp,omitempty"`
}

// FrameRecord is one timestamped sample in a registration log.
// Immutable once inserted.
type FrameRecord struct {
	Modality  Modality  `json:"modality"`
	Timestamp Timestamp `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`

	// RelativeNs is Timestamp minus the capture start reference.
	RelativeNs int64     `json:"relative_ns"`
	Meta       FrameMeta `json:"meta"`
}

// Quality grades how closely two correlated samples agree.
// Higher values are better; the tier never improves as drift grows.
type Quality int

const (
	QualityPoor Quality = iota + 1
	QualityLow
	QualityMedium
	QualityHigh
	QualityExact
)

func (q Quality) String() string {
	switch q {
	case QualityExact:
		return "exact"
	case QualityHigh:
		return "high"
	case QualityMedium:
		return "medium"
	case QualityLow:
		return "low"
	case QualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// ClassifyDrift maps a drift onto a quality tier relative to the maximum
// tolerable drift: 0 is exact, then quarter, half and full tolerance.
func ClassifyDrift(driftNs, toleranceNs uint64) Quality {
	switch {
	case driftNs == 0:
		return QualityExact
	case driftNs <= toleranceNs/4:
		return QualityHigh
	case driftNs <= toleranceNs/2:
		return QualityMedium
	case driftNs <= toleranceNs:
		return QualityLow
	default:
		return QualityPoor
	}
}

// CorrelationResult pairs two records believed to show the same moment.
// Left is always the video-side record and Right the raw-frame or bio-signal
// side, whichever registration discovered the pair.
type CorrelationResult struct {
	Left    FrameRecord `json:"left"`
	Right   FrameRecord `json:"right"`
	DriftNs uint64      `json:"drift_ns"`
	Quality Quality     `json:"quality"`
}
