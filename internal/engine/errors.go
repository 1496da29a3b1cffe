package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/capsync/internal/model"
)

// SyncError represents a fault inside the synchronization subsystem.
//
// Sync errors never reach capture producers. They are returned from internal
// steps, counted, and logged by the caller of that step.
type SyncError struct {
	// Kind identifies the error category.
	Kind SyncErrorKind

	// Message is a human-readable description.
	Message string

	// Modality is the modality of the record involved, if any.
	Modality model.Modality

	// ComponentID identifies the registry component, if any.
	ComponentID string

	// Err is the underlying cause.
	Err error
}

// SyncErrorKind categorizes synchronization faults.
type SyncErrorKind string

const (
	// KindInitializationFailure means clock or table setup failed and a
	// degraded fallback is in use.
	KindInitializationFailure SyncErrorKind = "INITIALIZATION_FAILURE"

	// KindCorrelationMiss means no partner was found within the window.
	KindCorrelationMiss SyncErrorKind = "CORRELATION_MISS"

	// KindCorrelationFault means a correlation task failed unexpectedly.
	KindCorrelationFault SyncErrorKind = "CORRELATION_FAULT"

	// KindDriftExceeded means a component clock diverged beyond the skew ceiling.
	KindDriftExceeded SyncErrorKind = "DRIFT_EXCEEDED"

	// KindPersistenceFailure means a storage operation was abandoned.
	KindPersistenceFailure SyncErrorKind = "PERSISTENCE_FAILURE"

	// KindCrashDetected means a non-terminal session was found at startup.
	KindCrashDetected SyncErrorKind = "CRASH_DETECTED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.ComponentID != "" {
		msg = fmt.Sprintf("%s (component=%s)", msg, e.ComponentID)
	} else if e.Modality != 0 {
		msg = fmt.Sprintf("%s (modality=%s)", msg, e.Modality)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first SyncError in err's chain, or "".
func KindOf(err error) SyncErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsCorrelationMiss returns true if err is a correlation miss.
// Uses errors.As to handle wrapped errors.
func IsCorrelationMiss(err error) bool {
	return KindOf(err) == KindCorrelationMiss
}

// IsDriftExceeded returns true if err reports a component beyond the skew ceiling.
func IsDriftExceeded(err error) bool {
	return KindOf(err) == KindDriftExceeded
}

// IsPersistenceFailure returns true if err is an abandoned storage operation.
func IsPersistenceFailure(err error) bool {
	return KindOf(err) == KindPersistenceFailure
}

// IsCrashDetected returns true if err signals an interrupted session.
func IsCrashDetected(err error) bool {
	return KindOf(err) == KindCrashDetected
}

// NewCorrelationMiss creates a SyncError for a record with no partner.
func NewCorrelationMiss(rec model.FrameRecord, windowNs int64) *SyncError {
	return &SyncError{
		Kind:     KindCorrelationMiss,
		Message:  fmt.Sprintf("no partner within %dns of %d", windowNs, rec.Timestamp),
		Modality: rec.Modality,
	}
}

// NewCorrelationFault creates a SyncError for a failed correlation task.
func NewCorrelationFault(rec model.FrameRecord, cause any) *SyncError {
	return &SyncError{
		Kind:     KindCorrelationFault,
		Message:  fmt.Sprintf("correlation of record %d failed: %v", rec.Sequence, cause),
		Modality: rec.Modality,
	}
}

// NewDriftExceeded creates a SyncError for a diverged component clock.
func NewDriftExceeded(componentID string, driftNs, ceilingNs uint64) *SyncError {
	return &SyncError{
		Kind:        KindDriftExceeded,
		Message:     fmt.Sprintf("drift %dns exceeds ceiling %dns", driftNs, ceilingNs),
		ComponentID: componentID,
	}
}

// NewPersistenceFailure wraps a storage error for an abandoned operation.
func NewPersistenceFailure(op string, err error) *SyncError {
	return &SyncError{
		Kind:    KindPersistenceFailure,
		Message: op,
		Err:     err,
	}
}

// NewCrashDetected reports sessions left non-terminal by a previous run.
func NewCrashDetected(sessionIDs []string) *SyncError {
	return &SyncError{
		Kind:    KindCrashDetected,
		Message: fmt.Sprintf("%d session(s) left active: %v", len(sessionIDs), sessionIDs),
	}
}

// NewInitializationFailure wraps a setup error that forced a degraded fallback.
func NewInitializationFailure(what string, err error) *SyncError {
	return &SyncError{
		Kind:    KindInitializationFailure,
		Message: what,
		Err:     err,
	}
}
