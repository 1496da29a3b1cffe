package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/capsync/internal/model"
)

func TestSyncError_Message(t *testing.T) {
	rec := model.FrameRecord{Modality: model.ModalityVideo, Timestamp: 1_000, Sequence: 3}
	err := NewCorrelationMiss(rec, 500)
	assert.Equal(t, "CORRELATION_MISS: no partner within 500ns of 1000 (modality=video)", err.Error())

	drift := NewDriftExceeded("cam-1", 6_000_000, 5_000_000)
	assert.Equal(t, "DRIFT_EXCEEDED: drift 6000000ns exceeds ceiling 5000000ns (component=cam-1)", drift.Error())
}

func TestSyncError_KindHelpersUnwrap(t *testing.T) {
	rec := model.FrameRecord{Modality: model.ModalityRawFrame}
	wrapped := fmt.Errorf("correlate: %w", NewCorrelationMiss(rec, 1))

	assert.True(t, IsCorrelationMiss(wrapped))
	assert.False(t, IsDriftExceeded(wrapped))
	assert.Equal(t, KindCorrelationMiss, KindOf(wrapped))
	assert.Equal(t, SyncErrorKind(""), KindOf(errors.New("plain")))

	cause := errors.New("disk full")
	pe := &SyncError{Kind: KindPersistenceFailure, Message: "update session", Err: cause}
	assert.True(t, IsPersistenceFailure(pe))
	assert.ErrorIs(t, pe, cause)
	assert.Contains(t, pe.Error(), "disk full")

	assert.True(t, IsCrashDetected(&SyncError{Kind: KindCrashDetected}))
}

func TestSyncError_Constructors(t *testing.T) {
	crash := NewCrashDetected([]string{"a", "b"})
	assert.Equal(t, "CRASH_DETECTED: 2 session(s) left active: [a b]", crash.Error())

	cause := errors.New("no boottime")
	initErr := NewInitializationFailure("hardware clock", cause)
	assert.Equal(t, KindInitializationFailure, KindOf(initErr))
	assert.ErrorIs(t, initErr, cause)

	pf := NewPersistenceFailure("update session s1", cause)
	assert.True(t, IsPersistenceFailure(fmt.Errorf("recover: %w", pf)))
	assert.Equal(t, "PERSISTENCE_FAILURE: update session s1: no boottime", pf.Error())
}
