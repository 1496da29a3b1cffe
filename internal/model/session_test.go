package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []RecordingState{
	StateIdle, StateStarting, StateRecording, StateStopping, StateCompleted, StateFailed,
}

func TestRecordingState_HappyPath(t *testing.T) {
	path := []RecordingState{StateIdle, StateStarting, StateRecording, StateStopping, StateCompleted}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, path[i].CanTransitionTo(path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestRecordingState_CompletedToRecordingRejected(t *testing.T) {
	assert.False(t, StateCompleted.CanTransitionTo(StateRecording))
}

func TestRecordingState_RecordingToFailedAccepted(t *testing.T) {
	assert.True(t, StateRecording.CanTransitionTo(StateFailed))
}

func TestRecordingState_EveryNonTerminalReachesFailed(t *testing.T) {
	for _, s := range allStates {
		if s.Terminal() {
			continue
		}
		assert.True(t, s.CanTransitionTo(StateFailed), "%s should reach FAILED", s)
	}
}

func TestRecordingState_TerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range []RecordingState{StateCompleted, StateFailed} {
		for _, to := range allStates {
			if to == from {
				continue
			}
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestRecordingState_NoSkippingStates(t *testing.T) {
	assert.False(t, StateIdle.CanTransitionTo(StateRecording))
	assert.False(t, StateStarting.CanTransitionTo(StateCompleted))
	assert.False(t, StateRecording.CanTransitionTo(StateStarting))
}

func TestRecordingState_SameStateIsNoop(t *testing.T) {
	for _, s := range allStates {
		assert.True(t, s.CanTransitionTo(s))
	}
	assert.False(t, RecordingState("BOGUS").CanTransitionTo("BOGUS"))
}

func TestRecordingState_Active(t *testing.T) {
	assert.True(t, StateStarting.Active())
	assert.True(t, StateRecording.Active())
	assert.False(t, StateStopping.Active())
	assert.False(t, StateIdle.Active())
	assert.False(t, StateFailed.Active())
}

func TestParseRecordingState(t *testing.T) {
	s, err := ParseRecordingState("RECORDING")
	require.NoError(t, err)
	assert.Equal(t, StateRecording, s)

	_, err = ParseRecordingState("recording")
	assert.Error(t, err)
}
