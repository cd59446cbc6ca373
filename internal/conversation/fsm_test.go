package conversation

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
)

func TestFSM_HappyPathTurn(t *testing.T) {
	fsm := NewFSM("call-1")
	assert.Equal(t, StateListening, fsm.State())

	require.NoError(t, fsm.TransitionTo(StateProcessing, TriggerUserSpeechDetected, nil))
	require.NoError(t, fsm.TransitionTo(StateSpeaking, TriggerResponseReady, nil))
	require.NoError(t, fsm.TransitionTo(StateListening, TriggerUtteranceComplete, nil))

	history := fsm.History()
	require.Len(t, history, 3)
	assert.Equal(t, StateListening, history[0].From)
	assert.Equal(t, StateProcessing, history[0].To)
	assert.Equal(t, TriggerUserSpeechDetected, history[0].Trigger)
	for _, tr := range history {
		assert.False(t, tr.Forced)
	}
}

func TestFSM_SelfTransitionIsNoop(t *testing.T) {
	fsm := NewFSM("call-1")
	require.NoError(t, fsm.TransitionTo(StateListening, TriggerUtteranceComplete, nil))
	assert.Empty(t, fsm.History(), "self-transition must not be recorded")
	assert.Equal(t, 0, fsm.InvalidTransitions())
}

func TestFSM_InvalidTransitionRejected(t *testing.T) {
	fsm := NewFSM("call-1")

	err := fsm.TransitionTo(State("terminated"), TriggerResponseReady, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.Equal(t, StateListening, fsm.State(), "rejected transition must not change state")
	assert.Equal(t, 1, fsm.InvalidTransitions())
	assert.Empty(t, fsm.History())
}

func TestFSM_ForceTransitionRecordsFlag(t *testing.T) {
	fsm := NewFSM("call-1")
	require.NoError(t, fsm.TransitionTo(StateProcessing, TriggerUserSpeechDetected, nil))

	fsm.ForceTransition(StateListening, map[string]any{"reason": "pipeline error"})
	assert.Equal(t, StateListening, fsm.State())

	history := fsm.History()
	require.Len(t, history, 2)
	assert.True(t, history[1].Forced)
	assert.Equal(t, TriggerForced, history[1].Trigger)
}

func TestFSM_ResetRestoresInitialState(t *testing.T) {
	fsm := NewFSM("call-1")
	require.NoError(t, fsm.TransitionTo(StateProcessing, TriggerUserSpeechDetected, nil))
	fsm.ForceTransition(StateSpeaking, nil)

	fsm.Reset()
	assert.Equal(t, StateListening, fsm.State())
	assert.Empty(t, fsm.History())
	assert.Equal(t, 0, fsm.InvalidTransitions())
}

func TestFSM_EnterHandlersAndCallbacks(t *testing.T) {
	fsm := NewFSM("call-1")

	var entered []State
	var observed []Transition
	fsm.OnEnter(StateProcessing, func(tr Transition) {
		entered = append(entered, tr.To)
	})
	fsm.OnTransition(func(tr Transition) {
		observed = append(observed, tr)
	})

	require.NoError(t, fsm.TransitionTo(StateProcessing, TriggerUserSpeechDetected, nil))
	require.NoError(t, fsm.TransitionTo(StateSpeaking, TriggerResponseReady, nil))

	assert.Equal(t, []State{StateProcessing}, entered)
	require.Len(t, observed, 2)
	assert.Equal(t, StateSpeaking, observed[1].To)
}

func TestFSM_PanickingHandlerDoesNotRevert(t *testing.T) {
	fsm := NewFSM("call-1")
	fsm.OnEnter(StateProcessing, func(Transition) {
		panic("bad subscriber")
	})

	require.NoError(t, fsm.TransitionTo(StateProcessing, TriggerUserSpeechDetected, nil))
	assert.Equal(t, StateProcessing, fsm.State())
	assert.Len(t, fsm.History(), 1)
}

func TestFSM_WithTemporaryRestoresOnPanic(t *testing.T) {
	fsm := NewFSM("call-1")

	assert.PanicsWithValue(t, "boom", func() {
		fsm.WithTemporary(StateProcessing, TriggerUserSpeechDetected, func() {
			require.Equal(t, StateProcessing, fsm.State())
			panic("boom")
		})
	})
	assert.Equal(t, StateListening, fsm.State())
}

func TestFSM_WithTemporaryAlreadyInTargetState(t *testing.T) {
	fsm := NewFSM("call-1")
	require.NoError(t, fsm.TransitionTo(StateProcessing, TriggerUserSpeechDetected, nil))

	ran := false
	err := fsm.WithTemporary(StateProcessing, TriggerUserSpeechDetected, func() {
		ran = true
		assert.Equal(t, StateProcessing, fsm.State())
	})
	require.NoError(t, err)
	assert.True(t, ran, "body runs even when no entry transition happens")
	assert.Equal(t, StateProcessing, fsm.State(), "no return transition when entry was a no-op")
	historyBefore := len(fsm.History())
	assert.Equal(t, 1, historyBefore, "no extra transitions recorded")
}

func TestFSM_ConcurrentTransitionsSerialized(t *testing.T) {
	fsm := NewFSM("call-1")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Either succeeds or sees a no-op; never corrupts state.
			fsm.TransitionTo(StateProcessing, TriggerUserSpeechDetected, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, StateProcessing, fsm.State())
	assert.Len(t, fsm.History(), 1, "only the first concurrent attempt transitions")
}

func TestFSM_WithTemporaryFailedEntryNoReturnTransition(t *testing.T) {
	fsm := NewFSM("call-1")

	ran := false
	err := fsm.WithTemporary(State("terminated"), TriggerResponseReady, func() {
		ran = true
		assert.Equal(t, StateListening, fsm.State())
	})
	require.NoError(t, err)
	assert.True(t, ran, "body runs in the original state on failed entry")
	assert.Equal(t, StateListening, fsm.State())
	assert.Equal(t, 1, fsm.InvalidTransitions())
	assert.Empty(t, fsm.History())
}
