// Package conversation holds the per-call conversation engine: the
// three-state machine and the dialogue manager that owns context and turns.
package conversation

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
)

// State is one of the three conversation states.
type State string

const (
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
)

// Trigger names the event that caused a transition.
type Trigger string

const (
	TriggerUserSpeechDetected      Trigger = "user_speech_detected"
	TriggerAgentInitiatedUtterance Trigger = "agent_initiated_utterance"
	TriggerResponseReady           Trigger = "response_ready"
	TriggerProcessingError         Trigger = "processing_error"
	TriggerLowConfidence           Trigger = "low_confidence"
	TriggerUtteranceComplete       Trigger = "utterance_complete"
	TriggerUserInterruption        Trigger = "user_interruption"
	TriggerForced                  Trigger = "forced"
)

var allowedTransitions = map[State]map[State]bool{
	StateListening: {
		StateProcessing: true,
		StateSpeaking:   true,
	},
	StateProcessing: {
		StateSpeaking:  true,
		StateListening: true,
	},
	StateSpeaking: {
		StateListening:  true,
		StateProcessing: true,
	},
}

// Transition records one state change.
type Transition struct {
	From      State          `json:"from"`
	To        State          `json:"to"`
	Timestamp time.Time      `json:"timestamp"`
	Trigger   Trigger        `json:"trigger"`
	Forced    bool           `json:"forced,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EnterHandler runs when a state is entered. TransitionCallback runs after
// every transition. Panics in either are recovered and logged; the
// transition is never reverted.
type (
	EnterHandler       func(t Transition)
	TransitionCallback func(t Transition)
)

// FSM is the per-call conversation state machine. All mutation is serialized
// by an internal mutex; transitions are linearizable per call.
type FSM struct {
	mu sync.Mutex

	callID    string
	state     State
	enteredAt time.Time

	history        []Transition
	stateDurations map[State]time.Duration
	invalidCount   int

	enterHandlers map[State][]EnterHandler
	callbacks     []TransitionCallback
}

// NewFSM creates a machine in the listening state.
func NewFSM(callID string) *FSM {
	return &FSM{
		callID:         callID,
		state:          StateListening,
		enteredAt:      time.Now(),
		stateDurations: make(map[State]time.Duration),
		enterHandlers:  make(map[State][]EnterHandler),
	}
}

// OnEnter registers a handler invoked whenever the given state is entered.
func (f *FSM) OnEnter(state State, handler EnterHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enterHandlers[state] = append(f.enterHandlers[state], handler)
}

// OnTransition registers a callback invoked after every transition.
func (f *FSM) OnTransition(cb TransitionCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, cb)
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// TransitionTo moves to the target state. A self-transition is a no-op that
// counts as success. An invalid transition is rejected, counted and logged
// without changing state.
func (f *FSM) TransitionTo(target State, trigger Trigger, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == target {
		return nil
	}
	if !allowedTransitions[f.state][target] {
		f.invalidCount++
		slog.Warn("fsm: invalid transition rejected",
			"call_id", f.callID, "from", f.state, "to", target, "trigger", trigger)
		return fmt.Errorf("%w: %s -> %s (trigger %s)", domain.ErrInvalidTransition, f.state, target, trigger)
	}

	f.apply(target, trigger, false, metadata)
	return nil
}

// ForceTransition bypasses validation and records a forced transition. Meant
// for error recovery only.
func (f *FSM) ForceTransition(target State, metadata map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == target {
		return
	}
	f.apply(target, TriggerForced, true, metadata)
}

// apply performs the state change and handler dispatch. Caller holds f.mu.
func (f *FSM) apply(target State, trigger Trigger, forced bool, metadata map[string]any) {
	now := time.Now()
	f.stateDurations[f.state] += now.Sub(f.enteredAt)

	t := Transition{
		From:      f.state,
		To:        target,
		Timestamp: now,
		Trigger:   trigger,
		Forced:    forced,
		Metadata:  metadata,
	}

	f.state = target
	f.enteredAt = now
	f.history = append(f.history, t)

	for _, handler := range f.enterHandlers[target] {
		f.dispatch(handler, t)
	}
	for _, cb := range f.callbacks {
		f.dispatch(cb, t)
	}
}

func (f *FSM) dispatch(fn func(Transition), t Transition) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fsm: handler panicked",
				"call_id", f.callID, "from", t.From, "to", t.To, "panic", r)
		}
	}()
	fn(t)
}

// WithTemporary enters the target state for the duration of body and returns
// to the prior state afterward, even when body panics. If entry fails, body
// runs in the original state and no return transition is issued.
func (f *FSM) WithTemporary(target State, trigger Trigger, body func()) error {
	f.mu.Lock()
	prior := f.state
	entered := false
	if f.state == target {
		entered = false // already there, nothing to restore
	} else if allowedTransitions[f.state][target] {
		f.apply(target, trigger, false, nil)
		entered = true
	} else {
		f.invalidCount++
		slog.Warn("fsm: temporary state entry rejected",
			"call_id", f.callID, "from", f.state, "to", target, "trigger", trigger)
	}
	f.mu.Unlock()

	defer func() {
		if entered {
			f.ForceTransition(prior, map[string]any{"temporary_return": true})
		}
	}()

	body()
	return nil
}

// History returns a copy of the transition records.
func (f *FSM) History() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transition, len(f.history))
	copy(out, f.history)
	return out
}

// StateDurations returns per-state accumulated time, including the time
// spent so far in the current state.
func (f *FSM) StateDurations() map[State]time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[State]time.Duration, len(f.stateDurations))
	for state, d := range f.stateDurations {
		out[state] = d
	}
	out[f.state] += time.Since(f.enteredAt)
	return out
}

// InvalidTransitions reports how many transition attempts were rejected.
func (f *FSM) InvalidTransitions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidCount
}

// Reset restores the initial listening state and clears history and
// accumulators. Registered handlers survive.
func (f *FSM) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateListening
	f.enteredAt = time.Now()
	f.history = nil
	f.stateDurations = make(map[State]time.Duration)
	f.invalidCount = 0
}
