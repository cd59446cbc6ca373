// Package orchestrator owns per-call lifecycle: admission, the per-call
// conversation engine, the turn pipeline, and aggregate metrics.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/conversation"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

// Handlers are optional lifecycle callbacks. Panics inside them are
// recovered so a bad subscriber cannot break the core.
type Handlers struct {
	OnCallStarted func(call models.CallContext)
	OnCallEnded   func(call models.CallContext, summary models.ConversationSummary)
	OnRejection   func(call models.CallContext, reason domain.RejectionReason)
}

// AggregateMetrics is the orchestrator-wide counter block.
type AggregateMetrics struct {
	TotalCallsHandled int64   `json:"total_calls_handled"`
	SuccessfulCalls   int64   `json:"successful_calls"`
	FailedCalls       int64   `json:"failed_calls"`
	RejectedCalls     int64   `json:"rejected_calls"`
	ActiveCalls       int     `json:"active_calls"`
	TotalTurns        int64   `json:"total_turns"`
	SuccessRate       float64 `json:"success_rate"`
}

// activeCall is the orchestrator's per-call state bundle.
type activeCall struct {
	ctx      models.CallContext
	metrics  *models.CallMetrics
	fsm      *conversation.FSM
	dialogue *conversation.DialogueManager

	turnMu      sync.Mutex // serializes the turn pipeline
	bufMu       sync.Mutex // guards buffer and pending flag
	buffer      []byte
	turnPending bool
	ended       bool
}

// Orchestrator dispatches media-adapter events across concurrent calls.
type Orchestrator struct {
	cfg      config.Config
	stt      ports.STTService
	llm      ports.LLMService
	tts      ports.TTSService
	emitter  ports.AudioEmitter
	handlers Handlers

	mu     sync.Mutex
	calls  map[string]*activeCall
	agg    AggregateMetrics
	closed bool
}

func New(cfg config.Config, stt ports.STTService, llm ports.LLMService, tts ports.TTSService, emitter ports.AudioEmitter, handlers Handlers) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		stt:      stt,
		llm:      llm,
		tts:      tts,
		emitter:  emitter,
		handlers: handlers,
		calls:    make(map[string]*activeCall),
	}
}

// OnCallStart admits a call or fires the rejection handler. Rejection is
// observable but not an error.
func (o *Orchestrator) OnCallStart(call models.CallContext) {
	o.mu.Lock()
	if o.closed {
		o.agg.RejectedCalls++
		o.mu.Unlock()
		o.reject(call, domain.RejectionResourceExhausted)
		return
	}
	if _, exists := o.calls[call.CallID]; exists {
		o.mu.Unlock()
		return
	}
	if len(o.calls) >= o.cfg.Orchestrator.MaxConcurrentCalls {
		o.agg.RejectedCalls++
		o.mu.Unlock()
		o.reject(call, domain.RejectionMaxConcurrentCalls)
		return
	}

	state := &activeCall{
		ctx:      call,
		metrics:  models.NewCallMetrics(call.CallID),
		fsm:      conversation.NewFSM(call.CallID),
		dialogue: conversation.NewDialogueManager(call.CallID, o.llm, o.cfg.LLM),
	}
	o.calls[call.CallID] = state
	o.agg.ActiveCalls = len(o.calls)
	o.mu.Unlock()

	slog.Info("orchestrator: call started",
		"call_id", call.CallID, "caller", call.CallerIdentifier, "room", call.MediaRoomID)
	if o.handlers.OnCallStarted != nil {
		o.safeHandler(func() { o.handlers.OnCallStarted(call) })
	}
}

func (o *Orchestrator) reject(call models.CallContext, reason domain.RejectionReason) {
	slog.Warn("orchestrator: call rejected", "call_id", call.CallID, "reason", reason)
	if o.handlers.OnRejection != nil {
		o.safeHandler(func() { o.handlers.OnRejection(call, reason) })
	}
}

// OnAudioReceived buffers caller audio and schedules a turn once the buffer
// crosses the trigger threshold. Arrivals while a turn is in flight
// coalesce into a single pending run. Audio for unknown calls is dropped.
func (o *Orchestrator) OnAudioReceived(callID string, audio []byte) {
	o.mu.Lock()
	state, ok := o.calls[callID]
	o.mu.Unlock()
	if !ok {
		slog.Debug("orchestrator: audio for unknown call dropped", "call_id", callID)
		return
	}

	state.metrics.AddBytesReceived(len(audio))

	state.bufMu.Lock()
	if len(state.buffer)+len(audio) > o.cfg.Orchestrator.AudioBufferSize {
		// Cap the buffer; the oldest audio wins, the overflow is dropped.
		room := o.cfg.Orchestrator.AudioBufferSize - len(state.buffer)
		if room > 0 {
			state.buffer = append(state.buffer, audio[:room]...)
		}
	} else {
		state.buffer = append(state.buffer, audio...)
	}

	trigger := len(state.buffer) >= o.cfg.Orchestrator.TurnTrigger && !state.turnPending
	if trigger {
		state.turnPending = true
	}
	state.bufMu.Unlock()

	if trigger {
		go o.runTurn(state)
	}
}

// OnCallEnd finalizes a call. Ending an already-ended call is a no-op.
func (o *Orchestrator) OnCallEnd(call models.CallContext) {
	o.mu.Lock()
	state, ok := o.calls[call.CallID]
	if ok {
		delete(o.calls, call.CallID)
		o.agg.ActiveCalls = len(o.calls)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	// Wait for an in-flight turn to complete before folding metrics.
	state.turnMu.Lock()
	state.ended = true
	state.turnMu.Unlock()

	summary := state.dialogue.Summary()
	snap := state.metrics.Snapshot()

	o.mu.Lock()
	o.agg.TotalCallsHandled++
	o.agg.TotalTurns += snap.TurnsAttempted
	if snap.FailedTurns > 0 && snap.SuccessfulTurns == 0 && snap.TurnsAttempted > 0 {
		o.agg.FailedCalls++
	} else {
		o.agg.SuccessfulCalls++
	}
	o.mu.Unlock()

	slog.Info("orchestrator: call ended",
		"call_id", call.CallID,
		"turns", snap.TurnsAttempted,
		"successful_turns", snap.SuccessfulTurns,
		"failed_turns", snap.FailedTurns,
		"duration", summary.Duration)

	if o.handlers.OnCallEnded != nil {
		o.safeHandler(func() { o.handlers.OnCallEnded(call, summary) })
	}
}

func (o *Orchestrator) safeHandler(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: lifecycle handler panicked", "panic", r)
		}
	}()
	fn()
}

// CallMetrics returns the metrics snapshot for one active call.
func (o *Orchestrator) CallMetrics(callID string) (models.CallMetricsSnapshot, bool) {
	o.mu.Lock()
	state, ok := o.calls[callID]
	o.mu.Unlock()
	if !ok {
		return models.CallMetricsSnapshot{}, false
	}
	return state.metrics.Snapshot(), true
}

// ActiveCalls lists the IDs of calls currently in flight.
func (o *Orchestrator) ActiveCalls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.calls))
	for id := range o.calls {
		out = append(out, id)
	}
	return out
}

// Aggregate returns the orchestrator-wide metrics with the success rate
// computed over handled calls.
func (o *Orchestrator) Aggregate() AggregateMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	agg := o.agg
	if agg.TotalCallsHandled > 0 {
		agg.SuccessRate = float64(agg.SuccessfulCalls) / float64(agg.TotalCallsHandled)
	}
	return agg
}

// Close ends every active call and closes the facades. Idempotent.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	active := make([]models.CallContext, 0, len(o.calls))
	for _, state := range o.calls {
		active = append(active, state.ctx)
	}
	o.mu.Unlock()

	for _, call := range active {
		o.OnCallEnd(call)
	}

	var firstErr error
	for _, closer := range []interface{ Close() error }{o.stt, o.llm, o.tts} {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// turnTimeout bounds one listen-process-speak cycle.
func (o *Orchestrator) turnTimeout() time.Duration {
	if o.cfg.Orchestrator.ResponseTimeout > 0 {
		return o.cfg.Orchestrator.ResponseTimeout
	}
	return 10 * time.Second
}

// runTurn drains the buffer and drives the pipeline. Runs on its own
// goroutine; the per-call turn lock keeps turns for one call sequential.
func (o *Orchestrator) runTurn(state *activeCall) {
	ctx, cancel := context.WithTimeout(context.Background(), o.turnTimeout())
	defer cancel()
	o.processTurn(ctx, state)
}
