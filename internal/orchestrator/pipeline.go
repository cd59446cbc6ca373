package orchestrator

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/metrics"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/conversation"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
)

func recordTurnFailed(m *models.CallMetrics) {
	m.RecordFailure()
	metrics.TurnsTotal.WithLabelValues("failed").Inc()
}

// processTurn runs one listen-process-speak cycle for a call. Errors below
// Fatal never end the call; the FSM is forced back to Listening and the
// failure lands in the call metrics.
func (o *Orchestrator) processTurn(ctx context.Context, state *activeCall) {
	state.turnMu.Lock()
	defer state.turnMu.Unlock()

	state.bufMu.Lock()
	audioBuf := state.buffer
	state.buffer = nil
	state.turnPending = false
	ended := state.ended
	state.bufMu.Unlock()

	if ended || len(audioBuf) == 0 {
		return
	}
	if len(audioBuf) > o.cfg.Orchestrator.AudioBufferSize {
		slog.Warn("pipeline: oversized audio buffer discarded",
			"call_id", state.ctx.CallID, "bytes", len(audioBuf))
		return
	}

	state.metrics.RecordAttempt()
	callID := state.ctx.CallID

	if err := state.fsm.TransitionTo(conversation.StateProcessing, conversation.TriggerUserSpeechDetected, nil); err != nil {
		state.fsm.ForceTransition(conversation.StateProcessing, map[string]any{"recovery": "turn_entry"})
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline: turn panicked", "call_id", callID, "panic", r)
			recordTurnFailed(state.metrics)
			state.fsm.ForceTransition(conversation.StateListening, map[string]any{"recovery": "panic"})
		}
	}()

	// Listen.
	sttStart := time.Now()
	sttResult, err := o.stt.Transcribe(ctx, audioBuf, "audio/pcm")
	sttLatency := time.Since(sttStart)
	state.metrics.RecordServiceLatency(sttLatency, 0, 0)
	metrics.STTRequestDuration.Observe(sttLatency.Seconds())

	if err != nil || sttResult == nil ||
		strings.TrimSpace(sttResult.Text) == "" ||
		sttResult.Confidence < o.cfg.STT.ConfidenceThreshold {
		switch {
		case err != nil:
			slog.Warn("pipeline: transcription failed", "call_id", callID, "error", err)
		case sttResult != nil:
			slog.Debug("pipeline: transcription discarded",
				"call_id", callID,
				"confidence", sttResult.Confidence,
				"threshold", o.cfg.STT.ConfidenceThreshold)
		}
		recordTurnFailed(state.metrics)
		revertErr := state.fsm.TransitionTo(conversation.StateListening, conversation.TriggerLowConfidence, nil)
		if revertErr != nil {
			state.fsm.ForceTransition(conversation.StateListening, nil)
		}
		return
	}
	state.dialogue.RecordServiceLatency("stt", sttLatency)

	// Process. The dialogue manager never returns an error; failures
	// surface as fallback turns.
	assistantText, turn := state.dialogue.ProcessUserInput(ctx, sttResult.Text, map[string]string{
		"stt_confidence": formatConfidence(sttResult.Confidence),
		"stt_latency_ms": formatMillis(sttLatency),
	})

	if err := state.fsm.TransitionTo(conversation.StateSpeaking, conversation.TriggerResponseReady, nil); err != nil {
		state.fsm.ForceTransition(conversation.StateSpeaking, nil)
	}

	// Speak.
	ttsStart := time.Now()
	voice := models.NewVoice(o.cfg.TTS.DefaultVoiceID, 1.0)
	ttsResult, err := o.tts.Synthesize(ctx, assistantText, voice, models.TelephonyFormat())
	ttsLatency := time.Since(ttsStart)
	state.metrics.RecordServiceLatency(0, 0, ttsLatency)
	metrics.TTSRequestDuration.Observe(ttsLatency.Seconds())

	if err != nil {
		slog.Warn("pipeline: synthesis failed, turn recorded without audio",
			"call_id", callID, "error", err)
		recordTurnFailed(state.metrics)
		state.fsm.ForceTransition(conversation.StateListening, map[string]any{"recovery": "tts_failure"})
		return
	}
	state.dialogue.RecordServiceLatency("tts", ttsLatency)

	if o.emitter != nil {
		if err := o.emitter.EmitAudio(callID, ttsResult.Audio); err != nil {
			slog.Warn("pipeline: audio emission failed", "call_id", callID, "error", err)
			recordTurnFailed(state.metrics)
			state.fsm.ForceTransition(conversation.StateListening, map[string]any{"recovery": "emit_failure"})
			return
		}
		state.metrics.AddBytesSent(len(ttsResult.Audio))
	}

	if err := state.fsm.TransitionTo(conversation.StateListening, conversation.TriggerUtteranceComplete, nil); err != nil {
		state.fsm.ForceTransition(conversation.StateListening, nil)
	}
	state.metrics.RecordSuccess()
	metrics.TurnsTotal.WithLabelValues("success").Inc()

	slog.Debug("pipeline: turn completed",
		"call_id", callID,
		"turn_id", turn.TurnID,
		"user_chars", len(sttResult.Text),
		"assistant_chars", len(assistantText),
		"audio_bytes", len(ttsResult.Audio))
}

func formatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', 2, 64)
}

func formatMillis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
