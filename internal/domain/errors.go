package domain

import (
	"context"
	"errors"
)

// Common domain errors
var (
	// Input validation errors - rejected locally, never retried
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidAudio = errors.New("invalid audio payload")
	ErrInvalidText  = errors.New("invalid text payload")
	ErrEmptyContent = errors.New("content cannot be empty")

	// Resilience errors
	ErrBreakerOpen      = errors.New("circuit breaker is open")
	ErrRetriesExhausted = errors.New("retries exhausted")

	// Transcription errors
	ErrLowConfidence       = errors.New("transcription confidence below threshold")
	ErrEmptyTranscription  = errors.New("empty transcription")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrSTTUnavailable      = errors.New("STT service unavailable")

	// LLM errors
	ErrLLMUnavailable    = errors.New("LLM service unavailable")
	ErrLLMRequestFailed  = errors.New("LLM request failed")
	ErrLLMContextTooLong = errors.New("context too long for LLM")

	// Synthesis errors
	ErrTTSUnavailable  = errors.New("TTS service unavailable")
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// Call lifecycle errors
	ErrCallNotFound      = errors.New("call not found")
	ErrCallAlreadyEnded  = errors.New("call already ended")
	ErrCallRejected      = errors.New("call rejected by admission control")
	ErrInvalidTransition = errors.New("invalid conversation state transition")

	// Pool errors
	ErrPoolClosed       = errors.New("connection pool is closed")
	ErrPoolExhausted    = errors.New("connection pool exhausted")
	ErrConnectionFailed = errors.New("media server connection failed")

	// Room errors
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomLimitReached = errors.New("concurrent room limit reached")
	ErrRoomFull         = errors.New("room participant limit reached")
)

// ErrFatal marks unrecoverable invariant violations. The offending call is
// ended; the process keeps serving other calls.
var ErrFatal = errors.New("fatal invariant violation")

// RejectionReason identifies why admission control refused a call.
type RejectionReason string

const (
	RejectionMaxConcurrentCalls  RejectionReason = "max_concurrent_calls_reached"
	RejectionResourceExhausted   RejectionReason = "resource_exhausted"
	RejectionUpstreamUnavailable RejectionReason = "upstream_unavailable"
)

// FallbackKind selects which deterministic fallback response the LLM facade
// returns when an upstream cannot produce a real answer.
type FallbackKind string

const (
	FallbackAPIError        FallbackKind = "api_error"
	FallbackRateLimit       FallbackKind = "rate_limit"
	FallbackTimeout         FallbackKind = "timeout"
	FallbackContextOverflow FallbackKind = "context_overflow"
	FallbackGeneral         FallbackKind = "general"
)

// IsRecoverable reports whether an error should be absorbed by the turn
// pipeline instead of ending the call.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	return !errors.Is(err, ErrFatal)
}

// IsBreakerOpen reports whether a circuit breaker refused the call.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, ErrBreakerOpen)
}

// IsTimeout reports whether the failure was a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}

// IsContextTooLong reports whether the LLM rejected the context size.
func IsContextTooLong(err error) bool {
	return errors.Is(err, ErrLLMContextTooLong)
}
