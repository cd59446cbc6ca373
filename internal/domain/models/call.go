package models

import (
	"sync"
	"time"
)

// CallContext is the immutable identity of one phone call session.
type CallContext struct {
	CallID           string            `json:"call_id"`
	CallerIdentifier string            `json:"caller_identifier"`
	StartTime        time.Time         `json:"start_time"`
	MediaRoomID      string            `json:"media_room_id"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// CallMetrics tracks monotonic counters and timings for one call. It is
// created with the call and folded into aggregate metrics when it ends.
type CallMetrics struct {
	mu sync.Mutex

	CallID          string
	TurnsAttempted  int64
	SuccessfulTurns int64
	FailedTurns     int64
	BytesReceived   int64
	BytesSent       int64

	LastSTTLatency time.Duration
	LastLLMLatency time.Duration
	LastTTSLatency time.Duration

	FirstAudioAt time.Time
	LastActivity time.Time
}

func NewCallMetrics(callID string) *CallMetrics {
	now := time.Now()
	return &CallMetrics{
		CallID:       callID,
		LastActivity: now,
	}
}

func (m *CallMetrics) RecordAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TurnsAttempted++
	m.LastActivity = time.Now()
}

func (m *CallMetrics) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SuccessfulTurns++
	m.LastActivity = time.Now()
}

func (m *CallMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailedTurns++
	m.LastActivity = time.Now()
}

func (m *CallMetrics) AddBytesReceived(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BytesReceived += int64(n)
	if m.FirstAudioAt.IsZero() {
		m.FirstAudioAt = time.Now()
	}
	m.LastActivity = time.Now()
}

func (m *CallMetrics) AddBytesSent(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BytesSent += int64(n)
	m.LastActivity = time.Now()
}

func (m *CallMetrics) RecordServiceLatency(stt, llm, tts time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stt > 0 {
		m.LastSTTLatency = stt
	}
	if llm > 0 {
		m.LastLLMLatency = llm
	}
	if tts > 0 {
		m.LastTTSLatency = tts
	}
}

// CallMetricsSnapshot is a copyable view of CallMetrics.
type CallMetricsSnapshot struct {
	CallID          string        `json:"call_id"`
	TurnsAttempted  int64         `json:"turns_attempted"`
	SuccessfulTurns int64         `json:"successful_turns"`
	FailedTurns     int64         `json:"failed_turns"`
	BytesReceived   int64         `json:"bytes_received"`
	BytesSent       int64         `json:"bytes_sent"`
	LastSTTLatency  time.Duration `json:"last_stt_latency"`
	LastLLMLatency  time.Duration `json:"last_llm_latency"`
	LastTTSLatency  time.Duration `json:"last_tts_latency"`
	FirstAudioAt    time.Time     `json:"first_audio_at"`
	LastActivity    time.Time     `json:"last_activity"`
}

func (m *CallMetrics) Snapshot() CallMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CallMetricsSnapshot{
		CallID:          m.CallID,
		TurnsAttempted:  m.TurnsAttempted,
		SuccessfulTurns: m.SuccessfulTurns,
		FailedTurns:     m.FailedTurns,
		BytesReceived:   m.BytesReceived,
		BytesSent:       m.BytesSent,
		LastSTTLatency:  m.LastSTTLatency,
		LastLLMLatency:  m.LastLLMLatency,
		LastTTSLatency:  m.LastTTSLatency,
		FirstAudioAt:    m.FirstAudioAt,
		LastActivity:    m.LastActivity,
	}
}
