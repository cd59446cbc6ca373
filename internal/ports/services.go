package ports

import (
	"context"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
)

// WordTiming is a per-word timestamp pair from the transcriber.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// STTResult represents one transcription result. Streaming transcription
// yields several with IsFinal=false before the final one. A terminal stream
// failure arrives as a final result carrying Err and no text.
type STTResult struct {
	Text         string       `json:"text"`
	Confidence   float64      `json:"confidence"`
	Language     string       `json:"language,omitempty"`
	Duration     float64      `json:"duration,omitempty"`
	Alternatives []string     `json:"alternatives,omitempty"`
	Words        []WordTiming `json:"words,omitempty"`
	IsFinal      bool         `json:"is_final"`
	Err          error        `json:"-"`
}

// STTService defines the speech-to-text facade.
type STTService interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*STTResult, error)
	// TranscribeStream consumes audio chunks and yields partial and final
	// results. The returned channel is closed when the input channel closes,
	// the context is cancelled, or reconnection attempts are exhausted;
	// exhaustion is reported first as a final result with Err set.
	TranscribeStream(ctx context.Context, chunks <-chan []byte, connectionID string) (<-chan *STTResult, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// LLMResult represents a completed generation.
type LLMResult struct {
	Text         string            `json:"text"`
	Usage        models.TokenUsage `json:"usage"`
	FinishReason string            `json:"finish_reason"`
	ResponseTime time.Duration     `json:"response_time"`
}

// LLMStreamChunk is one piece of a streaming generation.
type LLMStreamChunk struct {
	Text  string `json:"text,omitempty"`
	Done  bool   `json:"done"`
	Error error  `json:"error,omitempty"`
}

// LLMService defines the language-model facade.
type LLMService interface {
	Generate(ctx context.Context, conv *models.ConversationContext) (*LLMResult, error)
	// Stream yields text chunks. If streaming fails mid-generation the facade
	// falls back to Generate and yields the whole result as a single chunk.
	Stream(ctx context.Context, conv *models.ConversationContext) (<-chan LLMStreamChunk, error)
	ContextTokens(messages []models.Message) int
	// TruncateContext keeps system messages and the most recent user and
	// assistant messages that fit the budget, inserting a synthetic note when
	// older messages drop.
	TruncateContext(messages []models.Message, budget int) []models.Message
	FallbackResponse(kind domain.FallbackKind) string
	HealthCheck(ctx context.Context) error
	Close() error
}

// TokenEstimator abstracts tokenization so the real LLM tokenizer can
// replace the rough estimate without touching the dialogue manager.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// TTSResult represents one synthesis result or stream chunk.
type TTSResult struct {
	Audio         []byte             `json:"-"`
	Duration      float64            `json:"duration"`
	Format        models.AudioFormat `json:"format"`
	Characters    int                `json:"characters_processed"`
	SynthesisTime time.Duration      `json:"synthesis_time"`
	Fallback      bool               `json:"fallback,omitempty"`
}

// TTSService defines the text-to-speech facade.
type TTSService interface {
	Synthesize(ctx context.Context, text string, voice models.Voice, format models.AudioFormat) (*TTSResult, error)
	// SynthesizeStream yields audio chunks. On any mid-stream failure it emits
	// one chunk of silence in the requested format instead of failing.
	SynthesizeStream(ctx context.Context, text string, voice models.Voice, format models.AudioFormat) (<-chan *TTSResult, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// RoomInfo is the media server's view of a room.
type RoomInfo struct {
	Name            string `json:"name"`
	SID             string `json:"sid,omitempty"`
	NumParticipants int    `json:"num_participants"`
	CreatedAt       int64  `json:"created_at,omitempty"`
}

// RoomOptions configures room creation against the media server.
type RoomOptions struct {
	EmptyTimeout    time.Duration
	DepartureTimeout time.Duration
	MaxParticipants int
	Metadata        models.RoomMetadata
}

// MediaServerClient is the narrow upstream media-server API surface. Every
// call flows through a pooled connection that owns one client.
type MediaServerClient interface {
	CreateRoom(ctx context.Context, name string, opts RoomOptions) (*RoomInfo, error)
	DeleteRoom(ctx context.Context, name string) error
	ListRooms(ctx context.Context) ([]RoomInfo, error)
	IssueToken(roomName, identity, displayName string) (token string, expiresAt int64, err error)
}

// MediaServerFactory constructs a fresh media-server client, used by the
// connection pool when growing or reconnecting.
type MediaServerFactory func() (MediaServerClient, error)

// AudioEmitter receives synthesized audio bound for the caller. The media
// adapter implements it.
type AudioEmitter interface {
	EmitAudio(callID string, audio []byte) error
}
