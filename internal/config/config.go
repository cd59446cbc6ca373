// Package config holds the typed configuration record for the call
// orchestration core. Configuration is supplied programmatically; the env
// overrides in FromEnv exist for the CLI entrypoint only.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the voice agent core.
type Config struct {
	MediaServer  MediaServerConfig  `json:"media_server"`
	Pool         PoolConfig         `json:"pool"`
	Rooms        RoomConfig         `json:"rooms"`
	Audio        AudioConfig        `json:"audio"`
	Quality      QualityConfig      `json:"quality"`
	Retry        RetryConfig        `json:"retry"`
	Breaker      BreakerConfig      `json:"breaker"`
	LLM          LLMConfig          `json:"llm"`
	STT          STTConfig          `json:"stt"`
	TTS          TTSConfig          `json:"tts"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Server       ServerConfig       `json:"server"`
}

// MediaServerConfig holds the upstream media-server API credentials.
type MediaServerConfig struct {
	URL       string `json:"url"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// PoolConfig tunes the media-server connection pool.
type PoolConfig struct {
	PoolSize             int           `json:"pool_size"`
	MaxPoolSize          int           `json:"max_pool_size"` // 0 means 2x PoolSize
	HealthCheckInterval  time.Duration `json:"health_check_interval"`
	ConnectionTimeout    time.Duration `json:"connection_timeout"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `json:"reconnect_base_delay"`
}

// RoomConfig enforces room-level admission limits.
type RoomConfig struct {
	MaxConcurrentRooms      int           `json:"max_concurrent_rooms"`
	MaxParticipantsPerRoom  int           `json:"max_participants_per_room"`
	MaxAudioTracksPerRoom   int           `json:"max_audio_tracks_per_room"`
	MaxVideoTracksPerRoom   int           `json:"max_video_tracks_per_room"`
	EmptyRoomTimeout        time.Duration `json:"empty_room_timeout"`
	DepartureTimeout        time.Duration `json:"departure_timeout"`
	IdleRoomMaxAge          time.Duration `json:"idle_room_max_age"`
}

// AudioConfig carries the media-server audio knobs. The core passes these
// through as room metadata and never interprets them.
type AudioConfig struct {
	TargetLatencyMs  int  `json:"target_latency_ms"`
	BufferSizeMs     int  `json:"buffer_size_ms"`
	JitterBufferMs   int  `json:"jitter_buffer_ms"`
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
	AutoGainControl  bool `json:"auto_gain_control"`
	AdaptiveBitrate  bool `json:"adaptive_bitrate"`
	MinBitrateKbps   int  `json:"min_bitrate_kbps"`
	MaxBitrateKbps   int  `json:"max_bitrate_kbps"`
}

// QualityConfig tunes the health observer.
type QualityConfig struct {
	MonitoringInterval time.Duration `json:"monitoring_interval"`
	ExcellentThreshold float64       `json:"excellent_threshold"`
	GoodThreshold      float64       `json:"good_threshold"`
	FairThreshold      float64       `json:"fair_threshold"`
	PoorThreshold      float64       `json:"poor_threshold"`
	LatencyGoodMs      float64       `json:"latency_good_ms"`
	LatencyPoorMs      float64       `json:"latency_poor_ms"`
	MinSuccessRate     float64       `json:"min_success_rate"`
}

// RetryConfig tunes the resilient executor's retry policy.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts"`
	BaseDelay       time.Duration `json:"base_delay"`
	MaxDelay        time.Duration `json:"max_delay"`
	ExponentialBase float64       `json:"exponential_base"`
	Jitter          bool          `json:"jitter"`
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	SuccessThreshold int           `json:"success_threshold"`
}

// LLMConfig holds language-model facade configuration.
type LLMConfig struct {
	URL                    string        `json:"url"`
	APIKey                 string        `json:"api_key"`
	Model                  string        `json:"model"`
	MaxContextTokens       int           `json:"max_context_tokens"`
	MaxResponseTokens      int           `json:"max_response_tokens"`
	Temperature            float32       `json:"temperature"`
	SummarizationThreshold int           `json:"summarization_threshold"`
	SystemPrompt           string        `json:"system_prompt"`
	RequestTimeout         time.Duration `json:"request_timeout"`
}

// STTConfig holds speech-to-text facade configuration.
type STTConfig struct {
	URL                  string        `json:"url"`
	StreamURL            string        `json:"stream_url"`
	APIKey               string        `json:"api_key"`
	Model                string        `json:"model"`
	Language             string        `json:"language"`
	SampleRate           int           `json:"sample_rate"`
	Channels             int           `json:"channels"`
	Encoding             string        `json:"encoding"`
	InterimResults       bool          `json:"interim_results"`
	EndpointingMs        int           `json:"endpointing_ms"`
	MaxReconnections     int           `json:"max_reconnections"`
	StreamReconnectDelay time.Duration `json:"stream_reconnect_delay"`
	ConfidenceThreshold  float64       `json:"confidence_threshold"`
	RequestTimeout       time.Duration `json:"request_timeout"`
}

// TTSConfig holds text-to-speech facade configuration.
type TTSConfig struct {
	URL            string        `json:"url"`
	APIKey         string        `json:"api_key"`
	ModelID        string        `json:"model_id"`
	DefaultVoiceID string        `json:"default_voice_id"`
	Container      string        `json:"container"`
	SampleRate     int           `json:"sample_rate"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// OrchestratorConfig tunes the call orchestrator.
type OrchestratorConfig struct {
	MaxConcurrentCalls int           `json:"max_concurrent_calls"`
	AudioBufferSize    int           `json:"audio_buffer_size"`
	TurnTrigger        int           `json:"turn_trigger"` // buffer fill that schedules a turn
	ResponseTimeout    time.Duration `json:"response_timeout"`
}

// ServerConfig holds the operational HTTP server (health, metrics).
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MediaServer: MediaServerConfig{
			URL: "ws://localhost:7880",
		},
		Pool: PoolConfig{
			PoolSize:             3,
			MaxPoolSize:          0,
			HealthCheckInterval:  30 * time.Second,
			ConnectionTimeout:    10 * time.Second,
			MaxReconnectAttempts: 5,
			ReconnectBaseDelay:   time.Second,
		},
		Rooms: RoomConfig{
			MaxConcurrentRooms:     50,
			MaxParticipantsPerRoom: 2,
			MaxAudioTracksPerRoom:  4,
			MaxVideoTracksPerRoom:  0,
			EmptyRoomTimeout:       5 * time.Minute,
			DepartureTimeout:       20 * time.Second,
			IdleRoomMaxAge:         time.Hour,
		},
		Audio: AudioConfig{
			TargetLatencyMs:  100,
			BufferSizeMs:     50,
			JitterBufferMs:   60,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
			AdaptiveBitrate:  true,
			MinBitrateKbps:   16,
			MaxBitrateKbps:   64,
		},
		Quality: QualityConfig{
			MonitoringInterval: 30 * time.Second,
			ExcellentThreshold: 0.9,
			GoodThreshold:      0.75,
			FairThreshold:      0.5,
			PoorThreshold:      0.25,
			LatencyGoodMs:      200,
			LatencyPoorMs:      1000,
			MinSuccessRate:     0.95,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			BaseDelay:       500 * time.Millisecond,
			MaxDelay:        10 * time.Second,
			ExponentialBase: 2.0,
			Jitter:          true,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 2,
		},
		LLM: LLMConfig{
			URL:                    "http://localhost:8000/v1",
			Model:                  "gpt-4o-mini",
			MaxContextTokens:       8192,
			MaxResponseTokens:      512,
			Temperature:            0.7,
			SummarizationThreshold: 20,
			SystemPrompt:           "You are a helpful voice assistant on a phone call. Keep answers short and conversational.",
			RequestTimeout:         30 * time.Second,
		},
		STT: STTConfig{
			URL:                  "http://localhost:8001/v1/audio/transcriptions",
			StreamURL:            "ws://localhost:8001/v1/audio/transcriptions/stream",
			Model:                "whisper-large-v3",
			Language:             "en",
			SampleRate:           8000,
			Channels:             1,
			Encoding:             "linear16",
			InterimResults:       true,
			EndpointingMs:        300,
			MaxReconnections:     3,
			StreamReconnectDelay: time.Second,
			ConfidenceThreshold:  0.5,
			RequestTimeout:       30 * time.Second,
		},
		TTS: TTSConfig{
			URL:            "http://localhost:8001/v1/audio/speech",
			ModelID:        "kokoro",
			DefaultVoiceID: "af_sarah",
			Container:      "wav",
			SampleRate:     8000,
			RequestTimeout: 30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentCalls: 20,
			AudioBufferSize:    1 << 20, // 1 MiB per-call cap
			TurnTrigger:        8000,    // ~500 ms of 8 kHz 16-bit mono
			ResponseTimeout:    10 * time.Second,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

// EffectiveMaxPoolSize resolves the pool ceiling: the explicit option when
// set, otherwise twice the initial size.
func (c *PoolConfig) EffectiveMaxPoolSize() int {
	if c.MaxPoolSize > 0 {
		return c.MaxPoolSize
	}
	return c.PoolSize * 2
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Pool.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.Pool.PoolSize)
	}
	if max := c.Pool.EffectiveMaxPoolSize(); max < c.Pool.PoolSize {
		return fmt.Errorf("max_pool_size %d is below pool_size %d", max, c.Pool.PoolSize)
	}
	if c.Pool.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}
	if c.Rooms.MaxConcurrentRooms <= 0 {
		return fmt.Errorf("max_concurrent_rooms must be positive")
	}
	if c.Rooms.MaxParticipantsPerRoom <= 0 {
		return fmt.Errorf("max_participants_per_room must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive")
	}
	if c.Retry.ExponentialBase < 1 {
		return fmt.Errorf("retry exponential_base must be >= 1, got %g", c.Retry.ExponentialBase)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure_threshold must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker success_threshold must be positive")
	}
	if c.STT.ConfidenceThreshold < 0 || c.STT.ConfidenceThreshold > 1 {
		return fmt.Errorf("stt confidence_threshold must be in [0,1], got %g", c.STT.ConfidenceThreshold)
	}
	if c.LLM.MaxContextTokens <= 0 {
		return fmt.Errorf("llm max_context_tokens must be positive")
	}
	if c.Orchestrator.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("max_concurrent_calls must be positive")
	}
	if c.Orchestrator.AudioBufferSize <= 0 {
		return fmt.Errorf("audio_buffer_size must be positive")
	}
	if c.Orchestrator.ResponseTimeout <= 0 {
		return fmt.Errorf("response_timeout must be positive")
	}
	return nil
}
