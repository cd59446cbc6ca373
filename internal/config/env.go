package config

import (
	"os"
	"strconv"
	"time"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FromEnv returns the default configuration with environment overrides
// applied. Only the CLI entrypoint uses this; library consumers construct
// the Config record directly.
func FromEnv() *Config {
	cfg := DefaultConfig()

	cfg.MediaServer.URL = getEnv("MEDIA_SERVER_URL", cfg.MediaServer.URL)
	cfg.MediaServer.APIKey = getEnv("MEDIA_SERVER_API_KEY", cfg.MediaServer.APIKey)
	cfg.MediaServer.APISecret = getEnv("MEDIA_SERVER_API_SECRET", cfg.MediaServer.APISecret)

	cfg.Pool.PoolSize = getEnvInt("POOL_SIZE", cfg.Pool.PoolSize)
	cfg.Pool.MaxPoolSize = getEnvInt("MAX_POOL_SIZE", cfg.Pool.MaxPoolSize)
	cfg.Pool.HealthCheckInterval = getEnvDuration("HEALTH_CHECK_INTERVAL", cfg.Pool.HealthCheckInterval)
	cfg.Pool.ConnectionTimeout = getEnvDuration("CONNECTION_TIMEOUT", cfg.Pool.ConnectionTimeout)
	cfg.Pool.MaxReconnectAttempts = getEnvInt("MAX_RECONNECT_ATTEMPTS", cfg.Pool.MaxReconnectAttempts)
	cfg.Pool.ReconnectBaseDelay = getEnvDuration("RECONNECT_BASE_DELAY", cfg.Pool.ReconnectBaseDelay)

	cfg.Rooms.MaxConcurrentRooms = getEnvInt("MAX_CONCURRENT_ROOMS", cfg.Rooms.MaxConcurrentRooms)
	cfg.Rooms.MaxParticipantsPerRoom = getEnvInt("MAX_PARTICIPANTS_PER_ROOM", cfg.Rooms.MaxParticipantsPerRoom)
	cfg.Rooms.MaxAudioTracksPerRoom = getEnvInt("MAX_AUDIO_TRACKS_PER_ROOM", cfg.Rooms.MaxAudioTracksPerRoom)
	cfg.Rooms.MaxVideoTracksPerRoom = getEnvInt("MAX_VIDEO_TRACKS_PER_ROOM", cfg.Rooms.MaxVideoTracksPerRoom)
	cfg.Rooms.EmptyRoomTimeout = getEnvDuration("EMPTY_ROOM_TIMEOUT", cfg.Rooms.EmptyRoomTimeout)

	cfg.Audio.EchoCancellation = getEnvBool("ECHO_CANCELLATION", cfg.Audio.EchoCancellation)
	cfg.Audio.NoiseSuppression = getEnvBool("NOISE_SUPPRESSION", cfg.Audio.NoiseSuppression)
	cfg.Audio.AutoGainControl = getEnvBool("AUTO_GAIN_CONTROL", cfg.Audio.AutoGainControl)

	cfg.Quality.MonitoringInterval = getEnvDuration("MONITORING_INTERVAL", cfg.Quality.MonitoringInterval)
	cfg.Quality.MinSuccessRate = getEnvFloat("MIN_SUCCESS_RATE", cfg.Quality.MinSuccessRate)

	cfg.LLM.URL = getEnv("LLM_URL", cfg.LLM.URL)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.MaxContextTokens = getEnvInt("LLM_MAX_CONTEXT_TOKENS", cfg.LLM.MaxContextTokens)
	cfg.LLM.SystemPrompt = getEnv("LLM_SYSTEM_PROMPT", cfg.LLM.SystemPrompt)

	cfg.STT.URL = getEnv("STT_URL", cfg.STT.URL)
	cfg.STT.StreamURL = getEnv("STT_STREAM_URL", cfg.STT.StreamURL)
	cfg.STT.APIKey = getEnv("STT_API_KEY", cfg.STT.APIKey)
	cfg.STT.Model = getEnv("STT_MODEL", cfg.STT.Model)
	cfg.STT.Language = getEnv("STT_LANGUAGE", cfg.STT.Language)
	cfg.STT.SampleRate = getEnvInt("STT_SAMPLE_RATE", cfg.STT.SampleRate)

	cfg.TTS.URL = getEnv("TTS_URL", cfg.TTS.URL)
	cfg.TTS.APIKey = getEnv("TTS_API_KEY", cfg.TTS.APIKey)
	cfg.TTS.ModelID = getEnv("TTS_MODEL_ID", cfg.TTS.ModelID)
	cfg.TTS.DefaultVoiceID = getEnv("TTS_DEFAULT_VOICE_ID", cfg.TTS.DefaultVoiceID)

	cfg.Orchestrator.MaxConcurrentCalls = getEnvInt("MAX_CONCURRENT_CALLS", cfg.Orchestrator.MaxConcurrentCalls)
	cfg.Orchestrator.ResponseTimeout = getEnvDuration("RESPONSE_TIMEOUT", cfg.Orchestrator.ResponseTimeout)

	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)

	return cfg
}
