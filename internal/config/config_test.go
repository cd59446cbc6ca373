package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestEffectiveMaxPoolSize(t *testing.T) {
	cfg := PoolConfig{PoolSize: 3}
	assert.Equal(t, 6, cfg.EffectiveMaxPoolSize(), "zero ceiling defaults to twice the initial size")

	cfg.MaxPoolSize = 10
	assert.Equal(t, 10, cfg.EffectiveMaxPoolSize(), "explicit ceiling wins")
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero pool size", func(c *Config) { c.Pool.PoolSize = 0 }},
		{"ceiling below pool size", func(c *Config) { c.Pool.MaxPoolSize = 1; c.Pool.PoolSize = 3 }},
		{"negative reconnect attempts", func(c *Config) { c.Pool.MaxReconnectAttempts = -1 }},
		{"zero concurrent rooms", func(c *Config) { c.Rooms.MaxConcurrentRooms = 0 }},
		{"zero participants", func(c *Config) { c.Rooms.MaxParticipantsPerRoom = 0 }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"sub-one exponential base", func(c *Config) { c.Retry.ExponentialBase = 0.5 }},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"confidence above one", func(c *Config) { c.STT.ConfidenceThreshold = 1.5 }},
		{"zero context tokens", func(c *Config) { c.LLM.MaxContextTokens = 0 }},
		{"zero concurrent calls", func(c *Config) { c.Orchestrator.MaxConcurrentCalls = 0 }},
		{"zero response timeout", func(c *Config) { c.Orchestrator.ResponseTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("MEDIA_SERVER_URL", "wss://media.example.com")
	t.Setenv("POOL_SIZE", "7")
	t.Setenv("LLM_MODEL", "llama-3.3-70b")
	t.Setenv("RESPONSE_TIMEOUT", "15s")
	t.Setenv("ECHO_CANCELLATION", "false")

	cfg := FromEnv()
	assert.Equal(t, "wss://media.example.com", cfg.MediaServer.URL)
	assert.Equal(t, 7, cfg.Pool.PoolSize)
	assert.Equal(t, "llama-3.3-70b", cfg.LLM.Model)
	assert.Equal(t, 15*time.Second, cfg.Orchestrator.ResponseTimeout)
	assert.False(t, cfg.Audio.EchoCancellation)
}

func TestFromEnv_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("POOL_SIZE", "many")
	t.Setenv("RESPONSE_TIMEOUT", "soon")

	cfg := FromEnv()
	defaults := DefaultConfig()
	assert.Equal(t, defaults.Pool.PoolSize, cfg.Pool.PoolSize)
	assert.Equal(t, defaults.Orchestrator.ResponseTimeout, cfg.Orchestrator.ResponseTimeout)
}
