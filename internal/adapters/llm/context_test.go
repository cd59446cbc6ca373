package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
)

func newTestFacade() *Facade {
	cfg := config.DefaultConfig()
	return New(cfg.LLM, cfg.Retry, cfg.Breaker)
}

func TestCharEstimator(t *testing.T) {
	est := CharEstimator{}
	assert.Equal(t, 0, est.EstimateTokens(""))
	assert.Equal(t, 1, est.EstimateTokens("hi"))
	assert.Equal(t, 10, est.EstimateTokens(strings.Repeat("a", 40)))
}

func TestContextTokens_IncludesMessageOverhead(t *testing.T) {
	f := newTestFacade()
	messages := []models.Message{
		{Role: models.RoleUser, Content: strings.Repeat("x", 40)},      // 10 tokens
		{Role: models.RoleAssistant, Content: strings.Repeat("y", 80)}, // 20 tokens
	}
	assert.Equal(t, 10+20+2*perMessageOverhead, f.ContextTokens(messages))
}

func TestTruncateContext_NoopWhenWithinBudget(t *testing.T) {
	f := newTestFacade()
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "hello"},
	}
	result := f.TruncateContext(messages, 1000)
	assert.Equal(t, messages, result)
}

func TestTruncateContext_KeepsSystemAndNewest(t *testing.T) {
	f := newTestFacade()

	messages := []models.Message{
		{Role: models.RoleSystem, Content: "you are a phone agent"},
	}
	for i := 0; i < 30; i++ {
		messages = append(messages,
			models.Message{Role: models.RoleUser, Content: strings.Repeat("u", 100)},
			models.Message{Role: models.RoleAssistant, Content: strings.Repeat("a", 100)},
		)
	}

	budget := 300
	result := f.TruncateContext(messages, budget)

	require.NotEmpty(t, result)
	assert.Equal(t, models.RoleSystem, result[0].Role)
	assert.Equal(t, "you are a phone agent", result[0].Content)

	// A synthetic note marks the dropped messages.
	assert.Equal(t, models.RoleSystem, result[1].Role)
	assert.Contains(t, result[1].Content, "earlier messages condensed")

	// Budget invariant: the truncated context fits.
	assert.LessOrEqual(t, f.ContextTokens(result), budget)

	// The newest message survives.
	assert.Equal(t, messages[len(messages)-1].Content, result[len(result)-1].Content)
}

func TestTruncateContext_ChronologicalOrderPreserved(t *testing.T) {
	f := newTestFacade()

	messages := []models.Message{
		{Role: models.RoleUser, Content: strings.Repeat("1", 40)},
		{Role: models.RoleAssistant, Content: strings.Repeat("2", 40)},
		{Role: models.RoleUser, Content: strings.Repeat("3", 40)},
		{Role: models.RoleAssistant, Content: strings.Repeat("4", 40)},
	}

	result := f.TruncateContext(messages, 40)

	var last string
	for _, msg := range result {
		if msg.Role == models.RoleSystem {
			continue
		}
		if last != "" {
			assert.Less(t, last[0], msg.Content[0], "kept messages must stay chronological")
		}
		last = msg.Content
	}
}

func TestFallbackResponse(t *testing.T) {
	f := newTestFacade()

	kinds := []domain.FallbackKind{
		domain.FallbackAPIError,
		domain.FallbackRateLimit,
		domain.FallbackTimeout,
		domain.FallbackContextOverflow,
		domain.FallbackGeneral,
	}
	for _, kind := range kinds {
		text := f.FallbackResponse(kind)
		assert.NotEmpty(t, text, "fallback for %s", kind)
		// Deterministic: same kind, same text.
		assert.Equal(t, text, f.FallbackResponse(kind))
	}

	assert.Equal(t, f.FallbackResponse(domain.FallbackGeneral), f.FallbackResponse("unknown-kind"))
}
