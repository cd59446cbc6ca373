package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

type mockLLM struct {
	responses       []string
	failures        int
	calls           int
	contexts        []*models.ConversationContext
	truncateBudgets []int
}

func (m *mockLLM) Generate(ctx context.Context, conv *models.ConversationContext) (*ports.LLMResult, error) {
	m.calls++
	snapshot := *conv
	snapshot.Messages = append([]models.Message(nil), conv.Messages...)
	m.contexts = append(m.contexts, &snapshot)

	if m.failures > 0 {
		m.failures--
		return nil, errors.New("upstream blew up")
	}

	text := "stub response"
	if len(m.responses) > 0 {
		text = m.responses[0]
		m.responses = m.responses[1:]
	}
	return &ports.LLMResult{
		Text:         text,
		Usage:        models.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		FinishReason: "stop",
		ResponseTime: 20 * time.Millisecond,
	}, nil
}

func (m *mockLLM) Stream(ctx context.Context, conv *models.ConversationContext) (<-chan ports.LLMStreamChunk, error) {
	out := make(chan ports.LLMStreamChunk, 2)
	result, err := m.Generate(ctx, conv)
	if err != nil {
		return nil, err
	}
	out <- ports.LLMStreamChunk{Text: result.Text}
	out <- ports.LLMStreamChunk{Done: true}
	close(out)
	return out, nil
}

func (m *mockLLM) ContextTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content)/4 + 4
	}
	return total
}

func (m *mockLLM) TruncateContext(messages []models.Message, budget int) []models.Message {
	m.truncateBudgets = append(m.truncateBudgets, budget)
	if len(messages) > 2 {
		return messages[len(messages)-2:]
	}
	return messages
}

func (m *mockLLM) FallbackResponse(kind domain.FallbackKind) string {
	return "I'm sorry, could you repeat that?"
}

func (m *mockLLM) HealthCheck(ctx context.Context) error { return nil }
func (m *mockLLM) Close() error                          { return nil }

func testLLMConfig() config.LLMConfig {
	cfg := config.DefaultConfig().LLM
	cfg.SummarizationThreshold = 0 // off unless a test opts in
	return cfg
}

func TestProcessUserInput_HappyPath(t *testing.T) {
	llm := &mockLLM{responses: []string{"Hi, how can I help?"}}
	dm := NewDialogueManager("conv-1", llm, testLLMConfig())

	text, turn := dm.ProcessUserInput(context.Background(), "Hello", map[string]string{"source": "stt"})
	assert.Equal(t, "Hi, how can I help?", text)
	require.NotNil(t, turn)
	assert.Equal(t, "Hello", turn.UserText)
	assert.Equal(t, "Hi, how can I help?", turn.AssistantText)
	assert.Equal(t, "stt", turn.Metadata["source"])
	assert.Equal(t, "stop", turn.Metadata["finish_reason"])
	assert.NotContains(t, turn.Metadata, "fallback")

	require.Len(t, dm.Turns(), 1)
	assert.Equal(t, 0, dm.ErrorCount())

	// Context carries both sides of the exchange.
	require.Len(t, llm.contexts, 1)
	view := llm.contexts[0].APIView()
	assert.Equal(t, models.RoleSystem, view[0].Role)
	assert.Equal(t, "Hello", view[len(view)-1].Content)
}

func TestProcessUserInput_FallbackNeverSurfacesError(t *testing.T) {
	llm := &mockLLM{failures: 100}
	dm := NewDialogueManager("conv-1", llm, testLLMConfig())

	text, turn := dm.ProcessUserInput(context.Background(), "Hello", nil)
	assert.Equal(t, "I'm sorry, could you repeat that?", text)
	assert.Equal(t, "true", turn.Metadata["fallback"])
	assert.NotEmpty(t, turn.Metadata["error"])

	assert.Equal(t, 1, dm.ErrorCount())
	require.Len(t, dm.Turns(), 1)
	assert.Equal(t, text, dm.Turns()[0].AssistantText, "fallback text is still a recorded turn")
}

func TestProcessUserInput_SerializedByMutex(t *testing.T) {
	llm := &mockLLM{}
	dm := NewDialogueManager("conv-1", llm, testLLMConfig())

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			dm.ProcessUserInput(context.Background(), "hi", nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Len(t, dm.Turns(), 8)
}

func TestSummarization_ReplacesContextWithSummary(t *testing.T) {
	cfg := testLLMConfig()
	cfg.SummarizationThreshold = 3

	llm := &mockLLM{responses: []string{"r1", "r2", "r3", "the caller asked about billing", "r4"}}
	dm := NewDialogueManager("conv-1", llm, cfg)

	for _, input := range []string{"one", "two", "three"} {
		dm.ProcessUserInput(context.Background(), input, nil)
	}
	// The fourth turn crosses the threshold and triggers summarization first.
	dm.ProcessUserInput(context.Background(), "four", nil)

	// Call 4 was the summarization request with the concatenated block.
	summaryCtx := llm.contexts[3]
	require.Len(t, summaryCtx.Messages, 1)
	assert.Contains(t, summaryCtx.Messages[0].Content, "User: one")
	assert.Contains(t, summaryCtx.Messages[0].Content, "Assistant: r1")

	// Call 5 is the real generation over the condensed context.
	genCtx := llm.contexts[4]
	require.NotEmpty(t, genCtx.Messages)
	assert.Equal(t, models.RoleSystem, genCtx.Messages[0].Role)
	assert.Contains(t, genCtx.Messages[0].Content, "Previous conversation summary: the caller asked about billing")

	summary := dm.Summary()
	assert.Equal(t, "the caller asked about billing", summary.SummaryText)
}

func TestSummarizationFailure_LoggedAndSkipped(t *testing.T) {
	cfg := testLLMConfig()
	cfg.SummarizationThreshold = 2

	llm := &mockLLM{responses: []string{"r1", "r2"}}
	dm := NewDialogueManager("conv-1", llm, cfg)

	dm.ProcessUserInput(context.Background(), "one", nil)
	dm.ProcessUserInput(context.Background(), "two", nil)

	// Summarization on turn 3 fails; the turn itself must still succeed.
	llm.failures = 1
	llm.responses = []string{"r3"}
	text, turn := dm.ProcessUserInput(context.Background(), "three", nil)
	assert.Equal(t, "r3", text)
	assert.NotContains(t, turn.Metadata, "fallback")
	assert.Equal(t, 0, dm.ErrorCount())
	assert.Empty(t, dm.Summary().SummaryText)
}

func TestTruncation_BudgetExcludesSystemPrompt(t *testing.T) {
	cfg := testLLMConfig()
	cfg.MaxContextTokens = 40
	cfg.SystemPrompt = "be concise and polite"

	llm := &mockLLM{}
	dm := NewDialogueManager("conv-1", llm, cfg)

	// Long inputs push the API view past the watermark and force truncation.
	long := strings.Repeat("words and more words ", 10)
	dm.ProcessUserInput(context.Background(), long, nil)
	dm.ProcessUserInput(context.Background(), long, nil)

	require.NotEmpty(t, llm.truncateBudgets)
	promptCost := llm.ContextTokens([]models.Message{{Role: models.RoleSystem, Content: cfg.SystemPrompt}})
	for _, budget := range llm.truncateBudgets {
		assert.Equal(t, cfg.MaxContextTokens-promptCost, budget,
			"the message budget must leave room for the system prompt")
	}
}

func TestQualityScores_InRange(t *testing.T) {
	llm := &mockLLM{failures: 2}
	dm := NewDialogueManager("conv-1", llm, testLLMConfig())

	dm.ProcessUserInput(context.Background(), "one", nil)
	dm.ProcessUserInput(context.Background(), "two", nil)
	dm.ProcessUserInput(context.Background(), "three", nil)

	q := dm.Quality()
	for name, score := range map[string]float64{
		"response_time":      q.ResponseTime,
		"error":              q.Error,
		"context_efficiency": q.ContextEfficiency,
		"fallback":           q.Fallback,
		"overall":            q.Overall,
	} {
		assert.GreaterOrEqual(t, score, 0.0, name)
		assert.LessOrEqual(t, score, 1.0, name)
	}

	// Two of three turns failed over.
	assert.InDelta(t, 1.0/3.0, q.Error, 1e-9)
	assert.InDelta(t, 1.0/3.0, q.Fallback, 1e-9)
}

func TestTopics_LimitAndShape(t *testing.T) {
	llm := &mockLLM{}
	dm := NewDialogueManager("conv-1", llm, testLLMConfig())

	dm.ProcessUserInput(context.Background(), "I need help with my invoice and billing account", nil)
	dm.ProcessUserInput(context.Background(), "the invoice number is wrong on the billing statement", nil)
	dm.ProcessUserInput(context.Background(),
		strings.Join([]string{"alpha1", "bravo2", "charlie3", "deltas", "echoes", "foxtrot",
			"guitar", "hotels", "indigo", "juliet", "kilogram", "limabeans"}, " "), nil)

	topics := dm.Summary().Topics
	assert.LessOrEqual(t, len(topics), 10)
	assert.Contains(t, topics, "invoice")
	assert.Contains(t, topics, "billing")
	for _, topic := range topics {
		assert.Greater(t, len(topic), 4)
		assert.Equal(t, strings.ToLower(topic), topic)
	}
}

func TestServiceLatencyAndInterruptions(t *testing.T) {
	llm := &mockLLM{}
	dm := NewDialogueManager("conv-1", llm, testLLMConfig())

	dm.RecordServiceLatency("stt", 120*time.Millisecond)
	dm.RecordInterruption()
	dm.ProcessUserInput(context.Background(), "hello", nil)

	summary := dm.Summary()
	assert.Equal(t, 1, summary.TotalTurns)
	assert.Equal(t, models.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, summary.Tokens)
}
