package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/id"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

// Phase names the stage of a turn in flight.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseUnderstanding Phase = "understanding"
	PhaseGeneration    Phase = "generation"
	PhaseResponse      Phase = "response"
)

// truncationWatermark is the share of the token budget past which the
// context gets truncated before generation.
const truncationWatermark = 0.8

// summarizeLastTurns is how many recent turns feed the summarization prompt.
const summarizeLastTurns = 6

// DialogueManager owns one conversation: its context, the ordered turn
// ledger and per-conversation metrics. One manager per call. It never
// surfaces generation errors to callers; failures become fallback turns.
type DialogueManager struct {
	mu sync.Mutex

	conversationID string
	llm            ports.LLMService
	cfg            config.LLMConfig

	conv      *models.ConversationContext
	turns     []models.ConversationTurn
	phase     Phase
	startedAt time.Time

	summaryText string
	topics      *topicExtractor

	// metrics
	errorCount          int
	fallbackResponses   int
	contextTruncations  int
	summarizations      int
	interruptions       int
	totalProcessingTime time.Duration
	tokens              models.TokenUsage
	serviceLatencies    map[string][]time.Duration
}

func NewDialogueManager(conversationID string, llm ports.LLMService, cfg config.LLMConfig) *DialogueManager {
	return &DialogueManager{
		conversationID:   conversationID,
		llm:              llm,
		cfg:              cfg,
		conv:             models.NewConversationContext(conversationID, cfg.SystemPrompt, cfg.MaxContextTokens, cfg.Temperature),
		phase:            PhaseIdle,
		startedAt:        time.Now(),
		topics:           newTopicExtractor(),
		serviceLatencies: make(map[string][]time.Duration),
	}
}

// ProcessUserInput runs one dialogue turn. It always returns a response:
// on any generation failure it records a fallback turn and returns the
// fallback text instead of an error.
func (m *DialogueManager) ProcessUserInput(ctx context.Context, userText string, metadata map[string]string) (string, *models.ConversationTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	m.phase = PhaseUnderstanding
	m.conv.Append(models.RoleUser, userText)
	m.topics.observe(userText)

	m.manageContextSize(ctx)

	m.phase = PhaseGeneration
	result, err := m.llm.Generate(ctx, m.conv)

	var assistantText string
	turn := &models.ConversationTurn{
		TurnID:    id.New(id.PrefixTurn),
		UserText:  userText,
		Timestamp: start,
		Metadata:  map[string]string{},
	}
	for k, v := range metadata {
		turn.Metadata[k] = v
	}

	if err != nil {
		m.errorCount++
		m.fallbackResponses++
		assistantText = m.llm.FallbackResponse(classifyFailure(err))
		turn.Metadata["fallback"] = "true"
		turn.Metadata["error"] = err.Error()
		slog.Warn("dialogue: generation failed, using fallback response",
			"conversation_id", m.conversationID, "error", err)
	} else {
		assistantText = result.Text
		m.tokens.Add(result.Usage)
		m.recordLatencyLocked("llm", result.ResponseTime)
		turn.Metadata["llm_latency_ms"] = fmt.Sprintf("%d", result.ResponseTime.Milliseconds())
		turn.Metadata["prompt_tokens"] = fmt.Sprintf("%d", result.Usage.PromptTokens)
		turn.Metadata["completion_tokens"] = fmt.Sprintf("%d", result.Usage.CompletionTokens)
		turn.Metadata["finish_reason"] = result.FinishReason
	}

	m.conv.Append(models.RoleAssistant, assistantText)
	turn.AssistantText = assistantText
	turn.ProcessingTime = time.Since(start)

	m.turns = append(m.turns, *turn)
	m.totalProcessingTime += turn.ProcessingTime

	m.phase = PhaseResponse
	return assistantText, turn
}

// manageContextSize summarizes at the turn threshold, then truncates when
// the context crosses the watermark. Caller holds m.mu.
func (m *DialogueManager) manageContextSize(ctx context.Context) {
	if m.cfg.SummarizationThreshold > 0 && len(m.turns) >= m.cfg.SummarizationThreshold && len(m.turns)%m.cfg.SummarizationThreshold == 0 {
		m.summarizeLocked(ctx)
	}

	budget := m.conv.MaxTokens
	if budget > 0 && m.llm.ContextTokens(m.conv.APIView()) > int(float64(budget)*truncationWatermark) {
		// The system prompt is stored outside Messages but still rides along
		// in the API view, so its cost comes out of the message budget.
		msgBudget := budget
		if m.conv.SystemPrompt != "" {
			msgBudget -= m.llm.ContextTokens([]models.Message{{Role: models.RoleSystem, Content: m.conv.SystemPrompt}})
		}
		if msgBudget < 0 {
			msgBudget = 0
		}
		m.conv.Messages = m.llm.TruncateContext(m.conv.Messages, msgBudget)
		m.contextTruncations++
	}
}

// summarizeLocked condenses recent history into a single system message.
// Failure is logged and skipped, never raised. Caller holds m.mu.
func (m *DialogueManager) summarizeLocked(ctx context.Context) {
	recent := m.turns
	if len(recent) > summarizeLastTurns {
		recent = recent[len(recent)-summarizeLastTurns:]
	}

	var block strings.Builder
	for _, turn := range recent {
		fmt.Fprintf(&block, "User: %s\nAssistant: %s\n", turn.UserText, turn.AssistantText)
	}

	summaryConv := models.NewConversationContext(
		m.conversationID+"-summary",
		"Summarize the following phone conversation in two or three sentences. Keep names, requests and decisions.",
		m.conv.MaxTokens, 0.3)
	summaryConv.Append(models.RoleUser, block.String())

	result, err := m.llm.Generate(ctx, summaryConv)
	if err != nil {
		slog.Warn("dialogue: summarization failed, skipping",
			"conversation_id", m.conversationID, "error", err)
		return
	}

	m.summaryText = result.Text
	m.summarizations++
	m.tokens.Add(result.Usage)
	m.conv.Messages = []models.Message{{
		Role:      models.RoleSystem,
		Content:   "Previous conversation summary: " + result.Text,
		Timestamp: time.Now(),
	}}
}

func classifyFailure(err error) domain.FallbackKind {
	switch {
	case domain.IsBreakerOpen(err):
		return domain.FallbackRateLimit
	case domain.IsTimeout(err):
		return domain.FallbackTimeout
	case domain.IsContextTooLong(err):
		return domain.FallbackContextOverflow
	default:
		return domain.FallbackAPIError
	}
}

// RecordServiceLatency feeds an observed STT/LLM/TTS latency into the
// conversation metrics.
func (m *DialogueManager) RecordServiceLatency(service string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLatencyLocked(service, latency)
}

func (m *DialogueManager) recordLatencyLocked(service string, latency time.Duration) {
	m.serviceLatencies[service] = append(m.serviceLatencies[service], latency)
}

// RecordInterruption counts a caller barge-in.
func (m *DialogueManager) RecordInterruption() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptions++
}

// Turns returns a copy of the turn ledger.
func (m *DialogueManager) Turns() []models.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ConversationTurn, len(m.turns))
	copy(out, m.turns)
	return out
}

// ErrorCount reports how many turns failed over to a fallback response.
func (m *DialogueManager) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorCount
}

// ContextTruncations reports how many times the context was truncated.
func (m *DialogueManager) ContextTruncations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contextTruncations
}

// Quality computes the conversation quality scores, each in [0, 1].
func (m *DialogueManager) Quality() models.QualityScores {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qualityLocked()
}

func (m *DialogueManager) qualityLocked() models.QualityScores {
	turns := len(m.turns)
	if turns == 0 {
		return models.QualityScores{ResponseTime: 1, Error: 1, ContextEfficiency: 1, Fallback: 1, Overall: 1}
	}

	avgSeconds := m.totalProcessingTime.Seconds() / float64(turns)
	scores := models.QualityScores{
		ResponseTime:      clampScore(1 - avgSeconds/3.0),
		Error:             clampScore(1 - float64(m.errorCount)/float64(turns)),
		ContextEfficiency: clampScore(1 - float64(m.contextTruncations)/float64(turns)),
		Fallback:          clampScore(1 - float64(m.fallbackResponses)/float64(turns)),
	}
	scores.Overall = (scores.ResponseTime + scores.Error + scores.ContextEfficiency + scores.Fallback) / 4
	return scores
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Summary builds the conversation summary for call end.
func (m *DialogueManager) Summary() models.ConversationSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	return models.ConversationSummary{
		ConversationID: m.conversationID,
		TotalTurns:     len(m.turns),
		Duration:       now.Sub(m.startedAt),
		StartedAt:      m.startedAt,
		EndedAt:        now,
		Topics:         m.topics.topics(),
		SummaryText:    m.summaryText,
		Quality:        m.qualityLocked(),
		Tokens:         m.tokens,
	}
}
