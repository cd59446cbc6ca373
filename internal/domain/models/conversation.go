package models

import (
	"time"
)

// Role identifies the author of a context message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry in a conversation context.
type Message struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ConversationContext is the dialogue manager's view into message history:
// an ordered message sequence plus the generation parameters the LLM sees.
type ConversationContext struct {
	ConversationID string    `json:"conversation_id"`
	SystemPrompt   string    `json:"system_prompt,omitempty"`
	Messages       []Message `json:"messages"`
	MaxTokens      int       `json:"max_tokens"`
	Temperature    float32   `json:"temperature"`
}

func NewConversationContext(conversationID, systemPrompt string, maxTokens int, temperature float32) *ConversationContext {
	return &ConversationContext{
		ConversationID: conversationID,
		SystemPrompt:   systemPrompt,
		MaxTokens:      maxTokens,
		Temperature:    temperature,
	}
}

func (c *ConversationContext) Append(role Role, content string) {
	c.Messages = append(c.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// APIView returns the messages as the LLM API should see them: the system
// prompt, when present, is always at position 0; the rest keeps chronological
// order.
func (c *ConversationContext) APIView() []Message {
	view := make([]Message, 0, len(c.Messages)+1)
	if c.SystemPrompt != "" {
		view = append(view, Message{Role: RoleSystem, Content: c.SystemPrompt})
	}
	view = append(view, c.Messages...)
	return view
}

// ConversationTurn records one completed listen-process-speak cycle.
// Turns are append-only within a call.
type ConversationTurn struct {
	TurnID         string            `json:"turn_id"`
	UserText       string            `json:"user_text"`
	AssistantText  string            `json:"assistant_text"`
	Timestamp      time.Time         `json:"timestamp"`
	ProcessingTime time.Duration     `json:"processing_time"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// QualityScores are the dialogue manager's quality signals, each in [0, 1].
type QualityScores struct {
	ResponseTime      float64 `json:"response_time_score"`
	Error             float64 `json:"error_score"`
	ContextEfficiency float64 `json:"context_efficiency_score"`
	Fallback          float64 `json:"fallback_score"`
	Overall           float64 `json:"overall_score"`
}

// TokenUsage aggregates token accounting for a conversation or a single
// generation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ConversationSummary is produced on summarization or call end.
type ConversationSummary struct {
	ConversationID string        `json:"conversation_id"`
	TotalTurns     int           `json:"total_turns"`
	Duration       time.Duration `json:"duration"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	Topics         []string      `json:"topics,omitempty"`
	SummaryText    string        `json:"summary_text,omitempty"`
	Quality        QualityScores `json:"quality"`
	Tokens         TokenUsage    `json:"tokens"`
}
