package llm

import (
	"fmt"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
)

// CharEstimator is the rough 4-characters-per-token placeholder. The real
// model tokenizer can replace it via Facade.WithEstimator without touching
// the dialogue manager.
type CharEstimator struct{}

func (CharEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// perMessageOverhead approximates the chat-format framing tokens each
// message costs on top of its content.
const perMessageOverhead = 4

// EstimateTokens delegates to the configured estimator.
func (f *Facade) EstimateTokens(text string) int {
	return f.estimator.EstimateTokens(text)
}

// ContextTokens estimates the total token cost of a message list, including
// per-message overhead.
func (f *Facade) ContextTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += f.estimator.EstimateTokens(msg.Content) + perMessageOverhead
	}
	return total
}

// TruncateContext fits messages into the token budget. System messages are
// always retained; the most recent user/assistant messages that fit are
// kept; when older messages drop, a synthetic system note marks the gap.
func (f *Facade) TruncateContext(messages []models.Message, budget int) []models.Message {
	if f.ContextTokens(messages) <= budget {
		return messages
	}

	var system, rest []models.Message
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	used := f.ContextTokens(system)
	// Reserve room for the condensation note.
	noteBudget := f.estimator.EstimateTokens("99 earlier messages condensed") + perMessageOverhead

	kept := make([]models.Message, 0, len(rest))
	for i := len(rest) - 1; i >= 0; i-- {
		cost := f.estimator.EstimateTokens(rest[i].Content) + perMessageOverhead
		if used+cost+noteBudget > budget {
			break
		}
		used += cost
		kept = append(kept, rest[i])
	}

	// kept is newest-first; restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	dropped := len(rest) - len(kept)
	result := make([]models.Message, 0, len(system)+len(kept)+1)
	result = append(result, system...)
	if dropped > 0 {
		result = append(result, models.Message{
			Role:    models.RoleSystem,
			Content: fmt.Sprintf("%d earlier messages condensed", dropped),
		})
	}
	result = append(result, kept...)
	return result
}

var fallbackResponses = map[domain.FallbackKind]string{
	domain.FallbackAPIError:        "I'm sorry, I'm having trouble reaching my language service right now. Could you say that again in a moment?",
	domain.FallbackRateLimit:       "I'm sorry, I'm handling a lot of requests right now. Please give me a second and try again.",
	domain.FallbackTimeout:         "I'm sorry, that took longer than expected. Could you repeat your question?",
	domain.FallbackContextOverflow: "I'm sorry, our conversation has gotten quite long. Could you briefly restate what you need?",
	domain.FallbackGeneral:         "I'm sorry, something went wrong on my end. Could you please repeat that?",
}

// FallbackResponse returns deterministic, domain-appropriate apology text.
// No tokens are consumed.
func (f *Facade) FallbackResponse(kind domain.FallbackKind) string {
	if text, ok := fallbackResponses[kind]; ok {
		return text
	}
	return fallbackResponses[domain.FallbackGeneral]
}
