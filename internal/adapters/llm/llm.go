// Package llm implements the language-model facade over an OpenAI-compatible
// chat completion API, including token accounting, context truncation and
// deterministic fallback responses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/metrics"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/resilience"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

var tracer = otel.GetTracerProvider().Tracer("adapters/llm")

// Facade implements ports.LLMService.
type Facade struct {
	cfg       config.LLMConfig
	client    *openai.Client
	exec      *resilience.Executor
	estimator ports.TokenEstimator
}

func New(cfg config.LLMConfig, retryCfg config.RetryConfig, breakerCfg config.BreakerConfig) *Facade {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.URL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	return &Facade{
		cfg:       cfg,
		client:    openai.NewClientWithConfig(clientCfg),
		exec:      resilience.NewExecutor("llm", retryCfg, breakerCfg),
		estimator: CharEstimator{},
	}
}

// WithEstimator swaps the token estimator, e.g. for the real model tokenizer.
func (f *Facade) WithEstimator(est ports.TokenEstimator) *Facade {
	f.estimator = est
	return f
}

func (f *Facade) chatRequest(conv *models.ConversationContext) openai.ChatCompletionRequest {
	view := conv.APIView()
	messages := make([]openai.ChatCompletionMessage, len(view))
	for i, msg := range view {
		messages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return openai.ChatCompletionRequest{
		Model:       f.cfg.Model,
		Messages:    messages,
		MaxTokens:   f.cfg.MaxResponseTokens,
		Temperature: conv.Temperature,
	}
}

// Generate produces one completion for the conversation context.
func (f *Facade) Generate(ctx context.Context, conv *models.ConversationContext) (*ports.LLMResult, error) {
	ctx, span := tracer.Start(ctx, "llm.generate",
		trace.WithAttributes(
			attribute.String("llm.model", f.cfg.Model),
			attribute.String("conversation.id", conv.ConversationID),
			attribute.Int("llm.request.messages", len(conv.Messages)),
		))
	defer span.End()

	req := f.chatRequest(conv)
	start := time.Now()

	resp, err := resilience.DoValue(ctx, f.exec, "", func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return f.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrLLMRequestFailed, err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return nil, fmt.Errorf("%w: no choices in response", domain.ErrLLMRequestFailed)
	}

	elapsed := time.Since(start)
	choice := resp.Choices[0]
	metrics.LLMRequestDuration.WithLabelValues(f.cfg.Model).Observe(elapsed.Seconds())

	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
		attribute.String("llm.response.finish_reason", string(choice.FinishReason)),
		attribute.Int64("llm.latency_ms", elapsed.Milliseconds()),
	)
	span.SetStatus(codes.Ok, "generation successful")

	return &ports.LLMResult{
		Text: choice.Message.Content,
		Usage: models.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(choice.FinishReason),
		ResponseTime: elapsed,
	}, nil
}

// Stream yields completion chunks. If streaming fails before or during
// generation, the facade falls back to Generate and yields the whole result
// as a single chunk.
func (f *Facade) Stream(ctx context.Context, conv *models.ConversationContext) (<-chan ports.LLMStreamChunk, error) {
	out := make(chan ports.LLMStreamChunk, 10)

	req := f.chatRequest(conv)
	req.Stream = true

	stream, err := f.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		slog.Warn("llm: stream open failed, falling back to batch generation", "error", err)
		go f.generateAsSingleChunk(ctx, conv, out)
		return out, nil
	}

	go func() {
		defer close(out)
		defer stream.Close()

		streamed := false
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- ports.LLMStreamChunk{Done: true}
				return
			}
			if err != nil {
				if !streamed {
					slog.Warn("llm: stream failed mid-generation, falling back", "error", err)
					f.pumpSingleChunk(ctx, conv, out)
					return
				}
				out <- ports.LLMStreamChunk{Error: err, Done: true}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			streamed = true
			select {
			case out <- ports.LLMStreamChunk{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (f *Facade) generateAsSingleChunk(ctx context.Context, conv *models.ConversationContext, out chan<- ports.LLMStreamChunk) {
	defer close(out)
	f.pumpSingleChunk(ctx, conv, out)
}

func (f *Facade) pumpSingleChunk(ctx context.Context, conv *models.ConversationContext, out chan<- ports.LLMStreamChunk) {
	result, err := f.Generate(ctx, conv)
	if err != nil {
		out <- ports.LLMStreamChunk{Error: err, Done: true}
		return
	}
	out <- ports.LLMStreamChunk{Text: result.Text}
	out <- ports.LLMStreamChunk{Done: true}
}

// HealthCheck lists models as a lightweight liveness probe.
func (f *Facade) HealthCheck(ctx context.Context) error {
	_, err := f.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrLLMUnavailable, err)
	}
	return nil
}

func (f *Facade) Close() error {
	return nil
}
