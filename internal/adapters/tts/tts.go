// Package tts implements the text-to-speech facade over an OpenAI-compatible
// speech endpoint, with text preprocessing and a silence fallback for
// streaming failures.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/resilience"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/audio"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

var tracer = otel.GetTracerProvider().Tracer("adapters/tts")

// fallbackSilence is the duration of silence emitted when streaming
// synthesis fails mid-call.
const fallbackSilence = 500 * time.Millisecond

// streamChunkSize is the PCM payload size of each streamed chunk.
const streamChunkSize = 32 * 1024

// Facade implements ports.TTSService.
type Facade struct {
	cfg        config.TTSConfig
	httpClient *http.Client
	exec       *resilience.Executor
}

func New(cfg config.TTSConfig, retryCfg config.RetryConfig, breakerCfg config.BreakerConfig) *Facade {
	return &Facade{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		exec:       resilience.NewExecutor("tts", retryCfg, breakerCfg),
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
	SampleRate     int     `json:"sample_rate,omitempty"`
}

func (f *Facade) buildRequest(text string, voice models.Voice, format models.AudioFormat) speechRequest {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = f.cfg.DefaultVoiceID
	}
	sampleRate := format.SampleRate
	if sampleRate == 0 {
		sampleRate = f.cfg.SampleRate
	}
	responseFormat := string(format.Container)
	if responseFormat == "" {
		responseFormat = f.cfg.Container
	}
	return speechRequest{
		Model:          f.cfg.ModelID,
		Input:          text,
		Voice:          voiceID,
		Speed:          voice.Speed,
		ResponseFormat: responseFormat,
		SampleRate:     sampleRate,
	}
}

// Synthesize converts text to speech in the requested format.
func (f *Facade) Synthesize(ctx context.Context, text string, voice models.Voice, format models.AudioFormat) (*ports.TTSResult, error) {
	ctx, span := tracer.Start(ctx, "tts.synthesize",
		trace.WithAttributes(
			attribute.Int("tts.text.chars", len(text)),
			attribute.String("tts.voice", voice.ID),
			attribute.String("tts.container", string(format.Container)),
			attribute.Int("tts.sample_rate", format.SampleRate),
		))
	defer span.End()

	if err := ValidateText(text); err != nil {
		span.SetStatus(codes.Error, "invalid text")
		return nil, err
	}
	processed := PreprocessText(text)

	req := f.buildRequest(processed, voice, format)
	start := time.Now()

	data, err := resilience.DoValue(ctx, f.exec, "", func(ctx context.Context) ([]byte, error) {
		return f.postSpeech(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrSynthesisFailed, err)
	}

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("tts.audio.bytes", len(data)),
		attribute.Int64("tts.latency_ms", elapsed.Milliseconds()),
	)
	span.SetStatus(codes.Ok, "synthesis successful")

	return &ports.TTSResult{
		Audio:         data,
		Duration:      estimateDuration(data, format).Seconds(),
		Format:        format,
		Characters:    len(processed),
		SynthesisTime: elapsed,
	}, nil
}

func (f *Facade) postSpeech(ctx context.Context, req speechRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build speech request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if f.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty audio from speech endpoint", domain.ErrSynthesisFailed)
	}
	return data, nil
}

// SynthesizeStream yields the synthesized audio in chunks. On failure it
// emits one chunk of silence in the requested format so the caller hears a
// pause instead of an error.
func (f *Facade) SynthesizeStream(ctx context.Context, text string, voice models.Voice, format models.AudioFormat) (<-chan *ports.TTSResult, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}

	out := make(chan *ports.TTSResult, 4)
	go func() {
		defer close(out)

		result, err := f.Synthesize(ctx, text, voice, format)
		if err != nil {
			slog.Warn("tts: stream synthesis failed, emitting silence", "error", err, "chars", len(text))
			silence := f.silenceChunk(format)
			select {
			case out <- silence:
			case <-ctx.Done():
			}
			return
		}

		for offset := 0; offset < len(result.Audio); offset += streamChunkSize {
			end := offset + streamChunkSize
			if end > len(result.Audio) {
				end = len(result.Audio)
			}
			chunk := &ports.TTSResult{
				Audio:         result.Audio[offset:end],
				Format:        format,
				Characters:    result.Characters,
				SynthesisTime: result.SynthesisTime,
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// silenceChunk builds half a second of silence matching the requested format.
func (f *Facade) silenceChunk(format models.AudioFormat) *ports.TTSResult {
	sampleRate := format.SampleRate
	if sampleRate == 0 {
		sampleRate = f.cfg.SampleRate
	}
	pcm := audio.SilencePCM(fallbackSilence, sampleRate)
	data := pcm
	if format.Container == models.ContainerWAV {
		data = audio.PCMToWAV(pcm, sampleRate, 1)
	}
	return &ports.TTSResult{
		Audio:    data,
		Duration: fallbackSilence.Seconds(),
		Format:   format,
		Fallback: true,
	}
}

func estimateDuration(data []byte, format models.AudioFormat) time.Duration {
	if format.Encoding != "pcm_s16le" || format.SampleRate <= 0 {
		return 0
	}
	pcm := data
	if format.Container == models.ContainerWAV && len(data) > audio.HeaderSize {
		pcm = data[audio.HeaderSize:]
	}
	return audio.PCMDuration(pcm, format.SampleRate, 1)
}

// HealthCheck probes the speech endpoint. Any response below 500 means the
// service is reachable.
func (f *Facade) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTTSUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: health probe returned %d", domain.ErrTTSUnavailable, resp.StatusCode)
	}
	return nil
}

func (f *Facade) Close() error {
	f.httpClient.CloseIdleConnections()
	return nil
}
