// Package stt implements the speech-to-text facade over an
// OpenAI-compatible transcription endpoint, with a websocket path for
// streaming recognition.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/resilience"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/audio"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

var tracer = otel.GetTracerProvider().Tracer("adapters/stt")

// maxAudioBytes rejects obviously oversized uploads before they hit the wire.
const maxAudioBytes = 25 << 20

type transcriptionResponse struct {
	Text         string  `json:"text"`
	Language     string  `json:"language,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	Alternatives []struct {
		Text string `json:"text"`
	} `json:"alternatives,omitempty"`
	Words []ports.WordTiming `json:"words,omitempty"`
}

// Facade implements ports.STTService.
type Facade struct {
	cfg        config.STTConfig
	httpClient *http.Client
	exec       *resilience.Executor
}

func New(cfg config.STTConfig, retryCfg config.RetryConfig, breakerCfg config.BreakerConfig) *Facade {
	return &Facade{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		exec: resilience.NewExecutor("stt", retryCfg, breakerCfg),
	}
}

func validateAudio(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty audio", domain.ErrInvalidAudio)
	}
	if len(data) > maxAudioBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d byte cap", domain.ErrInvalidAudio, len(data), maxAudioBytes)
	}
	return nil
}

// Transcribe uploads one utterance for batch transcription. Raw PCM input is
// wrapped in a WAV header before upload.
func (f *Facade) Transcribe(ctx context.Context, audioData []byte, mimeType string) (*ports.STTResult, error) {
	if err := validateAudio(audioData); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "stt.transcribe",
		trace.WithAttributes(
			attribute.Int("audio.bytes", len(audioData)),
			attribute.String("stt.model", f.cfg.Model),
			attribute.String("stt.language", f.cfg.Language),
			attribute.Int("stt.sample_rate", f.cfg.SampleRate),
		))
	defer span.End()

	payload := audioData
	filename := "audio.wav"
	switch mimeType {
	case "", "audio/pcm", "audio/l16":
		payload = audio.PCMToWAV(audioData, f.cfg.SampleRate, f.cfg.Channels)
	case "audio/mpeg":
		filename = "audio.mp3"
	}

	start := time.Now()
	result, err := resilience.DoValue(ctx, f.exec, "", func(ctx context.Context) (*transcriptionResponse, error) {
		return f.doTranscribeRequest(ctx, payload, filename)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return nil, err
	}

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int64("stt.latency_ms", elapsed.Milliseconds()),
		attribute.Int("transcript.length", len(result.Text)),
	)
	span.SetStatus(codes.Ok, "transcription successful")

	slog.Info("stt: transcription received",
		"latency", elapsed,
		"chars", len(result.Text),
		"confidence", result.Confidence)

	alts := make([]string, 0, len(result.Alternatives))
	for _, a := range result.Alternatives {
		alts = append(alts, a.Text)
	}

	confidence := result.Confidence
	if confidence == 0 && strings.TrimSpace(result.Text) != "" {
		// Whisper-style endpoints omit confidence; treat present text as solid.
		confidence = 1.0
	}

	return &ports.STTResult{
		Text:         strings.TrimSpace(result.Text),
		Confidence:   confidence,
		Language:     result.Language,
		Duration:     result.Duration,
		Alternatives: alts,
		Words:        result.Words,
		IsFinal:      true,
	}, nil
}

func (f *Facade) doTranscribeRequest(ctx context.Context, wav []byte, filename string) (*transcriptionResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}
	if err := writer.WriteField("model", f.cfg.Model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if f.cfg.Language != "" {
		if err := writer.WriteField("language", f.cfg.Language); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return nil, fmt.Errorf("write format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("STT error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &parsed, nil
}

// HealthCheck probes the transcription endpoint with an empty GET against
// its base URL.
func (f *Facade) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSTTUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", domain.ErrSTTUnavailable, resp.StatusCode)
	}
	return nil
}

func (f *Facade) Close() error {
	f.httpClient.CloseIdleConnections()
	return nil
}
