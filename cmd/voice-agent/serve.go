package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/http"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/livekit"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/llm"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/metrics"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/stt"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/tracing"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/tts"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/orchestrator"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/pool"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/rooms"
)

// logEmitter stands in for the media transport adapter, which attaches via
// ports.AudioEmitter in deployment.
type logEmitter struct{}

func (logEmitter) EmitAudio(callID string, audio []byte) error {
	slog.Debug("emitter: audio ready", "call_id", callID, "bytes", len(audio))
	return nil
}

// poolDeleter routes room deletions through a pooled connection.
type poolDeleter struct{ pool *pool.Pool }

func (d poolDeleter) DeleteRoom(ctx context.Context, name string) error {
	return d.pool.WithConnection(ctx, func(ctx context.Context, client ports.MediaServerClient) error {
		return client.DeleteRoom(ctx, name)
	})
}

func serveCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration core and operational HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfg())
		},
	}
}

func serve(cfg *config.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	shutdownTracer, err := tracing.Init("voice-agent", version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connPool, err := pool.New(cfg.Pool, livekit.Factory(cfg.MediaServer))
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}

	ledger := rooms.NewLedger(cfg.Rooms, cfg.Audio, poolDeleter{pool: connPool})

	sttFacade := stt.New(cfg.STT, cfg.Retry, cfg.Breaker)
	llmFacade := llm.New(cfg.LLM, cfg.Retry, cfg.Breaker)
	ttsFacade := tts.New(cfg.TTS, cfg.Retry, cfg.Breaker)

	orch := orchestrator.New(*cfg, sttFacade, llmFacade, ttsFacade, logEmitter{}, orchestrator.Handlers{
		OnCallStarted: func(call models.CallContext) {
			metrics.CallsActive.Inc()
		},
		OnCallEnded: func(call models.CallContext, summary models.ConversationSummary) {
			metrics.CallsActive.Dec()
			metrics.CallsTotal.WithLabelValues("handled").Inc()
		},
		OnRejection: func(call models.CallContext, reason domain.RejectionReason) {
			metrics.CallRejectionsTotal.WithLabelValues(string(reason)).Inc()
		},
	})

	observer := pool.NewObserver(connPool, cfg.Quality, ledger, metrics.HealthSink{})
	go observer.Run(ctx)

	server := httpadapter.NewServer(cfg.Server, orch, connPool, ledger, map[string]httpadapter.HealthChecker{
		"stt": sttFacade,
		"llm": llmFacade,
		"tts": ttsFacade,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := orch.Close(); err != nil {
		slog.Error("orchestrator shutdown failed", "error", err)
	}
	<-observer.Done()
	connPool.Close()
	if err := shutdownTracer(shutdownCtx); err != nil {
		slog.Error("tracer shutdown failed", "error", err)
	}
	return nil
}
