package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/retry"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/id"
)

var tracer = otel.GetTracerProvider().Tracer("adapters/resilience")

// Metrics counts executor outcomes. Snapshot with [Executor.Metrics].
type Metrics struct {
	Requests     int64         `json:"requests"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	BreakerTrips int64         `json:"breaker_trips"`
	TotalLatency time.Duration `json:"total_latency"`
}

// Executor runs idempotent units of work with retry and a circuit breaker.
// A correlation ID is generated per execute when the caller does not supply
// one and propagates to logs and trace attributes.
type Executor struct {
	name    string
	retry   config.RetryConfig
	breaker *Breaker

	mu      sync.Mutex
	metrics Metrics
}

func NewExecutor(name string, retryCfg config.RetryConfig, breakerCfg config.BreakerConfig) *Executor {
	return &Executor{
		name:    name,
		retry:   retryCfg,
		breaker: NewBreaker(name, breakerCfg),
	}
}

// Do runs fn under the retry policy and circuit breaker. The error is
// domain.ErrBreakerOpen when the breaker refused the call and wraps
// domain.ErrRetriesExhausted when all attempts failed.
func (e *Executor) Do(ctx context.Context, correlationID string, fn func(ctx context.Context) error) error {
	if correlationID == "" {
		correlationID = id.NewCorrelation()
	}

	ctx, span := tracer.Start(ctx, "resilience.execute",
		trace.WithAttributes(
			attribute.String("executor.name", e.name),
			attribute.String("correlation.id", correlationID),
		))
	defer span.End()

	e.mu.Lock()
	e.metrics.Requests++
	e.mu.Unlock()

	if err := e.breaker.Allow(); err != nil {
		e.recordFailure(0)
		slog.Warn("executor: breaker rejected call", "executor", e.name, "correlation_id", correlationID)
		span.SetStatus(codes.Error, "breaker open")
		return fmt.Errorf("%s: %w", e.name, domain.ErrBreakerOpen)
	}

	start := time.Now()
	err := retry.WithBackoff(ctx, e.retry, func(ctx context.Context, attempt int) error {
		attemptErr := fn(ctx)
		if attemptErr != nil {
			e.breaker.RecordFailure()
			return attemptErr
		}
		e.breaker.RecordSuccess()
		return nil
	}, func(attempt int, attemptErr error, delay time.Duration) {
		slog.Warn("executor: attempt failed, retrying",
			"executor", e.name,
			"correlation_id", correlationID,
			"attempt", attempt,
			"error", attemptErr,
			"retry_in", delay)
	})

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int64("execute.latency_ms", elapsed.Milliseconds()))

	if err != nil {
		e.recordFailure(elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "retries exhausted")
		slog.Error("executor: call failed", "executor", e.name, "correlation_id", correlationID, "error", err)
		return fmt.Errorf("%s: %w: %w", e.name, domain.ErrRetriesExhausted, err)
	}

	e.recordSuccess(elapsed)
	span.SetStatus(codes.Ok, "execute successful")
	return nil
}

// DoValue is Do for work that returns a value.
func DoValue[T any](ctx context.Context, e *Executor, correlationID string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, correlationID, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

func (e *Executor) recordSuccess(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.Successes++
	e.metrics.TotalLatency += latency
	e.metrics.BreakerTrips = e.breaker.Trips()
}

func (e *Executor) recordFailure(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.Failures++
	e.metrics.TotalLatency += latency
	e.metrics.BreakerTrips = e.breaker.Trips()
}

// Metrics returns a snapshot of the executor counters.
func (e *Executor) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.metrics
	m.BreakerTrips = e.breaker.Trips()
	return m
}

// BreakerState exposes the current breaker state for health reporting.
func (e *Executor) BreakerState() State {
	return e.breaker.State()
}
