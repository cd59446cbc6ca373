// Package resilience wraps external calls with retry, a circuit breaker and
// correlation-ID logging. The central types are [Breaker], a classic
// three-state circuit breaker, and [Executor], which composes the breaker
// with exponential-backoff retry around an idempotent unit of work.
//
// All types are safe for concurrent use.
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
)

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state - all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped. Calls are rejected
	// immediately until the recovery timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the recovery timeout.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a three-state circuit breaker. Reaching FailureThreshold
// consecutive failures opens it; after RecoveryTimeout the next inquiry
// moves it to half-open, where SuccessThreshold consecutive successes close
// it and any failure reopens it.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trips     int64

	name string
	cfg  config.BreakerConfig
}

func NewBreaker(name string, cfg config.BreakerConfig) *Breaker {
	return &Breaker{
		name:  name,
		state: StateClosed,
		cfg:   cfg,
	}
}

// Allow reports whether a call may proceed. It returns
// domain.ErrBreakerOpen while the breaker is open and the recovery timeout
// has not yet elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.cfg.RecoveryTimeout {
			return domain.ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.successes = 0
		slog.Info("breaker: entering half-open state", "breaker", b.name)
	}
	return nil
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			slog.Info("breaker: closed after recovery", "breaker", b.name)
		}
	default:
		b.failures = 0
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	}
}

// open transitions to StateOpen; callers hold b.mu.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.successes = 0
	b.trips++
	slog.Warn("breaker: opened", "breaker", b.name, "failures", b.failures)
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Trips returns how many times the breaker has opened.
func (b *Breaker) Trips() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}
