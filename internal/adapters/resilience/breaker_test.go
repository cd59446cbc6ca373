package resilience

import (
	"testing"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		SuccessThreshold: 2,
	}
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b := NewBreaker("test", testBreakerConfig())

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected closed before threshold, got %s", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open at threshold, got %s", b.State())
	}
	if b.Trips() != 1 {
		t.Errorf("expected 1 trip, got %d", b.Trips())
	}

	if err := b.Allow(); err != domain.ErrBreakerOpen {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", testBreakerConfig())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreaker_RecoveryCycle(t *testing.T) {
	b := NewBreaker("test", testBreakerConfig())

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(60 * time.Millisecond)

	// First inquiry after the recovery timeout moves to half-open.
	if err := b.Allow(); err != nil {
		t.Fatalf("expected call admitted after recovery timeout, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open until success threshold, got %s", b.State())
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", testBreakerConfig())

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected admission, got %v", err)
	}

	b.RecordSuccess()
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("expected reopened, got %s", b.State())
	}
	if b.Trips() != 2 {
		t.Errorf("expected 2 trips, got %d", b.Trips())
	}
}
