package resilience

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.State() != StateClosed {
			t.Fatalf("expected closed after %d failures, got %s", i+1, b.State())
		}
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected calls to be rejected while open")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	current := time.Now()
	b.now = func() time.Time { return current }

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Before the reset timeout: still rejecting.
	current = current.Add(30 * time.Second)
	if b.Allow() {
		t.Fatal("expected rejection before reset timeout")
	}

	// After the timeout: exactly one probe allowed.
	current = current.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed after reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected second call to be rejected while probe in flight")
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	current := time.Now()
	b.now = func() time.Time { return current }

	b.RecordFailure()
	current = current.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("expected probe allowed")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
	if b.Failures() != 0 {
		t.Errorf("expected failure counter reset, got %d", b.Failures())
	}
	if !b.Allow() {
		t.Error("expected calls allowed after close")
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	current := time.Now()
	b.now = func() time.Time { return current }

	b.RecordFailure()
	current = current.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("expected probe allowed")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after probe failure, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected rejection immediately after reopen")
	}
}

func TestBreakerSuccessInClosedOnlyCounts(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	b.RecordFailure()
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}

	// Consecutive-failure tracking is not reset by interleaved successes;
	// only a half-open probe success resets counters.
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after reaching threshold, got %s", b.State())
	}
}
