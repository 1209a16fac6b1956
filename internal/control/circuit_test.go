package control

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	c := NewCircuitBreaker(2, 100*time.Millisecond)
	now := time.Now()

	if c.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}

	c.RecordFailure("provider_api", now)
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after first failure, got %s", c.State())
	}

	c.RecordFailure("provider_api", now)
	if c.State() != CircuitOpen {
		t.Fatalf("expected open after threshold failures, got %s", c.State())
	}

	if c.Allow(now.Add(10 * time.Millisecond)) {
		t.Fatal("expected deny while cooldown not elapsed")
	}
	if !c.Allow(now.Add(120 * time.Millisecond)) {
		t.Fatal("expected allow after cooldown")
	}
	if c.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", c.State())
	}

	c.RecordSuccess()
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after probe success, got %s", c.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	c := NewCircuitBreaker(1, time.Second)
	now := time.Unix(1000, 0)

	c.RecordFailure("provider_api", now)
	if c.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", c.State())
	}
	if w := c.Wait(now.Add(300 * time.Millisecond)); w != 700*time.Millisecond {
		t.Fatalf("unexpected wait: %v", w)
	}
	if !c.Allow(now.Add(2 * time.Second)) {
		t.Fatal("expected allow after cooldown")
	}
	c.RecordFailure("provider_api", now.Add(2*time.Second))
	if c.State() != CircuitOpen {
		t.Fatalf("expected reopen from half_open, got %s", c.State())
	}
	if c.OpenedClass() != "provider_api" {
		t.Fatalf("unexpected class %q", c.OpenedClass())
	}
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	c := NewCircuitBreaker(0, 0)
	if c.Threshold != 5 || c.Cooldown != 30*time.Second {
		t.Fatalf("unexpected defaults: %d %v", c.Threshold, c.Cooldown)
	}
	if c.Wait(time.Now()) != 0 {
		t.Fatal("closed breaker should not wait")
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "unknown"},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("wrapped: %w", context.Canceled), "timeout"},
		{errors.New("openai non-success status=429 body=slow down"), "rate_limited"},
		{errors.New("openai request failed: dial tcp"), "provider_api"},
		{errors.New("dummy provider error class=provider_api"), "provider_api"},
		{errors.New("something else"), "unknown"},
	}
	for _, c := range cases {
		if got := ClassifyError(c.err); got != c.want {
			t.Fatalf("ClassifyError(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
