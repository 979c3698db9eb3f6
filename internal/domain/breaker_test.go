package domain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	b := &domain.CircuitBreaker{Breakers: newMemBreakerRepo(), MaxConsecutiveFailures: 2}
	ctx := context.Background()

	if err := b.Allow(ctx, "res", "v3"); err != nil {
		t.Fatalf("Allow with clean counter: %v", err)
	}
	if err := b.RecordFailure(ctx, "res", "v3"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := b.Allow(ctx, "res", "v3"); err != nil {
		t.Fatalf("Allow below threshold: %v", err)
	}
	if err := b.RecordFailure(ctx, "res", "v3"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := b.Allow(ctx, "res", "v3"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow at threshold err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_CountersAreKeyedPerVersion(t *testing.T) {
	b := &domain.CircuitBreaker{Breakers: newMemBreakerRepo(), MaxConsecutiveFailures: 1}
	ctx := context.Background()

	if err := b.RecordFailure(ctx, "res", "v3"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := b.Allow(ctx, "res", "v3"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow v3 err = %v, want ErrCircuitOpen", err)
	}
	// A bad v3 must not block v4, nor v3 on another resource.
	if err := b.Allow(ctx, "res", "v4"); err != nil {
		t.Errorf("Allow v4: %v", err)
	}
	if err := b.Allow(ctx, "other", "v3"); err != nil {
		t.Errorf("Allow v3 on other resource: %v", err)
	}
}

func TestCircuitBreaker_ResetCloses(t *testing.T) {
	b := &domain.CircuitBreaker{Breakers: newMemBreakerRepo(), MaxConsecutiveFailures: 1}
	ctx := context.Background()

	if err := b.RecordFailure(ctx, "res", "v3"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := b.Reset(ctx, "res", "v3"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := b.Allow(ctx, "res", "v3"); err != nil {
		t.Fatalf("Allow after reset: %v", err)
	}
}

func TestCircuitBreaker_ZeroThresholdDisables(t *testing.T) {
	b := &domain.CircuitBreaker{Breakers: newMemBreakerRepo()}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := b.RecordFailure(ctx, "res", "v3"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := b.Allow(ctx, "res", "v3"); err != nil {
		t.Fatalf("Allow with disabled breaker: %v", err)
	}
}
