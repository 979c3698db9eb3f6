// Package breakerrepotest provides contract tests for
// [domain.BreakerRepository] implementations.
package breakerrepotest

import (
	"context"
	"testing"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// Factory creates a fresh [domain.BreakerRepository] for each test.
type Factory func(t *testing.T) domain.BreakerRepository

// Run exercises the [domain.BreakerRepository] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("FreshCounterIsZero", func(t *testing.T) {
		repo := factory(t)
		n, err := repo.Failures(context.Background(), "res", "v1")
		if err != nil {
			t.Fatalf("Failures: %v", err)
		}
		if n != 0 {
			t.Errorf("fresh counter = %d, want 0", n)
		}
	})

	t.Run("IncrementCounts", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		for want := 1; want <= 3; want++ {
			n, err := repo.Increment(ctx, "res", "v1")
			if err != nil {
				t.Fatalf("Increment: %v", err)
			}
			if n != want {
				t.Errorf("Increment = %d, want %d", n, want)
			}
		}
		if n, _ := repo.Failures(ctx, "res", "v1"); n != 3 {
			t.Errorf("Failures = %d, want 3", n)
		}
	})

	t.Run("CountersAreKeyedPerPair", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_, _ = repo.Increment(ctx, "res", "v1")

		if n, _ := repo.Failures(ctx, "res", "v2"); n != 0 {
			t.Errorf("v2 counter = %d, want 0", n)
		}
		if n, _ := repo.Failures(ctx, "other", "v1"); n != 0 {
			t.Errorf("other resource counter = %d, want 0", n)
		}
	})

	t.Run("ResetClears", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_, _ = repo.Increment(ctx, "res", "v1")
		_, _ = repo.Increment(ctx, "res", "v1")

		if err := repo.Reset(ctx, "res", "v1"); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		if n, _ := repo.Failures(ctx, "res", "v1"); n != 0 {
			t.Errorf("counter after reset = %d, want 0", n)
		}
		// Resetting an absent counter is a no-op.
		if err := repo.Reset(ctx, "res", "v9"); err != nil {
			t.Fatalf("Reset absent: %v", err)
		}
	})
}
