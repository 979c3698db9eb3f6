// Package lockrepotest provides contract tests for
// [domain.LockRepository] implementations. The atomicity requirements
// are exercised with concurrent acquirers on the same store.
package lockrepotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// Factory creates a fresh [domain.LockRepository] for each test.
type Factory func(t *testing.T) domain.LockRepository

// Run exercises the [domain.LockRepository] contract.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lockAt := func(holder domain.InstanceID, acquired time.Time, lease time.Duration) domain.Lock {
		return domain.Lock{
			Resource:   "res",
			Holder:     holder,
			AcquiredAt: acquired,
			ExpiresAt:  acquired.Add(lease),
		}
	}

	t.Run("AcquireFree", func(t *testing.T) {
		repo := factory(t)
		ok, err := repo.TryAcquire(context.Background(), lockAt("a", base, time.Minute), base)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if !ok {
			t.Fatal("TryAcquire on a free resource returned false")
		}
	})

	t.Run("AcquireHeldByOther", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_, _ = repo.TryAcquire(ctx, lockAt("a", base, time.Minute), base)

		ok, err := repo.TryAcquire(ctx, lockAt("b", base, time.Minute), base)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if ok {
			t.Fatal("TryAcquire won against a live holder")
		}
		got, err := repo.Get(ctx, "res")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Holder != "a" {
			t.Errorf("holder = %s, want a", got.Holder)
		}
	})

	t.Run("AcquireExpired", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_, _ = repo.TryAcquire(ctx, lockAt("a", base, time.Minute), base)

		later := base.Add(2 * time.Minute)
		ok, err := repo.TryAcquire(ctx, lockAt("b", later, time.Minute), later)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if !ok {
			t.Fatal("TryAcquire lost against an expired holder")
		}
	})

	t.Run("AcquireSameHolderRefreshes", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_, _ = repo.TryAcquire(ctx, lockAt("a", base, time.Minute), base)

		later := base.Add(30 * time.Second)
		ok, err := repo.TryAcquire(ctx, lockAt("a", later, time.Minute), later)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if !ok {
			t.Fatal("holder could not refresh its own lock")
		}
		got, _ := repo.Get(ctx, "res")
		if !got.ExpiresAt.Equal(later.Add(time.Minute)) {
			t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, later.Add(time.Minute))
		}
	})

	t.Run("RenewLive", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_, _ = repo.TryAcquire(ctx, lockAt("a", base, time.Minute), base)

		now := base.Add(30 * time.Second)
		ok, err := repo.Renew(ctx, "res", "a", now.Add(time.Minute), now)
		if err != nil {
			t.Fatalf("Renew: %v", err)
		}
		if !ok {
			t.Fatal("Renew of a live owned lock returned false")
		}
	})

	t.Run("RenewExpiredOrForeign", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_, _ = repo.TryAcquire(ctx, lockAt("a", base, time.Minute), base)

		late := base.Add(2 * time.Minute)
		if ok, err := repo.Renew(ctx, "res", "a", late.Add(time.Minute), late); err != nil || ok {
			t.Fatalf("Renew after expiry = %v, %v; want false", ok, err)
		}
		now := base.Add(30 * time.Second)
		if ok, err := repo.Renew(ctx, "res", "b", now.Add(time.Minute), now); err != nil || ok {
			t.Fatalf("Renew by non-owner = %v, %v; want false", ok, err)
		}
	})

	t.Run("ReleaseOnlyOwn", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_, _ = repo.TryAcquire(ctx, lockAt("a", base, time.Minute), base)

		if err := repo.Release(ctx, "res", "b"); err != nil {
			t.Fatalf("Release by non-owner: %v", err)
		}
		if _, err := repo.Get(ctx, "res"); err != nil {
			t.Fatalf("lock vanished after foreign release: %v", err)
		}

		if err := repo.Release(ctx, "res", "a"); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if _, err := repo.Get(ctx, "res"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get after release: got %v, want ErrNotFound", err)
		}
		if err := repo.Release(ctx, "res", "a"); err != nil {
			t.Fatalf("repeated Release: %v", err)
		}
	})

	t.Run("ConcurrentAcquireSingleWinner", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		const holders = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		var winners []domain.InstanceID
		for i := 0; i < holders; i++ {
			wg.Add(1)
			holder := domain.InstanceID(fmt.Sprintf("h%d", i))
			go func() {
				defer wg.Done()
				ok, err := repo.TryAcquire(ctx, lockAt(holder, base, time.Minute), base)
				if err != nil {
					t.Errorf("TryAcquire %s: %v", holder, err)
					return
				}
				if ok {
					mu.Lock()
					winners = append(winners, holder)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(winners) != 1 {
			t.Fatalf("winners = %v, want exactly one", winners)
		}
	})
}
