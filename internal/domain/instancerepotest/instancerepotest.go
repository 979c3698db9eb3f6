// Package instancerepotest provides contract tests for
// [domain.InstanceRepository] implementations.
package instancerepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// Factory creates a fresh [domain.InstanceRepository] for each test.
type Factory func(t *testing.T) domain.InstanceRepository

// Run exercises the [domain.InstanceRepository] contract.
func Run(t *testing.T, factory Factory) {
	sampleInstance := func(id domain.InstanceID, state domain.InstanceState) domain.Instance {
		return domain.Instance{
			ID:        id,
			Resource:  "res",
			Version:   "v1",
			State:     state,
			StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}
	}

	t.Run("PutAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		inst := sampleInstance("i1", domain.InstanceStateStarting)

		if err := repo.Put(ctx, inst); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := repo.Get(ctx, "i1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Version != "v1" || got.State != domain.InstanceStateStarting {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("PutUpdatesState", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		inst := sampleInstance("i1", domain.InstanceStateStarting)
		_ = repo.Put(ctx, inst)

		inst.State = domain.InstanceStateRunning
		if err := repo.Put(ctx, inst); err != nil {
			t.Fatalf("second Put: %v", err)
		}
		got, _ := repo.Get(ctx, "i1")
		if got.State != domain.InstanceStateRunning {
			t.Errorf("State = %q, want %q", got.State, domain.InstanceStateRunning)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ActiveSkipsTerminalStates", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		stopped := sampleInstance("i1", domain.InstanceStateStopped)
		failed := sampleInstance("i2", domain.InstanceStateFailed)
		_ = repo.Put(ctx, stopped)
		_ = repo.Put(ctx, failed)
		if _, err := repo.Active(ctx, "res"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Active with only terminal instances: got %v, want ErrNotFound", err)
		}

		running := sampleInstance("i3", domain.InstanceStateRunning)
		_ = repo.Put(ctx, running)
		got, err := repo.Active(ctx, "res")
		if err != nil {
			t.Fatalf("Active: %v", err)
		}
		if got.ID != "i3" {
			t.Errorf("Active = %s, want i3", got.ID)
		}
	})

	t.Run("ActiveIsPerResource", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Put(ctx, sampleInstance("i1", domain.InstanceStateRunning))

		if _, err := repo.Active(ctx, "other"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Active for other resource: got %v, want ErrNotFound", err)
		}
	})
}
