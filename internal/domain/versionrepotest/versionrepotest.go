// Package versionrepotest provides contract tests for
// [domain.VersionRepository] implementations.
package versionrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// Factory creates a fresh [domain.VersionRepository] for each test.
type Factory func(t *testing.T) domain.VersionRepository

// Run exercises the [domain.VersionRepository] contract.
func Run(t *testing.T, factory Factory) {
	sampleVersion := func(id domain.VersionID) domain.Version {
		return domain.Version{
			ID:        id,
			Digest:    "sha256:" + string(id),
			CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		v := sampleVersion("v1")

		if err := repo.Create(ctx, v); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.Get(ctx, "v1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Digest != v.Digest {
			t.Errorf("Digest = %q, want %q", got.Digest, v.Digest)
		}
		if !got.CreatedAt.Equal(v.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, v.CreatedAt)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleVersion("v1"))
		err := repo.Create(ctx, sampleVersion("v1"))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleVersion("v1"))
		_ = repo.Create(ctx, sampleVersion("v2"))

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
	})

	t.Run("ListOrdersSubSecondRegistrations", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		early := sampleVersion("v-early")
		early.CreatedAt = base
		later := sampleVersion("v-later")
		later.CreatedAt = base.Add(500 * time.Millisecond)
		_ = repo.Create(ctx, later)
		_ = repo.Create(ctx, early)

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 || got[0].ID != "v-early" || got[1].ID != "v-later" {
			t.Fatalf("List order = %v, want [v-early v-later]", got)
		}
	})

	t.Run("CurrentBeforeFirstDeploy", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Current(context.Background(), "res")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Current: got %v, want ErrNotFound", err)
		}
	})

	t.Run("SetCurrentMoves", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleVersion("v1"))
		_ = repo.Create(ctx, sampleVersion("v2"))

		if err := repo.SetCurrent(ctx, "res", "v1"); err != nil {
			t.Fatalf("SetCurrent v1: %v", err)
		}
		if got, err := repo.Current(ctx, "res"); err != nil || got.ID != "v1" {
			t.Fatalf("Current = %v, %v; want v1", got.ID, err)
		}

		if err := repo.SetCurrent(ctx, "res", "v2"); err != nil {
			t.Fatalf("SetCurrent v2: %v", err)
		}
		if got, err := repo.Current(ctx, "res"); err != nil || got.ID != "v2" {
			t.Fatalf("Current = %v, %v; want v2", got.ID, err)
		}
	})

	t.Run("CurrentIsPerResource", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleVersion("v1"))
		_ = repo.SetCurrent(ctx, "res-a", "v1")

		if _, err := repo.Current(ctx, "res-b"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Current for other resource: got %v, want ErrNotFound", err)
		}
	})
}
