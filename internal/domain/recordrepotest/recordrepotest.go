// Package recordrepotest provides contract tests for
// [domain.DeploymentRecordRepository] implementations.
package recordrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// Factory creates a fresh [domain.DeploymentRecordRepository] for each test.
type Factory func(t *testing.T) domain.DeploymentRecordRepository

// Run exercises the [domain.DeploymentRecordRepository] contract.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sampleRecord := func(id domain.RecordID, key string, at time.Time) domain.DeploymentRecord {
		return domain.DeploymentRecord{
			ID: id,
			Request: domain.DeploymentRequest{
				Resource:       "res",
				TargetVersion:  "v2",
				IdempotencyKey: key,
				RequestedAt:    at,
			},
			State: domain.DeploymentStateIdle,
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		rec := sampleRecord("r1", "k1", base)

		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Request.TargetVersion != "v2" {
			t.Errorf("TargetVersion = %q, want v2", got.Request.TargetVersion)
		}
		if got.State != domain.DeploymentStateIdle {
			t.Errorf("State = %q, want %q", got.State, domain.DeploymentStateIdle)
		}
		if len(got.Transitions) != 0 {
			t.Errorf("new record has %d transitions, want 0", len(got.Transitions))
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DuplicateIdempotencyKey", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRecord("r1", "k1", base))
		err := repo.Create(ctx, sampleRecord("r2", "k1", base))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("Create with reused key: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetByIdempotencyKey", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRecord("r1", "k1", base))

		got, err := repo.GetByIdempotencyKey(ctx, "k1")
		if err != nil {
			t.Fatalf("GetByIdempotencyKey: %v", err)
		}
		if got.ID != "r1" {
			t.Errorf("ID = %s, want r1", got.ID)
		}
		if _, err := repo.GetByIdempotencyKey(ctx, "unknown"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("unknown key: got %v, want ErrNotFound", err)
		}
	})

	t.Run("AppendMovesStateAndKeepsOrder", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRecord("r1", "k1", base))

		steps := []domain.Transition{
			{From: domain.DeploymentStateIdle, To: domain.DeploymentStateStoppingOld, At: base.Add(time.Second), Reason: "deploy v2 requested"},
			{From: domain.DeploymentStateStoppingOld, To: domain.DeploymentStateAcquiringLock, At: base.Add(2 * time.Second), Reason: "no previous instance"},
			{From: domain.DeploymentStateAcquiringLock, To: domain.DeploymentStateStartingNew, At: base.Add(3 * time.Second), Reason: "lock acquired"},
		}
		for _, tr := range steps {
			if err := repo.Append(ctx, "r1", tr); err != nil {
				t.Fatalf("Append %s: %v", tr.To, err)
			}
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != domain.DeploymentStateStartingNew {
			t.Errorf("State = %q, want %q", got.State, domain.DeploymentStateStartingNew)
		}
		if len(got.Transitions) != len(steps) {
			t.Fatalf("transitions = %d, want %d", len(got.Transitions), len(steps))
		}
		for i, tr := range got.Transitions {
			if tr.To != steps[i].To {
				t.Errorf("transition %d = %q, want %q", i, tr.To, steps[i].To)
			}
			if !tr.At.Equal(steps[i].At) {
				t.Errorf("transition %d At = %v, want %v", i, tr.At, steps[i].At)
			}
		}
	})

	t.Run("AppendNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Append(context.Background(), "nonexistent", domain.Transition{
			From: domain.DeploymentStateIdle, To: domain.DeploymentStateFailed, At: base,
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Append: got %v, want ErrNotFound", err)
		}
	})

	t.Run("LatestPicksMostRecent", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRecord("r1", "k1", base))
		_ = repo.Create(ctx, sampleRecord("r2", "k2", base.Add(time.Minute)))

		got, err := repo.Latest(ctx, "res")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if got.ID != "r2" {
			t.Errorf("Latest = %s, want r2", got.ID)
		}
		if _, err := repo.Latest(ctx, "other"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Latest for other resource: got %v, want ErrNotFound", err)
		}
	})

	t.Run("LatestOrdersSubSecondRequests", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		// A whole-second request and a later sub-second one in the same
		// second. Textual timestamps would order these backwards.
		_ = repo.Create(ctx, sampleRecord("r-early", "k1", base))
		_ = repo.Create(ctx, sampleRecord("r-later", "k2", base.Add(500*time.Millisecond)))

		got, err := repo.Latest(ctx, "res")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if got.ID != "r-later" {
			t.Errorf("Latest = %s (requested at %v), want r-later", got.ID, got.Request.RequestedAt)
		}
	})

	t.Run("DeleteSupersededKeepsCommittedAndLive", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		old := sampleRecord("r1", "k1", base)
		_ = repo.Create(ctx, old)
		_ = repo.Append(ctx, "r1", domain.Transition{
			From: domain.DeploymentStateIdle, To: domain.DeploymentStateFailed, At: base.Add(time.Second),
		})

		live := sampleRecord("r2", "k2", base.Add(time.Minute))
		_ = repo.Create(ctx, live)

		winner := sampleRecord("r3", "k3", base.Add(2*time.Minute))
		_ = repo.Create(ctx, winner)
		_ = repo.Append(ctx, "r3", domain.Transition{
			From: domain.DeploymentStateVerifying, To: domain.DeploymentStateCommitted, At: base.Add(3 * time.Minute),
		})

		if err := repo.DeleteSuperseded(ctx, "res", "r3"); err != nil {
			t.Fatalf("DeleteSuperseded: %v", err)
		}

		if _, err := repo.Get(ctx, "r1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("terminal r1 must be dropped, got %v", err)
		}
		if _, err := repo.Get(ctx, "r2"); err != nil {
			t.Errorf("non-terminal r2 must survive: %v", err)
		}
		if _, err := repo.Get(ctx, "r3"); err != nil {
			t.Errorf("kept record r3 must survive: %v", err)
		}
	})
}
