package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// DeployInput is the caller-provided input for a desired-version change.
type DeployInput struct {
	Resource       domain.ResourceID
	TargetVersion  domain.VersionID
	IdempotencyKey string
}

// StatusOutput reports the current deployment state of a resource.
type StatusOutput struct {
	State  domain.DeploymentState
	Record domain.DeploymentRecord
}

// OrchestratorService is the public entry point. It accepts
// desired-version change requests, enforces one active run per resource
// (a control-plane mutex, distinct from the data-plane lock), deduplicates
// by idempotency key, and keeps the committed instance's lease alive.
type OrchestratorService struct {
	Records   domain.DeploymentRecordRepository
	Instances domain.InstanceRepository
	Locks     *domain.LockManager
	Runner    domain.InstanceRunner
	Workflow  domain.DeploymentRunner
	Breaker   *domain.CircuitBreaker

	// Lease is the lease duration used to keep the committed instance's
	// lock alive after Deploy returns. Should match the machine config.
	Lease time.Duration

	Now func() time.Time

	mu       sync.Mutex
	inflight map[domain.ResourceID]*inflightRun
	keepers  map[domain.ResourceID]context.CancelFunc
}

type inflightRun struct {
	key    string
	record domain.RecordID
	done   chan struct{}
}

// Deploy runs one deployment to the target version and blocks until the
// run reaches COMMITTED, ROLLED_BACK, or FAILED. The returned record
// carries the full transition trail; for every outcome other than
// COMMITTED an error from the domain taxonomy accompanies it.
//
// Re-submitting the same idempotency key while the run is in flight joins
// the in-flight run instead of starting a second one; after the run has
// resolved it returns the stored record.
func (o *OrchestratorService) Deploy(ctx context.Context, in DeployInput) (domain.DeploymentRecord, error) {
	if in.Resource == "" {
		return domain.DeploymentRecord{}, fmt.Errorf("%w: resource is required", domain.ErrInvalidArgument)
	}
	if in.TargetVersion == "" {
		return domain.DeploymentRecord{}, fmt.Errorf("%w: target version is required", domain.ErrInvalidArgument)
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}

	if rec, err := o.Records.GetByIdempotencyKey(ctx, in.IdempotencyKey); err == nil {
		if rec.State.Terminal() {
			return rec, terminalError(rec)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.DeploymentRecord{}, err
	}

	o.mu.Lock()
	if o.inflight == nil {
		o.inflight = make(map[domain.ResourceID]*inflightRun)
	}
	if run, ok := o.inflight[in.Resource]; ok {
		o.mu.Unlock()
		if run.key != in.IdempotencyKey {
			return domain.DeploymentRecord{}, fmt.Errorf(
				"%w: deployment already in flight for resource %s", domain.ErrAlreadyExists, in.Resource)
		}
		select {
		case <-run.done:
		case <-ctx.Done():
			return domain.DeploymentRecord{}, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
		rec, err := o.Records.Get(context.WithoutCancel(ctx), run.record)
		if err != nil {
			return domain.DeploymentRecord{}, err
		}
		return rec, terminalError(rec)
	}

	rec := domain.DeploymentRecord{
		ID: domain.RecordID(uuid.NewString()),
		Request: domain.DeploymentRequest{
			Resource:       in.Resource,
			TargetVersion:  in.TargetVersion,
			IdempotencyKey: in.IdempotencyKey,
			RequestedAt:    o.now(),
		},
		State: domain.DeploymentStateIdle,
	}
	if err := o.Records.Create(ctx, rec); err != nil {
		o.mu.Unlock()
		return domain.DeploymentRecord{}, err
	}

	run := &inflightRun{key: in.IdempotencyKey, record: rec.ID, done: make(chan struct{})}
	o.inflight[in.Resource] = run

	// The run will stop the old instance; its lease keeper must not
	// fight the stop by renewing behind the machine's back.
	o.stopKeeperLocked(in.Resource)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inflight, in.Resource)
		o.mu.Unlock()
		close(run.done)
	}()

	handle, err := o.Workflow.Run(ctx, rec.ID)
	if err != nil {
		return domain.DeploymentRecord{}, fmt.Errorf("start deployment workflow: %w", err)
	}
	state, runErr := handle.AwaitResult(ctx)

	if state == domain.DeploymentStateCommitted {
		o.startKeeper(in.Resource)
	}

	// The run may have rolled back because the caller cancelled; the
	// outcome is read regardless so the caller sees the terminal record.
	final, err := o.Records.Get(context.WithoutCancel(ctx), rec.ID)
	if err != nil {
		return domain.DeploymentRecord{}, err
	}
	return final, runErr
}

// Status returns the resource's last deployment record and its state.
func (o *OrchestratorService) Status(ctx context.Context, resource domain.ResourceID) (StatusOutput, error) {
	rec, err := o.Records.Latest(ctx, resource)
	if err != nil {
		return StatusOutput{}, err
	}
	return StatusOutput{State: rec.State, Record: rec}, nil
}

// Rollback is the operator-invoked stop of the committed instance: the
// instance is stopped, its lock released, and the last record moved to
// ROLLED_BACK. No previous version is restarted.
func (o *OrchestratorService) Rollback(ctx context.Context, resource domain.ResourceID) error {
	o.mu.Lock()
	if _, ok := o.inflight[resource]; ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: deployment in flight for resource %s", domain.ErrAlreadyExists, resource)
	}
	o.stopKeeperLocked(resource)
	o.mu.Unlock()

	inst, err := o.Instances.Active(ctx, resource)
	if err != nil {
		return err
	}
	if err := o.Runner.Stop(ctx, inst); err != nil {
		return fmt.Errorf("stop instance %s: %w", inst.ID, err)
	}
	inst.State = domain.InstanceStateStopped
	if err := o.Instances.Put(ctx, inst); err != nil {
		return err
	}
	if err := o.Locks.Release(ctx, domain.Lock{Resource: resource, Holder: inst.ID}); err != nil {
		return err
	}

	rec, err := o.Records.Latest(ctx, resource)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	return o.Records.Append(ctx, rec.ID, domain.Transition{
		From:   rec.State,
		To:     domain.DeploymentStateRolledBack,
		At:     o.now(),
		Reason: fmt.Sprintf("operator rollback: instance %s stopped", inst.ID),
	})
}

// ResetCircuit clears the circuit breaker for a (resource, version) pair
// so deployment of that version may be attempted again.
func (o *OrchestratorService) ResetCircuit(ctx context.Context, resource domain.ResourceID, version domain.VersionID) error {
	return o.Breaker.Reset(ctx, resource, version)
}

// Close stops all lease keepers. The committed instances keep running;
// their leases will expire unless another orchestrator takes over.
func (o *OrchestratorService) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for resource := range o.keepers {
		o.stopKeeperLocked(resource)
	}
}

// startKeeper renews the committed instance's lease in the background
// until the next deployment or rollback stops it.
func (o *OrchestratorService) startKeeper(resource domain.ResourceID) {
	lock, err := o.Locks.Current(context.Background(), resource)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	if o.keepers == nil {
		o.keepers = make(map[domain.ResourceID]context.CancelFunc)
	}
	o.stopKeeperLocked(resource)
	o.keepers[resource] = cancel
	o.mu.Unlock()

	lease := o.Lease
	if lease <= 0 {
		lease = lock.ExpiresAt.Sub(lock.AcquiredAt)
	}
	go func() {
		_ = o.Locks.KeepAlive(ctx, lock, lease)
	}()
}

func (o *OrchestratorService) stopKeeperLocked(resource domain.ResourceID) {
	if cancel, ok := o.keepers[resource]; ok {
		cancel()
		delete(o.keepers, resource)
	}
}

func (o *OrchestratorService) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// terminalError maps a terminal record to the error contract: nil for
// COMMITTED, a taxonomy error otherwise, so repeated submissions of a
// finished request observe the same outcome. The last transition reason
// carries the original taxonomy message, so identity is restored from it.
func terminalError(rec domain.DeploymentRecord) error {
	switch rec.State {
	case domain.DeploymentStateCommitted:
		return nil
	case domain.DeploymentStateRolledBack:
		return domain.RestoreSentinel(fmt.Errorf("deployment rolled back: %s", rec.LastReason()))
	case domain.DeploymentStateFailed:
		return domain.RestoreSentinel(fmt.Errorf("deployment failed: %s", rec.LastReason()))
	default:
		return nil
	}
}
