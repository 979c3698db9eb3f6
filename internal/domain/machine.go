package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MachineConfig holds the explicit timeouts and budgets for each blocking
// transition of the deployment state machine. Zero values take the
// defaults below.
type MachineConfig struct {
	// StopTimeout bounds how long STOPPING_OLD waits for the old
	// instance to go down and release the lock.
	StopTimeout time.Duration
	// StopPollInterval is the probe interval while waiting for the old
	// instance to stop.
	StopPollInterval time.Duration
	// LeaseDuration is the lock lease granted to the new instance.
	LeaseDuration time.Duration
	// LockRetryLimit is the number of acquire retries after the first
	// attempt fails with ErrAlreadyHeld.
	LockRetryLimit int
	// LockRetryBackoff is the base backoff between acquire attempts;
	// attempt n waits n times this value.
	LockRetryBackoff time.Duration
	// HealthTimeout bounds VERIFYING.
	HealthTimeout time.Duration
	// HealthInterval is the readiness probe interval during VERIFYING.
	HealthInterval time.Duration
}

const (
	defaultStopTimeout      = 30 * time.Second
	defaultStopPollInterval = 250 * time.Millisecond
	defaultLeaseDuration    = 15 * time.Second
	defaultLockRetryLimit   = 5
	defaultLockRetryBackoff = 500 * time.Millisecond
	defaultHealthTimeout    = 60 * time.Second
	defaultHealthInterval   = time.Second
)

func (c MachineConfig) withDefaults() MachineConfig {
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.StopPollInterval <= 0 {
		c.StopPollInterval = defaultStopPollInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.LockRetryLimit <= 0 {
		c.LockRetryLimit = defaultLockRetryLimit
	}
	if c.LockRetryBackoff <= 0 {
		c.LockRetryBackoff = defaultLockRetryBackoff
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = defaultHealthTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	return c
}

// DeploymentWorkflow drives a singleton instance through
// stop-old, acquire-lock, start-new, verify-health, commit-or-rollback.
// Each step is a named idempotent activity so a durable engine can resume
// a crashed run; the synchronous engine executes the same steps inline.
type DeploymentWorkflow struct {
	Records   DeploymentRecordRepository
	Versions  VersionRepository
	Instances InstanceRepository
	Locks     *LockManager
	Breaker   *CircuitBreaker
	Runner    InstanceRunner
	Health    *HealthMonitor
	Config    MachineConfig

	Now func() time.Time
	// Sleep is overridable for tests; nil means a ctx-honoring timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Name is the stable workflow registration name.
func (w *DeploymentWorkflow) Name() string { return "deployment" }

// Run executes one deployment run for the record. It returns the terminal
// state and, for every outcome other than COMMITTED, an error from the
// taxonomy (ErrStopTimeout, ErrAlreadyHeld, ErrHealthTimeout,
// ErrCircuitOpen, ErrCancelled, ...). The full transition trail is in the
// record either way.
func (w *DeploymentWorkflow) Run(runner DurableRunner, recordID RecordID) (DeploymentState, error) {
	rec, err := RunActivity(runner, w.LoadRecord(), recordID)
	if err != nil {
		return DeploymentStateFailed, err
	}
	resource := rec.Request.Resource

	version, err := RunActivity(runner, w.ResolveVersion(), rec.Request.TargetVersion)
	if err != nil {
		return w.fail(runner, recordID, DeploymentStateIdle, err)
	}

	// The breaker is consulted before any instance is touched: an open
	// circuit must not stop the old instance.
	if _, err := RunActivity(runner, w.CheckBreaker(), BreakerInput{Resource: resource, Version: version.ID}); err != nil {
		return w.fail(runner, recordID, DeploymentStateIdle, err)
	}

	if err := w.advance(runner, recordID, DeploymentStateIdle, DeploymentStateStoppingOld,
		fmt.Sprintf("deploy %s requested", version.ID)); err != nil {
		return DeploymentStateFailed, err
	}

	stopped, err := RunActivity(runner, w.StopOld(), StopOldInput{Resource: resource})
	if err != nil {
		return w.fail(runner, recordID, DeploymentStateStoppingOld, err)
	}

	reason := "no previous instance"
	if stopped.Stopped {
		reason = fmt.Sprintf("instance %s stopped, lock released", stopped.Instance)
	}
	if err := w.advance(runner, recordID, DeploymentStateStoppingOld, DeploymentStateAcquiringLock, reason); err != nil {
		return DeploymentStateFailed, err
	}

	instanceID, err := RunActivity(runner, w.NewInstanceID(), struct{}{})
	if err != nil {
		return w.fail(runner, recordID, DeploymentStateAcquiringLock, err)
	}

	lock, err := RunActivity(runner, w.AcquireLock(), AcquireInput{Resource: resource, Holder: instanceID})
	if err != nil {
		return w.fail(runner, recordID, DeploymentStateAcquiringLock, err)
	}

	if err := w.advance(runner, recordID, DeploymentStateAcquiringLock, DeploymentStateStartingNew,
		fmt.Sprintf("lock acquired by %s", instanceID)); err != nil {
		return DeploymentStateFailed, err
	}

	inst, err := RunActivity(runner, w.StartInstance(), StartInput{
		Resource: resource,
		Instance: instanceID,
		Version:  version.ID,
	})
	if err != nil {
		// The lock is held but nothing started; release before failing.
		_, _ = RunActivity(runner, w.Rollback(), RollbackInput{Lock: lock})
		return w.fail(runner, recordID, DeploymentStateStartingNew, err)
	}

	if err := w.advance(runner, recordID, DeploymentStateStartingNew, DeploymentStateVerifying,
		fmt.Sprintf("instance %s started at %s", inst.ID, version.ID)); err != nil {
		return DeploymentStateFailed, err
	}

	if _, err := RunActivity(runner, w.VerifyHealth(), VerifyInput{Instance: inst, Lock: lock}); err != nil {
		_, rbErr := RunActivity(runner, w.Rollback(), RollbackInput{
			Instance: &inst,
			Lock:     lock,
			// Cancellation is the caller's choice, not a verification
			// failure; it does not trip the breaker. The error may have
			// crossed an engine boundary, so identity is restored first.
			CountFailure: !errors.Is(RestoreSentinel(err), ErrCancelled),
		})
		if rbErr != nil {
			return w.fail(runner, recordID, DeploymentStateVerifying, rbErr)
		}
		if aErr := w.advance(runner, recordID, DeploymentStateVerifying, DeploymentStateRolledBack, err.Error()); aErr != nil {
			return DeploymentStateFailed, aErr
		}
		return DeploymentStateRolledBack, err
	}

	if _, err := RunActivity(runner, w.Commit(), CommitInput{
		Resource: resource,
		Instance: inst,
		Version:  version.ID,
		Record:   recordID,
	}); err != nil {
		return w.fail(runner, recordID, DeploymentStateVerifying, err)
	}

	if err := w.advance(runner, recordID, DeploymentStateVerifying, DeploymentStateCommitted,
		fmt.Sprintf("instance %s healthy, current version now %s", inst.ID, version.ID)); err != nil {
		return DeploymentStateFailed, err
	}
	return DeploymentStateCommitted, nil
}

// fail records the transition to FAILED and returns the original error.
func (w *DeploymentWorkflow) fail(runner DurableRunner, id RecordID, from DeploymentState, cause error) (DeploymentState, error) {
	if err := w.advance(runner, id, from, DeploymentStateFailed, cause.Error()); err != nil {
		return DeploymentStateFailed, errors.Join(cause, err)
	}
	return DeploymentStateFailed, cause
}

func (w *DeploymentWorkflow) advance(runner DurableRunner, id RecordID, from, to DeploymentState, reason string) error {
	_, err := RunActivity(runner, w.RecordTransition(), TransitionInput{
		Record: id,
		From:   from,
		To:     to,
		Reason: reason,
	})
	return err
}

// --- activity inputs ---

type BreakerInput struct {
	Resource ResourceID
	Version  VersionID
}

type TransitionInput struct {
	Record RecordID
	From   DeploymentState
	To     DeploymentState
	Reason string
}

type StopOldInput struct {
	Resource ResourceID
}

type StopOldOutput struct {
	Stopped  bool
	Instance InstanceID
}

type AcquireInput struct {
	Resource ResourceID
	Holder   InstanceID
}

type StartInput struct {
	Resource ResourceID
	Instance InstanceID
	Version  VersionID
}

type VerifyInput struct {
	Instance Instance
	Lock     Lock
}

type RollbackInput struct {
	Instance     *Instance // nil when no instance was started
	Lock         Lock
	CountFailure bool
}

type CommitInput struct {
	Resource ResourceID
	Instance Instance
	Version  VersionID
	Record   RecordID
}

// --- activities ---

func (w *DeploymentWorkflow) LoadRecord() Activity[RecordID, DeploymentRecord] {
	return NewActivity("load-record", func(ctx context.Context, id RecordID) (DeploymentRecord, error) {
		return w.Records.Get(ctx, id)
	})
}

func (w *DeploymentWorkflow) ResolveVersion() Activity[VersionID, Version] {
	return NewActivity("resolve-version", func(ctx context.Context, id VersionID) (Version, error) {
		return w.Versions.Get(ctx, id)
	})
}

func (w *DeploymentWorkflow) CheckBreaker() Activity[BreakerInput, struct{}] {
	return NewActivity("check-breaker", func(ctx context.Context, in BreakerInput) (struct{}, error) {
		return struct{}{}, w.Breaker.Allow(ctx, in.Resource, in.Version)
	})
}

func (w *DeploymentWorkflow) RecordTransition() Activity[TransitionInput, struct{}] {
	return NewActivity("record-transition", func(ctx context.Context, in TransitionInput) (struct{}, error) {
		// A cancelled caller must not abort the write: the record would
		// be stuck in a non-terminal state with its idempotency key taken.
		ctx = context.WithoutCancel(ctx)
		return struct{}{}, w.Records.Append(ctx, in.Record, Transition{
			From:   in.From,
			To:     in.To,
			At:     w.now(),
			Reason: in.Reason,
		})
	})
}

// StopOld gracefully stops the previous instance and waits until its lock
// is no longer live. The wait resolves three ways: the lock row is gone
// (holder released), the lease expired (holder crashed), or the probe
// reports the process down, in which case the lock is released on the
// holder's behalf. Exceeding StopTimeout is non-recoverable.
func (w *DeploymentWorkflow) StopOld() Activity[StopOldInput, StopOldOutput] {
	return NewActivity("stop-old", func(ctx context.Context, in StopOldInput) (StopOldOutput, error) {
		cfg := w.Config.withDefaults()

		inst, err := w.Instances.Active(ctx, in.Resource)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return StopOldOutput{}, nil
			}
			return StopOldOutput{}, fmt.Errorf("find active instance: %w", err)
		}

		inst.State = InstanceStateStopping
		if err := w.Instances.Put(ctx, inst); err != nil {
			return StopOldOutput{}, err
		}
		if err := w.Runner.Stop(ctx, inst); err != nil {
			return StopOldOutput{}, fmt.Errorf("stop instance %s: %w", inst.ID, err)
		}

		deadline := w.now().Add(cfg.StopTimeout)
		for {
			held, err := w.Locks.Held(ctx, in.Resource, inst.ID)
			if err != nil {
				return StopOldOutput{}, err
			}
			if !held {
				break
			}
			if w.Health.Probe(ctx, inst) == HealthFailed {
				// Process is down but the lease has not expired yet;
				// release on its behalf rather than waiting it out.
				if err := w.Locks.Release(ctx, Lock{Resource: in.Resource, Holder: inst.ID}); err != nil {
					return StopOldOutput{}, err
				}
				break
			}
			if !w.now().Before(deadline) {
				return StopOldOutput{}, fmt.Errorf("%w: instance %s still holds lock on %s after %s",
					ErrStopTimeout, inst.ID, in.Resource, cfg.StopTimeout)
			}
			if err := w.sleep(ctx, cfg.StopPollInterval); err != nil {
				return StopOldOutput{}, fmt.Errorf("%w: %v", ErrCancelled, err)
			}
		}

		inst.State = InstanceStateStopped
		if err := w.Instances.Put(ctx, inst); err != nil {
			return StopOldOutput{}, err
		}
		return StopOldOutput{Stopped: true, Instance: inst.ID}, nil
	})
}

func (w *DeploymentWorkflow) NewInstanceID() Activity[struct{}, InstanceID] {
	return NewActivity("new-instance-id", func(_ context.Context, _ struct{}) (InstanceID, error) {
		return InstanceID(uuid.NewString()), nil
	})
}

// AcquireLock takes the exclusive lock for the new instance, retrying
// contention with linear backoff up to LockRetryLimit.
func (w *DeploymentWorkflow) AcquireLock() Activity[AcquireInput, Lock] {
	return NewActivity("acquire-lock", func(ctx context.Context, in AcquireInput) (Lock, error) {
		cfg := w.Config.withDefaults()
		var lastErr error
		for attempt := 0; attempt <= cfg.LockRetryLimit; attempt++ {
			if attempt > 0 {
				if err := w.sleep(ctx, time.Duration(attempt)*cfg.LockRetryBackoff); err != nil {
					return Lock{}, fmt.Errorf("%w: %v", ErrCancelled, err)
				}
			}
			lock, err := w.Locks.Acquire(ctx, in.Resource, in.Holder, cfg.LeaseDuration)
			if err == nil {
				return lock, nil
			}
			if !errors.Is(err, ErrAlreadyHeld) {
				return Lock{}, err
			}
			lastErr = err
		}
		return Lock{}, fmt.Errorf("lock retries exhausted: %w", lastErr)
	})
}

// StartInstance launches the new instance. It enforces the at-most-one
// invariant: no second candidate may launch while another instance is
// non-terminal for the resource.
func (w *DeploymentWorkflow) StartInstance() Activity[StartInput, Instance] {
	return NewActivity("start-instance", func(ctx context.Context, in StartInput) (Instance, error) {
		if active, err := w.Instances.Active(ctx, in.Resource); err == nil {
			if active.ID != in.Instance {
				return Instance{}, fmt.Errorf("%w: instance %s already active on %s",
					ErrAlreadyExists, active.ID, in.Resource)
			}
		} else if !errors.Is(err, ErrNotFound) {
			return Instance{}, err
		}

		inst := Instance{
			ID:        in.Instance,
			Resource:  in.Resource,
			Version:   in.Version,
			State:     InstanceStateStarting,
			StartedAt: w.now(),
		}
		started, err := w.Runner.Start(ctx, inst)
		if err != nil {
			return Instance{}, fmt.Errorf("start instance: %w", err)
		}
		if err := w.Instances.Put(ctx, started); err != nil {
			return Instance{}, err
		}
		return started, nil
	})
}

// VerifyHealth polls readiness while keeping the lease alive. Losing the
// lease during verification fails the verification: the instance may no
// longer own the resource.
func (w *DeploymentWorkflow) VerifyHealth() Activity[VerifyInput, struct{}] {
	return NewActivity("verify-health", func(ctx context.Context, in VerifyInput) (struct{}, error) {
		cfg := w.Config.withDefaults()

		kaCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		renewErr := make(chan error, 1)
		go func() {
			renewErr <- w.Locks.KeepAlive(kaCtx, in.Lock, cfg.LeaseDuration)
		}()

		err := w.Health.WaitUntilHealthy(ctx, in.Instance, cfg.HealthTimeout, cfg.HealthInterval)
		cancel()
		if kerr := <-renewErr; kerr != nil {
			return struct{}{}, kerr
		}
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// Rollback stops the candidate instance (if one started), releases its
// lock, and optionally counts a breaker failure. It never restarts the
// previous version: the cutover policy accepts a zero-running window and
// leaves the retry decision to the caller.
func (w *DeploymentWorkflow) Rollback() Activity[RollbackInput, struct{}] {
	return NewActivity("rollback", func(ctx context.Context, in RollbackInput) (struct{}, error) {
		// Cleanup runs even when the caller has cancelled; otherwise the
		// lock stays held and the instance row stays active.
		ctx = context.WithoutCancel(ctx)
		if in.Instance != nil {
			if err := w.Runner.Stop(ctx, *in.Instance); err != nil {
				return struct{}{}, fmt.Errorf("stop rolled-back instance: %w", err)
			}
			inst := *in.Instance
			inst.State = InstanceStateFailed
			if err := w.Instances.Put(ctx, inst); err != nil {
				return struct{}{}, err
			}
		}
		if err := w.Locks.Release(ctx, in.Lock); err != nil {
			return struct{}{}, err
		}
		if in.CountFailure && in.Instance != nil {
			if err := w.Breaker.RecordFailure(ctx, in.Instance.Resource, in.Instance.Version); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
}

// Commit makes the new instance the committed one: it reaches RUNNING,
// the registry's current version moves, the breaker resets, and records
// of superseded runs are dropped.
func (w *DeploymentWorkflow) Commit() Activity[CommitInput, struct{}] {
	return NewActivity("commit", func(ctx context.Context, in CommitInput) (struct{}, error) {
		// The instance passed verification; the commit writes must land
		// as a unit even when the caller has cancelled.
		ctx = context.WithoutCancel(ctx)
		inst := in.Instance
		inst.State = InstanceStateRunning
		if err := w.Instances.Put(ctx, inst); err != nil {
			return struct{}{}, err
		}
		if err := w.Versions.SetCurrent(ctx, in.Resource, in.Version); err != nil {
			return struct{}{}, err
		}
		if err := w.Breaker.Reset(ctx, in.Resource, in.Version); err != nil {
			return struct{}{}, err
		}
		if err := w.Records.DeleteSuperseded(ctx, in.Resource, in.Record); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

func (w *DeploymentWorkflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *DeploymentWorkflow) sleep(ctx context.Context, d time.Duration) error {
	if w.Sleep != nil {
		return w.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
