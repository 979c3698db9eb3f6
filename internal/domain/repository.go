package domain

import (
	"context"
	"time"
)

// VersionRepository persists registered versions and the per-resource
// current version.
type VersionRepository interface {
	Create(ctx context.Context, v Version) error
	Get(ctx context.Context, id VersionID) (Version, error)
	List(ctx context.Context) ([]Version, error)

	// SetCurrent records the version a resource is committed to.
	SetCurrent(ctx context.Context, resource ResourceID, id VersionID) error
	// Current returns the committed version for the resource, or
	// ErrNotFound before the first successful deployment.
	Current(ctx context.Context, resource ResourceID) (Version, error)
}

// LockRepository persists leases. Implementations must make TryAcquire
// and Renew atomic with respect to concurrent callers, including callers
// in other processes sharing the same store.
type LockRepository interface {
	// TryAcquire installs the lock if the resource is unlocked, the
	// existing lock has expired as of now, or the existing holder is the
	// same. Returns false when a different live holder exists.
	TryAcquire(ctx context.Context, lock Lock, now time.Time) (bool, error)

	// Renew extends the expiry if the holder still owns a live lock.
	// Returns false when the lock is expired, released, or owned by
	// another holder.
	Renew(ctx context.Context, resource ResourceID, holder InstanceID, expiresAt time.Time, now time.Time) (bool, error)

	// Release deletes the lock if owned by holder. Releasing a lock that
	// is absent or owned by another holder is a no-op.
	Release(ctx context.Context, resource ResourceID, holder InstanceID) error

	// Get returns the stored lock for the resource regardless of expiry,
	// or ErrNotFound.
	Get(ctx context.Context, resource ResourceID) (Lock, error)
}

// InstanceRepository persists runtime instance handles so that a restart
// of the orchestrator can find the instance it must stop or adopt.
type InstanceRepository interface {
	Put(ctx context.Context, inst Instance) error
	Get(ctx context.Context, id InstanceID) (Instance, error)
	// Active returns the single non-terminal instance for the resource,
	// or ErrNotFound when none is running.
	Active(ctx context.Context, resource ResourceID) (Instance, error)
}

// DeploymentRecordRepository persists deployment records and their
// transition trails.
type DeploymentRecordRepository interface {
	Create(ctx context.Context, rec DeploymentRecord) error
	Get(ctx context.Context, id RecordID) (DeploymentRecord, error)
	// GetByIdempotencyKey returns the record created for the key, or
	// ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (DeploymentRecord, error)
	// Latest returns the most recent record for the resource, or
	// ErrNotFound.
	Latest(ctx context.Context, resource ResourceID) (DeploymentRecord, error)
	// Append adds a transition and moves the record to the transition's
	// To state.
	Append(ctx context.Context, id RecordID, tr Transition) error
	// DeleteSuperseded removes terminal records for the resource other
	// than keep. Called after a successful deployment.
	DeleteSuperseded(ctx context.Context, resource ResourceID, keep RecordID) error
}

// BreakerRepository persists consecutive-failure counters per
// (resource, version) pair so circuit-breaker decisions survive restart.
type BreakerRepository interface {
	Failures(ctx context.Context, resource ResourceID, version VersionID) (int, error)
	Increment(ctx context.Context, resource ResourceID, version VersionID) (int, error)
	Reset(ctx context.Context, resource ResourceID, version VersionID) error
}
