package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LockManager guarantees at most one live holder of an exclusive resource
// at any instant, across process crashes. Leases are judged by expiry
// timestamps only; no clock synchronization between holders is assumed.
type LockManager struct {
	Locks LockRepository
	Now   func() time.Time
}

// Acquire takes the lock for holder with the given lease duration. It
// fails with ErrAlreadyHeld while a non-expired lock with a different
// holder exists.
func (m *LockManager) Acquire(ctx context.Context, resource ResourceID, holder InstanceID, lease time.Duration) (Lock, error) {
	now := m.now()
	lock := Lock{
		Resource:   resource,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(lease),
	}
	ok, err := m.Locks.TryAcquire(ctx, lock, now)
	if err != nil {
		return Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return Lock{}, fmt.Errorf("%w: resource %s", ErrAlreadyHeld, resource)
	}
	return lock, nil
}

// Renew extends the lease. It fails with ErrLockExpired when the holder
// no longer owns a live lock; the holder must then treat the resource as
// lost.
func (m *LockManager) Renew(ctx context.Context, lock Lock, lease time.Duration) (Lock, error) {
	now := m.now()
	expiresAt := now.Add(lease)
	ok, err := m.Locks.Renew(ctx, lock.Resource, lock.Holder, expiresAt, now)
	if err != nil {
		return Lock{}, fmt.Errorf("renew lock: %w", err)
	}
	if !ok {
		return Lock{}, fmt.Errorf("%w: resource %s holder %s", ErrLockExpired, lock.Resource, lock.Holder)
	}
	lock.ExpiresAt = expiresAt
	return lock, nil
}

// Release gives up the lock. Releasing an already-released or expired
// lock is a no-op.
func (m *LockManager) Release(ctx context.Context, lock Lock) error {
	if err := m.Locks.Release(ctx, lock.Resource, lock.Holder); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Held reports whether holder currently owns a live lock on resource.
func (m *LockManager) Held(ctx context.Context, resource ResourceID, holder InstanceID) (bool, error) {
	lock, err := m.Locks.Get(ctx, resource)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return lock.Holder == holder && !lock.Expired(m.now()), nil
}

// Current returns the live lock on resource, or ErrNotFound when the
// resource is unlocked or the stored lock has expired.
func (m *LockManager) Current(ctx context.Context, resource ResourceID) (Lock, error) {
	lock, err := m.Locks.Get(ctx, resource)
	if err != nil {
		return Lock{}, err
	}
	if lock.Expired(m.now()) {
		return Lock{}, fmt.Errorf("%w: lock on %s expired", ErrNotFound, resource)
	}
	return lock, nil
}

// KeepAlive renews the lock at half the lease duration until ctx is
// cancelled or a renewal fails. It returns nil on cancellation and the
// renewal error otherwise.
func (m *LockManager) KeepAlive(ctx context.Context, lock Lock, lease time.Duration) error {
	interval := lease / 2
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			renewed, err := m.Renew(ctx, lock, lease)
			if err != nil {
				return err
			}
			lock = renewed
		}
	}
}

func (m *LockManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
