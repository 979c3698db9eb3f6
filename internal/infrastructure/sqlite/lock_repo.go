package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// LockRepo implements [domain.LockRepository] backed by SQLite. Acquire
// and renew are single UPSERT/UPDATE statements so that concurrent
// callers, including other processes sharing the database file, cannot
// both win. Timestamps are stored as Unix nanoseconds because expiry is
// compared inside the statements.
type LockRepo struct {
	DB *sql.DB
}

func (r *LockRepo) TryAcquire(ctx context.Context, lock domain.Lock, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO locks (resource_id, holder_id, acquired_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (resource_id) DO UPDATE SET
		   holder_id = excluded.holder_id,
		   acquired_at = excluded.acquired_at,
		   expires_at = excluded.expires_at
		 WHERE locks.expires_at <= ? OR locks.holder_id = excluded.holder_id`,
		string(lock.Resource), string(lock.Holder),
		lock.AcquiredAt.UnixNano(), lock.ExpiresAt.UnixNano(),
		now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("try acquire: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("try acquire rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *LockRepo) Renew(ctx context.Context, resource domain.ResourceID, holder domain.InstanceID, expiresAt, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE locks SET expires_at = ?
		 WHERE resource_id = ? AND holder_id = ? AND expires_at > ?`,
		expiresAt.UnixNano(), string(resource), string(holder), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *LockRepo) Release(ctx context.Context, resource domain.ResourceID, holder domain.InstanceID) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM locks WHERE resource_id = ? AND holder_id = ?`,
		string(resource), string(holder),
	)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (r *LockRepo) Get(ctx context.Context, resource domain.ResourceID) (domain.Lock, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT resource_id, holder_id, acquired_at, expires_at FROM locks WHERE resource_id = ?`,
		string(resource),
	)
	var lock domain.Lock
	var res, holder string
	var acquiredNanos, expiresNanos int64
	if err := row.Scan(&res, &holder, &acquiredNanos, &expiresNanos); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lock, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return lock, fmt.Errorf("scan lock: %w", err)
	}
	lock.Resource = domain.ResourceID(res)
	lock.Holder = domain.InstanceID(holder)
	lock.AcquiredAt = time.Unix(0, acquiredNanos).UTC()
	lock.ExpiresAt = time.Unix(0, expiresNanos).UTC()
	return lock, nil
}
