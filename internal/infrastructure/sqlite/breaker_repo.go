package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// BreakerRepo implements [domain.BreakerRepository] backed by SQLite.
type BreakerRepo struct {
	DB *sql.DB
}

func (r *BreakerRepo) Failures(ctx context.Context, resource domain.ResourceID, version domain.VersionID) (int, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT failures FROM breaker_counters WHERE resource_id = ? AND version_id = ?`,
		string(resource), string(version),
	)
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan breaker counter: %w", err)
	}
	return n, nil
}

func (r *BreakerRepo) Increment(ctx context.Context, resource domain.ResourceID, version domain.VersionID) (int, error) {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO breaker_counters (resource_id, version_id, failures) VALUES (?, ?, 1)
		 ON CONFLICT (resource_id, version_id) DO UPDATE SET failures = failures + 1`,
		string(resource), string(version),
	)
	if err != nil {
		return 0, fmt.Errorf("increment breaker counter: %w", err)
	}
	return r.Failures(ctx, resource, version)
}

func (r *BreakerRepo) Reset(ctx context.Context, resource domain.ResourceID, version domain.VersionID) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM breaker_counters WHERE resource_id = ? AND version_id = ?`,
		string(resource), string(version),
	)
	if err != nil {
		return fmt.Errorf("reset breaker counter: %w", err)
	}
	return nil
}
