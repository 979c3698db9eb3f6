package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// InstanceRepo implements [domain.InstanceRepository] backed by SQLite.
type InstanceRepo struct {
	DB *sql.DB
}

func (r *InstanceRepo) Put(ctx context.Context, inst domain.Instance) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO instances (id, resource_id, version_id, state, started_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   resource_id = excluded.resource_id,
		   version_id = excluded.version_id,
		   state = excluded.state,
		   started_at = excluded.started_at`,
		string(inst.ID), string(inst.Resource), string(inst.Version),
		string(inst.State), inst.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert instance: %w", err)
	}
	return nil
}

func (r *InstanceRepo) Get(ctx context.Context, id domain.InstanceID) (domain.Instance, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, resource_id, version_id, state, started_at FROM instances WHERE id = ?`,
		string(id),
	)
	return scanInstance(row)
}

func (r *InstanceRepo) Active(ctx context.Context, resource domain.ResourceID) (domain.Instance, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, resource_id, version_id, state, started_at
		 FROM instances
		 WHERE resource_id = ? AND state NOT IN (?, ?)
		 ORDER BY started_at DESC LIMIT 1`,
		string(resource), string(domain.InstanceStateStopped), string(domain.InstanceStateFailed),
	)
	return scanInstance(row)
}

func scanInstance(s scanner) (domain.Instance, error) {
	var inst domain.Instance
	var id, resource, version, state string
	var startedNanos int64
	if err := s.Scan(&id, &resource, &version, &state, &startedNanos); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inst, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return inst, fmt.Errorf("scan instance: %w", err)
	}
	inst.ID = domain.InstanceID(id)
	inst.Resource = domain.ResourceID(resource)
	inst.Version = domain.VersionID(version)
	inst.State = domain.InstanceState(state)
	inst.StartedAt = time.Unix(0, startedNanos).UTC()
	return inst, nil
}
