package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// VersionRepo implements [domain.VersionRepository] backed by SQLite.
type VersionRepo struct {
	DB *sql.DB
}

func (r *VersionRepo) Create(ctx context.Context, v domain.Version) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO versions (id, digest, created_at) VALUES (?, ?, ?)`,
		string(v.ID), v.Digest, v.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("version %q: %w", v.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (r *VersionRepo) Get(ctx context.Context, id domain.VersionID) (domain.Version, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, digest, created_at FROM versions WHERE id = ?`, string(id))
	return scanVersion(row)
}

func (r *VersionRepo) List(ctx context.Context) ([]domain.Version, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, digest, created_at FROM versions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *VersionRepo) SetCurrent(ctx context.Context, resource domain.ResourceID, id domain.VersionID) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO current_versions (resource_id, version_id) VALUES (?, ?)
		 ON CONFLICT (resource_id) DO UPDATE SET version_id = excluded.version_id`,
		string(resource), string(id),
	)
	if err != nil {
		return fmt.Errorf("set current version: %w", err)
	}
	return nil
}

func (r *VersionRepo) Current(ctx context.Context, resource domain.ResourceID) (domain.Version, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT v.id, v.digest, v.created_at
		 FROM current_versions c JOIN versions v ON v.id = c.version_id
		 WHERE c.resource_id = ?`,
		string(resource),
	)
	return scanVersion(row)
}

func scanVersion(s scanner) (domain.Version, error) {
	var v domain.Version
	var id string
	var createdNanos int64
	if err := s.Scan(&id, &v.Digest, &createdNanos); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return v, fmt.Errorf("scan version: %w", err)
	}
	v.ID = domain.VersionID(id)
	v.CreatedAt = time.Unix(0, createdNanos).UTC()
	return v, nil
}
