package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// RecordRepo implements [domain.DeploymentRecordRepository] backed by
// SQLite. Transitions live in their own table, appended under the
// record's next sequence number inside a transaction.
type RecordRepo struct {
	DB *sql.DB
}

func (r *RecordRepo) Create(ctx context.Context, rec domain.DeploymentRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO deployment_records (id, resource_id, target_version, idempotency_key, requested_at, state)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.ID), string(rec.Request.Resource), string(rec.Request.TargetVersion),
		rec.Request.IdempotencyKey, rec.Request.RequestedAt.UnixNano(),
		string(rec.State),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("deployment record %q: %w", rec.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert deployment record: %w", err)
	}
	return nil
}

func (r *RecordRepo) Get(ctx context.Context, id domain.RecordID) (domain.DeploymentRecord, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, resource_id, target_version, idempotency_key, requested_at, state
		 FROM deployment_records WHERE id = ?`,
		string(id),
	)
	rec, err := scanRecord(row)
	if err != nil {
		return rec, err
	}
	rec.Transitions, err = r.transitions(ctx, rec.ID)
	return rec, err
}

func (r *RecordRepo) GetByIdempotencyKey(ctx context.Context, key string) (domain.DeploymentRecord, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, resource_id, target_version, idempotency_key, requested_at, state
		 FROM deployment_records WHERE idempotency_key = ?`,
		key,
	)
	rec, err := scanRecord(row)
	if err != nil {
		return rec, err
	}
	rec.Transitions, err = r.transitions(ctx, rec.ID)
	return rec, err
}

func (r *RecordRepo) Latest(ctx context.Context, resource domain.ResourceID) (domain.DeploymentRecord, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, resource_id, target_version, idempotency_key, requested_at, state
		 FROM deployment_records WHERE resource_id = ?
		 ORDER BY requested_at DESC LIMIT 1`,
		string(resource),
	)
	rec, err := scanRecord(row)
	if err != nil {
		return rec, err
	}
	rec.Transitions, err = r.transitions(ctx, rec.ID)
	return rec, err
}

func (r *RecordRepo) Append(ctx context.Context, id domain.RecordID, tr domain.Transition) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE deployment_records SET state = ? WHERE id = ?`,
		string(tr.To), string(id),
	)
	if err != nil {
		return fmt.Errorf("update record state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deployment record %q: %w", id, domain.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO record_transitions (record_id, seq, from_state, to_state, reason, at)
		 SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?
		 FROM record_transitions WHERE record_id = ?`,
		string(id), string(tr.From), string(tr.To), tr.Reason,
		tr.At.UnixNano(), string(id),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return tx.Commit()
}

func (r *RecordRepo) DeleteSuperseded(ctx context.Context, resource domain.ResourceID, keep domain.RecordID) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM deployment_records
		 WHERE resource_id = ? AND id != ?
		   AND state IN (?, ?, ?)`,
		string(resource), string(keep),
		string(domain.DeploymentStateCommitted),
		string(domain.DeploymentStateRolledBack),
		string(domain.DeploymentStateFailed),
	)
	if err != nil {
		return fmt.Errorf("delete superseded records: %w", err)
	}
	return nil
}

func (r *RecordRepo) transitions(ctx context.Context, id domain.RecordID) ([]domain.Transition, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT from_state, to_state, reason, at
		 FROM record_transitions WHERE record_id = ? ORDER BY seq`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var trs []domain.Transition
	for rows.Next() {
		var tr domain.Transition
		var from, to string
		var atNanos int64
		if err := rows.Scan(&from, &to, &tr.Reason, &atNanos); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From = domain.DeploymentState(from)
		tr.To = domain.DeploymentState(to)
		tr.At = time.Unix(0, atNanos).UTC()
		trs = append(trs, tr)
	}
	return trs, rows.Err()
}

func scanRecord(s scanner) (domain.DeploymentRecord, error) {
	var rec domain.DeploymentRecord
	var id, resource, target, key, state string
	var requestedNanos int64
	if err := s.Scan(&id, &resource, &target, &key, &requestedNanos, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return rec, fmt.Errorf("scan deployment record: %w", err)
	}
	rec.ID = domain.RecordID(id)
	rec.Request.Resource = domain.ResourceID(resource)
	rec.Request.TargetVersion = domain.VersionID(target)
	rec.Request.IdempotencyKey = key
	rec.State = domain.DeploymentState(state)
	rec.Request.RequestedAt = time.Unix(0, requestedNanos).UTC()
	return rec, nil
}
