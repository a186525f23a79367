package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertTaskProfile creates or updates a task's static definition.
func (s *Store) UpsertTaskProfile(ctx context.Context, p TaskProfile, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_profile (task_id, kind, entrypoint_path, module, queue_group, timeout_sec, retry_policy, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			kind = excluded.kind,
			entrypoint_path = excluded.entrypoint_path,
			module = excluded.module,
			queue_group = excluded.queue_group,
			timeout_sec = excluded.timeout_sec,
			retry_policy = excluded.retry_policy,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		p.TaskID, p.Kind, p.EntrypointPath, p.Module, p.QueueGroup, p.TimeoutSec, p.RetryPolicy, p.Enabled,
		nowStr(now), nowStr(now))
	if err != nil {
		return fmt.Errorf("store: upsert task_profile %s: %w", p.TaskID, err)
	}
	return nil
}

// GetTaskProfile fetches a single task profile by ID.
func (s *Store) GetTaskProfile(ctx context.Context, taskID string) (*TaskProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, kind, entrypoint_path, module, queue_group, timeout_sec, retry_policy, enabled, created_at, updated_at
		FROM task_profile WHERE task_id = ?`, taskID)
	return scanTaskProfile(row)
}

// ListTaskProfiles returns every registered task profile.
func (s *Store) ListTaskProfiles(ctx context.Context) ([]TaskProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, kind, entrypoint_path, module, queue_group, timeout_sec, retry_policy, enabled, created_at, updated_at
		FROM task_profile ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list task_profile: %w", err)
	}
	defer rows.Close()

	var out []TaskProfile
	for rows.Next() {
		p, err := scanTaskProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeleteTaskProfile removes a task profile. Cascades to its schedules and
// live runs via the schema's ON DELETE CASCADE.
func (s *Store) DeleteTaskProfile(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_profile WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("store: delete task_profile %s: %w", taskID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskProfile(row rowScanner) (*TaskProfile, error) {
	var p TaskProfile
	var created, updated string
	err := row.Scan(&p.TaskID, &p.Kind, &p.EntrypointPath, &p.Module, &p.QueueGroup, &p.TimeoutSec,
		&p.RetryPolicy, &p.Enabled, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan task_profile: %w", err)
	}
	p.CreatedAt, _ = time.Parse(isoLayout, created)
	p.UpdatedAt, _ = time.Parse(isoLayout, updated)
	return &p, nil
}
