package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueueRun creates a new queued run for a task profile, optionally bound to
// a schedule and a planned fire time (nil for manual triggers).
func (s *Store) EnqueueRun(ctx context.Context, profileID string, scheduleID *string, plannedFireAt *time.Time, payloadJSON string, now time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run (run_id, schedule_id, profile_id, status, planned_fire_at, queued_at, payload_json)
		VALUES (?, ?, ?, 'queued', ?, ?, ?)`,
		runID, nullStrPtr(scheduleID), profileID, nullTime(plannedFireAt), nowStr(now), payloadJSON)
	if err != nil {
		return "", fmt.Errorf("store: enqueue run for %s: %w", profileID, err)
	}
	return runID, nil
}

func nullStrPtr(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

// EnqueueScheduledRun is EnqueueRun for the Heartbeat, but silently no-ops
// (ok=false) when a run already exists for (scheduleID, plannedFireAt) —
// the partial unique index that makes re-enumerating the same fire window
// across ticks idempotent.
func (s *Store) EnqueueScheduledRun(ctx context.Context, profileID, scheduleID string, plannedFireAt time.Time, now time.Time) (runID string, ok bool, err error) {
	runID = uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run (run_id, schedule_id, profile_id, status, planned_fire_at, queued_at, payload_json)
		VALUES (?, ?, ?, 'queued', ?, ?, '')`,
		runID, scheduleID, profileID, nowStr(plannedFireAt), nowStr(now))
	if err == nil {
		return runID, true, nil
	}
	if isUniqueConstraintErr(err) {
		return "", false, nil
	}
	return "", false, fmt.Errorf("store: enqueue scheduled run %s@%s: %w", scheduleID, plannedFireAt, err)
}

// ListQueuedRuns returns queued runs in FIFO order (queued_at), the sole
// ordering used at dispatcher claim time (SPEC_FULL.md Open Question (b)).
func (s *Store) ListQueuedRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, runSelectSQL+`
		WHERE status = 'queued' ORDER BY queued_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list queued run: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// HasActiveRun reports whether profileID currently has a run in a
// non-terminal, non-queued state (running or waiting_for_user), enforcing
// the no-overlap-per-task invariant ahead of a claim attempt.
func (s *Store) HasActiveRun(ctx context.Context, profileID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM run WHERE profile_id = ? AND status IN ('running','waiting_for_user')`,
		profileID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: has active run %s: %w", profileID, err)
	}
	return n > 0, nil
}

// ClaimRun atomically transitions a queued run to running, but only if no
// other run for the same task profile is already running or
// waiting_for_user. The boolean result distinguishes a genuine claim from a
// lost no-overlap race (SPEC_FULL.md Open Question (a)): callers must not
// treat a false result as failure, only as "try the next candidate".
func (s *Store) ClaimRun(ctx context.Context, runID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run SET status = 'running', started_at = ?
		WHERE run_id = ? AND status = 'queued'
		AND NOT EXISTS (
			SELECT 1 FROM run r2
			WHERE r2.profile_id = run.profile_id
			AND r2.run_id != run.run_id
			AND r2.status IN ('running','waiting_for_user')
		)`, nowStr(now), runID)
	if err != nil {
		return false, fmt.Errorf("store: claim run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: claim run %s rows affected: %w", runID, err)
	}
	return n == 1, nil
}

// RequeueRun returns a run to queued after a lost no-overlap race at claim
// time. Per SPEC_FULL.md Open Question (a) this is never terminal and never
// touches Error/Status=blocked.
func (s *Store) RequeueRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE run SET status = 'queued', started_at = NULL WHERE run_id = ? AND status != 'running'`, runID)
	if err == nil {
		return nil
	}
	return fmt.Errorf("store: requeue run %s: %w", runID, err)
}

// ResumeWaitingRun merges a user's response into a waiting_for_user run's
// payload and returns it to queued so the dispatcher re-claims it. It
// no-ops (ok=false) if the run is not currently waiting_for_user, e.g. it
// already timed out to blocked or was killed underneath the caller.
func (s *Store) ResumeWaitingRun(ctx context.Context, runID, payloadJSON string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run SET status = 'queued', payload_json = ?, queued_at = ?, started_at = NULL
		WHERE run_id = ? AND status = 'waiting_for_user'`,
		payloadJSON, nowStr(now), runID)
	if err != nil {
		return false, fmt.Errorf("store: resume waiting run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: resume waiting run %s rows affected: %w", runID, err)
	}
	return n == 1, nil
}

// TransitionRun moves a run to a terminal or interactive-hold status,
// recording its summary and/or error.
func (s *Store) TransitionRun(ctx context.Context, runID, toStatus, summary, errText string, finishedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE run SET status = ?, summary = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE run_id = ?`,
		toStatus, summary, errText, nullTime(finishedAt), runID)
	if err != nil {
		return fmt.Errorf("store: transition run %s to %s: %w", runID, toStatus, err)
	}
	return nil
}

// GetRun fetches a single run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelectSQL+` WHERE run_id = ?`, runID)
	return scanRun(row)
}

// ListActiveRunsByProfile returns non-terminal runs (queued, running,
// waiting_for_user) for a task profile.
func (s *Store) ListActiveRunsByProfile(ctx context.Context, profileID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, runSelectSQL+`
		WHERE profile_id = ? AND status IN ('queued','running','waiting_for_user')
		ORDER BY queued_at`, profileID)
	if err != nil {
		return nil, fmt.Errorf("store: list active runs %s: %w", profileID, err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListWaitingForUserRuns returns every run currently on an interactive hold,
// across all profiles. Used by the waiting-for-user timeout housekeeping loop.
func (s *Store) ListWaitingForUserRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, runSelectSQL+`
		WHERE status = 'waiting_for_user' ORDER BY queued_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list waiting-for-user runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListWaitingForUserRunsByScheduleID finds runs on hold for a schedule about
// to be deleted, so the caller can resolve them to overlap_lost first.
func (s *Store) ListWaitingForUserRunsByScheduleID(ctx context.Context, scheduleID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, runSelectSQL+`
		WHERE schedule_id = ? AND status = 'waiting_for_user'`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("store: list waiting-for-user runs %s: %w", scheduleID, err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ArchiveToHistory copies a terminal run into run_history and deletes it
// from the live run table, in one transaction.
func (s *Store) ArchiveToHistory(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: archive run %s begin tx: %w", runID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run_history (run_id, schedule_id, profile_id, status, planned_fire_at,
			queued_at, started_at, finished_at, summary, error, payload_json)
		SELECT run_id, schedule_id, profile_id, status, planned_fire_at,
			queued_at, started_at, COALESCE(finished_at, queued_at), summary, error, payload_json
		FROM run WHERE run_id = ? AND status IN ('done','failed','blocked')`, runID)
	if err != nil {
		return fmt.Errorf("store: archive run %s insert: %w", runID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run WHERE run_id = ? AND status IN ('done','failed','blocked')`, runID); err != nil {
		return fmt.Errorf("store: archive run %s delete: %w", runID, err)
	}

	return tx.Commit()
}

// PruneHistory deletes run_history rows finished before cutoff, returning
// the number removed.
func (s *Store) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_history WHERE finished_at < ?`, nowStr(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: prune run_history: %w", err)
	}
	return res.RowsAffected()
}

// ListRunHistory returns recent archived runs for a profile, most recent first.
func (s *Store) ListRunHistory(ctx context.Context, profileID string, limit int) ([]RunHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, schedule_id, profile_id, status, planned_fire_at, queued_at, started_at,
			finished_at, summary, error, payload_json
		FROM run_history WHERE profile_id = ? ORDER BY finished_at DESC LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list run_history %s: %w", profileID, err)
	}
	defer rows.Close()

	var out []RunHistory
	for rows.Next() {
		var h RunHistory
		var scheduleID sql.NullString
		var plannedFireAt, startedAt sql.NullString
		var queuedAt, finishedAt string
		if err := rows.Scan(&h.RunID, &scheduleID, &h.ProfileID, &h.Status, &plannedFireAt,
			&queuedAt, &startedAt, &finishedAt, &h.Summary, &h.Error, &h.PayloadJSON); err != nil {
			return nil, fmt.Errorf("store: scan run_history: %w", err)
		}
		if scheduleID.Valid {
			v := scheduleID.String
			h.ScheduleID = &v
		}
		h.PlannedFireAt = parseTime(plannedFireAt)
		h.StartedAt = parseTime(startedAt)
		h.QueuedAt, _ = time.Parse(isoLayout, queuedAt)
		h.FinishedAt, _ = time.Parse(isoLayout, finishedAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

const runSelectSQL = `
	SELECT run_id, schedule_id, profile_id, status, planned_fire_at, queued_at, started_at,
		finished_at, summary, error, payload_json
	FROM run`

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var scheduleID sql.NullString
	var plannedFireAt, startedAt, finishedAt sql.NullString
	var queuedAt string
	err := row.Scan(&r.RunID, &scheduleID, &r.ProfileID, &r.Status, &plannedFireAt, &queuedAt,
		&startedAt, &finishedAt, &r.Summary, &r.Error, &r.PayloadJSON)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan run: %w", err)
	}
	if scheduleID.Valid {
		v := scheduleID.String
		r.ScheduleID = &v
	}
	r.PlannedFireAt = parseTime(plannedFireAt)
	r.StartedAt = parseTime(startedAt)
	r.FinishedAt = parseTime(finishedAt)
	r.QueuedAt, _ = time.Parse(isoLayout, queuedAt)
	return &r, nil
}
