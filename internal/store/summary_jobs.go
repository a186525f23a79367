package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EnqueueSummaryJob queues a day for summarization, unless one is already
// queued or running for that day (enforced by the partial unique index on
// summary_job(day)). Returns ok=false without error when deduped.
func (s *Store) EnqueueSummaryJob(ctx context.Context, day, reason string, now time.Time) (jobID string, ok bool, err error) {
	jobID = uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO summary_job (job_id, day, status, reason, created_at, updated_at)
		VALUES (?, ?, 'queued', ?, ?, ?)`,
		jobID, day, reason, nowStr(now), nowStr(now))
	if err == nil {
		return jobID, true, nil
	}
	if isUniqueConstraintErr(err) {
		return "", false, nil
	}
	return "", false, fmt.Errorf("store: enqueue summary job %s: %w", day, err)
}

// ClaimNextSummaryJob atomically claims the oldest queued summary job.
func (s *Store) ClaimNextSummaryJob(ctx context.Context, now time.Time) (*SummaryJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: claim summary job begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT job_id, day, status, reason, attempt_count, created_at, updated_at
		FROM summary_job WHERE status = 'queued' ORDER BY created_at LIMIT 1`)
	job, err := scanSummaryJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE summary_job SET status = 'running', attempt_count = attempt_count + 1, updated_at = ?
		WHERE job_id = ?`, nowStr(now), job.JobID); err != nil {
		return nil, fmt.Errorf("store: claim summary job %s: %w", job.JobID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: claim summary job commit: %w", err)
	}
	job.Status = SummaryRunning
	job.AttemptCount++
	return job, nil
}

// FinishSummaryJob marks a summary job done or failed.
func (s *Store) FinishSummaryJob(ctx context.Context, jobID, status string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE summary_job SET status = ?, updated_at = ? WHERE job_id = ?`, status, nowStr(now), jobID)
	if err != nil {
		return fmt.Errorf("store: finish summary job %s: %w", jobID, err)
	}
	return nil
}

func scanSummaryJob(row rowScanner) (*SummaryJob, error) {
	var j SummaryJob
	var created, updated string
	err := row.Scan(&j.JobID, &j.Day, &j.Status, &j.Reason, &j.AttemptCount, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan summary_job: %w", err)
	}
	j.CreatedAt, _ = time.Parse(isoLayout, created)
	j.UpdatedAt, _ = time.Parse(isoLayout, updated)
	return &j, nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint violations as *sqlite.Error with
	// a message containing "UNIQUE constraint failed"; string-matching keeps
	// this store package free of a direct driver-internal type import.
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
