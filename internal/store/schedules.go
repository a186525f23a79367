package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSchedule inserts a new schedule, generating its ID if empty.
func (s *Store) CreateSchedule(ctx context.Context, sc Schedule, now time.Time) (string, error) {
	if sc.ScheduleID == "" {
		sc.ScheduleID = uuid.NewString()
	}
	timesJSON, err := json.Marshal(sc.TimesOfDay)
	if err != nil {
		return "", fmt.Errorf("store: marshal times_of_day: %w", err)
	}
	daysJSON, err := json.Marshal(sc.DaysOfWeek)
	if err != nil {
		return "", fmt.Errorf("store: marshal days_of_week: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule (schedule_id, profile_id, enabled, mode, run_frequency_minutes,
			times_of_day_json, timezone, days_of_week_json, misfire_policy, execution_order,
			next_run_at, last_planned_run_at, last_run_id, last_run_status, last_run_finished_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ScheduleID, sc.ProfileID, sc.Enabled, sc.Mode, sc.RunFrequencyMinutes,
		string(timesJSON), sc.Timezone, string(daysJSON), sc.MisfirePolicy, sc.ExecutionOrder,
		nullTime(sc.NextRunAt), nullTime(sc.LastPlannedRunAt), sc.LastRunID, sc.LastRunStatus,
		nullTime(sc.LastRunFinishedAt), nowStr(now), nowStr(now))
	if err != nil {
		return "", fmt.Errorf("store: insert schedule: %w", err)
	}
	return sc.ScheduleID, nil
}

// GetSchedule fetches a single schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, scheduleSelectSQL+` WHERE schedule_id = ?`, scheduleID)
	return scanSchedule(row)
}

// ListSchedules returns every schedule, ordered by execution_order then ID
// (Heartbeat candidate-selection order, per SPEC_FULL.md Open Question (b)).
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectSQL+` ORDER BY execution_order, schedule_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list schedule: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListDueSchedules returns enabled schedules whose next_run_at is at or
// before asOf, ordered by execution_order for deterministic enumeration.
func (s *Store) ListDueSchedules(ctx context.Context, asOf time.Time) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectSQL+`
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY execution_order, schedule_id`, nowStr(asOf))
	if err != nil {
		return nil, fmt.Errorf("store: list due schedule: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// AdvanceScheduleCursor persists the next planned fire time after the
// Heartbeat has enumerated (and enqueued, per misfire policy) fires up to
// lastPlanned.
func (s *Store) AdvanceScheduleCursor(ctx context.Context, scheduleID string, nextRunAt, lastPlanned *time.Time, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedule SET next_run_at = ?, last_planned_run_at = ?, updated_at = ?
		WHERE schedule_id = ?`,
		nullTime(nextRunAt), nullTime(lastPlanned), nowStr(now), scheduleID)
	if err != nil {
		return fmt.Errorf("store: advance schedule cursor %s: %w", scheduleID, err)
	}
	return nil
}

// RecordScheduleRunOutcome updates a schedule's denormalized last-run fields
// after a bound run reaches a terminal status.
func (s *Store) RecordScheduleRunOutcome(ctx context.Context, scheduleID, runID, status string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedule SET last_run_id = ?, last_run_status = ?, last_run_finished_at = ?
		WHERE schedule_id = ?`,
		runID, status, nowStr(finishedAt), scheduleID)
	if err != nil {
		return fmt.Errorf("store: record schedule run outcome %s: %w", scheduleID, err)
	}
	return nil
}

// DeleteSchedule removes a schedule. Every bound run, waiting_for_user ones
// included, has schedule_id set NULL by the FK's ON DELETE SET NULL; the
// Control API's delete handler resolves waiting_for_user runs to
// blocked/overlap_lost before calling this (SPEC_FULL.md Open Question (a)).
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedule WHERE schedule_id = ?`, scheduleID)
	if err != nil {
		return fmt.Errorf("store: delete schedule %s: %w", scheduleID, err)
	}
	return nil
}

const scheduleSelectSQL = `
	SELECT schedule_id, profile_id, enabled, mode, run_frequency_minutes, times_of_day_json,
		timezone, days_of_week_json, misfire_policy, execution_order, next_run_at,
		last_planned_run_at, last_run_id, last_run_status, last_run_finished_at, created_at, updated_at
	FROM schedule`

func scanSchedules(rows *sql.Rows) ([]Schedule, error) {
	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sc Schedule
	var timesJSON, daysJSON string
	var nextRunAt, lastPlanned, lastRunFinished sql.NullString
	var created, updated string
	err := row.Scan(&sc.ScheduleID, &sc.ProfileID, &sc.Enabled, &sc.Mode, &sc.RunFrequencyMinutes,
		&timesJSON, &sc.Timezone, &daysJSON, &sc.MisfirePolicy, &sc.ExecutionOrder,
		&nextRunAt, &lastPlanned, &sc.LastRunID, &sc.LastRunStatus, &lastRunFinished, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan schedule: %w", err)
	}
	_ = json.Unmarshal([]byte(timesJSON), &sc.TimesOfDay)
	_ = json.Unmarshal([]byte(daysJSON), &sc.DaysOfWeek)
	sc.NextRunAt = parseTime(nextRunAt)
	sc.LastPlannedRunAt = parseTime(lastPlanned)
	sc.LastRunFinishedAt = parseTime(lastRunFinished)
	sc.CreatedAt, _ = time.Parse(isoLayout, created)
	sc.UpdatedAt, _ = time.Parse(isoLayout, updated)
	return &sc, nil
}
