package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendEvent appends a raw or summary-layer event to a day's memory log and
// bumps that day's rolling counters in one transaction.
func (s *Store) AppendEvent(ctx context.Context, ev DayMemoryEvent, now time.Time) (string, error) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: append event begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO day_memory_event (event_id, day, event_time, session_id, kind, text, layer)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.Day, nowStr(ev.EventTime), ev.SessionID, ev.Kind, ev.Text, ev.Layer)
	if err != nil {
		return "", fmt.Errorf("store: insert day_memory_event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO day_memory_status (day, total_messages, messages_since_last_summary, last_event_at)
		VALUES (?, 1, 1, ?)
		ON CONFLICT(day) DO UPDATE SET
			total_messages = day_memory_status.total_messages + 1,
			messages_since_last_summary = day_memory_status.messages_since_last_summary + 1,
			last_event_at = excluded.last_event_at`,
		ev.Day, nowStr(now))
	if err != nil {
		return "", fmt.Errorf("store: upsert day_memory_status for %s: %w", ev.Day, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: append event commit: %w", err)
	}
	return ev.EventID, nil
}

// ListEvents returns a day's events in chronological order.
func (s *Store) ListEvents(ctx context.Context, day string) ([]DayMemoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, day, event_time, session_id, kind, text, layer
		FROM day_memory_event WHERE day = ? ORDER BY event_time`, day)
	if err != nil {
		return nil, fmt.Errorf("store: list events %s: %w", day, err)
	}
	defer rows.Close()

	var out []DayMemoryEvent
	for rows.Next() {
		var e DayMemoryEvent
		var eventTime string
		if err := rows.Scan(&e.EventID, &e.Day, &eventTime, &e.SessionID, &e.Kind, &e.Text, &e.Layer); err != nil {
			return nil, fmt.Errorf("store: scan day_memory_event: %w", err)
		}
		e.EventTime, _ = time.Parse(isoLayout, eventTime)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetDayStatus fetches per-day counters, or nil if the day has no activity yet.
func (s *Store) GetDayStatus(ctx context.Context, day string) (*DayMemoryStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT day, total_messages, last_summarized_total, messages_since_last_summary,
			summaries_count, is_finalized, last_event_at, last_summary_at
		FROM day_memory_status WHERE day = ?`, day)
	return scanDayStatus(row)
}

// ListUnfinalizedDaysBefore returns days strictly before `before` (YYYY-MM-DD)
// that have not been finalized, for the sweep that catches days left
// dangling by a restart.
func (s *Store) ListUnfinalizedDaysBefore(ctx context.Context, before string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day FROM day_memory_status WHERE day < ? AND is_finalized = 0 ORDER BY day`, before)
	if err != nil {
		return nil, fmt.Errorf("store: list unfinalized days: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("store: scan unfinalized day: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertDayStatus applies a full status update after a summarization pass:
// resets messages_since_last_summary, bumps summaries_count, and records
// last_summary_at. If finalize is true, is_finalized is set permanently.
func (s *Store) UpsertDayStatus(ctx context.Context, day string, totalAtSummary int, finalize bool, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_memory_status (day, total_messages, last_summarized_total,
			messages_since_last_summary, summaries_count, is_finalized, last_summary_at)
		VALUES (?, ?, ?, 0, 1, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			last_summarized_total = excluded.last_summarized_total,
			messages_since_last_summary = 0,
			summaries_count = day_memory_status.summaries_count + 1,
			is_finalized = day_memory_status.is_finalized OR excluded.is_finalized,
			last_summary_at = excluded.last_summary_at`,
		day, totalAtSummary, totalAtSummary, finalize, nowStr(now))
	if err != nil {
		return fmt.Errorf("store: upsert day status %s: %w", day, err)
	}
	return nil
}

func scanDayStatus(row rowScanner) (*DayMemoryStatus, error) {
	var d DayMemoryStatus
	var lastEventAt, lastSummaryAt sql.NullString
	err := row.Scan(&d.Day, &d.TotalMessages, &d.LastSummarizedTotal, &d.MessagesSinceLastSummary,
		&d.SummariesCount, &d.IsFinalized, &lastEventAt, &lastSummaryAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan day_memory_status: %w", err)
	}
	d.LastEventAt = parseTime(lastEventAt)
	d.LastSummaryAt = parseTime(lastSummaryAt)
	return &d, nil
}

// PutDaySummary writes the materialized narrative summary for a day.
func (s *Store) PutDaySummary(ctx context.Context, day, text string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_summary (day, text, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`,
		day, text, nowStr(now))
	if err != nil {
		return fmt.Errorf("store: put day summary %s: %w", day, err)
	}
	return nil
}

// GetDaySummary fetches the materialized summary for a day, if any.
func (s *Store) GetDaySummary(ctx context.Context, day string) (*DaySummary, error) {
	var ds DaySummary
	var updated string
	err := s.db.QueryRowContext(ctx, `SELECT day, text, updated_at FROM day_summary WHERE day = ?`, day).
		Scan(&ds.Day, &ds.Text, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get day summary %s: %w", day, err)
	}
	ds.UpdatedAt, _ = time.Parse(isoLayout, updated)
	return &ds, nil
}
