package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordHeartbeatStart marks the beginning of a Heartbeat tick.
func (s *Store) RecordHeartbeatStart(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE heartbeat_state SET last_start_at = ?, last_status = 'running' WHERE name = 'main'`,
		nowStr(now))
	if err != nil {
		return fmt.Errorf("store: record heartbeat start: %w", err)
	}
	return nil
}

// RecordHeartbeatFinish marks the end of a Heartbeat tick with its outcome
// and how many runs it enqueued.
func (s *Store) RecordHeartbeatFinish(ctx context.Context, status, errText string, enqueuedCount int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE heartbeat_state SET last_finish_at = ?, last_status = ?, last_error = ?, last_enqueued_count = ?
		WHERE name = 'main'`,
		nowStr(now), status, errText, enqueuedCount)
	if err != nil {
		return fmt.Errorf("store: record heartbeat finish: %w", err)
	}
	return nil
}

// GetHeartbeatState returns the singleton heartbeat status row.
func (s *Store) GetHeartbeatState(ctx context.Context) (*HeartbeatState, error) {
	var h HeartbeatState
	var lastStart, lastFinish sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT name, last_start_at, last_finish_at, last_status, last_error, last_enqueued_count
		FROM heartbeat_state WHERE name = 'main'`).
		Scan(&h.Name, &lastStart, &lastFinish, &h.LastStatus, &h.LastError, &h.LastEnqueuedCount)
	if err != nil {
		return nil, fmt.Errorf("store: get heartbeat state: %w", err)
	}
	h.LastStartAt = parseTime(lastStart)
	h.LastFinishAt = parseTime(lastFinish)
	return &h, nil
}
