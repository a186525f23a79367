package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MarkSeenItem records (or bumps) an idempotency ledger entry for
// (taskID, provider, itemKey). Returns whether this call was the first sighting.
func (s *Store) MarkSeenItem(ctx context.Context, taskID, provider, itemKey, metadataJSON string, now time.Time) (firstSeen bool, err error) {
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_seen_item (task_id, provider, item_key, first_seen_at, last_seen_at, seen_count, metadata_json)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(task_id, provider, item_key) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			seen_count = task_seen_item.seen_count + 1`,
		taskID, provider, itemKey, nowStr(now), nowStr(now), metadataJSON)
	if err != nil {
		return false, fmt.Errorf("store: mark seen item %s/%s/%s: %w", taskID, provider, itemKey, err)
	}
	// SQLite reports 1 row affected for both a fresh insert and the
	// conflict-triggered update, so distinguish by checking the sighting count.
	var seenCount int
	err = s.db.QueryRowContext(ctx, `
		SELECT seen_count FROM task_seen_item WHERE task_id = ? AND provider = ? AND item_key = ?`,
		taskID, provider, itemKey).Scan(&seenCount)
	if err != nil {
		return false, fmt.Errorf("store: read back seen item %s/%s/%s: %w", taskID, provider, itemKey, err)
	}
	return seenCount == 1, nil
}

// HasSeenItem reports whether (taskID, provider, itemKey) has ever been marked seen.
func (s *Store) HasSeenItem(ctx context.Context, taskID, provider, itemKey string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM task_seen_item WHERE task_id = ? AND provider = ? AND item_key = ?`,
		taskID, provider, itemKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: has seen item %s/%s/%s: %w", taskID, provider, itemKey, err)
	}
	return n > 0, nil
}

// ListRecentSeenItems returns the most recently first-seen items for a
// (taskID, provider) pair, newest first (SPEC_FULL.md Open Question (c)).
func (s *Store) ListRecentSeenItems(ctx context.Context, taskID, provider string, limit int) ([]TaskSeenItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, provider, item_key, first_seen_at, last_seen_at, seen_count, metadata_json
		FROM task_seen_item WHERE task_id = ? AND provider = ?
		ORDER BY first_seen_at DESC LIMIT ?`, taskID, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list recent seen items %s/%s: %w", taskID, provider, err)
	}
	defer rows.Close()

	var out []TaskSeenItem
	for rows.Next() {
		var it TaskSeenItem
		var firstSeen, lastSeen string
		if err := rows.Scan(&it.TaskID, &it.Provider, &it.ItemKey, &firstSeen, &lastSeen, &it.SeenCount, &it.MetadataJSON); err != nil {
			return nil, fmt.Errorf("store: scan seen item: %w", err)
		}
		it.FirstSeenAt, _ = time.Parse(isoLayout, firstSeen)
		it.LastSeenAt, _ = time.Parse(isoLayout, lastSeen)
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpsertTaskState writes an atomic per-task checkpoint/cursor value.
func (s *Store) UpsertTaskState(ctx context.Context, taskID, key, value string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_state_kv (task_id, state_key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id, state_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		taskID, key, value, nowStr(now))
	if err != nil {
		return fmt.Errorf("store: upsert task state %s/%s: %w", taskID, key, err)
	}
	return nil
}

// GetTaskState reads a per-task checkpoint value; ok is false if unset.
func (s *Store) GetTaskState(ctx context.Context, taskID, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT value FROM task_state_kv WHERE task_id = ? AND state_key = ?`, taskID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get task state %s/%s: %w", taskID, key, err)
	}
	return value, true, nil
}
