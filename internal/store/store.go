package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	logx "zubot/pkg/logx"
)

// Config controls how the SQLite-backed Store opens its database file.
type Config struct {
	Path          string
	BusyTimeoutMs int
}

// Store is the daemon's single SQLite-backed persistence layer. It holds
// exactly one connection (SetMaxOpenConns(1)): all callers, including the
// SQL Gateway, serialize through this same *sql.DB so WAL writers never
// contend with each other at the driver level.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if absent) the SQLite file at cfg.Path, applies the
// daemon's standard PRAGMAs, and idempotently creates the schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = 5000
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeoutMs),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.ensureHeartbeatRow(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the shared *sql.DB for the SQL Gateway, which is the only other
// component permitted to issue raw SQL against this file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) ensureHeartbeatRow(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO heartbeat_state(name, last_status) VALUES ('main', '')
		 ON CONFLICT(name) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("store: seed heartbeat row: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(isoLayout)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(isoLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nowStr(now time.Time) string {
	return now.UTC().Format(isoLayout)
}
