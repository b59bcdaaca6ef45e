// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable security event journal.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/Developer-Keyithan/the-vault/internal/security"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS security_events (
	id      TEXT PRIMARY KEY,
	kind    TEXT NOT NULL,
	message TEXT NOT NULL,
	ts      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_events_ts ON security_events(ts);
CREATE INDEX IF NOT EXISTS idx_security_events_kind ON security_events(kind, ts);
`

// DefaultQueryLimit caps Query results when Filter.Limit is zero.
const DefaultQueryLimit = 100

// ErrInvalidEvent is returned by Append for events without an ID or kind.
var ErrInvalidEvent = errors.New("invalid security event")

// =============================================================================
// JOURNAL
// =============================================================================

// Journal is a SQLite store of security events.
type Journal struct {
	db   *sql.DB
	path string
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores ev. Re-appending an event with the same ID is a no-op.
func (j *Journal) Append(ctx context.Context, ev security.Event) error {
	if ev.ID == "" || !ev.Kind.Valid() {
		return fmt.Errorf("%w: id=%q kind=%q", ErrInvalidEvent, ev.ID, ev.Kind)
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO security_events (id, kind, message, ts) VALUES (?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.Message, ev.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Filter selects events for Query. Zero fields match everything.
type Filter struct {
	Kind  security.EventKind
	Since time.Time
	Until time.Time
	Limit int
}

// Query returns matching events, oldest first. When more events match than
// Limit, the most recent Limit are returned.
func (j *Journal) Query(ctx context.Context, f Filter) ([]security.Event, error) {
	var where []string
	var args []any
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, f.Until.UnixNano())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	q := "SELECT rowid AS seq, id, kind, message, ts FROM security_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	// rowid breaks ties between events stamped in the same nanosecond.
	q = "SELECT id, kind, message, ts FROM (" + q + " ORDER BY ts DESC, seq DESC LIMIT ?) ORDER BY ts ASC, seq ASC"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []security.Event
	for rows.Next() {
		var (
			ev   security.Event
			kind string
			ts   int64
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = security.EventKind(kind)
		ev.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM security_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Prune deletes events older than before and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, "DELETE FROM security_events WHERE ts < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
