// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const historySchema = `
CREATE TABLE IF NOT EXISTS turns (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	role    TEXT NOT NULL,
	content TEXT NOT NULL,
	at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_turns_user ON turns(user_id, id);
`

// SQLiteStore persists turns in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the history database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, userID string, t Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (user_id, role, content) VALUES (?, ?, ?)`,
		userID, t.Role, t.Content)
	if err != nil {
		return fmt.Errorf("failed to append turn for %s: %w", userID, err)
	}
	return nil
}

// Recent implements Store. The query walks the index backwards for the
// window, then the rows are reversed into oldest-to-newest order.
func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM turns WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", userID, err)
	}
	defer rows.Close()

	var newestFirst []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		newestFirst = append(newestFirst, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history rows: %w", err)
	}

	out := make([]Turn, len(newestFirst))
	for i, t := range newestFirst {
		out[len(out)-1-i] = t
	}
	return out, nil
}
