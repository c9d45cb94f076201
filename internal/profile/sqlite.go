// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SQLITE STORE
// =============================================================================

const profileSchema = `
CREATE TABLE IF NOT EXISTS style_profiles (
	user_id        TEXT PRIMARY KEY,
	message_count  INTEGER NOT NULL,
	avg_length     REAL NOT NULL,
	emoji_rate     REAL NOT NULL,
	profanity_rate REAL NOT NULL,
	conciseness    REAL NOT NULL,
	updated_at     TEXT NOT NULL
);
`

// SQLiteStore persists profiles in a SQLite database. Update runs the
// read-modify-write inside one immediate transaction, so concurrent
// updates for the same user serialize instead of clobbering each other.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the profile database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// _txlock=immediate makes every transaction take the write lock at
	// BEGIN, which Update depends on for its read-modify-write.
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open profile database: %w", err)
	}

	// Serialized writer access; the driver is in-process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(profileSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create profile schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, message_count, avg_length, emoji_rate, profanity_rate, conciseness, updated_at
		 FROM style_profiles WHERE user_id = ?`, userID)
	return scanProfile(row)
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, upsertProfileSQL,
		p.UserID, p.MessageCount, p.AvgLength, p.EmojiRate, p.ProfanityRate,
		p.Conciseness, p.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store profile for %s: %w", p.UserID, err)
	}
	return nil
}

const upsertProfileSQL = `
INSERT INTO style_profiles (user_id, message_count, avg_length, emoji_rate, profanity_rate, conciseness, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	message_count  = excluded.message_count,
	avg_length     = excluded.avg_length,
	emoji_rate     = excluded.emoji_rate,
	profanity_rate = excluded.profanity_rate,
	conciseness    = excluded.conciseness,
	updated_at     = excluded.updated_at
`

// Update implements Store. The select and upsert share one transaction,
// and the connection opens transactions immediate, so the write lock is
// held from BEGIN and a concurrent Update for the same user waits
// instead of applying fn to a stale base.
func (s *SQLiteStore) Update(ctx context.Context, userID string, fn func(*Profile)) (Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to begin profile update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT user_id, message_count, avg_length, emoji_rate, profanity_rate, conciseness, updated_at
		 FROM style_profiles WHERE user_id = ?`, userID)

	p, err := scanProfile(row)
	if errors.Is(err, ErrNotFound) {
		p = New(userID)
	} else if err != nil {
		return Profile{}, err
	}

	fn(&p)
	p.UserID = userID

	if _, err := tx.ExecContext(ctx, upsertProfileSQL,
		p.UserID, p.MessageCount, p.AvgLength, p.EmojiRate, p.ProfanityRate,
		p.Conciseness, p.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
		return Profile{}, fmt.Errorf("failed to store profile for %s: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return Profile{}, fmt.Errorf("failed to commit profile update: %w", err)
	}
	return p, nil
}

func scanProfile(row *sql.Row) (Profile, error) {
	var p Profile
	var updated string
	err := row.Scan(&p.UserID, &p.MessageCount, &p.AvgLength, &p.EmojiRate,
		&p.ProfanityRate, &p.Conciseness, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to scan profile: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339Nano, updated); perr == nil {
		p.UpdatedAt = t
	}
	return p, nil
}
