// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history stores per-user conversation turns and serves the
// bounded recent window the prompt assembler consumes.
package history

import (
	"context"
	"sync"
	"time"
)

// Turn roles. Insertion order of turns is significant and preserved.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged message in a prompt sequence.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserTurn creates a user turn.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// NewAssistantTurn creates an assistant turn.
func NewAssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// NewSystemTurn creates a system turn.
func NewSystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// Store persists conversation turns per user.
type Store interface {
	// Append adds a turn to the end of the user's history.
	Append(ctx context.Context, userID string, t Turn) error

	// Recent returns up to limit most recent turns, ordered oldest to
	// newest.
	Recent(ctx context.Context, userID string, limit int) ([]Turn, error)
}

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

type storedTurn struct {
	Turn
	at time.Time
}

// MemoryStore keeps histories in memory, used in tests and as a
// fallback when no database path is configured.
type MemoryStore struct {
	mu    sync.Mutex
	turns map[string][]storedTurn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]storedTurn)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, userID string, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns[userID] = append(s.turns[userID], storedTurn{Turn: t, at: time.Now()})
	return nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(_ context.Context, userID string, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.turns[userID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}

	out := make([]Turn, 0, len(all)-start)
	for _, st := range all[start:] {
		out = append(out, st.Turn)
	}
	return out, nil
}
