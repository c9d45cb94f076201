// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profile

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when no profile exists for the user.
var ErrNotFound = errors.New("profile not found")

// Store persists per-user style profiles. Update must apply the
// read-modify-write as a single atomic operation per user so concurrent
// messages from the same user cannot revert the count to a stale base.
type Store interface {
	// Get returns the stored profile, or ErrNotFound.
	Get(ctx context.Context, userID string) (Profile, error)

	// Put stores the profile under its UserID.
	Put(ctx context.Context, p Profile) error

	// Update atomically loads the profile (creating an empty one on
	// first sight), applies fn, stores the result, and returns it.
	Update(ctx context.Context, userID string, fn func(*Profile)) (Profile, error)
}

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// MemoryStore is a mutex-guarded map store, used in tests and as a
// fallback when no database path is configured.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, userID string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.UserID] = p
	return nil
}

// Update implements Store. The whole read-modify-write runs under the
// store mutex.
func (s *MemoryStore) Update(_ context.Context, userID string, fn func(*Profile)) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = New(userID)
	}
	fn(&p)
	p.UserID = userID
	s.profiles[userID] = p
	return p, nil
}
