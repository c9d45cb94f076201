// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_RecentOrderAndWindow(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				require.NoError(t, store.Append(ctx, "u1", NewUserTurn(fmt.Sprintf("q%d", i))))
				require.NoError(t, store.Append(ctx, "u1", NewAssistantTurn(fmt.Sprintf("a%d", i))))
			}

			turns, err := store.Recent(ctx, "u1", 6)
			require.NoError(t, err)
			require.Len(t, turns, 6)

			// Oldest-to-newest: the window ends with the latest pair.
			require.Equal(t, "q7", turns[0].Content)
			require.Equal(t, RoleUser, turns[0].Role)
			require.Equal(t, "a9", turns[5].Content)
			require.Equal(t, RoleAssistant, turns[5].Role)
		})
	}
}

func TestStore_UsersIsolated(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Append(ctx, "a", NewUserTurn("from a")))
			require.NoError(t, store.Append(ctx, "b", NewUserTurn("from b")))

			turns, err := store.Recent(ctx, "a", 10)
			require.NoError(t, err)
			require.Len(t, turns, 1)
			require.Equal(t, "from a", turns[0].Content)
		})
	}
}

func TestStore_EmptyHistory(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			turns, err := store.Recent(ctx, "nobody", 10)
			require.NoError(t, err)
			require.Empty(t, turns)
		})
	}
}
