package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge/internal/log"
	"github.com/promptforge/promptforge/internal/session"
	"github.com/promptforge/promptforge/internal/testutil"
)

func TestPGStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := session.NewPGStore(db.Pool, log.NewNop())
	ctx := context.Background()

	_, err := store.LoadState(ctx, "missing")
	require.ErrorIs(t, err, session.ErrNotFound)

	state := &session.ChatState{
		SessionID: "pg-1",
		Messages: []session.Message{
			{Role: session.RoleUser, Content: "hello", Timestamp: time.Now().UTC()},
			{
				Role:    session.RoleAssistant,
				Content: "hi there",
				ToolCalls: []session.ToolCall{{
					ID:        "call_1",
					Name:      "current_datetime",
					Arguments: map[string]any{},
					Result:    map[string]any{"weekday": "Monday"},
				}},
				Timestamp: time.Now().UTC(),
			},
		},
		Model: "test-model",
	}
	require.NoError(t, store.SaveState(ctx, state))

	loaded, err := store.LoadState(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, "pg-1", loaded.SessionID)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "hi there", loaded.Messages[1].Content)
	require.Len(t, loaded.Messages[1].ToolCalls, 1)
	assert.Equal(t, "call_1", loaded.Messages[1].ToolCalls[0].ID)
}

func TestPGStoreRegistry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := session.NewPGStore(db.Pool, log.NewNop())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.TouchSession(ctx, "pg-a", "Session A", now.Add(-time.Hour)))
	require.NoError(t, store.TouchSession(ctx, "pg-b", "Session B", now))

	infos, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "pg-b", infos[0].ID)

	// Title is set-if-empty on touch, always replaced on rename.
	require.NoError(t, store.TouchSession(ctx, "pg-a", "Different", now))
	infos, err = store.ListSessions(ctx)
	require.NoError(t, err)
	for _, info := range infos {
		if info.ID == "pg-a" {
			assert.Equal(t, "Session A", info.Title)
		}
	}

	require.NoError(t, store.RenameSession(ctx, "pg-a", "Renamed"))
	require.ErrorIs(t, store.RenameSession(ctx, "missing", "x"), session.ErrNotFound)

	require.NoError(t, store.DeleteSession(ctx, "pg-a"))
	infos, err = store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
}
