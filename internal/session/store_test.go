package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreStateRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.LoadState(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	state := &ChatState{
		SessionID: "s1",
		Messages:  []Message{{Role: RoleUser, Content: "hi", Timestamp: time.Now()}},
		Model:     "m1",
	}
	require.NoError(t, store.SaveState(ctx, state))

	// Mutating the original must not leak into the stored copy.
	state.Messages[0].Content = "mutated"

	loaded, err := store.LoadState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "hi", loaded.Messages[0].Content)
}

func TestMemoryStoreRegistry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.TouchSession(ctx, "s1", "First session", now.Add(-time.Hour)))
	require.NoError(t, store.TouchSession(ctx, "s2", "Second session", now))

	infos, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "s2", infos[0].ID, "most recently active first")

	// Touch with a new title must not overwrite an assigned one.
	require.NoError(t, store.TouchSession(ctx, "s1", "Another title", now))
	infos, err = store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "First session", titleOf(infos, "s1"))

	// Rename always overwrites.
	require.NoError(t, store.RenameSession(ctx, "s1", "Renamed"))
	infos, err = store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", titleOf(infos, "s1"))

	require.ErrorIs(t, store.RenameSession(ctx, "missing", "x"), ErrNotFound)

	require.NoError(t, store.DeleteSession(ctx, "s1"))
	infos, err = store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
}

func titleOf(infos []Info, id string) string {
	for _, info := range infos {
		if info.ID == id {
			return info.Title
		}
	}
	return ""
}
