package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge/internal/log"
	"github.com/promptforge/promptforge/internal/provider"
)

func newTestHub(store Store) *Hub {
	return NewHub(HubConfig{
		Processor:    &stubProcessor{result: &TurnResult{Content: "ok"}},
		Client:       provider.NewClient(provider.Config{BaseURL: "https://unused", APIKey: "k", Model: "m"}),
		Store:        store,
		Logger:       log.NewNop(),
		DefaultModel: "default-model",
	})
}

func TestHubReturnsSameAgentForSameID(t *testing.T) {
	hub := newTestHub(NewMemoryStore())
	ctx := context.Background()

	a1, err := hub.Agent(ctx, "s1")
	require.NoError(t, err)
	a2, err := hub.Agent(ctx, "s1")
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	other, err := hub.Agent(ctx, "s2")
	require.NoError(t, err)
	assert.NotSame(t, a1, other)
}

func TestHubLazyInitUsesDefaultModel(t *testing.T) {
	hub := newTestHub(NewMemoryStore())

	agent, err := hub.Agent(context.Background(), "fresh")
	require.NoError(t, err)

	state := agent.State()
	assert.Equal(t, "fresh", state.SessionID)
	assert.Equal(t, "default-model", state.Model)
	assert.Empty(t, state.Messages)
}

func TestHubRehydratesPersistedState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveState(ctx, &ChatState{
		SessionID:        "persisted",
		Messages:         []Message{{Role: RoleUser, Content: "earlier"}},
		Model:            "m-saved",
		IsProcessing:     true, // crash mid-turn
		StreamingMessage: "partial",
	}))

	hub := newTestHub(store)
	agent, err := hub.Agent(ctx, "persisted")
	require.NoError(t, err)

	state := agent.State()
	assert.Equal(t, "m-saved", state.Model)
	require.Len(t, state.Messages, 1)
	assert.False(t, state.IsProcessing, "rehydrated session has no turn in flight")
	assert.Empty(t, state.StreamingMessage)
}

func TestHubCreateListDelete(t *testing.T) {
	hub := newTestHub(NewMemoryStore())
	ctx := context.Background()

	state, err := hub.Create(ctx, CreateOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, state.SessionID)

	infos, err := hub.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, state.SessionID, infos[0].ID)

	require.NoError(t, hub.Delete(ctx, state.SessionID))
	infos, err = hub.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestHubCreateWithOptions(t *testing.T) {
	hub := newTestHub(NewMemoryStore())
	ctx := context.Background()

	named, err := hub.Create(ctx, CreateOptions{SessionID: "chosen-id", Title: "Named"})
	require.NoError(t, err)
	assert.Equal(t, "chosen-id", named.SessionID)

	derived, err := hub.Create(ctx, CreateOptions{FirstMessage: "Draft a launch email\nfor the beta"})
	require.NoError(t, err)

	infos, err := hub.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	titles := map[string]string{}
	for _, info := range infos {
		titles[info.ID] = info.Title
	}
	assert.Equal(t, "Named", titles["chosen-id"])
	assert.Equal(t, "Draft a launch email", titles[derived.SessionID])

	// Re-creating an existing id must not clobber its title.
	_, err = hub.Create(ctx, CreateOptions{SessionID: "chosen-id", Title: "Renamed by create"})
	require.NoError(t, err)
	infos, err = hub.Sessions(ctx)
	require.NoError(t, err)
	for _, info := range infos {
		if info.ID == "chosen-id" {
			assert.Equal(t, "Named", info.Title)
		}
	}
}

func TestHubTitleDerivedFromFirstMessage(t *testing.T) {
	hub := newTestHub(NewMemoryStore())
	ctx := context.Background()

	agent, err := hub.Agent(ctx, "titled")
	require.NoError(t, err)
	_, err = agent.Send(ctx, "Improve my code review prompt\nwith details")
	require.NoError(t, err)

	infos, err := hub.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "Improve my code review prompt", infos[0].Title)
}
