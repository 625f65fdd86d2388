package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge/internal/provider"
	"github.com/promptforge/promptforge/internal/testutil"
)

func newTestClient(t *testing.T, fake *testutil.FakeProvider) *provider.Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return provider.NewClient(provider.Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	})
}

func TestCompleteReturnsContentAndToolCalls(t *testing.T) {
	fake := testutil.NewFakeProvider()
	fake.Enqueue(testutil.CompletionTurn{
		Content: "Here you go.",
		ToolCalls: []testutil.ToolCallSpec{
			{ID: "call_1", Name: "list_frameworks", Arguments: "{}"},
		},
	})
	client := newTestClient(t, fake)

	res, err := client.Complete(context.Background(),
		[]provider.ChatMessage{{Role: provider.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Here you go.", res.Content)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "list_frameworks", res.ToolCalls[0].Function.Name)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "test-model", reqs[0].Model)
	assert.Equal(t, "Bearer test-key", reqs[0].APIKey)
}

func TestCompleteStreamDeliversChunksInOrder(t *testing.T) {
	fake := testutil.NewFakeProvider()
	fake.Enqueue(testutil.CompletionTurn{Content: "streamed response text", ChunkSize: 5})
	client := newTestClient(t, fake)

	var got strings.Builder
	err := client.CompleteStream(context.Background(),
		[]provider.ChatMessage{{Role: provider.RoleUser, Content: "hi"}}, nil,
		func(chunk provider.DeltaChunk) error {
			got.WriteString(chunk.Content)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "streamed response text", got.String())
}

func TestCompleteStreamAccumulatesToolCallFragments(t *testing.T) {
	fake := testutil.NewFakeProvider()
	fake.Enqueue(testutil.CompletionTurn{
		ToolCalls: []testutil.ToolCallSpec{
			{ID: "call_1", Name: "analyze_prompt", Arguments: `{"prompt":"Act as a pirate"}`},
		},
	})
	client := newTestClient(t, fake)

	var acc provider.Accumulator
	err := client.CompleteStream(context.Background(),
		[]provider.ChatMessage{{Role: provider.RoleUser, Content: "hi"}}, nil,
		func(chunk provider.DeltaChunk) error {
			for _, frag := range chunk.ToolCalls {
				acc.Add(frag)
			}
			return nil
		})
	require.NoError(t, err)

	calls := acc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, `{"prompt":"Act as a pirate"}`, calls[0].Function.Arguments)
}

func TestCompleteClassifiesProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		message  string
		wantCode string
	}{
		{"rate limited", http.StatusTooManyRequests, "rate_limit hit", provider.CodeRateLimited},
		{"context overflow", http.StatusBadRequest, "context_length_exceeded", provider.CodeContextOverflow},
		{"invalid model", http.StatusNotFound, "model_not_found", provider.CodeInvalidModel},
		{"unknown", http.StatusInternalServerError, "boom", provider.CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeProvider()
			fake.Enqueue(testutil.CompletionTurn{Status: tt.status, ErrorMessage: tt.message})
			client := newTestClient(t, fake)

			_, err := client.Complete(context.Background(),
				[]provider.ChatMessage{{Role: provider.RoleUser, Content: "hi"}}, nil)
			require.Error(t, err)

			var pe *provider.Error
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.wantCode, pe.Code)
		})
	}
}

func TestCompleteStreamChunkHandlerErrorAbortsStream(t *testing.T) {
	fake := testutil.NewFakeProvider()
	fake.Enqueue(testutil.CompletionTurn{Content: "long text to stream", ChunkSize: 4})
	client := newTestClient(t, fake)

	sentinel := errors.New("stop")
	calls := 0
	err := client.CompleteStream(context.Background(),
		[]provider.ChatMessage{{Role: provider.RoleUser, Content: "hi"}}, nil,
		func(provider.DeltaChunk) error {
			calls++
			return sentinel
		})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestWithOverride(t *testing.T) {
	base := provider.NewClient(provider.Config{
		BaseURL: "https://base.example", APIKey: "base-key", Model: "base-model",
	})

	t.Run("full override swaps credentials and model", func(t *testing.T) {
		derived := base.WithOverride("https://other.example", "other-key", "other-model")
		assert.Equal(t, "other-model", derived.Model())
	})

	t.Run("model follows even without credentials", func(t *testing.T) {
		derived := base.WithOverride("", "", "session-model")
		assert.Equal(t, "session-model", derived.Model())
	})

	t.Run("base url alone does not swap credentials", func(t *testing.T) {
		derived := base.WithOverride("https://other.example", "", "")
		assert.Equal(t, "base-model", derived.Model())
	})

	t.Run("base client is untouched", func(t *testing.T) {
		_ = base.WithOverride("https://other.example", "k", "m")
		assert.Equal(t, "base-model", base.Model())
	})
}

func TestWithModel(t *testing.T) {
	base := provider.NewClient(provider.Config{BaseURL: "https://x", APIKey: "k", Model: "m1"})
	assert.Equal(t, "m2", base.WithModel("m2").Model())
	assert.Same(t, base, base.WithModel(""))
	assert.Same(t, base, base.WithModel("m1"))
}
