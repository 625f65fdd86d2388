package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/promptforge/promptforge/internal/log"
	"github.com/promptforge/promptforge/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubProcessor is a scripted Processor for actor tests.
type stubProcessor struct {
	mu sync.Mutex

	result *TurnResult
	err    error
	chunks []string      // streamed before returning, when onChunk is set
	block  chan struct{} // when non-nil, Process waits for close or ctx

	gotMessage string
	gotDirect  bool
	gotHistory []Message
}

func (p *stubProcessor) ProcessTurn(ctx context.Context, _ *provider.Client, message string, direct bool, history []Message, onChunk func(string) error) (*TurnResult, error) {
	p.mu.Lock()
	p.gotMessage = message
	p.gotDirect = direct
	p.gotHistory = history
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if onChunk != nil {
		for _, chunk := range p.chunks {
			if err := onChunk(chunk); err != nil {
				return nil, err
			}
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func newTestAgent(proc Processor) *Agent {
	return NewAgent(AgentConfig{
		State:     &ChatState{SessionID: "s1", Model: "test-model"},
		Processor: proc,
		Client:    provider.NewClient(provider.Config{BaseURL: "https://unused", APIKey: "k", Model: "test-model"}),
		Store:     NewMemoryStore(),
		Logger:    log.NewNop(),
	})
}

func TestSendAppendsBothMessages(t *testing.T) {
	proc := &stubProcessor{result: &TurnResult{Content: "it means self-reference"}}
	agent := newTestAgent(proc)

	state, err := agent.Send(context.Background(), "Explain recursion")
	require.NoError(t, err)

	require.Len(t, state.Messages, 2)
	assert.Equal(t, RoleUser, state.Messages[0].Role)
	assert.Equal(t, "Explain recursion", state.Messages[0].Content)
	assert.Equal(t, RoleAssistant, state.Messages[1].Role)
	assert.Equal(t, "it means self-reference", state.Messages[1].Content)
	assert.False(t, state.IsProcessing)
	assert.Empty(t, state.StreamingMessage)
}

func TestSendEmptyMessageLeavesStateUntouched(t *testing.T) {
	proc := &stubProcessor{result: &TurnResult{Content: "x"}}
	agent := newTestAgent(proc)

	_, err := agent.Send(context.Background(), "   \n ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	state := agent.State()
	assert.Empty(t, state.Messages)
	assert.False(t, state.IsProcessing)
}

func TestSendStripsDirectPrefix(t *testing.T) {
	proc := &stubProcessor{result: &TurnResult{Content: "done"}}
	agent := newTestAgent(proc)

	state, err := agent.Send(context.Background(), "direct:true\nrun this prompt")
	require.NoError(t, err)

	assert.Equal(t, "run this prompt", proc.gotMessage)
	assert.True(t, proc.gotDirect)
	assert.Equal(t, "run this prompt", state.Messages[0].Content)
}

func TestSendRejectsWhenBusy(t *testing.T) {
	proc := &stubProcessor{
		result: &TurnResult{Content: "slow answer"},
		block:  make(chan struct{}),
	}
	agent := newTestAgent(proc)

	stream, err := agent.SendStream(context.Background(), "first")
	require.NoError(t, err)

	_, err = agent.Send(context.Background(), "second")
	require.ErrorIs(t, err, ErrSessionBusy)

	close(proc.block)
	for range stream.Events() {
	}

	// The slot is free again after the turn completes.
	proc.block = nil
	_, err = agent.Send(context.Background(), "third")
	require.NoError(t, err)
}

func TestSendStreamConvergence(t *testing.T) {
	proc := &stubProcessor{
		chunks: []string{"The ", "answer ", "is 42."},
		result: &TurnResult{Content: "The answer is 42."},
	}
	agent := newTestAgent(proc)

	stream, err := agent.SendStream(context.Background(), "question")
	require.NoError(t, err)

	var got strings.Builder
	var terminal StreamEvent
	for event := range stream.Events() {
		if event.Done {
			terminal = event
			continue
		}
		got.WriteString(event.Chunk)
	}
	require.NoError(t, terminal.Err)
	assert.Equal(t, "The answer is 42.", got.String())

	state := agent.State()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, got.String(), state.Messages[1].Content)
	assert.Empty(t, state.StreamingMessage)
	assert.False(t, state.IsProcessing)
}

func TestFailedTurnResetsProcessing(t *testing.T) {
	proc := &stubProcessor{err: errors.New("provider exploded")}
	agent := newTestAgent(proc)

	_, err := agent.Send(context.Background(), "hello")
	require.Error(t, err)

	state := agent.State()
	assert.False(t, state.IsProcessing)
	assert.Empty(t, state.StreamingMessage)
	// The user message stays; no assistant message is appended.
	require.Len(t, state.Messages, 1)
	assert.Equal(t, RoleUser, state.Messages[0].Role)
}

func TestStreamTerminalEventCarriesError(t *testing.T) {
	proc := &stubProcessor{
		chunks: []string{"partial "},
		err:    provider.Classify(429, "rate_limit"),
	}
	agent := newTestAgent(proc)

	stream, err := agent.SendStream(context.Background(), "hello")
	require.NoError(t, err)

	var terminal StreamEvent
	for event := range stream.Events() {
		if event.Done {
			terminal = event
		}
	}
	require.Error(t, terminal.Err)
	assert.Equal(t, provider.CodeRateLimited, provider.ErrorCode(terminal.Err))

	state := agent.State()
	assert.False(t, state.IsProcessing)
	assert.Empty(t, state.StreamingMessage)
}

func TestStreamCancellationKeepsPartialContent(t *testing.T) {
	proc := &stubProcessor{
		chunks: []string{"partial ", "content"},
		err:    context.Canceled,
	}
	agent := newTestAgent(proc)

	stream, err := agent.SendStream(context.Background(), "hello")
	require.NoError(t, err)
	for range stream.Events() {
	}

	// Text the consumer already saw lands as the assistant message.
	state := agent.State()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, RoleAssistant, state.Messages[1].Role)
	assert.Equal(t, "partial content", state.Messages[1].Content)
	assert.False(t, state.IsProcessing)
	assert.Empty(t, state.StreamingMessage)
}

func TestStreamTimeoutKeepsPartialContent(t *testing.T) {
	proc := &stubProcessor{
		chunks: []string{"half an answer"},
		err:    context.DeadlineExceeded,
	}
	agent := newTestAgent(proc)

	stream, err := agent.SendStream(context.Background(), "hello")
	require.NoError(t, err)

	var terminal StreamEvent
	for event := range stream.Events() {
		if event.Done {
			terminal = event
		}
	}
	require.ErrorIs(t, terminal.Err, ErrProcessingTimeout)

	state := agent.State()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "half an answer", state.Messages[1].Content)
}

func TestStreamAbandonedConsumerStillConverges(t *testing.T) {
	proc := &stubProcessor{
		chunks: []string{"a", "b", "c"},
		result: &TurnResult{Content: "abc"},
	}
	agent := newTestAgent(proc)

	_, err := agent.SendStream(context.Background(), "hello")
	require.NoError(t, err)

	// Never drain the stream; the buffered channel lets the turn finish
	// and goleak verifies the producer goroutine exits.
	require.Eventually(t, func() bool {
		return !agent.State().IsProcessing
	}, time.Second, 10*time.Millisecond)

	state := agent.State()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "abc", state.Messages[1].Content)
	assert.Empty(t, state.StreamingMessage)
}

func TestTurnTimeoutMapsToProcessingTimeout(t *testing.T) {
	proc := &stubProcessor{block: make(chan struct{})}
	agent := NewAgent(AgentConfig{
		State:     &ChatState{SessionID: "s1", Model: "m"},
		Processor: proc,
		Client:    provider.NewClient(provider.Config{BaseURL: "https://unused", APIKey: "k", Model: "m"}),
		Logger:    log.NewNop(),
		Timeout:   20 * time.Millisecond,
	})

	_, err := agent.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrProcessingTimeout)
	assert.False(t, agent.State().IsProcessing)
}

func TestHistoryWindowHandedToProcessor(t *testing.T) {
	proc := &stubProcessor{result: &TurnResult{Content: "ok"}}
	agent := newTestAgent(proc)

	for i := 0; i < 12; i++ {
		_, err := agent.Send(context.Background(), "ping")
		require.NoError(t, err)
	}

	// 11 prior turns = 22 messages; the processor sees at most 15, and
	// never the message being processed.
	assert.LessOrEqual(t, len(proc.gotHistory), 15)
	for _, m := range proc.gotHistory {
		assert.NotEmpty(t, m.Role)
	}
}

func TestClearKeepsConfig(t *testing.T) {
	proc := &stubProcessor{result: &TurnResult{Content: "ok"}}
	agent := newTestAgent(proc)

	_, err := agent.Send(context.Background(), "hello")
	require.NoError(t, err)

	agent.SetProviderConfig(context.Background(), &ProviderConfig{BaseURL: "https://b", APIKey: "k", Model: "m9"})
	state := agent.Clear(context.Background())

	assert.Empty(t, state.Messages)
	require.NotNil(t, state.ProviderConfig)
	assert.Equal(t, "m9", state.ProviderConfig.Model)
	assert.Equal(t, "test-model", state.Model)
}

func TestSetModel(t *testing.T) {
	proc := &stubProcessor{result: &TurnResult{Content: "ok"}}
	agent := newTestAgent(proc)

	state := agent.SetModel(context.Background(), "other-model")
	assert.Equal(t, "other-model", state.Model)
}
