package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/promptforge/promptforge/internal/log"
	"github.com/promptforge/promptforge/internal/provider"
)

const (
	// directPrefix marks a direct-execution submission. Part of the client
	// wire contract; stripped before the message enters history.
	directPrefix = "direct:true\n"

	// agentHistoryWindow bounds the history handed to the processor.
	agentHistoryWindow = 15

	// defaultTurnTimeout bounds one full turn including tool resolution and
	// the follow-up pass.
	defaultTurnTimeout = 2 * time.Minute
)

// TurnResult is what the processor produces for one resolved turn.
type TurnResult struct {
	Content   string
	ToolCalls []ToolCall
}

// Processor runs one conversation turn. Implemented by the chat handler;
// defined here so the actor depends only on what it consumes.
//
// direct reports that the client submitted the message for verbatim
// execution. When onChunk is non-nil the processor streams content
// fragments through it before returning the final result.
type Processor interface {
	ProcessTurn(ctx context.Context, client *provider.Client, message string, direct bool, history []Message, onChunk func(chunk string) error) (*TurnResult, error)
}

// AgentConfig contains the required parameters for an Agent.
type AgentConfig struct {
	State     *ChatState // initial state, never nil
	Processor Processor
	Client    *provider.Client // ambient completion client
	Store     Store
	Logger    log.Logger
	Timeout   time.Duration // per-turn deadline (0 = default)
}

// Agent is the per-session actor. All state access goes through its mutex;
// at most one turn is in flight at a time and concurrent submissions are
// rejected with ErrSessionBusy rather than queued.
type Agent struct {
	mu    sync.Mutex
	state *ChatState

	processor Processor
	client    *provider.Client
	store     Store
	logger    log.Logger
	timeout   time.Duration
}

// NewAgent creates the actor for one session around its initial state.
func NewAgent(cfg AgentConfig) *Agent {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTurnTimeout
	}
	return &Agent{
		state:     cfg.State,
		processor: cfg.Processor,
		client:    cfg.Client,
		store:     cfg.Store,
		logger:    cfg.Logger,
		timeout:   timeout,
	}
}

// State returns a copy of the session's current state.
func (a *Agent) State() *ChatState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// Send runs one non-streaming turn and returns the state after the
// assistant message lands.
func (a *Agent) Send(ctx context.Context, message string) (*ChatState, error) {
	msg, direct, client, history, err := a.beginTurn(ctx, message)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.processor.ProcessTurn(ctx, client, msg, direct, history, nil)
	if err != nil {
		a.abortTurn(ctx, err)
		return nil, mapTurnError(err)
	}

	return a.finishTurn(ctx, result), nil
}

// SendStream runs one streaming turn. Content fragments arrive on the
// returned Stream as the model produces them; the terminal event carries the
// turn's error, if any. The caller must drain the stream.
//
// If the turn is cancelled after content was already streamed, that content
// is committed as the assistant message rather than dropped: the consumer
// has seen it, so history must keep it.
func (a *Agent) SendStream(ctx context.Context, message string) (*Stream, error) {
	msg, direct, client, history, err := a.beginTurn(ctx, message)
	if err != nil {
		return nil, err
	}

	stream := newStream()
	go func() {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		result, err := a.processor.ProcessTurn(ctx, client, msg, direct, history, func(chunk string) error {
			a.mu.Lock()
			a.state.StreamingMessage += chunk
			a.mu.Unlock()
			stream.send(chunk)
			return ctx.Err()
		})
		if err != nil {
			if cancelled(err) && a.commitPartialTurn(ctx) {
				stream.close(mapTurnError(err))
				return
			}
			a.abortTurn(ctx, err)
			stream.close(mapTurnError(err))
			return
		}

		a.finishTurn(ctx, result)
		stream.close(nil)
	}()

	return stream, nil
}

// beginTurn validates the submission, claims the processing slot, and
// appends the user message. On success the returned history excludes the
// message just appended.
func (a *Agent) beginTurn(ctx context.Context, message string) (msg string, direct bool, client *provider.Client, history []Message, err error) {
	msg, direct = strings.CutPrefix(message, directPrefix)
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", false, nil, nil, ErrEmptyMessage
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.IsProcessing {
		return "", false, nil, nil, ErrSessionBusy
	}

	tail := a.state.Messages
	if len(tail) > agentHistoryWindow {
		tail = tail[len(tail)-agentHistoryWindow:]
	}
	history = make([]Message, len(tail))
	copy(history, tail)

	a.state.Messages = append(a.state.Messages, Message{
		Role:      RoleUser,
		Content:   msg,
		Timestamp: time.Now(),
	})
	a.state.IsProcessing = true
	a.state.StreamingMessage = ""

	a.persistLocked(ctx)
	return msg, direct, a.turnClientLocked(), history, nil
}

// finishTurn appends the assistant message and releases the processing slot.
func (a *Agent) finishTurn(ctx context.Context, result *TurnResult) *ChatState {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.Messages = append(a.state.Messages, Message{
		Role:      RoleAssistant,
		Content:   result.Content,
		ToolCalls: result.ToolCalls,
		Timestamp: time.Now(),
	})
	a.state.IsProcessing = false
	a.state.StreamingMessage = ""

	a.persistLocked(ctx)
	return a.state.Clone()
}

// commitPartialTurn appends the accumulated streamed content as the
// assistant message after a cancelled stream. Reports false when nothing
// was streamed yet, in which case the turn aborts normally.
func (a *Agent) commitPartialTurn(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	partial := a.state.StreamingMessage
	if partial == "" {
		return false
	}

	a.state.Messages = append(a.state.Messages, Message{
		Role:      RoleAssistant,
		Content:   partial,
		Timestamp: time.Now(),
	})
	a.state.IsProcessing = false
	a.state.StreamingMessage = ""
	a.logger.Warn("stream cancelled, keeping partial assistant message",
		"sessionId", a.state.SessionID, "chars", len(partial))

	a.persistLocked(ctx)
	return true
}

// cancelled reports whether a turn ended by cancellation or deadline rather
// than a provider failure.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// abortTurn releases the processing slot after a failed turn. The user
// message stays in history; no assistant message is appended.
func (a *Agent) abortTurn(ctx context.Context, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.IsProcessing = false
	a.state.StreamingMessage = ""
	a.logger.Warn("turn aborted", "sessionId", a.state.SessionID, "error", cause)

	a.persistLocked(ctx)
}

// turnClientLocked derives the completion client for the next turn from the
// session's provider override and model selection.
func (a *Agent) turnClientLocked() *provider.Client {
	model := a.state.Model
	if pc := a.state.ProviderConfig; pc != nil {
		if pc.Model != "" {
			model = pc.Model
		}
		return a.client.WithOverride(pc.BaseURL, pc.APIKey, model)
	}
	return a.client.WithModel(model)
}

// SetProviderConfig installs or clears (nil) the session's provider
// override and returns the updated state.
func (a *Agent) SetProviderConfig(ctx context.Context, cfg *ProviderConfig) *ChatState {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cfg == nil {
		a.state.ProviderConfig = nil
	} else {
		pc := *cfg
		a.state.ProviderConfig = &pc
	}

	a.persistLocked(ctx)
	return a.state.Clone()
}

// SetModel switches the session's model for subsequent turns.
func (a *Agent) SetModel(ctx context.Context, model string) *ChatState {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.Model = model
	a.persistLocked(ctx)
	return a.state.Clone()
}

// Clear drops the conversation history. Model and provider config survive.
func (a *Agent) Clear(ctx context.Context) *ChatState {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.Messages = nil
	a.state.StreamingMessage = ""

	a.persistLocked(ctx)
	return a.state.Clone()
}

// persistLocked saves state and bumps the registry record. Best-effort:
// persistence failures are logged, never surfaced to the turn.
func (a *Agent) persistLocked(ctx context.Context) {
	if a.store == nil {
		return
	}

	// Detach from the request context so a client disconnect does not lose
	// the write, but still bound it.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := a.store.SaveState(saveCtx, a.state.Clone()); err != nil {
		a.logger.Warn("persisting session state", "sessionId", a.state.SessionID, "error", err)
	}

	title := ""
	for _, m := range a.state.Messages {
		if m.Role == RoleUser {
			title = DeriveTitle(m.Content)
			break
		}
	}
	if err := a.store.TouchSession(saveCtx, a.state.SessionID, title, time.Now()); err != nil {
		a.logger.Warn("touching session registry", "sessionId", a.state.SessionID, "error", err)
	}
}

func mapTurnError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrProcessingTimeout
	}
	return err
}
