package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge/internal/log"
	"github.com/promptforge/promptforge/internal/provider"
)

// HubConfig contains the required parameters for a Hub.
type HubConfig struct {
	Processor    Processor
	Client       *provider.Client // ambient completion client
	Store        Store
	Logger       log.Logger
	DefaultModel string
	TurnTimeout  time.Duration // per-turn deadline (0 = default)
}

// Hub keys session actors by id and creates them lazily. An id always maps
// to the same Agent for the life of the process, so per-session ordering
// holds even across interleaved HTTP requests.
type Hub struct {
	mu     sync.Mutex
	agents map[string]*Agent

	processor    Processor
	client       *provider.Client
	store        Store
	logger       log.Logger
	defaultModel string
	turnTimeout  time.Duration
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		agents:       make(map[string]*Agent),
		processor:    cfg.Processor,
		client:       cfg.Client,
		store:        cfg.Store,
		logger:       cfg.Logger,
		defaultModel: cfg.DefaultModel,
		turnTimeout:  cfg.TurnTimeout,
	}
}

// Agent returns the actor for a session, creating it on first access.
// Persisted state is rehydrated; unknown ids start a fresh session under
// that id.
func (h *Hub) Agent(ctx context.Context, sessionID string) (*Agent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if agent, ok := h.agents[sessionID]; ok {
		return agent, nil
	}

	state, err := h.loadState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	agent := NewAgent(AgentConfig{
		State:     state,
		Processor: h.processor,
		Client:    h.client,
		Store:     h.store,
		Logger:    h.logger,
		Timeout:   h.turnTimeout,
	})
	h.agents[sessionID] = agent
	return agent, nil
}

func (h *Hub) loadState(ctx context.Context, sessionID string) (*ChatState, error) {
	if h.store != nil {
		state, err := h.store.LoadState(ctx, sessionID)
		switch {
		case err == nil:
			// A crash mid-turn can persist IsProcessing=true; a rehydrated
			// session has no turn in flight.
			state.IsProcessing = false
			state.StreamingMessage = ""
			return state, nil
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
		}
	}
	return &ChatState{SessionID: sessionID, Model: h.defaultModel}, nil
}

// CreateOptions controls session creation. Every field is optional: a blank
// SessionID mints a fresh UUID, Title names the session in the registry, and
// FirstMessage derives a title when none was given explicitly.
type CreateOptions struct {
	SessionID    string
	Title        string
	FirstMessage string
}

// Create starts a new session and returns its state. Creating an id that
// already exists rehydrates it instead; the registry title is only set when
// the session has none yet.
func (h *Hub) Create(ctx context.Context, opts CreateOptions) (*ChatState, error) {
	id := strings.TrimSpace(opts.SessionID)
	if id == "" {
		id = uuid.NewString()
	}

	agent, err := h.Agent(ctx, id)
	if err != nil {
		return nil, err
	}
	state := agent.State()

	if h.store != nil {
		title := strings.TrimSpace(opts.Title)
		if title == "" {
			title = DeriveTitle(opts.FirstMessage)
		}
		if err := h.store.SaveState(ctx, state); err != nil {
			return nil, fmt.Errorf("persisting new session: %w", err)
		}
		if err := h.store.TouchSession(ctx, id, title, time.Now()); err != nil {
			return nil, fmt.Errorf("registering new session: %w", err)
		}
	}
	return state, nil
}

// Sessions lists the registry, most recently active first.
func (h *Hub) Sessions(ctx context.Context) ([]Info, error) {
	if h.store == nil {
		return nil, nil
	}
	return h.store.ListSessions(ctx)
}

// Rename replaces a session's registry title.
func (h *Hub) Rename(ctx context.Context, sessionID, title string) error {
	if h.store == nil {
		return ErrNotFound
	}
	return h.store.RenameSession(ctx, sessionID, title)
}

// Delete evicts a session's actor and removes its persisted state.
func (h *Hub) Delete(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	delete(h.agents, sessionID)
	h.mu.Unlock()

	if h.store == nil {
		return nil
	}
	return h.store.DeleteSession(ctx, sessionID)
}
