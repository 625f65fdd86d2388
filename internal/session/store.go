package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists session state and the cross-session registry.
//
// Implementations must be safe for concurrent use. LoadState returns
// ErrNotFound for unknown sessions; SaveState upserts.
type Store interface {
	// LoadState fetches the full state of one session.
	LoadState(ctx context.Context, sessionID string) (*ChatState, error)

	// SaveState upserts the full state of one session.
	SaveState(ctx context.Context, state *ChatState) error

	// ListSessions returns the registry, most recently active first.
	ListSessions(ctx context.Context) ([]Info, error)

	// TouchSession bumps a session's LastActive and sets its title when no
	// title has been assigned yet. Creates the registry record if missing.
	TouchSession(ctx context.Context, sessionID, title string, at time.Time) error

	// RenameSession replaces a session's title.
	RenameSession(ctx context.Context, sessionID, title string) error

	// DeleteSession removes a session's state and registry record.
	DeleteSession(ctx context.Context, sessionID string) error
}

// MemoryStore is the in-process Store used when no database is configured
// and in tests. State survives for the life of the process only.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*ChatState
	infos  map[string]Info
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*ChatState),
		infos:  make(map[string]Info),
	}
}

func (s *MemoryStore) LoadState(_ context.Context, sessionID string) (*ChatState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (s *MemoryStore) SaveState(_ context.Context, state *ChatState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SessionID] = state.Clone()
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]Info, 0, len(s.infos))
	for _, info := range s.infos {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActive.After(infos[j].LastActive)
	})
	return infos, nil
}

func (s *MemoryStore) TouchSession(_ context.Context, sessionID, title string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[sessionID]
	if !ok {
		info = Info{ID: sessionID}
	}
	if info.Title == "" {
		info.Title = title
	}
	info.LastActive = at
	s.infos[sessionID] = info
	return nil
}

func (s *MemoryStore) RenameSession(_ context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[sessionID]
	if !ok {
		return ErrNotFound
	}
	info.Title = title
	s.infos[sessionID] = info
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	delete(s.infos, sessionID)
	return nil
}
