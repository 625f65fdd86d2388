package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptforge/promptforge/internal/log"
)

// PGStore persists sessions in PostgreSQL. State is stored as a JSONB
// document per session; the registry columns are relational so listing
// never deserializes state.
//
// PGStore is safe for concurrent use by multiple goroutines.
type PGStore struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPGStore creates a store backed by the given pool.
func NewPGStore(pool *pgxpool.Pool, logger log.Logger) *PGStore {
	return &PGStore{pool: pool, logger: logger}
}

func (s *PGStore) LoadState(ctx context.Context, sessionID string) (*ChatState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM sessions WHERE id = $1`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session state: %w", err)
	}

	var state ChatState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling session state: %w", err)
	}
	return &state, nil
}

func (s *PGStore) SaveState(ctx context.Context, state *ChatState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, title, state, last_active)
		VALUES ($1, '', $2, now())
		ON CONFLICT (id) DO UPDATE SET state = excluded.state`,
		state.SessionID, raw)
	if err != nil {
		return fmt.Errorf("saving session state: %w", err)
	}

	s.logger.Debug("saved session state", "sessionId", state.SessionID, "messages", len(state.Messages))
	return nil
}

func (s *PGStore) ListSessions(ctx context.Context) ([]Info, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, last_active FROM sessions ORDER BY last_active DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.Title, &info.LastActive); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading session rows: %w", err)
	}
	return infos, nil
}

func (s *PGStore) TouchSession(ctx context.Context, sessionID, title string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, title, state, last_active)
		VALUES ($1, $2, '{}', $3)
		ON CONFLICT (id) DO UPDATE SET
			last_active = excluded.last_active,
			title = CASE WHEN sessions.title = '' THEN excluded.title ELSE sessions.title END`,
		sessionID, title, at)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

func (s *PGStore) RenameSession(ctx context.Context, sessionID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET title = $2 WHERE id = $1`, sessionID, title)
	if err != nil {
		return fmt.Errorf("renaming session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
