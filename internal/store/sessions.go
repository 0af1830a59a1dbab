package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dwizi/mind-bridge/internal/session"
)

var ErrSessionNotFound = errors.New("session not found")

// GetSession returns the stored state for key or ErrSessionNotFound.
func (s *Store) GetSession(ctx context.Context, key string) (session.State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state_json FROM sessions WHERE session_key = ?`, strings.TrimSpace(key))
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.State{}, ErrSessionNotFound
		}
		return session.State{}, fmt.Errorf("lookup session: %w", err)
	}
	return DecodeState([]byte(raw))
}

// LoadSession returns the stored state, or defaults for a chat seen for the
// first time.
func (s *Store) LoadSession(ctx context.Context, key string) (session.State, error) {
	state, err := s.GetSession(ctx, key)
	if errors.Is(err, ErrSessionNotFound) {
		return session.Default(), nil
	}
	return state, err
}

func (s *Store) SaveSession(ctx context.Context, key string, state session.State) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("session key is required")
	}
	raw, err := EncodeState(state)
	if err != nil {
		return err
	}
	nowUnix := time.Now().UTC().Unix()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (session_key, state_json, created_at_unix, updated_at_unix)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET state_json = excluded.state_json, updated_at_unix = excluded.updated_at_unix`,
		key,
		string(raw),
		nowUnix,
		nowUnix,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// EncodeState renders the session blob.
func EncodeState(state session.State) ([]byte, error) {
	state.Normalize()
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return raw, nil
}

// DecodeState parses a session blob. Fields missing from older blobs keep
// their defaults.
func DecodeState(raw []byte) (session.State, error) {
	state := session.Default()
	if err := json.Unmarshal(raw, &state); err != nil {
		return session.State{}, fmt.Errorf("decode session: %w", err)
	}
	state.Normalize()
	return state, nil
}
