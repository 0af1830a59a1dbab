package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dwizi/mind-bridge/internal/session"
)

func (s *Store) ListPersonas(ctx context.Context) ([]session.Persona, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, description, prompt FROM personas ORDER BY created_at_unix ASC, rowid ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	personas := []session.Persona{}
	for rows.Next() {
		var persona session.Persona
		if err := rows.Scan(&persona.ID, &persona.Name, &persona.Description, &persona.Prompt); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		personas = append(personas, persona)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personas: %w", err)
	}
	return personas, nil
}

func (s *Store) GetPersona(ctx context.Context, id string) (session.Persona, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, description, prompt FROM personas WHERE id = ?`,
		strings.TrimSpace(id),
	)
	var persona session.Persona
	if err := row.Scan(&persona.ID, &persona.Name, &persona.Description, &persona.Prompt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Persona{}, session.ErrPersonaNotFound
		}
		return session.Persona{}, fmt.Errorf("lookup persona: %w", err)
	}
	return persona, nil
}

// UpsertPersona inserts or replaces a persona by id. An empty id gets a UUID.
func (s *Store) UpsertPersona(ctx context.Context, persona session.Persona) error {
	persona.ID = strings.TrimSpace(persona.ID)
	if persona.ID == "" {
		persona.ID = uuid.NewString()
	}
	if strings.TrimSpace(persona.Prompt) == "" {
		return fmt.Errorf("persona %s: prompt is required", persona.ID)
	}
	if strings.TrimSpace(persona.Name) == "" {
		persona.Name = persona.ID
	}
	nowUnix := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO personas (id, name, description, prompt, created_at_unix, updated_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			prompt = excluded.prompt,
			updated_at_unix = excluded.updated_at_unix`,
		persona.ID,
		strings.TrimSpace(persona.Name),
		strings.TrimSpace(persona.Description),
		strings.TrimSpace(persona.Prompt),
		nowUnix,
		nowUnix,
	)
	if err != nil {
		return fmt.Errorf("upsert persona: %w", err)
	}
	return nil
}

func (s *Store) DeletePersona(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete persona rows: %w", err)
	}
	if affected == 0 {
		return session.ErrPersonaNotFound
	}
	return nil
}
