package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dwizi/mind-bridge/internal/config"
	"github.com/dwizi/mind-bridge/internal/session"
	"github.com/dwizi/mind-bridge/internal/store"
	"github.com/dwizi/mind-bridge/internal/store/mongostore"
)

// OpenStore connects the backend selected by MONGO_URL and migrates it.
func OpenStore(ctx context.Context, cfg config.Config) (Backend, error) {
	var backend interface {
		Backend
		AutoMigrate(ctx context.Context) error
	}
	switch cfg.StoreBackend() {
	case "mongo":
		mongoStore, err := mongostore.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		backend = mongoStore
	default:
		sqlStore, err := store.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		backend = sqlStore
	}
	if err := backend.AutoMigrate(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.StoreBackend(), err)
	}
	return backend, nil
}

// SeedPersonas imports PERSONAS_FILE. With no file and an empty catalog it
// installs the built-in default persona so the menu is never empty.
func SeedPersonas(ctx context.Context, backend Backend, cfg config.Config, logger *slog.Logger) error {
	if path := strings.TrimSpace(cfg.PersonasFile); path != "" {
		personas, err := session.LoadPersonasFile(path)
		if err != nil {
			return err
		}
		count, err := ImportPersonas(ctx, backend, personas)
		if err != nil {
			return err
		}
		logger.Info("personas imported", "path", path, "count", count)
		return nil
	}
	existing, err := backend.ListPersonas(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return backend.UpsertPersona(ctx, defaultPersona(cfg.BotName))
}

func ImportPersonas(ctx context.Context, writer session.PersonaWriter, personas []session.Persona) (int, error) {
	for index, persona := range personas {
		if err := writer.UpsertPersona(ctx, persona); err != nil {
			return index, fmt.Errorf("import persona %q: %w", persona.Name, err)
		}
	}
	return len(personas), nil
}

func defaultPersona(botName string) session.Persona {
	return session.Persona{
		ID:          session.DefaultPersona,
		Name:        botName,
		Description: "Обычный режим общения",
		Prompt:      session.DefaultPromptStart,
	}
}
