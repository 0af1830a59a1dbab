package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dwizi/mind-bridge/internal/session"
)

const (
	personaCallbackPrefix = "persona:"
	personasPerRow        = 3
)

type Button struct {
	Text string
	Data string
}

type Keyboard [][]Button

type MessageInput struct {
	ChatID int64
	Text   string
}

type MessageOutput struct {
	Handled  bool
	Reply    string
	Markdown bool
	Keyboard Keyboard
}

type CallbackInput struct {
	ChatID int64
	Data   string
}

type CallbackOutput struct {
	Handled bool

	// Changed is set when the selection moved and Keyboard holds the new menu.
	Changed  bool
	Keyboard Keyboard
	Notice   string
}

type Config struct {
	BotName      string
	SinglePrompt bool
}

// Service answers administrative commands and persona menu callbacks.
type Service struct {
	cfg      Config
	sessions session.Store
	personas session.Catalog
	commands []SlashCommand
	locks    *session.Locks
	logger   *slog.Logger
}

type Option func(*Service)

// WithLocks shares the per-chat session locks of the conversation engine, so
// a setting change never races a history write.
func WithLocks(locks *session.Locks) Option {
	return func(service *Service) {
		if locks != nil {
			service.locks = locks
		}
	}
}

func New(cfg Config, sessions session.Store, personas session.Catalog, logger *slog.Logger, opts ...Option) *Service {
	if strings.TrimSpace(cfg.BotName) == "" {
		cfg.BotName = "Разум"
	}
	if logger == nil {
		logger = slog.Default()
	}
	service := &Service{
		cfg:      cfg,
		sessions: sessions,
		personas: personas,
		commands: SlashCommands(cfg.SinglePrompt),
		locks:    session.NewLocks(),
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// Commands lists the registered commands, in menu order.
func (s *Service) Commands() []SlashCommand {
	return append([]SlashCommand(nil), s.commands...)
}

// HandleMessage answers a registered command. Anything else is left
// unhandled for the conversation path.
func (s *Service) HandleMessage(ctx context.Context, input MessageInput) (MessageOutput, error) {
	name, args, ok := ParseCommand(input.Text)
	if !ok {
		return MessageOutput{}, nil
	}
	command, ok := resolveCommand(s.commands, name)
	if !ok {
		return MessageOutput{}, nil
	}

	switch command.Name {
	case CommandPing:
		return MessageOutput{Handled: true, Reply: "Pong"}, nil
	case CommandHelp:
		return MessageOutput{Handled: true, Reply: s.helpText(), Markdown: true}, nil
	case CommandPersona:
		return s.personaMenu(ctx, input.ChatID)
	}

	key := session.Key(input.ChatID)
	unlock := s.locks.Lock(key)
	defer unlock()
	state, err := s.sessions.LoadSession(ctx, key)
	if err != nil {
		return MessageOutput{}, fmt.Errorf("load session %s: %w", key, err)
	}
	var reply string
	changed := false
	switch command.Name {
	case CommandPromptStart:
		changed = state.SetPromptStart(args)
		reply = "promptStart: " + state.PromptStart
	case CommandContext:
		state.ToggleContext()
		changed = true
		reply = "rememberContext: " + strconv.FormatBool(state.RememberContext)
	case CommandMaxTokens:
		if value, ok := session.ParseMaxTokens(args); ok {
			changed = state.SetMaxTokens(value)
		}
		reply = "maxTokens: " + strconv.Itoa(state.MaxTokens)
	case CommandTemperature:
		if value, ok := session.ParseTemperature(args); ok {
			changed = state.SetTemperature(value)
		}
		reply = "temperature: " + strconv.FormatFloat(state.Temperature, 'f', -1, 64)
	default:
		return MessageOutput{}, nil
	}
	if changed {
		if err := s.sessions.SaveSession(ctx, key, state); err != nil {
			return MessageOutput{}, fmt.Errorf("save session %s: %w", key, err)
		}
		s.logger.Info("session setting changed", "chat_id", input.ChatID, "command", command.Name)
	}
	return MessageOutput{Handled: true, Reply: reply}, nil
}

// HandleCallback applies a persona menu selection.
func (s *Service) HandleCallback(ctx context.Context, input CallbackInput) (CallbackOutput, error) {
	id, ok := strings.CutPrefix(input.Data, personaCallbackPrefix)
	if !ok || s.cfg.SinglePrompt {
		return CallbackOutput{}, nil
	}
	persona, err := s.personas.GetPersona(ctx, id)
	if errors.Is(err, session.ErrPersonaNotFound) {
		return CallbackOutput{Handled: true, Notice: "Персона не найдена"}, nil
	}
	if err != nil {
		return CallbackOutput{}, fmt.Errorf("lookup persona %s: %w", id, err)
	}

	changed, err := s.applyPersona(ctx, session.Key(input.ChatID), persona)
	if err != nil {
		return CallbackOutput{}, err
	}
	if !changed {
		return CallbackOutput{Handled: true, Notice: persona.Name}, nil
	}
	s.logger.Info("persona selected", "chat_id", input.ChatID, "persona", persona.ID)

	personas, err := s.personas.ListPersonas(ctx)
	if err != nil {
		return CallbackOutput{}, fmt.Errorf("list personas: %w", err)
	}
	return CallbackOutput{
		Handled:  true,
		Changed:  true,
		Keyboard: personaKeyboard(personas, persona.ID),
		Notice:   persona.Name,
	}, nil
}

func (s *Service) applyPersona(ctx context.Context, key string, persona session.Persona) (bool, error) {
	unlock := s.locks.Lock(key)
	defer unlock()
	state, err := s.sessions.LoadSession(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load session %s: %w", key, err)
	}
	if !state.ApplyPersona(persona) {
		return false, nil
	}
	if err := s.sessions.SaveSession(ctx, key, state); err != nil {
		return false, fmt.Errorf("save session %s: %w", key, err)
	}
	return true, nil
}

func (s *Service) personaMenu(ctx context.Context, chatID int64) (MessageOutput, error) {
	personas, err := s.personas.ListPersonas(ctx)
	if err != nil {
		return MessageOutput{}, fmt.Errorf("list personas: %w", err)
	}
	if len(personas) == 0 {
		return MessageOutput{Handled: true, Reply: "Персоны пока не добавлены."}, nil
	}
	state, err := s.sessions.LoadSession(ctx, session.Key(chatID))
	if err != nil {
		return MessageOutput{}, fmt.Errorf("load session: %w", err)
	}

	var text strings.Builder
	text.WriteString("Выбери персону для " + s.cfg.BotName + ":\n\n")
	for _, persona := range personas {
		text.WriteString("*" + persona.Name + "*\n" + persona.Description + "\n\n")
	}
	return MessageOutput{
		Handled:  true,
		Reply:    text.String(),
		Markdown: true,
		Keyboard: personaKeyboard(personas, state.CurrentPersona),
	}, nil
}

func (s *Service) helpText() string {
	var text strings.Builder
	text.WriteString("Добро пожаловать в " + s.cfg.BotName + "! Я могу ответить на любой твой вопрос, просто начни общаться со мной\n")
	text.WriteString("Также меня можно добавить в группу и я буду поддерживать беседу.\n\n")
	text.WriteString("Список доступных команд:\n")
	for _, command := range s.commands {
		names := append([]string{command.Name}, command.Aliases...)
		text.WriteString("*/" + strings.Join(names, ", /") + "*\n" + command.Description + "\n")
	}
	return text.String()
}

func personaKeyboard(personas []session.Persona, current string) Keyboard {
	keyboard := Keyboard{}
	row := []Button{}
	for _, persona := range personas {
		mark := "☑️"
		if persona.ID == current {
			mark = "✅"
		}
		row = append(row, Button{Text: mark + " " + persona.Name, Data: personaCallbackPrefix + persona.ID})
		if len(row) == personasPerRow {
			keyboard = append(keyboard, row)
			row = []Button{}
		}
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}
	return keyboard
}
