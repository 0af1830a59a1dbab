package session

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/dwizi/mind-bridge/internal/history"
)

const (
	DefaultPromptStart = "Imagine you are a telegram bot. Always answer in the same language as the question."
	DefaultMaxTokens   = 1500
	MaxTokensLimit     = 2000
	DefaultTemperature = 0.2
	DefaultPersona     = "default"
)

// State is the persisted per-chat conversation state.
type State struct {
	PromptStart     string            `json:"promptStart" bson:"promptStart"`
	MaxTokens       int               `json:"maxTokens" bson:"maxTokens"`
	Temperature     float64           `json:"temperature" bson:"temperature"`
	RememberContext bool              `json:"rememberContext" bson:"rememberContext"`
	CurrentPersona  string            `json:"currentPersona" bson:"currentPersona"`
	Messages        []history.Message `json:"messages" bson:"messages"`
}

func Default() State {
	return State{
		PromptStart:     DefaultPromptStart,
		MaxTokens:       DefaultMaxTokens,
		Temperature:     DefaultTemperature,
		RememberContext: true,
		CurrentPersona:  DefaultPersona,
		Messages:        []history.Message{},
	}
}

// Normalize repairs values a store may hand back out of range.
func (s *State) Normalize() {
	if !validMaxTokens(s.MaxTokens) {
		s.MaxTokens = DefaultMaxTokens
	}
	if !validTemperature(s.Temperature) {
		s.Temperature = DefaultTemperature
	}
	if strings.TrimSpace(s.CurrentPersona) == "" {
		s.CurrentPersona = DefaultPersona
	}
	if s.Messages == nil {
		s.Messages = []history.Message{}
	}
}

// SetMaxTokens accepts values in [1, 2000]. Anything else leaves the state
// untouched and reports false.
func (s *State) SetMaxTokens(value int) bool {
	if !validMaxTokens(value) {
		return false
	}
	s.MaxTokens = value
	return true
}

// SetTemperature accepts values in (0, 1].
func (s *State) SetTemperature(value float64) bool {
	if !validTemperature(value) {
		return false
	}
	s.Temperature = value
	return true
}

func (s *State) SetPromptStart(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	s.PromptStart = text
	return true
}

func (s *State) ToggleContext() bool {
	s.RememberContext = !s.RememberContext
	return s.RememberContext
}

// ApplyPersona selects persona and copies its prompt into PromptStart. It
// reports whether the selection changed.
func (s *State) ApplyPersona(persona Persona) bool {
	changed := s.CurrentPersona != persona.ID
	s.CurrentPersona = persona.ID
	if strings.TrimSpace(persona.Prompt) != "" {
		s.PromptStart = persona.Prompt
	}
	return changed
}

// ParseMaxTokens parses admin input for SetMaxTokens.
func ParseMaxTokens(raw string) (int, bool) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || !validMaxTokens(value) {
		return 0, false
	}
	return value, true
}

// ParseTemperature parses admin input for SetTemperature. A comma decimal
// separator is accepted.
func ParseTemperature(raw string) (float64, bool) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !validTemperature(value) {
		return 0, false
	}
	return value, true
}

func validMaxTokens(value int) bool {
	return value >= 1 && value <= MaxTokensLimit
}

func validTemperature(value float64) bool {
	return !math.IsNaN(value) && value > 0 && value <= 1
}

// Key is the storage key of a chat's session.
func Key(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// Store persists session blobs. Load returns Default() for unknown keys.
type Store interface {
	LoadSession(ctx context.Context, key string) (State, error)
	SaveSession(ctx context.Context, key string, state State) error
}
