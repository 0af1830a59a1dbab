package gateway

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/mind-bridge/internal/history"
	"github.com/dwizi/mind-bridge/internal/session"
)

type fakeSessions struct {
	states map[string]session.State
	saves  int
}

func (f *fakeSessions) LoadSession(_ context.Context, key string) (session.State, error) {
	if state, ok := f.states[key]; ok {
		return state, nil
	}
	return session.Default(), nil
}

func (f *fakeSessions) SaveSession(_ context.Context, key string, state session.State) error {
	f.saves++
	f.states[key] = state
	return nil
}

type fakeCatalog struct {
	personas []session.Persona
}

func (f *fakeCatalog) ListPersonas(context.Context) ([]session.Persona, error) {
	return f.personas, nil
}

func (f *fakeCatalog) GetPersona(_ context.Context, id string) (session.Persona, error) {
	for _, persona := range f.personas {
		if persona.ID == id {
			return persona, nil
		}
	}
	return session.Persona{}, session.ErrPersonaNotFound
}

func newTestService(singlePrompt bool) (*Service, *fakeSessions) {
	sessions := &fakeSessions{states: map[string]session.State{}}
	catalog := &fakeCatalog{personas: []session.Persona{
		{ID: "default", Name: "Разум", Description: "Ассистент", Prompt: session.DefaultPromptStart},
		{ID: "pirate", Name: "Pirate", Description: "Arr", Prompt: "Talk like a pirate"},
		{ID: "poet", Name: "Poet", Description: "Rhymes", Prompt: "Answer in verse"},
		{ID: "judge", Name: "Judge", Description: "Strict", Prompt: "Be strict"},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{BotName: "Разум", SinglePrompt: singlePrompt}, sessions, catalog, logger), sessions
}

func handle(t *testing.T, service *Service, text string) MessageOutput {
	t.Helper()
	output, err := service.HandleMessage(context.Background(), MessageInput{ChatID: 42, Text: text})
	if err != nil {
		t.Fatalf("handle %q: %v", text, err)
	}
	return output
}

func TestPingAndHelp(t *testing.T) {
	service, _ := newTestService(false)
	if out := handle(t, service, "/ping"); !out.Handled || out.Reply != "Pong" {
		t.Fatalf("unexpected ping output: %#v", out)
	}
	help := handle(t, service, "/start@mind_bot")
	if !help.Handled || !help.Markdown {
		t.Fatalf("unexpected help output: %#v", help)
	}
	if !strings.Contains(help.Reply, "Добро пожаловать в Разум!") || !strings.Contains(help.Reply, "*/max_tokens, /tokens, /mt*") {
		t.Fatalf("unexpected help text: %q", help.Reply)
	}
}

func TestConfigCommandsEchoAndPreserve(t *testing.T) {
	service, sessions := newTestService(false)

	tests := []struct {
		text  string
		reply string
	}{
		{text: "/mt 800", reply: "maxTokens: 800"},
		{text: "/max_tokens 5000", reply: "maxTokens: 800"},
		{text: "/tokens many", reply: "maxTokens: 800"},
		{text: "/temp 0.7", reply: "temperature: 0.7"},
		{text: "/t 2", reply: "temperature: 0.7"},
		{text: "/temperature 0", reply: "temperature: 0.7"},
		{text: "/rc", reply: "rememberContext: false"},
		{text: "/context", reply: "rememberContext: true"},
		{text: "/ps", reply: "promptStart: " + session.DefaultPromptStart},
		{text: "/prompt_start Be brief", reply: "promptStart: Be brief"},
	}
	for _, tc := range tests {
		out := handle(t, service, tc.text)
		if !out.Handled || out.Reply != tc.reply {
			t.Fatalf("%q: expected %q, got %#v", tc.text, tc.reply, out)
		}
	}
	state := sessions.states["42"]
	if state.MaxTokens != 800 || state.Temperature != 0.7 || state.PromptStart != "Be brief" || !state.RememberContext {
		t.Fatalf("unexpected stored state: %#v", state)
	}
}

func TestUnknownCommandsFallThrough(t *testing.T) {
	service, _ := newTestService(false)
	for _, text := range []string{"/unknown", "hello", "разум /ping"} {
		if out := handle(t, service, text); out.Handled {
			t.Fatalf("%q should not be handled", text)
		}
	}
}

func TestSinglePromptRegistersOnlyBasics(t *testing.T) {
	service, sessions := newTestService(true)
	names := []string{}
	for _, command := range service.Commands() {
		names = append(names, command.Name)
	}
	if strings.Join(names, ",") != "ping,help" {
		t.Fatalf("unexpected commands: %v", names)
	}
	if out := handle(t, service, "/mt 100"); out.Handled {
		t.Fatalf("config command must be disabled, got %#v", out)
	}
	if sessions.saves != 0 {
		t.Fatal("expected no session writes")
	}
}

func TestPersonaMenuAndSelection(t *testing.T) {
	service, sessions := newTestService(false)
	menu := handle(t, service, "/persona")
	if !menu.Handled || !menu.Markdown {
		t.Fatalf("unexpected menu: %#v", menu)
	}
	if !strings.HasPrefix(menu.Reply, "Выбери персону для Разум:\n\n*Разум*\nАссистент\n\n") {
		t.Fatalf("unexpected menu text: %q", menu.Reply)
	}
	if len(menu.Keyboard) != 2 || len(menu.Keyboard[0]) != 3 || len(menu.Keyboard[1]) != 1 {
		t.Fatalf("expected 3+1 button layout, got %#v", menu.Keyboard)
	}
	if menu.Keyboard[0][0].Text != "✅ Разум" || menu.Keyboard[0][1].Text != "☑️ Pirate" {
		t.Fatalf("unexpected marks: %#v", menu.Keyboard[0])
	}

	ctx := context.Background()
	out, err := service.HandleCallback(ctx, CallbackInput{ChatID: 42, Data: menu.Keyboard[0][1].Data})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !out.Handled || !out.Changed || out.Keyboard[0][1].Text != "✅ Pirate" {
		t.Fatalf("unexpected callback output: %#v", out)
	}
	state := sessions.states["42"]
	if state.CurrentPersona != "pirate" || state.PromptStart != "Talk like a pirate" {
		t.Fatalf("unexpected state: %#v", state)
	}

	again, err := service.HandleCallback(ctx, CallbackInput{ChatID: 42, Data: "persona:pirate"})
	if err != nil || again.Changed {
		t.Fatalf("expected reselect to leave menu as is, got %#v %v", again, err)
	}
	missing, err := service.HandleCallback(ctx, CallbackInput{ChatID: 42, Data: "persona:ghost"})
	if err != nil || !missing.Handled || missing.Changed {
		t.Fatalf("unexpected missing persona output: %#v %v", missing, err)
	}
	other, err := service.HandleCallback(ctx, CallbackInput{ChatID: 42, Data: "something-else"})
	if err != nil || other.Handled {
		t.Fatalf("unexpected foreign callback output: %#v %v", other, err)
	}
}

func TestParseCommand(t *testing.T) {
	name, args, ok := ParseCommand("/PS@mind_bot  Be a\nmulti-line prompt ")
	if !ok || name != "ps" || args != "Be a\nmulti-line prompt" {
		t.Fatalf("unexpected parse: %q %q %v", name, args, ok)
	}
	if _, _, ok := ParseCommand("/"); ok {
		t.Fatal("expected bare slash rejected")
	}
}

// slowSessions widens the load/save window so unsynchronized writers lose
// updates.
type slowSessions struct {
	mu     sync.Mutex
	states map[string]session.State
}

func (f *slowSessions) LoadSession(_ context.Context, key string) (session.State, error) {
	f.mu.Lock()
	state, ok := f.states[key]
	f.mu.Unlock()
	if !ok {
		state = session.Default()
	}
	state.Messages = append([]history.Message(nil), state.Messages...)
	time.Sleep(50 * time.Microsecond)
	return state, nil
}

func (f *slowSessions) SaveSession(_ context.Context, key string, state session.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[key] = state
	return nil
}

func TestSettingChangesShareHistoryLocks(t *testing.T) {
	sessions := &slowSessions{states: map[string]session.State{}}
	locks := session.NewLocks()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := New(Config{BotName: "Разум"}, sessions, &fakeCatalog{}, logger, WithLocks(locks))
	ctx := context.Background()
	key := session.Key(42)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 40; i++ {
			unlock := locks.Lock(key)
			state, _ := sessions.LoadSession(ctx, key)
			state.Messages = append(state.Messages, history.Message{ID: i, Text: "hi"})
			_ = sessions.SaveSession(ctx, key, state)
			unlock()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 41; i++ {
			if _, err := service.HandleMessage(ctx, MessageInput{ChatID: 42, Text: "/rc"}); err != nil {
				t.Errorf("toggle: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	state := sessions.states[key]
	if len(state.Messages) != 40 {
		t.Fatalf("expected every history write kept, got %d", len(state.Messages))
	}
	if state.RememberContext {
		t.Fatal("expected an odd number of toggles to leave context off")
	}
}
