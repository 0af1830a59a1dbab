package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dwizi/mind-bridge/internal/chat"
	"github.com/dwizi/mind-bridge/internal/gateway"
	"github.com/dwizi/mind-bridge/internal/heartbeat"
)

const testToken = "123:abc"

type apiCall struct {
	method string
	form   url.Values
}

type fakeBotAPI struct {
	mu     sync.Mutex
	calls  []apiCall
	nextID int
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/file/bot"+testToken+"/") {
			_, _ = io.WriteString(w, "jpeg-bytes")
			return
		}
		method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.mu.Lock()
		f.calls = append(f.calls, apiCall{method: method, form: r.PostForm})
		f.nextID++
		id := 1000 + f.nextID
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getMe":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"Mind","username":"mind_bot"}}`)
		case "sendMessage":
			if r.PostForm.Get("parse_mode") != "" && strings.Contains(r.PostForm.Get("text"), "_broken") {
				_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: Can't find end of the entity"}`)
				return
			}
			fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"chat":{"id":%s,"type":"private"}}}`, id, r.PostForm.Get("chat_id"))
		case "getFile":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"file_id":"a","file_path":"photos/a.jpg"}}`)
		default:
			_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		}
	}
}

func (f *fakeBotAPI) methodCalls(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []apiCall{}
	for _, call := range f.calls {
		if call.method == method {
			out = append(out, call)
		}
	}
	return out
}

type fakeGateway struct {
	messages  []gateway.MessageInput
	callbacks []gateway.CallbackInput
	output    gateway.MessageOutput
	callback  gateway.CallbackOutput
}

func (f *fakeGateway) Commands() []gateway.SlashCommand {
	return []gateway.SlashCommand{
		{Name: "ping", Description: "check"},
		{Name: "help", Aliases: []string{"start"}, Description: "help"},
		{Name: "max_tokens", Aliases: []string{"tokens", "mt"}, Description: "limit"},
	}
}

func (f *fakeGateway) HandleMessage(_ context.Context, input gateway.MessageInput) (gateway.MessageOutput, error) {
	f.messages = append(f.messages, input)
	if strings.HasPrefix(input.Text, "/") {
		return f.output, nil
	}
	return gateway.MessageOutput{}, nil
}

func (f *fakeGateway) HandleCallback(_ context.Context, input gateway.CallbackInput) (gateway.CallbackOutput, error) {
	f.callbacks = append(f.callbacks, input)
	return f.callback, nil
}

type fakeConversation struct {
	messages []chat.Message
	edits    []chat.Message
}

func (f *fakeConversation) HandleMessage(_ context.Context, message chat.Message) error {
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeConversation) HandleEdit(_ context.Context, message chat.Message) error {
	f.edits = append(f.edits, message)
	return nil
}

func newTestConnector(t *testing.T, opts ...Option) (*Connector, *fakeBotAPI, *fakeGateway, *fakeConversation) {
	t.Helper()
	api := &fakeBotAPI{}
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	connector, err := New(testToken, server.URL+"/bot%s/%s", 1, logger, opts...)
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	commands := &fakeGateway{}
	conversation := &fakeConversation{}
	connector.Bind(commands, conversation)
	return connector, api, commands, conversation
}

func TestNewLoadsIdentity(t *testing.T) {
	connector, _, _, _ := newTestConnector(t)
	if connector.SelfID() != 7 || connector.Username() != "mind_bot" {
		t.Fatalf("unexpected identity: %d %q", connector.SelfID(), connector.Username())
	}
}

func TestCommandsAreAnsweredByGateway(t *testing.T) {
	connector, api, commands, conversation := newTestConnector(t)
	commands.output = gateway.MessageOutput{
		Handled:  true,
		Reply:    "*Menu*",
		Markdown: true,
		Keyboard: gateway.Keyboard{{{Text: "✅ Default", Data: "persona:default"}}},
	}

	connector.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 5,
		Text:      "/mood",
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		From:      &tgbotapi.User{ID: 9, FirstName: "Ann"},
	}})

	if len(conversation.messages) != 0 {
		t.Fatalf("handled command must not reach the conversation: %#v", conversation.messages)
	}
	sent := api.methodCalls("sendMessage")
	if len(sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(sent))
	}
	if sent[0].form.Get("parse_mode") != tgbotapi.ModeMarkdown || !strings.Contains(sent[0].form.Get("reply_markup"), "persona:default") {
		t.Fatalf("unexpected reply form: %v", sent[0].form)
	}
}

func TestMessagesReachConversation(t *testing.T) {
	connector, _, commands, conversation := newTestConnector(t)
	connector.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 11,
		Caption:   "look",
		Chat:      &tgbotapi.Chat{ID: -100, Type: "supergroup", Title: "G"},
		From:      &tgbotapi.User{ID: 9, FirstName: "Ann", UserName: "ann"},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", FileSize: 1000},
			{FileID: "big", FileSize: 900000},
		},
		ReplyToMessage: &tgbotapi.Message{MessageID: 10, From: &tgbotapi.User{ID: 7}},
	}})

	if len(commands.messages) != 1 {
		t.Fatalf("expected gateway to see the message first")
	}
	if len(conversation.messages) != 1 {
		t.Fatalf("expected message dispatched, got %d", len(conversation.messages))
	}
	got := conversation.messages[0]
	if got.ID != 11 || got.ChatID != -100 || got.Text != "look" || got.ChatTitle != "G" {
		t.Fatalf("unexpected message: %#v", got)
	}
	if got.ReplyToID != 10 || got.ReplyToFromID != 7 || len(got.Photo) != 2 || got.Photo[1].FileID != "big" {
		t.Fatalf("unexpected reply or photo fields: %#v", got)
	}
}

func TestEditedMessageUpdatesHistory(t *testing.T) {
	connector, _, _, conversation := newTestConnector(t)
	connector.handleUpdate(context.Background(), tgbotapi.Update{EditedMessage: &tgbotapi.Message{
		MessageID: 3,
		Text:      "fixed",
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
	}})
	if len(conversation.edits) != 1 || conversation.edits[0].Text != "fixed" || len(conversation.messages) != 0 {
		t.Fatalf("unexpected dispatch: %#v %#v", conversation.edits, conversation.messages)
	}
}

func TestCallbackRefreshesMenu(t *testing.T) {
	connector, api, commands, _ := newTestConnector(t)
	commands.callback = gateway.CallbackOutput{
		Handled:  true,
		Changed:  true,
		Keyboard: gateway.Keyboard{{{Text: "✅ Pirate", Data: "persona:pirate"}}},
		Notice:   "Pirate",
	}
	connector.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    "persona:pirate",
		Message: &tgbotapi.Message{MessageID: 77, Chat: &tgbotapi.Chat{ID: 42}},
	}})

	if len(commands.callbacks) != 1 || commands.callbacks[0].ChatID != 42 {
		t.Fatalf("unexpected callbacks: %#v", commands.callbacks)
	}
	edits := api.methodCalls("editMessageReplyMarkup")
	if len(edits) != 1 || edits[0].form.Get("message_id") != "77" || !strings.Contains(edits[0].form.Get("reply_markup"), "persona:pirate") {
		t.Fatalf("unexpected edit calls: %#v", edits)
	}
	answers := api.methodCalls("answerCallbackQuery")
	if len(answers) != 1 || answers[0].form.Get("callback_query_id") != "cb-1" || answers[0].form.Get("text") != "Pirate" {
		t.Fatalf("unexpected callback answers: %#v", answers)
	}
}

func TestSendTextThreadsAndFallsBackToPlainText(t *testing.T) {
	connector, api, _, _ := newTestConnector(t)
	ctx := context.Background()

	id, err := connector.SendText(ctx, 42, " Я бот.", 101)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id == 0 {
		t.Fatal("expected posted message id")
	}
	first := api.methodCalls("sendMessage")[0].form
	if first.Get("reply_to_message_id") != "101" || first.Get("allow_sending_without_reply") != "true" || first.Get("parse_mode") != tgbotapi.ModeMarkdown {
		t.Fatalf("unexpected threaded form: %v", first)
	}

	if _, err := connector.SendText(ctx, 42, "snake_broken text", 0); err != nil {
		t.Fatalf("send with fallback: %v", err)
	}
	sent := api.methodCalls("sendMessage")
	if len(sent) != 3 {
		t.Fatalf("expected retry after markdown failure, got %d sends", len(sent))
	}
	if sent[2].form.Get("parse_mode") != "" || sent[2].form.Get("reply_to_message_id") != "" {
		t.Fatalf("expected plain unthreaded retry, got %v", sent[2].form)
	}
}

func TestSendTypingAndFetchFile(t *testing.T) {
	connector, api, _, _ := newTestConnector(t)
	ctx := context.Background()
	if err := connector.SendTyping(ctx, 42); err != nil {
		t.Fatalf("typing: %v", err)
	}
	actions := api.methodCalls("sendChatAction")
	if len(actions) != 1 || actions[0].form.Get("action") != tgbotapi.ChatTyping {
		t.Fatalf("unexpected chat actions: %#v", actions)
	}

	data, err := connector.FetchFile(ctx, "a")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected file body: %q", string(data))
	}
}

func TestSyncCommandsPublishesNamesAndAliases(t *testing.T) {
	connector, api, _, _ := newTestConnector(t)
	if err := connector.syncCommands(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	calls := api.methodCalls("setMyCommands")
	if len(calls) != 1 {
		t.Fatalf("expected one setMyCommands call, got %d", len(calls))
	}
	var commands []tgbotapi.BotCommand
	if err := json.Unmarshal([]byte(calls[0].form.Get("commands")), &commands); err != nil {
		t.Fatalf("decode commands: %v", err)
	}
	names := []string{}
	for _, command := range commands {
		names = append(names, command.Command)
	}
	if strings.Join(names, ",") != "ping,help,start,max_tokens,tokens,mt" {
		t.Fatalf("unexpected commands: %v", names)
	}
}

func TestWebhookHandlerQueuesUpdate(t *testing.T) {
	connector, _, _, _ := newTestConnector(t, WithWebhook("https://bot.example.com/"+testToken))
	body := `{"update_id":5,"message":{"message_id":9,"text":"hi","chat":{"id":42,"type":"private"}}}`
	recorder := httptest.NewRecorder()
	connector.WebhookHandler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/"+testToken, strings.NewReader(body)))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	select {
	case update := <-connector.updates:
		if update.UpdateID != 5 || update.Message == nil || update.Message.Text != "hi" {
			t.Fatalf("unexpected queued update: %#v", update)
		}
	default:
		t.Fatal("expected update queued")
	}

	recorder = httptest.NewRecorder()
	connector.WebhookHandler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/"+testToken, nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestTelegramCommandName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "Max-Tokens", want: "max_tokens"},
		{input: " /ps ", want: "ps"},
		{input: "__", want: ""},
		{input: "a_very_long_command_name_that_overflows", want: "a_very_long_command_name_that_ov"},
	}
	for _, tc := range tests {
		if got := telegramCommandName(tc.input); got != tc.want {
			t.Fatalf("telegramCommandName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestFileEndpointFollowsAPIEndpoint(t *testing.T) {
	if got := fileEndpointFor("http://local/bot%s/%s"); got != "http://local/file/bot%s/%s" {
		t.Fatalf("unexpected file endpoint: %q", got)
	}
	if got := fileEndpointFor(tgbotapi.APIEndpoint); got != tgbotapi.FileEndpoint {
		t.Fatalf("unexpected default file endpoint: %q", got)
	}
}

func TestWebhookModeStaysFreshWithoutTraffic(t *testing.T) {
	connector, api, _, _ := newTestConnector(t,
		WithWebhook("https://bot.example.com/"+testToken),
		WithCommandSync(false),
		WithBeatInterval(5*time.Millisecond),
	)
	registry := heartbeat.NewRegistry()
	connector.SetHeartbeatReporter(registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- connector.Start(ctx) }()

	time.Sleep(80 * time.Millisecond)
	snapshot := registry.Snapshot(40 * time.Millisecond)
	if len(snapshot.Components) != 1 || snapshot.Components[0].State != heartbeat.StateHealthy {
		t.Fatalf("expected healthy connector, got %#v", snapshot.Components)
	}
	if len(api.methodCalls("setWebhook")) != 1 {
		t.Fatalf("expected webhook registered once")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned %v", err)
	}
	if state := registry.Snapshot(0).Components[0].State; state != heartbeat.StateStopped {
		t.Fatalf("expected stopped after shutdown, got %s", state)
	}
}
