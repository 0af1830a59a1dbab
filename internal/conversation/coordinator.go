package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/mind-bridge/internal/chat"
	"github.com/dwizi/mind-bridge/internal/history"
	"github.com/dwizi/mind-bridge/internal/llm"
	"github.com/dwizi/mind-bridge/internal/memorylog"
	"github.com/dwizi/mind-bridge/internal/prompt"
	"github.com/dwizi/mind-bridge/internal/reply"
	"github.com/dwizi/mind-bridge/internal/session"
)

type Config struct {
	SelfID            int64
	BotName           string
	Callsigns         []string
	RandomChance      float64
	SinglePrompt      string
	SingleTemperature float64
	TypingInterval    time.Duration
	TreeRoles         history.TreeRoles
}

type Dependencies struct {
	Sessions   session.Store
	Compositor *prompt.Compositor
	Completer  llm.Completer
	Messenger  Messenger
	Transcript *memorylog.Writer
	Rand       reply.Rand

	// Locks is shared with every other writer of the session store.
	Locks  *session.Locks
	Logger *slog.Logger
}

// Coordinator runs one inbound message through save, classify, compose,
// complete and deliver. Every call is independent; state goes through the
// session store.
type Coordinator struct {
	cfg        Config
	sessions   session.Store
	classifier reply.Classifier
	compositor *prompt.Compositor
	completer  llm.Completer
	router     *Router
	messenger  Messenger
	transcript *memorylog.Writer
	locks      *session.Locks
	logger     *slog.Logger
}

func NewCoordinator(cfg Config, deps Dependencies) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = DefaultTypingInterval
	}
	if cfg.TreeRoles == "" {
		cfg.TreeRoles = history.TreeRolesUser
	}
	if len(cfg.Callsigns) == 0 {
		cfg.Callsigns = reply.DefaultCallsigns
	}
	locks := deps.Locks
	if locks == nil {
		locks = session.NewLocks()
	}
	return &Coordinator{
		cfg:        cfg,
		sessions:   deps.Sessions,
		classifier: reply.NewClassifier(cfg.SelfID, cfg.Callsigns, cfg.RandomChance, deps.Rand),
		compositor: deps.Compositor,
		completer:  deps.Completer,
		router:     NewRouter(deps.Messenger),
		messenger:  deps.Messenger,
		transcript: deps.Transcript,
		locks:      locks,
		logger:     logger,
	}
}

// HandleMessage processes one inbound message. Model failures end the update
// quietly after logging; store and send failures are returned.
func (c *Coordinator) HandleMessage(ctx context.Context, message chat.Message) error {
	key := session.Key(message.ChatID)
	state, err := c.saveIncoming(ctx, key, message)
	if err != nil {
		return err
	}
	c.record(message.ChatID, message.ChatTitle, memorylog.DirectionInbound, message.ID, message.SenderName(), message.Text)

	kind := c.classifier.Classify(message)
	logger := c.logger.With("chat_id", message.ChatID, "message_id", message.ID, "reply_kind", kind.String())
	if kind == reply.None {
		logger.Debug("no reply needed")
		return nil
	}

	turns := c.compositor.Compose(ctx, kind, message, state)
	request := llm.Request{
		Turns:       turns,
		MaxTokens:   state.MaxTokens,
		Temperature: state.Temperature,
	}
	if strings.TrimSpace(c.cfg.SinglePrompt) != "" && c.cfg.SingleTemperature > 0 {
		request.Temperature = c.cfg.SingleTemperature
	}
	counter := c.compositor.Counter()
	logger.Info("requesting completion", "prompt_tokens", history.Tokens(counter, turns), "turns", len(turns))

	stopTyping := startTyping(ctx, c.messenger, message.ChatID, c.cfg.TypingInterval, logger)
	raw, err := c.completer.Complete(ctx, request)
	stopTyping()
	if err != nil {
		logger.Error("completion failed", "error", err)
		return nil
	}
	logger.Info("completion received", "reply_tokens", counter.Count(raw))

	outgoing, sent, err := c.router.Deliver(ctx, kind, message.ChatID, message.ID, raw)
	if err != nil {
		return err
	}
	if !sent {
		logger.Info("model declined to reply")
		return nil
	}
	logger.Info("reply sent", "anchor_id", outgoing.AnchorID, "sent_id", outgoing.MessageID)
	c.record(message.ChatID, message.ChatTitle, memorylog.DirectionOutbound, outgoing.MessageID, c.cfg.BotName, outgoing.Text)
	return c.saveOutgoing(ctx, key, outgoing)
}

// HandleEdit applies an edited message to the stored log. No reply is made.
func (c *Coordinator) HandleEdit(ctx context.Context, message chat.Message) error {
	key := session.Key(message.ChatID)
	unlock := c.locks.Lock(key)
	defer unlock()
	state, err := c.sessions.LoadSession(ctx, key)
	if err != nil {
		return fmt.Errorf("load session %s: %w", key, err)
	}
	log := history.New(state.Messages, c.compositor.Counter())
	if !log.UpdateText(message.ID, message.Text) {
		return nil
	}
	state.Messages = log.Messages()
	if err := c.sessions.SaveSession(ctx, key, state); err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	return nil
}

func (c *Coordinator) saveIncoming(ctx context.Context, key string, message chat.Message) (session.State, error) {
	unlock := c.locks.Lock(key)
	defer unlock()
	state, err := c.sessions.LoadSession(ctx, key)
	if err != nil {
		return session.State{}, fmt.Errorf("load session %s: %w", key, err)
	}
	log := history.New(state.Messages, c.compositor.Counter())
	if !log.Save(history.FromChat(message, c.cfg.SelfID)) {
		return state, nil
	}
	state.Messages = log.Messages()
	if err := c.sessions.SaveSession(ctx, key, state); err != nil {
		return session.State{}, fmt.Errorf("save session %s: %w", key, err)
	}
	return state, nil
}

// saveOutgoing reloads the session so admin changes made while the model was
// busy are kept.
func (c *Coordinator) saveOutgoing(ctx context.Context, key string, outgoing Outgoing) error {
	unlock := c.locks.Lock(key)
	defer unlock()
	state, err := c.sessions.LoadSession(ctx, key)
	if err != nil {
		return fmt.Errorf("load session %s: %w", key, err)
	}
	log := history.New(state.Messages, c.compositor.Counter())
	log.Save(history.Message{
		ID:        outgoing.MessageID,
		Name:      c.cfg.BotName,
		Text:      outgoing.Text,
		ReplyToID: outgoing.AnchorID,
		IsAI:      true,
	})
	state.Messages = log.Messages()
	if err := c.sessions.SaveSession(ctx, key, state); err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	return nil
}

func (c *Coordinator) record(chatID int64, title, direction string, messageID int, actor, text string) {
	if !c.transcript.Enabled() {
		return
	}
	err := c.transcript.Append(memorylog.Entry{
		Connector: "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		ChatTitle: title,
		Direction: direction,
		MessageID: messageID,
		ActorName: actor,
		Text:      text,
	})
	if err != nil {
		c.logger.Warn("transcript append failed", "chat_id", chatID, "error", err)
	}
}
