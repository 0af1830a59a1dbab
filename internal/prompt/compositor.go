package prompt

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/dwizi/mind-bridge/internal/chat"
	"github.com/dwizi/mind-bridge/internal/history"
	"github.com/dwizi/mind-bridge/internal/llm"
	"github.com/dwizi/mind-bridge/internal/reply"
	"github.com/dwizi/mind-bridge/internal/session"
	"github.com/dwizi/mind-bridge/internal/tokenizer"
)

const (
	DefaultTokenLimit = 300
	// MaxImageBytes bounds the photo variant sent to the model.
	MaxImageBytes = 500000
)

type FileFetcher interface {
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

type Config struct {
	TokenLimit   int
	SinglePrompt string
	Profile      llm.ModelProfile
	TreeRoles    history.TreeRoles
}

type Compositor struct {
	cfg     Config
	counter tokenizer.Counter
	files   FileFetcher
	logger  *slog.Logger
}

func NewCompositor(cfg Config, counter tokenizer.Counter, files FileFetcher, logger *slog.Logger) *Compositor {
	if cfg.TokenLimit <= 0 {
		cfg.TokenLimit = DefaultTokenLimit
	}
	if cfg.TreeRoles == "" {
		cfg.TreeRoles = history.TreeRolesUser
	}
	if counter == nil {
		counter = tokenizer.Estimate{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{cfg: cfg, counter: counter, files: files, logger: logger}
}

func (c *Compositor) Counter() tokenizer.Counter {
	return c.counter
}

// Compose builds [system, ...turns] for a reply of kind to message. The
// message is expected to be saved in state already.
func (c *Compositor) Compose(ctx context.Context, kind reply.Kind, message chat.Message, state session.State) []llm.Turn {
	promptStart := state.PromptStart
	if single := strings.TrimSpace(c.cfg.SinglePrompt); single != "" {
		promptStart = single
	}
	turns := []llm.Turn{{Role: llm.RoleSystem, Text: SystemPrompt(kind, promptStart, message)}}

	log := history.New(state.Messages, c.counter, history.WithTreeRoles(c.cfg.TreeRoles))
	var body []llm.Turn
	switch kind {
	case reply.ChannelPostComment:
		return append(turns, c.singleTurn(ctx, message, false))
	case reply.GroupReplyTree:
		body = log.ReplyTree(history.FromChat(message, 0), c.cfg.TokenLimit)
	default:
		if !state.RememberContext {
			return append(turns, c.singleTurn(ctx, message, false))
		}
		body = log.History(c.cfg.TokenLimit, true)
	}
	return append(turns, c.attachImage(ctx, body, message)...)
}

// singleTurn is the one-message view: the body alone, or image plus caption.
func (c *Compositor) singleTurn(ctx context.Context, message chat.Message, tagged bool) llm.Turn {
	text := message.Text
	if tagged && text != "" {
		text = history.TagWithID(message.ID, text)
	}
	turn := llm.Turn{Role: llm.RoleUser, Text: text, MessageID: message.ID}
	dataURL, ok := c.imageURL(ctx, message)
	if !ok {
		return turn
	}
	turn.Parts = []llm.Part{llm.ImagePart(dataURL)}
	if text != "" {
		turn.Parts = append(turn.Parts, llm.TextPart(text))
	}
	return turn
}

// attachImage turns the incoming message's own turn into image plus text. A
// photo-only message has no turn in the view yet, so one is appended.
func (c *Compositor) attachImage(ctx context.Context, body []llm.Turn, message chat.Message) []llm.Turn {
	if !message.HasPhoto() || !c.cfg.Profile.SupportsImages {
		return body
	}
	for index := range body {
		if body[index].MessageID != message.ID || body[index].Role != llm.RoleUser {
			continue
		}
		dataURL, ok := c.imageURL(ctx, message)
		if !ok {
			return body
		}
		body[index].Parts = []llm.Part{llm.ImagePart(dataURL), llm.TextPart(body[index].Text)}
		return body
	}
	if strings.TrimSpace(message.Text) != "" {
		// The message text was trimmed out of the budget; its image goes with it.
		return body
	}
	turn := c.singleTurn(ctx, message, true)
	if !turn.IsMultipart() {
		return body
	}
	return append(body, turn)
}

func (c *Compositor) imageURL(ctx context.Context, message chat.Message) (string, bool) {
	if !c.cfg.Profile.SupportsImages || c.files == nil || !message.HasPhoto() {
		return "", false
	}
	photo, ok := chat.LargestPhotoUnder(message.Photo, MaxImageBytes)
	if !ok {
		c.logger.Debug("no photo variant under size limit", "message_id", message.ID)
		return "", false
	}
	raw, err := c.files.FetchFile(ctx, photo.FileID)
	if err != nil {
		c.logger.Warn("photo fetch failed, composing text only", "message_id", message.ID, "error", err)
		return "", false
	}
	if len(raw) == 0 {
		return "", false
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw), true
}
