package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dwizi/mind-bridge/internal/chat"
	"github.com/dwizi/mind-bridge/internal/gateway"
)

func (c *Connector) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, update.CallbackQuery)
	case update.EditedMessage != nil:
		message := toChatMessage(update.EditedMessage)
		if err := c.conversation.HandleEdit(ctx, message); err != nil {
			c.logger.Error("edited message failed", "chat_id", message.ChatID, "message_id", message.ID, "error", err)
		}
	case update.Message != nil:
		c.handleMessage(ctx, update.Message)
	}
}

func (c *Connector) handleMessage(ctx context.Context, incoming *tgbotapi.Message) {
	message := toChatMessage(incoming)
	output, err := c.gateway.HandleMessage(ctx, gateway.MessageInput{
		ChatID: message.ChatID,
		Text:   message.Text,
	})
	if err != nil {
		c.logger.Error("command failed", "chat_id", message.ChatID, "message_id", message.ID, "error", err)
		return
	}
	if output.Handled {
		c.sendCommandReply(message.ChatID, output)
		return
	}
	if err := c.conversation.HandleMessage(ctx, message); err != nil {
		c.logger.Error("message handling failed", "chat_id", message.ChatID, "message_id", message.ID, "error", err)
	}
}

func (c *Connector) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	notice := ""
	if query.Message != nil && query.Message.Chat != nil {
		chatID := query.Message.Chat.ID
		output, err := c.gateway.HandleCallback(ctx, gateway.CallbackInput{ChatID: chatID, Data: query.Data})
		if err != nil {
			c.logger.Error("callback failed", "chat_id", chatID, "error", err)
		}
		notice = output.Notice
		if output.Changed {
			edit := tgbotapi.NewEditMessageReplyMarkup(chatID, query.Message.MessageID, inlineKeyboard(output.Keyboard))
			if _, err := c.bot.Request(edit); err != nil {
				c.logger.Warn("persona menu refresh failed", "chat_id", chatID, "error", err)
			}
		}
	}
	if _, err := c.bot.Request(tgbotapi.NewCallback(query.ID, notice)); err != nil {
		c.logger.Warn("callback answer failed", "error", err)
	}
}

func (c *Connector) sendCommandReply(chatID int64, output gateway.MessageOutput) {
	if output.Reply == "" {
		return
	}
	message := tgbotapi.NewMessage(chatID, output.Reply)
	if output.Markdown {
		message.ParseMode = tgbotapi.ModeMarkdown
	}
	if len(output.Keyboard) > 0 {
		message.ReplyMarkup = inlineKeyboard(output.Keyboard)
	}
	if _, err := c.send(message); err != nil {
		c.logger.Error("command reply failed", "chat_id", chatID, "error", err)
	}
}

func inlineKeyboard(keyboard gateway.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// toChatMessage flattens a Bot API message. A caption stands in for the text
// of media messages.
func toChatMessage(message *tgbotapi.Message) chat.Message {
	out := chat.Message{
		ID:   message.MessageID,
		Text: message.Text,
	}
	if out.Text == "" {
		out.Text = message.Caption
	}
	if message.Chat != nil {
		out.ChatID = message.Chat.ID
		out.ChatType = message.Chat.Type
		out.ChatTitle = message.Chat.Title
	}
	if message.From != nil {
		out.FromID = message.From.ID
		out.FromFirstName = message.From.FirstName
		out.FromUsername = message.From.UserName
	}
	for _, size := range message.Photo {
		out.Photo = append(out.Photo, chat.Photo{FileID: size.FileID, FileSize: size.FileSize})
	}
	if reply := message.ReplyToMessage; reply != nil {
		out.ReplyToID = reply.MessageID
		if reply.From != nil {
			out.ReplyToFromID = reply.From.ID
		}
	}
	if forward := message.ForwardFromChat; forward != nil {
		out.ForwardFromChatType = forward.Type
		out.ForwardFromTitle = forward.Title
	}
	return out
}
