package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxDownloadBytes = 2 << 20

// SendText posts a Markdown message, threaded under replyTo when it is set.
// The original message may already be gone, in which case the reply is posted
// unthreaded.
func (c *Connector) SendText(ctx context.Context, chatID int64, text string, replyTo int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	message := tgbotapi.NewMessage(chatID, text)
	message.ParseMode = tgbotapi.ModeMarkdown
	if replyTo > 0 {
		message.ReplyToMessageID = replyTo
		message.AllowSendingWithoutReply = true
	}
	sent, err := c.send(message)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Connector) SendTyping(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// FetchFile downloads a file by its Bot API file id.
func (c *Connector) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: strings.TrimSpace(fileID)})
	if err != nil {
		return nil, fmt.Errorf("lookup telegram file: %w", err)
	}
	if strings.TrimSpace(file.FilePath) == "" {
		return nil, fmt.Errorf("telegram file path missing")
	}
	url := fmt.Sprintf(c.fileEndpoint, c.bot.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		message, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("telegram file download failed: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(message)))
	}
	return ioReadAllLimited(res.Body, maxDownloadBytes)
}

// send posts message, retrying once without formatting when the Markdown
// does not parse.
func (c *Connector) send(message tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	sent, err := c.bot.Send(message)
	if err != nil && message.ParseMode != "" && isEntityParseError(err) {
		c.logger.Warn("markdown rejected, resending as plain text", "chat_id", message.ChatID)
		message.ParseMode = ""
		sent, err = c.bot.Send(message)
	}
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("send message: %w", err)
	}
	return sent, nil
}
