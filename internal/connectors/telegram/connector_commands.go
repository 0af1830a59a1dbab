package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// syncCommands publishes every registered command and alias to the chat menu.
func (c *Connector) syncCommands() error {
	commands := []tgbotapi.BotCommand{}
	seen := map[string]bool{}
	for _, command := range c.gateway.Commands() {
		description := telegramCommandDescription(command.Description)
		for _, raw := range append([]string{command.Name}, command.Aliases...) {
			name := telegramCommandName(raw)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			commands = append(commands, tgbotapi.BotCommand{Command: name, Description: description})
		}
	}
	if len(commands) == 0 {
		return nil
	}
	if _, err := c.bot.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return fmt.Errorf("set my commands: %w", err)
	}
	return nil
}

func telegramCommandName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return ""
	}
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = telegramCommandSanitizer.ReplaceAllString(normalized, "")
	normalized = strings.Trim(normalized, "_")
	if len(normalized) > 32 {
		normalized = normalized[:32]
	}
	return strings.Trim(normalized, "_")
}

func telegramCommandDescription(description string) string {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return "Mind Bridge command"
	}
	runes := []rune(trimmed)
	if len(runes) > 256 {
		return strings.TrimSpace(string(runes[:256]))
	}
	return trimmed
}
