package gateway

import (
	"strings"
	"unicode"
)

const (
	CommandPing        = "ping"
	CommandHelp        = "help"
	CommandPromptStart = "prompt_start"
	CommandContext     = "context"
	CommandMaxTokens   = "max_tokens"
	CommandTemperature = "temp"
	CommandPersona     = "mood"
)

type SlashCommand struct {
	Name        string
	Aliases     []string
	Description string

	// Configures marks commands that change session settings; they are not
	// registered when a single prompt is enforced.
	Configures bool
}

func allCommands() []SlashCommand {
	return []SlashCommand{
		{
			Name:        CommandPing,
			Description: "проверить, что бот на связи",
		},
		{
			Name:        CommandHelp,
			Aliases:     []string{"start"},
			Description: "показать список команд",
		},
		{
			Name:        CommandPromptStart,
			Aliases:     []string{"ps"},
			Description: "Установка промпта для генерации сообщения",
			Configures:  true,
		},
		{
			Name:        CommandContext,
			Aliases:     []string{"rc"},
			Description: "Включение/выключение сохранения контекста",
			Configures:  true,
		},
		{
			Name:        CommandMaxTokens,
			Aliases:     []string{"tokens", "mt"},
			Description: "Установка максимального количества токенов для генерации сообщения (1-2000)",
			Configures:  true,
		},
		{
			Name:        CommandTemperature,
			Aliases:     []string{"temperature", "t"},
			Description: "Установка температуры для генерации сообщения, cм. документацию OpenAI (0-1)",
			Configures:  true,
		},
		{
			Name:        CommandPersona,
			Aliases:     []string{"pers", "persona"},
			Description: "Выбор персоны",
			Configures:  true,
		},
	}
}

// SlashCommands lists the commands available under the current mode.
func SlashCommands(singlePrompt bool) []SlashCommand {
	commands := allCommands()
	out := make([]SlashCommand, 0, len(commands))
	for _, command := range commands {
		if singlePrompt && command.Configures {
			continue
		}
		out = append(out, command)
	}
	return out
}

// NormalizeCommandName lowercases a command and drops a "@botname" suffix.
func NormalizeCommandName(command string) string {
	normalized := strings.ToLower(strings.TrimSpace(command))
	normalized = strings.TrimPrefix(normalized, "/")
	if at := strings.Index(normalized, "@"); at >= 0 {
		normalized = normalized[:at]
	}
	return normalized
}

func resolveCommand(commands []SlashCommand, name string) (SlashCommand, bool) {
	name = NormalizeCommandName(name)
	for _, command := range commands {
		if command.Name == name {
			return command, true
		}
		for _, alias := range command.Aliases {
			if alias == name {
				return command, true
			}
		}
	}
	return SlashCommand{}, false
}

// ParseCommand splits "/name@bot args" into name and trimmed args. ok is false
// when text is not a command.
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest := text, ""
	if cut := strings.IndexFunc(text, unicode.IsSpace); cut >= 0 {
		head, rest = text[:cut], text[cut:]
	}
	name = NormalizeCommandName(head)
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(rest), true
}
