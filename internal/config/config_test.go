package config

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
)

var configEnv = []string{
	"BOT_TOKEN", "BOT_NAME", "CALLSIGN", "RANDOM_REPLY_CHANCE", "SINGLE_PROMPT", "TEMPERATURE",
	"HISTORY_LIMIT_TOKEN", "REPLY_TREE_ROLES", "TELEGRAM_API_ENDPOINT", "TELEGRAM_POLL_SECONDS",
	"MAX_CONCURRENT_UPDATES", "COMMAND_SYNC_ENABLED", "OPENAI_API_KEY", "OPENAI_ORG_ID",
	"OPENAI_PROJECT_ID", "OPENAI_BASE_URL", "OPENAI_TIMEOUT_SECONDS", "MODEL", "MODEL_IS_REASONING",
	"REASONING_EFFORT", "MODEL_SUPPORT_IMAGE", "MONGO_URL", "MONGO_DATABASE", "DB_PATH",
	"PERSONAS_FILE", "PERSONA_CACHE_SECONDS", "DOMAIN", "PORT", "HEALTH_ADDR",
	"HEARTBEAT_INTERVAL_SECONDS", "HEARTBEAT_STALE_SECONDS", "CHATLOG_DIR", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range configEnv {
		t.Setenv(name, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()

	if cfg.BotName != "Разум" || strings.Join(cfg.Callsigns, ",") != "разум,mind" {
		t.Fatalf("unexpected bot identity defaults: %q %v", cfg.BotName, cfg.Callsigns)
	}
	if cfg.RandomReplyChance != 0.03 || cfg.SingleTemperature != 0.5 || cfg.HistoryTokenLimit != 300 {
		t.Fatalf("unexpected reply defaults: %#v", cfg)
	}
	if cfg.Model != "gpt-3.5-turbo" || cfg.ReasoningEffort != "medium" || cfg.ModelIsReasoning || cfg.ModelSupportsImages {
		t.Fatalf("unexpected model defaults: %#v", cfg)
	}
	if cfg.ReplyTreeRoles != "user" || cfg.MaxConcurrentUpdates != 16 || cfg.TelegramPoll != 25 {
		t.Fatalf("unexpected transport defaults: %#v", cfg)
	}
	if cfg.StoreBackend() != "sqlite" || cfg.DBPath != "./data/mind-bridge.sqlite" || cfg.MongoDatabase != "bot" {
		t.Fatalf("unexpected store defaults: %#v", cfg)
	}
	if cfg.WebhookMode() || cfg.HTTPAddr() != "" || cfg.SinglePromptEnabled() {
		t.Fatalf("expected long-poll mode without http server: %#v", cfg)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Fatalf("unexpected log level %v", cfg.SlogLevel())
	}
}

func TestFromEnvClampsValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("RANDOM_REPLY_CHANCE", "1.7")
	t.Setenv("TEMPERATURE", "3")
	t.Setenv("HISTORY_LIMIT_TOKEN", "0")
	t.Setenv("REASONING_EFFORT", "extreme")
	t.Setenv("CALLSIGN", " Bot, ,HEY ")
	t.Setenv("REPLY_TREE_ROLES", "Author")
	t.Setenv("MODEL_IS_REASONING", "1")
	t.Setenv("LOG_LEVEL", "DEBUG")
	cfg := FromEnv()

	if cfg.RandomReplyChance != 1 || cfg.SingleTemperature != 1 || cfg.HistoryTokenLimit != 300 {
		t.Fatalf("unexpected clamped values: %#v", cfg)
	}
	if cfg.ReasoningEffort != "medium" || !cfg.ModelIsReasoning {
		t.Fatalf("unexpected reasoning settings: %#v", cfg)
	}
	if strings.Join(cfg.Callsigns, ",") != "bot,hey" || cfg.ReplyTreeRoles != "author" {
		t.Fatalf("unexpected lists: %v %q", cfg.Callsigns, cfg.ReplyTreeRoles)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("unexpected log level %v", cfg.SlogLevel())
	}

	t.Setenv("RANDOM_REPLY_CHANCE", "-1")
	t.Setenv("TEMPERATURE", "0")
	cfg = FromEnv()
	if cfg.RandomReplyChance != 0 || cfg.SingleTemperature != 0.5 {
		t.Fatalf("unexpected lower bounds: %v %v", cfg.RandomReplyChance, cfg.SingleTemperature)
	}
}

func TestWebhookMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("DOMAIN", "bot.example.com/")
	t.Setenv("PORT", "8443")
	t.Setenv("HEALTH_ADDR", ":9000")
	cfg := FromEnv()

	if !cfg.WebhookMode() || cfg.WebhookURL() != "https://bot.example.com/123:abc" {
		t.Fatalf("unexpected webhook url %q", cfg.WebhookURL())
	}
	if cfg.HTTPAddr() != ":8443" {
		t.Fatalf("expected webhook port to win, got %q", cfg.HTTPAddr())
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	if err := FromEnv().Validate(); !errors.Is(err, ErrMissingBotToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	t.Setenv("BOT_TOKEN", "123:abc")
	if err := FromEnv().Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing api key, got %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MONGO_URL", "mongodb://localhost:27017")
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreBackend() != "mongo" {
		t.Fatalf("expected mongo backend, got %q", cfg.StoreBackend())
	}
}
