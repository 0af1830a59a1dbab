package config

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
)

var (
	ErrMissingBotToken = errors.New("BOT_TOKEN is required")
	ErrMissingAPIKey   = errors.New("OPENAI_API_KEY is required")
)

var defaultCallsigns = []string{"разум", "mind"}

type Config struct {
	BotToken             string
	BotName              string
	Callsigns            []string
	RandomReplyChance    float64
	SinglePrompt         string
	SingleTemperature    float64
	HistoryTokenLimit    int
	ReplyTreeRoles       string
	TelegramAPI          string
	TelegramPoll         int
	MaxConcurrentUpdates int
	CommandSyncEnabled   bool

	OpenAIAPIKey        string
	OpenAIOrgID         string
	OpenAIProjectID     string
	OpenAIBaseURL       string
	OpenAITimeoutSec    int
	Model               string
	ModelIsReasoning    bool
	ReasoningEffort     string
	ModelSupportsImages bool

	MongoURL        string
	MongoDatabase   string
	DBPath          string
	PersonasFile    string
	PersonaCacheSec int

	Domain               string
	Port                 string
	HealthAddr           string
	HeartbeatIntervalSec int
	HeartbeatStaleSec    int
	ChatlogDir           string
	LogLevel             string
}

func FromEnv() Config {
	return Config{
		BotToken:             stringOrDefault("BOT_TOKEN", ""),
		BotName:              stringOrDefault("BOT_NAME", "Разум"),
		Callsigns:            callsignsOrDefault("CALLSIGN", defaultCallsigns),
		RandomReplyChance:    clamp(floatOrDefault("RANDOM_REPLY_CHANCE", 0.03), 0, 1),
		SinglePrompt:         stringOrDefault("SINGLE_PROMPT", ""),
		SingleTemperature:    temperatureOrDefault("TEMPERATURE", 0.5),
		HistoryTokenLimit:    intOrDefault("HISTORY_LIMIT_TOKEN", 300),
		ReplyTreeRoles:       choiceOrDefault("REPLY_TREE_ROLES", "user", "user", "author"),
		TelegramAPI:          stringOrDefault("TELEGRAM_API_ENDPOINT", ""),
		TelegramPoll:         intOrDefault("TELEGRAM_POLL_SECONDS", 25),
		MaxConcurrentUpdates: intOrDefault("MAX_CONCURRENT_UPDATES", 16),
		CommandSyncEnabled:   boolOrDefault("COMMAND_SYNC_ENABLED", true),

		OpenAIAPIKey:        stringOrDefault("OPENAI_API_KEY", ""),
		OpenAIOrgID:         stringOrDefault("OPENAI_ORG_ID", ""),
		OpenAIProjectID:     stringOrDefault("OPENAI_PROJECT_ID", ""),
		OpenAIBaseURL:       stringOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeoutSec:    intOrDefault("OPENAI_TIMEOUT_SECONDS", 120),
		Model:               stringOrDefault("MODEL", "gpt-3.5-turbo"),
		ModelIsReasoning:    boolOrDefault("MODEL_IS_REASONING", false),
		ReasoningEffort:     choiceOrDefault("REASONING_EFFORT", "medium", "low", "medium", "high"),
		ModelSupportsImages: boolOrDefault("MODEL_SUPPORT_IMAGE", false),

		MongoURL:        stringOrDefault("MONGO_URL", ""),
		MongoDatabase:   stringOrDefault("MONGO_DATABASE", "bot"),
		DBPath:          stringOrDefault("DB_PATH", "./data/mind-bridge.sqlite"),
		PersonasFile:    stringOrDefault("PERSONAS_FILE", ""),
		PersonaCacheSec: intOrDefault("PERSONA_CACHE_SECONDS", 60),

		Domain:               strings.Trim(stringOrDefault("DOMAIN", ""), "/"),
		Port:                 stringOrDefault("PORT", ""),
		HealthAddr:           stringOrDefault("HEALTH_ADDR", ""),
		HeartbeatIntervalSec: intOrDefault("HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:    intOrDefault("HEARTBEAT_STALE_SECONDS", 120),
		ChatlogDir:           stringOrDefault("CHATLOG_DIR", ""),
		LogLevel:             choiceOrDefault("LOG_LEVEL", "info", "debug", "info", "warn", "error"),
	}
}

// Validate reports the settings the process cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return ErrMissingBotToken
	}
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// WebhookMode is on when both DOMAIN and PORT are set.
func (c Config) WebhookMode() bool {
	return c.Domain != "" && c.Port != ""
}

func (c Config) WebhookURL() string {
	if !c.WebhookMode() {
		return ""
	}
	return "https://" + c.Domain + "/" + c.BotToken
}

// HTTPAddr is the listen address of the HTTP server, empty when none runs.
func (c Config) HTTPAddr() string {
	if c.WebhookMode() {
		return ":" + strings.TrimPrefix(c.Port, ":")
	}
	return c.HealthAddr
}

func (c Config) SinglePromptEnabled() bool {
	return c.SinglePrompt != ""
}

func (c Config) StoreBackend() string {
	if c.MongoURL != "" {
		return "mongo"
	}
	return "sqlite"
}

func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(parsed) {
		return fallback
	}
	return parsed
}

func choiceOrDefault(name, fallback string, allowed ...string) string {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	for _, candidate := range allowed {
		if value == candidate {
			return value
		}
	}
	return fallback
}

// temperatureOrDefault keeps the value inside (0,1]. Non-positive input falls
// back since the open bound has no nearest value.
func temperatureOrDefault(name string, fallback float64) float64 {
	value := floatOrDefault(name, fallback)
	if value <= 0 {
		return fallback
	}
	return math.Min(value, 1)
}

func callsignsOrDefault(name string, fallback []string) []string {
	out := []string{}
	for _, item := range strings.Split(os.Getenv(name), ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}

func clamp(value, low, high float64) float64 {
	return math.Max(low, math.Min(high, value))
}
