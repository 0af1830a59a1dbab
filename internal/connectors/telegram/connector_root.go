package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dwizi/mind-bridge/internal/chat"
	"github.com/dwizi/mind-bridge/internal/gateway"
	"github.com/dwizi/mind-bridge/internal/heartbeat"
)

const (
	componentName        = heartbeat.ComponentTelegram
	defaultPollSeconds   = 25
	defaultMaxConcurrent = 16
	defaultBeatInterval  = 20 * time.Second
)

type CommandGateway interface {
	Commands() []gateway.SlashCommand
	HandleMessage(ctx context.Context, input gateway.MessageInput) (gateway.MessageOutput, error)
	HandleCallback(ctx context.Context, input gateway.CallbackInput) (gateway.CallbackOutput, error)
}

type Conversation interface {
	HandleMessage(ctx context.Context, message chat.Message) error
	HandleEdit(ctx context.Context, message chat.Message) error
}

type Connector struct {
	bot           *tgbotapi.BotAPI
	fileEndpoint  string
	pollSeconds   int
	maxConcurrent int
	beatInterval  time.Duration
	webhookURL    string
	commandSync   bool
	gateway       CommandGateway
	conversation  Conversation
	httpClient    *http.Client
	logger        *slog.Logger
	offset        int
	updates       chan tgbotapi.Update
	reporter      heartbeat.Reporter
}

type Option func(*Connector)

func WithCommandSync(enabled bool) Option {
	return func(connector *Connector) {
		connector.commandSync = enabled
	}
}

// WithWebhook switches the connector from long polling to webhook delivery.
// Updates then arrive through WebhookHandler.
func WithWebhook(url string) Option {
	return func(connector *Connector) {
		connector.webhookURL = strings.TrimSpace(url)
	}
}

func WithMaxConcurrent(limit int) Option {
	return func(connector *Connector) {
		if limit > 0 {
			connector.maxConcurrent = limit
		}
	}
}

// WithBeatInterval sets how often a webhook-mode connector reports itself
// alive while no updates arrive.
func WithBeatInterval(interval time.Duration) Option {
	return func(connector *Connector) {
		if interval > 0 {
			connector.beatInterval = interval
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(connector *Connector) {
		if client != nil {
			connector.httpClient = client
		}
	}
}

// New dials the Bot API and loads the bot identity. apiEndpoint is a
// "<base>/bot%s/%s" template; empty selects the public Bot API.
func New(token, apiEndpoint string, pollSeconds int, logger *slog.Logger, opts ...Option) (*Connector, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	apiEndpoint = strings.TrimSpace(apiEndpoint)
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	if pollSeconds < 1 {
		pollSeconds = defaultPollSeconds
	}
	if logger == nil {
		logger = slog.Default()
	}
	connector := &Connector{
		fileEndpoint:  fileEndpointFor(apiEndpoint),
		pollSeconds:   pollSeconds,
		maxConcurrent: defaultMaxConcurrent,
		beatInterval:  defaultBeatInterval,
		commandSync:   true,
		httpClient: &http.Client{
			Timeout: time.Duration(pollSeconds+10) * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(connector)
		}
	}
	connector.updates = make(chan tgbotapi.Update, connector.maxConcurrent*4)

	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, connector.httpClient)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	connector.bot = bot
	_ = tgbotapi.SetLogger(botLogger{logger: logger})
	logger.Info("telegram bot identity loaded", "username", bot.Self.UserName, "bot_id", bot.Self.ID)
	return connector, nil
}

// Bind attaches the command gateway and the conversation engine. Both are
// built after the connector because they send through it.
func (c *Connector) Bind(commands CommandGateway, conversation Conversation) {
	c.gateway = commands
	c.conversation = conversation
}

func (c *Connector) Name() string {
	return "telegram"
}

func (c *Connector) SelfID() int64 {
	return c.bot.Self.ID
}

func (c *Connector) Username() string {
	return c.bot.Self.UserName
}

func (c *Connector) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	c.reporter = reporter
}

func fileEndpointFor(apiEndpoint string) string {
	if apiEndpoint == tgbotapi.APIEndpoint {
		return tgbotapi.FileEndpoint
	}
	if base, ok := strings.CutSuffix(apiEndpoint, "/bot%s/%s"); ok {
		return base + "/file/bot%s/%s"
	}
	return tgbotapi.FileEndpoint
}

// botLogger routes library diagnostics into slog.
type botLogger struct {
	logger *slog.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Debug("telegram api", "detail", strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug("telegram api", "detail", strings.TrimSpace(fmt.Sprintf(format, v...)))
}
