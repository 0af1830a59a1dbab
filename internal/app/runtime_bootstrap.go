package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwizi/mind-bridge/internal/config"
	"github.com/dwizi/mind-bridge/internal/connectors/telegram"
	"github.com/dwizi/mind-bridge/internal/conversation"
	"github.com/dwizi/mind-bridge/internal/gateway"
	"github.com/dwizi/mind-bridge/internal/heartbeat"
	"github.com/dwizi/mind-bridge/internal/history"
	"github.com/dwizi/mind-bridge/internal/httpapi"
	"github.com/dwizi/mind-bridge/internal/llm"
	"github.com/dwizi/mind-bridge/internal/llm/openai"
	"github.com/dwizi/mind-bridge/internal/memorylog"
	"github.com/dwizi/mind-bridge/internal/prompt"
	"github.com/dwizi/mind-bridge/internal/session"
	"github.com/dwizi/mind-bridge/internal/tokenizer"
)

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := SeedPersonas(ctx, backend, cfg, logger.With("component", "personas")); err != nil {
		backend.Close()
		return nil, err
	}

	registry := heartbeat.NewRegistry()
	registry.Starting("runtime", "booting")
	registry.Beat(heartbeat.ComponentStore, cfg.StoreBackend()+" store ready")

	counter, err := tokenizer.New(cfg.Model)
	if err != nil {
		logger.Warn("tokenizer unavailable, using byte estimate", "model", cfg.Model, "error", err)
	}
	profile := modelProfile(cfg)
	completer := openai.New(openai.Config{
		APIKey:    cfg.OpenAIAPIKey,
		OrgID:     cfg.OpenAIOrgID,
		ProjectID: cfg.OpenAIProjectID,
		BaseURL:   cfg.OpenAIBaseURL,
		Timeout:   time.Duration(cfg.OpenAITimeoutSec) * time.Second,
		Profile:   profile,
	}, logger.With("component", "llm-openai"))

	connector, err := telegram.New(
		cfg.BotToken,
		cfg.TelegramAPI,
		cfg.TelegramPoll,
		logger.With("component", "telegram"),
		telegram.WithCommandSync(cfg.CommandSyncEnabled),
		telegram.WithMaxConcurrent(cfg.MaxConcurrentUpdates),
		telegram.WithWebhook(cfg.WebhookURL()),
		telegram.WithBeatInterval(componentBeatInterval(cfg)),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}
	connector.SetHeartbeatReporter(registry)

	treeRoles := history.ParseTreeRoles(cfg.ReplyTreeRoles)
	locks := session.NewLocks()
	catalog := session.NewCachedCatalog(backend, time.Duration(cfg.PersonaCacheSec)*time.Second)
	compositor := prompt.NewCompositor(prompt.Config{
		TokenLimit:   cfg.HistoryTokenLimit,
		SinglePrompt: cfg.SinglePrompt,
		Profile:      profile,
		TreeRoles:    treeRoles,
	}, counter, connector, logger.With("component", "compositor"))
	coordinator := conversation.NewCoordinator(conversation.Config{
		SelfID:            connector.SelfID(),
		BotName:           cfg.BotName,
		Callsigns:         cfg.Callsigns,
		RandomChance:      cfg.RandomReplyChance,
		SinglePrompt:      cfg.SinglePrompt,
		SingleTemperature: cfg.SingleTemperature,
		TreeRoles:         treeRoles,
	}, conversation.Dependencies{
		Sessions:   backend,
		Compositor: compositor,
		Completer:  completer,
		Messenger:  connector,
		Transcript: memorylog.New(cfg.ChatlogDir),
		Locks:      locks,
		Logger:     logger.With("component", "coordinator"),
	})
	commandGateway := gateway.New(gateway.Config{
		BotName:      cfg.BotName,
		SinglePrompt: cfg.SinglePromptEnabled(),
	}, backend, catalog, logger.With("component", "gateway"), gateway.WithLocks(locks))
	connector.Bind(commandGateway, coordinator)

	runtime := &Runtime{
		cfg:       cfg,
		logger:    logger,
		store:     backend,
		connector: connector,
		heartbeat: registry,
		heartbeatMonitor: heartbeat.NewMonitor(registry, heartbeat.MonitorConfig{
			Interval:   time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
			StaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
			Logger:     logger.With("component", "heartbeat"),
		}),
	}
	if addr := cfg.HTTPAddr(); addr != "" {
		runtime.httpServer = newHTTPServer(addr, httpapi.Dependencies{
			Store:               backend,
			Heartbeat:           registry,
			HeartbeatStaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
			Info: httpapi.Info{
				Mode:        runMode(cfg),
				BotUsername: connector.Username(),
				Model:       profile.Name,
				Store:       cfg.StoreBackend(),
			},
			WebhookPath: webhookPath(cfg),
			Webhook:     connector.WebhookHandler(),
			Logger:      logger.With("component", "httpapi"),
		})
	} else {
		registry.Disabled(heartbeat.ComponentHTTP, "no listen address")
	}
	return runtime, nil
}

func newHTTPServer(addr string, deps httpapi.Dependencies) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func modelProfile(cfg config.Config) llm.ModelProfile {
	kind := llm.ModelChat
	if cfg.ModelIsReasoning {
		kind = llm.ModelReasoning
	}
	return llm.ModelProfile{
		Name:            cfg.Model,
		Kind:            kind,
		SupportsImages:  cfg.ModelSupportsImages,
		ReasoningEffort: cfg.ReasoningEffort,
	}
}

// componentBeatInterval keeps long-lived components beating well inside the stale
// window.
func componentBeatInterval(cfg config.Config) time.Duration {
	staleAfter := time.Duration(cfg.HeartbeatStaleSec) * time.Second
	if interval := staleAfter / 3; interval > 0 && interval < defaultBeatInterval {
		return interval
	}
	return defaultBeatInterval
}

func runMode(cfg config.Config) string {
	if cfg.WebhookMode() {
		return "webhook"
	}
	return "polling"
}

// webhookPath is the route Telegram posts to. Polling mode mounts none.
func webhookPath(cfg config.Config) string {
	if !cfg.WebhookMode() {
		return ""
	}
	return cfg.BotToken
}
