package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/mind-bridge/internal/heartbeat"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Info is the static runtime description served on /api/v1/info.
type Info struct {
	Mode        string `json:"mode"`
	BotUsername string `json:"bot_username,omitempty"`
	Model       string `json:"model"`
	Store       string `json:"store"`
}

type Dependencies struct {
	Store               Pinger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
	Info                Info

	// WebhookPath is served by Webhook when both are set.
	WebhookPath string
	Webhook     http.Handler
	Logger      *slog.Logger
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	if path := webhookPath(deps.WebhookPath); path != "" && deps.Webhook != nil {
		mux.Handle(path, deps.Webhook)
	}
	return mux
}

func webhookPath(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return ""
	}
	return "/" + path
}
