package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dwizi/mind-bridge/internal/config"
	"github.com/dwizi/mind-bridge/internal/connectors/telegram"
	"github.com/dwizi/mind-bridge/internal/heartbeat"
	"github.com/dwizi/mind-bridge/internal/session"
)

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	store            Backend
	connector        *telegram.Connector
	httpServer       *http.Server
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}

// Backend is the persistent store: sessions plus the persona catalog.
type Backend interface {
	session.Store
	session.Catalog
	session.PersonaWriter
	Ping(ctx context.Context) error
	Close() error
}
