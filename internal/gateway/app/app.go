package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"chatwire/internal/gateway/config"
	"chatwire/internal/gateway/handler"
	"chatwire/internal/gateway/server"
	"chatwire/internal/gateway/service/assistant"
	"chatwire/internal/gateway/service/conversation"
	"chatwire/internal/types"
)

type App struct {
	server *server.Server
	stores *gatewayStores
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Dependencies
	stores := initStores(cfg)
	responder := assistant.New(context.Background(), cfg.Assistant)
	hub := conversation.NewHub(stores.threads, stores.files, responder, cfg.Features, cfg.Name)
	registerActions(hub)
	if cfg.Env == "local" {
		hub.Observe(func(sessionID, event string) {
			log.Printf("conversation: %s <- %s", sessionID, event)
		})
	}

	// Routing & Server
	h := handler.New(cfg, hub, stores.threads, stores.files, responder)
	mux := server.NewMux(h, cfg.AuthToken, cfg.Origins...)
	srv := server.New(cfg.Port, mux)

	return &App{
		server: srv,
		stores: stores,
	}, nil
}

// registerActions installs the demo action callbacks.
func registerActions(hub *conversation.Hub) {
	hub.RegisterAction("echo", func(_ context.Context, _ *conversation.Session, a types.Action) (string, error) {
		raw, err := json.Marshal(a.Payload)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	})
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	defer a.stores.Close()
	return a.server.Shutdown(ctx)
}
