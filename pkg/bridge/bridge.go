// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/xmpp-ai-bridge/pkg/access"
	"github.com/aiku/xmpp-ai-bridge/pkg/chatapi"
	"github.com/aiku/xmpp-ai-bridge/pkg/history"
	"github.com/aiku/xmpp-ai-bridge/pkg/relay"
	"github.com/aiku/xmpp-ai-bridge/pkg/xmppconn"
)

// Bridge is the assembled daemon: one XMPP connection multiplexed
// against one completion backend.
type Bridge struct {
	log        zerolog.Logger
	engine     *relay.Engine
	supervisor *xmppconn.Supervisor
}

// New wires all components from the validated configuration.
func New(cfg *Config, log zerolog.Logger) (*Bridge, error) {
	allow, err := access.NewList(cfg.Access.AllowedUsers)
	if err != nil {
		return nil, fmt.Errorf("invalid allow-list: %w", err)
	}

	// One tokenizer instance for the whole process; its tables are
	// expensive and every conversation shares them.
	tokenizer := history.NewTokenizer(cfg.API.Model)

	backend := chatapi.NewClient(chatapi.Options{
		Provider:        chatapi.Provider(cfg.API.Provider),
		BaseURL:         cfg.API.URL,
		APIKey:          cfg.API.Key,
		APIVersion:      cfg.API.APIVersion,
		Model:           cfg.API.Model,
		ReasoningEffort: cfg.API.ReasoningEffort,
		ReasoningBudget: cfg.API.ReasoningBudget,
		Verbosity:       cfg.API.Verbosity,
		HTTPTimeout:     cfg.API.HTTPTimeout.Std(),
	}, log)

	transport := xmppconn.NewTransport(xmppconn.TransportConfig{
		JID:      cfg.XMPP.JID,
		Password: cfg.XMPP.Password,
		Server:   cfg.XMPP.Server,
	}, log)
	supervisor := xmppconn.NewSupervisor(transport, cfg.XMPP.PresenceInterval.Std(), log)

	engine := relay.NewEngine(relay.Config{
		SystemMessage:    cfg.History.SystemMessage,
		MaxHistoryTokens: cfg.History.MaxTokens,
		IdleTimeout:      cfg.History.IdleTimeout.Std(),
	}, allow, backend, supervisor, tokenizer, log)
	supervisor.OnEvent(engine.HandleEvent)

	return &Bridge{
		log:        log.With().Str("component", "bridge").Logger(),
		engine:     engine,
		supervisor: supervisor,
	}, nil
}

// Run blocks until ctx is cancelled. The supervisor's reconnect loop
// is the daemon's lifetime; the engine's janitor runs alongside it.
func (b *Bridge) Run(ctx context.Context) error {
	go func() {
		_ = b.engine.Run(ctx)
	}()
	b.log.Info().Msg("Bridge starting")
	err := b.supervisor.Run(ctx)
	b.log.Info().Msg("Bridge stopped")
	return err
}
