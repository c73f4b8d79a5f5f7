// Copyright 2024-2026 Aiku AI

// Package relay dispatches inbound protocol events to per-peer
// sessions, feeds completions back out through the connection
// supervisor, and enforces the backpressure and serialization policy:
// one in-flight backend request per peer, FIFO queueing of bursts,
// parallelism across peers.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/xmpp-ai-bridge/pkg/access"
	"github.com/aiku/xmpp-ai-bridge/pkg/history"
	"github.com/aiku/xmpp-ai-bridge/pkg/xmppconn"
)

// Backend issues one chat completion call. Implemented by
// chatapi.Client; faked in tests.
type Backend interface {
	Complete(ctx context.Context, snapshot []history.Message) (history.Message, error)
}

// Sender emits outbound protocol actions. Implemented by
// xmppconn.Supervisor; faked in tests.
type Sender interface {
	Send(a xmppconn.Action) error
}

const defaultComposingDelay = time.Second

// Config tunes the relay engine.
type Config struct {
	// SystemMessage is the optional pinned system prompt for every
	// conversation.
	SystemMessage string
	// MaxHistoryTokens is the per-conversation token budget.
	MaxHistoryTokens int
	// ComposingDelay is how long a backend request may run before a
	// composing indicator is shown to the peer.
	ComposingDelay time.Duration
	// IdleTimeout reaps sessions with no activity for this long.
	// Zero retains sessions for the process lifetime.
	IdleTimeout time.Duration
}

// Engine is the top-level orchestrator. It exclusively owns the peer
// JID to session map.
type Engine struct {
	cfg     Config
	allow   *access.List
	backend Backend
	sender  Sender
	tk      history.Tokenizer
	log     zerolog.Logger

	mu           sync.Mutex
	ctx          context.Context
	sessions     map[string]*session
	presenceSent bool
}

// NewEngine builds the relay engine. The tokenizer is shared by every
// conversation the engine creates.
func NewEngine(cfg Config, allow *access.List, backend Backend, sender Sender, tk history.Tokenizer, log zerolog.Logger) *Engine {
	if cfg.ComposingDelay <= 0 {
		cfg.ComposingDelay = defaultComposingDelay
	}
	return &Engine{
		cfg:      cfg,
		allow:    allow,
		backend:  backend,
		sender:   sender,
		tk:       tk,
		log:      log.With().Str("component", "relay").Logger(),
		ctx:      context.Background(),
		sessions: make(map[string]*session),
	}
}

// Run anchors in-flight backend requests to ctx and reaps idle
// sessions until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	if e.cfg.IdleTimeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	interval := e.cfg.IdleTimeout / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.reapIdle(time.Now())
		}
	}
}

// HandleEvent is the supervisor's inbound event callback.
func (e *Engine) HandleEvent(ev xmppconn.Event) {
	switch ev.Type {
	case xmppconn.EventConnected:
		// Presence gets re-announced on the next inbound message of
		// each new connection.
		e.mu.Lock()
		e.presenceSent = false
		e.mu.Unlock()
	case xmppconn.EventMessage:
		e.handleMessage(ev)
	case xmppconn.EventPresence:
		e.log.Trace().Str("jid", ev.From).Msg("Peer presence")
	}
}

func (e *Engine) handleMessage(ev xmppconn.Event) {
	e.mu.Lock()
	sess, ok := e.sessions[ev.From]
	if !ok {
		// Unlisted peers get no reply and no session: silence avoids
		// confirming the bridge's existence.
		if !e.allow.Allowed(ev.From) {
			e.mu.Unlock()
			e.log.Trace().Str("jid", ev.From).Msg("Message from unlisted JID, dropping")
			return
		}
		conv := history.NewConversation(e.tk, e.cfg.MaxHistoryTokens, e.cfg.SystemMessage)
		sess = newSession(e.ctx, ev.From, conv, e.backend, e.sender, e.cfg.ComposingDelay, e.log)
		e.sessions[ev.From] = sess
		e.log.Info().Str("jid", ev.From).Msg("New peer session")
	}
	if !e.presenceSent {
		e.presenceSent = true
		if err := e.sender.Send(xmppconn.Availability{}); err != nil {
			e.log.Warn().Err(err).Msg("Failed to announce presence")
		}
	}
	// Submitting under the engine lock keeps the janitor from reaping
	// the session between lookup and dispatch.
	sess.submit(inbound{body: ev.Body, messageID: ev.MessageID, wantsReceipt: ev.WantsReceipt})
	e.mu.Unlock()

	e.log.Debug().Str("jid", ev.From).Msg("Received request")
}

// reapIdle drops sessions that have been quiet for the idle timeout.
// Sessions with in-flight or queued work are never reaped.
func (e *Engine) reapIdle(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for jid, sess := range e.sessions {
		if sess.idle(now, e.cfg.IdleTimeout) {
			delete(e.sessions, jid)
			e.log.Info().Str("jid", jid).Msg("Reaped idle peer session")
		}
	}
}

// SessionCount returns the number of live peer sessions.
func (e *Engine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
