// Copyright 2024-2026 Aiku AI

package xmppconn

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
	"gosrc.io/xmpp"
	"gosrc.io/xmpp/stanza"
)

// Transport abstracts the wire protocol so the supervisor's state
// machine can be driven by a fake in tests. Exactly one implementation
// talks to a real server.
type Transport interface {
	// Connect dials, authenticates, and binds. On success the transport
	// starts delivering normalized events on Events until the stream
	// breaks, which it reports as an EventDisconnected.
	Connect(ctx context.Context) error
	// Events returns the inbound event channel. The channel is stable
	// across reconnects.
	Events() <-chan Event
	// Send encodes and writes one outbound action.
	Send(a Action) error
	// Close tears down the current connection, if any.
	Close() error
}

// TransportConfig holds the account credentials for the XMPP transport.
type TransportConfig struct {
	// JID is the bridge's own bare JID.
	JID string
	// Password authenticates the JID.
	Password string
	// Server is an optional host:port override; empty means DNS
	// resolution from the JID's domain.
	Server string
}

// xmppTransport implements Transport on top of gosrc.io/xmpp.
type xmppTransport struct {
	cfg    TransportConfig
	log    zerolog.Logger
	events chan Event

	mu     sync.Mutex
	client *xmpp.Client
}

// eventBuffer sizes the inbound event channel. The relay engine drains
// promptly; this only absorbs short bursts.
const eventBuffer = 256

// NewTransport builds the real XMPP transport.
func NewTransport(cfg TransportConfig, log zerolog.Logger) Transport {
	return &xmppTransport{
		cfg:    cfg,
		log:    log.With().Str("component", "xmpp_transport").Logger(),
		events: make(chan Event, eventBuffer),
	}
}

func (t *xmppTransport) Connect(ctx context.Context) error {
	router := xmpp.NewRouter()
	router.HandleFunc("message", t.handleMessage)
	router.HandleFunc("presence", t.handlePresence)

	address := t.cfg.Server
	domain := ""
	if at := strings.IndexByte(t.cfg.JID, '@'); at >= 0 {
		domain = t.cfg.JID[at+1:]
	}
	config := &xmpp.Config{
		TransportConfiguration: xmpp.TransportConfiguration{
			Address: address,
			Domain:  domain,
		},
		Jid:        t.cfg.JID,
		Credential: xmpp.Password(t.cfg.Password),
	}

	client, err := xmpp.NewClient(config, router, t.handleStreamError)
	if err != nil {
		return fmt.Errorf("failed to create XMPP client: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	return nil
}

func (t *xmppTransport) Events() <-chan Event {
	return t.events
}

// handleStreamError is invoked by the client when the stream breaks.
func (t *xmppTransport) handleStreamError(err error) {
	t.emit(Event{Type: EventDisconnected, Err: err})
}

func (t *xmppTransport) handleMessage(s xmpp.Sender, p stanza.Packet) {
	msg, ok := p.(stanza.Message)
	if !ok {
		return
	}
	// Only one-to-one chat messages carry requests. Bodyless chat
	// messages are chat-state notifications and are not requests.
	if msg.Type != stanza.MessageTypeChat && msg.Type != "" {
		t.log.Trace().Str("type", string(msg.Type)).Msg("Ignoring non-chat message")
		return
	}
	if msg.Body == "" {
		return
	}
	from, err := stanza.NewJid(msg.From)
	if err != nil {
		t.log.Trace().Str("from", msg.From).Msg("Message with unparseable sender")
		return
	}
	wantsReceipt := msg.Get(&stanza.ReceiptRequest{}) || msg.Get(&stanza.Markable{})
	t.emit(Event{
		Type:         EventMessage,
		From:         from.Bare(),
		Body:         msg.Body,
		MessageID:    msg.Id,
		WantsReceipt: wantsReceipt,
	})
}

func (t *xmppTransport) handlePresence(s xmpp.Sender, p stanza.Packet) {
	pres, ok := p.(stanza.Presence)
	if !ok {
		return
	}
	from, err := stanza.NewJid(pres.From)
	if err != nil {
		return
	}
	t.emit(Event{Type: EventPresence, From: from.Bare()})
}

// emit pushes an event without blocking the transport's read loop. A
// full channel means the relay engine is stuck; dropping here is the
// lesser evil versus deadlocking the stream reader.
func (t *xmppTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Error().Str("event", ev.Type.String()).Msg("Event channel clogged, dropping event")
	}
}

func (t *xmppTransport) Send(a Action) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return fmt.Errorf("not connected")
	}
	return client.Send(encodeAction(a))
}

// encodeAction turns a normalized action into a stanza.
func encodeAction(a Action) stanza.Packet {
	switch act := a.(type) {
	case ChatMessage:
		msg := stanza.Message{
			Attrs: stanza.Attrs{
				To:   act.To,
				Id:   random.String(12),
				Type: stanza.MessageTypeChat,
			},
			Body: act.Body,
		}
		return msg
	case Composing:
		return stanza.Message{
			Attrs:      stanza.Attrs{To: act.To, Type: stanza.MessageTypeChat},
			Extensions: []stanza.MsgExtension{stanza.StateComposing{}},
		}
	case Paused:
		return stanza.Message{
			Attrs:      stanza.Attrs{To: act.To, Type: stanza.MessageTypeChat},
			Extensions: []stanza.MsgExtension{stanza.StatePaused{}},
		}
	case Displayed:
		return stanza.Message{
			Attrs:      stanza.Attrs{To: act.To, Type: stanza.MessageTypeChat},
			Extensions: []stanza.MsgExtension{stanza.MarkDisplayed{ID: act.MessageID}},
		}
	case Availability:
		pres := stanza.NewPresence(stanza.Attrs{})
		pres.Show = stanza.PresenceShowChat
		return pres
	default:
		// Exhaustive over the Action implementations above.
		panic(fmt.Sprintf("unknown action type %T", a))
	}
}

func (t *xmppTransport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Disconnect()
}
