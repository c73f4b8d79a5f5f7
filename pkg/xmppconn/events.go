// Copyright 2024-2026 Aiku AI

// Package xmppconn owns the single live XMPP connection: it connects,
// authenticates, reconnects with bounded backoff, and translates
// between raw stanzas and the normalized events/actions the relay
// engine works with.
package xmppconn

// EventType identifies a normalized inbound protocol event.
type EventType int

const (
	// EventConnected fires after a successful connect and bind.
	EventConnected EventType = iota
	// EventDisconnected fires when the stream breaks; Err carries the
	// stream error if one was reported.
	EventDisconnected
	// EventMessage is an inbound chat message with a body.
	EventMessage
	// EventPresence is an inbound presence notification.
	EventPresence
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventPresence:
		return "presence"
	default:
		return "unknown"
	}
}

// Event is a normalized inbound protocol event.
type Event struct {
	Type EventType
	// From is the bare JID of the remote peer for message and presence
	// events.
	From string
	// Body is the message text for EventMessage.
	Body string
	// MessageID is the stanza ID of the inbound message, used to
	// acknowledge it with a displayed marker.
	MessageID string
	// WantsReceipt is set when the sender asked for a delivery receipt
	// or chat marker.
	WantsReceipt bool
	// Err is set on EventDisconnected.
	Err error
}

// Action is a normalized outbound protocol action. The supervisor
// encodes actions into stanzas and writes them to the transport; no
// other component touches the wire.
type Action interface {
	action()
}

// ChatMessage sends a plain chat message body to a peer.
type ChatMessage struct {
	To   string
	Body string
}

// Composing signals "currently typing" to a peer.
type Composing struct {
	To string
}

// Paused clears a previously signaled composing state.
type Paused struct {
	To string
}

// Displayed acknowledges a specific received message as shown.
type Displayed struct {
	To        string
	MessageID string
}

// Availability announces available presence to the server.
type Availability struct{}

func (ChatMessage) action()  {}
func (Composing) action()    {}
func (Paused) action()       {}
func (Displayed) action()    {}
func (Availability) action() {}
