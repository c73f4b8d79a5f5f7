// Copyright 2024-2026 Aiku AI

package xmppconn

import "time"

// Phase is the health of the protocol connection.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseBackingOff
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseBackingOff:
		return "backing_off"
	default:
		return "unknown"
	}
}

// connState tracks the connection's health. It is owned exclusively by
// the Supervisor and mutated only under its lock.
type connState struct {
	phase       Phase
	retries     int
	lastAttempt time.Time
	// errReported suppresses duplicate disconnect reports: only the
	// first failure of an outage episode is logged at error level,
	// until a Connected transition clears the flag.
	errReported bool
}
