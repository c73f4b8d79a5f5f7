// Copyright 2024-2026 Aiku AI

package xmppconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
)

// Supervisor owns the connection lifecycle: connect, run, detect
// failure, back off, reconnect. It is the only reader and writer of
// the transport. Inbound events are delivered to the handler installed
// with OnEvent; outbound actions go through Send.
type Supervisor struct {
	transport     Transport
	log           zerolog.Logger
	presenceEvery time.Duration
	handler       func(Event)

	// Backoff bounds, overridable in tests.
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu    sync.Mutex
	state connState
}

// NewSupervisor builds a supervisor over the given transport.
// presenceEvery is how often available presence is re-announced while
// connected; it doubles as a dead-TCP probe.
func NewSupervisor(t Transport, presenceEvery time.Duration, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		transport:      t,
		log:            log.With().Str("component", "supervisor").Logger(),
		presenceEvery:  presenceEvery,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// OnEvent installs the inbound event handler. Must be called before
// Run; the handler is invoked from the supervisor's loop goroutine.
func (s *Supervisor) OnEvent(fn func(Event)) {
	s.handler = fn
}

// Send forwards an outbound action to the transport. It fails when the
// connection is not currently up; callers treat that as a transient
// condition and drop the action.
func (s *Supervisor) Send(a Action) error {
	if s.Phase() != PhaseConnected {
		return fmt.Errorf("not connected (phase %s)", s.Phase())
	}
	return s.transport.Send(a)
}

// Phase returns the current connection phase.
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.phase
}

// Retries returns the failed attempt count of the current outage
// episode; it is zero while connected.
func (s *Supervisor) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.retries
}

// Run drives the connection until ctx is cancelled. There is no
// terminal state: every failure leads back to a reconnect attempt
// after a bounded backoff delay.
func (s *Supervisor) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialBackoff
	bo.MaxInterval = s.maxBackoff
	bo.MaxElapsedTime = 0 // never give up

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		s.state.phase = PhaseConnecting
		s.state.retries++
		s.state.lastAttempt = time.Now()
		attempt := s.state.retries
		s.mu.Unlock()

		s.log.Debug().Int("attempt", attempt).Msg("Connecting to XMPP server")
		if err := s.transport.Connect(ctx); err != nil {
			s.reportDisconnect(err)
			s.backOff(ctx, bo)
			continue
		}

		s.mu.Lock()
		s.state.phase = PhaseConnected
		s.state.retries = 0
		s.state.errReported = false
		s.mu.Unlock()
		bo.Reset()
		s.log.Info().Msg("Connected to XMPP server")

		if s.handler != nil {
			s.handler(Event{Type: EventConnected})
		}
		if err := s.transport.Send(Availability{}); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send initial presence")
		}

		s.pump(ctx)
		_ = s.transport.Close()
		if err := ctx.Err(); err != nil {
			return err
		}
		s.backOff(ctx, bo)
	}
}

// pump delivers inbound events to the handler and re-announces
// presence periodically until the stream breaks or ctx is cancelled.
func (s *Supervisor) pump(ctx context.Context) {
	ticker := time.NewTicker(s.presenceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Regular presence also surfaces dead TCP connections that
			// would otherwise go unnoticed until the next write.
			if err := s.transport.Send(Availability{}); err != nil {
				s.log.Warn().Err(err).Msg("Failed to send periodic presence")
			}
		case ev := <-s.transport.Events():
			if ev.Type == EventDisconnected {
				s.reportDisconnect(ev.Err)
				return
			}
			if s.handler != nil {
				s.handler(ev)
			}
		}
	}
}

// reportDisconnect logs one user-visible disconnect per outage
// episode; retries within the same episode log at debug only.
func (s *Supervisor) reportDisconnect(err error) {
	s.mu.Lock()
	s.state.phase = PhaseBackingOff
	first := !s.state.errReported
	s.state.errReported = true
	s.mu.Unlock()

	if first {
		s.log.Error().Err(err).Msg("Disconnected from XMPP server")
	} else {
		s.log.Debug().Err(err).Msg("Reconnect attempt failed")
	}
}

func (s *Supervisor) backOff(ctx context.Context, bo *backoff.ExponentialBackOff) {
	delay := bo.NextBackOff()
	s.log.Debug().Dur("delay", delay).Msg("Backing off before reconnect")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
