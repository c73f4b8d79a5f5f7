// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/xmpp-ai-bridge/pkg/history"
	"github.com/aiku/xmpp-ai-bridge/pkg/xmppconn"
)

// inbound is one accepted message waiting for, or driving, a backend
// request.
type inbound struct {
	body         string
	messageID    string
	wantsReceipt bool
}

// session is the live interaction state for one peer. It owns the
// peer's conversation, the single in-flight request slot, and the
// pending FIFO that absorbs bursts while a request is running.
type session struct {
	jid            string
	backend        Backend
	sender         Sender
	log            zerolog.Logger
	composingDelay time.Duration
	ctx            context.Context

	mu           sync.Mutex
	conv         *history.Conversation
	inflight     bool
	pending      []inbound
	lastActivity time.Time
}

func newSession(ctx context.Context, jid string, conv *history.Conversation, backend Backend, sender Sender, composingDelay time.Duration, log zerolog.Logger) *session {
	return &session{
		jid:            jid,
		backend:        backend,
		sender:         sender,
		log:            log.With().Str("jid", jid).Logger(),
		composingDelay: composingDelay,
		ctx:            ctx,
		conv:           conv,
		lastActivity:   time.Now(),
	}
}

// submit accepts one inbound message. If the in-flight slot is free the
// message is appended to the conversation and dispatched immediately;
// otherwise it joins the pending queue. Messages are never dropped and
// never reordered.
func (s *session) submit(msg inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
	if s.inflight {
		s.pending = append(s.pending, msg)
		s.log.Debug().Int("pending", len(s.pending)).Msg("Request in flight, queueing message")
		return
	}
	s.inflight = true
	s.conv.Append(history.RoleUser, msg.body)
	go s.process(msg)
}

// process drives backend requests for this peer, one at a time,
// draining the pending queue before releasing the in-flight slot.
func (s *session) process(msg inbound) {
	for {
		s.mu.Lock()
		snapshot := s.conv.Snapshot()
		s.mu.Unlock()

		reply, err := s.complete(snapshot)
		if err != nil {
			// The conversation keeps only the user's message, so a
			// plain resend retries from the same state.
			s.log.Warn().Err(err).Msg("Completion failed")
			s.send(xmppconn.ChatMessage{To: s.jid, Body: "[ERROR] " + err.Error()})
		} else {
			s.mu.Lock()
			s.conv.Append(reply.Role, reply.Text)
			s.mu.Unlock()
			s.log.Debug().Msg("Sending reply")
			s.send(xmppconn.ChatMessage{To: s.jid, Body: reply.Text})
		}
		if msg.wantsReceipt && msg.messageID != "" {
			s.send(xmppconn.Displayed{To: s.jid, MessageID: msg.messageID})
		}

		s.mu.Lock()
		s.lastActivity = time.Now()
		if len(s.pending) == 0 {
			s.inflight = false
			s.mu.Unlock()
			return
		}
		msg = s.pending[0]
		s.pending = s.pending[1:]
		s.conv.Append(history.RoleUser, msg.body)
		s.mu.Unlock()
	}
}

// complete runs one backend request with the composing-indicator
// policy: if the reply has not arrived within composingDelay, signal
// composing, and signal paused once the request finishes.
func (s *session) complete(snapshot []history.Message) (history.Message, error) {
	var indicatorMu sync.Mutex
	indicatorSent := false
	requestDone := false

	timer := time.AfterFunc(s.composingDelay, func() {
		// The send happens under the lock so a request finishing at the
		// same instant cannot slip its reply out first.
		indicatorMu.Lock()
		defer indicatorMu.Unlock()
		if requestDone {
			return
		}
		indicatorSent = true
		s.send(xmppconn.Composing{To: s.jid})
	})
	reply, err := s.backend.Complete(s.ctx, snapshot)
	timer.Stop()

	indicatorMu.Lock()
	requestDone = true
	wasSent := indicatorSent
	indicatorMu.Unlock()
	if wasSent {
		s.send(xmppconn.Paused{To: s.jid})
	}
	return reply, err
}

func (s *session) send(a xmppconn.Action) {
	if err := s.sender.Send(a); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send protocol action")
	}
}

// idle reports whether the session can be reaped: nothing in flight,
// nothing queued, and no activity for at least ttl.
func (s *session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.inflight && len(s.pending) == 0 && now.Sub(s.lastActivity) >= ttl
}
