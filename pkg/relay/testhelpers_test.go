// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/xmpp-ai-bridge/pkg/access"
	"github.com/aiku/xmpp-ai-bridge/pkg/history"
	"github.com/aiku/xmpp-ai-bridge/pkg/xmppconn"
)

// runeTokenizer charges one token per rune.
type runeTokenizer struct{}

func (runeTokenizer) Count(text string) int { return len([]rune(text)) }

func (runeTokenizer) Truncate(text string, budget int) string {
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return string(runes[:budget])
}

// fakeBackend delegates to a configurable function and tracks the
// number of concurrently running calls.
type fakeBackend struct {
	fn func(ctx context.Context, snapshot []history.Message) (history.Message, error)

	mu            sync.Mutex
	calls         int
	running       int
	maxConcurrent int
}

func (b *fakeBackend) Complete(ctx context.Context, snapshot []history.Message) (history.Message, error) {
	b.mu.Lock()
	b.calls++
	b.running++
	if b.running > b.maxConcurrent {
		b.maxConcurrent = b.running
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running--
		b.mu.Unlock()
	}()
	return b.fn(ctx, snapshot)
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *fakeBackend) peakConcurrency() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxConcurrent
}

// echoBackend replies with "re: " plus the latest user message.
func echoBackend() *fakeBackend {
	return &fakeBackend{fn: func(_ context.Context, snapshot []history.Message) (history.Message, error) {
		return history.Message{Role: history.RoleAssistant, Text: "re: " + lastUserText(snapshot)}, nil
	}}
}

func lastUserText(snapshot []history.Message) string {
	for i := len(snapshot) - 1; i >= 0; i-- {
		if snapshot[i].Role == history.RoleUser {
			return snapshot[i].Text
		}
	}
	return ""
}

// fakeSender records every outbound action.
type fakeSender struct {
	mu      sync.Mutex
	actions []xmppconn.Action
}

func (f *fakeSender) Send(a xmppconn.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
	return nil
}

func (f *fakeSender) all() []xmppconn.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]xmppconn.Action, len(f.actions))
	copy(out, f.actions)
	return out
}

// replies returns the bodies of recorded chat messages, in order.
func (f *fakeSender) replies() []string {
	var out []string
	for _, a := range f.all() {
		if msg, ok := a.(xmppconn.ChatMessage); ok {
			out = append(out, msg.Body)
		}
	}
	return out
}

func (f *fakeSender) countType(match func(xmppconn.Action) bool) int {
	count := 0
	for _, a := range f.all() {
		if match(a) {
			count++
		}
	}
	return count
}

func mustList(t *testing.T, patterns ...string) *access.List {
	t.Helper()
	list, err := access.NewList(patterns)
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}
	return list
}

func newTestEngine(t *testing.T, cfg Config, backend Backend, sender Sender, patterns ...string) *Engine {
	t.Helper()
	if cfg.MaxHistoryTokens == 0 {
		cfg.MaxHistoryTokens = 4096
	}
	if cfg.ComposingDelay == 0 {
		cfg.ComposingDelay = time.Hour // effectively off unless a test opts in
	}
	return NewEngine(cfg, mustList(t, patterns...), backend, sender, runeTokenizer{}, zerolog.Nop())
}

func messageEvent(from, body string) xmppconn.Event {
	return xmppconn.Event{Type: xmppconn.EventMessage, From: from, Body: body}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func isErrorReply(body string) bool {
	return strings.HasPrefix(body, "[ERROR] ")
}
