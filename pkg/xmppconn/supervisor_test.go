// Copyright 2024-2026 Aiku AI

package xmppconn

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeTransport scripts Connect results and records sent actions.
type fakeTransport struct {
	mu          sync.Mutex
	connectErrs []error // consumed one per attempt; nil entries succeed
	connects    int
	closes      int
	sent        []Action
	events      chan Event
}

func newFakeTransport(connectErrs ...error) *fakeTransport {
	return &fakeTransport{
		connectErrs: connectErrs,
		events:      make(chan Event, 16),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Events() <-chan Event { return f.events }

func (f *fakeTransport) Send(a Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) sentActions() []Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Action, len(f.sent))
	copy(out, f.sent)
	return out
}

func fastSupervisor(t *fakeTransport, presenceEvery time.Duration, log zerolog.Logger) *Supervisor {
	s := NewSupervisor(t, presenceEvery, log)
	s.initialBackoff = 5 * time.Millisecond
	s.maxBackoff = 20 * time.Millisecond
	return s
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

func TestConnectRetriesWithBackoff(t *testing.T) {
	t.Parallel()
	ft := newFakeTransport(errors.New("dial refused"), errors.New("dial refused"), nil)
	s := fastSupervisor(ft, time.Hour, zerolog.Nop())
	s.OnEvent(func(Event) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitFor(t, "connected phase", func() bool { return s.Phase() == PhaseConnected })
	if got := ft.connectCount(); got != 3 {
		t.Errorf("connect attempts = %d, want 3", got)
	}
	if got := s.Retries(); got != 0 {
		t.Errorf("Retries = %d, want 0 after successful connect", got)
	}
}

func TestSingleDisconnectReportPerEpisode(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	var bufMu sync.Mutex
	log := zerolog.New(&writerFunc{func(p []byte) (int, error) {
		bufMu.Lock()
		defer bufMu.Unlock()
		return buf.Write(p)
	}})

	ft := newFakeTransport(errors.New("boom"), errors.New("boom"), errors.New("boom"), nil)
	s := fastSupervisor(ft, time.Hour, log)
	s.OnEvent(func(Event) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitFor(t, "connected phase", func() bool { return s.Phase() == PhaseConnected })

	bufMu.Lock()
	output := buf.String()
	bufMu.Unlock()
	if got := strings.Count(output, "Disconnected from XMPP server"); got != 1 {
		t.Errorf("disconnect reports = %d, want exactly 1 per episode\n%s", got, output)
	}
}

type writerFunc struct {
	fn func(p []byte) (int, error)
}

func (w *writerFunc) Write(p []byte) (int, error) { return w.fn(p) }

func TestStreamErrorTriggersReconnect(t *testing.T) {
	t.Parallel()
	ft := newFakeTransport()
	s := fastSupervisor(ft, time.Hour, zerolog.Nop())
	s.OnEvent(func(Event) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitFor(t, "first connect", func() bool { return s.Phase() == PhaseConnected })
	ft.events <- Event{Type: EventDisconnected, Err: errors.New("stream closed")}
	waitFor(t, "reconnect", func() bool { return ft.connectCount() >= 2 && s.Phase() == PhaseConnected })
}

func TestEventsForwardedToHandler(t *testing.T) {
	t.Parallel()
	ft := newFakeTransport()
	s := fastSupervisor(ft, time.Hour, zerolog.Nop())

	received := make(chan Event, 8)
	s.OnEvent(func(ev Event) { received <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	// Run delivers a synthetic Connected event first.
	select {
	case ev := <-received:
		if ev.Type != EventConnected {
			t.Fatalf("first event = %s, want connected", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}

	ft.events <- Event{Type: EventMessage, From: "alice@example.org", Body: "hi"}
	select {
	case ev := <-received:
		if ev.Type != EventMessage || ev.From != "alice@example.org" || ev.Body != "hi" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message event not forwarded")
	}
}

func TestPeriodicPresence(t *testing.T) {
	t.Parallel()
	ft := newFakeTransport()
	s := fastSupervisor(ft, 10*time.Millisecond, zerolog.Nop())
	s.OnEvent(func(Event) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitFor(t, "periodic presence", func() bool {
		count := 0
		for _, a := range ft.sentActions() {
			if _, ok := a.(Availability); ok {
				count++
			}
		}
		return count >= 3 // initial plus at least two ticks
	})
}

func TestSendWhileDisconnected(t *testing.T) {
	t.Parallel()
	ft := newFakeTransport()
	s := NewSupervisor(ft, time.Hour, zerolog.Nop())
	if err := s.Send(ChatMessage{To: "alice@example.org", Body: "hi"}); err == nil {
		t.Error("Send should fail before Run connects")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	ft := newFakeTransport()
	s := fastSupervisor(ft, time.Hour, zerolog.Nop())
	s.OnEvent(func(Event) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "connected", func() bool { return s.Phase() == PhaseConnected })
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
