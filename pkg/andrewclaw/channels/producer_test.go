package channels

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProducer struct {
	name     string
	startErr error
	loop     Loop
	stopped  atomic.Bool
}

func (f *fakeProducer) Name() string { return f.name }

func (f *fakeProducer) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.loop.Go(ctx, func(ctx context.Context) { <-ctx.Done() })
	return nil
}

func (f *fakeProducer) Stop() {
	f.loop.Stop()
	f.stopped.Store(true)
}

func TestManager_StartAllSkipsDisabledAndFailing(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := NewManager(logger)

	ok := &fakeProducer{name: "console"}
	disabled := &fakeProducer{name: "telegram", startErr: ErrProducerDisabled}
	broken := &fakeProducer{name: "discord", startErr: errors.New("boom")}

	for _, p := range []Producer{ok, disabled, broken} {
		if err := m.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.Name(), err)
		}
	}
	if err := m.Register(&fakeProducer{name: "console"}); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	if n := m.StartAll(context.Background()); n != 1 {
		t.Fatalf("expected 1 producer started, got %d", n)
	}
	if running := m.Running(); len(running) != 1 || running[0] != "console" {
		t.Errorf("unexpected running set: %v", running)
	}

	m.StopAll()
	if !ok.stopped.Load() {
		t.Error("expected started producer to be stopped")
	}
	if disabled.stopped.Load() || broken.stopped.Load() {
		t.Error("producers that never started should not be stopped")
	}
	if names := m.Names(); len(names) != 3 {
		t.Errorf("expected 3 registered names, got %v", names)
	}
}

func TestLoop_StopWaitsForExit(t *testing.T) {
	t.Parallel()

	var l Loop
	var exited atomic.Bool
	started := make(chan struct{})

	if !l.Go(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		exited.Store(true)
	}) {
		t.Fatal("expected Go to start the loop")
	}
	<-started

	if l.Go(context.Background(), func(context.Context) {}) {
		t.Error("second Go should be rejected while running")
	}
	if !l.Running() {
		t.Error("expected loop to be running")
	}

	l.Stop()
	if !exited.Load() {
		t.Error("Stop returned before the loop function exited")
	}
	if l.Running() {
		t.Error("expected loop to be stopped")
	}

	// Stopping twice is a no-op.
	l.Stop()
}

func TestRouter_Deliver(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	var buf bytes.Buffer
	r.SetFallback(&buf)

	var got []string
	r.Handle(SourceTelegram, DelivererFunc(func(_ context.Context, content string, route Route) error {
		got = append(got, route.ChatID+":"+content)
		return nil
	}))
	r.Handle(SourceDiscord, DelivererFunc(func(context.Context, string, Route) error {
		return errors.New("offline")
	}))

	ctx := context.Background()
	if err := r.Deliver(ctx, "hola", Route{Source: SourceTelegram, ChatID: "42"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(got) != 1 || got[0] != "42:hola" {
		t.Errorf("unexpected deliveries: %v", got)
	}

	if err := r.Deliver(ctx, "", Route{Source: SourceTelegram, ChatID: "42"}); err != nil {
		t.Errorf("empty content should be ignored, got %v", err)
	}
	if len(got) != 1 {
		t.Error("empty content should not be delivered")
	}

	if err := r.Deliver(ctx, "x", Route{Source: SourceDiscord, ChatID: "1"}); err == nil {
		t.Error("expected deliverer error to propagate")
	}

	if err := r.Deliver(ctx, "fallback", Route{Source: SourceEmail, ChatID: "a@b"}); err != nil {
		t.Fatalf("fallback Deliver: %v", err)
	}
	if !strings.Contains(buf.String(), "[🤖 Andrew (email)]: fallback") {
		t.Errorf("unexpected fallback output: %q", buf.String())
	}
}
