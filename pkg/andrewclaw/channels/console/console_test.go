package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

type recordingQueue struct {
	mu   sync.Mutex
	msgs []*channels.Message
}

func (q *recordingQueue) Enqueue(msg *channels.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return true
}

func (q *recordingQueue) snapshot() []*channels.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*channels.Message(nil), q.msgs...)
}

func waitStopped(t *testing.T, c *Console) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.loop.Running() {
		if time.Now().After(deadline) {
			t.Fatal("console loop did not stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConsole_EnqueuesLinesAndStopsOnExitToken(t *testing.T) {
	t.Parallel()

	q := &recordingQueue{}
	exited := make(chan struct{})
	input := strings.NewReader("hola\n\n   \n¿qué hora es?\nQUIT\nnever read\n")

	c := New(DefaultConfig(), q, nil,
		WithInput(input),
		WithExitHook(func() { close(exited) }),
	)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("exit hook was not called")
	}
	waitStopped(t, c)
	c.Stop()

	msgs := q.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hola" || msgs[1].Content != "¿qué hora es?" {
		t.Errorf("unexpected contents: %q, %q", msgs[0].Content, msgs[1].Content)
	}
	for _, msg := range msgs {
		if msg.Priority != channels.PriorityUser {
			t.Errorf("priority = %d, want %d", msg.Priority, channels.PriorityUser)
		}
		if msg.Source != channels.SourceConsole {
			t.Errorf("source = %q, want console", msg.Source)
		}
		if msg.UserID != LocalUserID || msg.ChatID != TerminalChatID {
			t.Errorf("unexpected ids: user=%q chat=%q", msg.UserID, msg.ChatID)
		}
	}
}

func TestConsole_EOFStopsWithoutExitHook(t *testing.T) {
	t.Parallel()

	q := &recordingQueue{}
	called := false
	c := New(DefaultConfig(), q, nil,
		WithInput(strings.NewReader("uno\ndos")),
		WithExitHook(func() { called = true }),
	)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStopped(t, c)
	c.Stop()

	if len(q.snapshot()) != 2 {
		t.Errorf("expected 2 messages, got %d", len(q.snapshot()))
	}
	if called {
		t.Error("EOF should not trigger the exit hook")
	}
}

func TestConsole_StopIsBounded(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()

	c := New(DefaultConfig(), &recordingQueue{}, nil, WithInput(pr))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on pending input")
	}
}

func TestConsole_Disabled(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Enabled = false
	c := New(cfg, &recordingQueue{}, nil, WithInput(strings.NewReader("")))
	if err := c.Start(context.Background()); err == nil {
		t.Error("expected disabled console to refuse to start")
	}
}

func TestConsole_Deliver(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(DefaultConfig(), &recordingQueue{}, nil, WithOutput(&out))

	if err := c.Deliver(context.Background(), "hola!", channels.Route{Source: channels.SourceConsole}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := out.String(); got != "\n[🤖 Andrew]: hola!\n\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestConsole_IsExitToken(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), &recordingQueue{}, nil)
	for _, tok := range []string{"exit", "Quit", " bye ", "Hasta Luego", "adiós"} {
		if !c.IsExitToken(tok) {
			t.Errorf("expected %q to be an exit token", tok)
		}
	}
	for _, tok := range []string{"exiting", "hola", ""} {
		if c.IsExitToken(tok) {
			t.Errorf("did not expect %q to be an exit token", tok)
		}
	}
}
