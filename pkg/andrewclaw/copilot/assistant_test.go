package copilot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

// oneShotProducer enqueues a single message on Start.
type oneShotProducer struct {
	queue channels.Enqueuer
	msg   *channels.Message
}

func (p *oneShotProducer) Name() string { return string(p.msg.Source) }

func (p *oneShotProducer) Start(context.Context) error {
	p.queue.Enqueue(p.msg)
	return nil
}

func (p *oneShotProducer) Stop() {}

func TestAssistant_EndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [{"message": {"content": "hola!"}, "finish_reason": "stop"}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.LogsDir = filepath.Join(dir, "logs")
	cfg.API.BaseURL = srv.URL
	cfg.API.APIKey = "sk-test"
	cfg.Maintenance.Enabled = false

	a, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := &recordingDeliverer{}
	msg := channels.NewMessage(channels.PriorityUser, "hola", channels.SourceConsole, "admin_local", "terminal")
	if err := a.AddProducer(&oneShotProducer{queue: a.Queue(), msg: msg}, out); err != nil {
		t.Fatal(err)
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(out.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := out.messages(); len(got) != 1 || got[0] != "hola!" {
		t.Fatalf("delivered %v", got)
	}

	exited := make(chan int, 1)
	a.SetExit(func(code int) { exited <- code })
	a.Shutdown("test")

	if code := <-exited; code != 0 {
		t.Errorf("exit code = %d", code)
	}
	turns, _ := a.History().Load("terminal", 0)
	if len(turns) != 2 {
		t.Errorf("persisted %+v", turns)
	}
	if _, err := a.Registry().Get("terminal"); err != nil {
		t.Errorf("chat not registered: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Error(err)
	}
}

func TestOpenHistory_Backends(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	for _, backend := range []string{HistoryBackendJSON, HistoryBackendSQLite} {
		cfg.History.Backend = backend
		store, closeFn, err := OpenHistory(cfg, nil)
		if err != nil {
			t.Fatalf("%s: %v", backend, err)
		}
		if err := store.Save("a", []Turn{{Role: RoleUser, Content: "x"}}); err != nil {
			t.Errorf("%s save: %v", backend, err)
		}
		closeFn()
	}

	cfg.History.Backend = "redis"
	if _, _, err := OpenHistory(cfg, nil); err == nil {
		t.Error("expected unknown backend error")
	}
}
