package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrProducerDisabled is returned by Start when the channel is not
// configured for this deployment (e.g. missing token). The manager skips
// such producers without failing the others.
var ErrProducerDisabled = fmt.Errorf("producer disabled")

// Enqueuer is the only capability a producer needs from the dispatch queue.
type Enqueuer interface {
	Enqueue(msg *Message) bool
}

// Producer translates channel-native events into Messages.
type Producer interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Start launches the producer goroutine and returns immediately.
	Start(ctx context.Context) error

	// Stop requests termination and returns once the goroutine exited.
	Stop()
}

// Loop runs a single background function with a cancellable context and
// lets Stop wait for it. Producers embed it to get bounded shutdown.
type Loop struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Go starts fn in a goroutine. Returns false if the loop is already running.
func (l *Loop) Go(ctx context.Context, fn func(ctx context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	done := l.done
	go func() {
		defer close(done)
		defer l.markStopped()
		fn(loopCtx)
	}()
	return true
}

// Stop cancels the loop context and waits for fn to return.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether fn is still executing.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Done returns a channel closed when fn returns. Nil before the first Go.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Loop) markStopped() {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}

// Manager owns the set of producers feeding one queue.
type Manager struct {
	producers map[string]Producer
	started   map[string]bool
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewManager creates an empty producer manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		producers: make(map[string]Producer),
		started:   make(map[string]bool),
		logger:    logger.With("component", "producers"),
	}
}

// Register adds a producer. Must be called before StartAll.
func (m *Manager) Register(p Producer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	if _, exists := m.producers[name]; exists {
		return fmt.Errorf("producer %q already registered", name)
	}
	m.producers[name] = p
	m.logger.Debug("producer registered", "producer", name)
	return nil
}

// StartAll starts every registered producer. A producer that is disabled
// or fails to start is logged and skipped. Returns the number started.
func (m *Manager) StartAll(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	for _, name := range m.namesLocked() {
		p := m.producers[name]
		if err := p.Start(ctx); err != nil {
			if errors.Is(err, ErrProducerDisabled) {
				m.logger.Info("producer disabled", "producer", name, "reason", err)
			} else {
				m.logger.Error("failed to start producer", "producer", name, "error", err)
			}
			continue
		}
		m.started[name] = true
		count++
		m.logger.Info("producer started", "producer", name)
	}

	if count == 0 {
		m.logger.Warn("no producers running")
	}
	return count
}

// StopAll stops every started producer.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.namesLocked() {
		if !m.started[name] {
			continue
		}
		m.producers[name].Stop()
		delete(m.started, name)
		m.logger.Info("producer stopped", "producer", name)
	}
}

// Names returns the registered producer names, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.namesLocked()
}

// Running returns the names of started producers, sorted.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for name := range m.started {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) namesLocked() []string {
	names := make([]string, 0, len(m.producers))
	for name := range m.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
