// Package copilot – shutdown.go drains every persisted chat through fact
// extraction and then memory consolidation before the process exits.
package copilot

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ShutdownOptions wires a ShutdownCoordinator.
type ShutdownOptions struct {
	History      HistoryStore
	Extractor    Extractor
	Consolidator Consolidator

	// Timeout bounds the drain. Zero uses the configured default.
	Timeout time.Duration

	// Exit terminates the process after the drain. Defaults to os.Exit.
	Exit func(code int)

	Logger *slog.Logger
}

// ShutdownCoordinator runs the exit sequence at most once.
type ShutdownCoordinator struct {
	opts   ShutdownOptions
	logger *slog.Logger

	once  sync.Once
	done  chan struct{}
	hooks []func()
	mu    sync.Mutex
}

// NewShutdownCoordinator creates a coordinator.
func NewShutdownCoordinator(opts ShutdownOptions) *ShutdownCoordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultConfig().Agent.ShutdownTimeout
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	return &ShutdownCoordinator{
		opts:   opts,
		logger: logger.With("component", "shutdown"),
		done:   make(chan struct{}),
	}
}

// OnShutdown registers fn to run before the drain, in registration order.
// Used to stop producers and background workers.
func (c *ShutdownCoordinator) OnShutdown(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Trigger runs the exit sequence and terminates the process. Concurrent
// and repeated calls run it once; later callers block until it finished.
func (c *ShutdownCoordinator) Trigger(reason string) {
	c.once.Do(func() {
		c.logger.Info("shutting down", "reason", reason)

		c.mu.Lock()
		hooks := append([]func(){}, c.hooks...)
		c.mu.Unlock()
		for i, fn := range hooks {
			err := guarded(func() error { fn(); return nil })
			if err != nil {
				c.logger.Error("shutdown hook failed", "hook", i, "error", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
		if err := guarded(func() error { c.Run(ctx); return nil }); err != nil {
			c.logger.Error("drain aborted", "error", err)
		}
		cancel()

		close(c.done)
		c.opts.Exit(0)
	})
	<-c.done
}

// Done is closed once the drain finished.
func (c *ShutdownCoordinator) Done() <-chan struct{} { return c.done }

// Run extracts facts from every chat with a stored transcript, then
// consolidates every one of them. Per-chat failures are logged and skipped.
func (c *ShutdownCoordinator) Run(ctx context.Context) {
	if c.opts.History == nil {
		return
	}
	chatIDs, err := c.opts.History.ChatIDs()
	if err != nil {
		c.logger.Error("listing chats failed, nothing to drain", "error", err)
		return
	}
	if len(chatIDs) == 0 {
		return
	}

	start := time.Now()
	c.logger.Info("saving memory before exit", "chats", len(chatIDs))

	if c.opts.Extractor != nil {
		for _, chatID := range chatIDs {
			if ctx.Err() != nil {
				c.logger.Warn("drain timed out during extraction")
				return
			}
			err := guarded(func() error { return c.opts.Extractor.ExtractAndPersist(ctx, chatID) })
			if err != nil {
				c.logger.Error("extraction failed", "chat_id", chatID, "error", err)
			}
		}
	}

	if c.opts.Consolidator != nil {
		for _, chatID := range chatIDs {
			if ctx.Err() != nil {
				c.logger.Warn("drain timed out during consolidation")
				return
			}
			err := guarded(func() error { return c.opts.Consolidator.Consolidate(ctx, chatID) })
			if err != nil {
				c.logger.Error("consolidation failed", "chat_id", chatID, "error", err)
			}
		}
	}

	c.logger.Info("memory saved", "chats", len(chatIDs), "duration", time.Since(start).Round(time.Millisecond))
}
