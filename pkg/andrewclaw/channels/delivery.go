package channels

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Route addresses a reply to the conversation a message came from.
type Route struct {
	Source Source
	ChatID string
	UserID string
}

// Deliverer sends user-visible content to one channel.
type Deliverer interface {
	Deliver(ctx context.Context, content string, route Route) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, content string, route Route) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, content string, route Route) error {
	return f(ctx, content, route)
}

// Router dispatches deliveries by source. Sources without a registered
// deliverer are printed to the fallback writer.
type Router struct {
	mu         sync.RWMutex
	deliverers map[Source]Deliverer
	fallback   io.Writer
	logger     *slog.Logger
}

// NewRouter creates a router that prints unrouted replies to stdout.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		deliverers: make(map[Source]Deliverer),
		fallback:   os.Stdout,
		logger:     logger.With("component", "router"),
	}
}

// SetFallback replaces the writer used for sources with no deliverer.
func (r *Router) SetFallback(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = w
}

// Handle registers d for source.
func (r *Router) Handle(source Source, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliverers[source] = d
}

// Deliver routes content to the deliverer of route.Source. Empty content
// is ignored.
func (r *Router) Deliver(ctx context.Context, content string, route Route) error {
	if content == "" {
		return nil
	}

	r.mu.RLock()
	d, ok := r.deliverers[route.Source]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		_, err := fmt.Fprintf(fallback, "\n[🤖 Andrew (%s)]: %s\n\n", route.Source, content)
		return err
	}

	if err := d.Deliver(ctx, content, route); err != nil {
		r.logger.Error("delivery failed",
			"source", route.Source,
			"chat_id", route.ChatID,
			"error", err,
		)
		return fmt.Errorf("delivering to %s/%s: %w", route.Source, route.ChatID, err)
	}
	return nil
}
