// Package copilot – worker.go is the single consumer of the dispatch queue.
// Each message is registered, checked for threats, handed to the turn
// runner and persisted. A failing message never stops the loop.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot/security"
)

// Dequeuer is the consuming side of the dispatch queue.
type Dequeuer interface {
	Dequeue(ctx context.Context) (*channels.Message, error)
}

// ThreatChecker inspects inbound text before it reaches the model.
type ThreatChecker interface {
	Check(input string) (security.Threat, bool)
}

// threatNoticeFormat is the assistant-visible record of a blocked message.
const threatNoticeFormat = "[SISTEMA] Amenaza de seguridad detectada: %s. %s"

// WorkerOptions holds the collaborators of a Worker. Registry, Detector,
// Events and Performance are optional.
type WorkerOptions struct {
	Queue       Dequeuer
	Registry    *ChatRegistry
	Sessions    *SessionStore
	History     HistoryStore
	Runner      TurnRunner
	Detector    ThreatChecker
	Events      *security.EventLog
	Deliverer   channels.Deliverer
	Performance *PerformanceLog
	Logger      *slog.Logger
}

// Worker drains the dispatch queue one message at a time.
type Worker struct {
	opts   WorkerOptions
	logger *slog.Logger

	mu    sync.Mutex
	turns map[string]int
}

// NewWorker creates a worker.
func NewWorker(opts WorkerOptions) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		opts:   opts,
		logger: logger.With("component", "worker"),
		turns:  make(map[string]int),
	}
}

// Run processes messages until the queue is closed or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")

	for {
		msg, err := w.opts.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, channels.ErrQueueClosed) {
				return nil
			}
			return err
		}
		if err := w.Process(ctx, msg); err != nil {
			w.logger.Error("message failed",
				"msg_id", msg.ID, "chat_id", msg.ChatID, "source", msg.Source, "error", err)
		}
	}
}

// Process handles one message. Panics are recovered and reported as errors.
func (w *Worker) Process(ctx context.Context, msg *channels.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing message",
				"msg_id", msg.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	entry, err := w.register(msg)
	if err != nil {
		return err
	}

	session := w.opts.Sessions.GetOrCreate(msg.ChatID, entry)

	if threat, found := w.checkThreat(msg); found {
		w.handleThreat(ctx, session, msg, threat)
	} else {
		session.Append(Turn{Role: RoleUser, Content: msg.Content})

		start := time.Now()
		runErr := w.opts.Runner.RunTurn(ctx, session, msg)
		w.opts.Performance.Record("turn_execution", time.Since(start), map[string]any{
			"chat_id": msg.ChatID,
			"source":  string(msg.Source),
		})
		if runErr != nil {
			return fmt.Errorf("turn for %s: %w", msg.ChatID, runErr)
		}
	}

	if err := w.opts.History.Save(msg.ChatID, session.Turns()); err != nil {
		return fmt.Errorf("persisting %s: %w", msg.ChatID, err)
	}

	w.mu.Lock()
	w.turns[msg.ChatID]++
	n := w.turns[msg.ChatID]
	w.mu.Unlock()

	w.logger.Debug("message processed", "msg_id", msg.ID, "chat_id", msg.ChatID, "turn", n)
	return nil
}

// Turns returns how many messages were processed for chatID.
func (w *Worker) Turns(chatID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.turns[chatID]
}

// register refreshes the registry entry and returns the stored metadata.
func (w *Worker) register(msg *channels.Message) (ChatEntry, error) {
	kind := channels.ChatKind(msg.ChatID)
	title, username := msg.Meta("chat_title"), msg.Meta("username")

	fallback := ChatEntry{Source: string(msg.Source), Type: kind, Title: title, Username: username}
	if w.opts.Registry == nil {
		return fallback, nil
	}

	isNew, err := w.opts.Registry.Register(msg.ChatID, string(msg.Source), kind, title, username)
	if err != nil {
		return fallback, fmt.Errorf("registering %s: %w", msg.ChatID, err)
	}
	if isNew {
		w.logger.Info("new chat discovered", "chat_id", msg.ChatID, "source", msg.Source, "type", kind)
	}

	entry, err := w.opts.Registry.Get(msg.ChatID)
	if err != nil {
		return fallback, nil
	}
	return entry, nil
}

func (w *Worker) checkThreat(msg *channels.Message) (security.Threat, bool) {
	if w.opts.Detector == nil {
		return security.Threat{}, false
	}
	return w.opts.Detector.Check(msg.Content)
}

// handleThreat records the blocked message and warns the sender. Logging and
// delivery failures do not abort persistence.
func (w *Worker) handleThreat(ctx context.Context, session *Session, msg *channels.Message, threat security.Threat) {
	w.logger.Warn("threat detected",
		"chat_id", msg.ChatID, "user_id", msg.UserID, "type", threat.Type, "pattern", threat.Pattern)

	session.Append(
		Turn{Role: RoleUser, Content: msg.Content},
		Turn{Role: RoleAssistant, Content: fmt.Sprintf(threatNoticeFormat, threat.Type, threat.Response)},
	)

	if w.opts.Events != nil {
		if _, err := w.opts.Events.LogThreat(threat.Type, msg.Content, threat.Response, msg.UserID); err != nil {
			w.logger.Warn("security event not logged", "error", err)
		}
	}
	if w.opts.Deliverer != nil {
		if err := w.opts.Deliverer.Deliver(ctx, threat.Response, msg.Route()); err != nil {
			w.logger.Warn("threat warning not delivered", "chat_id", msg.ChatID, "error", err)
		}
	}
}
