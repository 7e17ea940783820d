// Package copilot – maintenance.go periodically finds chats that went idle
// and runs fact extraction and memory consolidation on them.
package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// MaintenanceOptions wires a MaintenanceWorker. Sessions is optional.
type MaintenanceOptions struct {
	Registry     *ChatRegistry
	Extractor    Extractor
	Consolidator Consolidator
	Sessions     *SessionStore

	// Threshold is the idle time after which a chat is processed.
	Threshold time.Duration

	// Interval is the time between scans.
	Interval time.Duration

	Logger *slog.Logger
}

// MaintenanceWorker processes each chat once per inactivity episode. A
// chat becomes eligible again when its last_seen moves past the value it
// was processed at.
type MaintenanceWorker struct {
	opts   MaintenanceOptions
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
	// processed maps chat ids to the last_seen they were processed at.
	processed map[string]string

	// scanMu serializes scans so one chat is never processed twice at once.
	scanMu sync.Mutex

	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewMaintenanceWorker creates a maintenance worker.
func NewMaintenanceWorker(opts MaintenanceOptions) *MaintenanceWorker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig().Maintenance
	if opts.Threshold <= 0 {
		opts.Threshold = d.Threshold()
	}
	if opts.Interval < time.Second {
		opts.Interval = d.CheckInterval
	}
	return &MaintenanceWorker{
		opts:      opts,
		logger:    logger.With("component", "maintenance"),
		now:       time.Now,
		processed: make(map[string]string),
	}
}

// SetClock overrides the clock used by scheduled scans.
func (m *MaintenanceWorker) SetClock(now func() time.Time) { m.now = now }

// Start schedules scans on the configured interval.
func (m *MaintenanceWorker) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	cronLog := cron.PrintfLogger(slog.NewLogLogger(m.logger.Handler(), slog.LevelError))
	m.cron = cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cron.DiscardLogger)))
	schedule := "@every " + m.opts.Interval.String()
	if _, err := m.cron.AddFunc(schedule, func() { m.Scan(ctx, m.now()) }); err != nil {
		m.cancel()
		return fmt.Errorf("scheduling maintenance %q: %w", schedule, err)
	}
	m.cron.Start()

	m.logger.Info("maintenance worker started",
		"threshold", m.opts.Threshold, "interval", m.opts.Interval)
	return nil
}

// Stop cancels the running scan and waits for it to return.
func (m *MaintenanceWorker) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.cron == nil {
		return
	}
	select {
	case <-m.cron.Stop().Done():
	case <-time.After(10 * time.Second):
		m.logger.Warn("maintenance stop timed out")
	}
	m.logger.Info("maintenance worker stopped")
}

// Scan processes every chat idle for at least the threshold at now and
// returns how many were processed.
func (m *MaintenanceWorker) Scan(ctx context.Context, now time.Time) int {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	entries, err := m.opts.Registry.GetAll()
	if err != nil {
		m.logger.Warn("registry unavailable, scan skipped", "error", err)
		return 0
	}

	count := 0
	for _, chatID := range sortedChatIDs(entries) {
		if ctx.Err() != nil {
			break
		}
		entry := entries[chatID]
		if !m.eligible(chatID, entry, now) {
			continue
		}
		m.process(ctx, chatID)

		m.mu.Lock()
		m.processed[chatID] = entry.LastSeen
		m.mu.Unlock()
		count++
	}
	return count
}

// Processed reports whether chatID was processed in its current episode.
func (m *MaintenanceWorker) Processed(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[chatID]
	return ok
}

func (m *MaintenanceWorker) eligible(chatID string, entry ChatEntry, now time.Time) bool {
	lastSeen, err := entry.LastSeenTime()
	if err != nil {
		return false
	}

	m.mu.Lock()
	at, done := m.processed[chatID]
	if done && at != entry.LastSeen {
		// new activity since processing: back to ACTIVE
		delete(m.processed, chatID)
		done = false
	}
	m.mu.Unlock()

	return !done && now.Sub(lastSeen) >= m.opts.Threshold
}

// process runs extraction then consolidation. Failures, panics included,
// are logged; the chat still counts as processed for this episode.
func (m *MaintenanceWorker) process(ctx context.Context, chatID string) {
	m.logger.Info("processing idle chat", "chat_id", chatID)

	if m.opts.Extractor != nil {
		err := guarded(func() error { return m.opts.Extractor.ExtractAndPersist(ctx, chatID) })
		if err != nil {
			m.logger.Error("extraction failed", "chat_id", chatID, "error", err)
		}
	}
	if m.opts.Consolidator != nil {
		err := guarded(func() error { return m.opts.Consolidator.Consolidate(ctx, chatID) })
		if err != nil {
			m.logger.Error("consolidation failed", "chat_id", chatID, "error", err)
			return
		}
	}
	if m.opts.Sessions != nil {
		m.opts.Sessions.Reload(chatID)
	}
}

// guarded runs fn and turns a panic into an error.
func guarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
