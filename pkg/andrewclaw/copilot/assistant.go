// Package copilot implements the AndrewClaw assistant core.
// Producers feed one priority queue; a single worker registers each chat,
// screens the message, runs the model turn and persists the transcript.
// Idle chats are mined for facts and consolidated in the background, and
// once more for every chat on shutdown.
package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot/security"
)

// Assistant owns every long-lived component of a running instance.
type Assistant struct {
	config *Config
	logger *slog.Logger

	queue     *channels.Queue
	router    *channels.Router
	producers *channels.Manager

	registry     *ChatRegistry
	history      HistoryStore
	closeHistory func() error
	sessions     *SessionStore
	ledgers      *LedgerStore
	events       *security.EventLog
	perf         *PerformanceLog

	llm          *LLMClient
	tools        *ToolRegistry
	agent        *Agent
	extractor    *IntelligenceExtractor
	consolidator *MemoryConsolidator

	worker      *Worker
	maintenance *MaintenanceWorker
	shutdown    *ShutdownCoordinator

	cancel     context.CancelFunc
	workerDone chan struct{}
}

// New builds an assistant from cfg. Nothing runs until Start.
func New(cfg *Config, logger *slog.Logger) (*Assistant, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	history, closeHistory, err := OpenHistory(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &Assistant{
		config:       cfg,
		logger:       logger,
		queue:        channels.NewQueue(),
		router:       channels.NewRouter(logger),
		producers:    channels.NewManager(logger.With("component", "producers")),
		registry:     NewChatRegistry(cfg.RegistryPath(), logger),
		history:      history,
		closeHistory: closeHistory,
		ledgers:      NewLedgerStore(cfg.UsersDir(), cfg.CitiesDir(), logger),
		events:       security.NewEventLog(cfg.SecurityLogDir(), logger),
		perf:         NewPerformanceLog(cfg.PerformanceLogPath(), logger),
	}

	a.sessions = NewSessionStore(history, NewPromptBuilder(cfg.Name, cfg.Security.NeverReveal), cfg.History.MaxTurns, logger)
	a.llm = NewLLMClient(cfg, cfg.API.APIKey, logger)

	a.tools = NewToolRegistry(logger)
	RegisterBuiltinTools(a.tools, BuiltinDeps{
		Ledgers:  a.ledgers,
		Registry: a.registry,
		Events:   a.events,
		Location: loadLocation(cfg.Timezone, logger),
	})

	a.agent = NewAgent(AgentOptions{
		LLM:           a.llm,
		Tools:         a.tools,
		Deliverer:     a.router,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		Debug:         cfg.IsDevelopment(),
		Logger:        logger,
	})
	a.extractor = NewIntelligenceExtractor(a.llm, history, a.ledgers, cfg.Name, logger)
	a.consolidator = NewMemoryConsolidator(a.llm, history, cfg.History.MaxTurns, logger)

	a.worker = NewWorker(WorkerOptions{
		Queue:       a.queue,
		Registry:    a.registry,
		Sessions:    a.sessions,
		History:     history,
		Runner:      a.agent,
		Detector:    security.NewPatternDetector(cfg.Security.Detector),
		Events:      a.events,
		Deliverer:   a.router,
		Performance: a.perf,
		Logger:      logger,
	})
	a.maintenance = NewMaintenanceWorker(MaintenanceOptions{
		Registry:     a.registry,
		Extractor:    a.extractor,
		Consolidator: a.consolidator,
		Sessions:     a.sessions,
		Threshold:    cfg.Maintenance.Threshold(),
		Interval:     cfg.Maintenance.CheckInterval,
		Logger:       logger,
	})
	a.shutdown = NewShutdownCoordinator(ShutdownOptions{
		History:      history,
		Extractor:    a.extractor,
		Consolidator: a.consolidator,
		Timeout:      cfg.Agent.ShutdownTimeout,
		Logger:       logger,
	})
	a.shutdown.OnShutdown(a.Stop)

	return a, nil
}

// OpenHistory opens the configured history backend. The returned func
// releases it.
func OpenHistory(cfg *Config, logger *slog.Logger) (HistoryStore, func() error, error) {
	switch cfg.History.Backend {
	case HistoryBackendSQLite:
		store, err := OpenSQLiteHistoryStore(cfg.HistoryDBPath(), cfg.History.MaxTurns, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case HistoryBackendJSON, "":
		return NewJSONHistoryStore(cfg.HistoryDir(), cfg.History.MaxTurns, logger), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}

// AddProducer registers p and routes replies for its source to d.
func (a *Assistant) AddProducer(p channels.Producer, d channels.Deliverer) error {
	if err := a.producers.Register(p); err != nil {
		return err
	}
	if d != nil {
		a.router.Handle(channels.Source(p.Name()), d)
	}
	return nil
}

// Start launches the worker, the maintenance schedule and every producer.
func (a *Assistant) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.logger.Info("starting AndrewClaw",
		"name", a.config.Name,
		"model", a.llm.Model(),
		"history_backend", a.config.History.Backend,
		"dev", a.config.IsDevelopment(),
	)

	a.workerDone = make(chan struct{})
	go func() {
		defer close(a.workerDone)
		if err := a.worker.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("worker exited", "error", err)
		}
	}()

	if a.config.Maintenance.Enabled {
		if err := a.maintenance.Start(ctx); err != nil {
			return err
		}
	}

	if n := a.producers.StartAll(ctx); n == 0 {
		a.logger.Warn("no channel is listening")
	}
	return nil
}

// Stop stops producers, maintenance and the worker. It does not run the
// exit drain; use Shutdown for that.
func (a *Assistant) Stop() {
	a.producers.StopAll()
	a.maintenance.Stop()
	a.queue.Close()
	if a.cancel != nil {
		a.cancel()
	}
	if a.workerDone != nil {
		select {
		case <-a.workerDone:
		case <-time.After(10 * time.Second):
			a.logger.Warn("worker did not stop in time")
		}
	}
}

// Shutdown stops everything, runs the exit drain and calls exit.
func (a *Assistant) Shutdown(reason string) { a.shutdown.Trigger(reason) }

// SetExit replaces the process exit used after Shutdown.
func (a *Assistant) SetExit(exit func(code int)) { a.shutdown.opts.Exit = exit }

// Close releases the history backend.
func (a *Assistant) Close() error { return a.closeHistory() }

// Queue returns the dispatch queue producers feed.
func (a *Assistant) Queue() *channels.Queue { return a.queue }

// Registry returns the chat registry.
func (a *Assistant) Registry() *ChatRegistry { return a.registry }

// History returns the history store.
func (a *Assistant) History() HistoryStore { return a.history }

// Extractor returns the fact extractor.
func (a *Assistant) Extractor() Extractor { return a.extractor }

// Consolidator returns the memory consolidator.
func (a *Assistant) Consolidator() Consolidator { return a.consolidator }

// Coordinator returns the shutdown coordinator.
func (a *Assistant) Coordinator() *ShutdownCoordinator { return a.shutdown }

func loadLocation(name string, logger *slog.Logger) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("unknown timezone, using local time", "timezone", name, "error", err)
		return time.Local
	}
	return loc
}
