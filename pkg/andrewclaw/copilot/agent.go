// Package copilot – agent.go runs one assistant turn: it calls the model
// with the session transcript and the tool schemas, delivers any visible
// reply, executes requested tools and loops until the model stops asking
// for them.
package copilot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

// ErrToolRoundsExceeded is returned when a turn keeps requesting tools
// past the configured number of rounds.
var ErrToolRoundsExceeded = fmt.Errorf("tool rounds exceeded")

// TurnRunner executes the assistant side of a turn. It appends the
// assistant and tool turns to the session and delivers replies itself.
type TurnRunner interface {
	RunTurn(ctx context.Context, session *Session, msg *channels.Message) error
}

// AgentOptions wires an Agent.
type AgentOptions struct {
	LLM       ChatCompleter
	Tools     *ToolRegistry
	Deliverer channels.Deliverer

	// MaxToolRounds bounds model calls per turn.
	MaxToolRounds int

	// Debug prints every sub-turn (reasoning, content, tool calls) to
	// DebugOut, which defaults to stdout.
	Debug    bool
	DebugOut io.Writer

	Logger *slog.Logger
}

// Agent implements TurnRunner on top of a chat completions model.
type Agent struct {
	llm       ChatCompleter
	tools     *ToolRegistry
	deliverer channels.Deliverer
	maxRounds int
	debug     bool
	debugOut  io.Writer
	logger    *slog.Logger

	turns atomic.Int64
}

// NewAgent creates an agent.
func NewAgent(cfg AgentOptions) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = DefaultConfig().Agent.MaxToolRounds
	}
	out := cfg.DebugOut
	if out == nil {
		out = os.Stdout
	}
	tools := cfg.Tools
	if tools == nil {
		tools = NewToolRegistry(logger)
	}
	return &Agent{
		llm:       cfg.LLM,
		tools:     tools,
		deliverer: cfg.Deliverer,
		maxRounds: rounds,
		debug:     cfg.Debug,
		debugOut:  out,
		logger:    logger.With("component", "agent"),
	}
}

// RunTurn implements TurnRunner.
func (a *Agent) RunTurn(ctx context.Context, session *Session, msg *channels.Message) error {
	turn := a.turns.Add(1)
	tc := ToolContext{Message: msg}
	defs := a.tools.Definitions()

	for round := 1; round <= a.maxRounds; round++ {
		resp, err := a.llm.Complete(ctx, CompletionRequest{
			Messages: session.Turns(),
			Tools:    defs,
		})
		if err != nil {
			return fmt.Errorf("turn %d.%d: %w", turn, round, err)
		}

		session.Append(Turn{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if a.debug {
			a.printDebug(turn, round, resp)
		}

		if resp.Content != "" && a.deliverer != nil {
			if err := a.deliverer.Deliver(ctx, resp.Content, msg.Route()); err != nil {
				a.logger.Error("delivery failed", "chat_id", msg.ChatID, "source", msg.Source, "error", err)
			}
		}

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		for _, call := range resp.ToolCalls {
			session.Append(Turn{
				Role:       RoleTool,
				Content:    a.tools.Execute(ctx, tc, call),
				ToolCallID: call.ID,
			})
		}
	}

	a.logger.Warn("tool loop stopped", "chat_id", msg.ChatID, "rounds", a.maxRounds)
	return fmt.Errorf("%w: %d", ErrToolRoundsExceeded, a.maxRounds)
}

func (a *Agent) printDebug(turn int64, round int, resp *LLMResponse) {
	fmt.Fprintf(a.debugOut, "\033[33m[DEBUG] Turno %d.%d\033[0m\n", turn, round)
	if resp.ReasoningContent != "" {
		fmt.Fprintf(a.debugOut, "\033[36m[🧠 RAZONAMIENTO]:\n%s\033[0m\n\n", resp.ReasoningContent)
	}
	if resp.Content != "" {
		fmt.Fprintf(a.debugOut, "\033[32m[📄 CONTENIDO]: %s\033[0m\n", resp.Content)
	}
	for _, c := range resp.ToolCalls {
		fmt.Fprintf(a.debugOut, "\033[35m[🛠️ TOOL CALL]: %s(%s)\033[0m\n", c.Function.Name, c.Function.Arguments)
	}
}

var _ TurnRunner = (*Agent)(nil)
