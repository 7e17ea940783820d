// Package copilot – tools.go keeps the registry of tools exposed to the
// model and dispatches the tool calls it returns.
package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

// ErrToolNotFound is returned for calls to unregistered tools.
var ErrToolNotFound = fmt.Errorf("tool not found")

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 30 * time.Second

// toolErrorPrefix starts the content of a failed tool call as seen by the
// model.
const toolErrorPrefix = "Error ejecutando herramienta: "

// ToolContext carries the message that triggered the turn, so tools can
// apply per-chat rules.
type ToolContext struct {
	Message *channels.Message
}

// IsGroup reports whether the turn runs in a group chat.
func (tc ToolContext) IsGroup() bool {
	return tc.Message != nil && tc.Message.IsGroup()
}

// ChatID returns the chat of the triggering message.
func (tc ToolContext) ChatID() string {
	if tc.Message == nil {
		return ""
	}
	return tc.Message.ChatID
}

// UserID returns the sender of the triggering message.
func (tc ToolContext) UserID() string {
	if tc.Message == nil {
		return ""
	}
	return tc.Message.UserID
}

// ToolHandlerFunc executes one tool with parsed arguments.
type ToolHandlerFunc func(ctx context.Context, tc ToolContext, args map[string]any) (any, error)

type registeredTool struct {
	definition ToolDefinition
	handler    ToolHandlerFunc
}

// ToolRegistry holds tool definitions and their handlers.
type ToolRegistry struct {
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		timeout: DefaultToolTimeout,
		logger:  logger.With("component", "tools"),
		tools:   make(map[string]*registeredTool),
	}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(def ToolDefinition, handler ToolHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Function.Name] = &registeredTool{definition: def, handler: handler}
	r.logger.Debug("tool registered", "name", def.Function.Name)
}

// Definitions returns every tool definition, sorted by name.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Function.Name < defs[j].Function.Name })
	return defs
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Function.Name
	}
	return names
}

// Execute runs one tool call and returns the content of the tool turn.
// Failures are reported to the model as text, never as a Go error.
func (r *ToolRegistry) Execute(ctx context.Context, tc ToolContext, call ToolCall) string {
	name := call.Function.Name

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("unknown tool called", "name", name)
		return toolErrorPrefix + fmt.Errorf("%w: %s", ErrToolNotFound, name).Error()
	}

	args, err := parseToolArgs(call.Function.Arguments)
	if err != nil {
		r.logger.Warn("tool argument parse error", "name", name, "error", err)
		return toolErrorPrefix + err.Error()
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	output, err := r.run(execCtx, tool.handler, tc, args)
	duration := time.Since(start)
	if err != nil {
		r.logger.Warn("tool execution failed", "name", name, "error", err, "duration_ms", duration.Milliseconds())
		return toolErrorPrefix + err.Error()
	}

	content := formatToolOutput(output)
	r.logger.Info("tool executed", "name", name, "duration_ms", duration.Milliseconds(), "output_len", len(content))
	return content
}

func (r *ToolRegistry) run(ctx context.Context, h ToolHandlerFunc, tc ToolContext, args map[string]any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, tc, args)
}

// MakeToolDefinition builds a function tool definition from a JSON schema
// map. A nil schema means no parameters.
func MakeToolDefinition(name, description string, schema map[string]any) ToolDefinition {
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, _ := json.Marshal(schema)
	return ToolDefinition{
		Type: "function",
		Function: FunctionDef{
			Name:        name,
			Description: description,
			Parameters:  raw,
		},
	}
}

// ---------- Internal Helpers ----------

func parseToolArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return args, nil
}

func formatToolOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return "OK"
	case string:
		return v
	case []byte:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// objectArg reads key as a JSON object. Models send it either as an
// encoded string or inline.
func objectArg(args map[string]any, key string) (map[string]any, error) {
	switch v := args[key].(type) {
	case map[string]any:
		return v, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("%s no es un JSON válido", key)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%s es obligatorio", key)
	}
}
