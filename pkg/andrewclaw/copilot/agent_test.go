package copilot

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

// scriptedLLM replays responses in order and records every request.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*LLMResponse
	err       error
	requests  []CompletionRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req CompletionRequest) (*LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &LLMResponse{}, nil
	}
	r := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return r, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// recordingDeliverer captures deliveries.
type recordingDeliverer struct {
	mu     sync.Mutex
	sent   []string
	routes []channels.Route
}

func (d *recordingDeliverer) Deliver(_ context.Context, content string, route channels.Route) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, content)
	d.routes = append(d.routes, route)
	return nil
}

func (d *recordingDeliverer) messages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

func TestAgent_ToolLoop(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{responses: []*LLMResponse{
		{Content: "Déjame revisar.", ToolCalls: []ToolCall{call("lookup", `{"q":"x"}`)}},
		{Content: "Listo."},
	}}
	tools := NewToolRegistry(nil)
	tools.Register(MakeToolDefinition("lookup", "", nil), func(_ context.Context, tc ToolContext, _ map[string]any) (any, error) {
		return "found in " + tc.ChatID(), nil
	})
	out := &recordingDeliverer{}
	var debug bytes.Buffer

	agent := NewAgent(AgentOptions{LLM: llm, Tools: tools, Deliverer: out, Debug: true, DebugOut: &debug})
	session := NewSessionStore(nil, staticPreamble("p"), 100, nil).GetOrCreate("42", ChatEntry{})
	msg := channels.NewMessage(channels.PriorityUser, "busca x", channels.SourceTelegram, "42", "42")
	session.Append(Turn{Role: RoleUser, Content: msg.Content})

	if err := agent.RunTurn(context.Background(), session, msg); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	turns := session.Turns()
	roles := make([]string, len(turns))
	for i, tt := range turns {
		roles[i] = tt.Role
	}
	if strings.Join(roles, ",") != "system,user,assistant,tool,assistant" {
		t.Fatalf("roles = %v", roles)
	}
	if turns[3].Content != "found in 42" || turns[3].ToolCallID != "call_lookup" {
		t.Errorf("tool turn = %+v", turns[3])
	}
	if got := out.messages(); len(got) != 2 || got[1] != "Listo." {
		t.Errorf("delivered = %v", got)
	}
	if out.routes[0].ChatID != "42" || out.routes[0].Source != channels.SourceTelegram {
		t.Errorf("route = %+v", out.routes[0])
	}
	if len(llm.requests[1].Messages) != 4 || len(llm.requests[0].Tools) != 1 {
		t.Errorf("second request carried %d messages", len(llm.requests[1].Messages))
	}
	if !strings.Contains(debug.String(), "Turno 1.2") {
		t.Errorf("debug output missing sub-turn:\n%s", debug.String())
	}
}

func TestAgent_RoundLimit(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{responses: []*LLMResponse{{ToolCalls: []ToolCall{call("missing", "{}")}}}}
	agent := NewAgent(AgentOptions{LLM: llm, MaxToolRounds: 3})
	session := NewSessionStore(nil, nil, 100, nil).GetOrCreate("1", ChatEntry{})

	err := agent.RunTurn(context.Background(), session, channels.NewMessage(2, "x", channels.SourceConsole, "u", "1"))
	if !errors.Is(err, ErrToolRoundsExceeded) {
		t.Fatalf("expected ErrToolRoundsExceeded, got %v", err)
	}
	if llm.calls() != 3 {
		t.Errorf("calls = %d", llm.calls())
	}
	last := session.Turns()[session.Len()-1]
	if last.Role != RoleTool || !strings.HasPrefix(last.Content, toolErrorPrefix) {
		t.Errorf("last turn = %+v", last)
	}
}

func TestAgent_LLMError(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{err: errors.New("down")}
	out := &recordingDeliverer{}
	agent := NewAgent(AgentOptions{LLM: llm, Deliverer: out})
	session := NewSessionStore(nil, nil, 100, nil).GetOrCreate("1", ChatEntry{})

	if err := agent.RunTurn(context.Background(), session, channels.NewMessage(2, "x", channels.SourceConsole, "u", "1")); err == nil {
		t.Fatal("expected error")
	}
	if len(out.messages()) != 0 || session.Len() != 1 {
		t.Error("failed turn must not deliver or append")
	}
}
