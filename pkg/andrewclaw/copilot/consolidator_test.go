package copilot

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseKeepIndices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		n     int
		want  []int
		ok    bool
	}{
		{"plain", "[2, 4, 5]", 6, []int{2, 4, 5}, true},
		{"wrapped in prose", "Estos son:\n[0,\n 3]\nlisto", 4, []int{0, 3}, true},
		{"out of range", "[1, 9, -1]", 3, []int{1}, true},
		{"dupes and order", "[3, 1, 3]", 4, []int{1, 3}, true},
		{"empty list", "[]", 4, []int{}, true},
		{"no list", "no sé", 4, nil, false},
		{"not numbers", `["a"]`, 4, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseKeepIndices(tt.reply, tt.n)
			if ok != tt.ok || !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseKeepIndices(%q) = %v, %v; want %v, %v", tt.reply, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMemoryConsolidator_Consolidate(t *testing.T) {
	t.Parallel()

	history := NewJSONHistoryStore(t.TempDir(), 100, nil)
	history.Save("42", []Turn{
		{Role: RoleUser, Content: "hola"},
		{Role: RoleAssistant, Content: "¡Hola! ¿Cómo te llamas?"},
		{Role: RoleUser, Content: "Soy Ana y vivo en Cali"},
		{Role: RoleAssistant, Content: "ok"},
	})

	llm := &scriptedLLM{responses: []*LLMResponse{{Content: "[2, 1, 7]"}}}
	c := NewMemoryConsolidator(llm, history, 100, nil)
	if err := c.Consolidate(context.Background(), "42"); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	got, _ := history.Load("42", 100)
	want := []Turn{
		{Role: RoleAssistant, Content: "¡Hola! ¿Cómo te llamas?"},
		{Role: RoleUser, Content: "Soy Ana y vivo en Cali"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("history = %+v", got)
	}

	req := llm.requests[0]
	if req.Temperature == nil || *req.Temperature != 0 {
		t.Error("consolidation must run at temperature 0")
	}
	if !strings.Contains(req.Messages[0].Content, "[2] USER: Soy Ana y vivo en Cali") {
		t.Errorf("prompt missing numbered transcript:\n%s", req.Messages[0].Content)
	}
}

func TestMemoryConsolidator_UnparseableLeavesHistory(t *testing.T) {
	t.Parallel()

	history := NewJSONHistoryStore(t.TempDir(), 100, nil)
	orig := []Turn{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}}
	history.Save("1", orig)

	c := NewMemoryConsolidator(&scriptedLLM{responses: []*LLMResponse{{Content: "no puedo"}}}, history, 100, nil)
	if err := c.Consolidate(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := history.Load("1", 100); !reflect.DeepEqual(got, orig) {
		t.Errorf("history changed: %+v", got)
	}

	failing := NewMemoryConsolidator(&scriptedLLM{err: errors.New("down")}, history, 100, nil)
	if err := failing.Consolidate(context.Background(), "1"); err == nil {
		t.Error("expected model error")
	}

	empty := &scriptedLLM{}
	if err := NewMemoryConsolidator(empty, history, 100, nil).Consolidate(context.Background(), "none"); err != nil || empty.calls() != 0 {
		t.Errorf("empty history should not call the model: %v, %d calls", err, empty.calls())
	}
}

func TestIntelligenceExtractor_Apply(t *testing.T) {
	t.Parallel()

	history := NewJSONHistoryStore(t.TempDir(), 100, nil)
	history.Save("42", []Turn{
		{Role: RoleUser, Content: "Soy Ana Gómez, me encanta el café"},
		{Role: RoleAssistant, Content: "¡Qué bien!"},
	})
	ledgers := newTestLedgers(t)
	user, _ := ledgers.AddUser("Ana", "Gómez", "x")

	llm := &scriptedLLM{responses: []*LLMResponse{{Content: `{
		"user_updates": [
			{"user": "` + user + `", "updates": {"public_profile": {"interests": ["café"]}}},
			{"user": "nadie.nunca", "updates": {"public_profile": {"interests": ["x"]}}}
		],
		"city_updates": [
			{"city": "Cali", "updates": {"experiencias_gastronomicas": [{"nombre": "Café Macondo", "descripcion": "café"}]}}
		]
	}`}}}

	x := NewIntelligenceExtractor(llm, history, ledgers, "Andrew Martin", nil)
	if err := x.ExtractAndPersist(context.Background(), "42"); err != nil {
		t.Fatalf("ExtractAndPersist: %v", err)
	}

	public, _ := ledgers.PublicProfile(user)
	if !reflect.DeepEqual(public["interests"], []any{"café"}) {
		t.Errorf("interests = %v", public["interests"])
	}
	if _, err := ledgers.ReadCity("cali"); err != nil {
		t.Errorf("city ledger not created: %v", err)
	}

	req := llm.requests[0]
	if !req.JSONObject || req.Temperature == nil {
		t.Error("extraction must request a JSON object at temperature 0")
	}
	if !strings.Contains(req.Messages[0].Content, "USER: Soy Ana Gómez") {
		t.Error("prompt missing transcript")
	}

	bad := NewIntelligenceExtractor(&scriptedLLM{responses: []*LLMResponse{{Content: "nope"}}}, history, ledgers, "", nil)
	if err := bad.ExtractAndPersist(context.Background(), "42"); err == nil {
		t.Error("expected decode error")
	}
}
