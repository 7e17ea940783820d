package copilot

import (
	"strings"
	"sync"
	"testing"
)

type staticPreamble string

func (p staticPreamble) Build(chatID string, _ ChatEntry) string { return string(p) + ":" + chatID }

func TestSessionStore_HydratesFromHistory(t *testing.T) {
	t.Parallel()

	history := NewJSONHistoryStore(t.TempDir(), 100, nil)
	if err := history.Save("42", numberedTurns(5)); err != nil {
		t.Fatal(err)
	}

	store := NewSessionStore(history, staticPreamble("pre"), 3, nil)
	s := store.GetOrCreate("42", ChatEntry{Source: "telegram"})

	turns := s.Turns()
	if len(turns) != 4 {
		t.Fatalf("expected preamble + 3 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleSystem || turns[0].Content != "pre:42" {
		t.Errorf("unexpected preamble %+v", turns[0])
	}
	if turns[1].Content != "msg 2" || turns[3].Content != "msg 4" {
		t.Errorf("expected the most recent turns, got %+v", turns[1:])
	}

	if again := store.GetOrCreate("42", ChatEntry{}); again != s {
		t.Error("GetOrCreate returned a different session")
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d", store.Len())
	}
}

func TestSessionStore_ConcurrentCreate(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(nil, staticPreamble("p"), 100, nil)

	var wg sync.WaitGroup
	got := make([]*Session, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = store.GetOrCreate("same", ChatEntry{})
		}(i)
	}
	wg.Wait()

	for _, s := range got {
		if s != got[0] {
			t.Fatal("concurrent GetOrCreate produced distinct sessions")
		}
	}
}

func TestSessionStore_Reload(t *testing.T) {
	t.Parallel()

	history := NewJSONHistoryStore(t.TempDir(), 100, nil)
	store := NewSessionStore(history, staticPreamble("p"), 100, nil)

	if store.Reload("ghost") {
		t.Error("Reload of unknown chat reported true")
	}

	s := store.GetOrCreate("7", ChatEntry{})
	s.Append(Turn{Role: RoleUser, Content: "hola"}, Turn{Role: RoleAssistant, Content: "hola!"})
	if err := history.Save("7", []Turn{{Role: RoleUser, Content: "solo esto"}}); err != nil {
		t.Fatal(err)
	}

	if !store.Reload("7") {
		t.Fatal("Reload reported false")
	}
	if store.Get("7") != s {
		t.Error("Reload replaced the session value")
	}
	turns := s.Turns()
	if len(turns) != 2 || turns[1].Content != "solo esto" {
		t.Errorf("unexpected turns after reload: %+v", turns)
	}
}

func TestSession_TurnsIsCopy(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(nil, nil, 100, nil)
	s := store.GetOrCreate("x", ChatEntry{})
	turns := s.Turns()
	turns[0].Content = "mutated"
	if s.Turns()[0].Content == "mutated" {
		t.Error("Turns exposed internal slice")
	}
}

func TestPromptBuilder_Build(t *testing.T) {
	t.Parallel()

	b := NewPromptBuilder("Andrew Martin", nil)

	private := b.Build("42", ChatEntry{Source: "telegram", Type: "private", Username: "Ana"})
	for _, want := range []string{
		"Eres Andrew Martin",
		"POLÍTICAS DE SEGURIDAD",
		"list_users",
		"NO para que la reveles",
		"- Canal: telegram",
		"- Usuario: Ana",
	} {
		if !strings.Contains(private, want) {
			t.Errorf("private preamble missing %q", want)
		}
	}
	if strings.Contains(private, "PRIVACIDAD EN GRUPOS") {
		t.Error("private preamble carries the group rule")
	}

	group := b.Build("-100", ChatEntry{Source: "telegram", Type: "group", Title: "Amigos"})
	if !strings.Contains(group, "PRIVACIDAD EN GRUPOS") || !strings.Contains(group, "- Título: Amigos") {
		t.Errorf("group preamble incomplete:\n%s", group)
	}
}
