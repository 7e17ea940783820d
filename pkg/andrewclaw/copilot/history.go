// Package copilot – history.go defines conversation turns and the durable
// per-chat transcript store.
package copilot

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn is one role-tagged entry of a session. Tool fields are only used
// while a turn is live; they are never persisted.
type Turn struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// persistedTurn is the on-disk shape of a transcript entry.
type persistedTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryStore persists per-chat transcripts.
type HistoryStore interface {
	// Load returns the most recent limit entries (all when limit <= 0).
	// Unreadable data yields an empty transcript, not an error.
	Load(chatID string, limit int) ([]Turn, error)

	// Save filters turns to persistable entries, keeps the most recent up
	// to the store's cap and replaces the stored transcript.
	Save(chatID string, turns []Turn) error

	// ChatIDs lists every chat with a stored transcript.
	ChatIDs() ([]string, error)
}

// FilterPersistable keeps user and assistant turns with content, stripped
// of tool fields, and truncates to the last limit entries.
func FilterPersistable(turns []Turn, limit int) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, Turn{Role: t.Role, Content: t.Content})
	}
	return tail(out, limit)
}

func tail(turns []Turn, limit int) []Turn {
	if limit > 0 && len(turns) > limit {
		return turns[len(turns)-limit:]
	}
	return turns
}

// JSONHistoryStore keeps one <dir>/<chat_id>.json file per chat.
type JSONHistoryStore struct {
	dir    string
	limit  int
	logger *slog.Logger

	mu sync.RWMutex
}

// NewJSONHistoryStore creates a store in dir capping transcripts at limit.
func NewJSONHistoryStore(dir string, limit int, logger *slog.Logger) *JSONHistoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONHistoryStore{
		dir:    dir,
		limit:  limit,
		logger: logger.With("component", "history"),
	}
}

// Dir returns the store directory.
func (s *JSONHistoryStore) Dir() string { return s.dir }

// Load implements HistoryStore.
func (s *JSONHistoryStore) Load(chatID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stored []persistedTurn
	err := readJSONFile(s.pathFor(chatID), &stored)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	default:
		s.logger.Warn("history unreadable, treating as empty", "chat_id", chatID, "error", err)
		return nil, nil
	}

	turns := make([]Turn, 0, len(stored))
	for _, p := range stored {
		turns = append(turns, Turn{Role: p.Role, Content: p.Content})
	}
	return tail(turns, limit), nil
}

// Save implements HistoryStore.
func (s *JSONHistoryStore) Save(chatID string, turns []Turn) error {
	if chatID == "" {
		return fmt.Errorf("save history: empty chat id")
	}
	filtered := FilterPersistable(turns, s.limit)
	stored := make([]persistedTurn, len(filtered))
	for i, t := range filtered {
		stored[i] = persistedTurn{Role: t.Role, Content: t.Content}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSONFile(s.pathFor(chatID), stored); err != nil {
		return fmt.Errorf("saving history for %s: %w", chatID, err)
	}
	return nil
}

// ChatIDs implements HistoryStore.
func (s *JSONHistoryStore) ChatIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing history dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// pathFor escapes chatID so ids holding separators stay inside dir and
// map back unchanged in ChatIDs.
func (s *JSONHistoryStore) pathFor(chatID string) string {
	name := url.PathEscape(chatID)
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}
	return filepath.Join(s.dir, name+".json")
}

var _ HistoryStore = (*JSONHistoryStore)(nil)
