// Package copilot – registry.go keeps the durable chat registry: one JSON
// file mapping chat id to discovery metadata. Every registration is a full
// read-modify-write of the file under a single lock.
package copilot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// ErrChatNotFound is returned by Get for unknown chat ids.
var ErrChatNotFound = fmt.Errorf("chat not found")

// legacyTimeLayout is the ISO layout without offset found in older files.
const legacyTimeLayout = "2006-01-02T15:04:05.999999999"

// ChatEntry is the metadata kept per chat.
type ChatEntry struct {
	Source    string `json:"source"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Username  string `json:"username"`
	FirstSeen string `json:"first_seen"`
	LastSeen  string `json:"last_seen"`
}

// IsGroup reports whether the entry describes a group chat.
func (e ChatEntry) IsGroup() bool { return e.Type == "group" }

// LastSeenTime parses LastSeen.
func (e ChatEntry) LastSeenTime() (time.Time, error) { return parseRegistryTime(e.LastSeen) }

// FirstSeenTime parses FirstSeen.
func (e ChatEntry) FirstSeenTime() (time.Time, error) { return parseRegistryTime(e.FirstSeen) }

func parseRegistryTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(legacyTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid registry timestamp %q", s)
	}
	return t, nil
}

// ChatRegistry is the durable chat registry.
type ChatRegistry struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewChatRegistry creates a registry backed by path. The file and its
// directory are created on first registration.
func NewChatRegistry(path string, logger *slog.Logger) *ChatRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatRegistry{
		path:   path,
		logger: logger.With("component", "registry"),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *ChatRegistry) SetClock(now func() time.Time) { r.now = now }

// Path returns the backing file.
func (r *ChatRegistry) Path() string { return r.path }

// Register upserts chatID. title and username overwrite stored values only
// when non-empty; first_seen is set once; last_seen is always refreshed.
// It reports whether the chat was seen for the first time.
func (r *ChatRegistry) Register(chatID, source, kind, title, username string) (bool, error) {
	if chatID == "" {
		return false, fmt.Errorf("register: empty chat id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.loadLocked()
	now := r.now().Format(time.RFC3339Nano)

	entry, exists := entries[chatID]
	if !exists {
		entry = ChatEntry{FirstSeen: now}
	}
	if source != "" {
		entry.Source = source
	}
	if kind != "" {
		entry.Type = kind
	}
	if title != "" {
		entry.Title = title
	}
	if username != "" {
		entry.Username = username
	}
	entry.LastSeen = now
	entries[chatID] = entry

	if err := writeJSONFile(r.path, entries); err != nil {
		return !exists, fmt.Errorf("saving chat registry: %w", err)
	}
	return !exists, nil
}

// GetAll returns a snapshot of every entry. A missing or corrupt file
// yields an empty map.
func (r *ChatRegistry) GetAll() (map[string]ChatEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(), nil
}

// Get returns one entry.
func (r *ChatRegistry) Get(chatID string) (ChatEntry, error) {
	all, _ := r.GetAll()
	entry, ok := all[chatID]
	if !ok {
		return ChatEntry{}, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	return entry, nil
}

// ChatIDs returns the registered ids, sorted.
func (r *ChatRegistry) ChatIDs() []string {
	all, _ := r.GetAll()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *ChatRegistry) loadLocked() map[string]ChatEntry {
	entries := make(map[string]ChatEntry)
	err := readJSONFile(r.path, &entries)
	switch {
	case err == nil:
		if entries == nil {
			entries = make(map[string]ChatEntry)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		r.logger.Warn("chat registry unreadable, treating as empty", "path", r.path, "error", err)
		entries = make(map[string]ChatEntry)
	}
	return entries
}
