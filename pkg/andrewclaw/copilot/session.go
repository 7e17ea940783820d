// Package copilot – session.go keeps the in-memory conversation state per
// chat. Sessions are created lazily from persisted history and are never
// evicted; the history cap bounds their size on reload.
package copilot

import (
	"log/slog"
	"sync"
	"time"
)

// PreambleBuilder renders the system preamble that opens every session.
type PreambleBuilder interface {
	Build(chatID string, entry ChatEntry) string
}

// Session is the ordered turn sequence of one chat. The first turn is the
// system preamble; the rest is the transcript.
type Session struct {
	chatID    string
	entry     ChatEntry
	createdAt time.Time

	mu    sync.RWMutex
	turns []Turn
}

// ChatID returns the chat this session belongs to.
func (s *Session) ChatID() string { return s.chatID }

// Entry returns the registry metadata the preamble was built from.
func (s *Session) Entry() ChatEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry
}

// CreatedAt returns when the session was hydrated.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Append adds turns to the end of the session.
func (s *Session) Append(turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
}

// Turns returns a copy of every turn, preamble included.
func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns, preamble included.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

func (s *Session) reset(entry ChatEntry, turns []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = entry
	s.turns = turns
}

// SessionStore maps chat ids to live sessions.
type SessionStore struct {
	history  HistoryStore
	preamble PreambleBuilder
	limit    int
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates a store hydrating sessions from history with at
// most limit transcript entries.
func NewSessionStore(history HistoryStore, preamble PreambleBuilder, limit int, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		history:  history,
		preamble: preamble,
		limit:    limit,
		logger:   logger.With("component", "sessions"),
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the live session for chatID, hydrating it from the
// history store on first access.
func (ss *SessionStore) GetOrCreate(chatID string, entry ChatEntry) *Session {
	ss.mu.RLock()
	if s, ok := ss.sessions[chatID]; ok {
		ss.mu.RUnlock()
		return s
	}
	ss.mu.RUnlock()

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if s, ok := ss.sessions[chatID]; ok {
		return s
	}

	s := &Session{
		chatID:    chatID,
		entry:     entry,
		createdAt: time.Now(),
		turns:     ss.hydrate(chatID, entry),
	}
	ss.sessions[chatID] = s
	ss.logger.Info("session created", "chat_id", chatID, "turns", len(s.turns)-1)
	return s
}

// Get returns the live session for chatID, or nil.
func (ss *SessionStore) Get(chatID string) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.sessions[chatID]
}

// Reload rebuilds a live session from the history store, keeping the same
// Session value. It reports whether chatID had a live session.
func (ss *SessionStore) Reload(chatID string) bool {
	s := ss.Get(chatID)
	if s == nil {
		return false
	}
	entry := s.Entry()
	s.reset(entry, ss.hydrate(chatID, entry))
	ss.logger.Debug("session reloaded", "chat_id", chatID, "turns", s.Len()-1)
	return true
}

// Len returns the number of live sessions.
func (ss *SessionStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

func (ss *SessionStore) hydrate(chatID string, entry ChatEntry) []Turn {
	var preamble string
	if ss.preamble != nil {
		preamble = ss.preamble.Build(chatID, entry)
	}
	turns := []Turn{{Role: RoleSystem, Content: preamble}}

	if ss.history == nil {
		return turns
	}
	stored, err := ss.history.Load(chatID, ss.limit)
	if err != nil {
		ss.logger.Warn("history load failed, starting empty", "chat_id", chatID, "error", err)
		return turns
	}
	return append(turns, stored...)
}
