// Package copilot – history_sqlite.go stores transcripts in a SQLite
// database, for deployments with many chats.
package copilot

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

const historySchema = `
CREATE TABLE IF NOT EXISTS history (
	chat_id TEXT    NOT NULL,
	seq     INTEGER NOT NULL,
	role    TEXT    NOT NULL,
	content TEXT    NOT NULL,
	PRIMARY KEY (chat_id, seq)
);`

// SQLiteHistoryStore implements HistoryStore on a history table.
type SQLiteHistoryStore struct {
	db     *sql.DB
	limit  int
	logger *slog.Logger

	mu sync.Mutex // serializes Save so seq numbering stays consistent
}

// OpenSQLiteHistoryStore opens (creating if needed) the database at path.
func OpenSQLiteHistoryStore(path string, limit int, logger *slog.Logger) (*SQLiteHistoryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating history db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &SQLiteHistoryStore{
		db:     db,
		limit:  limit,
		logger: logger.With("component", "history", "backend", "sqlite"),
	}, nil
}

// Close closes the database.
func (s *SQLiteHistoryStore) Close() error { return s.db.Close() }

// Load implements HistoryStore.
func (s *SQLiteHistoryStore) Load(chatID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(`
		SELECT role, content FROM (
			SELECT seq, role, content FROM history
			WHERE chat_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC`, chatID, limit)
	if err != nil {
		s.logger.Warn("history query failed, treating as empty", "chat_id", chatID, "error", err)
		return nil, nil
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			s.logger.Warn("history row unreadable, treating as empty", "chat_id", chatID, "error", err)
			return nil, nil
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("history iteration failed, treating as empty", "chat_id", chatID, "error", err)
		return nil, nil
	}
	return turns, nil
}

// Save implements HistoryStore. The transcript is replaced in one
// transaction so readers see either the old or the new one.
func (s *SQLiteHistoryStore) Save(chatID string, turns []Turn) error {
	if chatID == "" {
		return fmt.Errorf("save history: empty chat id")
	}
	filtered := FilterPersistable(turns, s.limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM history WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO history (chat_id, seq, role, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range filtered {
		if _, err := stmt.Exec(chatID, i, t.Role, t.Content); err != nil {
			return fmt.Errorf("insert history row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

// ChatIDs implements HistoryStore.
func (s *SQLiteHistoryStore) ChatIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT chat_id FROM history ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list history chats: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ HistoryStore = (*SQLiteHistoryStore)(nil)
