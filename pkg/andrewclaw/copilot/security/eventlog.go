// Package security – eventlog.go persists security events to one JSON file
// per calendar day under the configured directory.
package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Threat levels.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// Event types not derived from a threat category.
const (
	EventProfileAccess             = "PROFILE_ACCESS"
	EventSecretVerificationSuccess = "SECRET_VERIFICATION_SUCCESS"
	EventSecretVerificationFailed  = "SECRET_VERIFICATION_FAILED"
)

// Event is one entry of the daily log file.
type Event struct {
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	EventType   string         `json:"event_type"`
	ThreatLevel string         `json:"threat_level"`
	User        string         `json:"user"`
	Details     map[string]any `json:"details"`
	ActionTaken string         `json:"action_taken"`
}

// EventLog appends events to security_log_YYYY-MM-DD.json files.
type EventLog struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewEventLog creates an event log writing into dir.
func NewEventLog(dir string, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{
		dir:    dir,
		logger: logger.With("component", "security"),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (l *EventLog) SetClock(now func() time.Time) { l.now = now }

// FilePath returns the log file holding events of day.
func (l *EventLog) FilePath(day time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("security_log_%s.json", day.Format("2006-01-02")))
}

// LogEvent appends one event to today's file and returns it.
func (l *EventLog) LogEvent(eventType, level, user string, details map[string]any) (Event, error) {
	now := l.now()
	if details == nil {
		details = map[string]any{}
	}
	ev := Event{
		ID:          uuid.NewString(),
		Timestamp:   now.Format(time.RFC3339Nano),
		EventType:   eventType,
		ThreatLevel: level,
		User:        user,
		Details:     details,
		ActionTaken: "logged",
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.FilePath(now)
	events, err := l.readLocked(path)
	if err != nil {
		return ev, err
	}
	events = append(events, ev)

	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return ev, fmt.Errorf("creating security log dir: %w", err)
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return ev, fmt.Errorf("encoding security log: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return ev, fmt.Errorf("writing security log: %w", err)
	}

	l.logger.Warn("security event", "type", eventType, "level", level, "user", user)
	return ev, nil
}

// LogThreat records a pattern-matched threat.
func (l *EventLog) LogThreat(threatType, userInput, response, user string) (Event, error) {
	return l.LogEvent("THREAT_DETECTED_"+strings.ToUpper(threatType), LevelMedium, user, map[string]any{
		"user_input":       userInput,
		"response_given":   response,
		"detection_method": "pattern_matching",
	})
}

// LogProfileAccess records a read of a user profile.
func (l *EventLog) LogProfileAccess(user, accessedBy, purpose string) (Event, error) {
	return l.LogEvent(EventProfileAccess, LevelLow, user, map[string]any{
		"profile_accessed": user,
		"accessed_by":      accessedBy,
		"purpose":          purpose,
		"data_protected":   true,
	})
}

// LogSecretVerification records a secret check. Failures are high level.
func (l *EventLog) LogSecretVerification(user string, success bool, attempts int) (Event, error) {
	eventType, level := EventSecretVerificationSuccess, LevelLow
	var verifiedAt any
	if success {
		verifiedAt = l.now().Format(time.RFC3339Nano)
	} else {
		eventType, level = EventSecretVerificationFailed, LevelHigh
	}
	return l.LogEvent(eventType, level, user, map[string]any{
		"user":               user,
		"success":            success,
		"attempts":           attempts,
		"timestamp_verified": verifiedAt,
	})
}

// Events returns the events logged on day.
func (l *EventLog) Events(day time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked(l.FilePath(day))
}

// readLocked loads a day file. A corrupt file is moved aside so new
// events are not lost behind it.
func (l *EventLog) readLocked(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading security log: %w", err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		aside := path + ".corrupt"
		l.logger.Warn("security log unreadable, starting a new one", "path", path, "moved_to", aside, "error", err)
		_ = os.Rename(path, aside)
		return nil, nil
	}
	return events, nil
}
