// Package channels defines the inbound Message model, the priority dispatch
// queue shared by every producer, and the contracts that channel
// implementations (console, Telegram, Discord, WhatsApp) satisfy.
package channels

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies the channel a message came from.
type Source string

const (
	SourceConsole  Source = "console"
	SourceTelegram Source = "telegram"
	SourceWhatsApp Source = "whatsapp"
	SourceDiscord  Source = "discord"
	SourceEmail    Source = "email"
	SourceSystem   Source = "system"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceConsole, SourceTelegram, SourceWhatsApp, SourceDiscord, SourceEmail, SourceSystem:
		return true
	}
	return false
}

// Message priorities. Lower values are dequeued first.
const (
	PrioritySystem = 1
	PriorityUser   = 2
)

// GroupPrefix marks non-numeric chat identifiers that denote a group.
const GroupPrefix = "grp_"

// whatsAppGroupSuffix is the JID server used by WhatsApp groups.
const whatsAppGroupSuffix = "@g.us"

// Message is one inbound unit of work. It is created by a producer,
// consumed once by the worker and then discarded.
type Message struct {
	// ID is a unique identifier used only for log correlation.
	ID string

	// Priority orders the message in the queue (lower first).
	Priority int

	// Content is the text body.
	Content string

	// Source is the originating channel.
	Source Source

	// UserID identifies the sender.
	UserID string

	// ChatID identifies the conversation. Equals UserID for direct chats.
	ChatID string

	// Metadata holds channel-specific extras (display name, chat title...).
	Metadata map[string]string

	// CreatedAt is the creation time. Only used as an ordering tie-breaker.
	CreatedAt time.Time

	// seq is stamped by the queue on enqueue and breaks exact timestamp ties.
	seq uint64
}

// NewMessage builds a message with a fresh ID and creation timestamp.
func NewMessage(priority int, content string, source Source, userID, chatID string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Priority:  priority,
		Content:   content,
		Source:    source,
		UserID:    userID,
		ChatID:    chatID,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now(),
	}
}

// Meta returns a metadata value or "" when absent.
func (m *Message) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// IsGroup reports whether the message belongs to a group conversation.
func (m *Message) IsGroup() bool {
	return IsGroupChat(m.ChatID)
}

// Route returns the delivery route for replies to this message.
func (m *Message) Route() Route {
	return Route{Source: m.Source, ChatID: m.ChatID, UserID: m.UserID}
}

// Less orders messages by priority, then creation time, then enqueue order.
// Content, source, ids and metadata never participate.
func Less(a, b *Message) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

// IsGroupChat reports whether chatID denotes a group conversation.
// Numeric ids are groups when negative (Telegram convention). Non-numeric
// ids are groups when they carry the grp_ prefix or the WhatsApp group
// server suffix.
func IsGroupChat(chatID string) bool {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return false
	}
	if n, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return n < 0
	}
	return strings.HasPrefix(chatID, GroupPrefix) || strings.HasSuffix(chatID, whatsAppGroupSuffix)
}

// ChatKind returns "group" or "private" for chatID.
func ChatKind(chatID string) string {
	if IsGroupChat(chatID) {
		return "group"
	}
	return "private"
}
