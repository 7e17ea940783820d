package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

type recordingQueue struct {
	mu   sync.Mutex
	msgs []*channels.Message
}

func (q *recordingQueue) Enqueue(msg *channels.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return true
}

type fakeSession struct {
	sent []string
	to   []string
}

func (f *fakeSession) Open() error  { return nil }
func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.to = append(f.to, channelID)
	f.sent = append(f.sent, data.Content)
	return &discordgo.Message{}, nil
}

func event(authorID, guildID, channelID, content string, bot bool) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: channelID,
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Username: "user" + authorID, Bot: bot},
	}}
}

func TestToMessage(t *testing.T) {
	t.Parallel()

	d := New(Config{RespondToGuilds: true, AllowedGuilds: []string{"g1"}}, &recordingQueue{}, nil)

	tests := []struct {
		name     string
		evt      *discordgo.MessageCreate
		wantChat string
		wantNil  bool
	}{
		{"dm", event("u1", "", "c1", "hola", false), "c1", false},
		{"allowed guild", event("u1", "g1", "c2", "hola", false), "grp_c2", false},
		{"other guild", event("u1", "g2", "c3", "hola", false), "", true},
		{"from self", event("self", "", "c1", "hola", false), "", true},
		{"from bot", event("u2", "", "c1", "hola", true), "", true},
		{"empty", event("u1", "", "c1", "  ", false), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := d.toMessage("self", tt.evt)
			if tt.wantNil {
				if msg != nil {
					t.Errorf("expected nil, got %+v", msg)
				}
				return
			}
			if msg == nil {
				t.Fatal("expected a message")
			}
			if msg.ChatID != tt.wantChat {
				t.Errorf("ChatID = %q, want %q", msg.ChatID, tt.wantChat)
			}
			if msg.Source != channels.SourceDiscord || msg.Priority != channels.PriorityUser {
				t.Errorf("unexpected source/priority: %s %d", msg.Source, msg.Priority)
			}
			if gotGroup := msg.IsGroup(); gotGroup != strings.HasPrefix(tt.wantChat, "grp_") {
				t.Errorf("IsGroup = %v for chat %q", gotGroup, msg.ChatID)
			}
		})
	}
}

func TestDeliver_StripsGroupPrefixAndSplits(t *testing.T) {
	t.Parallel()

	fs := &fakeSession{}
	d := New(DefaultConfig(), &recordingQueue{}, nil)
	d.session = fs

	long := strings.Repeat("a", MaxMessageLength+10)
	if err := d.Deliver(context.Background(), long, channels.Route{Source: channels.SourceDiscord, ChatID: "grp_123"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(fs.sent) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(fs.sent))
	}
	for _, to := range fs.to {
		if to != "123" {
			t.Errorf("expected prefix stripped channel id, got %q", to)
		}
	}
}

func TestDeliver_NotConnected(t *testing.T) {
	t.Parallel()

	d := New(DefaultConfig(), &recordingQueue{}, nil)
	if err := d.Deliver(context.Background(), "x", channels.Route{ChatID: "1"}); err == nil {
		t.Error("expected error when not connected")
	}
}

func TestStart_DisabledWithoutToken(t *testing.T) {
	t.Parallel()

	d := New(DefaultConfig(), &recordingQueue{}, nil)
	if err := d.Start(context.Background()); !errors.Is(err, channels.ErrProducerDisabled) {
		t.Errorf("expected ErrProducerDisabled, got %v", err)
	}
}

func TestSplitMessage(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 15) + "\n" + strings.Repeat("y", 10)
	got := splitMessage(text, 20)
	if len(got) != 2 || got[0] != strings.Repeat("x", 15)+"\n" || got[1] != strings.Repeat("y", 10) {
		t.Errorf("unexpected split %q", got)
	}
}
