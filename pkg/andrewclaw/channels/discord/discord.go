// Package discord implements the Discord channel using discordgo. It is a
// reserved channel: disabled unless a bot token is configured.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

// MaxMessageLength is Discord's per-message character limit.
const MaxMessageLength = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token. Empty disables the channel.
	Token string `yaml:"token" env:"DISCORD_BOT_TOKEN"`

	// AllowedGuilds restricts which guild (server) IDs are accepted.
	// Empty accepts all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// RespondToGuilds accepts messages posted in guild channels.
	RespondToGuilds bool `yaml:"respond_to_guilds"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{RespondToGuilds: true}
}

// session is the subset of *discordgo.Session used here.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord is the gateway producer and the deliverer for Discord channels.
type Discord struct {
	cfg    Config
	queue  channels.Enqueuer
	logger *slog.Logger

	mu      sync.Mutex
	session session
	cancel  context.CancelFunc
}

// New creates a Discord channel feeding queue.
func New(cfg Config, queue channels.Enqueuer, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:    cfg,
		queue:  queue,
		logger: logger.With("component", "discord"),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return string(channels.SourceDiscord) }

// Start opens the gateway connection. discordgo runs its own event
// goroutines; Start returns once the connection is established.
func (d *Discord) Start(ctx context.Context) error {
	if strings.TrimSpace(d.cfg.Token) == "" {
		return fmt.Errorf("discord: no token configured: %w", channels.ErrProducerDisabled)
	}

	s, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	ctx, cancel := context.WithCancel(ctx)
	s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if ctx.Err() != nil {
			return
		}
		selfID := ""
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		d.handle(selfID, m)
	})

	if err := s.Open(); err != nil {
		cancel()
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.mu.Lock()
	d.session = s
	d.cancel = cancel
	if s.State != nil && s.State.User != nil {
		d.logger.Info("discord: connected", "bot", s.State.User.Username, "id", s.State.User.ID)
	}
	d.mu.Unlock()
	return nil
}

// Stop closes the gateway connection.
func (d *Discord) Stop() {
	d.mu.Lock()
	s, cancel := d.session, d.cancel
	d.session, d.cancel = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s != nil {
		if err := s.Close(); err != nil {
			d.logger.Warn("discord: close failed", "error", err)
		}
	}
}

// Deliver sends content to the channel addressed by route, split at the
// Discord length limit.
func (d *Discord) Deliver(_ context.Context, content string, route channels.Route) error {
	d.mu.Lock()
	s := d.session
	d.mu.Unlock()
	if s == nil {
		return fmt.Errorf("discord: not connected")
	}

	channelID := strings.TrimPrefix(route.ChatID, channels.GroupPrefix)
	for _, chunk := range splitMessage(content, MaxMessageLength) {
		if _, err := s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: chunk}); err != nil {
			return fmt.Errorf("discord: sending message: %w", err)
		}
	}
	return nil
}

func (d *Discord) handle(selfID string, m *discordgo.MessageCreate) {
	msg := d.toMessage(selfID, m)
	if msg == nil {
		return
	}
	if !d.queue.Enqueue(msg) {
		d.logger.Warn("discord: queue closed, dropping message", "msg_id", m.ID)
	}
}

// toMessage converts a gateway event into a Message. Guild channels get
// the group prefix so group detection works on snowflake ids.
func (d *Discord) toMessage(selfID string, m *discordgo.MessageCreate) *channels.Message {
	if m == nil || m.Message == nil || m.Author == nil {
		return nil
	}
	if m.Author.ID == selfID || m.Author.Bot {
		return nil
	}
	if strings.TrimSpace(m.Content) == "" {
		return nil
	}

	isGuild := m.GuildID != ""
	if isGuild {
		if !d.cfg.RespondToGuilds || !d.guildAllowed(m.GuildID) {
			return nil
		}
	}

	chatID := m.ChannelID
	if isGuild {
		chatID = channels.GroupPrefix + m.ChannelID
	}

	msg := channels.NewMessage(channels.PriorityUser, m.Content, channels.SourceDiscord, m.Author.ID, chatID)
	msg.Metadata["username"] = m.Author.Username
	msg.Metadata["message_id"] = m.ID
	if isGuild {
		msg.Metadata["guild_id"] = m.GuildID
	}
	if !m.Timestamp.IsZero() {
		msg.CreatedAt = m.Timestamp
	}
	return msg
}

func (d *Discord) guildAllowed(id string) bool {
	if len(d.cfg.AllowedGuilds) == 0 {
		return true
	}
	for _, g := range d.cfg.AllowedGuilds {
		if g == id {
			return true
		}
	}
	return false
}

// splitMessage splits text into chunks of at most maxLen runes, cutting at
// a newline in the second half of the window when there is one.
func splitMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cutAt = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}

var (
	_ channels.Producer  = (*Discord)(nil)
	_ channels.Deliverer = (*Discord)(nil)
)
