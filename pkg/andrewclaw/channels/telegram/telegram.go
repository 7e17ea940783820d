// Package telegram implements the Telegram channel. Inbound messages are
// received by long polling getUpdates with an explicit update cursor;
// replies are escaped, split and sent through the go-telegram/bot client.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Bot API token (from @BotFather). Empty disables the channel.
	Token string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`

	// APIURL overrides the Bot API endpoint (self-hosted servers, tests).
	APIURL string `yaml:"api_url"`

	// AllowedChats restricts which chat IDs are accepted. Empty accepts all.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// RespondToGroups accepts messages from group chats.
	RespondToGroups bool `yaml:"respond_to_groups"`

	// RespondToDMs accepts messages from private chats.
	RespondToDMs bool `yaml:"respond_to_dms"`

	// PollTimeout is the long polling timeout passed to getUpdates.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// PollDelay is the pause between successful poll cycles.
	PollDelay time.Duration `yaml:"poll_delay"`

	// RetryDelay is the fixed pause after a failed poll.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ChunkDelay is the pause between chunks of a long reply.
	ChunkDelay time.Duration `yaml:"chunk_delay"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:          DefaultAPIURL,
		RespondToGroups: true,
		RespondToDMs:    true,
		PollTimeout:     30 * time.Second,
		PollDelay:       2 * time.Second,
		RetryDelay:      5 * time.Second,
		ChunkDelay:      time.Second,
	}
}

// Telegram is the polling producer and the deliverer for Telegram chats.
type Telegram struct {
	cfg    Config
	queue  channels.Enqueuer
	logger *slog.Logger
	client *http.Client

	// baseURL is <api_url>/bot<token>.
	baseURL string

	// cursor is the highest update_id seen so far.
	cursor atomic.Int64

	// errorCount tracks consecutive poll failures.
	errorCount atomic.Int64

	sender sender
	loop   channels.Loop
}

// Option customizes a Telegram channel.
type Option func(*Telegram)

// WithHTTPClient replaces the HTTP client used for polling.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Telegram) { t.client = c }
}

// withSender replaces the outbound client. Used by tests.
func withSender(s sender) Option {
	return func(t *Telegram) { t.sender = s }
}

// New creates a Telegram channel feeding queue. Zero fields take their
// DefaultConfig values; a config that accepts neither DMs nor groups
// accepts both.
func New(cfg Config, queue channels.Enqueuer, logger *slog.Logger, opts ...Option) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.APIURL == "" {
		cfg.APIURL = defaults.APIURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaults.PollTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.PollDelay < 0 {
		cfg.PollDelay = 0
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	if !cfg.RespondToDMs && !cfg.RespondToGroups {
		cfg.RespondToDMs, cfg.RespondToGroups = defaults.RespondToDMs, defaults.RespondToGroups
	}

	t := &Telegram{
		cfg:     cfg,
		queue:   queue,
		logger:  logger.With("component", "telegram"),
		client:  &http.Client{Timeout: cfg.PollTimeout + 30*time.Second},
		baseURL: strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns "telegram".
func (t *Telegram) Name() string { return string(channels.SourceTelegram) }

// Enabled reports whether a token is configured.
func (t *Telegram) Enabled() bool { return strings.TrimSpace(t.cfg.Token) != "" }

// Cursor returns the highest update id acknowledged so far.
func (t *Telegram) Cursor() int64 { return t.cursor.Load() }

// Start launches the polling loop. Returns ErrProducerDisabled without a token.
func (t *Telegram) Start(ctx context.Context) error {
	if !t.Enabled() {
		return fmt.Errorf("telegram: no token configured: %w", channels.ErrProducerDisabled)
	}
	if t.sender == nil {
		s, err := newBotSender(t.cfg)
		if err != nil {
			return fmt.Errorf("telegram: creating bot client: %w", err)
		}
		t.sender = s
	}

	t.loop.Go(ctx, t.pollLoop)
	return nil
}

// Stop cancels the polling loop and waits for it to exit.
func (t *Telegram) Stop() {
	t.loop.Stop()
}

// pollLoop requests updates after the cursor until ctx is cancelled.
func (t *Telegram) pollLoop(ctx context.Context) {
	t.logger.Info("telegram: polling started")
	defer t.logger.Info("telegram: polling stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := t.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.errorCount.Add(1)
			t.logger.Warn("telegram: getUpdates error",
				"error", err,
				"consecutive_errors", t.errorCount.Load(),
				"retry_in", t.cfg.RetryDelay,
			)
			if !sleep(ctx, t.cfg.RetryDelay) {
				return
			}
			continue
		}

		t.errorCount.Store(0)
		if n > 0 {
			t.logger.Debug("telegram: updates received", "count", n, "cursor", t.cursor.Load())
		}
		if !sleep(ctx, t.cfg.PollDelay) {
			return
		}
	}
}

// pollOnce fetches one batch of updates, advances the cursor past every
// update in it and enqueues the text messages. Returns the batch size.
func (t *Telegram) pollOnce(ctx context.Context) (int, error) {
	updates, err := t.getUpdates(ctx, t.cursor.Load()+1, 100, int(t.cfg.PollTimeout/time.Second))
	if err != nil {
		return 0, err
	}

	for _, u := range updates {
		if u.UpdateID > t.cursor.Load() {
			t.cursor.Store(u.UpdateID)
		}
		if msg := t.toMessage(u); msg != nil {
			if !t.queue.Enqueue(msg) {
				t.logger.Warn("telegram: queue closed, dropping update", "update_id", u.UpdateID)
			}
		}
	}
	return len(updates), nil
}

// toMessage converts an update into a Message. Returns nil for updates
// that carry no text or are filtered out.
func (t *Telegram) toMessage(u tgUpdate) *channels.Message {
	m := u.Message
	if m == nil || strings.TrimSpace(m.Text) == "" {
		return nil
	}

	isGroup := m.Chat.Type == "group" || m.Chat.Type == "supergroup"
	if !t.chatAllowed(m.Chat.ID) {
		return nil
	}
	if isGroup && !t.cfg.RespondToGroups {
		return nil
	}
	if !isGroup && !t.cfg.RespondToDMs {
		return nil
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	userID := chatID
	username := ""
	if m.From != nil {
		userID = strconv.FormatInt(m.From.ID, 10)
		username = m.From.FirstName
		if username == "" {
			username = m.From.Username
		}
	}

	msg := channels.NewMessage(channels.PriorityUser, m.Text, channels.SourceTelegram, userID, chatID)
	msg.Metadata["username"] = username
	msg.Metadata["chat_type"] = m.Chat.Type
	if m.Chat.Title != "" {
		msg.Metadata["chat_title"] = m.Chat.Title
	}
	if m.From != nil && m.From.Username != "" {
		msg.Metadata["handle"] = m.From.Username
	}
	msg.Metadata["message_id"] = strconv.Itoa(m.MessageID)
	if m.Date > 0 {
		msg.Metadata["sent_at"] = time.Unix(int64(m.Date), 0).UTC().Format(time.RFC3339)
	}
	return msg
}

func (t *Telegram) chatAllowed(id int64) bool {
	if len(t.cfg.AllowedChats) == 0 {
		return true
	}
	for _, allowed := range t.cfg.AllowedChats {
		if allowed == id {
			return true
		}
	}
	return false
}

// ---------- Bot API wire types ----------

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID int     `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Date      int     `json:"date"`
	Text      string  `json:"text"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

// ---------- HTTP helpers ----------

// apiCall makes a JSON POST to the Bot API and returns the result field.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

func (t *Telegram) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	payload := map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message"},
	}
	data, err := t.apiCall(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// sleep waits for d or until ctx is done. Returns false if ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var (
	_ channels.Producer  = (*Telegram)(nil)
	_ channels.Deliverer = (*Telegram)(nil)
)
