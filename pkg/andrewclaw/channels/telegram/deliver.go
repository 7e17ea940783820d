package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

// sender is the subset of *bot.Bot used for replies.
type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// newBotSender builds a go-telegram/bot client for outbound messages only.
// Updates are pulled by pollLoop so the bot's own poller is never started.
func newBotSender(cfg Config) (*bot.Bot, error) {
	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.APIURL != "" && cfg.APIURL != DefaultAPIURL {
		opts = append(opts, bot.WithServerURL(strings.TrimRight(cfg.APIURL, "/")))
	}
	return bot.New(cfg.Token, opts...)
}

// Deliver escapes content for HTML parse mode, splits it into chunks that
// fit the API limit and sends them in order with a short pause between.
func (t *Telegram) Deliver(ctx context.Context, content string, route channels.Route) error {
	if content == "" {
		return nil
	}
	if t.sender == nil {
		return fmt.Errorf("telegram: channel not started")
	}

	chunks := ChunkMessage(EscapeHTML(content), MaxMessageLength)
	for i, chunk := range chunks {
		if i > 0 && !sleep(ctx, t.cfg.ChunkDelay) {
			return ctx.Err()
		}
		_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatIDParam(route.ChatID),
			Text:      chunk,
			ParseMode: models.ParseModeHTML,
		})
		if err != nil {
			return fmt.Errorf("telegram: sending chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// chatIDParam passes numeric ids as int64 and usernames (@channel) as-is.
func chatIDParam(chatID string) any {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return id
	}
	return chatID
}
