// Package whatsapp implements the WhatsApp channel using whatsmeow, a
// native Go WhatsApp Web client. The linked device is persisted in a local
// SQLite store; on first run a pairing QR code is logged for scanning.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the device store.

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

// Config holds WhatsApp channel configuration.
type Config struct {
	// Enabled turns the channel on. WhatsApp needs an interactive pairing
	// step, so it is off unless asked for.
	Enabled bool `yaml:"enabled"`

	// DatabasePath is the SQLite file holding the linked device session.
	DatabasePath string `yaml:"database_path"`

	// RespondToGroups accepts messages from group chats.
	RespondToGroups bool `yaml:"respond_to_groups"`

	// RespondToDMs accepts messages from direct chats.
	RespondToDMs bool `yaml:"respond_to_dms"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatabasePath:    "./data/whatsapp.db",
		RespondToGroups: true,
		RespondToDMs:    true,
	}
}

// WhatsApp is the event producer and the deliverer for WhatsApp chats.
type WhatsApp struct {
	cfg    Config
	queue  channels.Enqueuer
	logger *slog.Logger

	mu        sync.Mutex
	client    *whatsmeow.Client
	cancel    context.CancelFunc
	connected atomic.Bool
}

// New creates a WhatsApp channel feeding queue.
func New(cfg Config, queue channels.Enqueuer, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultConfig().DatabasePath
	}
	return &WhatsApp{
		cfg:    cfg,
		queue:  queue,
		logger: logger.With("component", "whatsapp"),
	}
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return string(channels.SourceWhatsApp) }

// Start opens the device store and connects. Without an existing session
// the QR login runs in the background so other channels are not blocked.
func (w *WhatsApp) Start(ctx context.Context) error {
	if !w.cfg.Enabled {
		return fmt.Errorf("whatsapp: %w", channels.ErrProducerDisabled)
	}

	ctx, cancel := context.WithCancel(ctx)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.DatabasePath),
		waLog.Noop)
	if err != nil {
		cancel()
		return fmt.Errorf("whatsapp: creating session store: %w", err)
	}

	device, err := firstDevice(ctx, container)
	if err != nil {
		cancel()
		return fmt.Errorf("whatsapp: getting device: %w", err)
	}

	store.SetOSInfo("AndrewClaw", [3]uint32{1, 0, 0})

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.EnableAutoReconnect = true
	client.AddEventHandler(func(raw interface{}) {
		w.handleEvent(ctx, raw)
	})

	w.mu.Lock()
	w.client = client
	w.cancel = cancel
	w.mu.Unlock()

	if client.Store.ID == nil {
		w.logger.Info("whatsapp: no existing session, waiting for QR pairing")
		go func() {
			if err := w.loginWithQR(ctx, client); err != nil && ctx.Err() == nil {
				w.logger.Warn("whatsapp: QR login failed", "error", err)
			}
		}()
		return nil
	}

	if err := client.Connect(); err != nil {
		cancel()
		return fmt.Errorf("whatsapp: connecting: %w", err)
	}
	w.connected.Store(true)
	w.logger.Info("whatsapp: connected (existing session)", "jid", client.Store.ID.String())
	return nil
}

// Stop disconnects the client.
func (w *WhatsApp) Stop() {
	w.mu.Lock()
	client, cancel := w.client, w.cancel
	w.client, w.cancel = nil, nil
	w.mu.Unlock()

	w.connected.Store(false)
	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Disconnect()
	}
}

// Deliver sends content as a plain text message to route.ChatID.
func (w *WhatsApp) Deliver(ctx context.Context, content string, route channels.Route) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client == nil || !w.connected.Load() {
		return fmt.Errorf("whatsapp: not connected")
	}

	jid, err := parseJID(route.ChatID)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid JID %q: %w", route.ChatID, err)
	}

	if _, err := client.SendMessage(ctx, jid, textMessage(content)); err != nil {
		return fmt.Errorf("whatsapp: sending message: %w", err)
	}
	return nil
}

func (w *WhatsApp) handleEvent(ctx context.Context, raw interface{}) {
	if ctx.Err() != nil {
		return
	}
	switch evt := raw.(type) {
	case *events.Message:
		if msg := w.toMessage(evt); msg != nil {
			if !w.queue.Enqueue(msg) {
				w.logger.Warn("whatsapp: queue closed, dropping message", "msg_id", evt.Info.ID)
			}
		}
	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("whatsapp: connected")
	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: disconnected")
	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: logged out, pairing required on next start")
	}
}

// toMessage converts a message event into a Message. Returns nil for own
// messages, broadcasts, filtered chats and non-text content.
func (w *WhatsApp) toMessage(evt *events.Message) *channels.Message {
	if evt == nil || evt.Info.IsFromMe || evt.Info.Chat.Server == types.BroadcastServer {
		return nil
	}
	if evt.Info.IsGroup && !w.cfg.RespondToGroups {
		return nil
	}
	if !evt.Info.IsGroup && !w.cfg.RespondToDMs {
		return nil
	}

	text := extractText(evt.Message)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	msg := channels.NewMessage(channels.PriorityUser, text, channels.SourceWhatsApp,
		evt.Info.Sender.ToNonAD().String(), evt.Info.Chat.String())
	msg.Metadata["username"] = evt.Info.PushName
	msg.Metadata["message_id"] = string(evt.Info.ID)
	if !evt.Info.Timestamp.IsZero() {
		msg.CreatedAt = evt.Info.Timestamp
	}
	return msg
}

func (w *WhatsApp) loginWithQR(ctx context.Context, client *whatsmeow.Client) error {
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				w.logger.Info("whatsapp: scan this code with WhatsApp > Linked devices", "qr", evt.Code)
			case "success":
				w.connected.Store(true)
				w.logger.Info("whatsapp: login successful")
				return nil
			case "timeout":
				return fmt.Errorf("QR code timeout")
			default:
				if evt.Error != nil {
					return fmt.Errorf("QR login error: %w", evt.Error)
				}
			}
		}
	}
}

func firstDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// extractText returns the text of plain and extended text messages, or
// the caption of image messages.
func extractText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if m.Conversation != nil {
		return m.GetConversation()
	}
	if ext := m.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := m.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	return ""
}

func textMessage(content string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(content)}
}

// parseJID accepts a full JID or a bare phone number.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

var (
	_ channels.Producer  = (*WhatsApp)(nil)
	_ channels.Deliverer = (*WhatsApp)(nil)
)
