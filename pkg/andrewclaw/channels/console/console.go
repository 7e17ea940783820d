// Package console implements the local terminal channel. It reads lines
// from stdin (with line editing when attached to a terminal) and prints
// replies back to stdout.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels"
)

const (
	// LocalUserID is the fixed user id of the terminal operator.
	LocalUserID = "admin_local"

	// TerminalChatID is the fixed chat id of the terminal conversation.
	TerminalChatID = "terminal"
)

// DefaultExitTokens end the console session.
var DefaultExitTokens = []string{"exit", "quit", "bye", "adios", "adiós", "hasta luego"}

// Config holds console channel configuration.
type Config struct {
	// Enabled turns the console producer on.
	Enabled bool `yaml:"enabled"`

	// Prompt is shown before each input line when attached to a terminal.
	Prompt string `yaml:"prompt"`

	// HistoryFile persists readline history. Empty disables it.
	HistoryFile string `yaml:"history_file"`

	// ExitTokens override DefaultExitTokens.
	ExitTokens []string `yaml:"exit_tokens"`
}

// DefaultConfig returns the default console configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Prompt:     "Usuario: ",
		ExitTokens: DefaultExitTokens,
	}
}

// Console is both the terminal producer and its deliverer.
type Console struct {
	cfg    Config
	queue  channels.Enqueuer
	logger *slog.Logger

	in  io.Reader
	out io.Writer

	onExit func()

	loop   channels.Loop
	cancel context.CancelFunc

	mu sync.Mutex
	rl *readline.Instance
}

// Option customizes a Console.
type Option func(*Console)

// WithInput reads from r instead of stdin. Disables readline.
func WithInput(r io.Reader) Option {
	return func(c *Console) { c.in = r }
}

// WithOutput writes replies to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Console) { c.out = w }
}

// WithExitHook registers fn to run when the operator types an exit token.
func WithExitHook(fn func()) Option {
	return func(c *Console) { c.onExit = fn }
}

// New creates a console channel feeding queue.
func New(cfg Config, queue channels.Enqueuer, logger *slog.Logger, opts ...Option) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.ExitTokens) == 0 {
		cfg.ExitTokens = DefaultExitTokens
	}
	c := &Console{
		cfg:    cfg,
		queue:  queue,
		logger: logger.With("component", "console"),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the channel name.
func (c *Console) Name() string { return string(channels.SourceConsole) }

// Start begins reading input in the background.
func (c *Console) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return fmt.Errorf("console: %w", channels.ErrProducerDisabled)
	}

	ctx, cancel := context.WithCancel(ctx)
	lines, err := c.openInput(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("console: opening input: %w", err)
	}
	c.cancel = cancel

	c.loop.Go(ctx, func(ctx context.Context) {
		c.run(ctx, lines)
	})
	return nil
}

// Stop stops accepting input and waits for the read loop to exit.
func (c *Console) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.loop.Stop()

	c.mu.Lock()
	rl := c.rl
	c.rl = nil
	c.mu.Unlock()
	if rl != nil {
		_ = rl.Close()
	}
}

// Deliver prints a reply for the terminal conversation.
func (c *Console) Deliver(_ context.Context, content string, _ channels.Route) error {
	if content == "" {
		return nil
	}
	_, err := fmt.Fprintf(c.writer(), "\n[🤖 Andrew]: %s\n\n", content)
	return err
}

// IsExitToken reports whether line ends the session.
func (c *Console) IsExitToken(line string) bool {
	line = strings.ToLower(strings.TrimSpace(line))
	for _, tok := range c.cfg.ExitTokens {
		if line == strings.ToLower(tok) {
			return true
		}
	}
	return false
}

func (c *Console) run(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				c.logger.Info("console input closed")
				return
			}

			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if c.IsExitToken(text) {
				c.logger.Info("console exit requested", "token", text)
				if c.onExit != nil {
					go c.onExit()
				}
				return
			}

			msg := channels.NewMessage(channels.PriorityUser, text, channels.SourceConsole, LocalUserID, TerminalChatID)
			msg.Metadata["username"] = LocalUserID
			if !c.queue.Enqueue(msg) {
				c.logger.Warn("queue closed, dropping console input")
				return
			}
		}
	}
}

// openInput returns a channel of raw input lines, closed on EOF.
func (c *Console) openInput(ctx context.Context) (<-chan string, error) {
	lines := make(chan string)

	if c.in == nil && term.IsTerminal(int(os.Stdin.Fd())) {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          c.cfg.Prompt,
			HistoryFile:     c.cfg.HistoryFile,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.rl = rl
		c.mu.Unlock()

		go func() {
			defer close(lines)
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err != nil {
					return
				}
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
		}()
		return lines, nil
	}

	in := c.in
	if in == nil {
		in = os.Stdin
	}
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("console read error", "error", err)
		}
	}()
	return lines, nil
}

func (c *Console) writer() io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rl != nil {
		return c.rl.Stdout()
	}
	return c.out
}

var (
	_ channels.Producer  = (*Console)(nil)
	_ channels.Deliverer = (*Console)(nil)
)
