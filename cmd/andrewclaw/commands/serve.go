package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels/console"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels/discord"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels/telegram"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/channels/whatsapp"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `andrewclaw serve` command that runs the assistant.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant on the terminal and messaging channels",
		Long: `Start AndrewClaw: the console plus every configured channel feed one
queue processed by a single worker. Ctrl+C, SIGTERM or typing an exit word
on the console saves what was learned from every chat and exits.

Examples:
  andrewclaw serve
  andrewclaw serve --channel console,telegram
  andrewclaw serve --no-console`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (console, telegram, discord, whatsapp)")
	cmd.Flags().Bool("no-console", false, "do not read from the terminal")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	// Audit before resolving so hardcoded keys in the file are reported.
	auditAtStartup(cfg, configPath(cmd), logger)
	copilot.ResolveAPIKey(cfg, logger)

	assistant, err := copilot.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("building assistant: %w", err)
	}
	assistant.SetExit(func(code int) {
		if err := assistant.Close(); err != nil {
			logger.Warn("closing history", "error", err)
		}
		os.Exit(code)
	})

	filter, _ := cmd.Flags().GetStringSlice("channel")
	noConsole, _ := cmd.Flags().GetBool("no-console")

	if err := registerChannels(assistant, cfg, filter, noConsole, logger); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := assistant.Start(ctx); err != nil {
		return fmt.Errorf("starting: %w", err)
	}

	logger.Info("AndrewClaw running. Press Ctrl+C to stop.", "name", cfg.Name)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	assistant.Shutdown(sig.String())
	return nil
}

// registerChannels adds every enabled producer. The console exit words
// trigger the same shutdown as a signal.
func registerChannels(a *copilot.Assistant, cfg *copilot.Config, filter []string, noConsole bool, logger *slog.Logger) error {
	q := a.Queue()

	if !noConsole && shouldEnable("console", filter, cfg.Channels.Console.Enabled) {
		cfg.Channels.Console.Enabled = true
		c := console.New(cfg.Channels.Console, q, logger,
			console.WithExitHook(func() { a.Shutdown("console exit") }))
		if err := a.AddProducer(c, c); err != nil {
			return err
		}
	}
	if shouldEnable("telegram", filter, cfg.Channels.Telegram.Token != "") {
		t := telegram.New(cfg.Channels.Telegram, q, logger)
		if err := a.AddProducer(t, t); err != nil {
			return err
		}
	}
	if shouldEnable("discord", filter, cfg.Channels.Discord.Token != "") {
		d := discord.New(cfg.Channels.Discord, q, logger)
		if err := a.AddProducer(d, d); err != nil {
			return err
		}
	}
	if shouldEnable("whatsapp", filter, cfg.Channels.WhatsApp.Enabled) {
		cfg.Channels.WhatsApp.Enabled = true
		w := whatsapp.New(cfg.Channels.WhatsApp, q, logger)
		if err := a.AddProducer(w, w); err != nil {
			return err
		}
	}
	return nil
}

// shouldEnable checks if a channel should be enabled.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	return slices.Contains(filter, name)
}
