// Package commands implements the AndrewClaw CLI commands using cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "andrewclaw",
		Short: "AndrewClaw - multi-channel personal assistant",
		Long: `AndrewClaw runs the Andrew Martin assistant on the terminal and on
messaging channels (Telegram, Discord, WhatsApp), remembering each chat and
the people and cities it talks about.

Examples:
  andrewclaw serve
  andrewclaw serve --channel telegram --no-console
  andrewclaw chats
  andrewclaw history terminal --limit 20
  andrewclaw config init`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatsCmd(),
		newHistoryCmd(),
		newConsolidateCmd(),
		newConfigCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}

// configPath returns the --config flag, or the first discovered file.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path != "" {
		return path
	}
	return copilot.FindConfigFile()
}

// loadConfig loads the configuration. A missing file yields defaults plus
// the environment.
func loadConfig(cmd *cobra.Command) (*copilot.Config, error) {
	path := configPath(cmd)
	cfg, err := copilot.LoadConfig(path)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cmd *cobra.Command, cfg *copilot.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose || cfg.IsDevelopment() {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// setup loads config and logger, the prelude of every command touching data.
func setup(cmd *cobra.Command) (*copilot.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cmd, cfg), nil
}
