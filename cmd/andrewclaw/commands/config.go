package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot"
	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot/security"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `andrewclaw config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and secrets",
		Long: `Manage the AndrewClaw configuration.

Examples:
  andrewclaw config init
  andrewclaw config show
  andrewclaw config set-key
  andrewclaw config audit --json`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigAuditCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file with an interactive wizard",
		RunE:  runConfigInit,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "file to write")
	return cmd
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("output")

	if _, err := os.Stat(path); err == nil {
		overwrite := false
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite it?", path)).
			Value(&overwrite).
			Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Nothing written.")
			return nil
		}
	}

	cfg := copilot.DefaultConfig()
	var apiKey, telegramToken string
	inactivity := fmt.Sprint(cfg.Maintenance.InactivityMinutes)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Value(&cfg.Name),
			huh.NewInput().
				Title("Model").
				Value(&cfg.Model),
			huh.NewInput().
				Title("API base URL (OpenAI compatible)").
				Value(&cfg.API.BaseURL),
			huh.NewInput().
				Title("API key").
				Description("Stored in the OS keyring, never in the file. Leave empty to skip.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Mode").
				Options(
					huh.NewOption("production", copilot.StatusProduction),
					huh.NewOption("development (prints every model sub-turn)", copilot.StatusDevelopment),
				).
				Value(&cfg.AppStatus),
			huh.NewInput().
				Title("Timezone").
				Value(&cfg.Timezone),
			huh.NewSelect[string]().
				Title("History storage").
				Options(
					huh.NewOption("JSON files (one per chat)", copilot.HistoryBackendJSON),
					huh.NewOption("SQLite database", copilot.HistoryBackendSQLite),
				).
				Value(&cfg.History.Backend),
			huh.NewInput().
				Title("Minutes of inactivity before a chat is consolidated").
				Value(&inactivity).
				Validate(validatePositiveInt),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("Written to .env as TELEGRAM_BOT_TOKEN. Leave empty to disable Telegram.").
				EchoMode(huh.EchoModePassword).
				Value(&telegramToken),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	fmt.Sscan(inactivity, &cfg.Maintenance.InactivityMinutes)
	cfg.API.APIKey = "${DEEPSEEK_API_KEY:-}"
	cfg.Channels.Telegram.Token = "${TELEGRAM_BOT_TOKEN:-}"

	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		if err := copilot.StoreKeyring(copilot.KeyringAPIKey, apiKey); err != nil {
			fmt.Printf("[!] Could not use the OS keyring (%v).\n", err)
			fmt.Println("    Set DEEPSEEK_API_KEY in .env instead.")
		} else {
			fmt.Println("API key stored in the OS keyring.")
		}
	}
	if telegramToken = strings.TrimSpace(telegramToken); telegramToken != "" {
		if err := appendEnv(".env", "TELEGRAM_BOT_TOKEN", telegramToken); err != nil {
			return err
		}
		fmt.Println("Telegram token written to .env.")
	}

	if err := copilot.SaveConfigToFile(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("Start the assistant with: andrewclaw serve")
	return nil
}

func validatePositiveInt(s string) error {
	var n int
	if _, err := fmt.Sscan(s, &n); err != nil || n <= 0 {
		return errors.New("enter a positive number")
	}
	return nil
}

// appendEnv adds key=value to an env file with owner-only permissions.
func appendEnv(path, key, value string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s=%s\n", key, value); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			source := copilot.ResolveAPIKey(cfg, slog.New(slog.DiscardHandler))

			masked := *cfg
			masked.API.APIKey = maskSecret(cfg.API.APIKey)
			masked.Channels.Telegram.Token = maskSecret(cfg.Channels.Telegram.Token)
			masked.Channels.Discord.Token = maskSecret(cfg.Channels.Discord.Token)

			out, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			if path := configPath(cmd); path != "" {
				fmt.Printf("# file: %s\n", path)
			} else {
				fmt.Println("# no config file, defaults + environment")
			}
			if source != "" {
				fmt.Printf("# api key from: %s\n", source)
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

// maskSecret keeps the last four characters of long secrets.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store the model API key in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			remove, _ := cmd.Flags().GetBool("delete")
			if remove {
				if err := copilot.DeleteKeyring(copilot.KeyringAPIKey); err != nil {
					return fmt.Errorf("removing key: %w", err)
				}
				fmt.Println("API key removed from the OS keyring.")
				return nil
			}

			key, err := copilot.ReadSecret("API key: ", os.Stdin, os.Stdout)
			if err != nil {
				return err
			}
			if key == "" {
				return errors.New("empty key, nothing stored")
			}
			if err := copilot.StoreKeyring(copilot.KeyringAPIKey, key); err != nil {
				return err
			}
			fmt.Println("API key stored in the OS keyring.")
			return nil
		},
	}
	cmd.Flags().Bool("delete", false, "remove the stored key instead")
	return cmd
}

func newConfigAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check for plaintext secrets and loose file permissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			report := runAudit(cfg, configPath(cmd))

			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Println(report.Summary())
			for _, f := range report.Findings {
				fmt.Printf("\n[%s] %s (%s)\n  %s\n  Fix: %s\n",
					strings.ToUpper(f.Severity), f.Title, f.CheckID, f.Detail, f.Remediation)
			}
			if report.CriticalCount > 0 {
				return fmt.Errorf("%d critical finding(s)", report.CriticalCount)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the report as JSON")
	return cmd
}

// runAudit audits cfg. Secret checks use the raw file values, before
// environment expansion.
func runAudit(cfg *copilot.Config, path string) *security.AuditReport {
	opts := security.AuditOptions{
		ConfigPath:    path,
		DataDir:       cfg.DataDir,
		LogsDir:       cfg.LogsDir,
		KeyringHasKey: copilot.GetKeyring(copilot.KeyringAPIKey) != "",
	}
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if raw, err := copilot.ParseConfig(data); err == nil {
				opts.RawAPIKey = raw.API.APIKey
				opts.RawBotToken = raw.Channels.Telegram.Token
			}
		}
	}
	resolved := *cfg
	opts.APIKeyResolved = copilot.ResolveAPIKey(&resolved, slog.New(slog.DiscardHandler)) != ""
	return security.RunAudit(opts)
}

// auditAtStartup logs critical and warning findings without failing.
func auditAtStartup(cfg *copilot.Config, path string, logger *slog.Logger) {
	for _, f := range runAudit(cfg, path).Findings {
		if f.Severity == security.SeverityInfo {
			continue
		}
		logger.Warn("security audit", "check", f.CheckID, "severity", f.Severity, "title", f.Title, "fix", f.Remediation)
	}
}
