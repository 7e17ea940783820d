// Package copilot – loader.go loads configuration from YAML with credentials
// coming from the environment, .env files or the OS keyring.
package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?error} and $VAR.
//
// Capture groups:
//   - 1: variable name (braced form)
//   - 2: modifier ("-" default, "?" required)
//   - 3: default value or error message
//   - 4: variable name (bare form)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// configCandidates are searched in order by FindConfigFile.
var configCandidates = []string{
	"config.yaml",
	"config.yml",
	"andrewclaw.yaml",
	"andrewclaw.yml",
	"configs/config.yaml",
}

// LoadConfig loads path, or pure defaults plus environment when path is
// empty. This is the entry point used by the CLI.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		loadEnvFiles()
		cfg := DefaultConfig()
		if err := applyEnvOverlay(cfg); err != nil {
			return nil, err
		}
		cfg.normalize()
		return cfg, nil
	}
	return LoadConfigFromFile(path)
}

// LoadConfigFromFile reads and parses a YAML configuration file.
// It loads .env files first and fails if a ${VAR:?msg} variable is unset.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverlay(cfg); err != nil {
		return nil, err
	}
	resolveRelativePaths(cfg, path)
	cfg.normalize()

	checkFilePermissions(path)
	return cfg, nil
}

// ParseConfig parses YAML bytes on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes cfg as YAML with owner-only permissions. The API
// key is written as an env reference when it came from the environment,
// and the previous file is kept as .bak.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.API.APIKey = sanitizeSecret(cfg.API.APIKey, "DEEPSEEK_API_KEY")
	sanitized.Channels.Telegram.Token = sanitizeSecret(cfg.Channels.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	sanitized.Channels.Discord.Token = sanitizeSecret(cfg.Channels.Discord.Token, "DISCORD_BOT_TOKEN")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile returns the first existing config file among the
// standard locations, or "".
func FindConfigFile() string {
	for _, path := range configCandidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// IsEnvReference reports whether s is an unexpanded env reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

// ---------- Internal ----------

// loadEnvFiles loads .env and .env.local. Existing variables win.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// applyEnvOverlay sets tagged fields from variables that are present,
// leaving everything else as loaded.
func applyEnvOverlay(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	return nil
}

// expandEnvVars replaces env references in input. An unset ${VAR:?msg}
// becomes an ERROR:VAR:msg marker for expandEnvVarsWithValidation.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, value, bare := sub[1], sub[2], sub[3], sub[4]

		if bare != "" {
			if v, ok := os.LookupEnv(bare); ok {
				return v
			}
			return match
		}

		if v, ok := os.LookupEnv(varName); ok {
			return v
		}
		switch modifier {
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			return "ERROR:" + varName + ":" + value
		case "-":
			return value
		}
		return match
	})
}

// expandEnvVarsWithValidation is expandEnvVars that fails on the first
// unset required variable.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx == -1 {
		return result, nil
	}
	rest := result[idx+len("ERROR:"):]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[:nl]
	}
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	return "", fmt.Errorf("config error: %s - %s", rest[:colon], strings.TrimSpace(rest[colon+1:]))
}

// resolveRelativePaths anchors data and log directories to the directory
// of the config file, expanding a leading ~.
func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)
	cfg.DataDir = resolvePathFromConfig(cfg.DataDir, dir)
	cfg.LogsDir = resolvePathFromConfig(cfg.LogsDir, dir)
	cfg.Channels.WhatsApp.DatabasePath = resolvePathFromConfig(cfg.Channels.WhatsApp.DatabasePath, dir)
	cfg.Channels.Console.HistoryFile = resolvePathFromConfig(cfg.Channels.Console.HistoryFile, dir)
}

func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// sanitizeSecret returns an env reference when value equals envVar's
// current value, so secrets are not written back to disk.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
