// Package copilot – keyring.go stores the model API key in the operating
// system keyring (Secret Service, Keychain or Credential Manager).
//
// Resolution order for the API key:
//  1. OS keyring
//  2. DEEPSEEK_API_KEY (environment or .env)
//  3. config.yaml value
package copilot

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "andrewclaw"

	// KeyringAPIKey is the entry holding the model API key.
	KeyringAPIKey = "api_key"
)

// StoreKeyring saves a secret in the OS keyring.
func StoreKeyring(key, value string) error {
	if err := keyring.Set(keyringService, key, value); err != nil {
		return fmt.Errorf("storing %s in keyring: %w", key, err)
	}
	return nil
}

// GetKeyring returns a secret from the OS keyring, or "" when absent or
// when no keyring is available.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// ResolveAPIKey fills cfg.API.APIKey following the resolution order and
// reports where the key came from ("keyring", "config" or "").
func ResolveAPIKey(cfg *Config, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	if val := GetKeyring(KeyringAPIKey); val != "" {
		cfg.API.APIKey = val
		logger.Debug("API key loaded from OS keyring")
		return "keyring"
	}

	if cfg.API.APIKey != "" && !IsEnvReference(cfg.API.APIKey) {
		logger.Debug("API key loaded from config/env")
		return "config"
	}

	cfg.API.APIKey = ""
	logger.Warn("no API key found. Set one with: andrewclaw config set-key or DEEPSEEK_API_KEY")
	return ""
}

// ReadSecret prompts for a secret. On a terminal input is not echoed;
// otherwise one line is read from in.
func ReadSecret(prompt string, in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, prompt)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
