// Secure bot token storage via the operating system keyring (Linux:
// Secret Service/GNOME Keyring, macOS: Keychain, Windows: Credential
// Manager).
//
// Priority for resolving a channel token:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (TELEGRAM_BOT_TOKEN, DISCORD_BOT_TOKEN)
//  3. .env file (loaded by godotenv)
//  4. config value (least secure, plaintext on disk)
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "hookclaw"

// KeyringTokenKey returns the keyring key for a channel's bot token.
func KeyringTokenKey(channel string) string {
	return channel + "_token"
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
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

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	// Try a write+delete cycle with a test key.
	testKey := "__hookclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveTokens fills channel bot tokens using the priority chain:
// keyring, then environment variable, then config value. The env and
// config steps already ran during Load; this overlays keyring entries
// on top and warns when an enabled channel still has no token.
func ResolveTokens(cfg *Config, logger *slog.Logger) {
	if tok := GetKeyring(KeyringTokenKey("telegram")); tok != "" {
		cfg.Channels.Telegram.Token = tok
		logger.Debug("telegram token loaded from OS keyring")
	}
	if tok := GetKeyring(KeyringTokenKey("discord")); tok != "" {
		cfg.Channels.Discord.Token = tok
		logger.Debug("discord token loaded from OS keyring")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		logger.Warn("telegram enabled but no token found",
			"hint", "run: hookclaw token set telegram, or export "+TokenEnvVars["telegram"])
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		logger.Warn("discord enabled but no token found",
			"hint", "run: hookclaw token set discord, or export "+TokenEnvVars["discord"])
	}
}

// ReadPassword prompts for a secret without echoing it. Falls back to a
// plain read when stdin is not a terminal (piped input).
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	secret, err := term.ReadPassword(fd)
	if err != nil {
		var buf [1024]byte
		n, readErr := os.Stdin.Read(buf[:])
		if readErr != nil {
			return "", fmt.Errorf("reading secret: %w", readErr)
		}
		secret = buf[:n]
	}

	fmt.Println()
	return strings.TrimRight(string(secret), "\r\n"), nil
}
