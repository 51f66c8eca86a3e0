package config

import (
	"log/slog"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeyringRoundTrip(t *testing.T) {
	keyring.MockInit()

	key := KeyringTokenKey("telegram")
	if err := StoreKeyring(key, "123:stored-token"); err != nil {
		t.Fatalf("StoreKeyring: %v", err)
	}
	if got := GetKeyring(key); got != "123:stored-token" {
		t.Errorf("GetKeyring = %q, want stored value", got)
	}

	if !KeyringAvailable() {
		t.Error("KeyringAvailable = false with mock provider")
	}

	if err := DeleteKeyring(key); err != nil {
		t.Fatalf("DeleteKeyring: %v", err)
	}
	if got := GetKeyring(key); got != "" {
		t.Errorf("GetKeyring after delete = %q, want empty", got)
	}
}

func TestResolveTokens_KeyringWins(t *testing.T) {
	keyring.MockInit()

	if err := StoreKeyring(KeyringTokenKey("telegram"), "111:keyring-token"); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "222:config-token"

	ResolveTokens(cfg, slog.Default())

	if cfg.Channels.Telegram.Token != "111:keyring-token" {
		t.Errorf("token = %q, keyring should take precedence", cfg.Channels.Telegram.Token)
	}
}

func TestResolveTokens_ConfigKeptWhenKeyringEmpty(t *testing.T) {
	keyring.MockInit()

	cfg := DefaultConfig()
	cfg.Channels.Discord.Enabled = true
	cfg.Channels.Discord.Token = "config-discord-token"

	ResolveTokens(cfg, slog.Default())

	if cfg.Channels.Discord.Token != "config-discord-token" {
		t.Errorf("token = %q, config value should survive", cfg.Channels.Discord.Token)
	}
}
