package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "hookclaw.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("HOOKCLAW_TEST_TOKEN", "123456:test-token")

	path := writeConfig(t, t.TempDir(), `
channels:
  telegram:
    enabled: true
    token: ${HOOKCLAW_TEST_TOKEN}
claude:
  max_turns: 5
sessions: state/sessions.json
triggers:
  - chat: "*"
    pattern: "/ping"
    action: reply
    reply_text: pong
jobs:
  - schedule: "0 8 * * *"
    prompt: daily summary
    channel: telegram
    chat_id: "42"
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Channels.Telegram.Token != "123456:test-token" {
		t.Errorf("token = %q, env reference not expanded", cfg.Channels.Telegram.Token)
	}
	if cfg.Claude.MaxTurns != 5 {
		t.Errorf("Claude.MaxTurns = %d, want 5", cfg.Claude.MaxTurns)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}

	// Relative paths are resolved against the config file's directory.
	wantSessions := filepath.Join(filepath.Dir(path), "state/sessions.json")
	if cfg.Sessions != wantSessions {
		t.Errorf("Sessions = %q, want %q", cfg.Sessions, wantSessions)
	}
	if !filepath.IsAbs(cfg.PidFile) {
		t.Errorf("PidFile = %q, not resolved", cfg.PidFile)
	}

	// Triggers come back compiled.
	if len(cfg.Triggers) != 1 {
		t.Fatalf("got %d triggers", len(cfg.Triggers))
	}
	if _, ok := cfg.Triggers[0].MatchText("/ping"); !ok {
		t.Error("trigger not compiled by Load")
	}

	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Prompt != "daily summary" {
		t.Errorf("jobs not loaded: %+v", cfg.Jobs)
	}
}

func TestLoad_RequiredVarUnset(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
channels:
  telegram:
    token: ${HOOKCLAW_DEFINITELY_UNSET:?telegram token required}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unset required variable")
	}
	if !strings.Contains(err.Error(), "telegram token required") {
		t.Errorf("error = %v", err)
	}
}

func TestLoad_InvalidTriggerIsFatal(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
triggers:
  - chat: "*"
    pattern: "(["
    action: ignore
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid trigger pattern")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("HOOKCLAW_SET_VAR", "value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"braced set", "${HOOKCLAW_SET_VAR}", "value"},
		{"braced unset keeps placeholder", "${HOOKCLAW_UNSET_VAR_XYZ}", "${HOOKCLAW_UNSET_VAR_XYZ}"},
		{"default used when unset", "${HOOKCLAW_UNSET_VAR_XYZ:-fallback}", "fallback"},
		{"default ignored when set", "${HOOKCLAW_SET_VAR:-ignored}", "value"},
		{"bare var", "$HOOKCLAW_SET_VAR", "value"},
		{"embedded", "token: ${HOOKCLAW_SET_VAR} here", "token: value here"},
		{"no references", "plain text", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnvVarsWithValidation(t *testing.T) {
	t.Setenv("HOOKCLAW_SET_VAR", "value")

	if _, err := expandEnvVarsWithValidation("${HOOKCLAW_SET_VAR:?should not fire}"); err != nil {
		t.Errorf("unexpected error for set variable: %v", err)
	}

	_, err := expandEnvVarsWithValidation("${HOOKCLAW_UNSET_VAR_XYZ:?var is needed}")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "var is needed") {
		t.Errorf("error = %v", err)
	}

	_, err = expandEnvVarsWithValidation("${HOOKCLAW_UNSET_VAR_XYZ:?}")
	if err == nil || !strings.Contains(err.Error(), "required environment variable not set") {
		t.Errorf("error = %v, want default message", err)
	}
}

func TestSave(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123456:secret-token")

	dir := t.TempDir()
	path := filepath.Join(dir, "hookclaw.yaml")

	cfg := DefaultConfig()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "123456:secret-token"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret-token") {
		t.Error("raw token written to config file")
	}
	if !strings.Contains(string(data), "${TELEGRAM_BOT_TOKEN}") {
		t.Error("token not replaced with env reference")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %04o, want 0600", perm)
	}

	// Loading back resolves the reference from the environment again.
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.Channels.Telegram.Token != "123456:secret-token" {
		t.Errorf("round-trip token = %q", loaded.Channels.Telegram.Token)
	}

	// Second save backs up the first.
	if err := Save(cfg, path); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup not created: %v", err)
	}
}

func TestSave_UnknownTokenKeptLiteral(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "some-other-value")

	path := filepath.Join(t.TempDir(), "hookclaw.yaml")
	cfg := DefaultConfig()
	cfg.Channels.Telegram.Token = "999:keep-literal"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "999:keep-literal") {
		t.Error("token not matching any env var should stay literal")
	}
}

func TestFindFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if got := FindFile(); got != "" {
		t.Errorf("FindFile in empty dir = %q, want empty", got)
	}

	if err := os.WriteFile("config.yaml", []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := FindFile(); got != "config.yaml" {
		t.Errorf("FindFile = %q, want config.yaml", got)
	}

	// hookclaw.yaml takes precedence.
	if err := os.WriteFile("hookclaw.yaml", []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := FindFile(); got != "hookclaw.yaml" {
		t.Errorf("FindFile = %q, want hookclaw.yaml", got)
	}
}

func TestResolvePathFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		configDir string
		want      string
	}{
		{"relative joined", "sessions.json", "/etc/hookclaw", "/etc/hookclaw/sessions.json"},
		{"nested relative", "state/db.json", "/srv", "/srv/state/db.json"},
		{"absolute unchanged", "/var/lib/hookclaw.db", "/etc", "/var/lib/hookclaw.db"},
		{"empty unchanged", "", "/etc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolvePathFromConfig(tt.path, tt.configDir); got != tt.want {
				t.Errorf("resolvePathFromConfig(%q, %q) = %q, want %q", tt.path, tt.configDir, got, tt.want)
			}
		})
	}

	t.Run("tilde expands to home", func(t *testing.T) {
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		got := resolvePathFromConfig("~/hookclaw.yaml", "/etc")
		if got != filepath.Join(home, "hookclaw.yaml") {
			t.Errorf("tilde path = %q", got)
		}
	})
}

func TestLooksLikeRealToken(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"123456:AAHsecretsecret", true},
		{"${TELEGRAM_BOT_TOKEN}", false},
		{"$TELEGRAM_BOT_TOKEN", false},
		{"changeme", false},
		{"abc:def", false},
		{strings.Repeat("x", 30), true},
		{"", false},
	}

	for _, tt := range tests {
		if got := looksLikeRealToken(tt.token); got != tt.want {
			t.Errorf("looksLikeRealToken(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "111:from-env")
	t.Setenv("DISCORD_BOT_TOKEN", "discord-from-env")

	cfg := DefaultConfig()
	cfg.Channels.Discord.Token = "explicit-config-token-value"
	resolveSecrets(cfg)

	if cfg.Channels.Telegram.Token != "111:from-env" {
		t.Errorf("empty telegram token not filled from env: %q", cfg.Channels.Telegram.Token)
	}
	// An explicit config value is not overridden by the environment.
	if cfg.Channels.Discord.Token != "explicit-config-token-value" {
		t.Errorf("explicit discord token overridden: %q", cfg.Channels.Discord.Token)
	}
}
