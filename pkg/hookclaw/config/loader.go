// Loading, env expansion and saving of the YAML config file. Bot tokens
// never need to live in the file: `${VAR}` references and `.env` files
// are expanded before parsing, and Save writes env references back
// instead of raw secrets.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable references in config values:
//
//	${VAR}          - variable, placeholder kept if unset
//	${VAR:-default} - default value if unset
//	${VAR:?error}   - load error if unset
//	$VAR            - bare variable
//
// Groups: 1 = name (braced form), 2 = modifier ("-" or "?"), 3 = modifier
// value, 4 = name (bare form).
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Load reads, expands and parses a YAML config file, then validates it.
// `.env` and `.env.local` are loaded first so token references resolve.
// A `${VAR:?message}` reference with VAR unset fails the load.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, err
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML bytes into a Config, overlaying values on defaults.
// Fields absent from the document keep their default values.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes a Config as YAML to path with owner-only permissions.
// Tokens that match an environment variable are written back as `${VAR}`
// references. The existing file is copied to `.bak` first.
func Save(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Channels.Telegram.Token = sanitizeSecret(cfg.Channels.Telegram.Token, TokenEnvVars["telegram"])
	sanitized.Channels.Discord.Token = sanitizeSecret(cfg.Channels.Discord.Token, TokenEnvVars["discord"])

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Refuse to write anything that would not load back.
	if _, err := Parse(data); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindFile searches for a config file in standard locations, returning
// the first that exists or "".
func FindFile() string {
	candidates := []string{
		"hookclaw.yaml",
		"hookclaw.yml",
		"config.yaml",
		"config.yml",
		"configs/hookclaw.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// AuditSecrets warns about bot tokens written literally into the config
// file. Called once on startup.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	audit := func(channel, token string) {
		if token == "" || IsEnvReference(token) || !looksLikeRealToken(token) {
			return
		}
		envVar := TokenEnvVars[channel]
		logger.Warn("bot token appears to be hardcoded in config",
			"channel", channel,
			"hint", fmt.Sprintf("set 'token: ${%s}' and export the variable, or run: hookclaw token set %s", envVar, channel))
	}
	audit("telegram", cfg.Channels.Telegram.Token)
	audit("discord", cfg.Channels.Discord.Token)
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from the working directory. godotenv does
// not overwrite variables that are already set.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces env var references in the raw YAML text. An unset
// variable in a `${VAR:?msg}` reference expands to an "ERROR:" marker that
// expandEnvVarsWithValidation turns into a load error.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, modifier, modValue, bare := sub[1], sub[2], sub[3], sub[4]

		if bare != "" {
			if val, ok := os.LookupEnv(bare); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		switch modifier {
		case "?":
			msg := modValue
			if msg == "" {
				msg = "required environment variable not set"
			}
			return "ERROR:" + name + ":" + msg
		case "-":
			return modValue
		}
		return match
	})
}

// expandEnvVarsWithValidation is expandEnvVars plus an error for any
// `${VAR:?msg}` whose variable is unset.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx == -1 {
		return result, nil
	}
	rest := result[idx+len("ERROR:"):]
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	name, msg := rest[:colon], rest[colon+1:]
	return "", fmt.Errorf("config error: %s - %s", name, msg)
}

// resolveSecrets fills empty token fields from the conventional
// environment variables.
func resolveSecrets(cfg *Config) {
	if cfg.Channels.Telegram.Token == "" || IsEnvReference(cfg.Channels.Telegram.Token) {
		if tok := os.Getenv(TokenEnvVars["telegram"]); tok != "" {
			cfg.Channels.Telegram.Token = tok
		}
	}
	if cfg.Channels.Discord.Token == "" || IsEnvReference(cfg.Channels.Discord.Token) {
		if tok := os.Getenv(TokenEnvVars["discord"]); tok != "" {
			cfg.Channels.Discord.Token = tok
		}
	}
}

// resolveRelativePaths makes file paths absolute relative to the config
// file's directory, so the daemon behaves the same regardless of the
// working directory it was started from.
func resolveRelativePaths(cfg *Config, configPath string) {
	configDir := filepath.Dir(configPath)

	cfg.Sessions = resolvePathFromConfig(cfg.Sessions, configDir)
	cfg.PidFile = resolvePathFromConfig(cfg.PidFile, configDir)
	cfg.Logging.File = resolvePathFromConfig(cfg.Logging.File, configDir)
	cfg.Channels.WhatsApp.SessionDir = resolvePathFromConfig(cfg.Channels.WhatsApp.SessionDir, configDir)
	cfg.Channels.WhatsApp.DatabasePath = resolvePathFromConfig(cfg.Channels.WhatsApp.DatabasePath, configDir)
}

// resolvePathFromConfig expands ~ and resolves relative paths against the
// config directory.
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

// sanitizeSecret replaces a literal secret with an env var reference when
// the variable holds the same value, keeping the file safe to commit.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

// looksLikeRealToken heuristically separates real bot tokens from
// placeholders. Telegram tokens are "<bot id>:<secret>", Discord tokens
// are long base64-ish strings.
func looksLikeRealToken(s string) bool {
	if IsEnvReference(s) {
		return false
	}
	if i := strings.Index(s, ":"); i > 0 {
		if _, err := strconv.Atoi(s[:i]); err == nil {
			return true
		}
	}
	return len(s) > 20
}

// checkFilePermissions warns if the config file is group or world readable.
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
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
