// Package config defines the hookclaw configuration file format: channel
// settings, Claude CLI settings, trigger rules, scheduled jobs and the
// ambient daemon options. Loading lives in loader.go, secret resolution
// in keyring.go.
package config

import (
	"fmt"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/bridge"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/channels/discord"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/channels/telegram"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/channels/whatsapp"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/schedule"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/trigger"
)

// TokenEnvVars maps channel names to the conventional environment
// variables their bot tokens are read from.
var TokenEnvVars = map[string]string{
	"telegram": "TELEGRAM_BOT_TOKEN",
	"discord":  "DISCORD_BOT_TOKEN",
}

// Config holds the full daemon configuration.
type Config struct {
	// Channels configures the messaging platform connections.
	Channels ChannelsConfig `yaml:"channels"`

	// Claude configures the Claude CLI invocation.
	Claude bridge.Config `yaml:"claude"`

	// Queue configures backpressure for concurrent CLI calls.
	Queue bridge.QueueConfig `yaml:"queue"`

	// Triggers are the rules matched against incoming messages, in order.
	Triggers []*trigger.Rule `yaml:"triggers"`

	// Jobs are standing scheduled prompts (cron syntax).
	Jobs []*schedule.Job `yaml:"jobs"`

	// Sessions is the path of the per-chat session persistence file.
	Sessions string `yaml:"sessions"`

	// PidFile is where serve records its process id, read by `hookclaw status`.
	PidFile string `yaml:"pid_file"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ChannelsConfig holds configuration for all channels.
type ChannelsConfig struct {
	// WhatsApp is the WhatsApp channel config.
	WhatsApp whatsapp.Config `yaml:"whatsapp"`

	// Telegram is the Telegram channel config.
	Telegram telegram.Config `yaml:"telegram"`

	// Discord is the Discord channel config.
	Discord discord.Config `yaml:"discord"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("text", "json").
	Format string `yaml:"format"`

	// File, when set, mirrors logs to a file. `hookclaw logs` reads it.
	File string `yaml:"file,omitempty"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{
			WhatsApp: whatsapp.DefaultConfig(),
			Telegram: telegram.DefaultConfig(),
			Discord:  discord.DefaultConfig(),
		},
		Claude:   bridge.DefaultConfig(),
		Queue:    bridge.DefaultQueueConfig(),
		Sessions: "sessions.json",
		PidFile:  "hookclaw.pid",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the parts of the config that must be correct before the
// daemon starts. Trigger patterns are compiled here so a bad regex aborts
// startup instead of surfacing mid-conversation.
func (c *Config) Validate() error {
	if err := trigger.CompileRules(c.Triggers); err != nil {
		return err
	}
	for i, job := range c.Jobs {
		if job.Schedule == "" {
			return fmt.Errorf("job %d: missing schedule", i+1)
		}
		if job.Prompt == "" {
			return fmt.Errorf("job %d: missing prompt", i+1)
		}
		if job.Channel == "" || job.ChatID == "" {
			return fmt.Errorf("job %d: missing channel or chat_id", i+1)
		}
	}
	return nil
}

// EnabledChannels lists the channels turned on in this config.
func (c *Config) EnabledChannels() []string {
	var names []string
	if c.Channels.WhatsApp.Enabled {
		names = append(names, "whatsapp")
	}
	if c.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if c.Channels.Discord.Enabled {
		names = append(names, "discord")
	}
	return names
}
