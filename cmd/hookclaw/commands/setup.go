package commands

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/config"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/trigger"
)

// newSetupCmd creates the `hookclaw setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Walks through creating the initial hookclaw.yaml: channel choice,
bot tokens and a first trigger. Tokens go to the OS keyring when one is
available, never into the file.

Examples:
  hookclaw setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	return runSetupWizard()
}

var channelTitles = map[string]string{
	"whatsapp": "WhatsApp",
	"telegram": "Telegram",
	"discord":  "Discord",
}

var tokenHints = map[string]string{
	"telegram": "Create a bot with @BotFather on Telegram to get a token.",
	"discord":  "Bot token from the Discord Developer Portal. Enable the message content intent.",
}

// runSetupWizard guides the user through config creation step by step.
func runSetupWizard() error {
	cfg := config.DefaultConfig()

	fmt.Println()
	fmt.Println("Hookclaw setup")
	fmt.Println("──────────────")
	fmt.Println()

	// ── Step 1: channels ──
	var selected []string
	err := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Channels to enable").
			Description("WhatsApp logs in with a QR code on first serve; bots need a token.").
			Options(
				huh.NewOption("WhatsApp", "whatsapp"),
				huh.NewOption("Telegram", "telegram"),
				huh.NewOption("Discord", "discord"),
			).
			Validate(func(v []string) error {
				if len(v) == 0 {
					return fmt.Errorf("pick at least one channel")
				}
				return nil
			}).
			Value(&selected),
	)).Run()
	if err != nil {
		return setupAborted(err)
	}

	// ── Step 2: tokens ──
	keyringOK := config.KeyringAvailable()
	for _, ch := range selected {
		switch ch {
		case "whatsapp":
			cfg.Channels.WhatsApp.Enabled = true
			fmt.Println("  WhatsApp enabled. Scan the QR code on first 'hookclaw serve'.")
		case "telegram", "discord":
			token, useKeyring, err := promptToken(ch, keyringOK)
			if err != nil {
				return setupAborted(err)
			}
			applyToken(cfg, ch, token, useKeyring)
		}
	}

	// ── Step 3: first trigger ──
	addTrigger := true
	err = huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Add a first trigger?").
			Description("A trigger binds a message pattern to a reply or a Claude call.").
			Value(&addTrigger),
	)).Run()
	if err != nil {
		return setupAborted(err)
	}
	if addTrigger {
		rule, err := promptTrigger()
		if err != nil {
			return setupAborted(err)
		}
		cfg.Triggers = append(cfg.Triggers, rule)
	}

	// ── Summary ──
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println("  Configuration summary:")
	fmt.Println("─────────────────────────────────────────────")
	fmt.Printf("  Channels:  %s\n", strings.Join(cfg.EnabledChannels(), ", "))
	fmt.Printf("  Triggers:  %d\n", len(cfg.Triggers))
	fmt.Printf("  Jobs:      %d (add them under jobs: in the file)\n", len(cfg.Jobs))
	fmt.Printf("  Sessions:  %s\n", cfg.Sessions)
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println()

	// ── Confirm and save ──
	target := "hookclaw.yaml"
	if _, err := os.Stat(target); err == nil {
		overwrite := false
		err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists. Overwrite?", target)).
				Value(&overwrite),
		)).Run()
		if err != nil {
			return setupAborted(err)
		}
		if !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := config.Save(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("%s created (permissions 0600).\n", target)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Run: hookclaw serve")
	if cfg.Channels.WhatsApp.Enabled {
		fmt.Println("  2. Scan the QR code with your WhatsApp")
	}
	fmt.Println()

	return nil
}

// promptToken asks for a bot token with masked input, and where to keep
// it when a keyring is available.
func promptToken(channel string, keyringOK bool) (token string, useKeyring bool, err error) {
	useKeyring = keyringOK
	fields := []huh.Field{
		huh.NewInput().
			Title(fmt.Sprintf("%s bot token", channelTitles[channel])).
			Description(tokenHints[channel] + " Leave empty to set it later.").
			EchoMode(huh.EchoModePassword).
			Value(&token),
	}
	if keyringOK {
		fields = append(fields, huh.NewConfirm().
			Title("Store the token in the OS keyring?").
			Description("Keeps it out of the config file entirely.").
			Value(&useKeyring))
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return "", false, err
	}
	return strings.TrimSpace(token), useKeyring && keyringOK, nil
}

// applyToken enables the channel and stores its token in the keyring or
// the config value, depending on what the user chose.
func applyToken(cfg *config.Config, channel, token string, useKeyring bool) {
	switch channel {
	case "telegram":
		cfg.Channels.Telegram.Enabled = true
	case "discord":
		cfg.Channels.Discord.Enabled = true
	}

	if token == "" {
		fmt.Printf("  No token entered. Set it later with: hookclaw token set %s\n", channel)
		return
	}

	if useKeyring {
		if err := config.StoreKeyring(config.KeyringTokenKey(channel), token); err == nil {
			fmt.Printf("  %s token stored in the OS keyring.\n", channelTitles[channel])
			return
		}
		fmt.Println("  Keyring storage failed, keeping the token in the config file.")
	}

	switch channel {
	case "telegram":
		cfg.Channels.Telegram.Token = token
	case "discord":
		cfg.Channels.Discord.Token = token
	}
	fmt.Printf("  %s token saved in the config file. Prefer the keyring? Run: hookclaw token set %s\n",
		channelTitles[channel], channel)
}

// promptTrigger collects one trigger rule interactively.
func promptTrigger() (*trigger.Rule, error) {
	rule := &trigger.Rule{}
	var chat, action string

	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Chat to match").
			Placeholder("*").
			Description("Group subject, @username or platform id. * matches every chat.").
			Value(&chat),
		huh.NewInput().
			Title("Message pattern").
			Description("Regular expression matched at the start of the message, e.g. !ai (.+)").
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("pattern is required")
				}
				if _, err := regexp.Compile(s); err != nil {
					return fmt.Errorf("invalid pattern: %v", err)
				}
				return nil
			}).
			Value(&rule.Pattern),
		huh.NewSelect[string]().
			Title("Action").
			Options(
				huh.NewOption("Ask Claude (captured text becomes the prompt)", "claude"),
				huh.NewOption("Canned reply", "reply"),
				huh.NewOption("Ignore (shadow a later rule)", "ignore"),
			).
			Value(&action),
	)).Run()
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(chat) == "" {
		chat = trigger.Any
	}
	rule.Chat = chat
	rule.Action = trigger.Action(action)

	switch rule.Action {
	case trigger.ActionReply:
		err = huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Reply text").
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("reply text is required")
					}
					return nil
				}).
				Value(&rule.ReplyText),
		)).Run()
	case trigger.ActionClaude:
		err = huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("System prompt").
				Description("Optional. Setting one starts a fresh conversation per fire.").
				Value(&rule.SystemPrompt),
		)).Run()
	}
	if err != nil {
		return nil, err
	}

	if err := rule.Compile(); err != nil {
		return nil, fmt.Errorf("trigger: %w", err)
	}
	return rule, nil
}

// setupAborted turns a Ctrl+C out of the wizard into a clean exit.
func setupAborted(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		fmt.Println("Setup cancelled.")
		return nil
	}
	return err
}
