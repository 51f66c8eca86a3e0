package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/config"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/trigger"
)

// newTriggersCmd creates the `hookclaw triggers` command group.
func newTriggersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "Inspect and test the trigger table",
		Long: `Lists the configured triggers in match order and tests sample
messages against them without talking to any platform.

Examples:
  hookclaw triggers list
  hookclaw triggers test
  hookclaw triggers test --channel telegram --chat dev-team`,
	}

	cmd.AddCommand(
		newTriggersListCmd(),
		newTriggersTestCmd(),
	)

	return cmd
}

func newTriggersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List triggers in match order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(cfg.Triggers) == 0 {
				fmt.Println("No triggers configured.")
				return nil
			}

			fmt.Printf("%-3s %-10s %-20s %-24s %-7s %-7s %s\n",
				"#", "CHANNEL", "CHAT", "PATTERN", "ACTION", "MODE", "DEBOUNCE")
			for i, rule := range cfg.Triggers {
				channel := rule.Channel
				if channel == "" {
					channel = trigger.Any
				}
				debounce := "-"
				if rule.DebounceSeconds > 0 {
					debounce = fmt.Sprintf("%ds", rule.DebounceSeconds)
				}
				fmt.Printf("%-3d %-10s %-20s %-24s %-7s %-7s %s\n",
					i+1, channel, rule.Chat, rule.Pattern, rule.Action, rule.ReplyMode, debounce)
			}
			return nil
		},
	}
}

func newTriggersTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Interactively match sample messages against the triggers",
		Long: `Opens a prompt where each line is matched against the trigger table
as if it arrived from the given channel and chat. Nothing is dispatched.

Inside the prompt:
  /channel <name>   switch the simulated channel
  /chat <name>      switch the simulated chat
  exit              leave`,
		RunE: runTriggersTest,
	}

	cmd.Flags().String("channel", "whatsapp", "simulated source channel")
	cmd.Flags().String("chat", "test", "simulated chat name or id")
	return cmd
}

func runTriggersTest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Triggers) == 0 {
		return fmt.Errorf("no triggers configured")
	}

	channel, _ := cmd.Flags().GetString("channel")
	chat, _ := cmd.Flags().GetString("chat")
	router := trigger.NewRouter(cfg.Triggers)

	fmt.Printf("Testing %d trigger(s). Type a message, /channel or /chat to switch context, exit to leave.\n",
		len(cfg.Triggers))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptFor(channel, chat),
		HistoryFile:     filepath.Join(os.TempDir(), ".hookclaw_triggers_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing prompt: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		if after, ok := strings.CutPrefix(input, "/channel "); ok {
			channel = strings.TrimSpace(after)
			rl.SetPrompt(promptFor(channel, chat))
			continue
		}
		if after, ok := strings.CutPrefix(input, "/chat "); ok {
			chat = strings.TrimSpace(after)
			rl.SetPrompt(promptFor(channel, chat))
			continue
		}

		printMatch(cfg, router, channel, chat, input)
	}
}

func promptFor(channel, chat string) string {
	return fmt.Sprintf("[%s/%s]> ", channel, chat)
}

// printMatch runs one sample message through the router and explains the
// outcome.
func printMatch(cfg *config.Config, router *trigger.Router, channel, chat, text string) {
	match, ok := router.Match(channel, []string{chat}, text)
	if !ok {
		fmt.Println("  no trigger matched")
		return
	}

	index := 0
	for i, rule := range cfg.Triggers {
		if rule == match.Rule {
			index = i + 1
			break
		}
	}

	rule := match.Rule
	fmt.Printf("  matched trigger %d: pattern %q action %s\n", index, rule.Pattern, rule.Action)
	switch rule.Action {
	case trigger.ActionReply:
		fmt.Printf("  would reply (%s): %q\n", rule.ReplyMode, rule.ReplyText)
	case trigger.ActionClaude:
		prompt := match.Captured
		if prompt == "" {
			prompt = text
		}
		fmt.Printf("  would send to claude (%s): %q\n", rule.ReplyMode, prompt)
		if rule.SystemPrompt != "" {
			fmt.Printf("  system prompt: %q\n", rule.SystemPrompt)
		}
	case trigger.ActionIgnore:
		fmt.Println("  message would be silently ignored")
	}
	if rule.DebounceSeconds > 0 {
		fmt.Printf("  debounced: fires %ds after the last matching message\n", rule.DebounceSeconds)
	}
}
