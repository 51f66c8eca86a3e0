package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/session"
)

// newSessionsCmd creates the `hookclaw sessions` command group.
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage per-chat Claude sessions",
		Long: `Lists and clears the persisted Claude conversation sessions. A
running daemon keeps its own copy of the table in memory, so clear
sessions while it is stopped.

Examples:
  hookclaw sessions list
  hookclaw sessions clear 123456789`,
	}

	cmd.AddCommand(
		newSessionsListCmd(),
		newSessionsClearCmd(),
	)

	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store := session.NewStore(cfg.Sessions, quietLogger())
			store.Load()

			sessions := store.All()
			if len(sessions) == 0 {
				fmt.Println("No stored sessions.")
				return nil
			}

			fmt.Printf("%-30s %10s  %s\n", "CHAT", "EXCHANGES", "LAST USED")
			for _, s := range sessions {
				fmt.Printf("%-30s %10d  %s\n",
					s.ChatID, s.ExchangeCount, s.LastUsedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newSessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <chat-id>",
		Short: "Forget a chat's conversation so the next message starts fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store := session.NewStore(cfg.Sessions, quietLogger())
			store.Load()

			existed, err := store.Clear(args[0])
			if err != nil {
				return fmt.Errorf("clearing session: %w", err)
			}
			if !existed {
				fmt.Printf("No session for chat %q.\n", args[0])
				return nil
			}
			fmt.Printf("Session for chat %q cleared.\n", args[0])
			return nil
		},
	}
}
