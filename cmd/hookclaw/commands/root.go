// Package commands implements the hookclaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hookclaw",
		Short: "Hookclaw - chat automation for the Claude Code CLI",
		Long: `Hookclaw bridges WhatsApp, Telegram and Discord to the Claude Code CLI.
Declarative triggers match incoming messages and route them to canned
replies or Claude conversations with per-chat continuity.

Examples:
  hookclaw setup
  hookclaw serve
  hookclaw serve --channel telegram
  hookclaw triggers test
  hookclaw status`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newSessionsCmd(),
		newTriggersCmd(),
		newTokenCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
