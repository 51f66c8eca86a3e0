package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/config"
)

// newTokenCmd creates the `hookclaw token` command group for keyring
// token management.
func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bot tokens in the OS keyring",
		Long: `Stores and removes bot tokens in the operating system keyring, so
the config file never holds them. The daemon reads keyring tokens
before falling back to environment variables and the config value.

Examples:
  hookclaw token set telegram
  hookclaw token delete discord`,
	}

	cmd.AddCommand(
		newTokenSetCmd(),
		newTokenDeleteCmd(),
	)

	return cmd
}

func newTokenSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <channel>",
		Short: "Store a channel's bot token in the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			channel := strings.ToLower(args[0])
			envVar, ok := config.TokenEnvVars[channel]
			if !ok {
				return fmt.Errorf("unknown channel %q (expected telegram or discord)", channel)
			}

			token, err := config.ReadPassword(fmt.Sprintf("Enter %s bot token: ", channel))
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			if strings.TrimSpace(token) == "" {
				return fmt.Errorf("empty token")
			}

			if err := config.StoreKeyring(config.KeyringTokenKey(channel), strings.TrimSpace(token)); err != nil {
				return fmt.Errorf("no usable OS keyring (%v); export %s instead", err, envVar)
			}
			fmt.Printf("%s token stored in the OS keyring.\n", channel)
			return nil
		},
	}
}

func newTokenDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <channel>",
		Short: "Remove a channel's bot token from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			channel := strings.ToLower(args[0])
			if _, ok := config.TokenEnvVars[channel]; !ok {
				return fmt.Errorf("unknown channel %q (expected telegram or discord)", channel)
			}

			if err := config.DeleteKeyring(config.KeyringTokenKey(channel)); err != nil {
				return fmt.Errorf("removing token: %w", err)
			}
			fmt.Printf("%s token removed from the OS keyring.\n", channel)
			return nil
		},
	}
}
