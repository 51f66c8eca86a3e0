package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/config"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/daemon"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/session"
)

// newStatusCmd creates the `hookclaw status` command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and a configuration summary",
		Long: `Reports whether the daemon is running (via its pid file) and
summarizes the loaded configuration: channels, triggers, jobs and
stored sessions.

Examples:
  hookclaw status`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Println("Hookclaw status")
	fmt.Printf("  Config:    %s\n", configPath(cmd))

	pid, running := daemon.ReadPidFile(cfg.PidFile)
	switch {
	case running:
		fmt.Printf("  Daemon:    running (pid %d)\n", pid)
	case pid > 0:
		fmt.Printf("  Daemon:    stopped (stale pid file, pid %d)\n", pid)
	default:
		fmt.Println("  Daemon:    stopped")
	}

	enabled := cfg.EnabledChannels()
	if len(enabled) == 0 {
		fmt.Println("  Channels:  none enabled")
	} else {
		fmt.Printf("  Channels:  %s\n", strings.Join(enabled, ", "))
	}

	fmt.Printf("  Triggers:  %d\n", len(cfg.Triggers))
	fmt.Printf("  Jobs:      %d\n", len(cfg.Jobs))

	store := session.NewStore(cfg.Sessions, quietLogger())
	store.Load()
	fmt.Printf("  Sessions:  %d\n", store.Len())

	if path, err := exec.LookPath(cfg.Claude.Command); err == nil {
		fmt.Printf("  Claude:    %s\n", path)
	} else {
		fmt.Printf("  Claude:    not found (%s)\n", cfg.Claude.Command)
	}

	return nil
}

// configPath reports which config file the command is operating on.
func configPath(cmd *cobra.Command) string {
	if explicit, _ := cmd.Root().PersistentFlags().GetString("config"); explicit != "" {
		return explicit
	}
	if found := config.FindFile(); found != "" {
		return found
	}
	return "(none)"
}

// quietLogger suppresses library logging in read-only CLI commands.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
