package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newLogsCmd creates the `hookclaw logs` command.
func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log file",
		Long: `Prints the tail of the configured log file. Requires logging.file
to be set in the config.

Examples:
  hookclaw logs
  hookclaw logs -n 200
  hookclaw logs -f`,
		RunE: runLogs,
	}

	cmd.Flags().IntP("lines", "n", 50, "number of lines to show")
	cmd.Flags().BoolP("follow", "f", false, "keep printing new lines as they are written")
	return cmd
}

func runLogs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Logging.File == "" {
		return fmt.Errorf("no log file configured; set logging.file in the config")
	}

	lines, _ := cmd.Flags().GetInt("lines")
	follow, _ := cmd.Flags().GetBool("follow")

	if err := printTail(cfg.Logging.File, lines); err != nil {
		return err
	}
	if !follow {
		return nil
	}
	return followFile(cfg.Logging.File)
}

// printTail prints the last n lines of the file.
func printTail(path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading log file: %w", err)
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) == 1 && all[0] == "" {
		return nil
	}
	start := len(all) - n
	if start < 0 {
		start = 0
	}
	for _, line := range all[start:] {
		fmt.Println(line)
	}
	return nil
}

// followFile prints lines appended to the file until interrupted.
func followFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			fmt.Print(line)
		}
		if err == nil {
			continue
		}
		if err != io.EOF {
			return err
		}
		select {
		case <-sig:
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}
