package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/channels/discord"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/channels/telegram"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/channels/whatsapp"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/config"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/daemon"
)

// newServeCmd creates the `hookclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with messaging channels",
		Long: `Start Hookclaw as a daemon, connecting the enabled channels
(WhatsApp, Telegram, Discord) and routing incoming messages through the
trigger table.

Examples:
  hookclaw serve
  hookclaw serve --channel telegram
  hookclaw serve --config ./hookclaw.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (whatsapp, telegram, discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := buildLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	// Audit BEFORE resolving, so the warnings reflect the raw file.
	config.AuditSecrets(cfg, logger)
	// Fill tokens from the OS keyring, then the environment.
	config.ResolveTokens(cfg, logger)

	runner := daemon.New(cfg, logger)

	channelFilter, _ := cmd.Flags().GetStringSlice("channel")
	registered := 0
	if shouldEnable("whatsapp", channelFilter, cfg.Channels.WhatsApp.Enabled) {
		if err := runner.Register(whatsapp.New(cfg.Channels.WhatsApp, logger)); err != nil {
			logger.Error("failed to register whatsapp", "error", err)
		} else {
			registered++
		}
	}
	if shouldEnable("telegram", channelFilter, cfg.Channels.Telegram.Enabled) {
		if err := runner.Register(telegram.New(cfg.Channels.Telegram, logger)); err != nil {
			logger.Error("failed to register telegram", "error", err)
		} else {
			registered++
		}
	}
	if shouldEnable("discord", channelFilter, cfg.Channels.Discord.Enabled) {
		if err := runner.Register(discord.New(cfg.Channels.Discord, logger)); err != nil {
			logger.Error("failed to register discord", "error", err)
		} else {
			registered++
		}
	}
	if registered == 0 {
		return fmt.Errorf("no channels enabled; enable one in the config file or pass --channel")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Install the signal handler before Start, so Ctrl+C also aborts a
	// WhatsApp QR login still waiting for a scan.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, stopping")
		cancel()
	}()

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("hookclaw running, press Ctrl+C to stop",
		"triggers", len(cfg.Triggers),
		"jobs", len(cfg.Jobs))

	<-ctx.Done()

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// errNoConfig marks the no-config-file condition so callers can decide
// whether to offer the setup wizard.
var errNoConfig = errors.New("no configuration file found")

// loadConfig loads the config from the explicit --config path or an
// auto-discovered file, without offering setup.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	found := config.FindFile()
	if found == "" {
		return nil, fmt.Errorf("%w (run 'hookclaw setup' to create one)", errNoConfig)
	}
	cfg, err := config.Load(found)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", found, err)
	}
	return cfg, nil
}

// resolveConfig loads the config, offering the interactive setup wizard
// when no file exists yet.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err == nil || !errors.Is(err, errNoConfig) {
		return cfg, err
	}

	fmt.Println()
	fmt.Println("No configuration file found.")
	fmt.Println("Hookclaw needs a hookclaw.yaml before connecting to any channel.")
	fmt.Println()

	runNow := true
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title("Run the interactive setup now?").Value(&runNow),
	))
	if err := form.Run(); err != nil || !runNow {
		fmt.Println("Run 'hookclaw setup' to create the configuration.")
		return nil, fmt.Errorf("configuration required before starting")
	}

	if err := runSetupWizard(); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	if found := config.FindFile(); found != "" {
		return config.Load(found)
	}
	return nil, fmt.Errorf("setup finished but no configuration file was created")
}

// buildLogger assembles the slog logger from the logging config,
// mirroring output to the configured log file when one is set. The
// returned func closes the file.
func buildLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, func(), error) {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if verbose {
		logLevel = slog.LevelDebug
	}

	out := io.Writer(os.Stdout)
	closeLog := func() {}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeLog = func() { f.Close() }
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler), closeLog, nil
}

// shouldEnable checks if a channel should be enabled, honoring the
// --channel filter over the config flags.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
