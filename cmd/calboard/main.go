package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"calboard/internal/config"
	appLog "calboard/internal/log"
)

var version = "0.1.0-dev"

// globalFlags holds persistent flag values shared by every subcommand.
type globalFlags struct {
	configPath string
	listen     string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "calboard",
		Short: "Calendar status dashboard backend",
		Long: `calboard polls a calendar provider and serves day/week/month grids of
events for an always-on status display.

It keeps a calendar access credential alive by logging in automatically once
a day around a configured time, renewing shortly before expiry.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(flags)
			if err != nil {
				return err
			}
			cfg = c
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "/etc/calboard/config.yaml", "path to config file")
	pf.StringVar(&flags.listen, "listen", "", "HTTP listen address (overrides config if set)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config if set)")

	getCfg := func() *config.Config { return cfg }
	root.AddCommand(
		newServeCmd(getCfg),
		newLoginCmd(getCfg),
		newLogoutCmd(getCfg),
		newStatusCmd(getCfg),
	)
	return root
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", flags.configPath, err)
	}
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	appLog.Info("effective config",
		"config_path", flags.configPath,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"week_start", cfg.WeekStart,
		"source", cfg.Source.Type,
		"state_path", cfg.StatePath,
		"credential_check", cfg.Schedule.CredentialCheck,
		"refresh", cfg.Schedule.Refresh,
		"rotate", cfg.Schedule.Rotate,
	)
	return cfg, nil
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
