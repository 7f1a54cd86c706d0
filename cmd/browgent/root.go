package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "browgent",
		Short: "Browgent - browser workflow runner",
		Long: `Browgent executes browser automation workflows step by step and streams
their progress as run events.

Run "browgent serve" for the runner API, "browgent relay" for the event relay
or "browgent run <file>" to execute a single workflow locally.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "settings file (default ~/.browgent/settings.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(opts),
		newRelayCmd(opts),
		newRunCmd(opts),
		newValidateCmd(),
		newDiagramCmd(),
		newMCPCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load resolves the layered configuration for cmd and builds its logger.
func (o *rootOptions) load(cmd *cobra.Command) (Config, *slog.Logger, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return cfg, nil, err
	}
	applyFlags(cmd, &cfg)
	return cfg, newLogger(cfg.LogLevel), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
