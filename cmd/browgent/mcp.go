package main

import (
	"github.com/spf13/cobra"

	"github.com/rendis/browgent/pkg/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the runner as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			rt, err := newRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			deps := mcp.ServerDeps{
				Runs:      rt.manager,
				Validator: rt.validator,
				Hub:       rt.hub,
				Version:   version,
				Logger:    logger,
			}
			if rt.store != nil {
				deps.History = rt.store
			}
			logger.Info("mcp server ready on stdio")
			return mcp.NewBrowgentServer(deps).Serve(ctx)
		},
	}
	cmd.Flags().Int("max-concurrency", 0, "maximum concurrent runs")
	cmd.Flags().String("relay-url", "", "relay base URL to stream events to")
	cmd.Flags().String("secret", "", "shared secret for the relay internal endpoint")
	cmd.Flags().String("db", "", "run history database path (empty disables history)")
	cmd.Flags().String("browser-url", "", "connect to a running browser (ws://host:9222)")
	cmd.Flags().Bool("headless", true, "launch the browser headless")
	return cmd
}
