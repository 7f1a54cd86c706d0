package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/rendis/browgent/internal/relay"
)

const defaultRelayAddr = ":3000"

func newRelayCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the standalone run event relay",
		Long: `Relay accepts run events on POST /internal/runs/:runId/events and fans
them out to websocket (/ws) and SSE (/sse/runs/:runId) viewers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			addr := cfg.RelayAddr
			if addr == "" {
				addr = defaultRelayAddr
			}
			if cfg.InternalSecret == "" {
				logger.Warn("relay running without a secret; internal endpoint is unauthenticated")
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			srv := &http.Server{
				Addr:    addr,
				Handler: relay.NewServer(relay.Config{Secret: cfg.InternalSecret, Logger: logger}).Handler(),
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("relay listening", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("relay-addr", "", "listen address (default :3000)")
	cmd.Flags().String("secret", "", "shared secret required on the internal endpoint")
	return cmd
}
