package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rendis/browgent/internal/api"
	"github.com/rendis/browgent/internal/relay"
	"github.com/rendis/browgent/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runner HTTP API with scheduler and optional relay",
		Long: `Serve starts the runner API (POST /run, GET /metrics, run history) and
the cron scheduler for configured jobs.

Events reach viewers through the relay routes mounted on the API listener,
a dedicated relay listener (--relay-addr) sharing the same hub, or an
external relay (--relay-url).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd, cfg, logger)
		},
	}
	cmd.Flags().String("listen", "", "runner API listen address")
	cmd.Flags().String("relay-addr", "", "serve the relay on a separate address")
	cmd.Flags().String("relay-url", "", "external relay base URL to post events to")
	cmd.Flags().String("secret", "", "shared secret for the relay internal endpoint")
	cmd.Flags().Int("max-concurrency", 0, "maximum concurrent runs")
	cmd.Flags().String("db", "", "run history database path (empty disables history)")
	cmd.Flags().String("browser-url", "", "connect to a running browser (ws://host:9222)")
	cmd.Flags().Bool("headless", true, "launch the browser headless")
	return cmd
}

func runServe(cmd *cobra.Command, cfg Config, logger *slog.Logger) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	deps := api.Deps{Runs: rt.manager, Validator: rt.validator, Logger: logger}
	if rt.store != nil {
		deps.History = rt.store
		deps.Replayer = rt.eventLog
	}
	apiServer := api.NewServer(deps)

	relayServer := relay.NewServer(relay.Config{Secret: cfg.InternalSecret, Hub: rt.hub, Logger: logger})

	var mounts []func(gin.IRouter)
	servers := []*http.Server{}
	switch {
	case cfg.RelayAddr != "":
		servers = append(servers, &http.Server{Addr: cfg.RelayAddr, Handler: relayServer.Handler()})
	case cfg.RelayURL == "":
		mounts = append(mounts, relayServer.Register)
	}
	servers = append(servers, &http.Server{Addr: cfg.ListenAddr, Handler: apiServer.Handler(mounts...)})

	if len(cfg.Schedules) > 0 {
		sched, err := scheduler.NewScheduler(rt.manager, cfg.Schedules, logger)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "addr", srv.Addr, "error", err)
		}
	}
	logger.Info("stopped")
	return serveErr
}
