package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/browgent/internal/engine"
	"github.com/rendis/browgent/internal/streaming"
	"github.com/rendis/browgent/pkg/schema"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute one workflow locally and wait for it to finish",
		Long: `Run loads a workflow (JSON or YAML), executes it and logs every run event.
Use --relay-url to also stream events to a relay. The exit status reflects
the run outcome; Ctrl-C cancels the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			def, err := schema.LoadWorkflowFile(args[0])
			if err != nil {
				return err
			}
			if runID == "" {
				runID = uuid.NewString()
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			cfg.MaxConcurrency = 1
			rt, err := newRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			done, unsubscribe, err := rt.hub.Subscribe(cmd.Context(), streaming.EventFilter{
				RunID:      runID,
				EventTypes: []string{string(schema.EventDone)},
			})
			if err != nil {
				return err
			}
			defer unsubscribe()

			if err := rt.manager.Enqueue(ctx, engine.EnqueueRequest{RunID: runID, Workflow: def}); err != nil {
				return err
			}
			logger.Info("run started", "run_id", runID)

			var ev streaming.StreamEvent
			select {
			case ev = <-done:
			case <-ctx.Done():
				logger.Info("cancelling run", "run_id", runID)
				_ = rt.manager.Cancel(runID)
				ev = <-done
			}
			rt.manager.Wait()

			payload, _ := ev.Payload.(map[string]any)
			if ok, _ := payload["ok"].(bool); !ok {
				msg, _ := payload["error"].(string)
				return fmt.Errorf("run %s failed: %s", runID, msg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s succeeded\n", runID)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run ID (default: generated UUID)")
	cmd.Flags().String("relay-url", "", "relay base URL to stream events to")
	cmd.Flags().String("secret", "", "shared secret for the relay internal endpoint")
	cmd.Flags().String("db", "", "run history database path (empty disables history)")
	cmd.Flags().String("browser-url", "", "connect to a running browser (ws://host:9222)")
	cmd.Flags().Bool("headless", true, "launch the browser headless")
	return cmd
}
