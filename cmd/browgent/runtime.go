package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/browgent/internal/browser"
	"github.com/rendis/browgent/internal/engine"
	"github.com/rendis/browgent/internal/events"
	"github.com/rendis/browgent/internal/expressions"
	"github.com/rendis/browgent/internal/logging"
	"github.com/rendis/browgent/internal/store"
	"github.com/rendis/browgent/internal/streaming"
	"github.com/rendis/browgent/internal/validation"
)

// relaySinkName names the circuit breaker guarding relay delivery.
const relaySinkName = "relay"

func newLogger(level string) *slog.Logger {
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(level)})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// runtime is the wired execution stack shared by serve, run and mcp.
type runtime struct {
	cfg       Config
	logger    *slog.Logger
	hub       *streaming.MemoryHub
	store     *store.LibSQLStore // nil when db_path is empty
	eventLog  *store.EventLog
	validator *validation.WorkflowValidator
	manager   *engine.Manager
}

func newRuntime(ctx context.Context, cfg Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		hub:    streaming.NewMemoryHub(),
	}

	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return nil, fmt.Errorf("init validator: %w", err)
	}
	rt.validator = validator

	conds, err := expressions.NewConditions()
	if err != nil {
		return nil, fmt.Errorf("init conditions: %w", err)
	}

	if cfg.DBPath != "" {
		if err := rt.openStore(ctx); err != nil {
			return nil, err
		}
	}

	mcfg := engine.ManagerConfig{
		MaxConcurrency: cfg.MaxConcurrency,
		Validator:      validator,
		Launcher: browser.NewChromeLauncher(browser.ChromeConfig{
			RemoteURL: cfg.Browser.RemoteURL,
			Headless:  cfg.Browser.Headless,
			ExecPath:  cfg.Browser.ExecPath,
			Logger:    logger,
		}),
		Sink:           rt.sink(),
		Conditions:     conds,
		Transformer:    expressions.NewGoJQEngine(),
		Logger:         logger,
		PollInterval:   cfg.PollInterval,
		SampleInterval: cfg.SampleInterval,
	}
	if rt.store != nil {
		mcfg.Recorder = rt.store
	}
	rt.manager = engine.NewManager(mcfg)
	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(rt.cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	s, err := store.NewLibSQLStore(rt.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return fmt.Errorf("migrate store: %w", err)
	}
	rt.store = s
	rt.eventLog = store.NewEventLog(s)
	return nil
}

// sink fans run events out to the log, the in-process hub, the history store
// and, when configured, an external relay behind a circuit breaker.
func (rt *runtime) sink() events.Sink {
	sinks := events.MultiSink{
		&events.LogSink{Logger: rt.logger},
		&events.HubSink{Hub: rt.hub},
	}
	if rt.store != nil {
		sinks = append(sinks, &events.StoreSink{Store: rt.store})
	}
	if rt.cfg.RelayURL != "" {
		sinks = append(sinks, &events.BreakerSink{
			Name: relaySinkName,
			Inner: events.NewHTTPSink(events.HTTPSinkConfig{
				BaseURL:     rt.cfg.RelayURL,
				Secret:      rt.cfg.InternalSecret,
				MaxRetries:  2,
				RetryWaitMS: 200,
			}),
			Breakers: events.NewBreakerRegistry(events.DefaultBreakerConfig()),
		})
	}
	return sinks
}

// Close stops active runs and releases the store.
func (rt *runtime) Close() {
	rt.manager.Shutdown()
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("close store", "error", err)
		}
	}
}
