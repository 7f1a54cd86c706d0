package mcp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/browgent/internal/streaming"
	"github.com/rendis/browgent/pkg/schema"
)

// defaultWatchTTL bounds how long a run is watched for its done event.
const defaultWatchTTL = time.Hour

// notificationSender is satisfied by *server.MCPServer.
type notificationSender interface {
	SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error
}

// RunNotifier tells the session that started a run when the run is done.
type RunNotifier struct {
	sender   notificationSender
	sessions *SessionRegistry
	hub      streaming.EventHub
	logger   *slog.Logger
	ttl      time.Duration
}

// NewRunNotifier creates a notifier that pushes done events to MCP sessions.
func NewRunNotifier(sender notificationSender, sessions *SessionRegistry, hub streaming.EventHub, logger *slog.Logger) *RunNotifier {
	return &RunNotifier{sender: sender, sessions: sessions, hub: hub, logger: logger, ttl: defaultWatchTTL}
}

// Watch subscribes to runID's done event and notifies its session once.
// The subscription is registered before Watch returns, so no event emitted
// after the call is missed.
func (n *RunNotifier) Watch(runID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.ttl)
	ch, unsubscribe, err := n.hub.Subscribe(ctx, streaming.EventFilter{
		RunID:      runID,
		EventTypes: []string{string(schema.EventDone)},
	})
	if err != nil {
		cancel()
		return err
	}

	go func() {
		defer cancel()
		defer unsubscribe()
		defer n.sessions.Forget(runID)

		select {
		case <-ctx.Done():
		case ev := <-ch:
			payload, _ := ev.Payload.(map[string]any)
			if err := n.Notify(ctx, runID, payload); err != nil {
				n.logger.Warn("run notification failed", "run_id", runID, "error", err)
			}
		}
	}()
	return nil
}

// Notify sends a notification to the session that started runID.
// Best-effort: returns nil if the session is gone.
func (n *RunNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(runID)
	if !ok {
		return nil
	}
	params := map[string]any{"level": "info", "logger": "browgent", "data": payload}
	err := n.sender.SendNotificationToSpecificClient(sessionID, "notifications/message", params)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
