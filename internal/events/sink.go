// Package events delivers run events to external sinks.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/rendis/browgent/internal/streaming"
	"github.com/rendis/browgent/pkg/schema"
)

// Sink receives run events. Errors are reported to the caller but never
// abort a run.
type Sink interface {
	PostEvent(ctx context.Context, runID string, event schema.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, runID string, event schema.Event) error

func (f SinkFunc) PostEvent(ctx context.Context, runID string, event schema.Event) error {
	return f(ctx, runID, event)
}

// Envelope renders an event as the relay wire body: the event fields merged
// with runId.
func Envelope(runID string, event schema.Event) (map[string]any, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return Merge(runID, body, event.TS), nil
}

// Merge stamps body with runId and ts. A numeric ts already present in body
// is kept; otherwise now (unix millis) is used.
func Merge(runID string, body map[string]any, now int64) map[string]any {
	out := make(map[string]any, len(body)+2)
	for k, v := range body {
		out[k] = v
	}
	out["runId"] = runID
	switch body["ts"].(type) {
	case float64, int, int64, json.Number:
	default:
		out["ts"] = now
	}
	return out
}

// MultiSink fans an event out to every sink. All sinks are attempted; the
// joined error is returned.
type MultiSink []Sink

func (m MultiSink) PostEvent(ctx context.Context, runID string, event schema.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.PostEvent(ctx, runID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HubSink publishes events to an in-process hub (single-binary mode).
type HubSink struct {
	Hub streaming.EventHub
}

func (h *HubSink) PostEvent(ctx context.Context, runID string, event schema.Event) error {
	body, err := Envelope(runID, event)
	if err != nil {
		return err
	}
	return h.Hub.Publish(ctx, streaming.StreamEvent{
		RunID:     runID,
		EventType: string(event.Type),
		Payload:   body,
	})
}

// EventAppender is satisfied by store.RunStore.
type EventAppender interface {
	AppendEvent(ctx context.Context, runID string, event schema.Event) error
}

// StoreSink appends events to the run history. Samples are skipped unless
// KeepSamples is set; they are large and only useful live.
type StoreSink struct {
	Store       EventAppender
	KeepSamples bool
}

func (s *StoreSink) PostEvent(ctx context.Context, runID string, event schema.Event) error {
	if event.Type == schema.EventSample && !s.KeepSamples {
		return nil
	}
	return s.Store.AppendEvent(ctx, runID, event)
}

// LogSink writes events to a structured logger. Samples log at debug.
type LogSink struct {
	Logger *slog.Logger
}

func (l *LogSink) PostEvent(ctx context.Context, runID string, event schema.Event) error {
	attrs := []any{"run_id", runID, "type", string(event.Type)}
	if event.Status != "" {
		attrs = append(attrs, "status", string(event.Status))
	}
	if event.Index != nil {
		attrs = append(attrs, "index", *event.Index)
	}
	if event.Meta != nil && event.Meta.StepID != "" {
		attrs = append(attrs, "step_id", event.Meta.StepID, "step_type", string(event.Meta.Type))
	}
	if event.OK != nil {
		attrs = append(attrs, "ok", *event.OK)
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}

	level := slog.LevelInfo
	if event.Type == schema.EventSample {
		level = slog.LevelDebug
		attrs = append(attrs, "mime", event.Mime, "bytes", len(event.Data))
	}
	l.Logger.Log(ctx, level, "run event", attrs...)
	return nil
}

var (
	_ Sink = MultiSink(nil)
	_ Sink = (*HubSink)(nil)
	_ Sink = (*StoreSink)(nil)
	_ Sink = (*LogSink)(nil)
	_ Sink = SinkFunc(nil)
)
