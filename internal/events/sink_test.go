package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/browgent/internal/streaming"
	"github.com/rendis/browgent/pkg/schema"
)

func TestMerge(t *testing.T) {
	out := Merge("run-1", map[string]any{"type": "stepEnd", "ts": float64(42)}, 99)
	assert.Equal(t, "run-1", out["runId"])
	assert.Equal(t, float64(42), out["ts"])

	out = Merge("run-1", map[string]any{"type": "stepEnd", "ts": "yesterday"}, 99)
	assert.Equal(t, int64(99), out["ts"])

	out = Merge("run-2", map[string]any{"runId": "spoofed"}, 7)
	assert.Equal(t, "run-2", out["runId"])
	assert.Equal(t, int64(7), out["ts"])
}

func TestEnvelope(t *testing.T) {
	idx := 3
	body, err := Envelope("run-1", schema.Event{
		Type:  schema.EventStepStart,
		Index: &idx,
		Meta:  &schema.StepMeta{StepID: "a", Type: schema.StepClick},
		TS:    1234,
	})
	require.NoError(t, err)
	assert.Equal(t, "stepStart", body["type"])
	assert.Equal(t, float64(3), body["index"])
	assert.Equal(t, float64(1234), body["ts"])
	assert.Equal(t, "run-1", body["runId"])
	assert.Equal(t, map[string]any{"stepId": "a", "type": "click"}, body["meta"])
	assert.NotContains(t, body, "ok")
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{err: errors.New("b failed")}
	c := &recordingSink{}
	m := MultiSink{a, nil, b, c}

	err := m.PostEvent(context.Background(), "run-1", schema.Event{Type: schema.EventDone})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
	assert.Len(t, a.Events(), 1)
	assert.Len(t, c.Events(), 1, "later sinks still receive the event")
}

func TestHubSink(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel()

	sink := &HubSink{Hub: hub}
	require.NoError(t, sink.PostEvent(context.Background(), "run-1", schema.Event{Type: schema.EventRunStatus, Status: schema.RunStatusRunning, TS: 5}))

	select {
	case got := <-ch:
		assert.Equal(t, "runStatus", got.EventType)
		body := got.Payload.(map[string]any)
		assert.Equal(t, "running", body["status"])
		assert.Equal(t, "run-1", body["runId"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hub event")
	}
}

type appenderFunc func(ctx context.Context, runID string, ev schema.Event) error

func (f appenderFunc) AppendEvent(ctx context.Context, runID string, ev schema.Event) error {
	return f(ctx, runID, ev)
}

func TestStoreSink_SkipsSamples(t *testing.T) {
	var stored []schema.EventType
	app := appenderFunc(func(_ context.Context, _ string, ev schema.Event) error {
		stored = append(stored, ev.Type)
		return nil
	})

	sink := &StoreSink{Store: app}
	ctx := context.Background()
	require.NoError(t, sink.PostEvent(ctx, "r", schema.Event{Type: schema.EventSample}))
	require.NoError(t, sink.PostEvent(ctx, "r", schema.Event{Type: schema.EventDone}))
	assert.Equal(t, []schema.EventType{schema.EventDone}, stored)

	sink.KeepSamples = true
	require.NoError(t, sink.PostEvent(ctx, "r", schema.Event{Type: schema.EventSample}))
	assert.Len(t, stored, 2)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := &LogSink{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	ok := false
	idx := 1

	require.NoError(t, sink.PostEvent(context.Background(), "run-9", schema.Event{
		Type: schema.EventStepEnd, Index: &idx, OK: &ok, Error: "timed out",
		Meta: &schema.StepMeta{StepID: "b", Type: schema.StepWait},
	}))

	out := buf.String()
	assert.Contains(t, out, "run_id=run-9")
	assert.Contains(t, out, "type=stepEnd")
	assert.Contains(t, out, "step_id=b")
	assert.Contains(t, out, "ok=false")
	assert.Contains(t, out, `error="timed out"`)
}

func TestHTTPSink_PostsToRelay(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{BaseURL: srv.URL + "/", Secret: "s3cret"})
	err := sink.PostEvent(context.Background(), "run/1", schema.Event{Type: schema.EventRunStatus, Status: schema.RunStatusRunning, TS: 77})
	require.NoError(t, err)

	assert.Equal(t, "/internal/runs/run/1/events", gotPath)
	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.Equal(t, "runStatus", gotBody["type"])
	assert.Equal(t, "run/1", gotBody["runId"])
	assert.Equal(t, float64(77), gotBody["ts"])
}

func TestHTTPSink_EventsURLEscapes(t *testing.T) {
	sink := NewHTTPSink(HTTPSinkConfig{BaseURL: "http://relay:8090/"})
	assert.Equal(t, "http://relay:8090/internal/runs/a%20b/events", sink.EventsURL("a b"))
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{BaseURL: srv.URL})
	err := sink.PostEvent(context.Background(), "run-1", schema.Event{Type: schema.EventDone})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int64(1), hits.Load())
}

func TestHTTPSink_NoAuthWithoutSecret(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{BaseURL: srv.URL})
	require.NoError(t, sink.PostEvent(context.Background(), "run-1", schema.Event{Type: schema.EventDone}))
	assert.Equal(t, "", gotAuth.Load())
}
