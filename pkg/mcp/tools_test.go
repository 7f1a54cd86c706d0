package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/browgent/internal/engine"
	"github.com/rendis/browgent/internal/store"
	"github.com/rendis/browgent/pkg/schema"
)

// --- fakes ---

type fakeRuns struct {
	mu        sync.Mutex
	enqueued  []engine.EnqueueRequest
	enqueueFn func(req engine.EnqueueRequest) error
	active    map[string]engine.RunRecord
	cancelled []string
}

func (f *fakeRuns) Enqueue(_ context.Context, req engine.EnqueueRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueFn != nil {
		if err := f.enqueueFn(req); err != nil {
			return err
		}
	}
	f.enqueued = append(f.enqueued, req)
	return nil
}

func (f *fakeRuns) Cancel(runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[runID]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %s is not active", runID)
	}
	f.cancelled = append(f.cancelled, runID)
	return nil
}

func (f *fakeRuns) Status(runID string) (engine.RunRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.active[runID]
	return r, ok
}

func (f *fakeRuns) Metrics() engine.Metrics {
	return engine.Metrics{ActiveRuns: len(f.active), MaxConcurrency: 2}
}

type fakeHistory struct {
	runs map[string]*store.Run
}

func (f *fakeHistory) GetRun(_ context.Context, id string) (*store.Run, error) {
	if r, ok := f.runs[id]; ok {
		return r, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", id)
}

type fakeValidator struct{ result *schema.ValidationResult }

func (f *fakeValidator) Validate(context.Context, *schema.WorkflowDefinition) *schema.ValidationResult {
	if f.result == nil {
		return &schema.ValidationResult{}
	}
	return f.result
}

// --- helpers ---

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, res.IsError, resultText(t, res))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func sampleWorkflow() map[string]any {
	return map[string]any{
		"steps": []any{
			map[string]any{"id": "open", "type": "navigate", "config": map[string]any{"url": "https://example.com"}},
		},
	}
}

func newTestServer(runs *fakeRuns) *BrowgentServer {
	return NewBrowgentServer(ServerDeps{
		Runs:      runs,
		Validator: &fakeValidator{},
		History: &fakeHistory{runs: map[string]*store.Run{
			"old": {ID: "old", Status: schema.RunStatusSucceeded},
		}},
	})
}

// --- browgent.run ---

func TestHandleRun_EnqueuesWithGivenID(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestServer(runs)

	res, err := s.handleRun(t.Context(), callRequest("browgent.run", map[string]any{
		"workflow": sampleWorkflow(),
		"run_id":   "r1",
	}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "r1", out["runId"])

	require.Len(t, runs.enqueued, 1)
	assert.Equal(t, "r1", runs.enqueued[0].RunID)
	require.Len(t, runs.enqueued[0].Workflow.Steps, 1)
	assert.Equal(t, schema.StepNavigate, runs.enqueued[0].Workflow.Steps[0].Type)
}

func TestHandleRun_GeneratesID(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestServer(runs)

	res, err := s.handleRun(t.Context(), callRequest("browgent.run", map[string]any{"workflow": sampleWorkflow()}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	id, _ := out["runId"].(string)
	assert.Len(t, id, 36)
	require.Len(t, runs.enqueued, 1)
	assert.Equal(t, id, runs.enqueued[0].RunID)
}

func TestHandleRun_AcceptsYAMLString(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestServer(runs)

	yamlDoc := "steps:\n  - type: wait\n    config:\n      timeout: 1\n"
	res, err := s.handleRun(t.Context(), callRequest("browgent.run", map[string]any{"workflow": yamlDoc, "run_id": "y"}))
	require.NoError(t, err)
	resultJSON(t, res)

	require.Len(t, runs.enqueued, 1)
	assert.Equal(t, schema.StepWait, runs.enqueued[0].Workflow.Steps[0].Type)
}

func TestHandleRun_MissingWorkflow(t *testing.T) {
	s := newTestServer(&fakeRuns{})

	res, err := s.handleRun(t.Context(), callRequest("browgent.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "workflow is required")
}

func TestHandleRun_BusyCarriesDetails(t *testing.T) {
	runs := &fakeRuns{enqueueFn: func(engine.EnqueueRequest) error {
		return schema.NewError(schema.ErrCodeBusy, "runner busy").
			WithDetails(map[string]any{"activeRuns": 2, "maxConcurrency": 2})
	}}
	s := newTestServer(runs)

	res, err := s.handleRun(t.Context(), callRequest("browgent.run", map[string]any{"workflow": sampleWorkflow(), "run_id": "b"}))
	require.NoError(t, err)
	require.True(t, res.IsError)

	var be schema.BrowgentError
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &be))
	assert.Equal(t, schema.ErrCodeBusy, be.Code)
	assert.EqualValues(t, 2, be.Details["maxConcurrency"])
}

// --- browgent.validate ---

func TestHandleValidate(t *testing.T) {
	v := &fakeValidator{result: &schema.ValidationResult{}}
	v.result.AddError("steps[0].config.url", schema.ErrCodeValidation, "url is required")
	v.result.AddWarning("steps", "MIXED_IDS", "steps run in array order")

	s := NewBrowgentServer(ServerDeps{Runs: &fakeRuns{}, Validator: v})

	res, err := s.handleValidate(t.Context(), callRequest("browgent.validate", map[string]any{"workflow": sampleWorkflow()}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, false, out["valid"])
	assert.Len(t, out["errors"], 1)
	assert.Len(t, out["warnings"], 1)
}

func TestHandleValidate_MalformedWorkflowString(t *testing.T) {
	s := newTestServer(&fakeRuns{})

	res, err := s.handleValidate(t.Context(), callRequest("browgent.validate", map[string]any{"workflow": "steps: [a, b"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

// --- browgent.status ---

func TestHandleStatus(t *testing.T) {
	runs := &fakeRuns{active: map[string]engine.RunRecord{
		"live": {RunID: "live", Status: schema.RunStatusRunning, ActiveSlot: true},
	}}
	s := newTestServer(runs)

	t.Run("active", func(t *testing.T) {
		res, err := s.handleStatus(t.Context(), callRequest("browgent.status", map[string]any{"run_id": "live"}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.Equal(t, true, out["active"])
		assert.Equal(t, "running", out["status"])
	})

	t.Run("history", func(t *testing.T) {
		res, err := s.handleStatus(t.Context(), callRequest("browgent.status", map[string]any{"run_id": "old"}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.Equal(t, false, out["active"])
		assert.Equal(t, "succeeded", out["status"])
	})

	t.Run("unknown", func(t *testing.T) {
		res, err := s.handleStatus(t.Context(), callRequest("browgent.status", map[string]any{"run_id": "nope"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(t, res), "not found")
	})

	t.Run("missing id", func(t *testing.T) {
		res, err := s.handleStatus(t.Context(), callRequest("browgent.status", map[string]any{}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}

// --- browgent.cancel ---

func TestHandleCancel(t *testing.T) {
	runs := &fakeRuns{active: map[string]engine.RunRecord{"live": {RunID: "live"}}}
	s := newTestServer(runs)

	res, err := s.handleCancel(t.Context(), callRequest("browgent.cancel", map[string]any{"run_id": "live"}))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, res)["ok"])
	assert.Equal(t, []string{"live"}, runs.cancelled)

	res, err = s.handleCancel(t.Context(), callRequest("browgent.cancel", map[string]any{"run_id": "gone"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), schema.ErrCodeNotFound)
}

// --- browgent.metrics ---

func TestHandleMetrics(t *testing.T) {
	runs := &fakeRuns{active: map[string]engine.RunRecord{"a": {RunID: "a"}}}
	s := newTestServer(runs)

	res, err := s.handleMetrics(t.Context(), callRequest("browgent.metrics", nil))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.EqualValues(t, 1, out["activeRuns"])
	assert.EqualValues(t, 2, out["maxConcurrency"])
}
