package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/browgent/internal/engine"
	"github.com/rendis/browgent/pkg/schema"
)

// handleRun validates and enqueues a workflow.
func (s *BrowgentServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, err := workflowArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	runID := strings.TrimSpace(req.GetString("run_id", ""))
	if runID == "" {
		runID = uuid.New().String()
	}

	// Watch before enqueueing so a fast run's done event is not missed.
	watched := s.watch(ctx, runID)

	if err := s.runs.Enqueue(ctx, engine.EnqueueRequest{RunID: runID, Workflow: def}); err != nil {
		if watched {
			s.sessions.Forget(runID)
		}
		return errorResult(err)
	}
	return marshalResult(map[string]any{"ok": true, "runId": runID})
}

// handleValidate runs the validation pipeline and returns every issue.
func (s *BrowgentServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, err := workflowArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.validator == nil {
		return mcp.NewToolResultError("validator not configured"), nil
	}
	result := s.validator.Validate(ctx, def)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleStatus reports an active run, falling back to run history.
func (s *BrowgentServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	if record, ok := s.runs.Status(runID); ok {
		return marshalResult(map[string]any{"runId": runID, "active": true, "status": record.Status, "record": record})
	}
	if s.history != nil {
		run, err := s.history.GetRun(ctx, runID)
		if err == nil {
			return marshalResult(map[string]any{"runId": runID, "active": false, "status": run.Status, "run": run})
		}
		if schema.ErrorCode(err) != schema.ErrCodeNotFound {
			return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
		}
	}
	return mcp.NewToolResultError(fmt.Sprintf("run %s not found", runID)), nil
}

func (s *BrowgentServer) handleCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if err := s.runs.Cancel(runID); err != nil {
		return errorResult(err)
	}
	return marshalResult(map[string]any{"ok": true, "runId": runID})
}

func (s *BrowgentServer) handleMetrics(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(s.runs.Metrics())
}

// watch registers the calling session for runID's done notification.
func (s *BrowgentServer) watch(ctx context.Context, runID string) bool {
	if s.notifier == nil {
		return false
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return false
	}
	s.sessions.Register(runID, session.SessionID())
	if err := s.notifier.Watch(runID); err != nil {
		s.logger.Warn("watch run failed", "run_id", runID, "error", err)
		s.sessions.Forget(runID)
		return false
	}
	return true
}

// workflowArg decodes the workflow argument. Objects and JSON/YAML strings
// are accepted.
func workflowArg(req mcp.CallToolRequest) (*schema.WorkflowDefinition, error) {
	raw, ok := req.GetArguments()["workflow"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if text, isText := raw.(string); isText {
		return schema.ParseWorkflow([]byte(text))
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	return schema.ParseWorkflow(data)
}

// errorResult renders a BrowgentError, details included, as a tool error.
func errorResult(err error) (*mcp.CallToolResult, error) {
	be, ok := err.(*schema.BrowgentError)
	if !ok {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, mErr := json.Marshal(be)
	if mErr != nil {
		return mcp.NewToolResultError(be.Error()), nil
	}
	return mcp.NewToolResultError(string(data)), nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
