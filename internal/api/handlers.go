package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rendis/browgent/internal/engine"
	"github.com/rendis/browgent/internal/store"
	"github.com/rendis/browgent/pkg/schema"
)

// runRequest is the POST /run body. Workflow is decoded separately so a
// missing workflow and a malformed one are reported differently.
type runRequest struct {
	RunID    string          `json:"runId"`
	Workflow json.RawMessage `json:"workflow"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Runs.Metrics())
}

func (s *Server) handleRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": err.Error()})
		return
	}

	def, err := decodeWorkflow(req.Workflow)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": engine.ReasonInvalidWorkflow, "details": []string{err.Error()}})
		return
	}

	if err := s.deps.Runs.Enqueue(c.Request.Context(), engine.EnqueueRequest{RunID: req.RunID, Workflow: def}); err != nil {
		if code := schema.ErrorCode(err); code != schema.ErrCodeValidation && code != schema.ErrCodeBusy {
			s.deps.Logger.Warn("enqueue rejected", "run_id", req.RunID, "error", err)
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "runId": req.RunID})
}

// decodeWorkflow returns nil for an absent or null workflow.
func decodeWorkflow(raw json.RawMessage) (*schema.WorkflowDefinition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *Server) handleValidate(c *gin.Context) {
	if s.deps.Validator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "validator_unavailable"})
		return
	}
	var def schema.WorkflowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": err.Error()})
		return
	}
	result := s.deps.Validator.Validate(c.Request.Context(), &def)
	c.JSON(http.StatusOK, gin.H{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	body := gin.H{"active": s.deps.Runs.Active()}
	if s.deps.History != nil {
		filter := store.RunFilter{Limit: queryInt(c, "limit", 50), Offset: queryInt(c, "offset", 0)}
		if st := c.Query("status"); st != "" {
			status := schema.RunStatus(st)
			filter.Status = &status
		}
		runs, err := s.deps.History.ListRuns(c.Request.Context(), filter)
		if err != nil {
			writeError(c, storeError(err))
			return
		}
		body["runs"] = runs
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("runId")
	body := gin.H{"runId": runID}

	record, active := s.deps.Runs.Status(runID)
	if active {
		body["active"] = record
	}

	found := active
	if s.deps.History != nil {
		run, err := s.deps.History.GetRun(c.Request.Context(), runID)
		switch {
		case err == nil:
			found = true
			body["run"] = run
		case schema.ErrorCode(err) != schema.ErrCodeNotFound:
			writeError(c, storeError(err))
			return
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "run " + runID + " not found"})
		return
	}

	if s.deps.Replayer != nil {
		steps, err := s.deps.Replayer.ReplaySteps(c.Request.Context(), runID)
		if err != nil {
			s.deps.Logger.Warn("replay steps failed", "run_id", runID, "error", err)
		} else {
			body["steps"] = steps
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleRunEvents(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history_unavailable"})
		return
	}
	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil || since < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since"})
		return
	}
	records, err := s.deps.History.GetEvents(c.Request.Context(), c.Param("runId"), since)
	if err != nil {
		writeError(c, storeError(err))
		return
	}
	if records == nil {
		records = []*store.EventRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}

func (s *Server) handleCancel(c *gin.Context) {
	runID := c.Param("runId")
	if err := s.deps.Runs.Cancel(runID); err != nil {
		writeError(c, err)
		return
	}
	s.deps.Logger.Info("run cancel requested", "run_id", runID)
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "runId": runID})
}

// storeError keeps BrowgentErrors and wraps anything else as STORE_ERROR.
func storeError(err error) error {
	if schema.ErrorCode(err) != "" {
		return err
	}
	return schema.NewError(schema.ErrCodeStore, "run history unavailable").WithCause(err)
}

func asBrowgentError(err error) *schema.BrowgentError {
	var be *schema.BrowgentError
	if errors.As(err, &be) {
		return be
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error())
}

// queryInt extracts an integer query param with a default value.
func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
