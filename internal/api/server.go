// Package api serves the runner's trigger contract over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rendis/browgent/internal/engine"
	"github.com/rendis/browgent/internal/store"
	"github.com/rendis/browgent/pkg/schema"
)

// RunService is the subset of *engine.Manager the API drives.
type RunService interface {
	Enqueue(ctx context.Context, req engine.EnqueueRequest) error
	Cancel(runID string) error
	Status(runID string) (engine.RunRecord, bool)
	Active() []engine.RunRecord
	Metrics() engine.Metrics
}

// History reads persisted runs. Satisfied by store.RunStore.
type History interface {
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error)
	GetEvents(ctx context.Context, runID string, since int64) ([]*store.EventRecord, error)
}

// StepReplayer rebuilds step outcomes from the event log. Satisfied by
// *store.EventLog.
type StepReplayer interface {
	ReplaySteps(ctx context.Context, runID string) ([]*store.StepSummary, error)
}

// Deps holds the API dependencies. History, Replayer and Validator are
// optional.
type Deps struct {
	Runs      RunService
	History   History
	Replayer  StepReplayer
	Validator engine.Validator
	Logger    *slog.Logger
}

// Server serves the runner HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Register mounts the API routes on r.
func (s *Server) Register(r gin.IRouter) {
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", s.handleMetrics)
	r.POST("/run", s.handleRun)
	r.POST("/validate", s.handleValidate)
	r.GET("/runs", s.handleListRuns)
	r.GET("/runs/:runId", s.handleGetRun)
	r.GET("/runs/:runId/events", s.handleRunEvents)
	r.GET("/runs/:runId/diagram", s.handleRunDiagram)
	r.POST("/runs/:runId/cancel", s.handleCancel)
}

// Handler returns a gin engine serving the API routes. Each mount registers
// additional routes on the same engine.
func (s *Server) Handler(mounts ...func(gin.IRouter)) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.Register(r)
	for _, mount := range mounts {
		mount(r)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.deps.Logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status())
	}
}

// writeError maps a BrowgentError code to its HTTP status. Validation
// rejections carry their reason as the error string.
func writeError(c *gin.Context, err error) {
	code := schema.ErrorCode(err)
	if code == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	be := asBrowgentError(err)

	switch code {
	case schema.ErrCodeValidation:
		body := gin.H{"error": be.Message}
		if errs, ok := be.Details["errors"]; ok {
			body["details"] = errs
		}
		c.JSON(http.StatusBadRequest, body)
	case schema.ErrCodeBusy:
		body := gin.H{"error": be.Message}
		for k, v := range be.Details {
			body[k] = v
		}
		c.JSON(http.StatusTooManyRequests, body)
	case schema.ErrCodeConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": be.Message, "runId": be.Details["runId"]})
	case schema.ErrCodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": be.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": be.Code, "message": be.Message})
	}
}
