// Package mcp exposes the runner as Model Context Protocol tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/browgent/internal/engine"
	"github.com/rendis/browgent/internal/store"
	"github.com/rendis/browgent/internal/streaming"
)

// RunService is the subset of *engine.Manager the tools drive.
type RunService interface {
	Enqueue(ctx context.Context, req engine.EnqueueRequest) error
	Cancel(runID string) error
	Status(runID string) (engine.RunRecord, bool)
	Metrics() engine.Metrics
}

// RunHistory looks up finished runs. Satisfied by store.RunStore.
type RunHistory interface {
	GetRun(ctx context.Context, id string) (*store.Run, error)
}

// ServerDeps holds the dependencies for creating a BrowgentServer.
// History and Hub are optional.
type ServerDeps struct {
	Runs      RunService
	Validator engine.Validator
	History   RunHistory
	Hub       streaming.EventHub
	Version   string
	Logger    *slog.Logger
}

// BrowgentServer wraps an MCP server with the runner's tool handlers.
type BrowgentServer struct {
	runs      RunService
	validator engine.Validator
	history   RunHistory
	sessions  *SessionRegistry
	notifier  *RunNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewBrowgentServer creates a BrowgentServer with all tools registered.
func NewBrowgentServer(deps ServerDeps) *BrowgentServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &BrowgentServer{
		runs:      deps.Runs,
		validator: deps.Validator,
		history:   deps.History,
		sessions:  NewSessionRegistry(),
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"browgent",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Browgent runs browser automation workflows. Use browgent.validate to check a workflow, browgent.run to start it, browgent.status to follow it, browgent.cancel to stop it and browgent.metrics to see runner load."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	if deps.Hub != nil {
		s.notifier = NewRunNotifier(mcpSrv, s.sessions, deps.Hub, logger)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *BrowgentServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *BrowgentServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *BrowgentServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: metricsTool(), Handler: s.handleMetrics},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("browgent.run",
		mcp.WithDescription("Start a browser workflow run"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow definition: {start?, steps: [...]}")),
		mcp.WithString("run_id", mcp.Description("Run ID (default: generated UUID)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("browgent.validate",
		mcp.WithDescription("Validate a workflow without running it"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow definition to check")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("browgent.status",
		mcp.WithDescription("Get the status of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("browgent.cancel",
		mcp.WithDescription("Cancel an active run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to cancel")),
	)
}

func metricsTool() mcp.Tool {
	return mcp.NewTool("browgent.metrics",
		mcp.WithDescription("Get runner load: active runs and max concurrency"),
	)
}
