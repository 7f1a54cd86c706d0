package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/browgent/internal/streaming"
)

func TestNewBrowgentServer(t *testing.T) {
	s := NewBrowgentServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.Nil(t, s.notifier, "no hub means no done notifications")
}

func TestNewBrowgentServer_WithHubWiresNotifier(t *testing.T) {
	s := NewBrowgentServer(ServerDeps{Hub: streaming.NewMemoryHub()})
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s := NewBrowgentServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	for _, name := range []string{
		"browgent.run",
		"browgent.validate",
		"browgent.status",
		"browgent.cancel",
		"browgent.metrics",
	} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
		required    []string
	}{
		{"run", "browgent.run", "Start a browser workflow run", []string{"workflow"}},
		{"validate", "browgent.validate", "Validate a workflow without running it", []string{"workflow"}},
		{"status", "browgent.status", "Get the status of a run", []string{"run_id"}},
		{"cancel", "browgent.cancel", "Cancel an active run", []string{"run_id"}},
		{"metrics", "browgent.metrics", "Get runner load: active runs and max concurrency", nil},
	}

	s := NewBrowgentServer(ServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
			assert.ElementsMatch(t, tc.required, tool.Tool.InputSchema.Required)
		})
	}
}
