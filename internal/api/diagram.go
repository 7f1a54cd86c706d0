package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rendis/browgent/internal/diagram"
	"github.com/rendis/browgent/internal/store"
	"github.com/rendis/browgent/pkg/schema"
)

// handleRunDiagram renders a stored run's workflow with its step outcomes.
// format is mermaid (default), svg, png or dot.
func (s *Server) handleRunDiagram(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history_unavailable"})
		return
	}
	runID := c.Param("runId")
	ctx := c.Request.Context()

	run, err := s.deps.History.GetRun(ctx, runID)
	if err != nil {
		writeError(c, storeError(err))
		return
	}
	def, err := schema.ParseWorkflow(run.Workflow)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_workflow", "message": err.Error()})
		return
	}

	var steps []*store.StepSummary
	if s.deps.Replayer != nil {
		if steps, err = s.deps.Replayer.ReplaySteps(ctx, runID); err != nil {
			s.deps.Logger.Warn("replay steps failed", "run_id", runID, "error", err)
		}
	}

	model, err := diagram.Build(def, steps)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_workflow", "message": err.Error()})
		return
	}

	switch format := c.DefaultQuery("format", "mermaid"); format {
	case "mermaid":
		c.String(http.StatusOK, diagram.RenderMermaid(model))
	case diagram.FormatSVG, diagram.FormatPNG, diagram.FormatDOT:
		data, err := diagram.RenderImage(ctx, model, format)
		if err != nil {
			writeError(c, schema.NewError(schema.ErrCodeExecution, "render diagram").WithCause(err))
			return
		}
		c.Data(http.StatusOK, diagramContentType(format), data)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_format"})
	}
}

func diagramContentType(format string) string {
	switch format {
	case diagram.FormatSVG:
		return "image/svg+xml"
	case diagram.FormatPNG:
		return "image/png"
	default:
		return "text/vnd.graphviz"
	}
}
