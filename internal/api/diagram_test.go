package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/browgent/internal/store"
	"github.com/rendis/browgent/pkg/schema"
)

func diagramHistory() *fakeHistory {
	return &fakeHistory{runs: map[string]*store.Run{
		"r1": {
			ID:       "r1",
			Status:   schema.RunStatusSucceeded,
			Workflow: json.RawMessage(`{"steps":[{"id":"a","type":"wait","config":{"timeout":1}},{"id":"b","type":"log"}]}`),
		},
		"broken": {ID: "broken", Workflow: json.RawMessage(`{"steps":[]}`)},
	}}
}

func TestRunDiagram_Mermaid(t *testing.T) {
	h := newTestAPI(&fakeRuns{}, diagramHistory())

	req := httptest.NewRequest(http.MethodGet, "/runs/r1/diagram", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "graph TD")
	assert.Contains(t, body, "a --> b")
	assert.Contains(t, body, "class a succeeded", "replayed steps are overlaid")
}

func TestRunDiagram_Errors(t *testing.T) {
	h := newTestAPI(&fakeRuns{}, diagramHistory())

	w, _ := do(t, h, http.MethodGet, "/runs/nope/diagram", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := do(t, h, http.MethodGet, "/runs/broken/diagram", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_workflow", body["error"])

	w, body = do(t, h, http.MethodGet, "/runs/r1/diagram?format=gif", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_format", body["error"])
}

func TestRunDiagram_NoHistory(t *testing.T) {
	h := newTestAPI(&fakeRuns{}, nil)
	w, _ := do(t, h, http.MethodGet, "/runs/r1/diagram", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_Mounts(t *testing.T) {
	srv := NewServer(Deps{Runs: &fakeRuns{}})
	h := srv.Handler(func(r gin.IRouter) {
		r.GET("/extra", func(c *gin.Context) { c.String(http.StatusOK, "mounted") })
	})

	req := httptest.NewRequest(http.MethodGet, "/extra", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mounted", w.Body.String())
}
