// Package relay accepts run events from runners and fans them out to live
// viewers over WebSocket and Server-Sent Events.
package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rendis/browgent/internal/events"
	"github.com/rendis/browgent/internal/streaming"
	"github.com/rendis/browgent/pkg/schema"
)

// DefaultHeartbeat is the interval between WebSocket pings.
const DefaultHeartbeat = 30 * time.Second

// Config holds the relay dependencies.
type Config struct {
	Secret    string // bearer token for the internal endpoint; empty disables auth
	Hub       streaming.EventHub
	Logger    *slog.Logger
	Heartbeat time.Duration
}

// Server serves the relay routes.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
}

// NewServer creates a relay Server. A nil Hub gets a fresh MemoryHub.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if cfg.Hub == nil {
		cfg.Hub = streaming.NewMemoryHub()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Hub returns the hub events are published to.
func (s *Server) Hub() streaming.EventHub { return s.cfg.Hub }

// Register mounts the relay routes on r.
func (s *Server) Register(r gin.IRouter) {
	r.POST("/internal/runs/:runId/events", s.requireSecret(), s.handleEvent)
	r.GET("/ws", s.handleWebSocket)
	r.GET("/sse/runs/:runId", s.handleSSE)
}

// Handler returns a standalone gin engine serving only the relay routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	s.Register(r)
	return r
}

// requireSecret rejects requests without the configured bearer token.
func (s *Server) requireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Secret == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+s.cfg.Secret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// handleEvent stamps the posted body with runId and ts and publishes it.
// An empty body is treated as an empty object.
func (s *Server) handleEvent(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("runId"))
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_run", "message": "run id is required"})
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": err.Error()})
		return
	}
	body := map[string]any{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil || body == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": "body must be a JSON object"})
			return
		}
	}

	payload := events.Merge(runID, body, schema.NowMillis())
	eventType, _ := payload["type"].(string)
	if err := s.cfg.Hub.Publish(c.Request.Context(), streaming.StreamEvent{
		RunID:     runID,
		EventType: eventType,
		Payload:   payload,
	}); err != nil {
		s.cfg.Logger.Warn("relay publish failed", "run_id", runID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "publish_failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}
