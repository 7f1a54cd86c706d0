package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rendis/browgent/internal/streaming"
	"github.com/rendis/browgent/pkg/schema"
)

const (
	writeWait   = 10 * time.Second
	sendBuffer  = 64
	maxReadSize = 64 << 10
)

// clientMessage is a control message sent by a viewer.
type clientMessage struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
}

// wsClient is one WebSocket viewer. All writes go through send so that
// writePump is the connection's only writer.
type wsClient struct {
	srv  *Server
	conn *websocket.Conn
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]func()
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.cfg.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	client := &wsClient{
		srv:    s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]func()),
	}

	go client.writePump()
	client.readPump()
}

// readPump handles control messages until the peer goes away. A peer that
// misses two heartbeats is dropped by the read deadline.
func (c *wsClient) readPump() {
	defer c.close()

	deadline := 2 * c.srv.cfg.Heartbeat
	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			if msg.RunID == "" {
				continue
			}
			c.subscribe(msg.RunID)
			c.reply(map[string]any{"type": "subscribed", "runId": msg.RunID})
		case "unsubscribe":
			c.unsubscribe(msg.RunID)
		case "ping":
			c.reply(map[string]any{"type": "pong", "ts": schema.NowMillis()})
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.srv.cfg.Heartbeat)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// subscribe forwards the run's hub events to the viewer. Subscribing twice to
// the same run is a no-op.
func (c *wsClient) subscribe(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[runID]; ok {
		return
	}

	ch, cancel, err := c.srv.cfg.Hub.Subscribe(c.ctx, streaming.EventFilter{RunID: runID})
	if err != nil {
		c.srv.cfg.Logger.Warn("websocket subscribe failed", "run_id", runID, "error", err)
		return
	}

	done := make(chan struct{})
	c.subs[runID] = func() {
		cancel()
		close(done)
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case <-c.ctx.Done():
				return
			case ev := <-ch:
				data, err := json.Marshal(ev.Payload)
				if err != nil {
					continue
				}
				c.enqueue(data)
			}
		}
	}()
}

func (c *wsClient) unsubscribe(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stop, ok := c.subs[runID]; ok {
		stop()
		delete(c.subs, runID)
	}
}

func (c *wsClient) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// enqueue hands a frame to writePump, dropping it when the viewer is too slow.
func (c *wsClient) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.srv.cfg.Logger.Debug("websocket viewer too slow, frame dropped")
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	for runID, stop := range c.subs {
		stop()
		delete(c.subs, runID)
	}
	c.mu.Unlock()
	c.cancel()
}
