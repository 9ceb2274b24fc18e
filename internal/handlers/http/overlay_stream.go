package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"duelnet/internal/core/domain"
)

const (
	overlayWriteWait  = 5 * time.Second
	overlayPongWait   = 60 * time.Second
	overlayPingPeriod = overlayPongWait * 9 / 10
	overlayQueueSize  = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type overlayClient struct {
	ws   *websocket.Conn
	send chan []byte
}

// enqueue drops the message when the client is too slow.
func (c *overlayClient) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}

// OverlayHub fans diagnostics snapshots out to websocket viewers. It is the
// process's DiagnosticsSink.
type OverlayHub struct {
	mu      sync.Mutex
	clients map[*overlayClient]struct{}
	last    []byte
	logger  *zap.SugaredLogger
	closed  bool
}

func NewOverlayHub(logger *zap.SugaredLogger) *OverlayHub {
	return &OverlayHub{
		clients: make(map[*overlayClient]struct{}),
		logger:  logger,
	}
}

func (h *OverlayHub) UpdateNetDiagOverlay(d domain.Diagnostics) {
	payload, err := json.Marshal(d)
	if err != nil {
		h.logger.Warnw("failed to encode diagnostics", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = payload
	for c := range h.clients {
		c.enqueue(payload)
	}
}

// Viewers returns the number of connected viewers.
func (h *OverlayHub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and streams every snapshot to the viewer,
// starting with the latest one.
func (h *OverlayHub) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debugw("overlay upgrade failed", "error", err)
		return
	}

	client := &overlayClient{ws: ws, send: make(chan []byte, overlayQueueSize)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.clients[client] = struct{}{}
	if h.last != nil {
		client.enqueue(h.last)
	}
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

func (h *OverlayHub) remove(c *overlayClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *OverlayHub) writePump(c *overlayClient) {
	ticker := time.NewTicker(overlayPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(overlayWriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(overlayWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only watches for the viewer going away.
func (h *OverlayHub) readPump(c *overlayClient) {
	defer h.remove(c)
	c.ws.SetReadLimit(512)
	_ = c.ws.SetReadDeadline(time.Now().Add(overlayPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(overlayPongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// Close disconnects every viewer.
func (h *OverlayHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
