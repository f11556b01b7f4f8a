package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/framerender/internal/browser"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framerender/internal/pool"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only stats, any dashboard may subscribe
	},
}

// PoolView exposes pool state
type PoolView interface {
	Stats() pool.Stats
	Sessions() []browser.Info
}

// Message is a frame sent to subscribers
type Message struct {
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Stats     *pool.Stats    `json:"stats,omitempty"`
	Sessions  []browser.Info `json:"sessions,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// inbound is a frame received from a subscriber
type inbound struct {
	Type string `json:"type"`
}

// Handler streams pool statistics over WebSocket
type Handler struct {
	pool     PoolView
	interval time.Duration
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler pushing every interval
func NewHandler(p PoolView, interval time.Duration, logger *zap.Logger) *Handler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Handler{pool: p, interval: interval, logger: logger}
}

// WithMetrics tracks open connections
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// HandleConnection upgrades the request and pushes a stats frame every
// interval until the client goes away. A {"type":"ping"} frame is answered
// with a pong.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	// gorilla allows one concurrent writer, so the reader hands pings over
	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg inbound
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	if err := h.send(conn, Message{Type: "system", Message: "subscribed to pool statistics"}); err != nil {
		return
	}
	if err := h.sendStats(conn); err != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-pings:
			if err := h.send(conn, Message{Type: "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.sendStats(conn); err != nil {
				h.logger.Debug("WebSocket subscriber gone", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) sendStats(conn *websocket.Conn) error {
	stats := h.pool.Stats()
	return h.send(conn, Message{Type: "stats", Stats: &stats, Sessions: h.pool.Sessions()})
}

func (h *Handler) send(conn *websocket.Conn, msg Message) error {
	msg.Timestamp = time.Now().Unix()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
