package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/middleware"
	"github.com/bubbly-live/backend/internal/sessions"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection. Room sockets carry a
// SessionCode; dashboard sockets carry a HostUID instead.
type Client struct {
	ID          string
	SessionCode string
	HostUID     string
	ViewerID    string
	hub         *Hub
	conn        *websocket.Conn
	send        chan WSMessage
	logger      *zap.Logger
}

// ServeRoom upgrades a viewer or host socket onto a session room. The
// stream is one-way: mutations go through the REST API and arrive back here
// via the room's feeds.
func ServeRoom(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Query("session")
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:          uuid.NewString(),
			SessionCode: code,
			ViewerID:    c.Query("viewer"),
			hub:         hub,
			conn:        conn,
			send:        make(chan WSMessage, 256),
			logger:      logger,
		}
		if err := hub.Register(c.Request.Context(), client); err != nil {
			status := websocket.ClosePolicyViolation
			if errors.Is(err, sessions.ErrNotFound) {
				status = websocket.CloseNormalClosure
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(status, "session unavailable"), time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}
		go client.writePump()
		client.readPump(hub.Unregister)
	}
}

// ServeDashboard upgrades an authenticated host socket onto their session
// list. The caller must have run the JWT middleware; uid comes from it.
func ServeDashboard(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		idVal, ok := c.Get(middleware.ContextUserID)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		uid := idVal.(uuid.UUID).String()

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:      uuid.NewString(),
			HostUID: uid,
			hub:     hub,
			conn:    conn,
			send:    make(chan WSMessage, 256),
			logger:  logger,
		}
		if err := hub.RegisterDashboard(c.Request.Context(), client); err != nil {
			_ = conn.Close()
			return
		}
		go client.writePump()
		client.readPump(hub.UnregisterDashboard)
	}
}

// enqueue marshals and queues an event for this client only.
func (c *Client) enqueue(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.trySend(WSMessage{Event: event, Data: data})
}

func (c *Client) trySend(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		// buffer full, skip
	}
}

func (c *Client) readPump(unregister func(*Client)) {
	defer func() {
		unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "join":
			if c.SessionCode != "" {
				c.enqueue(EventAudienceCount, map[string]int{
					"count": c.hub.AudienceCount(c.SessionCode),
				})
			}
		default:
			// ignore; the stream is server-to-client
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
