package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tubecast/backend/internal/livestream"
	"github.com/tubecast/backend/internal/middleware"
	"github.com/tubecast/backend/pkg/response"
)

const (
	maxMessageSize = 65536
	writeWait      = 10 * time.Second
)


// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator func(token string) (uuid.UUID, error)

// Limits bounds inbound traffic per connection.
type Limits struct {
	MessagesPerSec float64
	Burst          int
}

// Client is a single WebSocket connection. UserID is uuid.Nil for
// anonymous viewers.
type Client struct {
	ID        livestream.ConnID
	UserID    uuid.UUID
	JoinedAt  time.Time
	hub       *Hub
	router    *Router
	conn      *websocket.Conn
	send      chan WSMessage
	limiter   *rate.Limiter
	closeOnce sync.Once
	logger    *zap.Logger
}

func (c *Client) actor() livestream.Actor {
	return livestream.Actor{UserID: c.UserID, Conn: c.ID}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

// ServeWs upgrades the request and runs the client loop. The token query
// parameter is optional; without it the connection is an anonymous viewer.
// Browsers from origins outside origins are refused at the upgrade.
func ServeWs(hub *Hub, router *Router, logger *zap.Logger, validate TokenValidator, limits Limits, origins middleware.OriginPolicy) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.CheckRequest,
	}
	return func(c *gin.Context) {
		userID := uuid.Nil
		token := c.Query("token")
		if token == "" {
			token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
		}
		if token != "" {
			id, err := validate(token)
			if err != nil {
				response.Unauthorized(c, "invalid or expired token")
				return
			}
			userID = id
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       livestream.ConnID(uuid.NewString()),
			UserID:   userID,
			JoinedAt: time.Now(),
			hub:      hub,
			router:   router,
			conn:     conn,
			send:     make(chan WSMessage, SendBuffer),
			limiter:  rate.NewLimiter(rate.Limit(limits.MessagesPerSec), limits.Burst),
			logger:   logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.router.Disconnect(c.actor())
		c.hub.Unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("client_id", string(c.ID)), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if c.limiter != nil && !c.limiter.Allow() {
			c.router.RateLimited(c.ID, msg)
			continue
		}
		c.router.Dispatch(c.actor(), msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
