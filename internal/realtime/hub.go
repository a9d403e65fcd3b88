package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/livestream"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
	// SendBuffer is the per-connection outbound queue size.
	SendBuffer = 256
)

// Hub tracks open connections and the rooms they belong to. It implements
// livestream.Fanout; a full client buffer drops the message for that client.
type Hub struct {
	clients map[livestream.ConnID]*Client
	// sessionID -> connID -> client
	rooms   map[uuid.UUID]map[livestream.ConnID]*Client
	mu      sync.RWMutex
	wg      sync.WaitGroup
	logger  *zap.Logger
	metrics *livestream.Metrics
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, metrics *livestream.Metrics) *Hub {
	return &Hub{
		clients: make(map[livestream.ConnID]*Client),
		rooms:   make(map[uuid.UUID]map[livestream.ConnID]*Client),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.wg.Add(1)
	h.mu.Unlock()
	h.metrics.IncWSClients(1)
	h.logger.Debug("client connected", zap.String("client_id", string(c.ID)), zap.String("user_id", c.UserID.String()))
}

// Unregister removes a connection from the hub and every room, then closes
// its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	for id, room := range h.rooms {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
	close(c.send)
	h.mu.Unlock()
	h.wg.Done()
	h.metrics.IncWSClients(-1)
	h.logger.Debug("client disconnected", zap.String("client_id", string(c.ID)))
}

func (h *Hub) JoinRoom(sessionID uuid.UUID, conn livestream.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[conn]
	if !ok {
		return
	}
	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[livestream.ConnID]*Client)
	}
	h.rooms[sessionID][conn] = c
}

func (h *Hub) LeaveRoom(sessionID uuid.UUID, conn livestream.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

// CloseRoom forgets the room; member connections stay open.
func (h *Hub) CloseRoom(sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, sessionID)
}

// Broadcast sends a message to every connection in a room.
func (h *Hub) Broadcast(sessionID uuid.UUID, event string, payload interface{}) {
	h.BroadcastExcept(sessionID, "", event, payload)
}

// BroadcastExcept sends to every connection in a room but one.
func (h *Hub) BroadcastExcept(sessionID uuid.UUID, except livestream.ConnID, event string, payload interface{}) {
	msg, ok := h.envelope(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[sessionID] {
		if id == except {
			continue
		}
		h.deliver(c, msg)
	}
}

// Send delivers to one connection. Returns false when the connection is gone
// or its buffer is full.
func (h *Hub) Send(conn livestream.ConnID, event string, payload interface{}) bool {
	msg, ok := h.envelope(event, payload)
	if !ok {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[conn]
	if !ok {
		return false
	}
	return h.deliver(c, msg)
}

// deliver must be called with h.mu held so Unregister cannot close c.send.
func (h *Hub) deliver(c *Client, msg WSMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		h.metrics.IncBroadcastDrops()
		return false
	}
}

func (h *Hub) envelope(event string, payload interface{}) (WSMessage, bool) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			h.logger.Error("marshal ws payload", zap.String("event", event), zap.Error(err))
			return WSMessage{}, false
		}
	}
	return WSMessage{Event: event, Data: data}, true
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of connections in a room.
func (h *Hub) RoomSize(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Shutdown closes every connection; read pumps then run their disconnect
// cleanup. Wait blocks until they have.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) Wait() {
	h.wg.Wait()
}
