package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/flamecaster/internal/infrastructure/config"
	"github.com/nerrad567/flamecaster/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeStatus   = "status"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeResponse = "response"
	WSTypeError    = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
	defaultMaxMessage   = 8192
)

// WSMessage represents a message sent to a websocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// ObserverTracker counts attached observers.
type ObserverTracker interface {
	AttachObserver() (detach func())
}

// ObserverFeed supplies cached snapshots to new clients and accepts their
// command messages.
type ObserverFeed interface {
	SubmitMessage(data []byte) error
	Latest() []json.RawMessage
}

// Hub manages websocket observers and broadcasts status snapshots.
//
// Each client is attached as a router observer for its whole lifetime.
type Hub struct {
	cfg       config.WebSocketConfig
	logger    *logging.Logger
	observers ObserverTracker
	feed      ObserverFeed

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is a connected websocket observer.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	detach func()
}

// upgrader configures the websocket upgrader. Observers are served on a
// trusted lighting network, so any origin is accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a websocket hub. Zero cfg timings take defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, observers ObserverTracker, feed ObserverFeed) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = int(defaultPingInterval / time.Second)
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = int(defaultPongTimeout / time.Second)
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessage
	}
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		observers: observers,
		feed:      feed,
		clients:   make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub and attaches it as an observer.
func (h *Hub) Register(client *WSClient) {
	client.detach = h.observers.AttachObserver()

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket observer connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes its send
// channel and detaches it.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
		client.detach()
	}
	h.logger.Debug("websocket observer disconnected", "clients", h.ClientCount())
}

// Broadcast sends a serialised status snapshot to every client.
// Slow clients whose buffer is full miss the message.
func (h *Hub) Broadcast(status []byte) {
	data, err := statusMessage(status)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels so
// writePump goroutines can exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		client.detach()
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func statusMessage(status []byte) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   json.RawMessage(status),
	})
}

// handleWebSocket upgrades the connection and registers an observer.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	s.hub.serve(conn)
}

// serve registers conn and starts its pumps. The latest snapshot of every
// device is queued first so a new observer does not wait a full interval.
func (h *Hub) serve(conn *websocket.Conn) {
	client := &WSClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}

	for _, status := range h.feed.Latest() {
		if data, err := statusMessage(status); err == nil {
			client.trySend(data)
		}
	}

	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// readPump reads command messages from the connection.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleMessage(message)
	}
}

// writePump writes queued messages and keepalive pings.
func (c *WSClient) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers pings and forwards anything else as a command,
// e.g. {"command": "shutdown"}.
func (c *WSClient) handleMessage(data []byte) {
	var head struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.sendResponse("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	if head.Type == WSTypePing {
		c.sendResponse(head.ID, WSTypePong, nil)
		return
	}

	if err := c.hub.feed.SubmitMessage(data); err != nil {
		c.sendResponse(head.ID, WSTypeError, map[string]string{"message": err.Error()})
		return
	}
	c.sendResponse(head.ID, WSTypeResponse, map[string]string{"status": "queued"})
}

// trySend queues data for the client. Closed channels (client gone during
// broadcast) and full buffers (slow client) are ignored.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}
