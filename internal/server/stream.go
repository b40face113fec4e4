package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Buffer size for outbound messages
	sendBufferSize = 64
)

// MessageType tags stream frames
type MessageType string

const (
	MessageTypeMonitoring MessageType = "monitoring"
	MessageTypePushStatus MessageType = "push_status"
)

// ServerMessage is one frame sent to stream clients
type ServerMessage struct {
	Type      MessageType `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// ops surface; CORS origins are enforced on the REST routes
		return true
	},
}

// Hub fans monitoring snapshots and push status out to stream clients
type Hub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	unsubs  []func()
	closed  bool

	// Broadcast runs under the read lock from several publishers
	totalConnections atomic.Int64
	totalMessages    atomic.Int64

	log *zap.Logger
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*streamClient]struct{}),
		log:     zap.L().With(zap.String("component", "stream_hub")),
	}
}

// Attach subscribes the hub to the engine's monitoring and push status feeds
func (h *Hub) Attach(engine Engine) {
	unsubMon := engine.SubscribeMonitoring(func(s models.MonitoringSnapshot) {
		h.Broadcast(ServerMessage{Type: MessageTypeMonitoring, Payload: s, Timestamp: s.GeneratedAt})
	})
	unsubPush := engine.SubscribePushStatus(func(s models.PushStatus) {
		h.Broadcast(ServerMessage{Type: MessageTypePushStatus, Payload: s, Timestamp: time.Now().UTC()})
	})

	h.mu.Lock()
	h.unsubs = append(h.unsubs, unsubMon, unsubPush)
	h.mu.Unlock()
}

// Register adds a client; it reports false once the hub is closed
func (h *Hub) Register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.totalConnections.Add(1)
	h.log.Debug("stream client connected", zap.String("client_id", c.id), zap.Int("total", len(h.clients)))
	return true
}

// Unregister removes a client and closes its send buffer
func (h *Hub) Unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.log.Debug("stream client disconnected", zap.String("client_id", c.id), zap.Int("total", len(h.clients)))
	}
}

// Broadcast sends msg to every client without blocking.
// Clients whose buffer is full are disconnected.
func (h *Hub) Broadcast(msg ServerMessage) {
	var slow []*streamClient

	h.mu.RLock()
	for c := range h.clients {
		if !c.trySend(msg) {
			slow = append(slow, c)
		}
	}
	if len(h.clients) > 0 {
		h.totalMessages.Add(1)
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("stream client too slow, disconnecting", zap.String("client_id", c.id))
		h.Unregister(c)
	}
}

// sendTo delivers msg to one registered client
func (h *Hub) sendTo(c *streamClient, msg ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		c.trySend(msg)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Totals returns the clients ever registered and the messages broadcast to at
// least one client
func (h *Hub) Totals() (connections, messages int64) {
	return h.totalConnections.Load(), h.totalMessages.Load()
}

// Close detaches from the engine and disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unsubs := h.unsubs
	h.unsubs = nil
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// streamClient is one websocket subscriber
type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan ServerMessage
	hub  *Hub
}

func (c *streamClient) trySend(msg ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readPump discards inbound frames and detects disconnects
func (c *streamClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleMonitoringStream upgrades the connection and streams snapshots
func (s *Server) HandleMonitoringStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade", zap.Error(err))
		return
	}

	c := &streamClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan ServerMessage, sendBufferSize),
		hub:  s.hub,
	}
	if !s.hub.Register(c) {
		conn.Close()
		return
	}

	// current state first so clients need not wait for the next tick
	now := s.now().UTC()
	s.hub.sendTo(c, ServerMessage{Type: MessageTypeMonitoring, Payload: s.engine.Snapshot(), Timestamp: now})
	s.hub.sendTo(c, ServerMessage{Type: MessageTypePushStatus, Payload: s.engine.PushStatus(), Timestamp: now})

	go c.writePump()
	go c.readPump()
}
