package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/syncpad/syncpad/internal/slogging"
	"github.com/syncpad/syncpad/internal/uuidgen"
)

const (
	// writeWait is the deadline for a single outbound frame.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read
	// deadline fires.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 30 * time.Second
	// maxMessageSize limits inbound frames.
	maxMessageSize = 64 * 1024
	// sendBufferSize is the per-client outbound queue. A client that
	// cannot drain it is dropped; fan-out never blocks on a slow reader.
	sendBufferSize = 256
)

var (
	wsConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncpad_ws_connections_open",
		Help: "Number of currently open WebSocket connections.",
	})
	wsMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncpad_ws_messages_total",
		Help: "Inbound WebSocket messages by event name.",
	}, []string{"event"})
	wsDroppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncpad_ws_dropped_clients_total",
		Help: "Clients disconnected because their send buffer filled.",
	})
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development; restrict in production
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub is the in-memory connection registry and per-session multicast
// layer. It does no persistence; a connection may be in zero or more
// rooms, and joining a room never implicitly leaves another (switching
// between the editor and whiteboard views keeps membership intact).
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	// sessionID -> socketID -> client
	rooms map[string]map[string]*Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// Client represents one connected transport link, with the explicit
// per-connection state record the message handlers operate on.
type Client struct {
	// ID is the socket id exposed on the wire protocol.
	ID string

	hub  *Hub
	conn *websocket.Conn
	// Send is the buffered outbound frame queue drained by WritePump.
	Send chan []byte

	mu        sync.Mutex
	sessionID string
	user      *Identity
}

// newClient wraps an upgraded connection.
func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuidgen.MustNewForEntity(uuidgen.EntityTypeConnection).String(),
		hub:  hub,
		conn: conn,
		Send: make(chan []byte, sendBufferSize),
	}
}

// SessionID returns the connection's current session, "" when not joined.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// User returns the identity supplied on authenticate, nil before that.
func (c *Client) User() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// setState records the connection's session and identity.
func (c *Client) setState(sessionID string, user *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	if user != nil {
		c.user = user
	}
}

// clearState resets the connection to the unauthenticated state.
func (c *Client) clearState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
	c.user = nil
}

// Register adds the client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	wsConnectionsOpen.Inc()
}

// Unregister removes the client from the hub and every room, and closes
// its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	for sessionID, room := range h.rooms {
		if _, ok := room[c.ID]; ok {
			delete(room, c.ID)
			if len(room) == 0 {
				delete(h.rooms, sessionID)
			}
		}
	}
	close(c.Send)
	wsConnectionsOpen.Dec()
}

// Join adds the client to a session's room.
func (h *Hub) Join(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[sessionID]
	if room == nil {
		room = make(map[string]*Client)
		h.rooms[sessionID] = room
	}
	room[c.ID] = c
}

// Leave removes the client from a session's room.
func (h *Hub) Leave(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[sessionID]
	if room == nil {
		return
	}
	delete(room, c.ID)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// Broadcast fans an event out to every member of the session's room,
// optionally excluding the sender. Delivery is fire-and-forget.
func (h *Hub) Broadcast(sessionID, event string, payload any, exclude *Client) {
	frame, err := encodeEnvelope(event, payload)
	if err != nil {
		slogging.Get().Error("Failed to encode %s broadcast: %v", event, err)
		return
	}

	h.mu.RLock()
	room := h.rooms[sessionID]
	targets := make([]*Client, 0, len(room))
	for _, client := range room {
		if exclude != nil && client.ID == exclude.ID {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.deliver(client, frame)
	}
}

// BroadcastToAll fans an event out to every connected client regardless of
// session membership.
func (h *Hub) BroadcastToAll(event string, payload any) {
	frame, err := encodeEnvelope(event, payload)
	if err != nil {
		slogging.Get().Error("Failed to encode %s broadcast: %v", event, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.deliver(client, frame)
	}
}

// SendTo delivers an event to a single socket id. Returns false if the
// socket is unknown.
func (h *Hub) SendTo(socketID, event string, payload any) bool {
	h.mu.RLock()
	client, ok := h.clients[socketID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	h.SendToClient(client, event, payload)
	return true
}

// SendToClient delivers an event directly to a client.
func (h *Hub) SendToClient(c *Client, event string, payload any) {
	frame, err := encodeEnvelope(event, payload)
	if err != nil {
		slogging.Get().Error("Failed to encode %s message: %v", event, err)
		return
	}
	h.deliver(c, frame)
}

// ConnectionCount returns the number of registered clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in a session's room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// deliver enqueues a frame, dropping the client if its buffer is full.
func (h *Hub) deliver(c *Client, frame []byte) {
	defer func() {
		// Send may race with Unregister closing the channel; a dropped
		// frame to a dying client is acceptable under at-most-once
		// delivery.
		_ = recover()
	}()
	select {
	case c.Send <- frame:
	default:
		wsDroppedClients.Inc()
		slogging.Get().Warn("Dropping slow client %s (send buffer full)", c.ID)
		go h.Unregister(c)
	}
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		raw = data
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// ReadPump pumps inbound frames from the connection into the router. It
// runs one goroutine per connection and owns all reads.
func (c *Client) ReadPump(router *Router) {
	defer func() {
		router.HandleDisconnect(c)
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slogging.Get().Warn("WebSocket read error for %s: %v", c.ID, err)
			}
			return
		}
		router.Route(c, message)
	}
}

// WritePump pumps frames from the send queue to the connection and keeps
// the link alive with pings. It owns all writes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
