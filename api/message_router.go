package api

import (
	"encoding/json"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/syncpad/syncpad/internal/slogging"
)

// errNotJoined is emitted when a handler requiring a joined session finds
// none. The wording is part of the wire protocol.
const errNotJoined = "You must join a session first"

// MessageHandler handles one named wire event.
type MessageHandler interface {
	// Event returns the wire event name this handler consumes.
	Event() string
	// Handle processes one message. Returned errors are logged; protocol
	// errors are reported to the client inside the handler itself.
	Handle(r *Router, c *Client, payload json.RawMessage) error
}

// Router is the per-process coordinator for the realtime core: it owns the
// presence registry, whiteboard store, debounced writer and stats
// aggregator, and dispatches inbound messages to their handlers. It is
// constructed once at startup and passed explicitly to the transport
// binding; there are no package-level singletons for session state.
type Router struct {
	hub        *Hub
	presence   *PresenceRegistry
	whiteboard *WhiteboardStore
	writer     *DebouncedWriter
	stats      *StatsAggregator
	store      Store

	handlers map[string]MessageHandler
}

// NewRouter wires the coordinator and registers the default handlers.
func NewRouter(hub *Hub, presence *PresenceRegistry, whiteboard *WhiteboardStore, writer *DebouncedWriter, stats *StatsAggregator, store Store) *Router {
	r := &Router{
		hub:        hub,
		presence:   presence,
		whiteboard: whiteboard,
		writer:     writer,
		stats:      stats,
		store:      store,
		handlers:   make(map[string]MessageHandler),
	}

	r.RegisterHandler(&AuthenticateHandler{})
	r.RegisterHandler(&JoinSessionHandler{})
	r.RegisterHandler(&LeaveSessionHandler{})
	r.RegisterHandler(&CodeChangeHandler{})
	r.RegisterHandler(&WhiteboardDrawHandler{})
	r.RegisterHandler(&WhiteboardUpdateHandler{})
	r.RegisterHandler(&WhiteboardClearHandler{})
	r.RegisterHandler(&WhiteboardRequestStateHandler{})
	r.RegisterHandler(&WhiteboardStateResponseHandler{})
	r.RegisterHandler(&ChatMessageHandler{})
	r.RegisterHandler(&ChallengeHandler{event: EventChallengeSelected})
	r.RegisterHandler(&ChallengeHandler{event: EventChallengeClosed})
	r.RegisterHandler(&EndSessionHandler{})
	r.RegisterHandler(&ForceExitSessionHandler{})
	r.RegisterHandler(&GetUsersHandler{})
	r.RegisterHandler(&FindUserSocketHandler{})
	r.RegisterHandler(&RequestGlobalStatsHandler{})
	r.RegisterHandler(&RequestPeerConnectionsHandler{})
	r.RegisterHandler(&PeerSignalHandler{})

	return r
}

// RegisterHandler registers a handler for its wire event.
func (r *Router) RegisterHandler(handler MessageHandler) {
	r.handlers[handler.Event()] = handler
}

// Route parses the envelope and dispatches to the event's handler. Each
// dispatch is isolated behind a recover boundary so one handler panic
// cannot take down the connection pump or other connections.
func (r *Router) Route(c *Client, message []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			slogging.Get().Error("PANIC in message handler - socket=%s error=%v stack=%s",
				c.ID, rec, debug.Stack())
		}
	}()

	logger := slogging.Get()
	logger.Debug("[wsmsg] Received message - socket=%s size=%d raw=%s",
		c.ID, len(message), slogging.SanitizeLogMessage(string(message)))

	var envelope Envelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		logger.Warn("Failed to parse message from %s: %v", c.ID, err)
		r.sendError(c, "Invalid message format")
		return
	}

	wsMessagesTotal.WithLabelValues(envelope.Event).Inc()

	handler, ok := r.handlers[envelope.Event]
	if !ok {
		logger.Warn("Unsupported event %q from socket %s", envelope.Event, c.ID)
		r.sendError(c, "Event '"+envelope.Event+"' is not supported")
		return
	}

	if err := handler.Handle(r, c, envelope.Payload); err != nil {
		logger.Error("Handler for %s failed - socket=%s error=%v", envelope.Event, c.ID, err)
	}
}

// HandleDisconnect performs leave cleanup inferred from the connection's
// last known session and identity. The membership pair survives while the
// identity holds another connection in the session (multiple tabs).
func (r *Router) HandleDisconnect(c *Client) {
	sessionID := c.SessionID()
	if sessionID == "" {
		return
	}

	users, removed := r.presence.Disconnect(c.ID, sessionID)
	if removed {
		r.hub.Broadcast(sessionID, EventUsersUpdate, users, c)
	}
	c.clearState()
}

// HandleWS upgrades an HTTP request to a WebSocket connection and starts
// the pumps. The request has already passed identity middleware.
func (r *Router) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slogging.Get().Warn("Failed to upgrade connection: %v", err)
		return
	}

	client := newClient(r.hub, conn)
	r.hub.Register(client)

	slogging.Get().Debug("WebSocket connected - socket=%s", client.ID)

	go client.WritePump()
	go client.ReadPump(r)
}

// sendError emits an error event to a single client.
func (r *Router) sendError(c *Client, message string) {
	r.hub.SendToClient(c, EventError, ErrorPayload{Message: message})
}

// requireJoined returns the connection's session, emitting the standard
// error and returning "" when the connection has not joined one.
func (r *Router) requireJoined(c *Client) string {
	sessionID := c.SessionID()
	if sessionID == "" {
		r.sendError(c, errNotJoined)
	}
	return sessionID
}
