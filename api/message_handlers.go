package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/syncpad/syncpad/internal/slogging"
)

// AuthenticateHandler joins an identity into a session with presence.
type AuthenticateHandler struct{}

func (h *AuthenticateHandler) Event() string { return EventAuthenticate }

func (h *AuthenticateHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	var req AuthenticatePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid authenticate payload")
		return err
	}
	if req.SessionID == "" || req.User == nil || req.User.ID == "" {
		r.sendError(c, "Session ID and user information are required")
		return nil
	}

	users, throttled := r.presence.Authenticate(c.ID, req.SessionID, *req.User)
	if throttled {
		// Rate limited, not rejected: drop silently so a client retry
		// loop does not see spurious errors.
		return nil
	}

	c.setState(req.SessionID, req.User)
	r.hub.Join(c, req.SessionID)

	r.hub.Broadcast(req.SessionID, EventUsersUpdate, users, nil)
	r.hub.SendToClient(c, EventJoinedSession, JoinedSessionPayload{
		SessionID: req.SessionID,
		Users:     users,
	})

	slogging.Get().Info("User %s joined session %s on socket %s", req.User.ID, req.SessionID, c.ID)
	return nil
}

// JoinSessionHandler performs a room-only join: broadcast membership
// without a presence entry. The payload is the bare session id string.
type JoinSessionHandler struct{}

func (h *JoinSessionHandler) Event() string { return EventJoinSession }

func (h *JoinSessionHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	var sessionID string
	if err := json.Unmarshal(payload, &sessionID); err != nil || sessionID == "" {
		r.sendError(c, "Session ID is required")
		return err
	}

	c.setState(sessionID, nil)
	r.hub.Join(c, sessionID)
	r.hub.SendToClient(c, EventJoinedSessionRoom, JoinedSessionRoomPayload{SessionID: sessionID})
	return nil
}

// LeaveSessionHandler removes a member from a session.
type LeaveSessionHandler struct{}

func (h *LeaveSessionHandler) Event() string { return EventLeaveSession }

func (h *LeaveSessionHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	var req LeaveSessionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	if req.SessionID == "" {
		req.SessionID = c.SessionID()
	}
	if req.SessionID == "" {
		// Never joined anything; nothing to clean up.
		return nil
	}

	r.hub.Leave(c, req.SessionID)
	users := r.presence.Leave(c.ID, req.SessionID, req.UserID)
	r.hub.Broadcast(req.SessionID, EventUsersUpdate, users, nil)

	if c.SessionID() == req.SessionID {
		c.clearState()
	}
	return nil
}

// CodeChangeHandler fans out an editor change, counts produced lines and
// schedules the debounced persistence write.
type CodeChangeHandler struct{}

func (h *CodeChangeHandler) Event() string { return EventCodeChange }

func (h *CodeChangeHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	var req CodeChangePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid code-change payload")
		return err
	}

	r.stats.RecordCodeChange(sessionID, req.Content)

	r.hub.Broadcast(sessionID, EventCodeUpdate, CodeUpdatePayload{
		Content: req.Content,
		User:    c.User(),
	}, c)

	r.writer.Schedule(sessionID, req.Content)
	return nil
}

// WhiteboardDrawHandler upserts a batch of drawn objects and fans them out.
type WhiteboardDrawHandler struct{}

func (h *WhiteboardDrawHandler) Event() string { return EventWhiteboardDraw }

func (h *WhiteboardDrawHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	var req WhiteboardDrawPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid whiteboard-draw payload")
		return err
	}

	// Upsert assigns ids to objects lacking one, so the broadcast carries
	// the assigned ids.
	r.whiteboard.UpsertAll(sessionID, req.Objects)
	r.hub.Broadcast(sessionID, EventWhiteboardDraw, req, c)
	return nil
}

// WhiteboardUpdateHandler upserts a single modified object.
type WhiteboardUpdateHandler struct{}

func (h *WhiteboardUpdateHandler) Event() string { return EventWhiteboardUpdate }

func (h *WhiteboardUpdateHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	var req WhiteboardUpdatePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid whiteboard-update payload")
		return err
	}

	r.whiteboard.Upsert(sessionID, req.Object)
	r.hub.Broadcast(sessionID, EventWhiteboardUpdate, req, c)
	return nil
}

// WhiteboardClearHandler empties the session's whiteboard.
type WhiteboardClearHandler struct{}

func (h *WhiteboardClearHandler) Event() string { return EventWhiteboardClear }

func (h *WhiteboardClearHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	r.whiteboard.Clear(sessionID)
	r.hub.Broadcast(sessionID, EventWhiteboardClear, struct{}{}, c)
	return nil
}

// WhiteboardRequestStateHandler serves stored whiteboard state to a late
// joiner, or asks the session's peers to supply it when the server holds
// none.
type WhiteboardRequestStateHandler struct{}

func (h *WhiteboardRequestStateHandler) Event() string { return EventWhiteboardReqState }

func (h *WhiteboardRequestStateHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	var req WhiteboardRequestStatePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid whiteboard-request-state payload")
		return err
	}
	if req.SessionID != sessionID {
		r.sendError(c, "Session ID does not match your current session")
		return nil
	}

	objects := r.whiteboard.Get(sessionID)
	if len(objects) > 0 {
		r.hub.SendToClient(c, EventWhiteboardState, WhiteboardStatePayload{
			SessionID: sessionID,
			Objects:   objects,
			Source:    "server-stored",
		})
		return nil
	}

	r.hub.Broadcast(sessionID, EventWhiteboardStateReq, WhiteboardStateRequestPayload{
		SessionID:         sessionID,
		RequesterSocketID: c.ID,
	}, c)
	return nil
}

// WhiteboardStateResponseHandler merges a peer-supplied whiteboard state
// into the server store and forwards it to the requesting socket only.
type WhiteboardStateResponseHandler struct{}

func (h *WhiteboardStateResponseHandler) Event() string { return EventWhiteboardStateResp }

func (h *WhiteboardStateResponseHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	var req WhiteboardStateResponsePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid whiteboard-state-response payload")
		return err
	}

	r.whiteboard.UpsertAll(sessionID, req.Objects)

	if req.TargetSocketID != "" {
		r.hub.SendTo(req.TargetSocketID, EventWhiteboardState, WhiteboardStatePayload{
			SessionID: sessionID,
			Objects:   req.Objects,
		})
	}
	return nil
}

// ChatMessageHandler broadcasts a chat message to the whole session,
// including the sender, with a server-assigned timestamp.
type ChatMessageHandler struct{}

func (h *ChatMessageHandler) Event() string { return EventChatMessage }

func (h *ChatMessageHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}
	user := c.User()
	if user == nil {
		r.sendError(c, errNotJoined)
		return nil
	}

	var req ChatMessagePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid chat-message payload")
		return err
	}

	r.hub.Broadcast(sessionID, EventChatMessage, ChatBroadcastPayload{
		Text:      req.Text,
		Timestamp: time.Now().UTC(),
		User:      user,
	}, nil)
	return nil
}

// ChallengeHandler passes challenge events through to the rest of the
// session. The payload is opaque to the server; no state is kept.
type ChallengeHandler struct {
	event string
}

func (h *ChallengeHandler) Event() string { return h.event }

func (h *ChallengeHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	r.hub.Broadcast(sessionID, h.event, payload, c)
	return nil
}

// EndSessionHandler ends a session after verifying the caller is its
// creator.
type EndSessionHandler struct{}

func (h *EndSessionHandler) Event() string { return EventEndSession }

func (h *EndSessionHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	var req EndSessionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid end-session payload")
		return err
	}
	if req.SessionID == "" {
		req.SessionID = sessionID
	}

	ctx := context.Background()
	session, err := r.store.GetSession(ctx, req.SessionID)
	if errors.Is(err, ErrNotFound) {
		r.sendError(c, "Session not found")
		return nil
	}
	if err != nil {
		r.sendError(c, "Failed to load session")
		return err
	}
	if session.CreatedBy != req.UserID {
		r.sendError(c, "Only the session creator can end the session")
		return nil
	}

	if err := r.store.SetSessionInactive(ctx, req.SessionID); err != nil {
		r.sendError(c, "Failed to end session")
		return err
	}

	r.hub.Broadcast(req.SessionID, EventSessionEnded, SessionEndedPayload{
		SessionID: req.SessionID,
		Message:   "This session has been ended by the host",
		EndedBy:   req.UserID,
	}, nil)

	slogging.Get().Info("Session %s ended by %s", req.SessionID, req.UserID)
	return nil
}

// ForceExitSessionHandler broadcasts a force-exit without a server-side
// ownership check. The asymmetry with end-session is intentional and
// mirrors the client-side authorization this event relies on.
type ForceExitSessionHandler struct{}

func (h *ForceExitSessionHandler) Event() string { return EventForceExitSession }

func (h *ForceExitSessionHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	var req ForceExitSessionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid force-exit-session payload")
		return err
	}
	if req.SessionID == "" {
		req.SessionID = sessionID
	}

	r.hub.Broadcast(req.SessionID, EventForceExitSession, req, c)
	return nil
}

// GetUsersHandler replies with the presence list and rebroadcasts it to
// the rest of the session, repairing any desynced client views.
type GetUsersHandler struct{}

func (h *GetUsersHandler) Event() string { return EventGetUsers }

func (h *GetUsersHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	var req GetUsersPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid get-users payload")
		return err
	}
	if req.SessionID == "" {
		req.SessionID = sessionID
	}

	users := r.presence.Users(req.SessionID)
	r.hub.SendToClient(c, EventUsersUpdate, users)
	r.hub.Broadcast(req.SessionID, EventUsersUpdate, users, c)
	return nil
}

// FindUserSocketHandler answers a point lookup for a user's connection
// across all sessions.
type FindUserSocketHandler struct{}

func (h *FindUserSocketHandler) Event() string { return EventFindUserSocket }

func (h *FindUserSocketHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	var req FindUserSocketPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid find-user-socket payload")
		return err
	}

	socketID, found := r.presence.FindUserSocket(req.UserID)
	r.hub.SendToClient(c, EventFindUserSocketResult, FindUserSocketResult{
		SocketID: socketID,
		Success:  found,
	})
	return nil
}

// RequestGlobalStatsHandler pushes the current platform stats to the
// requester immediately.
type RequestGlobalStatsHandler struct{}

func (h *RequestGlobalStatsHandler) Event() string { return EventRequestGlobalStats }

func (h *RequestGlobalStatsHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	r.hub.SendToClient(c, EventGlobalStats, r.stats.Current())
	return nil
}

// RequestPeerConnectionsHandler announces a peer wanting video connections
// to the rest of the session. The actual negotiation is external; the
// core only delivers the announcement.
type RequestPeerConnectionsHandler struct{}

func (h *RequestPeerConnectionsHandler) Event() string { return EventRequestPeerConns }

func (h *RequestPeerConnectionsHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	r.hub.Broadcast(sessionID, EventRequestPeerConns, RequestPeerConnectionsPayload{
		SocketID: c.ID,
		User:     c.User(),
	}, c)
	return nil
}

// PeerSignalHandler forwards opaque peer negotiation data to a single
// target socket, stamping the sender's socket id.
type PeerSignalHandler struct{}

func (h *PeerSignalHandler) Event() string { return EventPeerSignal }

func (h *PeerSignalHandler) Handle(r *Router, c *Client, payload json.RawMessage) error {
	sessionID := r.requireJoined(c)
	if sessionID == "" {
		return nil
	}

	var req PeerSignalPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(c, "Invalid peer-signal payload")
		return err
	}
	if req.TargetSocketID == "" {
		r.sendError(c, "Target socket ID is required")
		return nil
	}

	req.FromSocketID = c.ID
	r.hub.SendTo(req.TargetSocketID, EventPeerSignal, req)
	return nil
}
