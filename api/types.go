package api

import (
	"encoding/json"
	"time"
)

// Identity is the authenticated user principal supplied by the external
// auth collaborator. Immutable for the lifetime of a connection.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// PresenceEntry is a connection's live representation within a session's
// participant list.
type PresenceEntry struct {
	IdentityID  string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
	SocketID    string `json:"socketId"`
	IsActive    bool   `json:"isActive"`
	IsHost      bool   `json:"isHost"`
}

// Session is the persisted collaborative workspace document.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Language     string    `json:"language"`
	Description  string    `json:"description,omitempty"`
	Code         string    `json:"code"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Participants []string  `json:"participants"`
	IsActive     bool      `json:"isActive"`
	IsPublic     bool      `json:"isPublic"`
	SessionCode  string    `json:"sessionCode"`
}

// HasParticipant reports whether the identity is in the append-only
// participant set.
func (s *Session) HasParticipant(identityID string) bool {
	for _, p := range s.Participants {
		if p == identityID {
			return true
		}
	}
	return false
}

// WhiteboardObject is an opaque drawable object. Only the "id" key is
// interpreted server-side; everything else is shape-specific client data.
type WhiteboardObject map[string]any

// ID returns the object's id, or "" if none has been assigned yet.
func (o WhiteboardObject) ID() string {
	id, _ := o["id"].(string)
	return id
}

// GlobalStats holds the process-wide platform counters.
type GlobalStats struct {
	ActiveSessions     int            `json:"activeSessions"`
	CollaboratingUsers int            `json:"collaboratingUsers"`
	TotalLinesOfCode   int64          `json:"totalLinesOfCode"`
	LastUpdated        time.Time      `json:"lastUpdated"`
	LastLineCount      map[string]int `json:"lastLineCount,omitempty"`
}

// StatsSnapshot is a dated historical record of the platform counters.
type StatsSnapshot struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	ActiveSessions     int       `json:"activeSessions"`
	CollaboratingUsers int       `json:"collaboratingUsers"`
	TotalLinesOfCode   int64     `json:"totalLinesOfCode"`
}

// Error is the standard error response body for the HTTP API
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Envelope is the wire format for all realtime messages: a tagged union
// dispatched on Event, with Payload decoded per event type.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Wire event names, client to server.
const (
	EventAuthenticate        = "authenticate"
	EventJoinSession         = "join-session"
	EventLeaveSession        = "leave-session"
	EventCodeChange          = "code-change"
	EventWhiteboardDraw      = "whiteboard-draw"
	EventWhiteboardUpdate    = "whiteboard-update"
	EventWhiteboardClear     = "whiteboard-clear"
	EventWhiteboardReqState  = "whiteboard-request-state"
	EventWhiteboardStateResp = "whiteboard-state-response"
	EventChatMessage         = "chat-message"
	EventChallengeSelected   = "challenge-selected"
	EventChallengeClosed     = "challenge-closed"
	EventEndSession          = "end-session"
	EventForceExitSession    = "force-exit-session"
	EventGetUsers            = "get-users"
	EventFindUserSocket      = "find-user-socket"
	EventRequestGlobalStats  = "request-global-stats"
	EventRequestPeerConns    = "request-peer-connections"
	EventPeerSignal          = "peer-signal"
)

// Wire event names, server to client.
const (
	EventJoinedSession        = "joined-session"
	EventJoinedSessionRoom    = "joined-session-room"
	EventUsersUpdate          = "users-update"
	EventCodeUpdate           = "code-update"
	EventWhiteboardState      = "whiteboard-state"
	EventWhiteboardStateReq   = "whiteboard-state-request"
	EventSessionEnded         = "session-ended"
	EventGlobalStats          = "global-stats"
	EventFindUserSocketResult = "find-user-socket-result"
	EventError                = "error"
)

// ErrorPayload is the payload of an "error" event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// AuthenticatePayload carries the session and identity for a presence join.
type AuthenticatePayload struct {
	SessionID string    `json:"sessionId"`
	User      *Identity `json:"user"`
}

// JoinedSessionPayload acknowledges a successful authenticate.
type JoinedSessionPayload struct {
	SessionID string          `json:"sessionId"`
	Users     []PresenceEntry `json:"users"`
}

// JoinedSessionRoomPayload acknowledges a room-only join.
type JoinedSessionRoomPayload struct {
	SessionID string `json:"sessionId"`
}

// LeaveSessionPayload identifies the member leaving a session.
type LeaveSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// CodeChangePayload carries the full editor content after a change.
type CodeChangePayload struct {
	Content string `json:"content"`
}

// CodeUpdatePayload is the broadcast form of a code change, enriched with
// the sender identity.
type CodeUpdatePayload struct {
	Content string    `json:"content"`
	User    *Identity `json:"user,omitempty"`
}

// WhiteboardDrawPayload carries a batch of drawn objects.
type WhiteboardDrawPayload struct {
	Objects []WhiteboardObject `json:"objects"`
}

// WhiteboardUpdatePayload carries a single modified object.
type WhiteboardUpdatePayload struct {
	Object WhiteboardObject `json:"object"`
}

// WhiteboardRequestStatePayload asks for the session's whiteboard state.
type WhiteboardRequestStatePayload struct {
	SessionID string `json:"sessionId"`
}

// WhiteboardStatePayload delivers whiteboard state to a client.
type WhiteboardStatePayload struct {
	SessionID string             `json:"sessionId"`
	Objects   []WhiteboardObject `json:"objects"`
	Source    string             `json:"source,omitempty"`
}

// WhiteboardStateRequestPayload asks peers to supply whiteboard state on
// behalf of a late joiner.
type WhiteboardStateRequestPayload struct {
	SessionID         string `json:"sessionId"`
	RequesterSocketID string `json:"requesterSocketId"`
}

// WhiteboardStateResponsePayload is a peer's answer to a state request,
// addressed to a single socket.
type WhiteboardStateResponsePayload struct {
	SessionID      string             `json:"sessionId"`
	Objects        []WhiteboardObject `json:"objects"`
	TargetSocketID string             `json:"targetSocketId"`
}

// ChatMessagePayload is an incoming chat message.
type ChatMessagePayload struct {
	Text string `json:"text"`
}

// ChatBroadcastPayload is the outgoing chat message with the
// server-assigned timestamp and sender.
type ChatBroadcastPayload struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	User      *Identity `json:"user"`
}

// EndSessionPayload requests that the session be ended by its creator.
type EndSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// SessionEndedPayload announces that a session has ended.
type SessionEndedPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	EndedBy   string `json:"endedBy"`
}

// ForceExitSessionPayload is broadcast verbatim to eject a session's
// members without a server-side ownership check.
type ForceExitSessionPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	EndedBy   string `json:"endedBy"`
}

// GetUsersPayload requests the current presence list.
type GetUsersPayload struct {
	SessionID string `json:"sessionId"`
}

// FindUserSocketPayload is a point lookup for a user's connection.
type FindUserSocketPayload struct {
	UserID string `json:"userId"`
}

// FindUserSocketResult answers a find-user-socket request.
type FindUserSocketResult struct {
	SocketID string `json:"socketId,omitempty"`
	Success  bool   `json:"success"`
}

// PeerSignalPayload is opaque peer-to-peer negotiation data addressed to a
// single socket. The core only guarantees delivery.
type PeerSignalPayload struct {
	TargetSocketID string          `json:"targetSocketId"`
	FromSocketID   string          `json:"fromSocketId,omitempty"`
	Signal         json.RawMessage `json:"signal"`
}

// RequestPeerConnectionsPayload announces a new peer wanting video
// connections from the rest of the session.
type RequestPeerConnectionsPayload struct {
	SocketID string    `json:"socketId"`
	User     *Identity `json:"user,omitempty"`
}
