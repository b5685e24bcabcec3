package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRealtime is a fully wired realtime core behind a real WebSocket
// server, with a short debounce so persistence is observable in tests.
type testRealtime struct {
	store  *MemoryStore
	hub    *Hub
	router *Router
	server *httptest.Server
}

func newTestRealtime(t *testing.T) *testRealtime {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	hub := NewHub()
	presence := noThrottle()
	whiteboard := NewWhiteboardStore()
	writer := NewDebouncedWriter(store, 30*time.Millisecond)
	stats := NewStatsAggregator(store, hub, presence, nil, time.Hour)
	router := NewRouter(hub, presence, whiteboard, writer, stats, store)

	engine := gin.New()
	engine.GET("/ws", router.HandleWS)
	server := httptest.NewServer(engine)

	t.Cleanup(func() {
		server.Close()
		writer.Stop()
	})
	return &testRealtime{store: store, hub: hub, router: router, server: server}
}

// testConn is one connected wire client.
type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (rt *testRealtime) dial(t *testing.T) *testConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(rt.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (tc *testConn) send(event string, payload any) {
	tc.t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(tc.t, err)
		raw = data
	}
	require.NoError(tc.t, tc.conn.WriteJSON(Envelope{Event: event, Payload: raw}))
}

// waitFor reads frames until one matches the wanted event, skipping
// interleaved broadcasts such as presence updates.
func (tc *testConn) waitFor(event string) Envelope {
	tc.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(tc.t, tc.conn.SetReadDeadline(deadline))
		var envelope Envelope
		err := tc.conn.ReadJSON(&envelope)
		require.NoError(tc.t, err, "waiting for %q", event)
		if envelope.Event == event {
			return envelope
		}
	}
}

func decodePayload[T any](t *testing.T, envelope Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(envelope.Payload, &out))
	return out
}

// join authenticates the connection into a session and returns the
// acknowledged presence list.
func (tc *testConn) join(sessionID string, identity Identity) []PresenceEntry {
	tc.t.Helper()
	tc.send(EventAuthenticate, AuthenticatePayload{SessionID: sessionID, User: &identity})
	ack := decodePayload[JoinedSessionPayload](tc.t, tc.waitFor(EventJoinedSession))
	require.Equal(tc.t, sessionID, ack.SessionID)
	return ack.Users
}

func TestCodeChangeFanout(t *testing.T) {
	rt := newTestRealtime(t)

	alice := rt.dial(t)
	bob := rt.dial(t)
	alice.join("s1", Identity{ID: "alice", DisplayName: "Alice"})
	bob.join("s1", Identity{ID: "bob", DisplayName: "Bob"})

	alice.send(EventCodeChange, CodeChangePayload{Content: "package main\n\nfunc main() {}\n"})

	update := decodePayload[CodeUpdatePayload](t, bob.waitFor(EventCodeUpdate))
	assert.Equal(t, "package main\n\nfunc main() {}\n", update.Content)
	require.NotNil(t, update.User, "broadcast carries the author")
	assert.Equal(t, "alice", update.User.ID)

	// The debounced writer persists the final content shortly after.
	require.Eventually(t, func() bool {
		writes := rt.store.CodeWriteLog()
		return len(writes) == 1 && writes[0].Code == "package main\n\nfunc main() {}\n"
	}, 2*time.Second, 10*time.Millisecond)

	// The author does not hear their own edit echoed back; every frame
	// up to a subsequent direct reply is something other than code-update.
	alice.send(EventRequestGlobalStats, nil)
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, alice.conn.SetReadDeadline(deadline))
		var envelope Envelope
		require.NoError(t, alice.conn.ReadJSON(&envelope))
		require.NotEqual(t, EventCodeUpdate, envelope.Event, "sender must be excluded from fanout")
		if envelope.Event == EventGlobalStats {
			break
		}
	}
}

func TestMustJoinBeforeCollaborating(t *testing.T) {
	rt := newTestRealtime(t)
	conn := rt.dial(t)

	conn.send(EventCodeChange, CodeChangePayload{Content: "orphan edit"})

	errPayload := decodePayload[ErrorPayload](t, conn.waitFor(EventError))
	assert.Equal(t, "You must join a session first", errPayload.Message)
	assert.Empty(t, rt.store.CodeWriteLog())
}

func TestUnsupportedEvent(t *testing.T) {
	rt := newTestRealtime(t)
	conn := rt.dial(t)
	conn.join("s1", Identity{ID: "alice"})

	conn.send("time-travel", nil)
	errPayload := decodePayload[ErrorPayload](t, conn.waitFor(EventError))
	assert.Contains(t, errPayload.Message, "time-travel")
	assert.Contains(t, errPayload.Message, "not supported")
}

func TestPresenceAckAndUpdates(t *testing.T) {
	rt := newTestRealtime(t)

	alice := rt.dial(t)
	users := alice.join("s1", Identity{ID: "alice", DisplayName: "Alice"})
	require.Len(t, users, 1)
	assert.True(t, users[0].IsHost, "first joiner hosts")

	bob := rt.dial(t)
	bobUsers := bob.join("s1", Identity{ID: "bob", DisplayName: "Bob"})
	require.Len(t, bobUsers, 2)

	// Alice hears about Bob arriving.
	update := decodePayload[[]PresenceEntry](t, alice.waitFor(EventUsersUpdate))
	for len(update) < 2 {
		update = decodePayload[[]PresenceEntry](t, alice.waitFor(EventUsersUpdate))
	}
	ids := []string{update[0].IdentityID, update[1].IdentityID}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
}

func TestWhiteboardServerStoredState(t *testing.T) {
	rt := newTestRealtime(t)

	alice := rt.dial(t)
	bob := rt.dial(t)
	alice.join("s1", Identity{ID: "alice"})
	bob.join("s1", Identity{ID: "bob"})

	alice.send(EventWhiteboardDraw, WhiteboardDrawPayload{
		Objects: []WhiteboardObject{{"type": "path", "points": []any{1.0, 2.0}}},
	})

	// Peers receive the batch with server-assigned object ids.
	draw := decodePayload[WhiteboardDrawPayload](t, bob.waitFor(EventWhiteboardDraw))
	require.Len(t, draw.Objects, 1)
	assert.NotEmpty(t, draw.Objects[0].ID())

	// A late joiner gets the stored state directly from the server.
	carol := rt.dial(t)
	carol.join("s1", Identity{ID: "carol"})
	carol.send(EventWhiteboardReqState, WhiteboardRequestStatePayload{SessionID: "s1"})

	state := decodePayload[WhiteboardStatePayload](t, carol.waitFor(EventWhiteboardState))
	assert.Equal(t, "s1", state.SessionID)
	assert.Equal(t, "server-stored", state.Source)
	require.Len(t, state.Objects, 1)
	assert.Equal(t, draw.Objects[0].ID(), state.Objects[0].ID())
}

func TestWhiteboardRequestStateSessionMismatch(t *testing.T) {
	rt := newTestRealtime(t)
	conn := rt.dial(t)
	conn.join("s1", Identity{ID: "alice"})

	conn.send(EventWhiteboardReqState, WhiteboardRequestStatePayload{SessionID: "other"})
	errPayload := decodePayload[ErrorPayload](t, conn.waitFor(EventError))
	assert.Equal(t, "Session ID does not match your current session", errPayload.Message)
}

func TestEndSessionRequiresCreator(t *testing.T) {
	rt := newTestRealtime(t)
	require.NoError(t, rt.store.CreateSession(t.Context(), &Session{
		ID:        "s1",
		CreatedBy: "alice",
		IsActive:  true,
	}))

	alice := rt.dial(t)
	bob := rt.dial(t)
	alice.join("s1", Identity{ID: "alice"})
	bob.join("s1", Identity{ID: "bob"})

	// A non-creator is refused.
	bob.send(EventEndSession, EndSessionPayload{SessionID: "s1", UserID: "bob"})
	errPayload := decodePayload[ErrorPayload](t, bob.waitFor(EventError))
	assert.Equal(t, "Only the session creator can end the session", errPayload.Message)

	session, err := rt.store.GetSession(t.Context(), "s1")
	require.NoError(t, err)
	assert.True(t, session.IsActive, "refused end leaves the session running")

	// The creator ends it; everyone in the room hears, creator included.
	alice.send(EventEndSession, EndSessionPayload{SessionID: "s1", UserID: "alice"})
	for _, conn := range []*testConn{alice, bob} {
		ended := decodePayload[SessionEndedPayload](t, conn.waitFor(EventSessionEnded))
		assert.Equal(t, "s1", ended.SessionID)
		assert.Equal(t, "alice", ended.EndedBy)
	}

	session, err = rt.store.GetSession(t.Context(), "s1")
	require.NoError(t, err)
	assert.False(t, session.IsActive)
}

func TestEndSessionUnknownSession(t *testing.T) {
	rt := newTestRealtime(t)
	conn := rt.dial(t)
	conn.join("s1", Identity{ID: "alice"})

	conn.send(EventEndSession, EndSessionPayload{SessionID: "missing", UserID: "alice"})
	errPayload := decodePayload[ErrorPayload](t, conn.waitFor(EventError))
	assert.Equal(t, "Session not found", errPayload.Message)
}

func TestForceExitSessionNeedsNoOwnership(t *testing.T) {
	rt := newTestRealtime(t)

	alice := rt.dial(t)
	bob := rt.dial(t)
	alice.join("s1", Identity{ID: "alice"})
	bob.join("s1", Identity{ID: "bob"})

	// Any member may broadcast a force-exit; the server relays it as-is.
	bob.send(EventForceExitSession, ForceExitSessionPayload{
		SessionID: "s1",
		Message:   "Session closed",
		EndedBy:   "bob",
	})

	exit := decodePayload[ForceExitSessionPayload](t, alice.waitFor(EventForceExitSession))
	assert.Equal(t, "bob", exit.EndedBy)
	assert.Equal(t, "Session closed", exit.Message)
}

func TestChatMessageBroadcast(t *testing.T) {
	rt := newTestRealtime(t)

	alice := rt.dial(t)
	bob := rt.dial(t)
	alice.join("s1", Identity{ID: "alice", DisplayName: "Alice"})
	bob.join("s1", Identity{ID: "bob", DisplayName: "Bob"})

	before := time.Now().UTC().Add(-time.Second)
	alice.send(EventChatMessage, ChatMessagePayload{Text: "hello"})

	// Chat goes to the whole room, sender included, with a server clock.
	for _, conn := range []*testConn{alice, bob} {
		msg := decodePayload[ChatBroadcastPayload](t, conn.waitFor(EventChatMessage))
		assert.Equal(t, "hello", msg.Text)
		require.NotNil(t, msg.User)
		assert.Equal(t, "alice", msg.User.ID)
		assert.True(t, msg.Timestamp.After(before))
	}
}

func TestFindUserSocketOverWire(t *testing.T) {
	rt := newTestRealtime(t)

	alice := rt.dial(t)
	users := alice.join("s1", Identity{ID: "alice"})
	require.Len(t, users, 1)
	aliceSocket := users[0].SocketID

	bob := rt.dial(t)
	bob.join("s2", Identity{ID: "bob"})

	bob.send(EventFindUserSocket, FindUserSocketPayload{UserID: "alice"})
	result := decodePayload[FindUserSocketResult](t, bob.waitFor(EventFindUserSocketResult))
	assert.True(t, result.Success)
	assert.Equal(t, aliceSocket, result.SocketID)

	bob.send(EventFindUserSocket, FindUserSocketPayload{UserID: "nobody"})
	result = decodePayload[FindUserSocketResult](t, bob.waitFor(EventFindUserSocketResult))
	assert.False(t, result.Success)
	assert.Empty(t, result.SocketID)
}

func TestPeerSignalForwarding(t *testing.T) {
	rt := newTestRealtime(t)

	alice := rt.dial(t)
	bob := rt.dial(t)
	aliceUsers := alice.join("s1", Identity{ID: "alice"})
	bobUsers := bob.join("s1", Identity{ID: "bob"})
	require.Len(t, bobUsers, 2)

	var bobSocket string
	for _, u := range bobUsers {
		if u.IdentityID == "bob" {
			bobSocket = u.SocketID
		}
	}
	require.NotEmpty(t, bobSocket)

	alice.send(EventPeerSignal, PeerSignalPayload{
		TargetSocketID: bobSocket,
		Signal:         json.RawMessage(`{"sdp":"offer"}`),
	})

	signal := decodePayload[PeerSignalPayload](t, bob.waitFor(EventPeerSignal))
	assert.Equal(t, aliceUsers[0].SocketID, signal.FromSocketID, "sender socket is stamped server-side")
	assert.JSONEq(t, `{"sdp":"offer"}`, string(signal.Signal))
}

func TestGetUsersReply(t *testing.T) {
	rt := newTestRealtime(t)
	conn := rt.dial(t)
	conn.join("s1", Identity{ID: "alice", DisplayName: "Alice"})

	conn.send(EventGetUsers, GetUsersPayload{SessionID: "s1"})
	users := decodePayload[[]PresenceEntry](t, conn.waitFor(EventUsersUpdate))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].IdentityID)
	assert.True(t, users[0].IsActive)
}

func TestDisconnectBroadcastsPresence(t *testing.T) {
	rt := newTestRealtime(t)

	alice := rt.dial(t)
	bob := rt.dial(t)
	alice.join("s1", Identity{ID: "alice"})
	bob.join("s1", Identity{ID: "bob"})

	require.NoError(t, bob.conn.Close())

	// Alice eventually sees a presence list without Bob.
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "timed out waiting for presence update")
		users := decodePayload[[]PresenceEntry](t, alice.waitFor(EventUsersUpdate))
		if len(users) == 1 && users[0].IdentityID == "alice" {
			return
		}
	}
}

func TestChallengePassthrough(t *testing.T) {
	rt := newTestRealtime(t)

	alice := rt.dial(t)
	bob := rt.dial(t)
	alice.join("s1", Identity{ID: "alice"})
	bob.join("s1", Identity{ID: "bob"})

	alice.send(EventChallengeSelected, map[string]any{"challengeId": "two-sum", "difficulty": "easy"})

	envelope := bob.waitFor(EventChallengeSelected)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Equal(t, "two-sum", payload["challengeId"], "payload passes through untouched")
}
