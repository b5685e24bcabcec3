package api

import (
	"sync"
	"time"

	"github.com/syncpad/syncpad/internal/slogging"
)

const (
	// defaultAuthThrottleWindow is the minimum gap between authenticate
	// calls for the same (identity, session, connection) triple.
	defaultAuthThrottleWindow = 5 * time.Second
	// authThrottleTTL is how long stale throttle entries survive before
	// the lazy purge removes them.
	authThrottleTTL = 60 * time.Second
)

type membershipKey struct {
	IdentityID string
	SessionID  string
}

type throttleKey struct {
	IdentityID   string
	SessionID    string
	ConnectionID string
}

// PresenceRegistry tracks which identities are connected to which session,
// keyed by connection id within a per-session mapping. It owns the
// Membership Set used for aggregate counts and the authenticate throttle.
type PresenceRegistry struct {
	mu sync.Mutex
	// sessionID -> connectionID -> entry
	sessions map[string]map[string]*PresenceEntry
	// (identityID, sessionID) pairs currently considered "in" a session
	membership map[membershipKey]struct{}
	// last authenticate time per (identity, session, connection)
	throttle       map[throttleKey]time.Time
	throttleWindow time.Duration

	now func() time.Time
}

// NewPresenceRegistry creates an empty registry. A non-positive
// throttleWindow selects the default of 5 seconds.
func NewPresenceRegistry(throttleWindow time.Duration) *PresenceRegistry {
	if throttleWindow <= 0 {
		throttleWindow = defaultAuthThrottleWindow
	}
	return &PresenceRegistry{
		sessions:       make(map[string]map[string]*PresenceEntry),
		membership:     make(map[membershipKey]struct{}),
		throttle:       make(map[throttleKey]time.Time),
		throttleWindow: throttleWindow,
		now:            time.Now,
	}
}

// Authenticate records the identity's presence in the session at the given
// connection. Repeat calls within the throttle window are silently dropped
// (throttled=true). A re-authenticate for an identity already in the
// session replaces its stale presence entry instead of duplicating it, so
// the registry converges to one entry per identity per session.
func (p *PresenceRegistry) Authenticate(connectionID, sessionID string, user Identity) (users []PresenceEntry, throttled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.purgeThrottleLocked(now)

	tk := throttleKey{IdentityID: user.ID, SessionID: sessionID, ConnectionID: connectionID}
	if last, ok := p.throttle[tk]; ok && now.Sub(last) < p.throttleWindow {
		slogging.Get().Debug("Throttled duplicate authenticate - user=%s session=%s conn=%s", user.ID, sessionID, connectionID)
		return nil, true
	}
	p.throttle[tk] = now

	entries := p.sessions[sessionID]
	if entries == nil {
		entries = make(map[string]*PresenceEntry)
		p.sessions[sessionID] = entries
	}

	mk := membershipKey{IdentityID: user.ID, SessionID: sessionID}
	wasHost := false
	if _, member := p.membership[mk]; member {
		// Resync: drop the stale entry for this identity and re-insert at
		// the new connection, keeping any host flag it held.
		for connID, entry := range entries {
			if entry.IdentityID == user.ID {
				wasHost = wasHost || entry.IsHost
				delete(entries, connID)
			}
		}
	} else {
		p.membership[mk] = struct{}{}
	}

	entries[connectionID] = &PresenceEntry{
		IdentityID:  user.ID,
		DisplayName: user.DisplayName,
		Avatar:      user.AvatarURL,
		SocketID:    connectionID,
		IsActive:    true,
		IsHost:      wasHost || len(entries) == 0,
	}

	return p.usersLocked(sessionID), false
}

// Leave removes the identity's presence entry from the session, falling
// back to the entry at the connection when identityID is empty, and drops
// the membership pair. Returns the remaining presence list.
func (p *PresenceRegistry) Leave(connectionID, sessionID, identityID string) []PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.sessions[sessionID]
	if entries == nil {
		return nil
	}

	if identityID == "" {
		if entry, ok := entries[connectionID]; ok {
			identityID = entry.IdentityID
		}
	}

	for connID, entry := range entries {
		if entry.IdentityID == identityID {
			delete(entries, connID)
		}
	}
	delete(p.membership, membershipKey{IdentityID: identityID, SessionID: sessionID})

	if len(entries) == 0 {
		delete(p.sessions, sessionID)
	}
	return p.usersLocked(sessionID)
}

// Disconnect removes only the presence entry at the given connection. The
// membership pair survives while the identity still has another entry in
// the session (multiple tabs or devices). Returns the session the
// connection was in, the remaining presence list and whether anything was
// removed.
func (p *PresenceRegistry) Disconnect(connectionID, sessionID string) (users []PresenceEntry, removed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.sessions[sessionID]
	if entries == nil {
		return nil, false
	}

	entry, ok := entries[connectionID]
	if !ok {
		return p.usersLocked(sessionID), false
	}
	delete(entries, connectionID)

	remaining := 0
	for _, e := range entries {
		if e.IdentityID == entry.IdentityID {
			remaining++
		}
	}
	if remaining == 0 {
		delete(p.membership, membershipKey{IdentityID: entry.IdentityID, SessionID: sessionID})
	}

	if len(entries) == 0 {
		delete(p.sessions, sessionID)
	}
	return p.usersLocked(sessionID), true
}

// Users returns the current presence list for the session, empty if the
// session is unknown.
func (p *PresenceRegistry) Users(sessionID string) []PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usersLocked(sessionID)
}

// FindUserSocket returns the connection id of the first presence entry for
// the identity across all sessions.
func (p *PresenceRegistry) FindUserSocket(identityID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entries := range p.sessions {
		for connID, entry := range entries {
			if entry.IdentityID == identityID {
				return connID, true
			}
		}
	}
	return "", false
}

// ActiveSessions counts distinct sessions with at least one member.
func (p *PresenceRegistry) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	distinct := make(map[string]struct{}, len(p.membership))
	for mk := range p.membership {
		distinct[mk.SessionID] = struct{}{}
	}
	return len(distinct)
}

// CollaboratingUsers returns the size of the membership set.
func (p *PresenceRegistry) CollaboratingUsers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.membership)
}

// IsMember reports whether the (identity, session) pair is in the
// membership set.
func (p *PresenceRegistry) IsMember(identityID, sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.membership[membershipKey{IdentityID: identityID, SessionID: sessionID}]
	return ok
}

func (p *PresenceRegistry) usersLocked(sessionID string) []PresenceEntry {
	entries := p.sessions[sessionID]
	users := make([]PresenceEntry, 0, len(entries))
	for _, entry := range entries {
		users = append(users, *entry)
	}
	return users
}

func (p *PresenceRegistry) purgeThrottleLocked(now time.Time) {
	for key, last := range p.throttle {
		if now.Sub(last) > authThrottleTTL {
			delete(p.throttle, key)
		}
	}
}
