package api

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	stats      *GlobalStats
	snapshots  []StatsSnapshot
	codeWrites []CodeWrite
}

// CodeWrite is one recorded UpdateCode call.
type CodeWrite struct {
	SessionID string
	Code      string
	At        time.Time
}

// CodeWriteLog returns a copy of all recorded UpdateCode calls.
func (m *MemoryStore) CodeWriteLog() []CodeWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CodeWrite(nil), m.codeWrites...)
}

// SnapshotLog returns a copy of all recorded stats snapshots.
func (m *MemoryStore) SnapshotLog() []StatsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatsSnapshot(nil), m.snapshots...)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// CreateSession stores a copy of the session.
func (m *MemoryStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	cp.Participants = append([]string(nil), session.Participants...)
	m.sessions[session.ID] = &cp
	return nil
}

// GetSession returns a copy of the stored session or ErrNotFound.
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	cp.Participants = append([]string(nil), session.Participants...)
	return &cp, nil
}

// UpdateCode merge-writes the editor content and update time.
func (m *MemoryStore) UpdateCode(ctx context.Context, sessionID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codeWrites = append(m.codeWrites, CodeWrite{SessionID: sessionID, Code: code, At: time.Now()})
	if session, ok := m.sessions[sessionID]; ok {
		session.Code = code
		session.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// SetSessionInactive marks the session inactive.
func (m *MemoryStore) SetSessionInactive(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	session.IsActive = false
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// AddParticipant appends the identity if absent.
func (m *MemoryStore) AddParticipant(ctx context.Context, sessionID, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	for _, p := range session.Participants {
		if p == identityID {
			return nil
		}
	}
	session.Participants = append(session.Participants, identityID)
	return nil
}

// ListPublicSessions returns active public sessions, newest first.
func (m *MemoryStore) ListPublicSessions(ctx context.Context, limit int) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, session := range m.sessions {
		if session.IsActive && session.IsPublic {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ResolveSessionCode finds the active session with the join code.
func (m *MemoryStore) ResolveSessionCode(ctx context.Context, code string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.IsActive && session.SessionCode == code {
			cp := *session
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// SessionCodeInUse reports whether an active session holds the code.
func (m *MemoryStore) SessionCodeInUse(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.IsActive && session.SessionCode == code {
			return true, nil
		}
	}
	return false, nil
}

// GetGlobalStats returns the stored stats or ErrNotFound.
func (m *MemoryStore) GetGlobalStats(ctx context.Context) (*GlobalStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		return nil, ErrNotFound
	}
	cp := *m.stats
	cp.LastLineCount = make(map[string]int, len(m.stats.LastLineCount))
	for k, v := range m.stats.LastLineCount {
		cp.LastLineCount[k] = v
	}
	return &cp, nil
}

// SaveGlobalStats merge-writes the stats document. The line total is only
// overwritten by a larger value, matching GormStore.
func (m *MemoryStore) SaveGlobalStats(ctx context.Context, stats *GlobalStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		m.stats = &GlobalStats{LastLineCount: make(map[string]int)}
	}
	m.stats.ActiveSessions = stats.ActiveSessions
	m.stats.CollaboratingUsers = stats.CollaboratingUsers
	if stats.TotalLinesOfCode > m.stats.TotalLinesOfCode {
		m.stats.TotalLinesOfCode = stats.TotalLinesOfCode
	}
	m.stats.LastUpdated = stats.LastUpdated
	for k, v := range stats.LastLineCount {
		m.stats.LastLineCount[k] = v
	}
	return nil
}

// IncrementTotalLines atomically adds delta to the persisted counter.
func (m *MemoryStore) IncrementTotalLines(ctx context.Context, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		m.stats = &GlobalStats{LastLineCount: make(map[string]int)}
	}
	m.stats.TotalLinesOfCode += delta
	return m.stats.TotalLinesOfCode, nil
}

// SaveStatsSnapshot records a snapshot.
func (m *MemoryStore) SaveStatsSnapshot(ctx context.Context, snapshot *StatsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, *snapshot)
	return nil
}
