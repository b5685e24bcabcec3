package api

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// ErrNotFound is returned by store lookups for unknown documents.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator for sessions and platform stats.
// It exposes document-style operations: point get/set, merge updates and
// one transactional read-modify-write for the line counter.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// UpdateCode merge-writes the editor content and update time only.
	UpdateCode(ctx context.Context, sessionID, code string) error
	SetSessionInactive(ctx context.Context, sessionID string) error
	// AddParticipant appends the identity to the session's participant
	// set if not already present.
	AddParticipant(ctx context.Context, sessionID, identityID string) error
	// ListPublicSessions returns active public sessions, newest first.
	ListPublicSessions(ctx context.Context, limit int) ([]Session, error)
	// ResolveSessionCode finds the active session with the given join code.
	ResolveSessionCode(ctx context.Context, code string) (*Session, error)
	// SessionCodeInUse reports whether an active session holds the code.
	SessionCodeInUse(ctx context.Context, code string) (bool, error)

	GetGlobalStats(ctx context.Context) (*GlobalStats, error)
	// SaveGlobalStats merge-writes the stats document.
	SaveGlobalStats(ctx context.Context, stats *GlobalStats) error
	// IncrementTotalLines atomically adds delta to the persisted line
	// counter and returns the new total.
	IncrementTotalLines(ctx context.Context, delta int64) (int64, error)
	SaveStatsSnapshot(ctx context.Context, snapshot *StatsSnapshot) error
}

// sessionCodeAlphabet is the 32-symbol alphabet for join codes. It
// excludes 0, 1, I and O, which read ambiguously when shared aloud or
// hand-copied.
const sessionCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// sessionCodeLength is the length of a generated join code.
const sessionCodeLength = 6

// maxSessionCodeAttempts bounds the retry-on-collision loop.
const maxSessionCodeAttempts = 10

// randomSessionCode returns one candidate join code.
func randomSessionCode() (string, error) {
	code := make([]byte, sessionCodeLength)
	max := big.NewInt(int64(len(sessionCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate session code: %w", err)
		}
		code[i] = sessionCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// GenerateSessionCode produces a join code unique among active sessions,
// retrying on collision against the store.
func GenerateSessionCode(ctx context.Context, store Store) (string, error) {
	for attempt := 0; attempt < maxSessionCodeAttempts; attempt++ {
		code, err := randomSessionCode()
		if err != nil {
			return "", err
		}
		inUse, err := store.SessionCodeInUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check session code: %w", err)
		}
		if !inUse {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique session code after %d attempts", maxSessionCodeAttempts)
}
