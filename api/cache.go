package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syncpad/syncpad/internal/slogging"
)

// Cache TTLs. Join codes live as long as their sessions plausibly do;
// stats churn every aggregation interval, so their TTL is short.
const (
	SessionCodeCacheTTL = 6 * time.Hour
	GlobalStatsCacheTTL = 1 * time.Minute
)

// CacheService provides read-through caching for join-code resolution and
// the latest global stats document. All failures are non-fatal: callers
// fall through to the store.
type CacheService struct {
	rdb *redis.Client
}

// NewCacheService creates a cache service backed by the given Redis client.
func NewCacheService(rdb *redis.Client) *CacheService {
	return &CacheService{rdb: rdb}
}

func sessionCodeKey(code string) string { return "syncpad:code:" + code }
func sessionToCodeKey(id string) string { return "syncpad:session_code:" + id }
func globalStatsKey() string            { return "syncpad:global_stats" }

// CacheSessionCode stores the code-to-session mapping in both directions
// so ending a session can invalidate by session id.
func (cs *CacheService) CacheSessionCode(ctx context.Context, code, sessionID string) error {
	if err := cs.rdb.Set(ctx, sessionCodeKey(code), sessionID, SessionCodeCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache session code: %w", err)
	}
	if err := cs.rdb.Set(ctx, sessionToCodeKey(sessionID), code, SessionCodeCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache session code reverse mapping: %w", err)
	}
	return nil
}

// GetSessionIDByCode resolves a join code from the cache. A miss or any
// error returns ok=false.
func (cs *CacheService) GetSessionIDByCode(ctx context.Context, code string) (string, bool) {
	sessionID, err := cs.rdb.Get(ctx, sessionCodeKey(code)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		slogging.Get().Warn("Cache lookup failed for session code %s: %v", code, err)
		return "", false
	}
	return sessionID, true
}

// InvalidateSession drops the cached join-code mapping for a session.
func (cs *CacheService) InvalidateSession(ctx context.Context, sessionID string) {
	code, err := cs.rdb.Get(ctx, sessionToCodeKey(sessionID)).Result()
	if err != nil {
		if err != redis.Nil {
			slogging.Get().Warn("Cache invalidation lookup failed for session %s: %v", sessionID, err)
		}
		return
	}
	if err := cs.rdb.Del(ctx, sessionCodeKey(code), sessionToCodeKey(sessionID)).Err(); err != nil {
		slogging.Get().Warn("Cache invalidation failed for session %s: %v", sessionID, err)
	}
}

// CacheGlobalStats stores the latest stats document.
func (cs *CacheService) CacheGlobalStats(ctx context.Context, stats *GlobalStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal global stats: %w", err)
	}
	if err := cs.rdb.Set(ctx, globalStatsKey(), data, GlobalStatsCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache global stats: %w", err)
	}
	return nil
}

// GetCachedGlobalStats retrieves the cached stats document, nil on miss.
func (cs *CacheService) GetCachedGlobalStats(ctx context.Context) (*GlobalStats, error) {
	data, err := cs.rdb.Get(ctx, globalStatsKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached global stats: %w", err)
	}
	var stats GlobalStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached global stats: %w", err)
	}
	return &stats, nil
}
