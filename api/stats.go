package api

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/syncpad/syncpad/internal/slogging"
	"github.com/syncpad/syncpad/internal/uuidgen"
)

// defaultStatsInterval is how often global stats are recomputed, persisted
// and broadcast.
const defaultStatsInterval = 30 * time.Second

// StatsAggregator maintains the process-wide platform counters derived
// from the membership set, persists them on an interval and a daily
// schedule, and broadcasts them to all connections.
type StatsAggregator struct {
	mu    sync.Mutex
	stats GlobalStats

	store    Store
	hub      *Hub
	presence *PresenceRegistry
	cache    *CacheService
	interval time.Duration

	now func() time.Time
}

// NewStatsAggregator creates an aggregator. A non-positive interval
// selects the default of 30 seconds. cache may be nil.
func NewStatsAggregator(store Store, hub *Hub, presence *PresenceRegistry, cache *CacheService, interval time.Duration) *StatsAggregator {
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	return &StatsAggregator{
		stats:    GlobalStats{LastLineCount: make(map[string]int)},
		store:    store,
		hub:      hub,
		presence: presence,
		cache:    cache,
		interval: interval,
		now:      time.Now,
	}
}

// LoadBaseline seeds the counters from the last persisted stats document,
// falling back to zeros when none exists. LastUpdated is always reset to
// now: the old value describes a previous process.
func (a *StatsAggregator) LoadBaseline(ctx context.Context) error {
	stored, err := a.store.GetGlobalStats(ctx)
	if errors.Is(err, ErrNotFound) {
		a.mu.Lock()
		a.stats.LastUpdated = a.now().UTC()
		a.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.TotalLinesOfCode = stored.TotalLinesOfCode
	if stored.LastLineCount != nil {
		for k, v := range stored.LastLineCount {
			a.stats.LastLineCount[k] = v
		}
	}
	a.stats.LastUpdated = a.now().UTC()
	return nil
}

// RecordCodeChange counts the lines in the new content. When the count
// exceeds the session's last recorded count, the positive delta is added
// to the total line counter, both in memory and through the store's
// transactional increment. Shrinking content never decreases the total.
// Returns the applied delta.
func (a *StatsAggregator) RecordCodeChange(sessionID, content string) int {
	lines := strings.Count(content, "\n") + 1

	a.mu.Lock()
	last := a.stats.LastLineCount[sessionID]
	delta := 0
	if lines > last {
		delta = lines - last
		a.stats.LastLineCount[sessionID] = lines
		a.stats.TotalLinesOfCode += int64(delta)
	}
	a.mu.Unlock()

	if delta > 0 {
		if _, err := a.store.IncrementTotalLines(context.Background(), int64(delta)); err != nil {
			// Fire-and-forget: the periodic merge write self-heals.
			slogging.Get().Error("Failed to persist line counter increment: %v", err)
		}
	}
	return delta
}

// Current returns a copy of the stats.
func (a *StatsAggregator) Current() GlobalStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyLocked()
}

// Recompute derives the membership counts, persists the stats document
// (merge write, non-fatal on failure) and broadcasts global-stats to all
// connections.
func (a *StatsAggregator) Recompute(ctx context.Context) GlobalStats {
	a.mu.Lock()
	a.stats.ActiveSessions = a.presence.ActiveSessions()
	a.stats.CollaboratingUsers = a.presence.CollaboratingUsers()
	a.stats.LastUpdated = a.now().UTC()
	snapshot := a.copyLocked()
	a.mu.Unlock()

	if err := a.store.SaveGlobalStats(ctx, &snapshot); err != nil {
		slogging.Get().Error("Failed to persist global stats: %v", err)
	}
	if a.cache != nil {
		if err := a.cache.CacheGlobalStats(ctx, &snapshot); err != nil {
			slogging.Get().Warn("Failed to cache global stats: %v", err)
		}
	}

	a.hub.BroadcastToAll(EventGlobalStats, snapshot)
	return snapshot
}

// Snapshot records a dated historical stats record.
func (a *StatsAggregator) Snapshot(ctx context.Context) {
	current := a.Current()
	record := &StatsSnapshot{
		ID:                 uuidgen.MustNewForEntity(uuidgen.EntityTypeStatsSnapshot).String(),
		Timestamp:          a.now().UTC(),
		ActiveSessions:     current.ActiveSessions,
		CollaboratingUsers: current.CollaboratingUsers,
		TotalLinesOfCode:   current.TotalLinesOfCode,
	}
	if err := a.store.SaveStatsSnapshot(ctx, record); err != nil {
		slogging.Get().Error("Failed to save stats snapshot: %v", err)
	}
}

// Run recomputes stats on the configured interval and records a daily
// snapshot, the first at the next local midnight. It blocks until the
// context is cancelled.
func (a *StatsAggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	daily := time.NewTimer(time.Until(nextLocalMidnight(a.now)))
	defer daily.Stop()

	for {
		select {
		case <-ticker.C:
			a.Recompute(ctx)
		case <-daily.C:
			a.Snapshot(ctx)
			daily.Reset(24 * time.Hour)
		case <-ctx.Done():
			return
		}
	}
}

func (a *StatsAggregator) copyLocked() GlobalStats {
	cp := a.stats
	cp.LastLineCount = make(map[string]int, len(a.stats.LastLineCount))
	for k, v := range a.stats.LastLineCount {
		cp.LastLineCount[k] = v
	}
	return cp
}

// nextLocalMidnight returns the next midnight in local time.
func nextLocalMidnight(now func() time.Time) time.Time {
	t := now()
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location()).Add(24 * time.Hour)
}
