package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(store Store) (*StatsAggregator, *Hub, *PresenceRegistry) {
	hub := NewHub()
	presence := noThrottle()
	aggregator := NewStatsAggregator(store, hub, presence, nil, time.Hour)
	return aggregator, hub, presence
}

func TestRecordCodeChangeMonotonic(t *testing.T) {
	store := NewMemoryStore()
	aggregator, _, _ := newTestAggregator(store)

	// Two lines from zero.
	delta := aggregator.RecordCodeChange("s1", "x\ny")
	assert.Equal(t, 2, delta)
	assert.Equal(t, int64(2), aggregator.Current().TotalLinesOfCode)

	// Growth counts only the positive delta.
	delta = aggregator.RecordCodeChange("s1", "x\ny\nz")
	assert.Equal(t, 1, delta)
	assert.Equal(t, int64(3), aggregator.Current().TotalLinesOfCode)

	// Shrinking never decreases the total.
	delta = aggregator.RecordCodeChange("s1", "x")
	assert.Equal(t, 0, delta)
	assert.Equal(t, int64(3), aggregator.Current().TotalLinesOfCode)

	// Same count is not an increase.
	delta = aggregator.RecordCodeChange("s1", "a\nb\nc")
	assert.Equal(t, 0, delta)

	// Per-session accounting: a second session counts from zero.
	delta = aggregator.RecordCodeChange("s2", "one\ntwo")
	assert.Equal(t, 2, delta)
	assert.Equal(t, int64(5), aggregator.Current().TotalLinesOfCode)
}

func TestRecordCodeChangePersistsIncrement(t *testing.T) {
	store := NewMemoryStore()
	aggregator, _, _ := newTestAggregator(store)

	aggregator.RecordCodeChange("s1", "a\nb\nc")

	stored, err := store.GetGlobalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.TotalLinesOfCode)
}

func TestRecomputeDerivesMembershipCounts(t *testing.T) {
	store := NewMemoryStore()
	aggregator, _, presence := newTestAggregator(store)

	presence.Authenticate("conn-1", "s1", Identity{ID: "alice"})
	presence.Authenticate("conn-2", "s1", Identity{ID: "bob"})
	presence.Authenticate("conn-3", "s2", Identity{ID: "carol"})

	stats := aggregator.Recompute(context.Background())
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, 3, stats.CollaboratingUsers)
	assert.False(t, stats.LastUpdated.IsZero())

	// Recompute persisted the document.
	stored, err := store.GetGlobalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ActiveSessions)
	assert.Equal(t, 3, stored.CollaboratingUsers)
}

func TestLoadBaseline(t *testing.T) {
	store := NewMemoryStore()
	before := time.Now().Add(-24 * time.Hour)
	require.NoError(t, store.SaveGlobalStats(context.Background(), &GlobalStats{
		ActiveSessions:     9,
		CollaboratingUsers: 12,
		TotalLinesOfCode:   500,
		LastUpdated:        before,
		LastLineCount:      map[string]int{"s1": 40},
	}))

	aggregator, _, _ := newTestAggregator(store)
	require.NoError(t, aggregator.LoadBaseline(context.Background()))

	current := aggregator.Current()
	assert.Equal(t, int64(500), current.TotalLinesOfCode)
	assert.Equal(t, 40, current.LastLineCount["s1"])
	assert.True(t, current.LastUpdated.After(before), "LastUpdated resets to now")
	// Membership-derived counts start from the live registry, not the
	// stored document.
	assert.Equal(t, 0, aggregator.Current().ActiveSessions)
}

func TestLoadBaselineEmptyStore(t *testing.T) {
	aggregator, _, _ := newTestAggregator(NewMemoryStore())
	require.NoError(t, aggregator.LoadBaseline(context.Background()))
	assert.Equal(t, int64(0), aggregator.Current().TotalLinesOfCode)
}

func TestSnapshot(t *testing.T) {
	store := NewMemoryStore()
	aggregator, _, presence := newTestAggregator(store)

	presence.Authenticate("conn-1", "s1", Identity{ID: "alice"})
	aggregator.RecordCodeChange("s1", "a\nb")
	aggregator.Recompute(context.Background())
	aggregator.Snapshot(context.Background())

	snapshots := store.SnapshotLog()
	require.Len(t, snapshots, 1)
	assert.NotEmpty(t, snapshots[0].ID)
	assert.Equal(t, 1, snapshots[0].ActiveSessions)
	assert.Equal(t, 1, snapshots[0].CollaboratingUsers)
	assert.Equal(t, int64(2), snapshots[0].TotalLinesOfCode)
	assert.False(t, snapshots[0].Timestamp.IsZero())
}

func TestNextLocalMidnight(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.Local)
	midnight := nextLocalMidnight(func() time.Time { return now })
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.Local), midnight)
	assert.True(t, midnight.After(now))
}
