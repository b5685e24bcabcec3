package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhiteboardUpsertAppendsAndReplaces(t *testing.T) {
	store := NewWhiteboardStore()

	store.Upsert("s1", WhiteboardObject{"id": "1", "type": "rect", "w": 10})
	store.Upsert("s1", WhiteboardObject{"id": "2", "type": "line"})
	require.Equal(t, 2, store.Len("s1"))

	// Same id replaces in place, preserving order.
	store.Upsert("s1", WhiteboardObject{"id": "1", "type": "rect", "w": 20})
	objects := store.Get("s1")
	require.Len(t, objects, 2)
	assert.Equal(t, "1", objects[0].ID())
	assert.Equal(t, 20, objects[0]["w"])
	assert.Equal(t, "2", objects[1].ID())
}

func TestWhiteboardUpsertIdempotent(t *testing.T) {
	store := NewWhiteboardStore()
	object := WhiteboardObject{"id": "1", "type": "circle", "r": 5}

	store.Upsert("s1", object)
	store.Upsert("s1", object)

	objects := store.Get("s1")
	require.Len(t, objects, 1)
	assert.Equal(t, object, objects[0])
}

func TestWhiteboardAssignsMissingIDs(t *testing.T) {
	store := NewWhiteboardStore()
	object := WhiteboardObject{"type": "path"}

	store.Upsert("s1", object)

	assert.NotEmpty(t, object.ID(), "upsert assigns an id in place")
	require.Equal(t, 1, store.Len("s1"))
	assert.Equal(t, object.ID(), store.Get("s1")[0].ID())
}

func TestWhiteboardClear(t *testing.T) {
	store := NewWhiteboardStore()
	store.UpsertAll("s1", []WhiteboardObject{
		{"id": "1"}, {"id": "2"}, {"id": "3"},
	})
	store.Upsert("s2", WhiteboardObject{"id": "x"})

	store.Clear("s1")

	assert.Empty(t, store.Get("s1"))
	assert.Equal(t, 1, store.Len("s2"), "clear is per session")
}

func TestWhiteboardGetUnknownSession(t *testing.T) {
	store := NewWhiteboardStore()
	objects := store.Get("nope")
	assert.NotNil(t, objects)
	assert.Empty(t, objects)
}

func TestNewObjectID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewObjectID()
		parts := strings.SplitN(id, "-", 2)
		require.Len(t, parts, 2)
		assert.NotEmpty(t, parts[0])
		assert.NotEmpty(t, parts[1])
		seen[id] = true
	}
	// Collisions within a single millisecond are possible in principle
	// but should be vanishingly rare with the random suffix.
	assert.Greater(t, len(seen), 95)
}
