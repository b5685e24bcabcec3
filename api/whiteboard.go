package api

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"time"
)

// WhiteboardStore holds the per-session ordered collection of drawable
// objects. It is deliberately volatile: state is rebuilt from peer
// broadcasts after a restart, or lost if no peer holds it.
type WhiteboardStore struct {
	mu      sync.Mutex
	objects map[string][]WhiteboardObject
}

// NewWhiteboardStore creates an empty whiteboard store.
func NewWhiteboardStore() *WhiteboardStore {
	return &WhiteboardStore{
		objects: make(map[string][]WhiteboardObject),
	}
}

// Upsert inserts or replaces an object by id: a linear scan replaces a
// matching id in place, otherwise the object is appended. Objects without
// an id are assigned one first.
func (w *WhiteboardStore) Upsert(sessionID string, object WhiteboardObject) {
	if object == nil {
		return
	}
	if object.ID() == "" {
		object["id"] = NewObjectID()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	list := w.objects[sessionID]
	for i, existing := range list {
		if existing.ID() == object.ID() {
			list[i] = object
			return
		}
	}
	w.objects[sessionID] = append(list, object)
}

// UpsertAll applies Upsert to each object in order.
func (w *WhiteboardStore) UpsertAll(sessionID string, objects []WhiteboardObject) {
	for _, object := range objects {
		w.Upsert(sessionID, object)
	}
}

// Clear empties the session's whiteboard.
func (w *WhiteboardStore) Clear(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.objects, sessionID)
}

// Get returns a copy of the session's object list, empty if the session is
// unknown.
func (w *WhiteboardStore) Get(sessionID string) []WhiteboardObject {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := w.objects[sessionID]
	out := make([]WhiteboardObject, len(list))
	copy(out, list)
	return out
}

// Len returns the number of objects on the session's whiteboard.
func (w *WhiteboardStore) Len(sessionID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.objects[sessionID])
}

// NewObjectID generates a whiteboard object id: epoch millis and a random
// base36 suffix, matching the ids clients assign themselves.
func NewObjectID() string {
	suffix := strconv.FormatUint(rand.Uint64(), 36)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + suffix
}
