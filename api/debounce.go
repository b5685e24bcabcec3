package api

import (
	"context"
	"sync"
	"time"

	"github.com/syncpad/syncpad/internal/slogging"
)

// defaultCodeWriteDebounce is the quiet interval before a scheduled code
// write fires.
const defaultCodeWriteDebounce = 2 * time.Second

// DebouncedWriter coalesces rapid code changes into a single delayed
// persistence write per session. Later Schedule calls supersede earlier
// ones entirely (last-write-wins); at most one timer is armed per session.
type DebouncedWriter struct {
	mu       sync.Mutex
	store    Store
	interval time.Duration
	pending  map[string]*pendingWrite
	gen      uint64
	closed   bool
}

// pendingWrite is one armed write. The generation token identifies it to
// its own timer callback: a timer whose Stop raced with the firing
// callback still runs, and must not touch a write armed after it.
type pendingWrite struct {
	timer *time.Timer
	gen   uint64
}

// NewDebouncedWriter creates a writer persisting through store after the
// given quiet interval. A non-positive interval selects the default of 2
// seconds.
func NewDebouncedWriter(store Store, interval time.Duration) *DebouncedWriter {
	if interval <= 0 {
		interval = defaultCodeWriteDebounce
	}
	return &DebouncedWriter{
		store:    store,
		interval: interval,
		pending:  make(map[string]*pendingWrite),
	}
}

// Schedule resets any pending write for the session and arms a new timer
// carrying the given code. On fire, a single write of the code and update
// time is performed; a failure is logged and not retried, the next code
// change reschedules.
func (w *DebouncedWriter) Schedule(sessionID, code string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if entry, ok := w.pending[sessionID]; ok {
		entry.timer.Stop()
	}
	w.gen++
	gen := w.gen
	timer := time.AfterFunc(w.interval, func() {
		w.flush(sessionID, code, gen)
	})
	w.pending[sessionID] = &pendingWrite{timer: timer, gen: gen}
}

// Pending returns the number of sessions with an armed write.
func (w *DebouncedWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Stop cancels all armed timers. Writes already firing are allowed to
// complete; there is no rollback of in-flight persistence.
func (w *DebouncedWriter) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	for sessionID, entry := range w.pending {
		entry.timer.Stop()
		delete(w.pending, sessionID)
	}
}

func (w *DebouncedWriter) flush(sessionID, code string, gen uint64) {
	w.mu.Lock()
	entry, ok := w.pending[sessionID]
	if !ok || entry.gen != gen {
		// A rearm or Stop superseded this write while its timer was
		// already firing; the newer timer owns the session now.
		w.mu.Unlock()
		return
	}
	delete(w.pending, sessionID)
	w.mu.Unlock()

	if err := w.store.UpdateCode(context.Background(), sessionID, code); err != nil {
		slogging.Get().Error("Debounced code write failed for session %s: %v", sessionID, err)
	}
}
