// Package sessions implements SessionTracker: the per-core list of
// outstanding session handles a Store keeps so it can close them
// (spec.md §4.3). The engine's own reference count is kept separately
// through Core.Acquire/Release.
package sessions

import (
	"encoding/hex"
	"sync"
)

// Handle is the minimal session surface SessionTracker needs: an
// identity for equality and GC bookkeeping. corestore.Session
// implements this.
type Handle interface {
	// ID is a process-unique identifier for this session, stable for
	// its lifetime.
	ID() uint64
}

// Tracker is the per-core registry of outstanding sessions.
type Tracker struct {
	mu   sync.Mutex
	byID map[string][]Handle // hex(discoveryKey) -> live sessions

	// OnChange, if set, is invoked after every Add (delta +1) and
	// every Remove that actually removes a session (delta -1),
	// outside the tracker's lock. Store uses it to drive the
	// open_sessions metric.
	OnChange func(delta int)
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{byID: make(map[string][]Handle)}
}

func key(discoveryKey [32]byte) string { return hex.EncodeToString(discoveryKey[:]) }

// Add registers h as a live session of the core identified by
// discoveryKey, creating its list lazily.
func (t *Tracker) Add(discoveryKey [32]byte, h Handle) {
	k := key(discoveryKey)
	t.mu.Lock()
	t.byID[k] = append(t.byID[k], h)
	t.mu.Unlock()
	if t.OnChange != nil {
		t.OnChange(1)
	}
}

// Remove deregisters h from discoveryKey's session list, GC'ing the
// list once it becomes empty. Reports whether the list is now empty.
func (t *Tracker) Remove(discoveryKey [32]byte, h Handle) (nowEmpty bool) {
	k := key(discoveryKey)
	t.mu.Lock()
	list, ok := t.byID[k]
	if !ok {
		t.mu.Unlock()
		return true
	}
	removed := false
	for i, s := range list {
		if s.ID() == h.ID() {
			list = append(list[:i], list[i+1:]...)
			removed = true
			break
		}
	}
	nowEmpty = len(list) == 0
	if nowEmpty {
		delete(t.byID, k)
	} else {
		t.byID[k] = list
	}
	t.mu.Unlock()
	if removed && t.OnChange != nil {
		t.OnChange(-1)
	}
	return nowEmpty
}

// Get returns a snapshot of the sessions currently open for
// discoveryKey.
func (t *Tracker) Get(discoveryKey [32]byte) []Handle {
	k := key(discoveryKey)
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.byID[k]
	out := make([]Handle, len(list))
	copy(out, list)
	return out
}

// Count returns the number of live sessions for discoveryKey.
func (t *Tracker) Count(discoveryKey [32]byte) int {
	return len(t.Get(discoveryKey))
}

// All returns every live session across every core, for Store.Close.
func (t *Tracker) All() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Handle
	for _, list := range t.byID {
		out = append(out, list...)
	}
	return out
}
