// Package streams implements StreamTracker: the positionally-indexed
// list of live peer streams, supporting O(1) removal by swapping the
// tail into the vacated slot (spec.md §4.4).
package streams

import (
	"sync"

	"github.com/dreamware/corestore/engine"
)

// Peer is the stream surface StreamTracker needs: a Muxer to attach
// cores to. Teardown is supplied separately, as Destroy's callback.
// package wire's Stream implements this.
type Peer interface {
	MuxerOf() engine.Muxer
}

// Record is one tracked stream. IsExternal is true iff the caller
// supplied the underlying connection; Corestore must never destroy an
// external stream, only detach from it.
type Record struct {
	Peer       Peer
	IsExternal bool
	index      int
}

// Tracker is the live stream list.
type Tracker struct {
	mu      sync.Mutex
	records []*Record

	// OnChange, if set, is invoked after every Add (delta +1), every
	// Remove that actually removes a record (delta -1), and Destroy
	// (delta -len(records)), outside the tracker's lock. Store uses
	// it to drive the open_streams metric.
	OnChange func(delta int)
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Add appends peer to the tracked list and returns its Record.
func (t *Tracker) Add(peer Peer, isExternal bool) *Record {
	t.mu.Lock()
	r := &Record{Peer: peer, IsExternal: isExternal, index: len(t.records)}
	t.records = append(t.records, r)
	t.mu.Unlock()
	if t.OnChange != nil {
		t.OnChange(1)
	}
	return r
}

// Remove swap-removes r from the tracked list in O(1), fixing the
// moved record's index.
func (t *Tracker) Remove(r *Record) {
	t.mu.Lock()
	n := len(t.records)
	if r.index < 0 || r.index >= n || t.records[r.index] != r {
		t.mu.Unlock()
		return
	}
	last := t.records[n-1]
	t.records[r.index] = last
	last.index = r.index
	t.records = t.records[:n-1]
	r.index = -1
	t.mu.Unlock()
	if t.OnChange != nil {
		t.OnChange(-1)
	}
}

// Snapshot returns a copy of the currently tracked records.
func (t *Tracker) Snapshot() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Record, len(t.records))
	copy(out, t.records)
	return out
}

// AttachAll attaches every tracked stream's muxer to core that is not
// already attached to it.
func AttachAll(t *Tracker, core engine.Core) error {
	rep := core.Replicator()
	for _, r := range t.Snapshot() {
		m := r.Peer.MuxerOf()
		if m == nil || rep.Attached(m) {
			continue
		}
		if err := rep.AttachTo(m); err != nil {
			return err
		}
	}
	return nil
}

// Destroy tears down every non-external stream, iterating in reverse
// insertion order, on root Store close. Caller-owned (external)
// streams are left alone: Corestore never destroys a connection it
// did not create.
func (t *Tracker) Destroy(destroy func(Peer) error) {
	t.mu.Lock()
	records := make([]*Record, len(t.records))
	copy(records, t.records)
	t.records = nil
	t.mu.Unlock()
	if t.OnChange != nil && len(records) > 0 {
		t.OnChange(-len(records))
	}

	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.IsExternal {
			continue
		}
		_ = destroy(r.Peer)
	}
}
