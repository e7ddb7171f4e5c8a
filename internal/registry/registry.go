package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/corestore/engine"
)

// errStoreClosed is returned by Intern once Close has completed.
var errStoreClosed = errors.New("registry: closed")

// gcInterval is how often the idle sweep runs.
const gcInterval = 2 * time.Second

// gcStrikes is how many consecutive idle sweeps a core survives
// before it is closed and evicted.
const gcStrikes = 3

// missingCacheSize bounds the known-missing negative cache (spec.md
// §9 open question: eviction policy unspecified upstream; this repo
// picks a fixed-size LRU).
const missingCacheSize = 65536

type entryState int

const (
	stateOpening entryState = iota
	stateOpened
	stateClosing
)

type entry struct {
	mu       sync.Mutex
	state    entryState
	core     engine.Core
	err      error
	ready    chan struct{}
	closed   chan struct{}
	strikes  int
	idleMark bool
}

func newEntry() *entry {
	return &entry{state: stateOpening, ready: make(chan struct{})}
}

func (e *entry) succeed(core engine.Core) {
	e.mu.Lock()
	e.core = core
	e.state = stateOpened
	e.mu.Unlock()
	close(e.ready)
}

func (e *entry) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
	close(e.ready)
}

func (e *entry) snapshot() (engine.Core, entryState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.core, e.state, e.err
}

// CoreRegistry is the process-wide discovery-key→core map described in
// spec.md §4.2.
type CoreRegistry struct {
	log *zap.Logger

	mu      sync.RWMutex
	open    map[string]*entry
	closed  bool
	sf      singleflight.Group
	missing *lru.Cache[string, struct{}]

	watchMu  sync.Mutex
	watchers []func(engine.Core)

	gcStop chan struct{}
	gcDone chan struct{}

	// OnEvict and OnDedupHit are optional observability hooks set by
	// the owning Store (e.g. to drive Prometheus counters). Both may
	// be nil.
	OnEvict    func()
	OnDedupHit func()
}

// New returns a ready CoreRegistry and starts its idle-GC ticker.
// logger may be nil, in which case a no-op logger is used.
func New(logger *zap.Logger) *CoreRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	missing, err := lru.New[string, struct{}](missingCacheSize)
	if err != nil {
		// Only fails for a non-positive size, which missingCacheSize never is.
		panic(err)
	}
	r := &CoreRegistry{
		log:     logger,
		open:    make(map[string]*entry),
		missing: missing,
		gcStop:  make(chan struct{}),
		gcDone:  make(chan struct{}),
	}
	go r.gcLoop()
	return r
}

func key(id [32]byte) string { return hex.EncodeToString(id[:]) }

// Get returns the live core for id, or false if absent or closing
// (spec.md §4.2: a closing core is reported as absent to callers, but
// not yet evicted).
func (r *CoreRegistry) Get(id [32]byte) (engine.Core, bool) {
	r.mu.RLock()
	e, ok := r.open[key(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	core, state, _ := e.snapshot()
	if state != stateOpened {
		return nil, false
	}
	return core, true
}

// Opened reports whether id currently has a live, non-closing entry.
func (r *CoreRegistry) Opened(id [32]byte) bool {
	_, ok := r.Get(id)
	return ok
}

// IsMissing reports whether id is in the known-missing negative
// cache (a previous open attempt failed recently).
func (r *CoreRegistry) IsMissing(id [32]byte) bool {
	_, ok := r.missing.Get(key(id))
	return ok
}

// Intern returns the live core for id, creating it via factory if
// necessary, deduplicating concurrent callers racing on the same id
// (spec.md §5 "Concurrent-open deduplication"). factory is called at
// most once per successful creation, guarded by a singleflight.Group
// keyed on hex(id).
func (r *CoreRegistry) Intern(ctx context.Context, id [32]byte, factory func(context.Context) (engine.Core, error)) (engine.Core, error) {
	k := key(id)

	for {
		r.mu.RLock()
		e, ok := r.open[k]
		closed := r.closed
		r.mu.RUnlock()
		if closed {
			return nil, errStoreClosed
		}

		if ok {
			core, state, err := e.snapshot()
			if state == stateClosing {
				<-e.closed
				continue
			}
			select {
			case <-e.ready:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			core, state, err = e.snapshot()
			if err != nil {
				// The attempt that owned this entry failed and will
				// remove it from the map; loop and retry insertion.
				continue
			}
			_ = state
			if r.OnDedupHit != nil {
				r.OnDedupHit()
			}
			return core, nil
		}

		// Not present: reserve the slot under a singleflight call so
		// only one goroutine among concurrent callers runs factory.
		v, err, _ := r.sf.Do(k, func() (interface{}, error) {
			r.mu.Lock()
			if e2, raced := r.open[k]; raced {
				r.mu.Unlock()
				// Lost the race to another singleflight generation;
				// wait on whoever won.
				<-e2.ready
				c, _, ferr := e2.snapshot()
				return c, ferr
			}
			e2 := newEntry()
			r.open[k] = e2
			r.mu.Unlock()

			core, ferr := factory(ctx)
			if ferr != nil {
				r.mu.Lock()
				delete(r.open, k)
				r.mu.Unlock()
				r.missing.Add(k, struct{}{})
				e2.fail(ferr)
				return nil, ferr
			}
			r.missing.Remove(k)
			e2.succeed(core)
			core.OnIdle(func() { r.markIdle(id) })
			r.fireWatchers(core)
			return core, nil
		})
		if err != nil {
			return nil, err
		}
		return v.(engine.Core), nil
	}
}

// Resume cancels any pending idle strike on id and returns its core.
// If the entry is closing, it is returned anyway (found=true,
// closing=true) so the caller can await its close and reopen.
func (r *CoreRegistry) Resume(id [32]byte) (core engine.Core, found, closing bool) {
	r.mu.RLock()
	e, ok := r.open[key(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, false, false
	}
	c, state, _ := e.snapshot()
	if state == stateClosing {
		return c, true, true
	}
	e.mu.Lock()
	e.strikes = 0
	e.idleMark = false
	e.mu.Unlock()
	return c, true, false
}

// markIdle records id as idle; it survives gcStrikes sweeps before
// being closed and evicted, unless Resume is called on it first.
func (r *CoreRegistry) markIdle(id [32]byte) {
	r.mu.RLock()
	e, ok := r.open[key(id)]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.idleMark = true
	e.strikes = 0
	e.mu.Unlock()
}

func (r *CoreRegistry) gcLoop() {
	defer close(r.gcDone)
	t := time.NewTicker(gcInterval)
	defer t.Stop()
	for {
		select {
		case <-r.gcStop:
			return
		case <-t.C:
			r.sweep()
		}
	}
}

func (r *CoreRegistry) sweep() {
	type victim struct {
		id   [32]byte
		core engine.Core
	}
	var victims []victim

	r.mu.RLock()
	for k, e := range r.open {
		e.mu.Lock()
		if e.state == stateOpened && e.idleMark {
			e.strikes++
			if e.strikes >= gcStrikes {
				var id [32]byte
				b, _ := hex.DecodeString(k)
				copy(id[:], b)
				victims = append(victims, victim{id: id, core: e.core})
			}
		}
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, v := range victims {
		r.evict(v.id, v.core)
	}
}

func (r *CoreRegistry) evict(id [32]byte, core engine.Core) {
	k := key(id)
	r.mu.Lock()
	e, ok := r.open[k]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.mu.Lock()
	e.state = stateClosing
	e.closed = make(chan struct{})
	e.mu.Unlock()
	r.mu.Unlock()

	if err := core.Close(context.Background()); err != nil {
		r.log.Warn("idle core close failed", zap.String("discovery_key", k), zap.Error(err))
	}

	r.mu.Lock()
	delete(r.open, k)
	r.mu.Unlock()
	close(e.closed)
	if r.OnEvict != nil {
		r.OnEvict()
	}
}

// Watch registers fn to be called, in the order cores are inserted,
// every time Intern creates a new core. The returned func unregisters
// it. A watcher installed before any Intern call sees every
// subsequent open; one installed later sees only future opens
// (spec.md §4.2 ordering guarantee).
func (r *CoreRegistry) Watch(fn func(engine.Core)) (unwatch func()) {
	r.watchMu.Lock()
	r.watchers = append(r.watchers, fn)
	idx := len(r.watchers) - 1
	r.watchMu.Unlock()

	return func() {
		r.watchMu.Lock()
		defer r.watchMu.Unlock()
		if idx < len(r.watchers) {
			r.watchers[idx] = nil
		}
	}
}

// fireWatchers invokes every registered watcher, most-recently
// registered first (spec.md §4.2 "fires watcher callbacks in LIFO
// order").
func (r *CoreRegistry) fireWatchers(core engine.Core) {
	r.watchMu.Lock()
	fns := make([]func(engine.Core), len(r.watchers))
	copy(fns, r.watchers)
	r.watchMu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		if fns[i] != nil {
			fns[i](core)
		}
	}
}

// All returns every live, non-closing core, for Store.Replicate's
// initial attach burst.
func (r *CoreRegistry) All() []engine.Core {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]engine.Core, 0, len(r.open))
	for _, e := range r.open {
		if core, state, _ := e.snapshot(); state == stateOpened {
			out = append(out, core)
		}
	}
	return out
}

// Size returns the number of live, non-closing entries.
func (r *CoreRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.open {
		if _, state, _ := e.snapshot(); state == stateOpened {
			n++
		}
	}
	return n
}

// Close stops the idle-GC ticker, disarms every entry's idle handler
// (forbidding reentrant markIdle calls from in-flight Close calls),
// and awaits the close of every open core.
func (r *CoreRegistry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := make(map[string]*entry, len(r.open))
	for k, e := range r.open {
		entries[k] = e
	}
	r.mu.Unlock()

	close(r.gcStop)
	<-r.gcDone

	var wg sync.WaitGroup
	for k, e := range entries {
		core, state, _ := e.snapshot()
		if state != stateOpened {
			continue
		}
		wg.Add(1)
		go func(k string, e *entry, core engine.Core) {
			defer wg.Done()
			core.OnIdle(func() {})
			if err := core.Close(ctx); err != nil {
				r.log.Warn("core close failed", zap.String("discovery_key", k), zap.Error(err))
			}
		}(k, e, core)
	}
	wg.Wait()

	r.mu.Lock()
	r.open = make(map[string]*entry)
	r.mu.Unlock()
	return nil
}
