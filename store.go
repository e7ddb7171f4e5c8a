package corestore

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dreamware/corestore/engine"
	"github.com/dreamware/corestore/internal/auth"
	"github.com/dreamware/corestore/internal/keyderiver"
	"github.com/dreamware/corestore/internal/registry"
	"github.com/dreamware/corestore/internal/sessions"
	"github.com/dreamware/corestore/internal/streams"
	"github.com/dreamware/corestore/storage"
)

// State is a Store's position in its Opening → Opened → Closing →
// Closed state machine (spec.md §4.6.11).
type State int

const (
	StateOpening State = iota
	StateOpened
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpened:
		return "opened"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a root Store. See Store.Session and
// SessionOptions for child-store construction options.
type Options struct {
	// PrimaryKey, if supplied, must match whatever primary key is
	// already persisted in storage (spec.md §4.6.2); if storage has
	// none yet, it becomes the persisted one.
	PrimaryKey *[32]byte

	// ManifestVersion is the default engine.Manifest.Version for
	// cores opened by name or key pair. Default 1.
	ManifestVersion int

	// Writable is the default writability for sessions opened from
	// this store. Default true.
	Writable *bool

	// Passive stores never auto-attach their cores to replication
	// streams (spec.md §4.6.5 "initial burst").
	Passive bool

	Engine  engine.CoreEngine
	Logger  *zap.Logger
	Metrics *Metrics
}

// Store is the public API surface of Corestore: either the root of a
// storage tree, or a namespace/session child of one (spec.md §4.6).
type Store struct {
	root *Store // nil on the root itself

	storage storage.Storage
	engine  engine.CoreEngine
	logger  *zap.Logger
	metrics *Metrics

	registry      *registry.CoreRegistry // shared, root-owned
	streamTracker *streams.Tracker       // shared, root-owned

	sessionTracker *sessions.Tracker // this store's own sessions
	nextSessionID  *atomic.Uint64    // shared counter, root-owned

	ns              [32]byte
	writable        bool
	manifestVersion int
	passive         bool

	primaryKeyMu sync.RWMutex
	primaryKey   [32]byte

	bootstrap engine.Core // set by Namespace(core, ...)

	mu          sync.Mutex
	state       State
	openOnce    sync.Once
	openErr     error
	openDone    chan struct{}
	closeOnce   sync.Once
	closeErr    error
	closeDone   chan struct{}

	childrenMu sync.Mutex
	children   map[*Store]struct{}

	findingPeers    atomic.Int32
	exclusiveLocks  *exclusiveLockTable

	watchUnsub func()
}

// New constructs a root Store over st. Call Ready (or let the first
// Get/Namespace/Session/Replicate call do so implicitly) before use.
func New(st storage.Storage, opts Options) *Store {
	if opts.ManifestVersion == 0 {
		opts.ManifestVersion = 1
	}
	writable := true
	if opts.Writable != nil {
		writable = *opts.Writable
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		storage:         st,
		engine:          opts.Engine,
		logger:          logger,
		metrics:         opts.Metrics,
		registry:        registry.New(logger),
		streamTracker:   streams.New(),
		sessionTracker:  sessions.New(),
		nextSessionID:   &atomic.Uint64{},
		ns:              keyderiver.DefaultNamespace,
		writable:        writable,
		manifestVersion: opts.ManifestVersion,
		passive:         opts.Passive,
		openDone:        make(chan struct{}),
		closeDone:       make(chan struct{}),
		children:        make(map[*Store]struct{}),
		exclusiveLocks:  newExclusiveLockTable(),
	}
	if opts.PrimaryKey != nil {
		s.primaryKey = *opts.PrimaryKey
	}
	if s.metrics != nil {
		s.registry.OnEvict = func() { s.metrics.gcSweeps.Inc() }
		s.registry.OnDedupHit = func() { s.metrics.dedupHits.Inc() }
		s.streamTracker.OnChange = func(delta int) { s.metrics.streams.Add(float64(delta)) }
		s.sessionTracker.OnChange = func(delta int) { s.metrics.sessions.Add(float64(delta)) }
	}
	return s
}

// Ready opens the store: for a root, this persists (or validates) the
// master seed; for a child, it awaits its root and may adopt a
// bootstrap namespace. Calling Ready more than once is safe and
// returns the same result every time.
func (s *Store) Ready(ctx context.Context) error {
	s.openOnce.Do(func() {
		s.mu.Lock()
		s.state = StateOpening
		s.mu.Unlock()

		s.openErr = s.open(ctx)

		s.mu.Lock()
		if s.openErr == nil {
			s.state = StateOpened
		}
		s.mu.Unlock()
		close(s.openDone)
	})
	<-s.openDone
	return s.openErr
}

func (s *Store) open(ctx context.Context) error {
	if s.root != nil {
		if err := s.root.Ready(ctx); err != nil {
			return err
		}
		s.primaryKeyMu.Lock()
		s.primaryKey = s.root.getPrimaryKey()
		s.primaryKeyMu.Unlock()

		if s.bootstrap != nil {
			raw, ok, err := s.bootstrap.GetUserData(ctx, "corestore/namespace")
			if err != nil {
				return fmt.Errorf("corestore: bootstrap namespace: %w", err)
			}
			if ok && len(raw) == 32 {
				var ns [32]byte
				copy(ns[:], raw)
				s.ns = ns
			}
		}
		return nil
	}

	existing, err := s.storage.GetSeed(ctx)
	switch {
	case err == storage.ErrNoSeed:
		s.primaryKeyMu.RLock()
		toPersist := s.primaryKey
		s.primaryKeyMu.RUnlock()
		if toPersist == ([32]byte{}) {
			tok, terr := keyderiver.CreateToken()
			if terr != nil {
				return terr
			}
			toPersist = tok
		}
		if serr := s.storage.SetSeed(ctx, toPersist); serr != nil {
			return serr
		}
		s.primaryKeyMu.Lock()
		s.primaryKey = toPersist
		s.primaryKeyMu.Unlock()
		return nil
	case err != nil:
		return err
	default:
		s.primaryKeyMu.RLock()
		supplied := s.primaryKey
		s.primaryKeyMu.RUnlock()
		if supplied != ([32]byte{}) && supplied != existing {
			return ErrConflictingSeed
		}
		s.primaryKeyMu.Lock()
		s.primaryKey = existing
		s.primaryKeyMu.Unlock()
		return nil
	}
}

func (s *Store) getPrimaryKey() [32]byte {
	s.primaryKeyMu.RLock()
	defer s.primaryKeyMu.RUnlock()
	return s.primaryKey
}

func (s *Store) rootStore() *Store {
	if s.root != nil {
		return s.root
	}
	return s
}

func (s *Store) checkOpenForUse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosing, StateClosed:
		return ErrStoreClosed
	default:
		return nil
	}
}

func dkHex(id [32]byte) string { return hex.EncodeToString(id[:]) }
