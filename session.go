package corestore

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/dreamware/corestore/engine"
)

// SessionConfig recognizes the options of spec.md §4.6.4. Every field
// is optional; zero values mean "defer to the owning Store".
type SessionConfig struct {
	Name         *string
	KeyPair      ed25519.PrivateKey
	Manifest     *engine.Manifest
	Key          *[32]byte
	DiscoveryKey *[32]byte

	// Active, if nil, defaults to true: whether this session
	// participates in download-driven replication attachment.
	Active *bool
	// Writable, if nil, defaults to the owning Store's writability.
	Writable *bool
	// CreateIfMissing, if nil, defaults to true.
	CreateIfMissing *bool

	Exclusive bool
	Wait      bool
	Timeout   time.Duration
	Draft     bool

	Encryption    []byte
	EncryptionKey []byte
	IsBlockKey    bool

	OnWait        func()
	ValueEncoding string

	// Preload, if non-nil, is awaited before the identity fields
	// above are read, and may return a replacement SessionConfig
	// (spec.md §4.6.3 "async opts.preload").
	Preload func(ctx context.Context) (SessionConfig, error)
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Session is a user-held handle to a core, participating in its
// reference count (spec.md §3 "Session").
type Session struct {
	store        *Store
	core         engine.Core
	discoveryKey [32]byte
	id           uint64

	active    bool
	writable  bool
	exclusive bool
	timeout   time.Duration

	findingPeersToken   bool
	findingPeersRelease func()
	exclusiveRelease    func()

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	readyErr error
}

// ID implements sessions.Handle.
func (sess *Session) ID() uint64 { return sess.id }

// Key returns the core's public key, or the zero value if this
// session was opened remote-only (discovery key alone).
func (sess *Session) Key() [32]byte {
	return sess.core.Key()
}

// DiscoveryKey returns the core's network-visible identifier.
func (sess *Session) DiscoveryKey() [32]byte { return sess.discoveryKey }

// Writable reports whether this session may Append.
func (sess *Session) Writable() bool { return sess.writable && sess.core.Writable() }

// Active reports whether this session participates in download-driven
// replication attachment.
func (sess *Session) Active() bool { return sess.active }

// Length returns the core's current block count.
func (sess *Session) Length(ctx context.Context) (uint64, error) {
	return sess.core.Length(ctx)
}

// Get returns block index, honoring the session's configured timeout
// if non-zero.
func (sess *Session) Get(ctx context.Context, index uint64) ([]byte, error) {
	if sess.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sess.timeout)
		defer cancel()
	}
	return sess.core.Get(ctx, index)
}

// Append adds blocks to the core. Fails if the session is not
// writable.
func (sess *Session) Append(ctx context.Context, blocks ...[]byte) error {
	if !sess.Writable() {
		return ErrInvalidInput
	}
	return sess.core.Append(ctx, blocks...)
}

// Manifest returns the core's manifest, if known.
func (sess *Session) Manifest() *engine.Manifest { return sess.core.Manifest() }

// Closed reports whether Close has completed for this session.
func (sess *Session) Closed() bool {
	select {
	case <-sess.closed:
		return true
	default:
		return false
	}
}

// Close releases this session: it is removed from the owning Store's
// SessionTracker, the core's reference count is released (firing
// OnIdle if it was the last session), and any exclusive lock or
// finding-peers token it held is released. Calling Close more than
// once is a no-op; session.on_close fires exactly once.
func (sess *Session) Close(ctx context.Context) error {
	sess.closeOnce.Do(func() {
		sess.store.sessionTracker.Remove(sess.discoveryKey, sess)
		sess.core.Release()
		if sess.exclusiveRelease != nil {
			sess.exclusiveRelease()
		}
		if sess.findingPeersToken && sess.findingPeersRelease != nil {
			sess.findingPeersRelease()
		}
		close(sess.closed)
	})
	return sess.closeErr
}

// exclusiveLockTable serializes writable exclusive opens of the same
// discovery key (spec.md §4.6.4 "exclusive"). Only one exclusive
// writable session may hold a given key's lock at a time; further
// attempts wait for release.
type exclusiveLockTable struct {
	mu    sync.Mutex
	held  map[[32]byte]chan struct{}
	abort chan struct{}
}

func newExclusiveLockTable() *exclusiveLockTable {
	return &exclusiveLockTable{held: make(map[[32]byte]chan struct{}), abort: make(chan struct{})}
}

// acquire blocks until id's lock is free (or this table is shut down
// by a store Close), then marks it held. The returned func releases
// it; release is safe to call at most once.
func (t *exclusiveLockTable) acquire(ctx context.Context, id [32]byte) (release func(), err error) {
	for {
		t.mu.Lock()
		ch, busy := t.held[id]
		if !busy {
			t.held[id] = make(chan struct{})
			t.mu.Unlock()
			return func() {
				t.mu.Lock()
				if done, ok := t.held[id]; ok {
					delete(t.held, id)
					close(done)
				}
				t.mu.Unlock()
			}, nil
		}
		t.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.abort:
			return nil, ErrExclusiveWaitCancelled
		}
	}
}

func (t *exclusiveLockTable) shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.abort:
	default:
		close(t.abort)
	}
}
