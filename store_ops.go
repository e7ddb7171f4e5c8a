package corestore

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dreamware/corestore/engine"
	"github.com/dreamware/corestore/internal/keyderiver"
	"github.com/dreamware/corestore/internal/sessions"
	"github.com/dreamware/corestore/internal/streams"
	"github.com/dreamware/corestore/wire"
)

// newChild builds an unopened child Store sharing every root-owned
// collaborator (storage, registry, stream tracker, primary key) with
// s's root, but owning its own namespace and SessionTracker (spec.md
// §4.6.1 "Child").
func (s *Store) newChild() *Store {
	root := s.rootStore()
	child := &Store{
		root:            root,
		storage:         root.storage,
		engine:          root.engine,
		logger:          root.logger,
		metrics:         root.metrics,
		registry:        root.registry,
		streamTracker:   root.streamTracker,
		sessionTracker:  sessions.New(),
		nextSessionID:   root.nextSessionID,
		ns:              s.ns,
		writable:        s.writable,
		manifestVersion: s.manifestVersion,
		passive:         s.passive,
		exclusiveLocks:  root.exclusiveLocks,
		openDone:        make(chan struct{}),
		closeDone:       make(chan struct{}),
		children:        make(map[*Store]struct{}),
	}
	if root.metrics != nil {
		child.sessionTracker.OnChange = func(delta int) { root.metrics.sessions.Add(float64(delta)) }
	}
	return child
}

func (s *Store) registerChild(child *Store) {
	root := s.rootStore()
	root.childrenMu.Lock()
	root.children[child] = struct{}{}
	root.childrenMu.Unlock()
}

// Namespace derives a child Store whose namespace is name hashed under
// s's own namespace (spec.md §4.6.6). Namespaces chain: calling
// Namespace again on the child derives a grandchild namespace.
func (s *Store) Namespace(ctx context.Context, name string) (*Store, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpenForUse(); err != nil {
		return nil, err
	}
	ns, err := keyderiver.DeriveNamespace(s.ns, []byte(name))
	if err != nil {
		return nil, err
	}
	child := s.newChild()
	child.ns = ns
	s.registerChild(child)
	return child, nil
}

// NamespaceFromCore derives a child Store whose namespace is recovered
// from bootstrap's persisted "corestore/namespace" user-data once
// opened, rather than computed from a name (spec.md §4.6.6 "If name is
// a Core handle").
func (s *Store) NamespaceFromCore(ctx context.Context, bootstrap engine.Core) (*Store, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpenForUse(); err != nil {
		return nil, err
	}
	child := s.newChild()
	child.bootstrap = bootstrap
	s.registerChild(child)
	return child, nil
}

// SessionOptions overrides a child session's inherited settings (spec.md
// §4.6.1 "Child ... Optional overrides").
type SessionOptions struct {
	Namespace       *[32]byte
	Writable        *bool
	ManifestVersion *int
}

// Session derives a child Store sharing s's namespace but free to
// override writability and manifest version (spec.md §4.6 "session()").
func (s *Store) Session(ctx context.Context, opts SessionOptions) (*Store, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpenForUse(); err != nil {
		return nil, err
	}
	child := s.newChild()
	if opts.Namespace != nil {
		child.ns = *opts.Namespace
	}
	if opts.Writable != nil {
		child.writable = *opts.Writable
	}
	if opts.ManifestVersion != nil {
		child.manifestVersion = *opts.ManifestVersion
	}
	s.registerChild(child)
	return child, nil
}

// ReplicateOptions configures one Replicate call.
type ReplicateOptions struct {
	// External, if true, marks conn as caller-owned: Close will detach
	// from it but never call conn.Close itself (spec.md §4.4 "Corestore
	// never destroys a connection it did not create").
	External bool
}

// Replicate wraps conn in a ProtocolStream, registers it with the
// shared StreamTracker, attaches every currently-downloading core to
// it, and installs an on_discovery_key handler that opens (or skips)
// additional cores on demand as the peer advertises them (spec.md
// §4.6.5). Teardown is driven by the stream itself: once its read loop
// exits (peer disconnect or connection error), its StreamTracker
// record is evicted and every core registered with its Muxer is
// detached, independent of Store.Close (spec.md §4.6.5 "Teardown").
// Cores attached without being registered with the Muxer (the
// attach-on-open in Get) are not detached here.
func (s *Store) Replicate(ctx context.Context, conn io.ReadWriteCloser, opts ReplicateOptions) (*wire.Stream, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpenForUse(); err != nil {
		return nil, err
	}
	root := s.rootStore()

	var streamRef atomic.Pointer[wire.Stream]
	stream := wire.NewStream(conn, func(dk [32]byte) {
		if st := streamRef.Load(); st != nil {
			root.onPeerDiscoveryKey(dk, st)
		}
	})
	streamRef.Store(stream)
	record := root.streamTracker.Add(stream, opts.External)

	go func() {
		<-stream.Done()
		root.streamTracker.Remove(record)
		for _, core := range stream.Muxer.AttachedCores() {
			if derr := core.Replicator().Detach(stream.Muxer); derr != nil {
				s.logger.Warn("detach core from dead stream failed")
			}
		}
	}()

	if !s.passive {
		// Run the initial attach burst in the background: RegisterCore
		// writes a "have" frame per core, and a real connection's
		// buffering aside, the peer's own read loop may not be pumping
		// yet the instant Replicate returns.
		go func() {
			for _, core := range root.registry.All() {
				if !core.Replicator().Downloading() {
					continue
				}
				if err := stream.Muxer.RegisterCore(core.DiscoveryKey(), core); err != nil {
					s.logger.Warn("register core with new stream failed")
					continue
				}
				if err := core.Replicator().AttachTo(stream.Muxer); err != nil {
					s.logger.Warn("attach core to new stream failed")
				}
			}
		}()
	}
	return stream, nil
}

// onPeerDiscoveryKey is the on_discovery_key callback: a peer has
// announced a core we may not have open locally. Per spec.md §4.6.5
// step 3, it is opened through the ordinary session machinery
// (active:false, create_if_missing:false), attached to stream, and the
// session is closed again immediately. The attachment takes no
// session reference: if no other session holds the core, closing this
// one marks it idle, and the registry's sweep closes and evicts it
// after gcStrikes ticks whether or not the peer is still attached.
func (s *Store) onPeerDiscoveryKey(dk [32]byte, stream *wire.Stream) {
	ctx := context.Background()
	active := false
	createIfMissing := false
	sess, err := s.Get(ctx, SessionConfig{
		DiscoveryKey:    &dk,
		Active:          &active,
		CreateIfMissing: &createIfMissing,
	})
	if err != nil {
		return
	}
	defer func() {
		if cerr := sess.Close(ctx); cerr != nil {
			s.logger.Warn("close peer-advertised session failed")
		}
	}()

	core := sess.core
	if rerr := stream.Muxer.RegisterCore(dk, core); rerr != nil {
		s.logger.Warn("register peer-advertised core failed")
		return
	}
	if aerr := core.Replicator().AttachTo(stream.Muxer); aerr != nil {
		s.logger.Warn("attach peer-advertised core failed")
	}
}

// List returns the discovery keys Storage has ever persisted under
// namespace. A nil namespace defaults to s's own namespace (spec.md
// §4.6.7); order is not guaranteed.
func (s *Store) List(ctx context.Context, namespace *[32]byte) ([][32]byte, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	ns := namespace
	if ns == nil {
		nsVal := s.ns
		ns = &nsVal
	}
	return s.storage.CreateDiscoveryKeyStream(ctx, ns)
}

// Watch registers fn to be called whenever any store sharing this
// tree's registry interns a new core; the returned func unregisters
// it (spec.md §4.6.9, §8 "watch/unwatch").
func (s *Store) Watch(fn func(engine.Core)) (unwatch func()) {
	return s.registry.Watch(fn)
}

// FindingPeers increments the store-wide finding-peers counter; every
// session opened while it is non-zero acquires its own grace token
// (spec.md §4.6.10). The returned release is idempotent: only its
// first call decrements the counter.
func (s *Store) FindingPeers() (release func()) {
	root := s.rootStore()
	root.findingPeers.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { root.findingPeers.Add(-1) })
	}
}

// CreateKeyPair derives the Ed25519 key pair name would resolve to
// under namespace (or s's own namespace, if nil), without opening a
// core (spec.md §4.6.8).
func (s *Store) CreateKeyPair(ctx context.Context, name string, namespace *[32]byte) (keyderiver.KeyPair, error) {
	if err := s.Ready(ctx); err != nil {
		return keyderiver.KeyPair{}, err
	}
	ns := s.ns
	if namespace != nil {
		ns = *namespace
	}
	return keyderiver.CreateKeyPair(s.getPrimaryKey(), ns, []byte(name))
}

// AuditEntry is one yielded row of Store.Audit.
type AuditEntry struct {
	DiscoveryKey [32]byte
	Key          [32]byte
	Result       engine.AuditResult
	Err          error
}

// Audit iterates every core Storage has ever persisted, opening each
// with active:false, invoking the engine's audit, and closing it again
// (spec.md §4.7). A per-core error is reported in that entry's Err,
// never returned from Audit itself.
func (s *Store) Audit(ctx context.Context, opts engine.AuditOptions) ([]AuditEntry, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.storage.CreateCoreStream(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry := AuditEntry{DiscoveryKey: row.DiscoveryKey}
		core, cerr := s.engine.Create(ctx, s.storage, engine.CreateOptions{
			DiscoveryKey:    row.DiscoveryKey,
			Active:          false,
			CreateIfMissing: false,
		})
		if cerr != nil {
			entry.Err = cerr
			out = append(out, entry)
			continue
		}
		if rerr := core.Ready(ctx); rerr != nil {
			entry.Err = rerr
			out = append(out, entry)
			continue
		}
		entry.Key = core.Key()
		entry.Result, entry.Err = core.Audit(ctx, opts)
		_ = core.Close(ctx)
		out = append(out, entry)
	}
	return out, nil
}

// Suspend pauses the root storage's background I/O, logging through
// logCB if supplied (spec.md §4.6 "suspend(log_cb?)").
func (s *Store) Suspend(ctx context.Context, logCB func(string)) error {
	if logCB != nil {
		logCB("corestore: suspending storage")
	}
	return s.rootStore().storage.Suspend(ctx)
}

// Resume resumes background I/O paused by Suspend.
func (s *Store) Resume(ctx context.Context) error {
	return s.rootStore().storage.Resume(ctx)
}

// Close tears this Store down. On a child, only its own sessions are
// closed and it is deregistered from its root. On the root, every
// child is closed first, then every live stream is destroyed (unless
// external), every registry core is closed, and finally storage
// itself is closed. Calling Close more than once, or concurrently,
// returns the same result to every caller (spec.md §4.6.11).
func (s *Store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		s.mu.Unlock()

		s.closeErr = s.close(ctx)

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.closeDone)
	})
	<-s.closeDone
	return s.closeErr
}

func (s *Store) close(ctx context.Context) error {
	for _, h := range s.sessionTracker.All() {
		if sess, ok := h.(*Session); ok {
			_ = sess.Close(ctx)
		}
	}

	if s.root != nil {
		s.root.childrenMu.Lock()
		delete(s.root.children, s)
		s.root.childrenMu.Unlock()
		return nil
	}

	s.childrenMu.Lock()
	children := make([]*Store, 0, len(s.children))
	for c := range s.children {
		children = append(children, c)
	}
	s.childrenMu.Unlock()
	for _, c := range children {
		_ = c.Close(ctx)
	}

	s.exclusiveLocks.shutdown()
	s.streamTracker.Destroy(func(p streams.Peer) error {
		if st, ok := p.(*wire.Stream); ok {
			return st.Destroy()
		}
		return nil
	})

	if err := s.registry.Close(ctx); err != nil {
		return err
	}
	return s.storage.Close(ctx)
}
