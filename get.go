package corestore

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamware/corestore/engine"
	"github.com/dreamware/corestore/internal/auth"
	"github.com/dreamware/corestore/internal/streams"
	"github.com/dreamware/corestore/storage"
)

// Get resolves opts to a core (opening or creating it as necessary)
// and returns a Session handle registered under that core's discovery
// key. See spec.md §4.6.3/§4.6.4 for the full option semantics.
func (s *Store) Get(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpenForUse(); err != nil {
		return nil, err
	}

	if cfg.Preload != nil {
		next, err := cfg.Preload(ctx)
		if err != nil {
			return nil, err
		}
		next.Preload = nil
		cfg = next
	}

	req := auth.Request{
		Name:         cfg.Name,
		KeyPair:      cfg.KeyPair,
		Manifest:     cfg.Manifest,
		Key:          cfg.Key,
		DiscoveryKey: cfg.DiscoveryKey,
	}
	resolved, err := auth.Resolve(s.engine, s.getPrimaryKey(), s.ns, s.manifestVersion, req)
	if err != nil {
		return nil, err
	}

	createIfMissing := boolOr(cfg.CreateIfMissing, true)
	if (!createIfMissing || resolved.RemoteOnly) && !s.registry.Opened(resolved.DiscoveryKey) {
		if s.registry.IsMissing(resolved.DiscoveryKey) {
			return nil, ErrStorageEmpty
		}
		has, herr := s.storage.Has(ctx, resolved.DiscoveryKey)
		if herr != nil {
			return nil, herr
		}
		if !has {
			return nil, ErrStorageEmpty
		}
	}

	core, err := s.registry.Intern(ctx, resolved.DiscoveryKey, s.openFactory(resolved, cfg, createIfMissing))
	if err != nil {
		return nil, err
	}
	// A new session cancels any pending idle-GC strikes on the core.
	s.registry.Resume(resolved.DiscoveryKey)

	writable := boolOr(cfg.Writable, s.writable)

	var release func()
	if cfg.Exclusive && writable {
		rel, lerr := s.rootStore().exclusiveLocks.acquire(ctx, resolved.DiscoveryKey)
		if lerr != nil {
			return nil, lerr
		}
		release = rel
	}

	core.Acquire()
	sess := &Session{
		store:            s,
		core:             core,
		discoveryKey:     resolved.DiscoveryKey,
		id:               s.rootStore().nextSessionID.Add(1),
		active:           boolOr(cfg.Active, true),
		writable:         writable,
		exclusive:        cfg.Exclusive,
		timeout:          cfg.Timeout,
		exclusiveRelease: release,
		closed:           make(chan struct{}),
	}
	if root := s.rootStore(); root.findingPeers.Load() > 0 {
		sess.findingPeersToken = true
		sess.findingPeersRelease = root.FindingPeers()
	}
	s.sessionTracker.Add(resolved.DiscoveryKey, sess)

	if s.metrics != nil {
		s.metrics.cores.Set(float64(s.registry.Size()))
	}
	return sess, nil
}

// openFactory builds the registry.Intern factory for one Get call: it
// validates the stored-key invariant, creates the core through the
// engine, persists the name alias and corestore/* user-data for named
// opens, and attaches the new core to every live stream that wants it.
func (s *Store) openFactory(resolved auth.Resolved, cfg SessionConfig, createIfMissing bool) func(context.Context) (engine.Core, error) {
	return func(ctx context.Context) (engine.Core, error) {
		zero := [32]byte{}
		if resolved.Key != zero {
			existing, aerr := s.storage.GetAuth(ctx, resolved.DiscoveryKey)
			switch {
			case aerr == nil:
				if existing.Key != resolved.Key {
					return nil, ErrStoredKeyMismatch
				}
			case aerr == storage.ErrNotFound:
				// first time this discovery key is seen: nothing to compare.
			default:
				return nil, aerr
			}
		}

		createOpts := engine.CreateOptions{
			DiscoveryKey:    resolved.DiscoveryKey,
			Manifest:        resolved.Manifest,
			CreateIfMissing: createIfMissing,
			Active:          boolOr(cfg.Active, true),
			Draft:           cfg.Draft,
			Encryption:      cfg.Encryption,
		}
		if resolved.Key != zero {
			k := resolved.Key
			createOpts.Key = &k
		}
		if len(resolved.KeyPair) > 0 {
			kp := resolved.KeyPair
			createOpts.KeyPair = &kp
		}
		if cfg.Name != nil {
			createOpts.UserData = map[string][]byte{
				"corestore/name":      []byte(*cfg.Name),
				"corestore/namespace": append([]byte(nil), s.ns[:]...),
			}
		}

		core, cerr := s.engine.Create(ctx, s.storage, createOpts)
		if cerr != nil {
			return nil, cerr
		}
		if rerr := core.Ready(ctx); rerr != nil {
			return nil, rerr
		}

		if cfg.Name != nil {
			aliasKey := storage.AliasKey{Name: *cfg.Name, Namespace: s.ns}
			if serr := s.storage.SetAlias(ctx, aliasKey, resolved.DiscoveryKey); serr != nil {
				s.logger.Warn("persist alias failed", zap.String("name", *cfg.Name), zap.Error(serr))
			}
			for k, v := range createOpts.UserData {
				if serr := s.storage.SetUserData(ctx, resolved.DiscoveryKey, k, v); serr != nil {
					s.logger.Warn("persist user data failed", zap.String("key", k), zap.Error(serr))
				}
			}
		}
		if resolved.Key != zero {
			if serr := s.storage.SetAuth(ctx, resolved.DiscoveryKey, storage.Auth{
				Key:          resolved.Key,
				DiscoveryKey: resolved.DiscoveryKey,
			}); serr != nil {
				s.logger.Warn("persist auth failed", zap.Error(serr))
			}
		}

		if !s.passive && boolOr(cfg.Active, true) && core.Replicator().Downloading() {
			if aerr := streams.AttachAll(s.streamTracker, core); aerr != nil {
				s.logger.Warn("attach newly opened core to live streams failed", zap.Error(aerr))
			}
		}
		return core, nil
	}
}
