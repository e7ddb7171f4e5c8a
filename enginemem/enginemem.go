package enginemem

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"

	"github.com/dreamware/corestore/engine"
)

// discoveryKeyDomain is the domain string the engine hashes a core's
// key under to produce its discovery key (spec.md §3).
const discoveryKeyDomain = "hypercore"

// Engine is a reference in-memory engine.CoreEngine.
type Engine struct {
	mu    sync.Mutex
	cores map[[32]byte]*core
}

// New returns an empty in-memory engine. Cores created through it are
// held only in process memory; nothing is written to the supplied
// storage beyond what Corestore itself asks for via the Storage
// contract.
func New() *Engine {
	return &Engine{cores: make(map[[32]byte]*core)}
}

// Key derives the deterministic core key for a single-signer manifest:
// the BLAKE2b-256 hash of the manifest's version byte, keyed with the
// first signer's public key.
func (e *Engine) Key(manifest engine.Manifest) ([32]byte, error) {
	if len(manifest.Signers) == 0 {
		return [32]byte{}, fmt.Errorf("enginemem: manifest has no signers")
	}
	h, err := blake2b.New256(manifest.Signers[0].PublicKey)
	if err != nil {
		return [32]byte{}, err
	}
	h.Write([]byte{byte(manifest.Version)})
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// DiscoveryKey derives the network-visible discovery key for key.
func (e *Engine) DiscoveryKey(key [32]byte) [32]byte {
	h, err := blake2b.New256(key[:])
	if err != nil {
		panic(err)
	}
	h.Write([]byte(discoveryKeyDomain))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Create opens or creates the core identified by opts, creating a
// brand-new in-memory log the first time a given discovery key is
// seen by this Engine instance.
func (e *Engine) Create(ctx context.Context, st engine.Storage, opts engine.CreateOptions) (engine.Core, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.cores[opts.DiscoveryKey]; ok {
		return c, nil
	}

	if !opts.CreateIfMissing {
		exists, err := st.Has(ctx, opts.DiscoveryKey)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("enginemem: core %x does not exist and create_if_missing is false", opts.DiscoveryKey)
		}
	}

	var key [32]byte
	if opts.Key != nil {
		key = *opts.Key
	}
	var kp ed25519.PrivateKey
	if opts.KeyPair != nil {
		kp = *opts.KeyPair
	}

	c := &core{
		discoveryKey: opts.DiscoveryKey,
		key:          key,
		manifest:     opts.Manifest,
		keyPair:      kp,
		userData:     make(map[string][]byte, len(opts.UserData)),
		rep:          &replicator{},
	}
	for k, v := range opts.UserData {
		c.userData[k] = v
	}
	e.cores[opts.DiscoveryKey] = c
	return c, nil
}

// core is the reference in-memory engine.Core.
type core struct {
	mu       sync.RWMutex
	blocks   [][]byte
	userData map[string][]byte

	rep      *replicator
	onIdle   func()
	refs     atomic.Int64
	closed   atomic.Bool
	key      [32]byte
	manifest *engine.Manifest
	keyPair  ed25519.PrivateKey

	discoveryKey [32]byte
}

func (c *core) Ready(ctx context.Context) error { return nil }

func (c *core) Close(ctx context.Context) error {
	c.closed.Store(true)
	return nil
}

// Acquire and Release implement spec.md §4.3's session reference
// count: the moment Release brings the count to zero, OnIdle fires.
func (c *core) Acquire() { c.refs.Add(1) }

func (c *core) Release() {
	if c.refs.Add(-1) == 0 && c.onIdle != nil {
		c.onIdle()
	}
}

func (c *core) SetKeyPair(kp ed25519.PrivateKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyPair = kp
	return nil
}

func (c *core) Key() [32]byte            { return c.key }
func (c *core) DiscoveryKey() [32]byte    { return c.discoveryKey }
func (c *core) Manifest() *engine.Manifest { return c.manifest }
func (c *core) Writable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keyPair) > 0
}

func (c *core) Replicator() engine.Replicator { return c.rep }

func (c *core) OnIdle(fn func()) { c.onIdle = fn }

func (c *core) Length(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.blocks)), nil
}

// blockFetcher is implemented by package wire's Muxer. Get falls back
// to it when a requested block is not present locally, so that a core
// opened remotely (spec.md §8 scenarios #4, #5) can be read before any
// local append has happened.
type blockFetcher interface {
	RequestBlock(ctx context.Context, discoveryKey [32]byte, index uint64) ([]byte, error)
}

func (c *core) Get(ctx context.Context, index uint64) ([]byte, error) {
	c.mu.RLock()
	local := index < uint64(len(c.blocks))
	var out []byte
	if local {
		out = make([]byte, len(c.blocks[index]))
		copy(out, c.blocks[index])
	}
	c.mu.RUnlock()
	if local {
		return out, nil
	}

	for _, m := range c.rep.attachedMuxers() {
		if f, ok := m.(blockFetcher); ok {
			v, err := f.RequestBlock(ctx, c.discoveryKey, index)
			if err == nil {
				c.mu.Lock()
				for uint64(len(c.blocks)) <= index {
					c.blocks = append(c.blocks, nil)
				}
				c.blocks[index] = v
				c.mu.Unlock()
				return v, nil
			}
		}
	}
	return nil, fmt.Errorf("enginemem: block %d out of range and not fetchable from any attached peer", index)
}

func (c *core) Append(ctx context.Context, blocks ...[]byte) error {
	if !c.Writable() {
		return fmt.Errorf("enginemem: core is not writable")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range blocks {
		cp := make([]byte, len(b))
		copy(cp, b)
		c.blocks = append(c.blocks, cp)
	}
	return nil
}

func (c *core) GetUserData(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.userData[key]
	return v, ok, nil
}

func (c *core) SetUserData(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userData[key] = value
	return nil
}

func (c *core) Audit(ctx context.Context, opts engine.AuditOptions) (engine.AuditResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return engine.AuditResult{Blocks: len(c.blocks), TreeOK: true}, nil
}

// replicator is the reference in-memory engine.Replicator: tracks
// attached muxers by ID and always reports Downloading true, whatever
// CreateOptions.Active was. Store's attach-on-open skips a core opened
// by an inactive session, but Store.Replicate's initial burst attaches
// every open core.
type replicator struct {
	mu         sync.Mutex
	attached   map[string]engine.Muxer
	onDownload func(bool)
}

// Downloading always reports true: the reference engine has no notion
// of a core opted out of replication, so every core it creates is
// eligible for the initial-burst attach in Store.Replicate.
func (r *replicator) Downloading() bool { return true }

func (r *replicator) Attached(m engine.Muxer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached == nil {
		return false
	}
	_, ok := r.attached[m.ID()]
	return ok
}

func (r *replicator) AttachTo(m engine.Muxer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached == nil {
		r.attached = make(map[string]engine.Muxer)
	}
	r.attached[m.ID()] = m
	return nil
}

func (r *replicator) Detach(m engine.Muxer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attached, m.ID())
	return nil
}

func (r *replicator) attachedMuxers() []engine.Muxer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engine.Muxer, 0, len(r.attached))
	for _, m := range r.attached {
		out = append(out, m)
	}
	return out
}

func (r *replicator) OnDownloading(fn func(bool)) { r.onDownload = fn }
