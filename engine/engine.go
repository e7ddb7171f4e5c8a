// Package engine defines the CoreEngine contract: the append-log,
// Merkle tree, block I/O and audit subsystem that Corestore routes
// requests to but never implements itself (SPEC_FULL.md §1, §6, §12).
// A reference in-memory implementation lives in package enginemem.
package engine

import (
	"context"
	"crypto/ed25519"
	"errors"
)

// KeySize is the byte length of every key and discovery key exchanged
// across this contract.
const KeySize = 32

// ErrClosed is returned by Core methods called after Close.
var ErrClosed = errors.New("engine: core closed")

// ErrKeyMismatch is returned by Create when a caller-supplied key pair
// does not match a manifest's recorded signer.
var ErrKeyMismatch = errors.New("engine: key pair does not match manifest")

// Signer is one signing identity authorized to append to a core.
type Signer struct {
	PublicKey ed25519.PublicKey
}

// Manifest describes a core's authorization. The engine derives a
// core's Key and DiscoveryKey deterministically from a Manifest.
type Manifest struct {
	Version int
	Signers []Signer
}

// CreateOptions configures a single call to CoreEngine.Create. The
// auth resolver's result decides which identity fields are set: Key,
// KeyPair and Manifest for a name or key-pair open, Key and Manifest
// for a manifest open, Key alone for a key open; DiscoveryKey alone is
// legal for a remote-only, read-only open.
type CreateOptions struct {
	DiscoveryKey    [KeySize]byte
	Key             *[KeySize]byte
	KeyPair         *ed25519.PrivateKey
	Manifest        *Manifest
	Overwrite       bool
	Force           bool
	CreateIfMissing bool
	Active          bool
	Draft           bool
	Encryption      []byte
	UserData        map[string][]byte
}

// AuditOptions configures CoreEngine.Audit / Core.Audit.
type AuditOptions struct {
	DryRun bool
}

// AuditResult summarizes what an audit pass found (and, unless DryRun,
// repaired) in one core.
type AuditResult struct {
	Blocks   int
	TreeOK   bool
	Repaired int
}

// Muxer is the multiplexing object attached to one peer stream. Cores
// are attached to a Muxer to participate in that peer's replication
// traffic. Corestore treats Muxer as an opaque token; package wire
// provides a concrete implementation.
type Muxer interface {
	// ID uniquely identifies this muxer for attached-to checks and
	// log correlation.
	ID() string
}

// Replicator is the per-core replication session. A core whose
// Downloading is true is attached to every live, non-passive stream
// (SPEC_FULL.md §3 invariants); attachment elsewhere is always
// explicit (on-demand open via on_discovery_key).
type Replicator interface {
	// Downloading reports whether this core wants to be attached to
	// every live stream automatically.
	Downloading() bool

	// Attached reports whether m is already attached to this core.
	Attached(m Muxer) bool

	// AttachTo installs a replicator session connecting this core to
	// m. Idempotent: attaching an already-attached muxer is a no-op.
	AttachTo(m Muxer) error

	// Detach removes the replicator session for m, if any.
	Detach(m Muxer) error

	// OnDownloading registers a callback invoked whenever Downloading
	// transitions. Only the most recently registered callback is kept.
	OnDownloading(fn func(bool))
}

// Core is a single append-only authenticated log. Corestore holds a
// handle to a Core per discovery key; see SPEC_FULL.md §3.
type Core interface {
	Ready(ctx context.Context) error
	Close(ctx context.Context) error

	// SetKeyPair installs the writable signing identity for this
	// core; a core opened read-only (e.g. by discovery key) has none.
	SetKeyPair(kp ed25519.PrivateKey) error

	Key() [KeySize]byte
	DiscoveryKey() [KeySize]byte
	Manifest() *Manifest
	Writable() bool

	Replicator() Replicator

	// OnIdle registers the callback the registry uses to learn when
	// this core's last session has closed. Only the most recently
	// registered callback is kept.
	OnIdle(fn func())

	// Acquire and Release implement the session reference count
	// described in spec.md §4.3: Corestore calls Acquire when a
	// session opens and Release when one closes. A Core fires its
	// OnIdle callback the moment Release brings the count to zero.
	Acquire()
	Release()

	Length(ctx context.Context) (uint64, error)
	Get(ctx context.Context, index uint64) ([]byte, error)
	Append(ctx context.Context, blocks ...[]byte) error

	GetUserData(ctx context.Context, key string) ([]byte, bool, error)
	SetUserData(ctx context.Context, key string, value []byte) error

	Audit(ctx context.Context, opts AuditOptions) (AuditResult, error)
}

// CoreEngine is the factory Corestore creates and re-creates cores
// through. See SPEC_FULL.md §6 and §12 (enginemem) for a reference
// implementation.
type CoreEngine interface {
	// Create opens or creates the core identified by opts on st,
	// returning a Core ready for Ready() to be awaited.
	Create(ctx context.Context, st Storage, opts CreateOptions) (Core, error)

	// Key derives the deterministic core key for manifest.
	Key(manifest Manifest) ([KeySize]byte, error)

	// DiscoveryKey derives the network-visible discovery key for key.
	DiscoveryKey(key [KeySize]byte) [KeySize]byte
}

// Storage is the subset of the storage contract (package
// github.com/dreamware/corestore/storage) that CoreEngine.Create
// needs; declared here, rather than importing the storage package
// directly, to keep this contract free of a dependency on any one
// concrete persistence layer.
type Storage interface {
	Has(ctx context.Context, discoveryKey [KeySize]byte) (bool, error)
}
