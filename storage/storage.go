// Package storage defines the persistent blob storage contract Corestore
// consumes: a seed slot, a per-discovery-key directory, and a name→
// discovery-key alias map. Corestore never serializes blocks itself;
// every implementation of this interface is an external collaborator
// (see SPEC_FULL.md §6, §12).
package storage

import (
	"context"
	"errors"
)

// KeySize is the byte length of every key, namespace and discovery key
// this contract exchanges with Corestore.
const KeySize = 32

// ErrNoSeed is returned by GetSeed when no primary key has ever been
// persisted in this storage root.
var ErrNoSeed = errors.New("storage: no seed persisted")

// ErrNotFound is returned by GetAlias and GetAuth when the requested
// entry does not exist.
var ErrNotFound = errors.New("storage: not found")

// Auth is the persisted identity for a core: enough to reopen it
// without recomputing key derivation.
type Auth struct {
	Key          [KeySize]byte
	DiscoveryKey [KeySize]byte
	Manifest     []byte // engine-encoded manifest, opaque to Corestore
}

// AliasKey identifies a core by the (name, namespace) pair it was
// created under.
type AliasKey struct {
	Name      string
	Namespace [KeySize]byte
}

// CoreStreamEntry is one row of Storage.CreateCoreStream: every core
// this storage root has ever persisted.
type CoreStreamEntry struct {
	DiscoveryKey [KeySize]byte
	Version      int
}

// Storage is the persistence contract a Store is constructed over. A
// convenience constructor (storage/fsstore) adapts a filesystem path
// into the default backend; any other implementation (in-memory, a
// database-backed one, etc.) may be supplied directly.
type Storage interface {
	// GetSeed returns the persisted 32-byte master seed, or ErrNoSeed
	// if this storage root has never had one written.
	GetSeed(ctx context.Context) ([KeySize]byte, error)

	// SetSeed persists seed as the master seed for this storage root.
	// Implementations must make this durable before returning.
	SetSeed(ctx context.Context, seed [KeySize]byte) error

	// Has reports whether a core with the given discovery key has
	// ever been created in this storage root.
	Has(ctx context.Context, discoveryKey [KeySize]byte) (bool, error)

	// GetAlias resolves a (name, namespace) pair to the discovery key
	// it was registered under, or ErrNotFound.
	GetAlias(ctx context.Context, key AliasKey) ([KeySize]byte, error)

	// SetAlias registers discoveryKey under (name, namespace). Called
	// once, when a core is first created by name.
	SetAlias(ctx context.Context, key AliasKey, discoveryKey [KeySize]byte) error

	// GetAuth returns the persisted Auth for discoveryKey, if any.
	GetAuth(ctx context.Context, discoveryKey [KeySize]byte) (Auth, error)

	// SetAuth persists the Auth for a newly created core.
	SetAuth(ctx context.Context, discoveryKey [KeySize]byte, auth Auth) error

	// GetUserData returns the named user-data blob for a core, or
	// ErrNotFound if it was never set.
	GetUserData(ctx context.Context, discoveryKey [KeySize]byte, key string) ([]byte, error)

	// SetUserData persists a named user-data blob for a core. Corestore
	// uses keys "corestore/name" and "corestore/namespace".
	SetUserData(ctx context.Context, discoveryKey [KeySize]byte, key string, value []byte) error

	// CreateCoreStream returns every core ever persisted in this
	// storage root, for Store.List and the audit adaptor. Order is
	// not guaranteed.
	CreateCoreStream(ctx context.Context) ([]CoreStreamEntry, error)

	// CreateDiscoveryKeyStream returns the discovery keys of every
	// core persisted under namespace (or every core, if namespace is
	// nil). Order is not guaranteed.
	CreateDiscoveryKeyStream(ctx context.Context, namespace *[KeySize]byte) ([][KeySize]byte, error)

	// Close releases any resources held by this storage root.
	Close(ctx context.Context) error

	// Flush durably persists any buffered writes.
	Flush(ctx context.Context) error

	// Suspend pauses background I/O (e.g. compaction); Resume
	// resumes it. Both are optional no-ops for simple backends.
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}
