package corestore

import (
	"errors"

	"github.com/dreamware/corestore/internal/auth"
)

// Error kinds, spec.md §7. Wrap with fmt.Errorf("...: %w", ErrX) at
// the call site where more context is available.
var (
	// ErrInvalidInput is returned by Get for a name or manifest
	// combined with a caller-supplied secret key, and by
	// Session.Append on a session that is not writable.
	ErrInvalidInput = auth.ErrInvalidInput

	// ErrMissingIdentity is returned synchronously from Get
	// when none of {name, public key, manifest, key, discovery key,
	// preload} is supplied.
	ErrMissingIdentity = auth.ErrMissingIdentity

	// ErrStoreClosed is returned for any operation attempted on a
	// closing or closed Store.
	ErrStoreClosed = errors.New("corestore: store closed")

	// ErrConflictingSeed is returned by Ready when a caller-
	// supplied primary key disagrees with the one already persisted
	// in storage.
	ErrConflictingSeed = errors.New("corestore: persisted seed conflicts with supplied primary key")

	// ErrStoredKeyMismatch is returned when a named core's re-derived
	// public key does not match the key recorded on disk for it.
	ErrStoredKeyMismatch = errors.New("corestore: stored key does not match re-derived key")

	// ErrStorageEmpty is returned for a discovery-key-only (or
	// createIfMissing=false) open whose core is not on disk.
	ErrStorageEmpty = errors.New("corestore: core does not exist and createIfMissing is false")

	// ErrExclusiveWaitCancelled is returned to a session that was
	// waiting to acquire an exclusive write lock when its store closed.
	ErrExclusiveWaitCancelled = errors.New("corestore: exclusive lock wait cancelled by store close")
)
