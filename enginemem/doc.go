// Package enginemem is a reference, in-memory implementation of the
// engine.CoreEngine contract, used by this repository's own tests to
// exercise the Corestore surface end-to-end (SPEC_FULL.md §12). It is
// not a production append-log: blocks are held in a plain [][]byte
// slice guarded by a mutex, with no on-disk format, Merkle tree, or
// audit repair beyond a trivial length check.
//
// # Key derivation
//
// A manifest's Key is the BLAKE2b-256 hash of the manifest's version
// byte, keyed with its first signer's public key (any further signers
// are ignored, matching Corestore's default single-signer manifest
// shape); DiscoveryKey is the BLAKE2b-256 hash of the domain string
// "hypercore", keyed with Key, mirroring the upstream hypercore
// convention referenced in spec.md §3.
//
// # Errors
//
// Core methods do not check whether Close has been called and never
// return engine.ErrClosed; Create does not compare a key pair against
// the manifest and never returns engine.ErrKeyMismatch.
//
// # Concurrency
//
// An RWMutex guards the block log directly rather than through a
// separate lock-free path; the idle callback fires synchronously
// from the Release call that brings the reference count to zero.
// Close only marks the core closed.
package enginemem
