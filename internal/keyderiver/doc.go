// Package keyderiver implements deterministic namespace and key-pair
// derivation for Corestore, turning a single 32-byte master seed into an
// unbounded tree of per-core Ed25519 identities.
//
// # Overview
//
// Every core a Store opens by name is identified by a signing key pair
// derived from three inputs: the store's primary key (the master seed),
// a 32-byte namespace, and the core's name. The derivation is pure and
// order-sensitive: the same three inputs always yield the same key
// pair, on any machine, with no network or disk access.
//
// # Derivation chain
//
//	namespace(parentNS, name) = BLAKE2b-256(parentNS || name)
//	seed(primaryKey, ns, name) = BLAKE2b-256-keyed(NS || ns || name; key=primaryKey)
//	(publicKey, secretKey) = Ed25519.NewKeyFromSeed(seed)
//
// NS is a fixed 32-byte domain tag derived once from the ASCII string
// "corestore", preventing seed collisions with any other application
// that happens to share the same master seed.
//
// # Thread Safety
//
// Every exported function here is pure and stateless; all are safe for
// unrestricted concurrent use.
package keyderiver
