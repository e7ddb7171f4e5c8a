package keyderiver

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Size is the byte length of every namespace, seed, discovery key and
// master seed value in Corestore.
const Size = 32

// NS is the fixed domain tag mixed into every seed derivation so that
// seeds derived here can never collide with another application
// sharing the same master seed. It is the unkeyed BLAKE2b-256 digest
// of the ASCII string "corestore", computed once at init time.
var NS = domainTag("corestore")

func domainTag(s string) [Size]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(fmt.Sprintf("keyderiver: blake2b init: %v", err))
	}
	h.Write([]byte(s))
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// KeyPair is an Ed25519 signing identity derived for a single core.
type KeyPair struct {
	PublicKey ed25519.PublicKey
	SecretKey ed25519.PrivateKey
}

// DeriveNamespace computes the child namespace for name under parentNS.
// Namespaces compose: hashing a name under an existing namespace yields
// a new 32-byte namespace which can itself be the parent of further
// names. name of zero length is legal.
func DeriveNamespace(parentNS [Size]byte, name []byte) ([Size]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return [Size]byte{}, fmt.Errorf("keyderiver: derive namespace: %w", err)
	}
	h.Write(parentNS[:])
	h.Write(name)
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// DeriveSeed computes the Ed25519 seed for (ns, name) under primaryKey.
// The hash is keyed with primaryKey so that two stores with different
// master seeds never derive the same key pair for identical (ns, name).
func DeriveSeed(primaryKey, ns [Size]byte, name []byte) ([Size]byte, error) {
	h, err := blake2b.New256(primaryKey[:])
	if err != nil {
		return [Size]byte{}, fmt.Errorf("keyderiver: derive seed: %w", err)
	}
	h.Write(NS[:])
	h.Write(ns[:])
	h.Write(name)
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// CreateKeyPair derives the Ed25519 key pair for (ns, name) under
// primaryKey: DeriveSeed followed by a seeded Ed25519 key generation.
func CreateKeyPair(primaryKey, ns [Size]byte, name []byte) (KeyPair, error) {
	seed, err := DeriveSeed(primaryKey, ns, name)
	if err != nil {
		return KeyPair{}, err
	}
	sk := ed25519.NewKeyFromSeed(seed[:])
	pk := sk.Public().(ed25519.PublicKey)
	return KeyPair{PublicKey: pk, SecretKey: sk}, nil
}

// CreateToken returns 32 bytes of cryptographically secure randomness,
// suitable as an opaque bootstrap or capability token.
func CreateToken() ([Size]byte, error) {
	var out [Size]byte
	if _, err := rand.Read(out[:]); err != nil {
		return out, fmt.Errorf("keyderiver: create token: %w", err)
	}
	return out, nil
}

// DefaultNamespace is the all-zero namespace every root Store starts
// from before any Namespace() calls.
var DefaultNamespace [Size]byte
