// Package auth implements the Auth resolver: turning a get request
// (name | key | key_pair | manifest | discovery_key) into a complete
// {key_pair?, key, discovery_key, manifest?} tuple (spec.md §4.5).
package auth

import (
	"crypto/ed25519"
	"errors"

	"github.com/dreamware/corestore/engine"
	"github.com/dreamware/corestore/internal/keyderiver"
)

// ErrMissingIdentity is returned when a Request supplies none of
// {Name, KeyPair, Manifest, Key, DiscoveryKey}.
var ErrMissingIdentity = errors.New("auth: missing identity (name, key_pair, manifest, key or discovery_key required)")

// ErrInvalidInput is returned when a Request combines a caller-
// supplied secret key with a Name or Manifest, which spec.md §4.5
// forbids.
var ErrInvalidInput = errors.New("auth: name or manifest may not be combined with a caller-supplied key pair")

// Request is a get() call's identity-relevant options.
type Request struct {
	Name         *string
	KeyPair      ed25519.PrivateKey
	Manifest     *engine.Manifest
	Key          *[32]byte
	DiscoveryKey *[32]byte
}

// Resolved is the complete identity auth.Resolve produces.
type Resolved struct {
	KeyPair      ed25519.PrivateKey
	Key          [32]byte
	DiscoveryKey [32]byte
	Manifest     *engine.Manifest
	// RemoteOnly is true when the request supplied only a
	// DiscoveryKey: Key and Manifest are unknown, so the core can
	// only be read, never created from scratch.
	RemoteOnly bool
}

// Resolve implements the precedence chain of spec.md §4.5: name,
// then key_pair, then manifest, then key, then discovery_key alone.
func Resolve(eng engine.CoreEngine, primaryKey, ns [32]byte, manifestVersion int, req Request) (Resolved, error) {
	if len(req.KeyPair) > 0 && (req.Name != nil || req.Manifest != nil) {
		return Resolved{}, ErrInvalidInput
	}

	switch {
	case req.Name != nil:
		kp, err := keyderiver.CreateKeyPair(primaryKey, ns, []byte(*req.Name))
		if err != nil {
			return Resolved{}, err
		}
		return fromKeyPair(eng, manifestVersion, ed25519.PrivateKey(kp.SecretKey))

	case len(req.KeyPair) > 0:
		return fromKeyPair(eng, manifestVersion, req.KeyPair)

	case req.Manifest != nil:
		key, err := eng.Key(*req.Manifest)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Key: key, DiscoveryKey: eng.DiscoveryKey(key), Manifest: req.Manifest}, nil

	case req.Key != nil:
		return Resolved{Key: *req.Key, DiscoveryKey: eng.DiscoveryKey(*req.Key)}, nil

	case req.DiscoveryKey != nil:
		return Resolved{DiscoveryKey: *req.DiscoveryKey, RemoteOnly: true}, nil

	default:
		return Resolved{}, ErrMissingIdentity
	}
}

func fromKeyPair(eng engine.CoreEngine, manifestVersion int, kp ed25519.PrivateKey) (Resolved, error) {
	pub := kp.Public().(ed25519.PublicKey)
	manifest := &engine.Manifest{
		Version: manifestVersion,
		Signers: []engine.Signer{{PublicKey: pub}},
	}
	key, err := eng.Key(*manifest)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{
		KeyPair:      kp,
		Key:          key,
		DiscoveryKey: eng.DiscoveryKey(key),
		Manifest:     manifest,
	}, nil
}
