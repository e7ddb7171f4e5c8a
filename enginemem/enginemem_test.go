package enginemem_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/corestore/engine"
	"github.com/dreamware/corestore/enginemem"
)

type fakeStorage struct{ has bool }

func (f fakeStorage) Has(ctx context.Context, discoveryKey [32]byte) (bool, error) { return f.has, nil }

func TestKeyDerivationDeterministic(t *testing.T) {
	e := enginemem.New()
	manifest := engine.Manifest{Version: 1, Signers: []engine.Signer{{PublicKey: make([]byte, 32)}}}
	k1, err := e.Key(manifest)
	require.NoError(t, err)
	k2, err := e.Key(manifest)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	dk1 := e.DiscoveryKey(k1)
	dk2 := e.DiscoveryKey(k1)
	require.Equal(t, dk1, dk2)
	require.NotEqual(t, k1, dk1)
}

func TestCreateIfMissingFalseRejectsAbsentCore(t *testing.T) {
	e := enginemem.New()
	ctx := context.Background()
	var dk [32]byte
	dk[0] = 1

	_, err := e.Create(ctx, fakeStorage{has: false}, engine.CreateOptions{DiscoveryKey: dk, CreateIfMissing: false})
	require.Error(t, err)

	core, err := e.Create(ctx, fakeStorage{has: true}, engine.CreateOptions{DiscoveryKey: dk, CreateIfMissing: false})
	require.NoError(t, err)
	require.Equal(t, dk, core.DiscoveryKey())
}

func TestAcquireReleaseFiresOnIdleAtZero(t *testing.T) {
	e := enginemem.New()
	ctx := context.Background()
	core, err := e.Create(ctx, fakeStorage{has: true}, engine.CreateOptions{DiscoveryKey: [32]byte{2}, CreateIfMissing: true})
	require.NoError(t, err)

	fired := 0
	core.OnIdle(func() { fired++ })

	core.Acquire()
	core.Acquire()
	core.Release()
	require.Equal(t, 0, fired)
	core.Release()
	require.Equal(t, 1, fired)
}

func TestAppendAndGetRoundtrip(t *testing.T) {
	e := enginemem.New()
	ctx := context.Background()
	_, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	core, err := e.Create(ctx, fakeStorage{has: true}, engine.CreateOptions{
		DiscoveryKey: [32]byte{3},
		KeyPair:      &sk,
	})
	require.NoError(t, err)
	require.True(t, core.Writable())

	require.NoError(t, core.Append(ctx, []byte("hello"), []byte("world")))
	length, err := core.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), length)

	v, err := core.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v)

	_, err = core.Get(ctx, 5)
	require.Error(t, err)
}
