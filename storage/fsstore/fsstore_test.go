package fsstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/corestore/storage"
	"github.com/dreamware/corestore/storage/fsstore"
)

func open(t *testing.T) *fsstore.Store {
	t.Helper()
	st, err := fsstore.Open(filepath.Join(t.TempDir(), "root"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st
}

func TestSeedRoundtrip(t *testing.T) {
	ctx := context.Background()
	st := open(t)

	_, err := st.GetSeed(ctx)
	require.ErrorIs(t, err, storage.ErrNoSeed)

	var seed [32]byte
	seed[0] = 0xAB
	require.NoError(t, st.SetSeed(ctx, seed))

	got, err := st.GetSeed(ctx)
	require.NoError(t, err)
	require.Equal(t, seed, got)
}

func TestSecondOpenIsLocked(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "root")
	st, err := fsstore.Open(dir)
	require.NoError(t, err)
	defer st.Close(context.Background())

	_, err = fsstore.Open(dir)
	require.Error(t, err)
}

func TestAuthAndUserDataRoundtrip(t *testing.T) {
	ctx := context.Background()
	st := open(t)

	var dk [32]byte
	dk[0] = 1

	has, err := st.Has(ctx, dk)
	require.NoError(t, err)
	require.False(t, has)

	_, err = st.GetAuth(ctx, dk)
	require.ErrorIs(t, err, storage.ErrNotFound)

	var key [32]byte
	key[1] = 2
	require.NoError(t, st.SetAuth(ctx, dk, storage.Auth{Key: key, DiscoveryKey: dk, Manifest: []byte("m")}))

	has, err = st.Has(ctx, dk)
	require.NoError(t, err)
	require.True(t, has)

	auth, err := st.GetAuth(ctx, dk)
	require.NoError(t, err)
	require.Equal(t, key, auth.Key)
	require.Equal(t, []byte("m"), auth.Manifest)

	require.NoError(t, st.SetUserData(ctx, dk, "corestore/name", []byte("foo")))
	val, err := st.GetUserData(ctx, dk, "corestore/name")
	require.NoError(t, err)
	require.Equal(t, []byte("foo"), val)

	_, err = st.GetUserData(ctx, dk, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAliasRoundtrip(t *testing.T) {
	ctx := context.Background()
	st := open(t)

	key := storage.AliasKey{Name: "main", Namespace: [32]byte{9}}
	_, err := st.GetAlias(ctx, key)
	require.ErrorIs(t, err, storage.ErrNotFound)

	var dk [32]byte
	dk[3] = 7
	require.NoError(t, st.SetAlias(ctx, key, dk))

	got, err := st.GetAlias(ctx, key)
	require.NoError(t, err)
	require.Equal(t, dk, got)
}

func TestCoreStreamsByNamespace(t *testing.T) {
	ctx := context.Background()
	st := open(t)

	ns1 := [32]byte{1}
	ns2 := [32]byte{2}

	var dkA, dkB [32]byte
	dkA[0], dkB[0] = 0xAA, 0xBB
	require.NoError(t, st.SetUserData(ctx, dkA, "corestore/namespace", ns1[:]))
	require.NoError(t, st.SetUserData(ctx, dkB, "corestore/namespace", ns2[:]))

	all, err := st.CreateCoreStream(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	inNS1, err := st.CreateDiscoveryKeyStream(ctx, &ns1)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{dkA}, inNS1)

	everything, err := st.CreateDiscoveryKeyStream(ctx, nil)
	require.NoError(t, err)
	require.Len(t, everything, 2)
}
