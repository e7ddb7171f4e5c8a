package corestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	corestore "github.com/dreamware/corestore"
	"github.com/dreamware/corestore/enginemem"
	"github.com/dreamware/corestore/storage/fsstore"
)

func newTestStore(t *testing.T) *corestore.Store {
	t.Helper()
	st, err := fsstore.Open(filepath.Join(t.TempDir(), "root"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	s := corestore.New(st, corestore.Options{Engine: enginemem.New()})
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestGetByNameCreatesAndReopensSameCore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Ready(ctx))

	name := "main"
	sess1, err := s.Get(ctx, corestore.SessionConfig{Name: &name})
	require.NoError(t, err)
	defer sess1.Close(ctx)

	sess2, err := s.Get(ctx, corestore.SessionConfig{Name: &name})
	require.NoError(t, err)
	defer sess2.Close(ctx)

	require.Equal(t, sess1.Key(), sess2.Key())
	require.Equal(t, sess1.DiscoveryKey(), sess2.DiscoveryKey())
}

func TestPrimaryKeyPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "root")

	st1, err := fsstore.Open(dir)
	require.NoError(t, err)
	s1 := corestore.New(st1, corestore.Options{Engine: enginemem.New()})
	require.NoError(t, s1.Ready(ctx))
	name := "main"
	sess, err := s1.Get(ctx, corestore.SessionConfig{Name: &name})
	require.NoError(t, err)
	key := sess.Key()
	require.NoError(t, sess.Close(ctx))
	require.NoError(t, s1.Close(ctx))

	st2, err := fsstore.Open(dir)
	require.NoError(t, err)
	s2 := corestore.New(st2, corestore.Options{Engine: enginemem.New()})
	require.NoError(t, s2.Ready(ctx))
	defer s2.Close(ctx)

	sess2, err := s2.Get(ctx, corestore.SessionConfig{Name: &name})
	require.NoError(t, err)
	defer sess2.Close(ctx)
	require.Equal(t, key, sess2.Key())
}

func TestNamespaceSeparation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Ready(ctx))

	ns1, err := s.Namespace(ctx, "ns1")
	require.NoError(t, err)
	ns2, err := s.Namespace(ctx, "ns2")
	require.NoError(t, err)
	ns3, err := s.Namespace(ctx, "ns1")
	require.NoError(t, err)

	name := "main"
	sess1, err := ns1.Get(ctx, corestore.SessionConfig{Name: &name})
	require.NoError(t, err)
	defer sess1.Close(ctx)
	sess2, err := ns2.Get(ctx, corestore.SessionConfig{Name: &name})
	require.NoError(t, err)
	defer sess2.Close(ctx)
	sess3, err := ns3.Get(ctx, corestore.SessionConfig{Name: &name})
	require.NoError(t, err)
	defer sess3.Close(ctx)

	require.NotEqual(t, sess1.Key(), sess2.Key())
	require.Equal(t, sess1.Key(), sess3.Key())
}

func TestGetDiscoveryKeyOnlyFailsWithoutCreateIfMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Ready(ctx))

	var dk [32]byte
	dk[0] = 0x42
	createIfMissing := false
	_, err := s.Get(ctx, corestore.SessionConfig{DiscoveryKey: &dk, CreateIfMissing: &createIfMissing})
	require.ErrorIs(t, err, corestore.ErrStorageEmpty)
}

func TestCloseRejectsFurtherGet(t *testing.T) {
	ctx := context.Background()
	st, err := fsstore.Open(filepath.Join(t.TempDir(), "root"))
	require.NoError(t, err)
	s := corestore.New(st, corestore.Options{Engine: enginemem.New()})
	require.NoError(t, s.Ready(ctx))
	require.NoError(t, s.Close(ctx))

	name := "main"
	_, err = s.Get(ctx, corestore.SessionConfig{Name: &name})
	require.ErrorIs(t, err, corestore.ErrStoreClosed)
}

func TestExclusiveSessionBlocksSecondWritableOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Ready(ctx))

	name := "main"
	sess1, err := s.Get(ctx, corestore.SessionConfig{Name: &name, Exclusive: true})
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = s.Get(ctxTimeout, corestore.SessionConfig{Name: &name, Exclusive: true})
	require.Error(t, err)

	require.NoError(t, sess1.Close(ctx))
}
