package integration_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	corestore "github.com/dreamware/corestore"
	"github.com/dreamware/corestore/engine"
	"github.com/dreamware/corestore/enginemem"
	"github.com/dreamware/corestore/storage/fsstore"
)

func newStore(t *testing.T) *corestore.Store {
	t.Helper()
	st, err := fsstore.Open(filepath.Join(t.TempDir(), "root"))
	require.NoError(t, err)
	s := corestore.New(st, corestore.Options{Engine: enginemem.New()})
	require.NoError(t, s.Ready(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// TestReplicationAcrossStores exercises spec scenario #4: store A opens
// and writes to a named core then closes its session; store B connects
// via Replicate and reads the same block back through the wire.
func TestReplicationAcrossStores(t *testing.T) {
	ctx := context.Background()
	a := newStore(t)
	b := newStore(t)

	name := "foo"
	sessA, err := a.Get(ctx, corestore.SessionConfig{Name: &name})
	require.NoError(t, err)
	require.NoError(t, sessA.Append(ctx, []byte("hello")))
	key := sessA.Key()
	require.NoError(t, sessA.Close(ctx))

	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	streamA, err := a.Replicate(ctx, connA, corestore.ReplicateOptions{})
	require.NoError(t, err)
	defer streamA.Destroy()

	streamB, err := b.Replicate(ctx, connB, corestore.ReplicateOptions{})
	require.NoError(t, err)
	defer streamB.Destroy()

	sessB, err := b.Get(ctx, corestore.SessionConfig{Key: &key})
	require.NoError(t, err)
	defer sessB.Close(ctx)

	// The initial attach burst that registers A's core with the wire
	// runs in the background (see Store.Replicate), so the first few
	// block requests may race it; retry until it lands.
	var val []byte
	require.Eventually(t, func() bool {
		getCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		v, gerr := sessB.Get(getCtx, 0)
		if gerr != nil {
			return false
		}
		val = v
		return true
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, []byte("hello"), val)
}

// TestOnDemandOpenViaDiscoveryKey exercises spec scenario #5: store B has
// never opened a given core in this process, but store A advertises it
// over a live Replicate stream's "have" frame; B's on_discovery_key
// handler must open it through the normal Get/session machinery (not a
// direct registry interning) and make it readable, without ever being
// asked for it by name or key first.
func TestOnDemandOpenViaDiscoveryKey(t *testing.T) {
	ctx := context.Background()
	a := newStore(t)

	name := "bar"
	sessA, err := a.Get(ctx, corestore.SessionConfig{Name: &name})
	require.NoError(t, err)
	require.NoError(t, sessA.Append(ctx, []byte("scenario5")))
	key := sessA.Key()
	dk := sessA.DiscoveryKey()
	require.NoError(t, sessA.Close(ctx))

	// Seed B's storage as if a prior process on B had already created
	// this core, then close that throwaway store so the real B store
	// below can reopen the same directory.
	bDir := filepath.Join(t.TempDir(), "root")
	seedSt, err := fsstore.Open(bDir)
	require.NoError(t, err)
	seed := corestore.New(seedSt, corestore.Options{Engine: enginemem.New()})
	require.NoError(t, seed.Ready(ctx))
	seedSess, err := seed.Get(ctx, corestore.SessionConfig{Key: &key})
	require.NoError(t, err)
	require.NoError(t, seedSess.Close(ctx))
	require.NoError(t, seed.Close(ctx))

	bSt, err := fsstore.Open(bDir)
	require.NoError(t, err)
	b := corestore.New(bSt, corestore.Options{Engine: enginemem.New()})
	require.NoError(t, b.Ready(ctx))
	t.Cleanup(func() { _ = b.Close(ctx) })

	opened := make(chan [32]byte, 1)
	unwatch := b.Watch(func(c engine.Core) {
		select {
		case opened <- c.DiscoveryKey():
		default:
		}
	})
	defer unwatch()

	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	streamA, err := a.Replicate(ctx, connA, corestore.ReplicateOptions{})
	require.NoError(t, err)
	defer streamA.Destroy()

	streamB, err := b.Replicate(ctx, connB, corestore.ReplicateOptions{})
	require.NoError(t, err)
	defer streamB.Destroy()

	// B never calls Get for this key itself; only A's "have" frame,
	// carried by the initial attach burst, drives the on-demand open.
	select {
	case seen := <-opened:
		require.Equal(t, dk, seen)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for on-demand open via discovery key")
	}

	sessB, err := b.Get(ctx, corestore.SessionConfig{Key: &key})
	require.NoError(t, err)
	defer sessB.Close(ctx)

	var val []byte
	require.Eventually(t, func() bool {
		getCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		v, gerr := sessB.Get(getCtx, 0)
		if gerr != nil {
			return false
		}
		val = v
		return true
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, []byte("scenario5"), val)
}
