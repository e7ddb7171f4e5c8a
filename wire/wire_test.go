package wire_test

import (
	"context"
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/corestore/engine"
	"github.com/dreamware/corestore/enginemem"
	"github.com/dreamware/corestore/wire"
)

func TestRequestBlockFetchesFromPeer(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	eng := enginemem.New()
	ctx := context.Background()
	_, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	core, err := eng.Create(ctx, fakeStorage{}, engine.CreateOptions{DiscoveryKey: [32]byte{1}, KeyPair: &sk, CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, core.Append(ctx, []byte("hello")))

	var seenHave [32]byte
	haveCh := make(chan struct{}, 1)
	streamA := wire.NewStream(connA, func(dk [32]byte) {})
	streamB := wire.NewStream(connB, func(dk [32]byte) {
		seenHave = dk
		haveCh <- struct{}{}
	})
	defer streamA.Destroy()
	defer streamB.Destroy()

	require.NoError(t, streamA.Muxer.RegisterCore(core.DiscoveryKey(), core))

	select {
	case <-haveCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for have frame")
	}
	require.Equal(t, core.DiscoveryKey(), seenHave)

	val, err := streamB.Muxer.RequestBlock(ctx, core.DiscoveryKey(), 0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), val)
}

type fakeStorage struct{}

func (fakeStorage) Has(ctx context.Context, discoveryKey [32]byte) (bool, error) { return true, nil }
