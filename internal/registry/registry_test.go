package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/corestore/engine"
	"github.com/dreamware/corestore/internal/registry"
)

type fakeCore struct {
	engine.Core
	dk       [32]byte
	onIdle   func()
	closed   atomic.Bool
	closeErr error
}

func (c *fakeCore) DiscoveryKey() [32]byte { return c.dk }
func (c *fakeCore) OnIdle(fn func())       { c.onIdle = fn }
func (c *fakeCore) Close(ctx context.Context) error {
	c.closed.Store(true)
	return c.closeErr
}

func TestInternDeduplicatesConcurrentCallers(t *testing.T) {
	r := registry.New(zap.NewNop())
	id := [32]byte{1}

	var calls atomic.Int32
	factory := func(ctx context.Context) (engine.Core, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &fakeCore{dk: id}, nil
	}

	var wg sync.WaitGroup
	results := make([]engine.Core, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Intern(context.Background(), id, factory)
			require.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, c := range results {
		require.Same(t, results[0], c)
	}
}

func TestInternFailurePopulatesMissingCache(t *testing.T) {
	r := registry.New(zap.NewNop())
	id := [32]byte{2}
	wantErr := errors.New("boom")

	_, err := r.Intern(context.Background(), id, func(ctx context.Context) (engine.Core, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.True(t, r.IsMissing(id))
	require.False(t, r.Opened(id))
}

func TestWatchFiresInLIFOOrder(t *testing.T) {
	r := registry.New(zap.NewNop())
	var order []int

	unwatch1 := r.Watch(func(engine.Core) { order = append(order, 1) })
	defer unwatch1()
	unwatch2 := r.Watch(func(engine.Core) { order = append(order, 2) })
	defer unwatch2()

	_, err := r.Intern(context.Background(), [32]byte{3}, func(ctx context.Context) (engine.Core, error) {
		return &fakeCore{dk: [32]byte{3}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{2, 1}, order)
}

func TestCloseClosesEveryOpenedCore(t *testing.T) {
	r := registry.New(zap.NewNop())
	c := &fakeCore{dk: [32]byte{4}}
	_, err := r.Intern(context.Background(), c.dk, func(ctx context.Context) (engine.Core, error) { return c, nil })
	require.NoError(t, err)

	require.NoError(t, r.Close(context.Background()))
	require.True(t, c.closed.Load())
	require.False(t, r.Opened(c.dk))

	_, err = r.Intern(context.Background(), c.dk, func(ctx context.Context) (engine.Core, error) {
		t.Fatal("factory should not run once closed")
		return nil, nil
	})
	require.Error(t, err)
}
