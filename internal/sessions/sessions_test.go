package sessions_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/corestore/internal/sessions"
)

type handle uint64

func (h handle) ID() uint64 { return uint64(h) }

func TestAddRemoveCountLifecycle(t *testing.T) {
	tr := sessions.New()
	dk := [32]byte{1}

	require.Equal(t, 0, tr.Count(dk))
	tr.Add(dk, handle(1))
	tr.Add(dk, handle(2))
	require.Equal(t, 2, tr.Count(dk))

	nowEmpty := tr.Remove(dk, handle(1))
	require.False(t, nowEmpty)
	require.Equal(t, 1, tr.Count(dk))

	nowEmpty = tr.Remove(dk, handle(2))
	require.True(t, nowEmpty)
	require.Equal(t, 0, tr.Count(dk))
}

func TestAllSpansEveryCore(t *testing.T) {
	tr := sessions.New()
	tr.Add([32]byte{1}, handle(1))
	tr.Add([32]byte{2}, handle(2))
	tr.Add([32]byte{2}, handle(3))

	all := tr.All()
	require.Len(t, all, 3)
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	tr := sessions.New()
	require.True(t, tr.Remove([32]byte{9}, handle(1)))
}
