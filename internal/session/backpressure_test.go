package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagWindowCapacityAndDuplicate(t *testing.T) {
	w := NewTagWindow(2)
	require.Equal(t, Reserved, w.Reserve(1))
	require.Equal(t, Reserved, w.Reserve(2))
	require.Equal(t, WindowFull, w.Reserve(3))
	require.Equal(t, InUse, w.Reserve(1))

	w.Release(1)
	require.Equal(t, Reserved, w.Reserve(3))

	// double release is a no-op
	w.Release(1)
	w.Release(1)
	require.Equal(t, 2, w.Len())
}

func TestQueueDepthLimit(t *testing.T) {
	q := NewQueueDepth(4)
	for i := 0; i < 4; i++ {
		require.True(t, q.Reserve(1))
	}
	require.False(t, q.Reserve(1))
	q.Release(1)
	require.True(t, q.Reserve(1))
	require.Equal(t, 4, q.Current())
}
