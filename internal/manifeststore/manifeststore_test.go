package manifeststore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_PutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get("worker-1")
	require.NoError(t, err)
	require.False(t, ok)

	c := Cursor{WorkerID: "worker-1", ReadOffset: 128, ObservedAt: time.Unix(1700000000, 0)}
	require.NoError(t, s.Put(c))

	got, ok, err := s.Get("worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c.ReadOffset, got.ReadOffset)

	require.NoError(t, s.Delete("worker-1"))
	_, ok, err = s.Get("worker-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_All(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(Cursor{WorkerID: "worker-1", ReadOffset: 10}))
	require.NoError(t, s.Put(Cursor{WorkerID: "worker-2", ReadOffset: 20}))

	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(Cursor{WorkerID: "worker-1", ReadOffset: 42}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.Get("worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), got.ReadOffset)
}
