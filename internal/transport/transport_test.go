package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type echoDispatcher struct {
	nextID uint64
}

func (d *echoDispatcher) NewSession() uint64 {
	d.nextID++
	return d.nextID
}
func (d *echoDispatcher) CloseSession(uint64) {}
func (d *echoDispatcher) Dispatch(sessionID uint64, batch []byte) ([]byte, error) {
	out := make([]byte, len(batch))
	copy(out, batch)
	return out, nil
}

func TestInProcessTransport_RoundTrip(t *testing.T) {
	ln := NewInProcessListener()
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		_ = Serve(ctx, ln, &echoDispatcher{})
	}()

	client, err := ln.Dial(ctx)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteBatch(ctx, []byte("hello")))
	out, err := client.ReadBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), out)
}

func TestInProcessTransport_CloseUnblocksReader(t *testing.T) {
	ln := NewInProcessListener()
	ctx := context.Background()

	client, err := ln.Dial(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := client.ReadBatch(ctx)
		done <- err
	}()

	require.NoError(t, client.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("ReadBatch did not unblock after Close")
	}
}
