// Package transport carries framed batches between a client and the
// dispatcher, independent of the wire underneath: one small interface
// pair (Conn, Listener) with an in-process implementation used by tests
// and the in-tree harness, and a TCP implementation selected at
// construction.
package transport

import (
	"context"
	"errors"
	"io"
)

// ErrClosed is returned by Conn/Listener methods once Close has been
// called, mirroring net.ErrClosed for callers that switch on it.
var ErrClosed = errors.New("ninedoor: transport closed")

// Conn is one session's framed batch channel. ReadBatch blocks until a
// full batch (the concatenated, already length-prefixed frames the
// dispatcher expects) is available; WriteBatch sends one back. Both
// return ErrClosed after Close.
type Conn interface {
	ReadBatch(ctx context.Context) ([]byte, error)
	WriteBatch(ctx context.Context, batch []byte) error
	Close() error
}

// Listener accepts new Conns, one per incoming session.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

// Dispatcher is the capability Serve needs from the dispatcher package,
// kept local to avoid this package importing internal/dispatcher: a
// transport has no business depending on dispatch semantics, only on
// the batch-in/batch-out shape of a session.
type Dispatcher interface {
	NewSession() uint64
	CloseSession(id uint64)
	Dispatch(sessionID uint64, batch []byte) ([]byte, error)
}

// Serve accepts connections from l until ctx is cancelled or Accept
// returns a non-transient error, running each connection's batch loop
// on its own goroutine. This is the one place session lifetime
// (NewSession/CloseSession) is tied to connection lifetime; the
// dispatcher itself is transport-agnostic.
func Serve(ctx context.Context, l Listener, d Dispatcher) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		go serveConn(ctx, conn, d)
	}
}

func serveConn(ctx context.Context, conn Conn, d Dispatcher) {
	defer conn.Close()
	sessionID := d.NewSession()
	defer d.CloseSession(sessionID)

	for {
		batch, err := conn.ReadBatch(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
				return
			}
			return
		}
		out, err := d.Dispatch(sessionID, batch)
		if err != nil {
			return
		}
		if err := conn.WriteBatch(ctx, out); err != nil {
			return
		}
	}
}
