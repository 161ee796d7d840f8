package transport

import (
	"context"
	"sync"
)

// InProcessListener pairs client-side Conns with server-side Conns over
// Go channels, with no socket and no outer length framing: each
// channel send already carries one complete batch. Used by cohsh-style
// embedded clients and by tests that want to drive a Server without a
// real socket.
type InProcessListener struct {
	incoming chan *inProcessConn
	closeMu  sync.Mutex
	closed   bool
}

// NewInProcessListener constructs a listener with no connections yet
// pending; callers create client ends with Dial. The accept backlog is
// buffered so a Dial does not block waiting for the serve loop to come
// around, matching a TCP listener's kernel-side backlog.
func NewInProcessListener() *InProcessListener {
	return &InProcessListener{incoming: make(chan *inProcessConn, 16)}
}

// Dial creates a connected client/server Conn pair and enqueues the
// server side for the next Accept call.
func (l *InProcessListener) Dial(ctx context.Context) (Conn, error) {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil, ErrClosed
	}
	l.closeMu.Unlock()

	toServer := make(chan []byte, 1)
	toClient := make(chan []byte, 1)
	closed := make(chan struct{})
	closeOnce := &sync.Once{}

	client := &inProcessConn{send: toServer, recv: toClient, closed: closed, closeOnce: closeOnce}
	server := &inProcessConn{send: toClient, recv: toServer, closed: closed, closeOnce: closeOnce}

	select {
	case l.incoming <- server:
		return client, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *InProcessListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn, ok := <-l.incoming:
		if !ok {
			return nil, ErrClosed
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *InProcessListener) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.incoming)
	return nil
}

type inProcessConn struct {
	send      chan []byte
	recv      chan []byte
	closed    chan struct{}
	closeOnce *sync.Once // shared by both ends, which share closed
}

func (c *inProcessConn) ReadBatch(ctx context.Context) ([]byte, error) {
	select {
	case batch, ok := <-c.recv:
		if !ok {
			return nil, ErrClosed
		}
		return batch, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *inProcessConn) WriteBatch(ctx context.Context, batch []byte) error {
	select {
	case c.send <- batch:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *inProcessConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
