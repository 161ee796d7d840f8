package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// TCPListener wraps a net.Listener, framing each batch with an outer
// 4-byte big-endian length prefix. TCP has no message boundaries of
// its own, unlike the in-process channel transport, so the batch
// envelope has to be reintroduced here rather than relying on the
// per-frame length prefixes inside the batch.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds addr and sets SO_REUSEADDR on the listening socket.
// TCP_NODELAY is set on each accepted or dialled connection instead:
// NineDoor batches are typically small and latency-sensitive rather than
// bulk transfers.
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		if err := tuneListener(tl); err != nil {
			_ = ln.Close()
			return nil, err
		}
	}
	return &TCPListener{ln: ln}, nil
}

func tuneListener(tl *net.TCPListener) error {
	sc, err := tl.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = sc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if tcpConn, ok := r.conn.(*net.TCPConn); ok {
			_ = tuneConn(tcpConn)
		}
		return &tcpBatchConn{conn: r.conn}, nil
	case <-ctx.Done():
		_ = l.ln.Close()
		return nil, ctx.Err()
	}
}

func tuneConn(c *net.TCPConn) error {
	sc, err := c.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = sc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func (l *TCPListener) Close() error { return l.ln.Close() }

// DialTCP connects to a NineDoor TCP listener, tuning TCP_NODELAY on
// the client side the same way the server tunes accepted connections.
func DialTCP(addr string) (Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tuneConn(tcpConn)
	}
	return &tcpBatchConn{conn: conn}, nil
}

const maxBatchEnvelope = 16 << 20

type tcpBatchConn struct {
	conn net.Conn
}

func (c *tcpBatchConn) ReadBatch(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxBatchEnvelope {
		return nil, fmt.Errorf("ninedoor: batch envelope too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *tcpBatchConn) WriteBatch(ctx context.Context, batch []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(batch)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.conn.Write(batch)
	return err
}

func (c *tcpBatchConn) Close() error { return c.conn.Close() }
