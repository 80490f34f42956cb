// This file defines the byte transport a session runs over and its
// net.Conn implementation. Reads poll with a short deadline so a session
// can interleave reading with other work on the same goroutine.

package rtmp

import (
	"errors"
	"net"
	"os"
	"time"
)

// ErrWouldBlock is returned by Transport.Read when no bytes are available yet.
var ErrWouldBlock = errors.New("would block")

// Transport is a non-blocking byte stream.
type Transport interface {
	// Read returns at least one byte, ErrWouldBlock, or a fatal error.
	Read(p []byte) (int, error)
	// Write writes all of p or fails.
	Write(p []byte) error
	Close() error
	RemoteAddr() string
}

// ConnTransport adapts a net.Conn to Transport.
type ConnTransport struct {
	conn         net.Conn
	poll         time.Duration
	writeTimeout time.Duration
}

// NewConnTransport wraps conn. A read waits at most poll for data.
// A zero writeTimeout disables write deadlines.
func NewConnTransport(conn net.Conn, poll, writeTimeout time.Duration) *ConnTransport {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	return &ConnTransport{conn: conn, poll: poll, writeTimeout: writeTimeout}
}

func (t *ConnTransport) Read(p []byte) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.poll)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if n > 0 {
		return n, nil
	}
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, ErrWouldBlock
	}
	if err == nil {
		return 0, ErrWouldBlock
	}
	return 0, err
}

func (t *ConnTransport) Write(p []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := t.conn.Write(p)
	return err
}

func (t *ConnTransport) Close() error {
	return t.conn.Close()
}

func (t *ConnTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
