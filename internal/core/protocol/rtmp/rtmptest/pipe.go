// Package rtmptest provides in-memory transports and helpers for testing
// code built on rtmp sessions.
package rtmptest

import (
	"bytes"
	"io"
	"sync"

	"amsd/internal/core/protocol/amf0"
	"amsd/internal/core/protocol/rtmp"
)

type queue struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// End is one side of an in-memory pipe. Reads never block: an empty pipe
// reports rtmp.ErrWouldBlock.
type End struct {
	rx, tx *queue
	name   string
}

// NewPipe returns two connected transports.
func NewPipe() (*End, *End) {
	a, b := &queue{}, &queue{}
	return &End{rx: a, tx: b, name: "pipe-a"}, &End{rx: b, tx: a, name: "pipe-b"}
}

func (e *End) Read(p []byte) (int, error) {
	e.rx.mu.Lock()
	defer e.rx.mu.Unlock()
	if e.rx.buf.Len() > 0 {
		return e.rx.buf.Read(p)
	}
	if e.rx.closed {
		return 0, io.EOF
	}
	return 0, rtmp.ErrWouldBlock
}

func (e *End) Write(p []byte) error {
	e.tx.mu.Lock()
	defer e.tx.mu.Unlock()
	if e.tx.closed {
		return io.ErrClosedPipe
	}
	e.tx.buf.Write(p)
	return nil
}

// Close closes both directions.
func (e *End) Close() error {
	for _, q := range []*queue{e.rx, e.tx} {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
	}
	return nil
}

func (e *End) RemoteAddr() string {
	return e.name
}

// Received is one message read from a session.
type Received struct {
	Header  rtmp.Header
	Message rtmp.Message
}

// Drain pumps s until no complete message is buffered and returns what it read.
func Drain(s *rtmp.Session) ([]Received, error) {
	var out []Received
	for {
		res := s.PumpRead()
		switch res.Status {
		case rtmp.PumpReady:
			out = append(out, Received{Header: res.Header, Message: res.Message})
		case rtmp.PumpPending:
			return out, nil
		default:
			return out, res.Err
		}
	}
}

// Commands returns the commands among msgs.
func Commands(msgs []Received) []rtmp.Command {
	var out []rtmp.Command
	for _, m := range msgs {
		if c, ok := m.Message.(rtmp.Command); ok {
			out = append(out, c)
		}
	}
	return out
}

// StatusCodes returns the info codes of onStatus commands among msgs, in order.
func StatusCodes(msgs []Received) []string {
	var out []string
	for _, c := range Commands(msgs) {
		if c.Name != "onStatus" {
			continue
		}
		for _, a := range c.Args {
			if obj, ok := a.(amf0.Object); ok {
				if code, ok := obj["code"].(string); ok {
					out = append(out, code)
				}
			}
		}
	}
	return out
}
