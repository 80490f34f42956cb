// This file implements the RTMP handshake as a byte-driven state machine.
// Callers feed whatever bytes have arrived; the machine consumes only whole
// handshake packets and returns the bytes to send back.

package rtmp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidVersion  = errors.New("invalid RTMP version")
	ErrHandshakeFailed = errors.New("handshake failed")
)

// Role selects which side of the handshake a session plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

type handshakeStep int

const (
	stepStart handshakeStep = iota
	stepWaitC0C1
	stepWaitC2
	stepWaitS0S1S2
	stepDone
)

// Handshake tracks handshake progress for one connection.
type Handshake struct {
	role Role
	step handshakeStep
}

// NewHandshake creates a handshake for the given role.
func NewHandshake(role Role) *Handshake {
	h := &Handshake{role: role, step: stepWaitC0C1}
	if role == RoleClient {
		h.step = stepStart
	}
	return h
}

// Done reports whether the handshake has completed.
func (h *Handshake) Done() bool {
	return h.step == stepDone
}

// Step consumes buffered input and returns how much was consumed and the
// bytes to write. It consumes nothing until a whole packet is available.
func (h *Handshake) Step(in []byte) (int, []byte, error) {
	switch h.step {
	case stepStart:
		c0c1, err := newHandshakePacket()
		if err != nil {
			return 0, nil, err
		}
		h.step = stepWaitS0S1S2
		return 0, c0c1, nil
	case stepWaitC0C1:
		if len(in) < HandshakeC0C1Size {
			return 0, nil, nil
		}
		if in[0] != RTMPVersion {
			return 0, nil, fmt.Errorf("%w: %d", ErrInvalidVersion, in[0])
		}
		out, err := newHandshakePacket()
		if err != nil {
			return 0, nil, err
		}
		// S2 echoes C1
		out = append(out, in[1:HandshakeC0C1Size]...)
		binary.BigEndian.PutUint32(out[HandshakeS0S1Size+4:], uint32(time.Now().Unix()))
		h.step = stepWaitC2
		return HandshakeC0C1Size, out, nil
	case stepWaitC2:
		if len(in) < HandshakeC2Size {
			return 0, nil, nil
		}
		h.step = stepDone
		return HandshakeC2Size, nil, nil
	case stepWaitS0S1S2:
		return h.stepClient(in)
	}
	return 0, nil, nil
}

// newHandshakePacket builds S0+S1 (or C0+C1): version, time, zero, random.
func newHandshakePacket() ([]byte, error) {
	p := make([]byte, 0, HandshakeC0C1Size+handshakeBlock)
	p = append(p, RTMPVersion)
	block := make([]byte, handshakeBlock)
	binary.BigEndian.PutUint32(block[0:4], uint32(time.Now().Unix()))
	if _, err := rand.Read(block[8:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return append(p, block...), nil
}
