// This file manages one RTMP connection: handshake progress, the read and
// write chunk codecs, and the pump that turns transport bytes into messages.

package rtmp

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrNotReady      = errors.New("session handshake not complete")
)

// SessionState represents the current state of an RTMP session.
type SessionState int32

const (
	StateHandshaking SessionState = iota
	StateReady
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// PumpStatus is the outcome of one PumpRead call.
type PumpStatus int

const (
	// PumpPending means no complete message is available yet.
	PumpPending PumpStatus = iota
	// PumpReady means Header and Message are set.
	PumpReady
	// PumpError means the session is unusable; Err is set.
	PumpError
)

// PumpResult is returned by PumpRead.
type PumpResult struct {
	Status  PumpStatus
	Header  Header
	Message Message
	Err     error
}

const readScratchSize = 4096

// Session is one RTMP connection. PumpRead must be called from a single
// goroutine; SendMessage is safe for concurrent use.
type Session struct {
	transport Transport
	state     atomic.Int32
	handshake *Handshake

	reader  *ChunkReader
	inbuf   []byte
	scratch []byte

	writeMu sync.Mutex
	writer  *ChunkWriter
	wbuf    []byte

	peerWindowAck atomic.Uint32
	bytesIn       atomic.Uint64
	bytesOut      atomic.Uint64
	closeOnce     sync.Once
}

// NewSession creates a session in the handshaking state.
func NewSession(t Transport, role Role) *Session {
	return &Session{
		transport: t,
		handshake: NewHandshake(role),
		reader:    NewChunkReader(),
		writer:    NewChunkWriter(),
		scratch:   make([]byte, readScratchSize),
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// RemoteAddr returns the transport's peer address.
func (s *Session) RemoteAddr() string {
	return s.transport.RemoteAddr()
}

// BytesIn returns the number of bytes read from the transport.
func (s *Session) BytesIn() uint64 { return s.bytesIn.Load() }

// BytesOut returns the number of bytes written to the transport.
func (s *Session) BytesOut() uint64 { return s.bytesOut.Load() }

// PeerWindowAckSize returns the window acknowledgement size the peer announced.
func (s *Session) PeerWindowAckSize() uint32 { return s.peerWindowAck.Load() }

// ReadChunkSize returns the chunk size used to decode incoming chunks.
func (s *Session) ReadChunkSize() uint32 { return s.reader.ChunkSize() }

// WriteChunkSize returns the chunk size used for outgoing chunks.
func (s *Session) WriteChunkSize() uint32 {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writer.ChunkSize()
}

// PumpRead advances the handshake or decodes buffered chunks and returns
// at most one complete message. It never blocks beyond one transport poll.
func (s *Session) PumpRead() PumpResult {
	for {
		switch s.State() {
		case StateClosed:
			return PumpResult{Status: PumpError, Err: ErrSessionClosed}
		case StateHandshaking:
			progressed, err := s.stepHandshake()
			if err != nil {
				return s.fail(err)
			}
			if progressed {
				continue
			}
		case StateReady:
			res, err := s.reader.Decode(s.inbuf)
			if err != nil {
				return s.fail(err)
			}
			if res.Consumed > 0 {
				s.consume(res.Consumed)
			}
			switch res.Status {
			case MessageComplete:
				msg := DecodeMessage(res.Header.TypeID, res.Payload)
				s.applyControl(msg)
				return PumpResult{Status: PumpReady, Header: res.Header, Message: msg}
			case MessageFilling:
				continue
			}
		}

		n, err := s.transport.Read(s.scratch)
		if errors.Is(err, ErrWouldBlock) {
			return PumpResult{Status: PumpPending}
		}
		if err != nil {
			return s.fail(err)
		}
		s.bytesIn.Add(uint64(n))
		s.inbuf = append(s.inbuf, s.scratch[:n]...)
	}
}

// stepHandshake runs the handshake on buffered input. It reports whether
// any progress was made.
func (s *Session) stepHandshake() (bool, error) {
	consumed, out, err := s.handshake.Step(s.inbuf)
	if err != nil {
		return false, err
	}
	if len(out) > 0 {
		if err := s.write(out); err != nil {
			return false, err
		}
	}
	if consumed > 0 {
		s.consume(consumed)
	}
	if s.handshake.Done() {
		s.state.CompareAndSwap(int32(StateHandshaking), int32(StateReady))
		return true, nil
	}
	return consumed > 0 || len(out) > 0, nil
}

// applyControl handles messages that change codec state. A received chunk
// size only affects the read side.
func (s *Session) applyControl(msg Message) {
	switch m := msg.(type) {
	case SetChunkSize:
		// an invalid size leaves the current one in place
		_ = s.reader.SetChunkSize(m.Size)
	case Abort:
		s.reader.Abort(m.ChunkStreamID)
	case WindowAckSize:
		s.peerWindowAck.Store(m.Size)
	}
}

func (s *Session) consume(n int) {
	s.inbuf = append(s.inbuf[:0], s.inbuf[n:]...)
}

func (s *Session) fail(err error) PumpResult {
	s.Close()
	return PumpResult{Status: PumpError, Err: err}
}

// SendMessage encodes msg and writes all of its chunks before any other
// message. Sending SetChunkSize changes the write chunk size for the
// messages that follow it.
func (s *Session) SendMessage(csid, streamID, timestamp uint32, msg Message) error {
	if st := s.State(); st != StateReady {
		if st == StateClosed {
			return ErrSessionClosed
		}
		return ErrNotReady
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	h := Header{
		ChunkStreamID: csid,
		Timestamp:     timestamp,
		Length:        uint32(len(payload)),
		TypeID:        msg.TypeID(),
		StreamID:      streamID,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.wbuf, err = s.writer.Append(s.wbuf[:0], h, payload)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	if err := s.writeLocked(s.wbuf); err != nil {
		_ = s.Close()
		return err
	}
	if m, ok := msg.(SetChunkSize); ok {
		return s.writer.SetChunkSize(m.Size)
	}
	return nil
}

// SendControl sends a protocol control message on chunk stream 2, stream 0.
func (s *Session) SendControl(msg Message) error {
	return s.SendMessage(ChunkStreamControl, 0, 0, msg)
}

func (s *Session) write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(p)
}

func (s *Session) writeLocked(p []byte) error {
	if err := s.transport.Write(p); err != nil {
		return err
	}
	s.bytesOut.Add(uint64(len(p)))
	return nil
}

// Close closes the session and its transport. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		err = s.transport.Close()
	})
	return err
}
